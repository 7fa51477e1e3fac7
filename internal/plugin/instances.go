package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/goatkit/chimesgate/internal/invoker"
)

// Instances indexes live plugin adapters by "protocol://namespace/name" and
// satisfies invoker.PluginInvoker, the contract SchemaRegistry dispatches
// any non-object/non-query invocation URI through.
type Instances struct {
	mu    sync.RWMutex
	byKey map[string]Plugin
}

// NewInstances returns an empty plugin-instance index.
func NewInstances() *Instances {
	return &Instances{byKey: make(map[string]Plugin)}
}

func instanceKey(protocol, namespace, name string) string {
	return protocol + "://" + namespace + "/" + name
}

// Add registers a live plugin instance under its protocol/namespace/name.
// The server bootstrap calls it once for every enabled plugin definition
// loaded at startup; a namespace added to the namespace registry later does
// not get its plugins installed here.
func (r *Instances) Add(protocol, namespace, name string, p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[instanceKey(protocol, namespace, name)] = p
}

// Remove drops a plugin instance, called when its definition is deleted.
func (r *Instances) Remove(protocol, namespace, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, instanceKey(protocol, namespace, name))
}

func (r *Instances) get(protocol, namespace, name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byKey[instanceKey(protocol, namespace, name)]
	if !ok {
		return nil, fmt.Errorf("%w: no %s plugin instance %q in namespace %q", invoker.ErrNotFound, protocol, name, namespace)
	}
	return p, nil
}

func (r *Instances) InvokeReturnOption(ctx context.Context, ic *invoker.Context, protocol, namespace, name, method string, args map[string]interface{}) (map[string]interface{}, error) {
	p, err := r.get(protocol, namespace, name)
	if err != nil {
		return nil, err
	}
	if !p.HasPermission(instanceKey(protocol, namespace, name)+"#"+method, callerRoles(ic), false) {
		return nil, fmt.Errorf("%w: plugin %s", invoker.ErrPermissionDenied, instanceKey(protocol, namespace, name))
	}
	return p.InvokeReturnOption(ctx, ic, namespace, name, method, args)
}

func (r *Instances) InvokeReturnVec(ctx context.Context, ic *invoker.Context, protocol, namespace, name, method string, args map[string]interface{}) ([]map[string]interface{}, error) {
	p, err := r.get(protocol, namespace, name)
	if err != nil {
		return nil, err
	}
	if !p.HasPermission(instanceKey(protocol, namespace, name)+"#"+method, callerRoles(ic), false) {
		return nil, fmt.Errorf("%w: plugin %s", invoker.ErrPermissionDenied, instanceKey(protocol, namespace, name))
	}
	return p.InvokeReturnVec(ctx, ic, namespace, name, method, args)
}

func (r *Instances) InvokeReturnPage(ctx context.Context, ic *invoker.Context, protocol, namespace, name, method string, args map[string]interface{}) (*invoker.Page, error) {
	p, err := r.get(protocol, namespace, name)
	if err != nil {
		return nil, err
	}
	if !p.HasPermission(instanceKey(protocol, namespace, name)+"#"+method, callerRoles(ic), false) {
		return nil, fmt.Errorf("%w: plugin %s", invoker.ErrPermissionDenied, instanceKey(protocol, namespace, name))
	}
	return p.InvokeReturnPage(ctx, ic, namespace, name, method, args)
}

func callerRoles(ic *invoker.Context) []string {
	if ic == nil {
		return nil
	}
	if claims := ic.Claims(); claims != nil {
		return claims.Roles
	}
	return nil
}
