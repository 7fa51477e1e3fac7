// Package hooks runs an object's or query's declared pre/post script hooks
// around an invocation, and fires its event hooks detached on the worker
// pool.
package hooks

import (
	"context"
	"fmt"
	"log"

	"github.com/goatkit/chimesgate/internal/config"
	"github.com/goatkit/chimesgate/internal/invoker"
	"github.com/goatkit/chimesgate/internal/invokeuri"
	"github.com/goatkit/chimesgate/internal/script"
	"github.com/goatkit/chimesgate/internal/workerpool"
)

// HookHandleURIKey is the invoker.Context key the pipeline writes the full
// invocation URI under before running any hook, so a script can address
// "the invocation currently in flight" without it being passed explicitly.
const HookHandleURIKey = "HOOK_HANDLE_URI"

// Pipeline runs MethodHook lists against an extension registry and
// dispatches event hooks onto a worker pool.
type Pipeline struct {
	extensions *script.Registry
	events     *workerpool.Pool
}

// New wires a hook pipeline against a script registry and the pool that
// runs detached event hooks.
func New(extensions *script.Registry, events *workerpool.Pool) *Pipeline {
	return &Pipeline{extensions: extensions, events: events}
}

// RunPre iterates hooks in declared order; only before=true, event=false
// hooks transform the argument chain. A hook whose script returns a
// non-empty result replaces the running args for the next hook in line.
func (p *Pipeline) RunPre(ctx context.Context, ic *invoker.Context, u *invokeuri.InvokeURI, hooks []config.MethodHook, args []map[string]interface{}) ([]map[string]interface{}, error) {
	return p.run(ctx, ic, u, hooks, args, true)
}

// RunPost is RunPre's analogue for before=false hooks, observing or
// rewriting the result set after the underlying operation ran.
func (p *Pipeline) RunPost(ctx context.Context, ic *invoker.Context, u *invokeuri.InvokeURI, hooks []config.MethodHook, args []map[string]interface{}) ([]map[string]interface{}, error) {
	return p.run(ctx, ic, u, hooks, args, false)
}

func (p *Pipeline) run(ctx context.Context, ic *invoker.Context, u *invokeuri.InvokeURI, hooks []config.MethodHook, args []map[string]interface{}, before bool) ([]map[string]interface{}, error) {
	if len(hooks) == 0 {
		return args, nil
	}
	ic.Set(HookHandleURIKey, u.String())

	for _, h := range hooks {
		if h.Before != before {
			continue
		}
		if h.Event {
			p.fireDetached(ic, u, h, args)
			continue
		}
		ext, ok := p.extensions.Get(h.Lang)
		if !ok {
			return nil, fmt.Errorf("%w: no script extension registered for lang %q", invoker.ErrMalformed, h.Lang)
		}
		bindings := map[string]interface{}{
			"args":   anySlice(args),
			"claims": claimsBinding(ic),
			"uri":    u.String(),
		}
		result, err := ext.ReturnVec(ctx, h.Script, bindings)
		if err != nil {
			return nil, fmt.Errorf("%w: hook script failed: %v", invoker.ErrBackend, err)
		}
		if len(result) > 0 {
			args = result
		}
	}
	return args, nil
}

// fireDetached schedules an event hook fire-and-forget on the worker pool
// with a fresh sub-context; its errors are only logged, never propagated.
func (p *Pipeline) fireDetached(ic *invoker.Context, u *invokeuri.InvokeURI, h config.MethodHook, args []map[string]interface{}) {
	ext, ok := p.extensions.Get(h.Lang)
	if !ok {
		log.Printf("hooks: event hook for %s: no script extension for lang %q", u.String(), h.Lang)
		return
	}
	sub := invoker.NewContext(ic.Claims())
	bindings := map[string]interface{}{
		"args":   anySlice(args),
		"claims": claimsBinding(sub),
		"uri":    u.String(),
	}
	p.events.SubmitDetached(func(ctx context.Context) error {
		_, err := ext.ReturnVec(ctx, h.Script, bindings)
		return err
	})
}

func anySlice(rows []map[string]interface{}) []interface{} {
	out := make([]interface{}, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

func claimsBinding(ic *invoker.Context) map[string]interface{} {
	claims := ic.Claims()
	if claims == nil {
		return nil
	}
	return map[string]interface{}{
		"user_id":  claims.UserID,
		"username": claims.Username,
		"roles":    claims.Roles,
	}
}
