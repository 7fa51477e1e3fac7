// Package compose is the "compose://" plugin protocol adapter: a scripted
// composite that chains a fixed sequence of invocation URIs through the
// schema registry, feeding each step's result into the next step's args.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/goatkit/chimesgate/internal/condition"
	"github.com/goatkit/chimesgate/internal/invoker"
	"github.com/goatkit/chimesgate/internal/invokeuri"
	"github.com/goatkit/chimesgate/internal/plugin"
)

// Step is one link in the chain: invoke uri with method, passing the
// previous step's single-row result as its args (the first step gets the
// plugin call's own args).
type Step struct {
	URI    string `json:"uri"`
	Method string `json:"method"`
}

// Config is the on-disk shape of a compose:// plugin's config file.
type Config struct {
	Steps          []Step   `json:"steps"`
	ReadPermRoles  []string `json:"read_perm_roles,omitempty"`
	WritePermRoles []string `json:"write_perm_roles,omitempty"`
}

// Registry is the subset of invoker.SchemaRegistry compose needs to
// re-dispatch each step; declared locally so this package never imports
// invoker's concrete SchemaRegistry type, only the Context/Page it already
// depends on for the Plugin interface.
type Registry interface {
	InvokeReturnOption(ctx context.Context, ic *invoker.Context, u *invokeuri.InvokeURI, args map[string]interface{}, cond *condition.QueryCondition) (map[string]interface{}, error)
}

// Plugin chains invocation URIs. Its Registry is wired in after
// construction (SetRegistry) because the schema registry itself must
// already hold this plugin instance before it has anything to dispatch
// through — the two are built in two phases by the server bootstrap in
// cmd/chimesgate.
type Plugin struct {
	cfg Config
	reg Registry
}

// New constructs an uninitialised adapter; ParseConfig populates it and
// SetRegistry must be called before any Invoke* call.
func New() *Plugin {
	return &Plugin{}
}

// Install is the plugin.InstallerFunc registered for the "compose" protocol.
func Install(raw []byte) (plugin.Plugin, error) {
	p := New()
	if err := p.ParseConfig(raw); err != nil {
		return nil, err
	}
	return p, nil
}

// SetRegistry binds the schema registry compose dispatches each step
// through. Must be called once, after the registry is fully constructed.
func (p *Plugin) SetRegistry(reg Registry) {
	p.reg = reg
}

func (p *Plugin) Protocol() string { return "compose" }

func (p *Plugin) ParseConfig(raw []byte) error {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("compose: parsing plugin config: %w", err)
	}
	if len(cfg.Steps) == 0 {
		return fmt.Errorf("%w: compose plugin requires at least one step", invoker.ErrMalformed)
	}
	p.cfg = cfg
	return nil
}

func (p *Plugin) GetConfig() map[string]interface{} {
	raw, _ := json.Marshal(p.cfg)
	var m map[string]interface{}
	_ = json.Unmarshal(raw, &m)
	return m
}

func (p *Plugin) SaveConfig(path string) error {
	raw, err := json.MarshalIndent(p.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("compose: serialising plugin config: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

func (p *Plugin) GetMetadata() []plugin.Metadata {
	return []plugin.Metadata{{URI: "compose://chain", Name: "run", ReturnVec: false}}
}

func (p *Plugin) HasPermission(uri string, roles []string, bypass bool) bool {
	if bypass || len(p.cfg.ReadPermRoles) == 0 {
		return true
	}
	for _, required := range p.cfg.ReadPermRoles {
		for _, held := range roles {
			if required == held {
				return true
			}
		}
	}
	return false
}

func (p *Plugin) InvokeReturnOption(ctx context.Context, ic *invoker.Context, namespace, name, method string, args map[string]interface{}) (map[string]interface{}, error) {
	if p.reg == nil {
		return nil, fmt.Errorf("%w: compose plugin has no registry bound", invoker.ErrBackend)
	}
	current := args
	var result map[string]interface{}
	for _, step := range p.cfg.Steps {
		u, err := invokeuri.Parse(step.URI)
		if err != nil {
			return nil, fmt.Errorf("%w: compose step URI %q: %v", invoker.ErrMalformed, step.URI, err)
		}
		u.Method = step.Method
		result, err = p.reg.InvokeReturnOption(ctx, ic, u, current, nil)
		if err != nil {
			return nil, fmt.Errorf("compose step %s#%s: %w", u.URLNoMethod(), step.Method, err)
		}
		current = result
	}
	return result, nil
}

func (p *Plugin) InvokeReturnVec(ctx context.Context, ic *invoker.Context, namespace, name, method string, args map[string]interface{}) ([]map[string]interface{}, error) {
	row, err := p.InvokeReturnOption(ctx, ic, namespace, name, method, args)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return []map[string]interface{}{row}, nil
}

func (p *Plugin) InvokeReturnPage(ctx context.Context, ic *invoker.Context, namespace, name, method string, args map[string]interface{}) (*invoker.Page, error) {
	rows, err := p.InvokeReturnVec(ctx, ic, namespace, name, method, args)
	if err != nil {
		return nil, err
	}
	return &invoker.Page{Rows: rows, TotalCount: int64(len(rows)), PageNo: 1, PageSize: len(rows)}, nil
}
