// Package plugin defines the in-process plugin surface and a protocol-keyed installer registry the server bootstrap uses
// to instantiate a plugin adapter from its config.
package plugin

import (
	"context"

	"github.com/goatkit/chimesgate/internal/invoker"
)

// Metadata describes one operation a plugin exposes, for discovery
// surfaces.
type Metadata struct {
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	ParamsVec  []string `json:"params_vec,omitempty"`
	ReturnVec  bool     `json:"return_vec"`
	ReturnPage bool     `json:"return_page"`
}

// Plugin is the contract every protocol adapter (restapi, mqttplugin,
// kafkaplugin, compose) implements, satisfying invoker.PluginInvoker when
// wrapped by Instances (instances.go).
type Plugin interface {
	// Protocol is the schema name this instance answers to, e.g. "restapi".
	Protocol() string

	InvokeReturnOption(ctx context.Context, ic *invoker.Context, namespace, name, method string, args map[string]interface{}) (map[string]interface{}, error)
	InvokeReturnVec(ctx context.Context, ic *invoker.Context, namespace, name, method string, args map[string]interface{}) ([]map[string]interface{}, error)
	InvokeReturnPage(ctx context.Context, ic *invoker.Context, namespace, name, method string, args map[string]interface{}) (*invoker.Page, error)

	// GetConfig returns the plugin's live configuration as a generic map,
	// and ParseConfig/SaveConfig round-trip it to/from the namespace
	// directory's on-disk plugin config file.
	GetConfig() map[string]interface{}
	ParseConfig(raw []byte) error
	SaveConfig(path string) error

	GetMetadata() []Metadata
	HasPermission(uri string, roles []string, bypass bool) bool
}

// InstallerFunc instantiates a Plugin from its raw config, called by the
// server bootstrap for each enabled plugin definition loaded at startup.
type InstallerFunc func(raw []byte) (Plugin, error)

// Installers is the protocol -> InstallerFunc registry; protocol adapters
// register themselves in an init() or explicit bootstrap call.
type Installers struct {
	byProtocol map[string]InstallerFunc
}

// NewInstallers returns an empty installer registry.
func NewInstallers() *Installers {
	return &Installers{byProtocol: make(map[string]InstallerFunc)}
}

// Register binds protocol to the function that builds its adapter.
func (r *Installers) Register(protocol string, fn InstallerFunc) {
	r.byProtocol[protocol] = fn
}

// Install instantiates the plugin registered for protocol.
func (r *Installers) Install(protocol string, raw []byte) (Plugin, error) {
	fn, ok := r.byProtocol[protocol]
	if !ok {
		return nil, &UnknownProtocolError{Protocol: protocol}
	}
	return fn(raw)
}

// UnknownProtocolError reports that no installer is registered for a
// plugin protocol named in a namespace's model file.
type UnknownProtocolError struct {
	Protocol string
}

func (e *UnknownProtocolError) Error() string {
	return "plugin: no installer registered for protocol " + e.Protocol
}
