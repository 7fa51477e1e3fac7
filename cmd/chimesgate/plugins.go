package main

import (
	"fmt"

	"github.com/goatkit/chimesgate/internal/invoker"
	"github.com/goatkit/chimesgate/internal/plugin"
	"github.com/goatkit/chimesgate/internal/plugins/compose"
	"github.com/goatkit/chimesgate/internal/registry"
)

// installNamespacePlugins instantiates every enabled plugin definition
// found across the registry's namespaces, registers each instance, and
// completes the two-phase compose:// bootstrap (internal/plugins/compose's
// Plugin needs the already-built schema registry to dispatch its steps
// through, so each compose plugin gets it right after being installed).
func installNamespacePlugins(nsRegistry *registry.Registry, installers *plugin.Installers, instances *plugin.Instances, schemaRegistry *invoker.SchemaRegistry) error {
	for _, ns := range nsRegistry.Namespaces() {
		for _, pd := range ns.Plugins {
			if !pd.Enable {
				continue
			}
			p, err := installers.Install(pd.Protocol, []byte(pd.Config))
			if err != nil {
				return fmt.Errorf("namespace %q plugin %q: %w", ns.Name, pd.Name, err)
			}
			instances.Add(pd.Protocol, ns.Name, pd.Name, p)
			if composePlugin, ok := p.(*compose.Plugin); ok {
				composePlugin.SetRegistry(schemaRegistry)
			}
		}
	}
	return nil
}
