// Package registry holds the hot-reconfigurable set of loaded namespaces:
// a copy-on-write snapshot behind an atomic pointer, so readers (every
// invocation) never block on a writer reloading or editing the model
// directory.
package registry

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/goatkit/chimesgate/internal/config"
)

type snapshot struct {
	byName map[string]*config.Namespace
}

// Registry is the process-wide namespace registry. The zero value is not
// usable; construct with New.
type Registry struct {
	dir     string
	current atomic.Pointer[snapshot]
	mu      sync.Mutex // serialises writers; readers never take it
}

// New creates an empty registry rooted at modelDir, the directory its TOML
// namespace files live in.
func New(modelDir string) *Registry {
	r := &Registry{dir: modelDir}
	r.current.Store(&snapshot{byName: make(map[string]*config.Namespace)})
	return r
}

// LoadAll replaces the registry's contents with every namespace file found
// in the model directory.
func (r *Registry) LoadAll() error {
	namespaces, err := config.LoadAllNamespaces(r.dir)
	if err != nil {
		return err
	}
	byName := make(map[string]*config.Namespace, len(namespaces))
	for _, ns := range namespaces {
		byName[ns.Name] = ns
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Store(&snapshot{byName: byName})
	log.Printf("registry: loaded %d namespace(s) from %s", len(byName), r.dir)
	return nil
}

// Namespace returns the namespace registered under name. Satisfies
// invoker.NamespaceSource.
func (r *Registry) Namespace(name string) (*config.Namespace, bool) {
	snap := r.current.Load()
	ns, ok := snap.byName[name]
	return ns, ok
}

// Namespaces returns every currently loaded namespace.
func (r *Registry) Namespaces() []*config.Namespace {
	snap := r.current.Load()
	out := make([]*config.Namespace, 0, len(snap.byName))
	for _, ns := range snap.byName {
		out = append(out, ns)
	}
	return out
}

// Add registers a brand new namespace and persists it to the model
// directory. It fails if a namespace with the same name already exists.
func (r *Registry) Add(ns *config.Namespace) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	if _, exists := old.byName[ns.Name]; exists {
		return fmt.Errorf("registry: namespace %q already exists", ns.Name)
	}
	if err := config.SaveNamespaceFile(r.dir, ns); err != nil {
		return err
	}
	r.current.Store(old.withAdded(ns))
	return nil
}

// Update replaces an existing namespace's in-memory and on-disk record.
func (r *Registry) Update(ns *config.Namespace) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	existing, exists := old.byName[ns.Name]
	if !exists {
		return fmt.Errorf("registry: namespace %q does not exist", ns.Name)
	}
	if ns.Filename == "" {
		ns.Filename = existing.Filename
	}
	if err := config.SaveNamespaceFile(r.dir, ns); err != nil {
		return err
	}
	r.current.Store(old.withAdded(ns))
	return nil
}

// Remove deletes a namespace from memory. It does not remove the file from
// disk — callers that want that should move it out of the model directory
// themselves, keeping "remove" a reversible, in-memory-only operation.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	if _, exists := old.byName[name]; !exists {
		return fmt.Errorf("registry: namespace %q does not exist", name)
	}
	r.current.Store(old.withRemoved(name))
	return nil
}

// withAdded returns a new snapshot with ns inserted or replacing any
// existing entry of the same name. The old snapshot's map is never
// mutated — readers holding it keep seeing a consistent view.
func (s *snapshot) withAdded(ns *config.Namespace) *snapshot {
	byName := make(map[string]*config.Namespace, len(s.byName)+1)
	for k, v := range s.byName {
		byName[k] = v
	}
	byName[ns.Name] = ns
	return &snapshot{byName: byName}
}

func (s *snapshot) withRemoved(name string) *snapshot {
	byName := make(map[string]*config.Namespace, len(s.byName))
	for k, v := range s.byName {
		if k != name {
			byName[k] = v
		}
	}
	return &snapshot{byName: byName}
}
