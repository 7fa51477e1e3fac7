// Package script defines the scripting boundary between the engine core and
// whatever embedded interpreter actually runs a hook or plugin script. The
// core never imports an interpreter directly; it only sees a LanguageExtension.
package script

import "context"

// LanguageExtension runs a hook or plugin script and reports its result as
// one of three shapes, mirroring the three ways a schema can be invoked.
type LanguageExtension interface {
	// Lang is the value a config.MethodHook.Lang / plugin config names to
	// select this extension, e.g. "javascript".
	Lang() string

	// ReturnOne runs script with the given bindings and expects either no
	// result (nil map) or a single object result.
	ReturnOne(ctx context.Context, script string, bindings map[string]interface{}) (map[string]interface{}, error)

	// ReturnVec runs script and expects a list of objects (or nil/empty).
	ReturnVec(ctx context.Context, script string, bindings map[string]interface{}) ([]map[string]interface{}, error)

	// ReturnPage runs script and expects {rows, total_count}.
	ReturnPage(ctx context.Context, script string, bindings map[string]interface{}) ([]map[string]interface{}, int64, error)
}

// Registry maps a hook's declared language to the extension that runs it.
type Registry struct {
	extensions map[string]LanguageExtension
}

// NewRegistry builds an empty registry; register extensions with Register.
func NewRegistry() *Registry {
	return &Registry{extensions: make(map[string]LanguageExtension)}
}

// Register binds an extension under its own Lang().
func (r *Registry) Register(ext LanguageExtension) {
	r.extensions[ext.Lang()] = ext
}

// Get returns the extension registered for lang, if any.
func (r *Registry) Get(lang string) (LanguageExtension, bool) {
	ext, ok := r.extensions[lang]
	return ext, ok
}
