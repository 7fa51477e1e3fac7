// Package jsext is the engine's default script.LanguageExtension: a
// goja-backed JavaScript runtime, the same embedded interpreter the prior implementation
// already depends on.
package jsext

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

// Extension runs hook and plugin scripts as plain JavaScript. Every call
// gets a fresh goja.Runtime: scripts are untrusted-ish namespace-authored
// code and must not leak state between invocations.
type Extension struct{}

// New constructs a JavaScript language extension.
func New() *Extension {
	return &Extension{}
}

// Lang identifies this extension in config.MethodHook.Lang / plugin config.
func (e *Extension) Lang() string {
	return "javascript"
}

func (e *Extension) run(ctx context.Context, script string, bindings map[string]interface{}) (goja.Value, error) {
	vm := goja.New()

	var logs []string
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			logs = append(logs, arg.String())
		}
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	for k, v := range bindings {
		if err := vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("jsext: binding %q: %w", k, err)
		}
	}

	done := make(chan struct{})
	var value goja.Value
	var runErr error
	go func() {
		defer close(done)
		value, runErr = vm.RunString(script)
	}()
	select {
	case <-ctx.Done():
		vm.Interrupt("cancelled")
		<-done
		return nil, ctx.Err()
	case <-done:
	}
	if runErr != nil {
		return nil, fmt.Errorf("jsext: script error: %w", runErr)
	}
	return value, nil
}

// ReturnOne runs script and interprets its completion value as a single
// object, or nil when the script returns undefined/null.
func (e *Extension) ReturnOne(ctx context.Context, script string, bindings map[string]interface{}) (map[string]interface{}, error) {
	value, err := e.run(ctx, script, bindings)
	if err != nil {
		return nil, err
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return toObject(value.Export())
}

// ReturnVec runs script and interprets its completion value as a list of
// objects.
func (e *Extension) ReturnVec(ctx context.Context, script string, bindings map[string]interface{}) ([]map[string]interface{}, error) {
	value, err := e.run(ctx, script, bindings)
	if err != nil {
		return nil, err
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return toObjectList(value.Export())
}

// ReturnPage runs script and expects its completion value to be
// {rows: [...], total_count: N}.
func (e *Extension) ReturnPage(ctx context.Context, script string, bindings map[string]interface{}) ([]map[string]interface{}, int64, error) {
	value, err := e.run(ctx, script, bindings)
	if err != nil {
		return nil, 0, err
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, 0, nil
	}
	exported, ok := value.Export().(map[string]interface{})
	if !ok {
		return nil, 0, fmt.Errorf("jsext: expected {rows, total_count} object, got %T", value.Export())
	}
	rows, err := toObjectList(exported["rows"])
	if err != nil {
		return nil, 0, err
	}
	var total int64
	switch v := exported["total_count"].(type) {
	case int64:
		total = v
	case float64:
		total = int64(v)
	}
	return rows, total, nil
}

func toObject(v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]interface{}); ok {
		return m, nil
	}
	return nil, fmt.Errorf("jsext: expected object result, got %T", v)
}

func toObjectList(v interface{}) ([]map[string]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("jsext: expected array result, got %T", v)
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			// Round-trip through JSON for goja's other exported shapes
			// (e.g. typed arrays of primitives aren't expected here, but
			// nested objects sometimes export as map[string]interface{}
			// wrapped differently depending on how the script built them).
			raw, err := json.Marshal(item)
			if err != nil {
				return nil, fmt.Errorf("jsext: array element %T is not an object", item)
			}
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, fmt.Errorf("jsext: array element %T is not an object", item)
			}
		}
		out = append(out, m)
	}
	return out, nil
}
