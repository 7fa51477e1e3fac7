// Package invokeuri parses and formats the engine's invocation URIs:
//
//	schema://namespace/object[#method][?query]
//
// schema is one of "object" or "query" (or a plugin protocol such as
// "restapi", "mqtt", "kafka", "compose"); namespace/object address a
// registered resource; method selects the operation when the resource is a
// stored object or plugin; the query string carries condition/paging
// parameters for read methods.
package invokeuri

import (
	"fmt"
	"net/url"
	"strings"
)

// Write methods mutate backing state; everything else is read-only.
const (
	MethodSelect     = "select"
	MethodQuery      = "query"
	MethodPagedQuery = "paged_query"
	MethodInsert     = "insert"
	MethodUpdate     = "update"
	MethodUpsert     = "upsert"
	MethodSaveBatch  = "save_batch"
	MethodDelete     = "delete"
	MethodDeleteBy   = "delete_by"
	MethodUpdateBy   = "update_by"
)

var writeMethods = map[string]bool{
	MethodInsert:    true,
	MethodUpdate:    true,
	MethodUpsert:    true,
	MethodSaveBatch: true,
	MethodDelete:    true,
	MethodDeleteBy:  true,
	MethodUpdateBy:  true,
}

// InvokeURI is the parsed form of an invocation URI.
type InvokeURI struct {
	Schema    string
	Namespace string
	Object    string
	Method    string
	Query     url.Values
}

// Parse decodes raw into an InvokeURI. It rejects anything missing a schema,
// namespace or object segment.
func Parse(raw string) (*InvokeURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invokeuri: malformed uri %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("invokeuri: %q has no schema", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invokeuri: %q has no namespace", raw)
	}
	obj := strings.Trim(u.Path, "/")
	if obj == "" {
		return nil, fmt.Errorf("invokeuri: %q has no object", raw)
	}
	// url.Parse keeps the fragment separate already, but some callers hand
	// us "object#method" folded into the path when the caller built the
	// string manually rather than through url.URL.
	method := u.Fragment
	if idx := strings.IndexByte(obj, '#'); idx >= 0 {
		method = obj[idx+1:]
		obj = obj[:idx]
	}
	// A "?query" written after "#method" is part of the fragment to url.Parse.
	query := u.Query()
	if idx := strings.IndexByte(method, '?'); idx >= 0 {
		extra, err := url.ParseQuery(method[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("invokeuri: malformed query in %q: %w", raw, err)
		}
		for k, vs := range extra {
			query[k] = append(query[k], vs...)
		}
		method = method[:idx]
	}
	return &InvokeURI{
		Schema:    u.Scheme,
		Namespace: u.Host,
		Object:    obj,
		Method:    method,
		Query:     query,
	}, nil
}

// String renders the full invocation URI including method and query string.
func (u *InvokeURI) String() string {
	var b strings.Builder
	b.WriteString(u.URLNoMethod())
	if u.Method != "" {
		b.WriteByte('#')
		b.WriteString(u.Method)
	}
	if len(u.Query) > 0 {
		b.WriteByte('?')
		b.WriteString(u.Query.Encode())
	}
	return b.String()
}

// URLNoMethod renders "schema://namespace/object" only — the cache key's
// subject identity, stripped of the calling method and query parameters.
func (u *InvokeURI) URLNoMethod() string {
	return fmt.Sprintf("%s://%s/%s", u.Schema, u.Namespace, u.Object)
}

// IsWriteMethod reports whether Method mutates backing state.
func (u *InvokeURI) IsWriteMethod() bool {
	return writeMethods[u.Method]
}

// IsPluginSchema reports whether Schema addresses a plugin protocol rather
// than the built-in "object"/"query" resource kinds.
func (u *InvokeURI) IsPluginSchema() bool {
	return u.Schema != "object" && u.Schema != "query"
}
