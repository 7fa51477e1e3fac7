package apierrors

import "net/http"

// Engine error codes map the invocation engine's error kinds (spec §7) onto
// the same namespaced registry the core codes use.
const (
	CodeEngineNotFound          = "engine:not_found"
	CodeEngineMalformed         = "engine:malformed"
	CodeEngineValidation        = "engine:validation"
	CodeEngineAmbiguousUpsert   = "engine:ambiguous_upsert"
	CodeEnginePermissionDenied  = "engine:permission_denied"
	CodeEngineBackend           = "engine:backend"
	CodeEngineTimeout           = "engine:timeout"
)

var engineErrors = []ErrorCode{
	{Code: CodeEngineNotFound, Message: "Unknown URI, namespace, object, query or plugin", HTTPStatus: http.StatusNotFound},
	{Code: CodeEngineMalformed, Message: "Malformed invocation URI, body or condition", HTTPStatus: http.StatusBadRequest},
	{Code: CodeEngineValidation, Message: "Request failed validation", HTTPStatus: http.StatusBadRequest},
	{Code: CodeEngineAmbiguousUpsert, Message: "Upsert condition matched more than one row", HTTPStatus: http.StatusMethodNotAllowed},
	{Code: CodeEnginePermissionDenied, Message: "Role or row-level permission check failed", HTTPStatus: http.StatusForbidden},
	{Code: CodeEngineBackend, Message: "Database, cache or script backend error", HTTPStatus: http.StatusInternalServerError},
	{Code: CodeEngineTimeout, Message: "Worker pool wait exceeded its deadline", HTTPStatus: http.StatusGatewayTimeout},
}

func init() {
	for _, e := range engineErrors {
		Registry.Register(e)
	}
}
