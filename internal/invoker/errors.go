package invoker

import (
	"errors"

	"github.com/goatkit/chimesgate/internal/apierrors"
)

// Sentinel errors for the invocation engine's error kinds. Every executor
// and the schema registry itself returns (or wraps, with fmt.Errorf's %w)
// one of these so internal/httpapi can map failures onto HTTP status using
// errors.Is rather than string matching.
var (
	ErrNotFound         = errors.New("engine: not found")
	ErrMalformed        = errors.New("engine: malformed invocation")
	ErrValidation       = errors.New("engine: validation failed")
	ErrAmbiguousUpsert  = errors.New("engine: upsert condition matched more than one row")
	ErrPermissionDenied = errors.New("engine: permission denied")
	ErrBackend          = errors.New("engine: backend error")
	ErrTimeout          = errors.New("engine: timed out")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, apierrors.CodeEngineNotFound},
	{ErrMalformed, apierrors.CodeEngineMalformed},
	{ErrValidation, apierrors.CodeEngineValidation},
	{ErrAmbiguousUpsert, apierrors.CodeEngineAmbiguousUpsert},
	{ErrPermissionDenied, apierrors.CodeEnginePermissionDenied},
	{ErrBackend, apierrors.CodeEngineBackend},
	{ErrTimeout, apierrors.CodeEngineTimeout},
}

// ErrorCode maps err onto its apierrors code by walking the sentinel list
// with errors.Is, falling back to the generic backend code for anything
// unrecognised.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return apierrors.CodeEngineBackend
}
