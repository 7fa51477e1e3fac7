package dbengine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goatkit/chimesgate/internal/config"
)

// RowDecoder converts a raw SQL row (column name -> driver value) into the
// JSON-ready shape the engine returns: col_type-driven conversion,
// crypto_store decryption, and desensitization are all applied here so
// every executor method shares one read path.
type RowDecoder struct{}

// NewRowDecoder returns a stateless decoder; namespace/object/column
// context is passed per call since a decoder has no per-namespace state of
// its own.
func NewRowDecoder() *RowDecoder {
	return &RowDecoder{}
}

// DecodeRow converts one raw row into its API-facing representation.
// callerCanSeeRaw is true when the caller holds a role exempted from
// desensitization for this object; when false every column with a Desensitize mode is masked.
func (d *RowDecoder) DecodeRow(ns *config.Namespace, obj *config.Object, raw map[string]interface{}, callerCanSeeRaw bool) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(raw))

	for name, v := range raw {
		col, known := obj.GetColumn(name, false)
		if !known {
			out[name] = v
			continue
		}
		converted, err := d.convert(ns, col, v, callerCanSeeRaw)
		if err != nil {
			return nil, fmt.Errorf("dbengine: decoding column %q: %w", name, err)
		}
		out[name] = converted
	}
	return out, nil
}

// DecodeRows applies DecodeRow across a result set.
func (d *RowDecoder) DecodeRows(ns *config.Namespace, obj *config.Object, raw []map[string]interface{}, callerCanSeeRaw bool) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(raw))
	for _, row := range raw {
		decoded, err := d.DecodeRow(ns, obj, row, callerCanSeeRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

func (d *RowDecoder) convert(ns *config.Namespace, col config.Column, v interface{}, callerCanSeeRaw bool) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	if col.ColType == config.ColTypeBinary {
		return d.convertBinary(ns, col, v, callerCanSeeRaw)
	}

	if b, ok := v.([]byte); ok {
		// database/sql hands back []byte for most text-ish column types
		// depending on driver; normalise to string before type-specific
		// handling below.
		v = string(b)
	}

	if col.CryptoStore {
		s, ok := v.(string)
		if ok {
			plain, err := aesDecrypt(ns, s)
			if err == nil {
				v = plain
			}
			// a decrypt failure most often just means the column predates
			// crypto_store being turned on; fall through with the raw value
			// rather than failing the whole row.
		}
	}

	switch col.ColType {
	case config.ColTypeJSON:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return nil, fmt.Errorf("parsing json column: %w", err)
		}
		v = parsed
	case config.ColTypeDateTime:
		v = formatDateTime(ns, v)
	case config.ColTypeDate:
		if t, ok := v.(time.Time); ok {
			v = t.Format("2006-01-02")
		}
	case config.ColTypeTime:
		if t, ok := v.(time.Time); ok {
			v = t.Format("15:04:05")
		}
	}

	if col.Desensitize != "" && !callerCanSeeRaw {
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprintf("%v", v)
		}
		masked, err := desensitize(ns, col, s)
		if err != nil {
			return nil, err
		}
		return masked, nil
	}

	return v, nil
}

// convertBinary implements C10: base64=true renders the column as a base64
// string, otherwise the stored bytes are parsed as JSON.
func (d *RowDecoder) convertBinary(ns *config.Namespace, col config.Column, v interface{}, callerCanSeeRaw bool) (interface{}, error) {
	var raw []byte
	switch b := v.(type) {
	case []byte:
		raw = b
	case string:
		raw = []byte(b)
	default:
		return v, nil
	}

	var out interface{}
	if col.Base64 {
		out = base64.StdEncoding.EncodeToString(raw)
	} else {
		var parsed interface{}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("decoding binary column: %w", err)
		}
		out = parsed
	}

	if col.Desensitize != "" && !callerCanSeeRaw {
		s, ok := out.(string)
		if !ok {
			s = fmt.Sprintf("%v", out)
		}
		return desensitize(ns, col, s)
	}
	return out, nil
}

// formatDateTime implements the relaxy_timezone datetime rule: a driver
// time.Time is rendered as a naive "YYYY-MM-DD HH:MM:SS" string instead of
// RFC3339, a string already in that shape has its trailing "Z" stripped, and
// a millisecond-epoch number is rendered the same naive way. Namespaces that
// don't set relaxy_timezone keep the RFC3339 behaviour.
func formatDateTime(ns *config.Namespace, v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		if ns.RelaxyTimezone {
			return t.UTC().Format("2006-01-02 15:04:05")
		}
		return t.Format(time.RFC3339)
	}
	if !ns.RelaxyTimezone {
		return v
	}
	switch n := v.(type) {
	case int64:
		return time.UnixMilli(n).UTC().Format("2006-01-02 15:04:05")
	case float64:
		return time.UnixMilli(int64(n)).UTC().Format("2006-01-02 15:04:05")
	case string:
		return strings.TrimSuffix(n, "Z")
	default:
		return v
	}
}
