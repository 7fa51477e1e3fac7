package dbengine

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/goatkit/chimesgate/internal/config"
)

func TestRowDecoder_ConvertBinary_Base64(t *testing.T) {
	ns := &config.Namespace{Name: "helpdesk"}
	obj := &config.Object{Name: "blobs", Fields: []config.Column{
		{FieldName: "payload", ColType: config.ColTypeBinary, Base64: true},
	}}
	d := NewRowDecoder()

	raw := map[string]interface{}{"payload": []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	out, err := d.DecodeRow(ns, obj, raw, true)
	if err != nil {
		t.Fatal(err)
	}
	want := base64.StdEncoding.EncodeToString([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	if out["payload"] != want {
		t.Errorf("payload = %v, want %v", out["payload"], want)
	}
}

func TestRowDecoder_ConvertBinary_JSON(t *testing.T) {
	ns := &config.Namespace{Name: "helpdesk"}
	obj := &config.Object{Name: "blobs", Fields: []config.Column{
		{FieldName: "payload", ColType: config.ColTypeBinary},
	}}
	d := NewRowDecoder()

	raw := map[string]interface{}{"payload": []byte(`{"a":1,"b":"two"}`)}
	out, err := d.DecodeRow(ns, obj, raw, true)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := out["payload"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected decoded json object, got %T", out["payload"])
	}
	if m["b"] != "two" {
		t.Errorf("b = %v, want two", m["b"])
	}
}

func TestRowDecoder_ConvertBinary_DesensitizedWhenCallerCannotSeeRaw(t *testing.T) {
	ns := &config.Namespace{Name: "helpdesk"}
	obj := &config.Object{Name: "blobs", Fields: []config.Column{
		{FieldName: "payload", ColType: config.ColTypeBinary, Base64: true, Desensitize: config.DesensitizeNull},
	}}
	d := NewRowDecoder()

	raw := map[string]interface{}{"payload": []byte("secret bytes")}
	out, err := d.DecodeRow(ns, obj, raw, false)
	if err != nil {
		t.Fatal(err)
	}
	if out["payload"] != "" {
		t.Errorf("payload = %v, want masked empty string", out["payload"])
	}
}

func TestRowDecoder_RelaxyTimezone_FormatsTimeWithoutOffset(t *testing.T) {
	ns := &config.Namespace{Name: "helpdesk", RelaxyTimezone: true}
	obj := &config.Object{Name: "events", Fields: []config.Column{
		{FieldName: "happened_at", ColType: config.ColTypeDateTime},
	}}
	d := NewRowDecoder()

	when := time.Date(2026, 3, 5, 14, 30, 0, 0, time.FixedZone("X", 3600))
	raw := map[string]interface{}{"happened_at": when}
	out, err := d.DecodeRow(ns, obj, raw, true)
	if err != nil {
		t.Fatal(err)
	}
	want := when.UTC().Format("2006-01-02 15:04:05")
	if out["happened_at"] != want {
		t.Errorf("happened_at = %v, want %v", out["happened_at"], want)
	}
}

func TestRowDecoder_RelaxyTimezone_MillisecondEpoch(t *testing.T) {
	ns := &config.Namespace{Name: "helpdesk", RelaxyTimezone: true}
	obj := &config.Object{Name: "events", Fields: []config.Column{
		{FieldName: "happened_at", ColType: config.ColTypeDateTime},
	}}
	d := NewRowDecoder()

	epochMillis := int64(1772979000000)
	raw := map[string]interface{}{"happened_at": epochMillis}
	out, err := d.DecodeRow(ns, obj, raw, true)
	if err != nil {
		t.Fatal(err)
	}
	want := time.UnixMilli(epochMillis).UTC().Format("2006-01-02 15:04:05")
	if out["happened_at"] != want {
		t.Errorf("happened_at = %v, want %v", out["happened_at"], want)
	}
}

func TestRowDecoder_RelaxyTimezone_StripsTrailingZ(t *testing.T) {
	ns := &config.Namespace{Name: "helpdesk", RelaxyTimezone: true}
	obj := &config.Object{Name: "events", Fields: []config.Column{
		{FieldName: "happened_at", ColType: config.ColTypeDateTime},
	}}
	d := NewRowDecoder()

	raw := map[string]interface{}{"happened_at": "2026-03-05T14:30:00Z"}
	out, err := d.DecodeRow(ns, obj, raw, true)
	if err != nil {
		t.Fatal(err)
	}
	if out["happened_at"] != "2026-03-05T14:30:00" {
		t.Errorf("happened_at = %v", out["happened_at"])
	}
}

func TestRowDecoder_DateTime_RFC3339WhenNotRelaxy(t *testing.T) {
	ns := &config.Namespace{Name: "helpdesk"}
	obj := &config.Object{Name: "events", Fields: []config.Column{
		{FieldName: "happened_at", ColType: config.ColTypeDateTime},
	}}
	d := NewRowDecoder()

	when := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	raw := map[string]interface{}{"happened_at": when}
	out, err := d.DecodeRow(ns, obj, raw, true)
	if err != nil {
		t.Fatal(err)
	}
	if out["happened_at"] != when.Format(time.RFC3339) {
		t.Errorf("happened_at = %v, want %v", out["happened_at"], when.Format(time.RFC3339))
	}
}
