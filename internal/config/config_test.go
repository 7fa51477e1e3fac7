package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleNamespace = `
name = "helpdesk"
db_url = "postgres://localhost/helpdesk"

[[objects]]
name = "tickets"
object_name = "tickets"
enable_cache = true
read_perm_roles = ["agent", "admin"]
write_perm_roles = ["admin"]

[[objects.fields]]
field_name = "id"
col_type = "integer"
pkey = true
generator = "autoincrement"

[[objects.fields]]
field_name = "subject"
col_type = "string"

[[objects.fields]]
field_name = "contact_email"
col_type = "string"
desensitize = "replace"

[[querys]]
name = "open_tickets_by_team"
body = "select * from tickets where team_id = ? and status = 'open'"

[[plugins]]
name = "weather"
protocol = "restapi"
config = "{\"base_url\":\"https://example.invalid\"}"
enable = true
`

func writeSampleFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "helpdesk.toml")
	if err := os.WriteFile(path, []byte(sampleNamespace), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadNamespaceFile(t *testing.T) {
	path := writeSampleFile(t)
	ns, err := LoadNamespaceFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if ns.Name != "helpdesk" {
		t.Errorf("name = %q", ns.Name)
	}
	obj, ok := ns.FindObject("tickets")
	if !ok {
		t.Fatal("tickets object not found")
	}
	if !obj.ContainsField("subject") {
		t.Error("expected subject field")
	}
	col, ok := obj.GetColumn("id", false)
	if !ok || col.Generator != GenAutoIncrement {
		t.Errorf("id column = %+v, ok=%v", col, ok)
	}
	if _, ok := ns.FindQuery("open_tickets_by_team"); !ok {
		t.Error("expected named query")
	}
	p, ok := ns.FindPlugin("weather")
	if !ok || p.Protocol != "restapi" {
		t.Errorf("plugin = %+v, ok=%v", p, ok)
	}
}

func TestObject_HasPermission(t *testing.T) {
	obj := &Object{
		ReadPermRoles:  []string{"agent", "admin"},
		WritePermRoles: []string{"admin"},
	}
	if !obj.HasPermission(false, []string{"agent"}) {
		t.Error("agent should be able to read")
	}
	if obj.HasPermission(true, []string{"agent"}) {
		t.Error("agent should not be able to write")
	}
	if !obj.HasPermission(true, []string{"admin"}) {
		t.Error("admin should be able to write")
	}
}

func TestObject_HasPermission_NoRolesMeansOpen(t *testing.T) {
	obj := &Object{}
	if !obj.HasPermission(true, nil) {
		t.Error("object with no permission lists should allow everything")
	}
}

func TestObject_EffectiveCacheTime_DefaultsWhenUnset(t *testing.T) {
	obj := &Object{}
	if obj.EffectiveCacheTime() != DefaultCacheTime {
		t.Errorf("got %d, want %d", obj.EffectiveCacheTime(), DefaultCacheTime)
	}
	obj.CacheTime = 120
	if obj.EffectiveCacheTime() != 120 {
		t.Errorf("got %d, want 120", obj.EffectiveCacheTime())
	}
}

func TestLoadAllNamespaces(t *testing.T) {
	dir := filepath.Dir(writeSampleFile(t))
	namespaces, err := LoadAllNamespaces(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(namespaces) != 1 {
		t.Fatalf("got %d namespaces, want 1", len(namespaces))
	}
}
