package dbengine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/goatkit/chimesgate/internal/condition"
	"github.com/goatkit/chimesgate/internal/config"
	"github.com/goatkit/chimesgate/internal/invoker"
)

func newTestNamespace(t *testing.T) (*config.Namespace, *PoolManager) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ns := &config.Namespace{
		Name:  "helpdesk",
		DBURL: "sqlite://" + dbPath,
		Objects: []*config.Object{
			{
				Name:           "tickets",
				ObjectName:     "tickets",
				WritePermRoles: []string{"admin"},
				Fields: []config.Column{
					{FieldName: "id", ColType: config.ColTypeInteger, PKey: true, Generator: config.GenAutoIncrement},
					{FieldName: "subject", ColType: config.ColTypeString},
					{FieldName: "status", ColType: config.ColTypeString},
				},
			},
		},
	}
	pools := NewPoolManager(nil)
	db, err := pools.Open(ns)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("create table tickets (id integer primary key autoincrement, subject text, status text)"); err != nil {
		t.Fatal(err)
	}
	return ns, pools
}

func adminContext() *invoker.Context {
	return invoker.NewContext(&invoker.JWTClaims{UserID: "1", Username: "root", Roles: []string{"admin"}})
}

func TestObjectExecutor_InsertAndFindOne(t *testing.T) {
	ns, pools := newTestNamespace(t)
	exec := NewObjectExecutor(pools)
	obj, _ := ns.FindObject("tickets")
	ctx := context.Background()
	ic := adminContext()

	row, err := exec.Insert(ctx, ic, ns, obj, map[string]interface{}{"subject": "printer on fire", "status": "open"})
	if err != nil {
		t.Fatal(err)
	}
	id, ok := row["id"]
	if !ok {
		t.Fatalf("expected autoincrement id in result, got %v", row)
	}

	found, err := exec.FindOne(ctx, ic, ns, obj, &condition.QueryCondition{And: []condition.ConditionItem{
		{Field: "id", Operator: condition.OpEqual, Value: id},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if found["subject"] != "printer on fire" {
		t.Errorf("found = %v", found)
	}
}

func TestObjectExecutor_Insert_RejectsNonAdmin(t *testing.T) {
	ns, pools := newTestNamespace(t)
	exec := NewObjectExecutor(pools)
	obj, _ := ns.FindObject("tickets")
	ic := invoker.NewContext(&invoker.JWTClaims{Roles: []string{"agent"}})

	_, err := exec.Insert(context.Background(), ic, ns, obj, map[string]interface{}{"subject": "x", "status": "open"})
	if err == nil {
		t.Fatal("expected permission error for non-admin insert")
	}
}

func TestObjectExecutor_UpdateAndDelete(t *testing.T) {
	ns, pools := newTestNamespace(t)
	exec := NewObjectExecutor(pools)
	obj, _ := ns.FindObject("tickets")
	ctx := context.Background()
	ic := adminContext()

	row, err := exec.Insert(ctx, ic, ns, obj, map[string]interface{}{"subject": "a", "status": "open"})
	if err != nil {
		t.Fatal(err)
	}
	row["status"] = "closed"
	if _, err := exec.Update(ctx, ic, ns, obj, row); err != nil {
		t.Fatal(err)
	}
	found, err := exec.FindOne(ctx, ic, ns, obj, &condition.QueryCondition{And: []condition.ConditionItem{
		{Field: "id", Operator: condition.OpEqual, Value: row["id"]},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if found["status"] != "closed" {
		t.Errorf("status = %v", found["status"])
	}

	n, err := exec.Delete(ctx, ic, ns, obj, row)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("delete affected %d rows, want 1", n)
	}
	if _, err := exec.FindOne(ctx, ic, ns, obj, &condition.QueryCondition{And: []condition.ConditionItem{
		{Field: "id", Operator: condition.OpEqual, Value: row["id"]},
	}}); err == nil {
		t.Fatal("expected not-found after delete")
	}
}

func TestObjectExecutor_Upsert_AmbiguousRejected(t *testing.T) {
	ns, pools := newTestNamespace(t)
	exec := NewObjectExecutor(pools)
	obj, _ := ns.FindObject("tickets")
	ctx := context.Background()
	ic := adminContext()

	for i := 0; i < 2; i++ {
		if _, err := exec.Insert(ctx, ic, ns, obj, map[string]interface{}{"subject": "dup", "status": "open"}); err != nil {
			t.Fatal(err)
		}
	}
	cond := &condition.QueryCondition{And: []condition.ConditionItem{{Field: "subject", Operator: condition.OpEqual, Value: "dup"}}}
	_, err := exec.Upsert(ctx, ic, ns, obj, map[string]interface{}{"status": "closed"}, cond)
	if err == nil {
		t.Fatal("expected ambiguous upsert error")
	}
}

func TestObjectExecutor_Upsert_InsertsWhenNoMatch(t *testing.T) {
	ns, pools := newTestNamespace(t)
	exec := NewObjectExecutor(pools)
	obj, _ := ns.FindObject("tickets")
	ctx := context.Background()
	ic := adminContext()

	cond := &condition.QueryCondition{And: []condition.ConditionItem{{Field: "subject", Operator: condition.OpEqual, Value: "nonexistent"}}}
	row, err := exec.Upsert(ctx, ic, ns, obj, map[string]interface{}{"subject": "fresh", "status": "open"}, cond)
	if err != nil {
		t.Fatal(err)
	}
	if row["subject"] != "fresh" {
		t.Errorf("row = %v", row)
	}
}

func TestObjectExecutor_PagedQuery(t *testing.T) {
	ns, pools := newTestNamespace(t)
	exec := NewObjectExecutor(pools)
	obj, _ := ns.FindObject("tickets")
	ctx := context.Background()
	ic := adminContext()

	for i := 0; i < 5; i++ {
		if _, err := exec.Insert(ctx, ic, ns, obj, map[string]interface{}{"subject": "t", "status": "open"}); err != nil {
			t.Fatal(err)
		}
	}
	page, err := exec.PagedQuery(ctx, ic, ns, obj, &condition.QueryCondition{
		And:    []condition.ConditionItem{{Field: "status", Operator: condition.OpEqual, Value: "open"}},
		Paging: &condition.Paging{PageNo: 1, PageSize: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalCount != 5 {
		t.Errorf("total = %d, want 5", page.TotalCount)
	}
	if len(page.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(page.Rows))
	}
}

func TestObjectExecutor_Update_NotFoundOnZeroRowsAffected(t *testing.T) {
	ns, pools := newTestNamespace(t)
	exec := NewObjectExecutor(pools)
	obj, _ := ns.FindObject("tickets")
	ctx := context.Background()
	ic := adminContext()

	_, err := exec.Update(ctx, ic, ns, obj, map[string]interface{}{"id": int64(999), "subject": "ghost", "status": "open"})
	if !errors.Is(err, invoker.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestObjectExecutor_SaveBatch_ReportsAffectRows(t *testing.T) {
	ns, pools := newTestNamespace(t)
	exec := NewObjectExecutor(pools)
	obj, _ := ns.FindObject("tickets")
	ctx := context.Background()
	ic := adminContext()

	inserted, err := exec.Insert(ctx, ic, ns, obj, map[string]interface{}{"subject": "existing", "status": "open"})
	if err != nil {
		t.Fatal(err)
	}

	rows := []map[string]interface{}{
		{"subject": "brand new", "status": "open"},
		{"id": inserted["id"], "subject": "existing", "status": "closed"},
	}
	out, err := exec.SaveBatch(ctx, ic, ns, obj, rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected a single summary row, got %d", len(out))
	}
	if out[0]["affect_rows"] != int64(2) {
		t.Errorf("affect_rows = %v, want 2", out[0]["affect_rows"])
	}

	found, err := exec.FindOne(ctx, ic, ns, obj, &condition.QueryCondition{And: []condition.ConditionItem{
		{Field: "id", Operator: condition.OpEqual, Value: inserted["id"]},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if found["status"] != "closed" {
		t.Errorf("existing row was not updated via save_batch, status = %v", found["status"])
	}
}

func TestObjectExecutor_Upsert_KeyPresenceStandsInForCondition(t *testing.T) {
	ns, pools := newTestNamespace(t)
	exec := NewObjectExecutor(pools)
	obj, _ := ns.FindObject("tickets")
	ctx := context.Background()
	ic := adminContext()

	row, err := exec.Insert(ctx, ic, ns, obj, map[string]interface{}{"subject": "a", "status": "open"})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := exec.Upsert(ctx, ic, ns, obj, map[string]interface{}{"id": row["id"], "subject": "a", "status": "closed"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if updated["status"] != "closed" {
		t.Errorf("status = %v, want closed", updated["status"])
	}

	count := 0
	rows, err := exec.Query(ctx, ic, ns, obj, nil)
	if err != nil {
		t.Fatal(err)
	}
	count = len(rows)
	if count != 1 {
		t.Fatalf("expected the keyed upsert to update in place, found %d rows", count)
	}
}

func newOrderItemsNamespace(t *testing.T) (*config.Namespace, *PoolManager) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "orders.db")
	ns := &config.Namespace{
		Name:  "shop",
		DBURL: "sqlite://" + dbPath,
		Objects: []*config.Object{
			{
				Name:           "orders",
				ObjectName:     "orders",
				WritePermRoles: []string{"admin"},
				Fields: []config.Column{
					{FieldName: "id", ColType: config.ColTypeInteger, PKey: true, Generator: config.GenAutoIncrement},
					{FieldName: "customer", ColType: config.ColTypeString},
					{FieldName: "items", ColType: config.ColTypeRelation, RelationObject: "items", RelationField: "order_id", RelationArray: true},
				},
			},
			{
				Name:           "items",
				ObjectName:     "items",
				WritePermRoles: []string{"admin"},
				Fields: []config.Column{
					{FieldName: "id", ColType: config.ColTypeInteger, PKey: true, Generator: config.GenAutoIncrement},
					{FieldName: "order_id", ColType: config.ColTypeInteger},
					{FieldName: "name", ColType: config.ColTypeString},
				},
			},
		},
	}
	pools := NewPoolManager(nil)
	db, err := pools.Open(ns)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("create table orders (id integer primary key autoincrement, customer text)"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("create table items (id integer primary key autoincrement, order_id integer, name text)"); err != nil {
		t.Fatal(err)
	}
	return ns, pools
}

func TestObjectExecutor_Insert_SyncsRelationArrayChildren(t *testing.T) {
	ns, pools := newOrderItemsNamespace(t)
	exec := NewObjectExecutor(pools)
	orders, _ := ns.FindObject("orders")
	items, _ := ns.FindObject("items")
	ctx := context.Background()
	ic := adminContext()

	order, err := exec.Insert(ctx, ic, ns, orders, map[string]interface{}{
		"customer": "acme",
		"items": []interface{}{
			map[string]interface{}{"name": "widget"},
			map[string]interface{}{"name": "gadget"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	children, err := exec.Query(ctx, ic, ns, items, &condition.QueryCondition{And: []condition.ConditionItem{
		{Field: "order_id", Operator: condition.OpEqual, Value: order["id"]},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 synced item rows, got %d", len(children))
	}
}

// TestObjectExecutor_Delete_CascadesRelationArray implements Scenario 3: an
// order's items are deleted by their join field before the order row
// itself is removed.
func TestObjectExecutor_Delete_CascadesRelationArray(t *testing.T) {
	ns, pools := newOrderItemsNamespace(t)
	exec := NewObjectExecutor(pools)
	orders, _ := ns.FindObject("orders")
	items, _ := ns.FindObject("items")
	ctx := context.Background()
	ic := adminContext()

	order, err := exec.Insert(ctx, ic, ns, orders, map[string]interface{}{
		"customer": "acme",
		"items": []interface{}{
			map[string]interface{}{"name": "widget"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := exec.Delete(ctx, ic, ns, orders, map[string]interface{}{"id": order["id"]})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("delete affected %d rows, want 1", n)
	}

	remaining, err := exec.Query(ctx, ic, ns, items, &condition.QueryCondition{And: []condition.ConditionItem{
		{Field: "order_id", Operator: condition.OpEqual, Value: order["id"]},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected cascade delete of items, found %d remaining", len(remaining))
	}
}

func newDesensitizedNamespace(t *testing.T) (*config.Namespace, *PoolManager) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "secure.db")
	ns := &config.Namespace{
		Name:    "vault",
		DBURL:   "sqlite://" + dbPath,
		AESKey:  "test-key-material",
		AESSalt: "test-salt",
		Objects: []*config.Object{
			{
				Name:       "accounts",
				ObjectName: "accounts",
				Fields: []config.Column{
					{FieldName: "id", ColType: config.ColTypeInteger, PKey: true, Generator: config.GenAutoIncrement},
					{FieldName: "owner", ColType: config.ColTypeString, Desensitize: config.DesensitizeReplace},
					{FieldName: "secret", ColType: config.ColTypeString, CryptoStore: true, Desensitize: config.DesensitizeAES},
					{FieldName: "label", ColType: config.ColTypeString},
				},
			},
		},
	}
	pools := NewPoolManager(nil)
	db, err := pools.Open(ns)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("create table accounts (id integer primary key autoincrement, owner text, secret text, label text)"); err != nil {
		t.Fatal(err)
	}
	return ns, pools
}

func TestObjectExecutor_Insert_EncryptsCryptoStoreColumn(t *testing.T) {
	ns, pools := newDesensitizedNamespace(t)
	exec := NewObjectExecutor(pools)
	obj, _ := ns.FindObject("accounts")
	ctx := context.Background()
	ic := adminContext()

	row, err := exec.Insert(ctx, ic, ns, obj, map[string]interface{}{"owner": "jane doe", "secret": "swordfish"})
	if err != nil {
		t.Fatal(err)
	}

	db, err := pools.Open(ns)
	if err != nil {
		t.Fatal(err)
	}
	var stored string
	if err := db.Get(&stored, "select secret from accounts where id = ?", row["id"]); err != nil {
		t.Fatal(err)
	}
	if stored == "swordfish" {
		t.Fatal("secret was stored in plaintext")
	}

	found, err := exec.FindOne(ctx, ic, ns, obj, &condition.QueryCondition{And: []condition.ConditionItem{
		{Field: "id", Operator: condition.OpEqual, Value: row["id"]},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if found["secret"] != "swordfish" {
		t.Errorf("decrypted read = %v, want swordfish", found["secret"])
	}
}

func TestObjectExecutor_Update_FieldWiseDiffSkipsUnchangedDesensitizedValue(t *testing.T) {
	ns, pools := newDesensitizedNamespace(t)
	exec := NewObjectExecutor(pools)
	obj, _ := ns.FindObject("accounts")
	ctx := context.Background()
	nonAdmin := invoker.NewContext(&invoker.JWTClaims{UserID: "2", Roles: []string{"agent"}})
	admin := adminContext()

	row, err := exec.Insert(ctx, admin, ns, obj, map[string]interface{}{"owner": "jane doe", "secret": "swordfish", "label": "initial"})
	if err != nil {
		t.Fatal(err)
	}

	masked, err := exec.FindOne(ctx, nonAdmin, ns, obj, &condition.QueryCondition{And: []condition.ConditionItem{
		{Field: "id", Operator: condition.OpEqual, Value: row["id"]},
	}})
	if err != nil {
		t.Fatal(err)
	}

	// A caller who only ever saw the masked "owner" echoes it back unchanged
	// alongside a genuine change to "label"; the stored owner value must not
	// be clobbered with its own masked display form.
	if _, err := exec.Update(ctx, nonAdmin, ns, obj, map[string]interface{}{"id": row["id"], "owner": masked["owner"], "label": "updated"}); err != nil {
		t.Fatal(err)
	}

	plain, err := exec.FindOne(ctx, admin, ns, obj, &condition.QueryCondition{And: []condition.ConditionItem{
		{Field: "id", Operator: condition.OpEqual, Value: row["id"]},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if plain["owner"] != "jane doe" {
		t.Errorf("field-wise diff should have left owner untouched: stored %v", plain["owner"])
	}
	if plain["label"] != "updated" {
		t.Errorf("label = %v, want updated", plain["label"])
	}
}

func newRowPermissionNamespace(t *testing.T) (*config.Namespace, *PoolManager) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "docs.db")
	ns := &config.Namespace{
		Name:  "docs",
		DBURL: "sqlite://" + dbPath,
		Objects: []*config.Object{
			{
				Name:            "docs",
				ObjectName:      "docs",
				WritePermRoles:  []string{"admin", "editor"},
				DataPermission:  true,
				PermissionField: "owner_id",
				RelativeTable:   "doc_grants",
				RelativeField:   "grant_owner",
				UserField:       "grant_user",
				Fields: []config.Column{
					{FieldName: "id", ColType: config.ColTypeInteger, PKey: true, Generator: config.GenAutoIncrement},
					{FieldName: "owner_id", ColType: config.ColTypeInteger},
					{FieldName: "title", ColType: config.ColTypeString},
				},
			},
		},
	}
	pools := NewPoolManager(nil)
	db, err := pools.Open(ns)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("create table docs (id integer primary key autoincrement, owner_id integer, title text)"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("create table doc_grants (grant_owner integer, grant_user text)"); err != nil {
		t.Fatal(err)
	}
	return ns, pools
}

func TestObjectExecutor_RowLevelPermission_FiltersReadsAndWrites(t *testing.T) {
	ns, pools := newRowPermissionNamespace(t)
	exec := NewObjectExecutor(pools)
	obj, _ := ns.FindObject("docs")
	ctx := context.Background()
	admin := adminContext()

	if _, err := exec.Insert(ctx, admin, ns, obj, map[string]interface{}{"owner_id": int64(5), "title": "roadmap"}); err != nil {
		t.Fatal(err)
	}

	db, err := pools.Open(ns)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("insert into doc_grants (grant_owner, grant_user) values (5, 'alice')"); err != nil {
		t.Fatal(err)
	}

	alice := invoker.NewContext(&invoker.JWTClaims{UserID: "alice", Roles: []string{"editor"}})
	bob := invoker.NewContext(&invoker.JWTClaims{UserID: "bob", Roles: []string{"editor"}})

	rows, err := exec.Query(ctx, alice, ns, obj, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("alice should see the granted doc, got %d rows", len(rows))
	}

	rows, err = exec.Query(ctx, bob, ns, obj, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("bob has no grant and should see no rows, got %d", len(rows))
	}

	n, err := exec.UpdateBy(ctx, bob, ns, obj, map[string]interface{}{"title": "hijacked"},
		&condition.QueryCondition{And: []condition.ConditionItem{{Field: "title", Operator: condition.OpEqual, Value: "roadmap"}}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("bob's update_by should match nothing, affected %d", n)
	}

	n, err = exec.UpdateBy(ctx, alice, ns, obj, map[string]interface{}{"title": "renamed"},
		&condition.QueryCondition{And: []condition.ConditionItem{{Field: "title", Operator: condition.OpEqual, Value: "roadmap"}}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("alice's update_by should match the granted doc, affected %d", n)
	}
}
