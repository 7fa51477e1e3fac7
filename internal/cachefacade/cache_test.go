package cachefacade

import (
	"context"
	"testing"
	"time"
)

func TestKey_DeterministicAndNamespacedByMethod(t *testing.T) {
	k1, err := Key("tickets", "select", "object://helpdesk/tickets", "alice", map[string]interface{}{"id": 1})
	if err != nil {
		t.Fatal(err)
	}
	k2, err := Key("tickets", "select", "object://helpdesk/tickets", "alice", map[string]interface{}{"id": 1})
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Errorf("expected deterministic key, got %q vs %q", k1, k2)
	}
	k3, err := Key("tickets", "query", "object://helpdesk/tickets", "alice", map[string]interface{}{"id": 1})
	if err != nil {
		t.Fatal(err)
	}
	if k1 == k3 {
		t.Error("expected different methods to produce different keys")
	}
}

func TestFacade_NilClientIsAlwaysMissAndNoOp(t *testing.T) {
	f := New(nil)
	ctx := context.Background()

	var dst map[string]interface{}
	hit, err := f.Get(ctx, "some-key", &dst)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("expected a no-op facade to always miss")
	}
	if err := f.Set(ctx, "some-key", map[string]interface{}{"a": 1}, time.Minute, "tickets-query-"); err != nil {
		t.Fatal(err)
	}
	if err := f.InvalidatePrefix(ctx, "tickets-query-"); err != nil {
		t.Fatal(err)
	}
	if err := f.InvalidateKey(ctx, "some-key"); err != nil {
		t.Fatal(err)
	}
}
