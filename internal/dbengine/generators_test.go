package dbengine

import (
	"testing"

	"github.com/goatkit/chimesgate/internal/config"
	"github.com/goatkit/chimesgate/internal/invoker"
)

func TestResolveGenerator_UUIDOnlyOnInsert(t *testing.T) {
	col := config.Column{FieldName: "id", Generator: config.GenUUID}
	v, ok := resolveGenerator(col, invoker.NewContext(nil), false)
	if !ok {
		t.Fatal("expected uuid to resolve on insert")
	}
	if s, isString := v.(string); !isString || len(s) == 0 {
		t.Errorf("v = %v", v)
	}
	if _, ok := resolveGenerator(col, invoker.NewContext(nil), true); ok {
		t.Error("uuid generator should not apply on update")
	}
}

func TestResolveGenerator_CurUserIDNeedsClaims(t *testing.T) {
	col := config.Column{FieldName: "created_by", Generator: config.GenCurUserID}
	if _, ok := resolveGenerator(col, invoker.NewContext(nil), false); ok {
		t.Error("expected no value without claims")
	}
	ic := invoker.NewContext(&invoker.JWTClaims{UserID: "7"})
	v, ok := resolveGenerator(col, ic, false)
	if !ok || v != "7" {
		t.Errorf("v = %v, ok = %v", v, ok)
	}
}

func TestResolveGenerator_ModVariantsOnlyOnUpdate(t *testing.T) {
	col := config.Column{FieldName: "updated_by", Generator: config.GenModUserID}
	ic := invoker.NewContext(&invoker.JWTClaims{UserID: "9"})
	if _, ok := resolveGenerator(col, ic, false); ok {
		t.Error("mod_user_id should not apply on insert")
	}
	v, ok := resolveGenerator(col, ic, true)
	if !ok || v != "9" {
		t.Errorf("v = %v, ok = %v", v, ok)
	}
}

func TestSnowflake_MonotonicAndUnique(t *testing.T) {
	sf := &snowflake{nodeID: 2}
	seen := make(map[int64]bool)
	var prev int64
	for i := 0; i < 1000; i++ {
		id := sf.next()
		if seen[id] {
			t.Fatalf("duplicate snowflake id %d", id)
		}
		seen[id] = true
		if id <= prev {
			t.Fatalf("snowflake id not increasing: %d <= %d", id, prev)
		}
		prev = id
	}
}
