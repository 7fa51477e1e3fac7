package auth

import (
	"testing"
	"time"
)

func TestManager_MintAndVerify(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token, err := m.Mint("42", "agent1", []string{"agent", "admin"})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "42" || claims.Username != "agent1" {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.Roles) != 2 {
		t.Errorf("roles = %v", claims.Roles)
	}
}

func TestManager_Verify_RejectsWrongSecret(t *testing.T) {
	m := NewManager("secret-a", time.Hour)
	token, err := m.Mint("1", "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	other := NewManager("secret-b", time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Fatal("expected verification to fail with the wrong secret")
	}
}

func TestManager_Verify_RejectsExpiredToken(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)
	token, err := m.Mint("1", "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Verify(token); err == nil {
		t.Fatal("expected verification to fail for an expired token")
	}
}

func TestJwtUserClaims_ToInvokerClaims(t *testing.T) {
	c := JwtUserClaims{UserID: "1", Username: "x", Roles: []string{"admin"}}
	ic := c.ToInvokerClaims()
	if ic.UserID != "1" || !ic.HasRole("admin") {
		t.Errorf("ic = %+v", ic)
	}
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def.ghi")
	if !ok || tok != "abc.def.ghi" {
		t.Errorf("got %q, %v", tok, ok)
	}
	if _, ok := BearerToken("Basic xyz"); ok {
		t.Error("expected Basic auth header to be rejected")
	}
}
