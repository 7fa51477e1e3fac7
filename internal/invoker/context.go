// Package invoker holds the invocation context threaded through every
// engine call and the schema registry that dispatches an invocation URI to
// the object executor, query executor, or a plugin.
package invoker

import (
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// JWTClaims is the minimal identity carried on a Context, mirroring
// internal/auth's JwtUserClaims without creating an import cycle between
// invoker and auth.
type JWTClaims struct {
	UserID   string
	Username string
	Roles    []string
}

// HasRole reports whether the identity carries role.
func (c JWTClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Context is the per-invocation scratchpad: typed request/response storage,
// a failed flag that makes Finish roll back instead of commit, the caller's
// JWT claims, and one open transaction per namespace the invocation has
// touched.
type Context struct {
	mu     sync.Mutex
	values map[string]interface{}
	failed bool
	reason string
	claims *JWTClaims
	txs    map[string]*sqlx.Tx
}

// NewContext returns an empty invocation context, optionally identified.
func NewContext(claims *JWTClaims) *Context {
	return &Context{
		values: make(map[string]interface{}),
		txs:    make(map[string]*sqlx.Tx),
		claims: claims,
	}
}

// Claims returns the caller's identity, or nil for an anonymous invocation.
func (c *Context) Claims() *JWTClaims {
	return c.claims
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a value under key, available to every later stage of the
// invocation (hooks, executors, the HTTP layer building the response).
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// GetString is a typed convenience wrapper over Get.
func (c *Context) GetString(key string) (string, bool) {
	v, ok := c.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Fail marks the invocation as failed with reason; Finish then rolls back
// every open transaction instead of committing it.
func (c *Context) Fail(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = true
	c.reason = reason
}

// Failed reports whether Fail was called, and with what reason.
func (c *Context) Failed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed, c.reason
}

// Tx returns the open transaction for namespace, if the invocation has
// already started one.
func (c *Context) Tx(namespace string) (*sqlx.Tx, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[namespace]
	return tx, ok
}

// SetTx records the transaction the invocation is using for namespace. It
// refuses to replace an existing transaction for the same namespace —
// callers should look one up with Tx first.
func (c *Context) SetTx(namespace string, tx *sqlx.Tx) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.txs[namespace]; exists {
		return fmt.Errorf("invoker: context already holds a transaction for namespace %q", namespace)
	}
	c.txs[namespace] = tx
	return nil
}

// EachTx calls fn for every transaction the context opened, in unspecified
// order. Used by the invoker's top-level commit/rollback pass.
func (c *Context) EachTx(fn func(namespace string, tx *sqlx.Tx)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ns, tx := range c.txs {
		fn(ns, tx)
	}
}

// Finish commits every open transaction if the invocation did not fail, or
// rolls all of them back if it did. It always clears the transaction map
// afterwards so a context cannot be finished twice.
func (c *Context) Finish() error {
	c.mu.Lock()
	failed := c.failed
	txs := c.txs
	c.txs = make(map[string]*sqlx.Tx)
	c.mu.Unlock()

	var firstErr error
	for ns, tx := range txs {
		var err error
		if failed {
			err = tx.Rollback()
		} else {
			err = tx.Commit()
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invoker: finishing transaction for namespace %q: %w", ns, err)
		}
	}
	return firstErr
}
