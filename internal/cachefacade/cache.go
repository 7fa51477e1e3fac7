// Package cachefacade is the read-through/write-invalidate cache in front of
// object and query reads.
package cachefacade

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Facade is a per-namespace cache handle. Each namespace with a redis_url
// gets its own Facade over its own *redis.Client; namespaces without a
// redis_url get a Facade with a nil client, and every call is a no-op miss.
type Facade struct {
	client *redis.Client
}

// New wires a Facade over an existing redis client. Passing nil yields a
// Facade that behaves as an always-miss, no-op cache — used for namespaces
// that declare no redis_url.
func New(client *redis.Client) *Facade {
	return &Facade{client: client}
}

// Key builds the cache key for an object/query invocation: the canonical
// "<object>-<method>-<md5 of url_no_method + '#' + username + '#' + json(args)>"
// shape from "Cache entry" / §4.9.
func Key(objectName, method, urlNoMethod, username string, args interface{}) (string, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("cachefacade: marshaling cache key args: %w", err)
	}
	digestInput := urlNoMethod + "#" + username + "#" + string(payload)
	sum := md5.Sum([]byte(digestInput))
	return fmt.Sprintf("%s-%s-%s", objectName, method, hex.EncodeToString(sum[:])), nil
}

// Get fetches and JSON-decodes a cached value into dst. Returns false on a
// cache miss (including when the facade has no backing client).
func (f *Facade) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	if f.client == nil {
		return false, nil
	}
	raw, err := f.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cachefacade: GET %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("cachefacade: decoding cached value for %q: %w", key, err)
	}
	return true, nil
}

// Set JSON-encodes value and stores it under key with the given TTL, and
// records key in the prefix index for every prefix in prefixes so a later
// InvalidatePrefix can find it (Open Question decision #2 in DESIGN.md).
func (f *Facade) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, prefixes ...string) error {
	if f.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cachefacade: marshaling value for %q: %w", key, err)
	}
	pipe := f.client.TxPipeline()
	pipe.Set(ctx, key, payload, ttl)
	for _, prefix := range prefixes {
		pipe.SAdd(ctx, prefixIndexKey(prefix), key)
		// The index itself should not outlive its longest-lived member by
		// much; refresh its TTL generously past the entry's own TTL.
		pipe.Expire(ctx, prefixIndexKey(prefix), ttl+time.Hour)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cachefacade: SET %q: %w", key, err)
	}
	return nil
}

// InvalidatePrefix deletes every key previously Set under prefix, using the
// auxiliary per-prefix SET populated by Set rather than a blocking
// `SCAN <prefix>*` (Open Question decision #2).
func (f *Facade) InvalidatePrefix(ctx context.Context, prefix string) error {
	if f.client == nil {
		return nil
	}
	indexKey := prefixIndexKey(prefix)
	members, err := f.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("cachefacade: SMEMBERS %q: %w", indexKey, err)
	}
	if len(members) == 0 {
		return nil
	}
	pipe := f.client.Pipeline()
	keys := make([]string, 0, len(members)+1)
	keys = append(keys, members...)
	keys = append(keys, indexKey)
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cachefacade: invalidating prefix %q: %w", prefix, err)
	}
	return nil
}

// InvalidateKey deletes a single key outright. The executor decorators do
// not call it; they invalidate whole prefixes instead.
func (f *Facade) InvalidateKey(ctx context.Context, key string) error {
	if f.client == nil {
		return nil
	}
	if err := f.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cachefacade: DEL %q: %w", key, err)
	}
	return nil
}

func prefixIndexKey(prefix string) string {
	return "chimesgate:prefix-index:" + prefix
}
