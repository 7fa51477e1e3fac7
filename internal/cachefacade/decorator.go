package cachefacade

import (
	"context"
	"time"

	"github.com/goatkit/chimesgate/internal/condition"
	"github.com/goatkit/chimesgate/internal/config"
	"github.com/goatkit/chimesgate/internal/invoker"
)

// CachedObjectExecutor wraps an invoker.ObjectExecutor with read-through
// caching on the four read methods (FindOne/Select/Query/PagedQuery) and write-invalidation on
// every mutating method. Objects that don't set
// enable_cache pass straight through to next with no redis round trip.
type CachedObjectExecutor struct {
	next    invoker.ObjectExecutor
	manager *Manager
}

// NewCachedObjectExecutor wraps next with manager's per-namespace facades.
func NewCachedObjectExecutor(next invoker.ObjectExecutor, manager *Manager) *CachedObjectExecutor {
	return &CachedObjectExecutor{next: next, manager: manager}
}

func (c *CachedObjectExecutor) facade(ns *config.Namespace) *Facade {
	f, err := c.manager.Facade(ns)
	if err != nil {
		return New(nil)
	}
	return f
}

func objectPrefix(ns *config.Namespace, obj *config.Object) string {
	return "object://" + ns.Name + "/" + obj.Name
}

func username(ic *invoker.Context) string {
	if claims := ic.Claims(); claims != nil {
		return claims.Username
	}
	return ""
}

func (c *CachedObjectExecutor) FindOne(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) (map[string]interface{}, error) {
	if !obj.EnableCache {
		return c.next.FindOne(ctx, ic, ns, obj, cond)
	}
	prefix := objectPrefix(ns, obj)
	key, err := Key(obj.Name, "find_one", prefix, username(ic), cond)
	f := c.facade(ns)
	if err == nil {
		var cached map[string]interface{}
		if hit, _ := f.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}
	row, err2 := c.next.FindOne(ctx, ic, ns, obj, cond)
	if err2 == nil && err == nil {
		_ = f.Set(ctx, key, row, time.Duration(obj.EffectiveCacheTime())*time.Second, prefix)
	}
	return row, err2
}

func (c *CachedObjectExecutor) Select(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) ([]map[string]interface{}, error) {
	if !obj.EnableCache {
		return c.next.Select(ctx, ic, ns, obj, cond)
	}
	prefix := objectPrefix(ns, obj)
	key, err := Key(obj.Name, "select", prefix, username(ic), cond)
	f := c.facade(ns)
	if err == nil {
		var cached []map[string]interface{}
		if hit, _ := f.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}
	rows, err2 := c.next.Select(ctx, ic, ns, obj, cond)
	if err2 == nil && err == nil {
		_ = f.Set(ctx, key, rows, time.Duration(obj.EffectiveCacheTime())*time.Second, prefix)
	}
	return rows, err2
}

func (c *CachedObjectExecutor) Query(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) ([]map[string]interface{}, error) {
	if !obj.EnableCache {
		return c.next.Query(ctx, ic, ns, obj, cond)
	}
	prefix := objectPrefix(ns, obj)
	key, err := Key(obj.Name, "query", prefix, username(ic), cond)
	f := c.facade(ns)
	if err == nil {
		var cached []map[string]interface{}
		if hit, _ := f.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}
	rows, err2 := c.next.Query(ctx, ic, ns, obj, cond)
	if err2 == nil && err == nil {
		_ = f.Set(ctx, key, rows, time.Duration(obj.EffectiveCacheTime())*time.Second, prefix)
	}
	return rows, err2
}

func (c *CachedObjectExecutor) PagedQuery(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) (*invoker.Page, error) {
	if !obj.EnableCache {
		return c.next.PagedQuery(ctx, ic, ns, obj, cond)
	}
	prefix := objectPrefix(ns, obj)
	key, err := Key(obj.Name, "paged_query", prefix, username(ic), cond)
	f := c.facade(ns)
	if err == nil {
		var cached invoker.Page
		if hit, _ := f.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}
	page, err2 := c.next.PagedQuery(ctx, ic, ns, obj, cond)
	if err2 == nil && err == nil {
		_ = f.Set(ctx, key, page, time.Duration(obj.EffectiveCacheTime())*time.Second, prefix)
	}
	return page, err2
}

func (c *CachedObjectExecutor) invalidate(ctx context.Context, ns *config.Namespace, obj *config.Object) {
	if !obj.EnableCache {
		return
	}
	_ = c.facade(ns).InvalidatePrefix(ctx, objectPrefix(ns, obj))
}

func (c *CachedObjectExecutor) Insert(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}) (map[string]interface{}, error) {
	row, err := c.next.Insert(ctx, ic, ns, obj, data)
	if err == nil {
		c.invalidate(ctx, ns, obj)
	}
	return row, err
}

func (c *CachedObjectExecutor) Update(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}) (map[string]interface{}, error) {
	row, err := c.next.Update(ctx, ic, ns, obj, data)
	if err == nil {
		c.invalidate(ctx, ns, obj)
	}
	return row, err
}

func (c *CachedObjectExecutor) Upsert(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}, cond *condition.QueryCondition) (map[string]interface{}, error) {
	row, err := c.next.Upsert(ctx, ic, ns, obj, data, cond)
	if err == nil {
		c.invalidate(ctx, ns, obj)
	}
	return row, err
}

func (c *CachedObjectExecutor) SaveBatch(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, rows []map[string]interface{}) ([]map[string]interface{}, error) {
	out, err := c.next.SaveBatch(ctx, ic, ns, obj, rows)
	if err == nil {
		c.invalidate(ctx, ns, obj)
	}
	return out, err
}

func (c *CachedObjectExecutor) Delete(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}) (int64, error) {
	n, err := c.next.Delete(ctx, ic, ns, obj, data)
	if err == nil {
		c.invalidate(ctx, ns, obj)
	}
	return n, err
}

func (c *CachedObjectExecutor) DeleteBy(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) (int64, error) {
	n, err := c.next.DeleteBy(ctx, ic, ns, obj, cond)
	if err == nil {
		c.invalidate(ctx, ns, obj)
	}
	return n, err
}

func (c *CachedObjectExecutor) UpdateBy(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}, cond *condition.QueryCondition) (int64, error) {
	n, err := c.next.UpdateBy(ctx, ic, ns, obj, data, cond)
	if err == nil {
		c.invalidate(ctx, ns, obj)
	}
	return n, err
}

// CachedQueryExecutor is CachedObjectExecutor's analogue for named queries:
// reads cache, writes never invalidate since a named query is read-only by
// construction.
type CachedQueryExecutor struct {
	next    invoker.QueryExecutor
	manager *Manager
}

// NewCachedQueryExecutor wraps next with manager's per-namespace facades.
func NewCachedQueryExecutor(next invoker.QueryExecutor, manager *Manager) *CachedQueryExecutor {
	return &CachedQueryExecutor{next: next, manager: manager}
}

func (c *CachedQueryExecutor) Run(ctx context.Context, ic *invoker.Context, ns *config.Namespace, q *config.Query, params map[string]interface{}, cond *condition.QueryCondition) ([]map[string]interface{}, error) {
	if !q.EnableCache {
		return c.next.Run(ctx, ic, ns, q, params, cond)
	}
	prefix := "query://" + ns.Name + "/" + q.Name
	key, err := Key(q.Name, "search", prefix, username(ic), struct {
		Params map[string]interface{}
		Cond   *condition.QueryCondition
	}{params, cond})
	f, ferr := c.manager.Facade(ns)
	if ferr != nil {
		f = New(nil)
	}
	if err == nil {
		var cached []map[string]interface{}
		if hit, _ := f.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}
	rows, err2 := c.next.Run(ctx, ic, ns, q, params, cond)
	if err2 == nil && err == nil {
		_ = f.Set(ctx, key, rows, time.Duration(q.EffectiveCacheTime())*time.Second, prefix)
	}
	return rows, err2
}

func (c *CachedQueryExecutor) RunPaged(ctx context.Context, ic *invoker.Context, ns *config.Namespace, q *config.Query, params map[string]interface{}, cond *condition.QueryCondition) (*invoker.Page, error) {
	if !q.EnableCache {
		return c.next.RunPaged(ctx, ic, ns, q, params, cond)
	}
	prefix := "query://" + ns.Name + "/" + q.Name
	key, err := Key(q.Name, "paged_search", prefix, username(ic), struct {
		Params map[string]interface{}
		Cond   *condition.QueryCondition
	}{params, cond})
	f, ferr := c.manager.Facade(ns)
	if ferr != nil {
		f = New(nil)
	}
	if err == nil {
		var cached invoker.Page
		if hit, _ := f.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}
	page, err2 := c.next.RunPaged(ctx, ic, ns, q, params, cond)
	if err2 == nil && err == nil {
		_ = f.Set(ctx, key, page, time.Duration(q.EffectiveCacheTime())*time.Second, prefix)
	}
	return page, err2
}
