package cachefacade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/chimesgate/internal/condition"
	"github.com/goatkit/chimesgate/internal/config"
	"github.com/goatkit/chimesgate/internal/invoker"
)

// stubObjectExecutor is a minimal invoker.ObjectExecutor that counts calls
// so the cache decorator's hit/miss behaviour can be asserted without a
// live redis server: every namespace in these tests has no redis_url, so
// Manager.Facade hands back a permanently-miss Facade and the decorator's
// cache branch always falls through to stubObjectExecutor — these tests
// exercise the enable_cache gating and invalidation call-through, not an
// actual cache hit.
type stubObjectExecutor struct {
	selectCalls int
	deleteCalls int
	row         map[string]interface{}
}

func (s *stubObjectExecutor) Select(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) ([]map[string]interface{}, error) {
	s.selectCalls++
	return []map[string]interface{}{s.row}, nil
}

func (s *stubObjectExecutor) FindOne(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) (map[string]interface{}, error) {
	return s.row, nil
}

func (s *stubObjectExecutor) Query(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) ([]map[string]interface{}, error) {
	return []map[string]interface{}{s.row}, nil
}

func (s *stubObjectExecutor) PagedQuery(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) (*invoker.Page, error) {
	return &invoker.Page{Rows: []map[string]interface{}{s.row}, TotalCount: 1}, nil
}

func (s *stubObjectExecutor) Insert(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}) (map[string]interface{}, error) {
	return data, nil
}

func (s *stubObjectExecutor) Update(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}) (map[string]interface{}, error) {
	return data, nil
}

func (s *stubObjectExecutor) Upsert(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}, cond *condition.QueryCondition) (map[string]interface{}, error) {
	return data, nil
}

func (s *stubObjectExecutor) SaveBatch(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, rows []map[string]interface{}) ([]map[string]interface{}, error) {
	return rows, nil
}

func (s *stubObjectExecutor) Delete(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}) (int64, error) {
	s.deleteCalls++
	return 1, nil
}

func (s *stubObjectExecutor) DeleteBy(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) (int64, error) {
	s.deleteCalls++
	return 1, nil
}

func (s *stubObjectExecutor) UpdateBy(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}, cond *condition.QueryCondition) (int64, error) {
	return 1, nil
}

func testNamespace() *config.Namespace {
	return &config.Namespace{Name: "helpdesk"}
}

func TestCachedObjectExecutor_PassesThroughWhenCacheDisabled(t *testing.T) {
	stub := &stubObjectExecutor{row: map[string]interface{}{"id": 1}}
	dec := NewCachedObjectExecutor(stub, NewManager())
	obj := &config.Object{Name: "tickets"}
	ns := testNamespace()

	_, err := dec.Select(context.Background(), invoker.NewContext(nil), ns, obj, nil)
	require.NoError(t, err)
	_, err = dec.Select(context.Background(), invoker.NewContext(nil), ns, obj, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, stub.selectCalls, "no-cache object should call through every time")
}

func TestCachedObjectExecutor_MissingRedisURLStillCallsThrough(t *testing.T) {
	stub := &stubObjectExecutor{row: map[string]interface{}{"id": 1}}
	dec := NewCachedObjectExecutor(stub, NewManager())
	obj := &config.Object{Name: "tickets", EnableCache: true, CacheTime: 30}
	ns := testNamespace()

	rows, err := dec.Select(context.Background(), invoker.NewContext(nil), ns, obj, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, stub.selectCalls, "a namespace with no redis_url gets a no-op facade: always a miss")
}

func TestCachedObjectExecutor_DeleteInvalidatesWithoutPanicking(t *testing.T) {
	stub := &stubObjectExecutor{row: map[string]interface{}{"id": 1}}
	dec := NewCachedObjectExecutor(stub, NewManager())
	obj := &config.Object{Name: "tickets", EnableCache: true}
	ns := testNamespace()

	n, err := dec.Delete(context.Background(), invoker.NewContext(nil), ns, obj, map[string]interface{}{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, stub.deleteCalls)
}

type stubQueryExecutor struct {
	runCalls int
	rows     []map[string]interface{}
}

func (s *stubQueryExecutor) Run(ctx context.Context, ic *invoker.Context, ns *config.Namespace, q *config.Query, params map[string]interface{}, cond *condition.QueryCondition) ([]map[string]interface{}, error) {
	s.runCalls++
	return s.rows, nil
}

func (s *stubQueryExecutor) RunPaged(ctx context.Context, ic *invoker.Context, ns *config.Namespace, q *config.Query, params map[string]interface{}, cond *condition.QueryCondition) (*invoker.Page, error) {
	return &invoker.Page{Rows: s.rows, TotalCount: int64(len(s.rows))}, nil
}

func TestCachedQueryExecutor_RunPassesThroughWhenCacheDisabled(t *testing.T) {
	stub := &stubQueryExecutor{rows: []map[string]interface{}{{"a": 1}}}
	dec := NewCachedQueryExecutor(stub, NewManager())
	q := &config.Query{Name: "open_tickets"}
	ns := testNamespace()

	_, err := dec.Run(context.Background(), invoker.NewContext(nil), ns, q, nil, nil)
	require.NoError(t, err)
	_, err = dec.Run(context.Background(), invoker.NewContext(nil), ns, q, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, stub.runCalls)
}
