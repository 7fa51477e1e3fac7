package dbengine

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/chimesgate/internal/condition"
	"github.com/goatkit/chimesgate/internal/config"
	"github.com/goatkit/chimesgate/internal/invoker"
)

// QueryExecutor implements invoker.QueryExecutor: runs the engine's named,
// parameterised SQL queries.
type QueryExecutor struct {
	pools   *PoolManager
	decoder *RowDecoder
}

// NewQueryExecutor wires a QueryExecutor against a pool manager.
func NewQueryExecutor(pools *PoolManager) *QueryExecutor {
	return &QueryExecutor{pools: pools, decoder: NewRowDecoder()}
}

// bindParams resolves q.Params (in declaration order) against the supplied
// params map into positional args for the query body's own "?"
// placeholders.
func bindParams(q *config.Query, params map[string]interface{}) ([]interface{}, error) {
	args := make([]interface{}, 0, len(q.Params))
	for _, p := range q.Params {
		v, ok := params[p.FieldName]
		if !ok {
			return nil, fmt.Errorf("%w: named query %q missing parameter %q", invoker.ErrMalformed, q.Name, p.FieldName)
		}
		args = append(args, v)
	}
	return args, nil
}

func (e *QueryExecutor) Run(ctx context.Context, ic *invoker.Context, ns *config.Namespace, q *config.Query, params map[string]interface{}, cond *condition.QueryCondition) ([]map[string]interface{}, error) {
	if !q.HasPermission(callerRoles(ic)) {
		return nil, fmt.Errorf("%w: query %q", invoker.ErrPermissionDenied, q.Name)
	}
	paramArgs, err := bindParams(q, params)
	if err != nil {
		return nil, err
	}

	db, err := e.pools.Open(ns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", invoker.ErrBackend, err)
	}
	var ext sqlx.ExtContext = db
	if tx, ok := ic.Tx(ns.Name); ok {
		ext = tx
	}

	sqlText := fmt.Sprintf("select * from (%s) as chimesgate_named_query", q.Body)
	args := paramArgs
	if cond != nil {
		whereSQL, condArgs, cerr := cond.Compile(false)
		if cerr != nil {
			return nil, fmt.Errorf("%w: %v", invoker.ErrMalformed, cerr)
		}
		sqlText += whereSQL
		args = append(args, condArgs...)
	}

	rows, err := queryRowsRaw(ctx, ext, RebindFor(db, sqlText), args)
	if err != nil {
		return nil, fmt.Errorf("%w: running query %q: %v", invoker.ErrBackend, q.Name, err)
	}
	return e.decodeQueryRows(ns, q, rows)
}

func (e *QueryExecutor) RunPaged(ctx context.Context, ic *invoker.Context, ns *config.Namespace, q *config.Query, params map[string]interface{}, cond *condition.QueryCondition) (*invoker.Page, error) {
	if !q.HasPermission(callerRoles(ic)) {
		return nil, fmt.Errorf("%w: query %q", invoker.ErrPermissionDenied, q.Name)
	}
	paramArgs, err := bindParams(q, params)
	if err != nil {
		return nil, err
	}
	if cond == nil {
		cond = &condition.QueryCondition{}
	}
	paging := cond.Paging
	if paging == nil {
		paging = &condition.Paging{PageNo: 1, PageSize: 20}
	}

	db, err := e.pools.Open(ns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", invoker.ErrBackend, err)
	}
	var ext sqlx.ExtContext = db
	if tx, ok := ic.Tx(ns.Name); ok {
		ext = tx
	}

	countBody := q.CountQuery
	if countBody == "" {
		countBody = fmt.Sprintf("select count(*) from (%s) as chimesgate_named_query_count", q.Body)
	}
	whereOnly, condArgs, err := cond.Compile(true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", invoker.ErrMalformed, err)
	}
	var total int64
	countArgs := append(append([]interface{}{}, paramArgs...), condArgs...)
	if err := sqlx.GetContext(ctx, ext, &total, RebindFor(db, countBody+whereOnly), countArgs...); err != nil {
		return nil, fmt.Errorf("%w: counting query %q: %v", invoker.ErrBackend, q.Name, err)
	}

	fullWhere, fullCondArgs, err := cond.Compile(false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", invoker.ErrMalformed, err)
	}
	sqlText := fmt.Sprintf("select * from (%s) as chimesgate_named_query%s limit %d offset %d", q.Body, fullWhere, paging.PageSize, paging.Offset())
	args := append(append([]interface{}{}, paramArgs...), fullCondArgs...)
	rows, err := queryRowsRaw(ctx, ext, RebindFor(db, sqlText), args)
	if err != nil {
		return nil, fmt.Errorf("%w: running paged query %q: %v", invoker.ErrBackend, q.Name, err)
	}
	decoded, err := e.decodeQueryRows(ns, q, rows)
	if err != nil {
		return nil, err
	}
	return &invoker.Page{Rows: decoded, TotalCount: total, PageNo: paging.PageNo, PageSize: paging.PageSize}, nil
}

func (e *QueryExecutor) decodeQueryRows(ns *config.Namespace, q *config.Query, rows []map[string]interface{}) ([]map[string]interface{}, error) {
	if len(q.Fields) == 0 {
		return rows, nil
	}
	// Reuse the row decoder's column-type conversion by projecting the
	// query's declared result fields as a throwaway Object.
	asObject := &config.Object{Name: q.Name, Fields: q.Fields}
	return e.decoder.DecodeRows(ns, asObject, rows, true)
}

func queryRowsRaw(ctx context.Context, ext sqlx.ExtContext, query string, args []interface{}) ([]map[string]interface{}, error) {
	rows, err := ext.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
