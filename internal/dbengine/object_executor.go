package dbengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/chimesgate/internal/condition"
	"github.com/goatkit/chimesgate/internal/config"
	"github.com/goatkit/chimesgate/internal/invoker"
)

// ObjectExecutor implements invoker.ObjectExecutor: the relational CRUD
// engine behind every "object://" invocation.
type ObjectExecutor struct {
	pools   *PoolManager
	decoder *RowDecoder
}

// NewObjectExecutor wires an executor against a pool manager.
func NewObjectExecutor(pools *PoolManager) *ObjectExecutor {
	return &ObjectExecutor{pools: pools, decoder: NewRowDecoder()}
}

// txOrDB returns the invocation's open transaction for ns if one exists,
// otherwise the namespace's plain pool handle. Per Open Question decision
// #1 (DESIGN.md), a transaction is never shared across namespaces.
func (e *ObjectExecutor) txOrDB(ic *invoker.Context, ns *config.Namespace) (sqlx.ExtContext, *sqlx.DB, error) {
	db, err := e.pools.Open(ns)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", invoker.ErrBackend, err)
	}
	if tx, ok := ic.Tx(ns.Name); ok {
		return tx, db, nil
	}
	return db, db, nil
}

func canSeeRaw(ic *invoker.Context, obj *config.Object) bool {
	claims := ic.Claims()
	if claims == nil {
		return false
	}
	return claims.HasRole("admin")
}

func callerRoles(ic *invoker.Context) []string {
	if claims := ic.Claims(); claims != nil {
		return claims.Roles
	}
	return nil
}

// --- row-level permission ---------------------------------------------------

// rowPermission is the resolved outcome of checking whether the caller is
// subject to an object's row-level data permission: disabled outright,
// bypassed by an admin role, or enabled and bound to a caller user id.
type rowPermission struct {
	enabled bool
	userID  string
}

// resolveRowPermission implements the row-level permission toggle: it only
// takes effect when the object both enables data_permission and declares the
// full relative_table/relative_field/user_field/permission_field mapping,
// and it never applies to a caller holding the admin role.
func resolveRowPermission(obj *config.Object, ic *invoker.Context) rowPermission {
	if !obj.DataPermission || obj.PermissionField == "" || obj.RelativeTable == "" || obj.RelativeField == "" || obj.UserField == "" {
		return rowPermission{}
	}
	claims := ic.Claims()
	if claims != nil && claims.HasRole("admin") {
		return rowPermission{}
	}
	var userID string
	if claims != nil {
		userID = claims.UserID
	}
	return rowPermission{enabled: true, userID: userID}
}

// selectFromClause renders the read-path source: the bare table when row
// permission doesn't apply, or table+join against the relative table when it
// does, per the "Row-level permission" join form.
func selectFromClause(obj *config.Object, perm rowPermission) (string, []interface{}) {
	if !perm.enabled {
		return obj.ObjectName, nil
	}
	from := fmt.Sprintf("%s _tbl join %s __p on __p.%s = _tbl.%s and __p.%s = ?",
		obj.ObjectName, obj.RelativeTable, obj.RelativeField, obj.PermissionField, obj.UserField)
	return from, []interface{}{perm.userID}
}

// appendPermissionSubquery implements the write-path "in (select …)" form of
// row-level permission, appended to delete_by/update_by's where clause.
func appendPermissionSubquery(obj *config.Object, ic *invoker.Context, whereSQL string, args []interface{}) (string, []interface{}) {
	perm := resolveRowPermission(obj, ic)
	if !perm.enabled {
		return whereSQL, args
	}
	filter := fmt.Sprintf("%s in (select %s from %s where %s = ?)", obj.PermissionField, obj.RelativeField, obj.RelativeTable, obj.UserField)
	args = append(args, perm.userID)
	if whereSQL == "" {
		return " where " + filter, args
	}
	return whereSQL + " and " + filter, args
}

// selectColumnList builds the column list for a plain (non select_sql) read:
// relation_array columns are never physical, so they're always excluded;
// detail_only columns are excluded unless includeDetailOnly (select/find_one)
// is set. qualify prefixes every column with "_tbl." — needed once the
// permission join introduces a second table into the FROM clause.
func selectColumnList(obj *config.Object, includeDetailOnly, qualify bool) string {
	var cols []string
	prefix := ""
	if qualify {
		prefix = "_tbl."
	}
	for _, c := range obj.Fields {
		if c.IsRelation() && c.RelationArray {
			continue
		}
		if c.DetailOnly && !includeDetailOnly {
			continue
		}
		cols = append(cols, prefix+c.FieldName)
	}
	if len(cols) == 0 {
		return "*"
	}
	return strings.Join(cols, ", ")
}

// --- reads -----------------------------------------------------------------

func (e *ObjectExecutor) Select(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) ([]map[string]interface{}, error) {
	return e.runSelect(ctx, ic, ns, obj, cond, false, true)
}

func (e *ObjectExecutor) Query(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) ([]map[string]interface{}, error) {
	return e.runSelect(ctx, ic, ns, obj, cond, false, false)
}

func (e *ObjectExecutor) FindOne(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) (map[string]interface{}, error) {
	rows, err := e.runSelect(ctx, ic, ns, obj, cond, true, true)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no row matched", invoker.ErrNotFound)
	}
	return rows[0], nil
}

func (e *ObjectExecutor) PagedQuery(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) (*invoker.Page, error) {
	if cond == nil {
		cond = &condition.QueryCondition{}
	}
	paging := cond.Paging
	if paging == nil {
		paging = &condition.Paging{PageNo: 1, PageSize: 20}
	}

	ext, _, err := e.txOrDB(ic, ns)
	if err != nil {
		return nil, err
	}

	perm := resolveRowPermission(obj, ic)
	from, permArgs := selectFromClause(obj, perm)

	countWhereSQL, countArgs, err := cond.Compile(true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", invoker.ErrMalformed, err)
	}
	countQuery := fmt.Sprintf("select count(*) from %s%s", from, countWhereSQL)
	if obj.SelectSQL != "" {
		// The select template replaces the constructed from/permission join.
		permArgs = nil
		countQuery = fmt.Sprintf("select count(*) from (%s%s) chimesgate_count", obj.SelectSQL, countWhereSQL)
	}
	var total int64
	if err := sqlx.GetContext(ctx, ext, &total, e.rebind(ns, countQuery), append(cloneArgs(permArgs), countArgs...)...); err != nil {
		return nil, fmt.Errorf("%w: counting %s: %v", invoker.ErrBackend, obj.ObjectName, err)
	}

	fullSQL, fullArgs, err := cond.Compile(false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", invoker.ErrMalformed, err)
	}
	cols := selectColumnList(obj, false, perm.enabled)
	pagedQuery := fmt.Sprintf("select %s from %s%s limit %d offset %d", cols, from, fullSQL, paging.PageSize, paging.Offset())
	if obj.SelectSQL != "" {
		pagedQuery = fmt.Sprintf("%s%s limit %d offset %d", obj.SelectSQL, fullSQL, paging.PageSize, paging.Offset())
	}
	rows, err := e.queryRows(ctx, ext, ns, pagedQuery, append(cloneArgs(permArgs), fullArgs...))
	if err != nil {
		return nil, err
	}
	decoded, err := e.decoder.DecodeRows(ns, obj, rows, canSeeRaw(ic, obj))
	if err != nil {
		return nil, err
	}
	decoded, err = e.expandRelations(ctx, ic, ns, obj, decoded)
	if err != nil {
		return nil, err
	}

	return &invoker.Page{Rows: decoded, TotalCount: total, PageNo: paging.PageNo, PageSize: paging.PageSize}, nil
}

func cloneArgs(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	copy(out, args)
	return out
}

// buildSelectQuery renders the "Select template": obj.SelectSQL used
// verbatim with the condition appended when declared, otherwise a
// constructed select against the object's table, optionally joined against
// its row-permission relative table.
func (e *ObjectExecutor) buildSelectQuery(obj *config.Object, ic *invoker.Context, cond *condition.QueryCondition, includeDetailOnly, single bool) (string, []interface{}, error) {
	whereSQL, whereArgs, err := cond.Compile(false)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", invoker.ErrMalformed, err)
	}

	if obj.SelectSQL != "" {
		query := obj.SelectSQL + whereSQL
		if single {
			query += " limit 1"
		}
		return query, whereArgs, nil
	}

	perm := resolveRowPermission(obj, ic)
	from, permArgs := selectFromClause(obj, perm)
	cols := selectColumnList(obj, includeDetailOnly, perm.enabled)
	clause := whereSQL
	if clause == "" {
		clause = " where 1=1"
	}
	args := append(cloneArgs(permArgs), whereArgs...)
	query := fmt.Sprintf("select %s from %s%s", cols, from, clause)
	if single {
		query += " limit 1"
	}
	return query, args, nil
}

func (e *ObjectExecutor) runSelect(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition, single, includeDetailOnly bool) ([]map[string]interface{}, error) {
	if cond == nil {
		cond = &condition.QueryCondition{}
	}
	ext, _, err := e.txOrDB(ic, ns)
	if err != nil {
		return nil, err
	}
	query, args, err := e.buildSelectQuery(obj, ic, cond, includeDetailOnly, single)
	if err != nil {
		return nil, err
	}
	rows, err := e.queryRows(ctx, ext, ns, query, args)
	if err != nil {
		return nil, err
	}
	decoded, err := e.decoder.DecodeRows(ns, obj, rows, canSeeRaw(ic, obj))
	if err != nil {
		return nil, err
	}
	return e.expandRelations(ctx, ic, ns, obj, decoded)
}

func (e *ObjectExecutor) queryRows(ctx context.Context, ext sqlx.ExtContext, ns *config.Namespace, query string, args []interface{}) ([]map[string]interface{}, error) {
	raw, err := ext.QueryxContext(ctx, e.rebind(ns, query), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", invoker.ErrBackend, query, err)
	}
	defer raw.Close()

	var out []map[string]interface{}
	for raw.Next() {
		row := make(map[string]interface{})
		if err := raw.MapScan(row); err != nil {
			return nil, fmt.Errorf("%w: scanning row: %v", invoker.ErrBackend, err)
		}
		out = append(out, row)
	}
	return out, raw.Err()
}

func (e *ObjectExecutor) rebind(ns *config.Namespace, query string) string {
	db, err := e.pools.Open(ns)
	if err != nil {
		return query
	}
	return RebindFor(db, query)
}

// expandRelations fills in relation columns by looking up the related
// object's rows. An array relation gets the slice of rows whose
// RelationField matches the row's own primary key. A scalar relation column
// is a physical FK column: it gets the single related row whose key
// (RelationField, or the related object's first primary key) equals the FK
// value, and when no related row is found the raw FK value queried
// alongside the rest of the row is simply left in place.
func (e *ObjectExecutor) expandRelations(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, rows []map[string]interface{}) ([]map[string]interface{}, error) {
	var relationCols []config.Column
	for _, c := range obj.Fields {
		if c.IsRelation() {
			relationCols = append(relationCols, c)
		}
	}
	if len(relationCols) == 0 {
		return rows, nil
	}
	keyCols := obj.KeyColumns()
	if len(keyCols) == 0 {
		return rows, nil
	}
	pkeyField := keyCols[0].FieldName

	for _, rc := range relationCols {
		relatedObj, ok := ns.FindObject(rc.RelationObject)
		if !ok {
			continue
		}
		for _, row := range rows {
			matchField := rc.RelationField
			matchVal, ok := row[pkeyField]
			if !rc.RelationArray {
				if rk := relatedObj.KeyColumns(); matchField == "" && len(rk) > 0 {
					matchField = rk[0].FieldName
				}
				matchVal, ok = row[rc.FieldName]
				ok = ok && matchVal != nil && matchField != ""
			}
			if !ok {
				continue
			}
			cond := &condition.QueryCondition{And: []condition.ConditionItem{
				{Field: matchField, Operator: condition.OpEqual, Value: matchVal},
			}}
			related, err := e.runSelect(ctx, ic, ns, relatedObj, cond, !rc.RelationArray, true)
			if err != nil {
				continue
			}
			if rc.RelationArray {
				row[rc.FieldName] = related
			} else if len(related) > 0 {
				row[rc.FieldName] = related[0]
			}
		}
	}
	return rows, nil
}

// --- writes ------------------------------------------------------------

// pendingRelation carries a relation_array column's submitted child rows
// through to after the parent's own primary key is known.
type pendingRelation struct {
	col  config.Column
	rows []map[string]interface{}
}

func toMapSlice(raw interface{}) []map[string]interface{} {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// transformForStorage applies the write side of desensitize() to
// crypto_store columns whose mode actually transforms the value (aes/rsa/
// base64) — replace/null are display-only masks and don't touch storage.
func transformForStorage(ns *config.Namespace, col config.Column, v interface{}) (interface{}, error) {
	if !col.CryptoStore || v == nil {
		return v, nil
	}
	switch col.Desensitize {
	case config.DesensitizeAES, config.DesensitizeRSA, config.DesensitizeBase64:
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprintf("%v", v)
		}
		return desensitize(ns, col, s)
	default:
		return v, nil
	}
}

func hasDesensitizedFields(obj *config.Object) bool {
	for _, c := range obj.Fields {
		if c.Desensitize != "" {
			return true
		}
	}
	return false
}

// resolveScalarRelation resolves a scalar ("belongs-to") relation column's
// submitted value into the FK scalar to store on the parent row. A nested
// object payload is saved first (update when its own key is present,
// otherwise insert) and its key value is written back; a bare scalar is
// passed through unchanged, on the assumption the caller already resolved
// the FK themselves.
func (e *ObjectExecutor) resolveScalarRelation(ctx context.Context, ic *invoker.Context, ns *config.Namespace, c config.Column, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	nested, ok := raw.(map[string]interface{})
	if !ok {
		return raw, nil
	}
	relatedObj, ok := ns.FindObject(c.RelationObject)
	if !ok {
		return nil, fmt.Errorf("%w: relation %q targets unknown object %q", invoker.ErrMalformed, c.FieldName, c.RelationObject)
	}
	keyField := c.RelationField
	if keyField == "" {
		if keys := relatedObj.KeyColumns(); len(keys) > 0 {
			keyField = keys[0].FieldName
		}
	}
	if keyField != "" {
		if v, ok := nested[keyField]; ok && v != nil {
			if _, err := e.Update(ctx, ic, ns, relatedObj, nested); err != nil {
				return nil, err
			}
			return v, nil
		}
	}
	saved, err := e.Insert(ctx, ic, ns, relatedObj, nested)
	if err != nil {
		return nil, err
	}
	if keyField == "" {
		return nil, fmt.Errorf("%w: relation %q has no resolvable key on %q", invoker.ErrMalformed, c.FieldName, c.RelationObject)
	}
	return saved[keyField], nil
}

// syncArrayRelations re-synchronises every deferred relation_array column
// after the parent row's primary key is known: rows carrying the child's own
// key are updated, rows without one are inserted, and children that exist
// in the database but were not resubmitted are deleted — unless the column
// declares a relation_middle join table, in which case the children
// themselves are untouched and only the link rows are rebuilt.
func (e *ObjectExecutor) syncArrayRelations(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, parentPKeyVal interface{}, deferred []pendingRelation) error {
	for _, pr := range deferred {
		relatedObj, ok := ns.FindObject(pr.col.RelationObject)
		if !ok {
			continue
		}
		var childKeyField string
		if keys := relatedObj.KeyColumns(); len(keys) > 0 {
			childKeyField = keys[0].FieldName
		}

		if pr.col.RelationMiddle != "" {
			if err := e.syncMiddleRelation(ctx, ic, ns, pr, parentPKeyVal, childKeyField); err != nil {
				return err
			}
			continue
		}

		cond := &condition.QueryCondition{And: []condition.ConditionItem{
			{Field: pr.col.RelationField, Operator: condition.OpEqual, Value: parentPKeyVal},
		}}
		existing, err := e.Query(ctx, ic, ns, relatedObj, cond)
		if err != nil {
			return err
		}
		existingByKey := make(map[string]interface{}, len(existing))
		if childKeyField != "" {
			for _, row := range existing {
				if v, ok := row[childKeyField]; ok && v != nil {
					existingByKey[fmt.Sprintf("%v", v)] = v
				}
			}
		}

		seen := make(map[string]bool, len(pr.rows))
		for _, childData := range pr.rows {
			child := cloneMap(childData)
			child[pr.col.RelationField] = parentPKeyVal

			var childKeyVal interface{}
			if childKeyField != "" {
				childKeyVal = child[childKeyField]
			}
			if childKeyVal != nil {
				key := fmt.Sprintf("%v", childKeyVal)
				if _, ok := existingByKey[key]; ok {
					seen[key] = true
					if _, err := e.Update(ctx, ic, ns, relatedObj, child); err != nil {
						return err
					}
					continue
				}
			}
			saved, err := e.Insert(ctx, ic, ns, relatedObj, child)
			if err != nil {
				return err
			}
			if childKeyField != "" {
				if v, ok := saved[childKeyField]; ok && v != nil {
					seen[fmt.Sprintf("%v", v)] = true
				}
			}
		}

		for key, val := range existingByKey {
			if seen[key] {
				continue
			}
			delCond := &condition.QueryCondition{And: []condition.ConditionItem{
				{Field: childKeyField, Operator: condition.OpEqual, Value: val},
			}}
			if _, err := e.DeleteBy(ctx, ic, ns, relatedObj, delCond); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncMiddleRelation rebuilds an N..N relation's join-table rows: every
// existing row for the parent is cleared, then one row is inserted per
// submitted child id. The child objects themselves are never written —
// relation_middle links independently-owned rows, it doesn't own them.
func (e *ObjectExecutor) syncMiddleRelation(ctx context.Context, ic *invoker.Context, ns *config.Namespace, pr pendingRelation, parentPKeyVal interface{}, childKeyField string) error {
	if childKeyField == "" {
		return fmt.Errorf("%w: relation %q has no resolvable child key for its middle table", invoker.ErrMalformed, pr.col.FieldName)
	}
	ext, _, err := e.txOrDB(ic, ns)
	if err != nil {
		return err
	}

	delQuery := fmt.Sprintf("delete from %s where %s = ?", pr.col.RelationMiddle, pr.col.RelationField)
	if _, err := ext.ExecContext(ctx, e.rebind(ns, delQuery), parentPKeyVal); err != nil {
		return fmt.Errorf("%w: clearing middle table %s: %v", invoker.ErrBackend, pr.col.RelationMiddle, err)
	}

	insQuery := fmt.Sprintf("insert into %s (%s, %s) values (?, ?)", pr.col.RelationMiddle, pr.col.RelationField, childKeyField)
	for _, childData := range pr.rows {
		childID, ok := childData[childKeyField]
		if !ok || childID == nil {
			continue
		}
		if _, err := ext.ExecContext(ctx, e.rebind(ns, insQuery), parentPKeyVal, childID); err != nil {
			return fmt.Errorf("%w: linking middle table %s: %v", invoker.ErrBackend, pr.col.RelationMiddle, err)
		}
	}
	return nil
}

func (e *ObjectExecutor) Insert(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}) (map[string]interface{}, error) {
	if err := checkWriteRoles(obj, ic); err != nil {
		return nil, err
	}
	input := cloneMap(data)
	applyGenerators(ic, obj, input, false)

	var cols []string
	var placeholders []string
	var args []interface{}
	var deferred []pendingRelation
	for _, c := range obj.Fields {
		if c.Generator == config.GenAutoIncrement {
			continue
		}
		if c.IsRelation() {
			if c.RelationArray {
				if raw, ok := input[c.FieldName]; ok {
					deferred = append(deferred, pendingRelation{col: c, rows: toMapSlice(raw)})
				}
				continue
			}
			resolved, err := e.resolveScalarRelation(ctx, ic, ns, c, input[c.FieldName])
			if err != nil {
				return nil, err
			}
			if resolved == nil {
				continue
			}
			input[c.FieldName] = resolved
			cols = append(cols, c.FieldName)
			placeholders = append(placeholders, "?")
			args = append(args, resolved)
			continue
		}
		v, ok := input[c.FieldName]
		if !ok {
			continue
		}
		transformed, err := transformForStorage(ns, c, v)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c.FieldName)
		placeholders = append(placeholders, "?")
		args = append(args, transformed)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: insert into %q has no columns", invoker.ErrMalformed, obj.Name)
	}

	ext, db, err := e.txOrDB(ic, ns)
	if err != nil {
		return nil, err
	}

	autoCol, hasAuto := autoIncrementColumn(obj)
	query := fmt.Sprintf("insert into %s (%s) values (%s)", obj.ObjectName, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	var pkeyVal interface{}
	if hasAuto && db.DriverName() == "postgres" {
		query += fmt.Sprintf(" returning %s", autoCol.FieldName)
		var newID int64
		if err := sqlx.GetContext(ctx, ext, &newID, e.rebind(ns, query), args...); err != nil {
			return nil, fmt.Errorf("%w: inserting into %s: %v", invoker.ErrBackend, obj.ObjectName, err)
		}
		input[autoCol.FieldName] = newID
		pkeyVal = newID
	} else {
		result, err := ext.ExecContext(ctx, e.rebind(ns, query), args...)
		if err != nil {
			return nil, fmt.Errorf("%w: inserting into %s: %v", invoker.ErrBackend, obj.ObjectName, err)
		}
		if hasAuto {
			if newID, err := result.LastInsertId(); err == nil {
				input[autoCol.FieldName] = newID
				pkeyVal = newID
			}
		}
	}
	if pkeyVal == nil {
		if keys := obj.KeyColumns(); len(keys) > 0 {
			pkeyVal = input[keys[0].FieldName]
		}
	}

	if len(deferred) > 0 && pkeyVal != nil {
		if err := e.syncArrayRelations(ctx, ic, ns, obj, pkeyVal, deferred); err != nil {
			return nil, err
		}
	}
	return input, nil
}

func (e *ObjectExecutor) Update(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}) (map[string]interface{}, error) {
	if err := checkWriteRoles(obj, ic); err != nil {
		return nil, err
	}
	keys := obj.KeyColumns()
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: object %q declares no primary key", invoker.ErrMalformed, obj.Name)
	}
	input := cloneMap(data)
	applyGenerators(ic, obj, input, true)

	keyCond := &condition.QueryCondition{}
	var whereParts []string
	var whereArgs []interface{}
	for _, k := range keys {
		v, ok := input[k.FieldName]
		if !ok {
			return nil, fmt.Errorf("%w: update on %q missing key field %q", invoker.ErrMalformed, obj.Name, k.FieldName)
		}
		keyCond.And = append(keyCond.And, condition.ConditionItem{Field: k.FieldName, Operator: condition.OpEqual, Value: v})
		whereParts = append(whereParts, k.FieldName+" = ?")
		whereArgs = append(whereArgs, v)
	}

	// Field-wise diff: when the caller merely echoes back a desensitised
	// field's currently-displayed value, leave the stored value untouched
	// instead of overwriting it with its own masked/decrypted display form.
	if hasDesensitizedFields(obj) {
		if current, err := e.FindOne(ctx, ic, ns, obj, keyCond); err == nil {
			for _, c := range obj.Fields {
				if c.Desensitize == "" {
					continue
				}
				v, ok := input[c.FieldName]
				if !ok {
					continue
				}
				if fmt.Sprintf("%v", v) == fmt.Sprintf("%v", current[c.FieldName]) {
					delete(input, c.FieldName)
				}
			}
		}
	}

	var deferred []pendingRelation
	var sets []string
	var args []interface{}
	for _, c := range obj.Fields {
		if c.PKey {
			continue
		}
		if c.IsRelation() {
			if c.RelationArray {
				if raw, ok := input[c.FieldName]; ok {
					deferred = append(deferred, pendingRelation{col: c, rows: toMapSlice(raw)})
				}
				continue
			}
			resolved, err := e.resolveScalarRelation(ctx, ic, ns, c, input[c.FieldName])
			if err != nil {
				return nil, err
			}
			if resolved == nil {
				continue
			}
			sets = append(sets, c.FieldName+" = ?")
			args = append(args, resolved)
			continue
		}
		v, ok := input[c.FieldName]
		if !ok {
			continue
		}
		transformed, err := transformForStorage(ns, c, v)
		if err != nil {
			return nil, err
		}
		sets = append(sets, c.FieldName+" = ?")
		args = append(args, transformed)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: update on %q has no columns to set", invoker.ErrMalformed, obj.Name)
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("update %s set %s where %s", obj.ObjectName, strings.Join(sets, ", "), strings.Join(whereParts, " and "))
	n, err := e.exec(ctx, ic, ns, query, args)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: update on %q matched no rows", invoker.ErrNotFound, obj.Name)
	}

	if len(deferred) > 0 {
		if err := e.syncArrayRelations(ctx, ic, ns, obj, input[keys[0].FieldName], deferred); err != nil {
			return nil, err
		}
	}
	return input, nil
}

// Upsert inserts data, or updates the single row matched by cond if one
// exists. When cond is nil, the primary-key fields present in data (if any)
// stand in for an explicit condition; matching more than one row is
// ambiguous and rejected outright.
func (e *ObjectExecutor) Upsert(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}, cond *condition.QueryCondition) (map[string]interface{}, error) {
	if cond == nil {
		if keys := obj.KeyColumns(); len(keys) > 0 {
			var items []condition.ConditionItem
			allPresent := true
			for _, k := range keys {
				v, ok := data[k.FieldName]
				if !ok || v == nil {
					allPresent = false
					break
				}
				items = append(items, condition.ConditionItem{Field: k.FieldName, Operator: condition.OpEqual, Value: v})
			}
			if allPresent {
				cond = &condition.QueryCondition{And: items}
			}
		}
	}
	if cond == nil {
		return e.Insert(ctx, ic, ns, obj, data)
	}
	matches, err := e.runSelect(ctx, ic, ns, obj, cond, false, true)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return e.Insert(ctx, ic, ns, obj, data)
	case 1:
		merged := cloneMap(matches[0])
		for k, v := range data {
			merged[k] = v
		}
		return e.Update(ctx, ic, ns, obj, merged)
	default:
		return nil, fmt.Errorf("%w: upsert on %q matched %d rows", invoker.ErrAmbiguousUpsert, obj.Name, len(matches))
	}
}

// SaveBatch upserts every row independently — each may carry its own
// embedded _cond to pick its upsert condition, falling back to Upsert's
// primary-key-presence rule when it doesn't — and reports how many rows were
// processed rather than echoing the rows back.
func (e *ObjectExecutor) SaveBatch(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, rows []map[string]interface{}) ([]map[string]interface{}, error) {
	var affected int64
	for _, row := range rows {
		input := cloneMap(row)
		var cond *condition.QueryCondition
		if raw, ok := input["_cond"]; ok {
			delete(input, "_cond")
			parsed, err := condition.FromMap(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: save_batch _cond: %v", invoker.ErrMalformed, err)
			}
			cond = parsed
		}
		if _, err := e.Upsert(ctx, ic, ns, obj, input, cond); err != nil {
			return nil, err
		}
		affected++
	}
	return []map[string]interface{}{{"affect_rows": affected}}, nil
}

// Delete selects the row first so its relation columns (and, for scalar
// relations, the related row's own key) are known, cascades delete_by across
// every relation target, then deletes the row itself.
func (e *ObjectExecutor) Delete(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}) (int64, error) {
	if err := checkWriteRoles(obj, ic); err != nil {
		return 0, err
	}
	keys := obj.KeyColumns()
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: object %q declares no primary key", invoker.ErrMalformed, obj.Name)
	}
	var whereParts []string
	var args []interface{}
	keyCond := &condition.QueryCondition{}
	for _, k := range keys {
		v, ok := data[k.FieldName]
		if !ok {
			return 0, fmt.Errorf("%w: delete on %q missing key field %q", invoker.ErrMalformed, obj.Name, k.FieldName)
		}
		whereParts = append(whereParts, k.FieldName+" = ?")
		args = append(args, v)
		keyCond.And = append(keyCond.And, condition.ConditionItem{Field: k.FieldName, Operator: condition.OpEqual, Value: v})
	}

	row, err := e.FindOne(ctx, ic, ns, obj, keyCond)
	if err != nil {
		if errors.Is(err, invoker.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if err := e.cascadeDeleteRelations(ctx, ic, ns, obj, row); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("delete from %s where %s", obj.ObjectName, strings.Join(whereParts, " and "))
	return e.exec(ctx, ic, ns, query, args)
}

// cascadeDeleteRelations implements the mandatory delete cascade: an array
// relation's children are deleted by their join field, a scalar relation's
// target is deleted by its own key (read back from the already-expanded row,
// or directly when no match was found on select).
func (e *ObjectExecutor) cascadeDeleteRelations(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, row map[string]interface{}) error {
	keys := obj.KeyColumns()
	var parentKey string
	if len(keys) > 0 {
		parentKey = keys[0].FieldName
	}
	for _, c := range obj.Fields {
		if !c.IsRelation() {
			continue
		}
		relatedObj, ok := ns.FindObject(c.RelationObject)
		if !ok {
			continue
		}
		if c.RelationArray {
			if parentKey == "" {
				continue
			}
			pkeyVal, ok := row[parentKey]
			if !ok {
				continue
			}
			cond := &condition.QueryCondition{And: []condition.ConditionItem{
				{Field: c.RelationField, Operator: condition.OpEqual, Value: pkeyVal},
			}}
			if _, err := e.DeleteBy(ctx, ic, ns, relatedObj, cond); err != nil {
				return fmt.Errorf("cascading delete of %q via %q: %w", relatedObj.Name, c.FieldName, err)
			}
			continue
		}

		targetKey := c.RelationField
		if targetKey == "" {
			if rk := relatedObj.KeyColumns(); len(rk) > 0 {
				targetKey = rk[0].FieldName
			}
		}
		if targetKey == "" {
			continue
		}
		raw, ok := row[c.FieldName]
		if !ok || raw == nil {
			continue
		}
		var fkVal interface{}
		if nested, isMap := raw.(map[string]interface{}); isMap {
			fkVal = nested[targetKey]
		} else {
			fkVal = raw
		}
		if fkVal == nil {
			continue
		}
		cond := &condition.QueryCondition{And: []condition.ConditionItem{
			{Field: targetKey, Operator: condition.OpEqual, Value: fkVal},
		}}
		if _, err := e.DeleteBy(ctx, ic, ns, relatedObj, cond); err != nil {
			return fmt.Errorf("cascading delete of %q via %q: %w", relatedObj.Name, c.FieldName, err)
		}
	}
	return nil
}

func (e *ObjectExecutor) DeleteBy(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) (int64, error) {
	if err := checkWriteRoles(obj, ic); err != nil {
		return 0, err
	}
	if cond == nil || (len(cond.And) == 0 && len(cond.Or) == 0) {
		return 0, fmt.Errorf("%w: delete_by on %q requires a condition", invoker.ErrMalformed, obj.Name)
	}
	whereSQL, args, err := cond.Compile(true)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", invoker.ErrMalformed, err)
	}
	whereSQL, args = appendPermissionSubquery(obj, ic, whereSQL, args)
	query := fmt.Sprintf("delete from %s%s", obj.ObjectName, whereSQL)
	return e.exec(ctx, ic, ns, query, args)
}

// UpdateBy refuses to touch relation columns at all — callers that need to
// rewrite a relation go through plain Update.
func (e *ObjectExecutor) UpdateBy(ctx context.Context, ic *invoker.Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}, cond *condition.QueryCondition) (int64, error) {
	if err := checkWriteRoles(obj, ic); err != nil {
		return 0, err
	}
	if cond == nil || (len(cond.And) == 0 && len(cond.Or) == 0) {
		return 0, fmt.Errorf("%w: update_by on %q requires a condition", invoker.ErrMalformed, obj.Name)
	}
	var sets []string
	var args []interface{}
	for _, c := range obj.Fields {
		if c.IsRelation() || c.PKey {
			continue
		}
		v, ok := data[c.FieldName]
		if !ok {
			continue
		}
		transformed, err := transformForStorage(ns, c, v)
		if err != nil {
			return 0, err
		}
		sets = append(sets, c.FieldName+" = ?")
		args = append(args, transformed)
	}
	if len(sets) == 0 {
		return 0, fmt.Errorf("%w: update_by on %q has no columns to set", invoker.ErrMalformed, obj.Name)
	}
	whereSQL, whereArgs, err := cond.Compile(true)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", invoker.ErrMalformed, err)
	}
	whereSQL, whereArgs = appendPermissionSubquery(obj, ic, whereSQL, whereArgs)
	args = append(args, whereArgs...)
	query := fmt.Sprintf("update %s set %s%s", obj.ObjectName, strings.Join(sets, ", "), whereSQL)
	return e.exec(ctx, ic, ns, query, args)
}

func (e *ObjectExecutor) exec(ctx context.Context, ic *invoker.Context, ns *config.Namespace, query string, args []interface{}) (int64, error) {
	ext, _, err := e.txOrDB(ic, ns)
	if err != nil {
		return 0, err
	}
	result, err := ext.ExecContext(ctx, e.rebind(ns, query), args...)
	if err != nil {
		return 0, fmt.Errorf("%w: executing %s: %v", invoker.ErrBackend, query, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: reading rows affected: %v", invoker.ErrBackend, err)
	}
	return n, nil
}

func checkWriteRoles(obj *config.Object, ic *invoker.Context) error {
	if !obj.HasPermission(true, callerRoles(ic)) {
		return fmt.Errorf("%w: object %q", invoker.ErrPermissionDenied, obj.Name)
	}
	return nil
}

func applyGenerators(ic *invoker.Context, obj *config.Object, data map[string]interface{}, isUpdate bool) {
	for _, c := range obj.Fields {
		if c.Generator == "" || c.Generator == config.GenAutoIncrement {
			continue
		}
		if v, ok := resolveGenerator(c, ic, isUpdate); ok {
			data[c.FieldName] = v
		}
	}
}

func autoIncrementColumn(obj *config.Object) (config.Column, bool) {
	for _, c := range obj.Fields {
		if c.Generator == config.GenAutoIncrement {
			return c, true
		}
	}
	return config.Column{}, false
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
