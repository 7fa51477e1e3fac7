package invoker

import (
	"context"
	"fmt"

	"github.com/goatkit/chimesgate/internal/condition"
	"github.com/goatkit/chimesgate/internal/config"
	"github.com/goatkit/chimesgate/internal/invokeuri"
)

// NamespaceSource resolves a namespace by name. internal/registry's
// Registry satisfies this; invoker depends only on the interface so the
// two packages don't import each other.
type NamespaceSource interface {
	Namespace(name string) (*config.Namespace, bool)
}

// ObjectExecutor runs the CRUD/query methods a stored object exposes.
// internal/dbengine's ObjectExecutor satisfies this.
type ObjectExecutor interface {
	Select(ctx context.Context, ic *Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) ([]map[string]interface{}, error)
	FindOne(ctx context.Context, ic *Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) (map[string]interface{}, error)
	Query(ctx context.Context, ic *Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) ([]map[string]interface{}, error)
	PagedQuery(ctx context.Context, ic *Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) (*Page, error)
	Insert(ctx context.Context, ic *Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}) (map[string]interface{}, error)
	Update(ctx context.Context, ic *Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}) (map[string]interface{}, error)
	Upsert(ctx context.Context, ic *Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}, cond *condition.QueryCondition) (map[string]interface{}, error)
	SaveBatch(ctx context.Context, ic *Context, ns *config.Namespace, obj *config.Object, rows []map[string]interface{}) ([]map[string]interface{}, error)
	Delete(ctx context.Context, ic *Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}) (int64, error)
	DeleteBy(ctx context.Context, ic *Context, ns *config.Namespace, obj *config.Object, cond *condition.QueryCondition) (int64, error)
	UpdateBy(ctx context.Context, ic *Context, ns *config.Namespace, obj *config.Object, data map[string]interface{}, cond *condition.QueryCondition) (int64, error)
}

// QueryExecutor runs named queries. internal/dbengine's QueryExecutor
// satisfies this.
type QueryExecutor interface {
	// Run and RunPaged bind params against the named query's own declared
	// parameter placeholders (in q.Params order), then layer cond on top
	// as an additional filter over the query's result set.
	Run(ctx context.Context, ic *Context, ns *config.Namespace, q *config.Query, params map[string]interface{}, cond *condition.QueryCondition) ([]map[string]interface{}, error)
	RunPaged(ctx context.Context, ic *Context, ns *config.Namespace, q *config.Query, params map[string]interface{}, cond *condition.QueryCondition) (*Page, error)
}

// PluginInvoker dispatches to a registered plugin instance.
// internal/plugin's registry satisfies this.
type PluginInvoker interface {
	InvokeReturnOption(ctx context.Context, ic *Context, protocol, namespace, name, method string, args map[string]interface{}) (map[string]interface{}, error)
	InvokeReturnVec(ctx context.Context, ic *Context, protocol, namespace, name, method string, args map[string]interface{}) ([]map[string]interface{}, error)
	InvokeReturnPage(ctx context.Context, ic *Context, protocol, namespace, name, method string, args map[string]interface{}) (*Page, error)
}

// Page is a single page of results plus the total row count, returned by
// every paged_query/paged_search style operation.
type Page struct {
	Rows       []map[string]interface{} `json:"rows"`
	TotalCount int64                    `json:"total_count"`
	PageNo     int                      `json:"page_no"`
	PageSize   int                      `json:"page_size"`
}

// HookRunner runs an object/query's declared pre/post method hooks around
// an operation. internal/hooks.Pipeline satisfies this; declared locally
// so invoker never imports hooks (hooks already imports invoker for
// Context/InvokeURI, so the reverse import would cycle).
type HookRunner interface {
	RunPre(ctx context.Context, ic *Context, u *invokeuri.InvokeURI, hooks []config.MethodHook, args []map[string]interface{}) ([]map[string]interface{}, error)
	RunPost(ctx context.Context, ic *Context, u *invokeuri.InvokeURI, hooks []config.MethodHook, args []map[string]interface{}) ([]map[string]interface{}, error)
}

// SchemaRegistry dispatches an invocation URI to the object executor, the
// query executor, or a plugin, enforcing the object/query's declared
// role-based permission before handing off.
type SchemaRegistry struct {
	namespaces NamespaceSource
	objects    ObjectExecutor
	queries    QueryExecutor
	plugins    PluginInvoker
	hooks      HookRunner
}

// NewSchemaRegistry wires a SchemaRegistry against its three collaborators.
// hooks may be nil, in which case every object/query's declared hooks are
// skipped entirely (used by tests that don't care about hook behaviour).
func NewSchemaRegistry(namespaces NamespaceSource, objects ObjectExecutor, queries QueryExecutor, plugins PluginInvoker, hooks HookRunner) *SchemaRegistry {
	return &SchemaRegistry{namespaces: namespaces, objects: objects, queries: queries, plugins: plugins, hooks: hooks}
}

// runPre/runPost are nil-safe wrappers so every call site can invoke them
// unconditionally regardless of whether a HookRunner was wired in.
func (r *SchemaRegistry) runPre(ctx context.Context, ic *Context, u *invokeuri.InvokeURI, h []config.MethodHook, args []map[string]interface{}) ([]map[string]interface{}, error) {
	if r.hooks == nil || len(h) == 0 {
		return args, nil
	}
	return r.hooks.RunPre(ctx, ic, u, h, args)
}

func (r *SchemaRegistry) runPost(ctx context.Context, ic *Context, u *invokeuri.InvokeURI, h []config.MethodHook, args []map[string]interface{}) ([]map[string]interface{}, error) {
	if r.hooks == nil || len(h) == 0 {
		return args, nil
	}
	return r.hooks.RunPost(ctx, ic, u, h, args)
}

func firstRow(rows []map[string]interface{}) map[string]interface{} {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

func (r *SchemaRegistry) resolveObject(u *invokeuri.InvokeURI) (*config.Namespace, *config.Object, error) {
	ns, ok := r.namespaces.Namespace(u.Namespace)
	if !ok {
		return nil, nil, fmt.Errorf("%w: namespace %q", errNotFound, u.Namespace)
	}
	obj, ok := ns.FindObject(u.Object)
	if !ok {
		return nil, nil, fmt.Errorf("%w: object %q in namespace %q", errNotFound, u.Object, u.Namespace)
	}
	return ns, obj, nil
}

func (r *SchemaRegistry) resolveQuery(u *invokeuri.InvokeURI) (*config.Namespace, *config.Query, error) {
	ns, ok := r.namespaces.Namespace(u.Namespace)
	if !ok {
		return nil, nil, fmt.Errorf("%w: namespace %q", errNotFound, u.Namespace)
	}
	q, ok := ns.FindQuery(u.Object)
	if !ok {
		return nil, nil, fmt.Errorf("%w: query %q in namespace %q", errNotFound, u.Object, u.Namespace)
	}
	return ns, q, nil
}

func checkObjectPermission(ic *Context, obj *config.Object, isWrite bool) error {
	var roles []string
	if c := ic.Claims(); c != nil {
		roles = c.Roles
	}
	if !obj.HasPermission(isWrite, roles) {
		return fmt.Errorf("%w: role check failed for object %q", errPermissionDenied, obj.Name)
	}
	return nil
}

func checkQueryPermission(ic *Context, q *config.Query) error {
	var roles []string
	if c := ic.Claims(); c != nil {
		roles = c.Roles
	}
	if !q.HasPermission(roles) {
		return fmt.Errorf("%w: role check failed for query %q", errPermissionDenied, q.Name)
	}
	return nil
}

// InvokeReturnOption dispatches a URI expected to yield at most one row:
// object select/find_one/insert/update/upsert, or a plugin call of the
// same shape.
func (r *SchemaRegistry) InvokeReturnOption(ctx context.Context, ic *Context, u *invokeuri.InvokeURI, data map[string]interface{}, cond *condition.QueryCondition) (map[string]interface{}, error) {
	if u.IsPluginSchema() {
		return r.plugins.InvokeReturnOption(ctx, ic, u.Schema, u.Namespace, u.Object, u.Method, data)
	}
	ns, obj, err := r.resolveObject(u)
	if err != nil {
		return nil, err
	}
	if err := checkObjectPermission(ic, obj, u.IsWriteMethod()); err != nil {
		return nil, err
	}
	switch u.Method {
	case invokeuri.MethodInsert:
		pre, err := r.runPre(ctx, ic, u, obj.InsertHooks, []map[string]interface{}{data})
		if err != nil {
			return nil, err
		}
		row, err := r.objects.Insert(ctx, ic, ns, obj, firstRow(pre))
		if err != nil {
			return nil, err
		}
		post, err := r.runPost(ctx, ic, u, obj.InsertHooks, []map[string]interface{}{row})
		if err != nil {
			return nil, err
		}
		return firstRow(post), nil
	case invokeuri.MethodUpdate:
		pre, err := r.runPre(ctx, ic, u, obj.UpdateHooks, []map[string]interface{}{data})
		if err != nil {
			return nil, err
		}
		row, err := r.objects.Update(ctx, ic, ns, obj, firstRow(pre))
		if err != nil {
			return nil, err
		}
		post, err := r.runPost(ctx, ic, u, obj.UpdateHooks, []map[string]interface{}{row})
		if err != nil {
			return nil, err
		}
		return firstRow(post), nil
	case invokeuri.MethodUpsert:
		pre, err := r.runPre(ctx, ic, u, obj.UpsertHooks, []map[string]interface{}{data})
		if err != nil {
			return nil, err
		}
		row, err := r.objects.Upsert(ctx, ic, ns, obj, firstRow(pre), cond)
		if err != nil {
			return nil, err
		}
		post, err := r.runPost(ctx, ic, u, obj.UpsertHooks, []map[string]interface{}{row})
		if err != nil {
			return nil, err
		}
		return firstRow(post), nil
	case invokeuri.MethodSelect, "", "find_one":
		row, err := r.objects.FindOne(ctx, ic, ns, obj, cond)
		if err != nil {
			return nil, err
		}
		post, err := r.runPost(ctx, ic, u, obj.SelectHooks, []map[string]interface{}{row})
		if err != nil {
			return nil, err
		}
		return firstRow(post), nil
	default:
		return nil, fmt.Errorf("%w: method %q does not return a single row", errMalformed, u.Method)
	}
}

// InvokeReturnVec dispatches a URI expected to yield a row set: object
// query/save_batch, a named query, or a plugin call of the same shape.
func (r *SchemaRegistry) InvokeReturnVec(ctx context.Context, ic *Context, u *invokeuri.InvokeURI, data map[string]interface{}, rows []map[string]interface{}, cond *condition.QueryCondition) ([]map[string]interface{}, error) {
	if u.IsPluginSchema() {
		return r.plugins.InvokeReturnVec(ctx, ic, u.Schema, u.Namespace, u.Object, u.Method, data)
	}
	if u.Schema == "query" {
		ns, q, err := r.resolveQuery(u)
		if err != nil {
			return nil, err
		}
		if err := checkQueryPermission(ic, q); err != nil {
			return nil, err
		}
		result, err := r.queries.Run(ctx, ic, ns, q, data, cond)
		if err != nil {
			return nil, err
		}
		return r.runPost(ctx, ic, u, q.Hooks, result)
	}
	ns, obj, err := r.resolveObject(u)
	if err != nil {
		return nil, err
	}
	if err := checkObjectPermission(ic, obj, u.IsWriteMethod()); err != nil {
		return nil, err
	}
	switch u.Method {
	case invokeuri.MethodSaveBatch:
		pre, err := r.runPre(ctx, ic, u, obj.SaveBatchHooks, rows)
		if err != nil {
			return nil, err
		}
		result, err := r.objects.SaveBatch(ctx, ic, ns, obj, pre)
		if err != nil {
			return nil, err
		}
		return r.runPost(ctx, ic, u, obj.SaveBatchHooks, result)
	default:
		result, err := r.objects.Query(ctx, ic, ns, obj, cond)
		if err != nil {
			return nil, err
		}
		return r.runPost(ctx, ic, u, obj.QueryHooks, result)
	}
}

// InvokeReturnPage dispatches a paged_query/paged_search URI against an
// object, a named query, or a plugin.
func (r *SchemaRegistry) InvokeReturnPage(ctx context.Context, ic *Context, u *invokeuri.InvokeURI, data map[string]interface{}, cond *condition.QueryCondition) (*Page, error) {
	if u.IsPluginSchema() {
		return r.plugins.InvokeReturnPage(ctx, ic, u.Schema, u.Namespace, u.Object, u.Method, data)
	}
	if u.Schema == "query" {
		ns, q, err := r.resolveQuery(u)
		if err != nil {
			return nil, err
		}
		if err := checkQueryPermission(ic, q); err != nil {
			return nil, err
		}
		page, err := r.queries.RunPaged(ctx, ic, ns, q, data, cond)
		if err != nil {
			return nil, err
		}
		page.Rows, err = r.runPost(ctx, ic, u, q.Hooks, page.Rows)
		return page, err
	}
	ns, obj, err := r.resolveObject(u)
	if err != nil {
		return nil, err
	}
	if err := checkObjectPermission(ic, obj, false); err != nil {
		return nil, err
	}
	page, err := r.objects.PagedQuery(ctx, ic, ns, obj, cond)
	if err != nil {
		return nil, err
	}
	page.Rows, err = r.runPost(ctx, ic, u, obj.QueryHooks, page.Rows)
	return page, err
}

// InvokeDirectMutation dispatches delete/delete_by/update_by, the three
// write methods whose result is a row count rather than row data.
func (r *SchemaRegistry) InvokeDirectMutation(ctx context.Context, ic *Context, u *invokeuri.InvokeURI, data map[string]interface{}, cond *condition.QueryCondition) (int64, error) {
	ns, obj, err := r.resolveObject(u)
	if err != nil {
		return 0, err
	}
	if err := checkObjectPermission(ic, obj, true); err != nil {
		return 0, err
	}
	switch u.Method {
	case invokeuri.MethodDelete:
		if _, err := r.runPre(ctx, ic, u, obj.DeleteHooks, []map[string]interface{}{data}); err != nil {
			return 0, err
		}
		n, err := r.objects.Delete(ctx, ic, ns, obj, data)
		if err != nil {
			return 0, err
		}
		_, err = r.runPost(ctx, ic, u, obj.DeleteHooks, []map[string]interface{}{data})
		return n, err
	case invokeuri.MethodDeleteBy:
		if _, err := r.runPre(ctx, ic, u, obj.DeleteHooks, nil); err != nil {
			return 0, err
		}
		n, err := r.objects.DeleteBy(ctx, ic, ns, obj, cond)
		if err != nil {
			return 0, err
		}
		_, err = r.runPost(ctx, ic, u, obj.DeleteHooks, nil)
		return n, err
	case invokeuri.MethodUpdateBy:
		pre, err := r.runPre(ctx, ic, u, obj.UpdateHooks, []map[string]interface{}{data})
		if err != nil {
			return 0, err
		}
		n, err := r.objects.UpdateBy(ctx, ic, ns, obj, firstRow(pre), cond)
		if err != nil {
			return 0, err
		}
		_, err = r.runPost(ctx, ic, u, obj.UpdateHooks, []map[string]interface{}{data})
		return n, err
	default:
		return 0, fmt.Errorf("%w: method %q is not a direct mutation", errMalformed, u.Method)
	}
}

// Sentinel errors classify dispatch failures along error
// kinds; internal/httpapi unwraps these with errors.Is to pick the
// apierrors code and HTTP status (see ErrorCode in errors.go).
var (
	errNotFound         = ErrNotFound
	errMalformed        = ErrMalformed
	errPermissionDenied = ErrPermissionDenied
)
