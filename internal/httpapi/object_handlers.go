package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/chimesgate/internal/condition"
	"github.com/goatkit/chimesgate/internal/invoker"
	"github.com/goatkit/chimesgate/internal/invokeuri"
)

// Dispatcher is the exact signature set of invoker.SchemaRegistry's four
// dispatch methods, matched locally so this package never imports
// invoker's concrete registry type.
type Dispatcher interface {
	InvokeReturnOption(ctx context.Context, ic *invoker.Context, u *invokeuri.InvokeURI, data map[string]interface{}, cond *condition.QueryCondition) (map[string]interface{}, error)
	InvokeReturnVec(ctx context.Context, ic *invoker.Context, u *invokeuri.InvokeURI, data map[string]interface{}, rows []map[string]interface{}, cond *condition.QueryCondition) ([]map[string]interface{}, error)
	InvokeReturnPage(ctx context.Context, ic *invoker.Context, u *invokeuri.InvokeURI, data map[string]interface{}, cond *condition.QueryCondition) (*invoker.Page, error)
	InvokeDirectMutation(ctx context.Context, ic *invoker.Context, u *invokeuri.InvokeURI, data map[string]interface{}, cond *condition.QueryCondition) (int64, error)
}

// objectRequestBody is the JSON body shape every /api/object endpoint
// accepts: data is the primary argument, condition is the optional
// secondary argument, passed along with every method (the reads as well as
// upsert/delete_by/update_by).
type objectRequestBody struct {
	Data      map[string]interface{}   `json:"data"`
	Condition *conditionDTO            `json:"condition,omitempty"`
	Rows      []map[string]interface{} `json:"rows,omitempty"`
}

// Handlers holds the collaborators every httpapi route needs.
type Handlers struct {
	registry   Dispatcher
	namespaces invoker.NamespaceSource
}

// NewHandlers wires a Handlers against the schema registry dispatch
// surface and the namespace source select-by-id needs to resolve an
// object's primary key column.
func NewHandlers(registry Dispatcher, namespaces invoker.NamespaceSource) *Handlers {
	return &Handlers{registry: registry, namespaces: namespaces}
}

func (h *Handlers) handleObjectMethod(c *gin.Context) {
	ns := c.Param("ns")
	name := c.Param("name")
	method := c.Param("method")

	var body objectRequestBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, badRequest("invalid json body: "+err.Error()))
			return
		}
	}

	u := &invokeuri.InvokeURI{Schema: "object", Namespace: ns, Object: name, Method: method}
	ic := invoker.NewContext(claimsFromContext(c))
	cond := body.Condition.toQueryCondition()

	var result interface{}
	var err error
	switch method {
	case invokeuri.MethodDelete, invokeuri.MethodDeleteBy, invokeuri.MethodUpdateBy:
		var count int64
		count, err = h.registry.InvokeDirectMutation(c.Request.Context(), ic, u, body.Data, cond)
		result = gin.H{"affected": count}
	case invokeuri.MethodQuery, invokeuri.MethodSaveBatch:
		result, err = h.registry.InvokeReturnVec(c.Request.Context(), ic, u, body.Data, body.Rows, cond)
	case invokeuri.MethodPagedQuery:
		var page *invoker.Page
		page, err = h.registry.InvokeReturnPage(c.Request.Context(), ic, u, body.Data, cond)
		if err == nil {
			result = pageEnvelope(page)
		}
	default:
		result, err = h.registry.InvokeReturnOption(c.Request.Context(), ic, u, body.Data, cond)
	}

	finishInvocation(ic, err)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

// handleSelectByID implements GET /api/object/<ns>/<name>/select/{id}: it
// resolves the object's first declared primary-key column and builds an
// equality condition against id before dispatching select.
func (h *Handlers) handleSelectByID(c *gin.Context) {
	nsName := c.Param("ns")
	name := c.Param("name")
	id := c.Param("id")

	ns, ok2 := h.namespaces.Namespace(nsName)
	if !ok2 {
		fail(c, badRequest("unknown namespace"))
		return
	}
	obj, ok2 := ns.FindObject(name)
	if !ok2 {
		fail(c, badRequest("unknown object"))
		return
	}
	keys := obj.KeyColumns()
	if len(keys) == 0 {
		fail(c, badRequest("object has no primary key"))
		return
	}

	u := &invokeuri.InvokeURI{Schema: "object", Namespace: nsName, Object: name, Method: invokeuri.MethodSelect}
	ic := invoker.NewContext(claimsFromContext(c))
	cond := &condition.QueryCondition{And: []condition.ConditionItem{
		{Field: keys[0].FieldName, Operator: condition.OpEqual, Value: id},
	}}

	row, err := h.registry.InvokeReturnOption(c.Request.Context(), ic, u, nil, cond)
	finishInvocation(ic, err)
	if err != nil {
		fail(c, err)
		return
	}
	if row == nil {
		fail(c, badRequest("no row matched id"))
		return
	}
	ok(c, row)
}

// finishInvocation marks ic failed when err is non-nil, then commits or
// rolls back every transaction the invocation opened.
func finishInvocation(ic *invoker.Context, err error) {
	if err != nil {
		ic.Fail(err.Error())
	}
	_ = ic.Finish()
}
