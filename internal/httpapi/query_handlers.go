package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/goatkit/chimesgate/internal/invoker"
	"github.com/goatkit/chimesgate/internal/invokeuri"
)

// queryRequestBody is the JSON body for named-query endpoints: params
// bind the query's own declared placeholders, condition layers an
// additional filter over the result set.
type queryRequestBody struct {
	Params    map[string]interface{} `json:"params"`
	Condition *conditionDTO           `json:"condition,omitempty"`
}

// handleQuery implements POST /api/query/<ns>/<name>/{search|paged_search}.
func (h *Handlers) handleQuery(c *gin.Context) {
	nsName := c.Param("ns")
	name := c.Param("name")
	kind := c.Param("kind")

	var body queryRequestBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, badRequest("invalid json body: "+err.Error()))
			return
		}
	}

	u := &invokeuri.InvokeURI{Schema: "query", Namespace: nsName, Object: name}
	ic := invoker.NewContext(claimsFromContext(c))
	cond := body.Condition.toQueryCondition()

	var result interface{}
	var err error
	switch kind {
	case "paged_search":
		var page *invoker.Page
		page, err = h.registry.InvokeReturnPage(c.Request.Context(), ic, u, body.Params, cond)
		if err == nil {
			result = pageEnvelope(page)
		}
	case "search":
		result, err = h.registry.InvokeReturnVec(c.Request.Context(), ic, u, body.Params, nil, cond)
	default:
		fail(c, badRequest("unknown query kind "+kind+", want search or paged_search"))
		return
	}

	finishInvocation(ic, err)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}
