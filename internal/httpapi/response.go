// Package httpapi exposes the gateway's HTTP surface on top of gin,
// in this package's handler style: one handler file per concern, a
// shared envelope helper, and route registration split into an
// init-style Register function.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/chimesgate/internal/apierrors"
	"github.com/goatkit/chimesgate/internal/invoker"
)

func defaultNow() time.Time { return time.Now() }

// envelope is the response shape used for every endpoint:
// {status, message, data, timestamp}.
type envelope struct {
	Status    int         `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// pagedData wraps a Page the way paged responses are shaped:
// {total, page_no, page_size, records}.
type pagedData struct {
	Total    int64                    `json:"total"`
	PageNo   int                      `json:"page_no"`
	PageSize int                      `json:"page_size"`
	Records  []map[string]interface{} `json:"records"`
}

func pageEnvelope(page *invoker.Page) pagedData {
	return pagedData{Total: page.TotalCount, PageNo: page.PageNo, PageSize: page.PageSize, Records: page.Rows}
}

// ok writes a 200 envelope with data.
func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, envelope{Status: http.StatusOK, Message: "ok", Data: data, Timestamp: nowFunc().Unix()})
}

// fail maps err onto error-kind -> HTTP status table via
// invoker.ErrorCode and the apierrors registry, and writes the envelope.
func fail(c *gin.Context, err error) {
	var malformed *malformedRequestError
	if errors.As(err, &malformed) {
		c.JSON(http.StatusBadRequest, envelope{Status: http.StatusBadRequest, Message: malformed.Error(), Timestamp: nowFunc().Unix()})
		return
	}
	code := invoker.ErrorCode(err)
	status := apierrors.Registry.HTTPStatus(code)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, envelope{Status: status, Message: err.Error(), Timestamp: nowFunc().Unix()})
}

// malformedRequestError reports a request-shape problem caught before the
// invocation engine ever sees the request (bad JSON body, bad condition
// payload) — always a 400, regardless of what invoker.ErrorCode would
// otherwise classify a bare error string as.
type malformedRequestError struct {
	msg string
}

func (e *malformedRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &malformedRequestError{msg: msg} }

// nowFunc is overridable in tests so the envelope's timestamp is
// deterministic.
var nowFunc = defaultNow
