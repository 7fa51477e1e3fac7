package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/goatkit/chimesgate/internal/auth"
)

// Register mounts the gateway's HTTP surface onto r, gating every route
// behind manager's bearer-token middleware. Route registration is split out from Handlers construction
// the way the prior implementation splits its own *_init.go files from its *_handlers.go
// files, generalised here into one function instead of a package-level
// init() since this gateway has no global routing registry to register
// into.
func Register(r *gin.Engine, h *Handlers, manager *auth.Manager) {
	api := r.Group("/api", AuthMiddleware(manager))

	api.POST("/object/:ns/:name/:method", h.handleObjectMethod)
	api.GET("/object/:ns/:name/select/:id", h.handleSelectByID)
	api.POST("/query/:ns/:name/:kind", h.handleQuery)
}
