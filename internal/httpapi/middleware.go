package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/chimesgate/internal/auth"
	"github.com/goatkit/chimesgate/internal/invoker"
)

const claimsContextKey = "chimesgate.claims"

// AuthMiddleware verifies the bearer token on every request with manager
// and stashes the resulting invoker.JWTClaims on the gin context for
// handlers to pick up via claimsFromContext. A request with no
// Authorization header, or an unverifiable token, is rejected with 401
// before any handler runs.
func AuthMiddleware(manager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{
				Status: http.StatusUnauthorized, Message: "missing bearer token", Timestamp: nowFunc().Unix(),
			})
			return
		}
		claims, err := manager.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{
				Status: http.StatusUnauthorized, Message: "invalid token: " + err.Error(), Timestamp: nowFunc().Unix(),
			})
			return
		}
		c.Set(claimsContextKey, claims.ToInvokerClaims())
		c.Next()
	}
}

// claimsFromContext returns the identity AuthMiddleware attached, or nil
// for an anonymous request (only reachable when AuthMiddleware isn't
// mounted on a route, e.g. in tests).
func claimsFromContext(c *gin.Context) *invoker.JWTClaims {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*invoker.JWTClaims)
	return claims
}
