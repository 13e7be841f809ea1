package authorization

import (
	"fmt"
	"net/http"
	"strings"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
)

// Guard wraps the JWT middleware with role checks.
type Guard struct {
	jwt *jwt.GinJWTMiddleware
}

// Guard returns the guard helper shared by other modules.
func (m *Module) Guard() *Guard {
	if m == nil || m.jwtMiddleware == nil {
		return nil
	}
	return &Guard{jwt: m.jwtMiddleware}
}

// RequireAuthenticated ensures the request carries a valid JWT.
func (g *Guard) RequireAuthenticated() gin.HandlerFunc {
	if g == nil || g.jwt == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		}
	}
	return g.jwt.MiddlewareFunc()
}

// RequireRole requires both a valid token and the named role. It runs the
// JWT middleware itself so callers can attach it as a single handler.
func (g *Guard) RequireRole(role string) gin.HandlerFunc {
	expected := strings.ToLower(strings.TrimSpace(role))
	authenticate := g.RequireAuthenticated()

	return func(c *gin.Context) {
		authenticate(c)
		if c.IsAborted() {
			return
		}
		if expected == "" {
			return
		}

		for _, have := range extractRoles(jwt.ExtractClaims(c)) {
			if strings.ToLower(strings.TrimSpace(have)) == expected {
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("%s role required", role)})
	}
}

// RequireAdmin guards the destructive endpoints.
func (g *Guard) RequireAdmin() gin.HandlerFunc {
	return g.RequireRole("admin")
}
