package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medaccess-api/pkg/auth"
)

// Context keys set by Authenticate
const (
	ContextPrincipal = "principal"
	ContextUID       = "uid"
	ContextRole      = "role"
)

type AuthMiddleware struct {
	verifier auth.TokenVerifier
}

func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate verifies the bearer token and sets the principal in context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abort(c, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		principal, err := m.verifier.Verify(parts[1])
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}

		c.Set(ContextPrincipal, principal)
		c.Set(ContextUID, principal.UID)
		c.Set(ContextRole, principal.Role)
		c.Next()
	}
}

// RequireRole admits principals holding one of roles
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil {
			abort(c, http.StatusUnauthorized, "unauthenticated")
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "permission denied")
	}
}

// RequireSelf admits the principal whose uid equals the named path
// parameter, and admins.
func (m *AuthMiddleware) RequireSelf(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil {
			abort(c, http.StatusUnauthorized, "unauthenticated")
			return
		}
		if p.Role == auth.RoleAdmin || p.UID == c.Param(param) {
			c.Next()
			return
		}
		abort(c, http.StatusForbidden, "permission denied")
	}
}

// PrincipalFrom returns the authenticated principal, if any
func PrincipalFrom(c *gin.Context) *auth.Principal {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return nil
	}
	p, _ := v.(*auth.Principal)
	return p
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:    status,
		Message: msg,
		TraceID: c.GetString(ContextRequestID),
	})
}
