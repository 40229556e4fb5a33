package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by the middleware.
const (
	CtxClaims  = "claims"
	CtxSubject = "subject"
)

// RequireRole enforces bearer JWT tokens signed with HS256 and checks
// the role claim. An empty role accepts any authenticated caller.
func RequireRole(signingKey, issuer, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if role != "" && claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Set(CtxClaims, claims)
		c.Set(CtxSubject, claims.Subject)
		c.Next()
	}
}

// Subject returns the authenticated account id from the gin context.
func Subject(c *gin.Context) string {
	v, _ := c.Get(CtxSubject)
	s, _ := v.(string)
	return s
}
