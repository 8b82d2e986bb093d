package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docverify/internal/shared/auth"
	"docverify/internal/shared/server/respond"
)

const adminSubjectKey = "adminSubject"

// AdminAuth requires a bearer token carrying the admin role. With a nil
// verifier it lets every request through, which bootstrap only allows in
// dev-like environments.
func AdminAuth(verifier *auth.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		if verifier == nil {
			c.Next()
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(authHeader, "Bearer ") {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
		if token == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			msg := "missing or invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "token has expired"
			}
			respond.Error(c, http.StatusUnauthorized, "unauthorized", msg, nil)
			return
		}
		if claims.Role != auth.RoleAdmin {
			respond.Error(c, http.StatusForbidden, "forbidden", "admin role required", nil)
			return
		}

		c.Set(adminSubjectKey, claims.Subject)
		c.Next()
	}
}

// AdminSubjectFromContext fetches the token subject set by AdminAuth.
func AdminSubjectFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(adminSubjectKey)
	if sub, ok := val.(string); ok {
		return sub
	}
	return ""
}
