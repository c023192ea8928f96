package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/auth"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/httputil"
)

const ContextServiceSubject = "service_subject"

// AuthMiddleware guards the internal API. Callers are other services of the
// portal presenting an HS256 token signed with the shared service secret.
type AuthMiddleware struct {
	tokens *auth.ServiceTokens
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{tokens: auth.NewServiceTokens(secret, 0)}
}

// Authenticate verifies the bearer token and sets the subject in context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, "invalid authorization format")
			return
		}

		claims, err := m.tokens.Validate(parts[1])
		if err != nil {
			unauthorized(c, "invalid token")
			return
		}

		c.Set(ContextServiceSubject, claims.Subject)
		c.Next()
	}
}

// IssueServiceToken signs a non-expiring token for subject.
func IssueServiceToken(secret, subject string) (string, error) {
	return auth.NewServiceTokens(secret, 0).Issue(subject)
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.Response{Success: false, Error: message})
}
