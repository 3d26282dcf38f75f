package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/comphours-api/internal/models"
	appErrors "github.com/noah-isme/comphours-api/pkg/errors"
	"github.com/noah-isme/comphours-api/pkg/response"
)

const (
	// ContextUserKey is the gin context key storing validated JWT claims.
	ContextUserKey = "currentUser"
	// ContextPrincipalKey is the gin context key storing the resolved principal.
	ContextPrincipalKey = "currentPrincipal"
)

// TokenValidator resolves bearer tokens into claims.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token in the Authorization header.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return authenticate(validator, false)
}

// StreamJWT is JWT for EventSource clients, which cannot set headers; the
// token may also arrive as the access_token query parameter.
func StreamJWT(validator TokenValidator) gin.HandlerFunc {
	return authenticate(validator, true)
}

func authenticate(validator TokenValidator, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c, allowQuery)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Set(ContextPrincipalKey, claims.Principal())
		c.Next()
	}
}

func bearerToken(c *gin.Context, allowQuery bool) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if allowQuery {
			if token := c.Query("access_token"); token != "" {
				return token, nil
			}
		}
		return "", appErrors.ErrUnauthorized
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// PrincipalFromContext returns the principal stored by JWT.
func PrincipalFromContext(c *gin.Context) (models.Principal, bool) {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return models.Principal{}, false
	}
	principal, ok := value.(models.Principal)
	return principal, ok
}
