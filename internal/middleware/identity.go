package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nexis-edu/student-api/internal/models"
	appErrors "github.com/nexis-edu/student-api/pkg/errors"
	"github.com/nexis-edu/student-api/pkg/response"
)

// ContextIdentityKey is the gin context key storing the resolved identity.
const ContextIdentityKey = "currentIdentity"

// Introspector resolves a bearer token into identity claims.
type Introspector interface {
	Introspect(ctx context.Context, token string) (*models.Identity, error)
}

// Authorize protects routes by delegating every bearer token to the identity
// provider. A missing or malformed header fails before any outbound call.
func Authorize(provider Introspector) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrMissingCredentials)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrMissingCredentials, "invalid authorization header"))
			c.Abort()
			return
		}

		ident, err := provider.Introspect(c.Request.Context(), parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextIdentityKey, ident)
		c.Next()
	}
}

// IdentityFromContext returns the identity attached by Authorize, if any.
func IdentityFromContext(c *gin.Context) *models.Identity {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return nil
	}
	ident, ok := value.(*models.Identity)
	if !ok {
		return nil
	}
	return ident
}
