package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/nexis-edu/student-api/internal/models"
	appErrors "github.com/nexis-edu/student-api/pkg/errors"
	"github.com/nexis-edu/student-api/pkg/response"
)

// RequireRoles restricts a route to the given roles. It never calls the
// identity provider itself; Authorize must have run first.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		ident := IdentityFromContext(c)
		if ident == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowed[ident.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}
