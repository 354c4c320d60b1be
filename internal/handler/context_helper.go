package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/nexis-edu/student-api/internal/middleware"
	"github.com/nexis-edu/student-api/internal/models"
)

func identityFromContext(c *gin.Context) *models.Identity {
	return middleware.IdentityFromContext(c)
}
