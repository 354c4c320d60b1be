package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nexis-edu/student-api/internal/middleware"
	"github.com/nexis-edu/student-api/internal/models"
)

// RegisterStudentRoutes wires the student endpoints under the given group.
// Every route delegates identity resolution to the provider; mutating routes
// additionally require the ADMIN role.
func RegisterStudentRoutes(group *gin.RouterGroup, provider middleware.Introspector, students *StudentHandler, logger *zap.Logger) {
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	sg := group.Group("/students")
	sg.Use(middleware.Authorize(provider))

	sg.GET("", students.List)
	sg.GET("/search", students.Search)
	sg.GET("/statistics", students.Statistics)
	sg.GET("/export", adminOnly, students.Export)
	sg.GET("/user/:subjectId", students.GetBySubject)
	sg.GET("/:id", students.Get)

	sg.POST("", adminOnly, middleware.Audit(logger, "student.create"), students.Create)
	sg.PUT("/:id", adminOnly, middleware.Audit(logger, "student.update"), students.Update)
	sg.DELETE("/:id", adminOnly, middleware.Audit(logger, "student.delete"), students.Delete)
}
