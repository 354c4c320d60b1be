package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nexis-edu/student-api/internal/models"
	"github.com/nexis-edu/student-api/internal/service"
	appErrors "github.com/nexis-edu/student-api/pkg/errors"
	"github.com/nexis-edu/student-api/pkg/response"
)

// StudentProvider is the student lifecycle surface the handler depends on.
type StudentProvider interface {
	Create(ctx context.Context, subjectID string, req service.CreateStudentRequest) (*models.Student, error)
	Get(ctx context.Context, id string) (*models.Student, error)
	GetBySubjectID(ctx context.Context, subjectID string) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error)
	Search(ctx context.Context, term string) ([]models.Student, error)
	Update(ctx context.Context, id string, req service.UpdateStudentRequest) (*models.Student, error)
	Delete(ctx context.Context, id string) (*models.Student, error)
	Statistics(ctx context.Context) (*models.StudentStatistics, bool, error)
}

// RosterExporter renders student rosters for download.
type RosterExporter interface {
	Roster(ctx context.Context, filter models.StudentFilter, format string) (*service.ExportResult, error)
}

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students StudentProvider
	exports  RosterExporter
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students StudentProvider, exports RosterExporter) *StudentHandler {
	return &StudentHandler{students: students, exports: exports}
}

func filterFromQuery(c *gin.Context) models.StudentFilter {
	var filter models.StudentFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Major = models.Major(c.Query("major"))
	filter.Level = models.Level(c.Query("level"))
	filter.Status = models.StudentStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "10")); err == nil {
		filter.Limit = limit
	}
	return filter
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param search query string false "Match against name or email"
// @Param major query string false "Filter by major"
// @Param level query string false "Filter by level"
// @Param status query string false "Filter by status (defaults to ACTIVE)"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	students, pagination, err := h.students.List(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if students == nil {
		students = []models.Student{}
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get a student by id
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// GetBySubject godoc
// @Summary Get the student record bound to an identity
// @Tags Students
// @Produce json
// @Param subjectId path string true "Identity subject ID"
// @Success 200 {object} response.Envelope
// @Router /students/user/{subjectId} [get]
func (h *StudentHandler) GetBySubject(c *gin.Context) {
	student, err := h.students.GetBySubjectID(c.Request.Context(), c.Param("subjectId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Create a student record
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	ident := identityFromContext(c)
	if ident == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.Create(c.Request.Context(), ident.SubjectID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Update a student record
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.UpdateStudentRequest true "Partial student payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	var req service.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Soft-delete a student record
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	student, err := h.students.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Search godoc
// @Summary Free-text student search
// @Tags Students
// @Produce json
// @Param query query string true "Search term"
// @Success 200 {object} response.Envelope
// @Router /students/search [get]
func (h *StudentHandler) Search(c *gin.Context) {
	students, err := h.students.Search(c.Request.Context(), c.Query("query"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if students == nil {
		students = []models.Student{}
	}
	response.JSON(c, http.StatusOK, students, nil, map[string]interface{}{"count": len(students)})
}

// Statistics godoc
// @Summary Aggregate student statistics
// @Tags Students
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /students/statistics [get]
func (h *StudentHandler) Statistics(c *gin.Context) {
	stats, cacheHit, err := h.students.Statistics(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil, map[string]interface{}{"cache_hit": cacheHit})
}

// Export godoc
// @Summary Export the student roster
// @Tags Students
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf (defaults to csv)"
// @Success 200 {file} binary
// @Router /students/export [get]
func (h *StudentHandler) Export(c *gin.Context) {
	filter := filterFromQuery(c)
	result, err := h.exports.Roster(c.Request.Context(), filter, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.FileName+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}
