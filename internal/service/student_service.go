package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nexis-edu/student-api/internal/models"
	appErrors "github.com/nexis-edu/student-api/pkg/errors"
)

const statisticsCacheKey = "students:statistics"

type studentRepository interface {
	NextRecordSequence(ctx context.Context, year int) (int, error)
	Create(ctx context.Context, student *models.Student) error
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindBySubjectID(ctx context.Context, subjectID string) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	Search(ctx context.Context, term string, limit int) ([]models.Student, error)
	Update(ctx context.Context, student *models.Student) error
	SoftDelete(ctx context.Context, id string) error
	Statistics(ctx context.Context) (*models.StudentStatistics, error)
}

// CreateStudentRequest holds payload for creating students. The subject id is
// never part of the payload; it comes from the resolved identity.
type CreateStudentRequest struct {
	FirstName   string       `json:"first_name" validate:"required"`
	LastName    string       `json:"last_name" validate:"required"`
	DateOfBirth time.Time    `json:"date_of_birth" validate:"required"`
	Email       string       `json:"email" validate:"required,email"`
	Phone       string       `json:"phone"`
	Street      string       `json:"street"`
	City        string       `json:"city"`
	ZipCode     string       `json:"zip_code"`
	Country     string       `json:"country"`
	Major       models.Major `json:"major" validate:"required"`
	Level       models.Level `json:"level" validate:"required"`
	GPA         *float64     `json:"gpa" validate:"omitempty,gte=0,lte=20"`
}

// UpdateStudentRequest is a partial patch; nil fields are left untouched.
// RecordID and SubjectID are immutable and have no place here.
type UpdateStudentRequest struct {
	FirstName      *string               `json:"first_name"`
	LastName       *string               `json:"last_name"`
	DateOfBirth    *time.Time            `json:"date_of_birth"`
	Email          *string               `json:"email" validate:"omitempty,email"`
	Phone          *string               `json:"phone"`
	Street         *string               `json:"street"`
	City           *string               `json:"city"`
	ZipCode        *string               `json:"zip_code"`
	Country        *string               `json:"country"`
	EnrollmentDate *time.Time            `json:"enrollment_date"`
	Major          *models.Major         `json:"major"`
	Level          *models.Level         `json:"level"`
	Status         *models.StudentStatus `json:"status"`
	GPA            *float64              `json:"gpa" validate:"omitempty,gte=0,lte=20"`
}

// StudentService owns the student record invariants: identifier assignment,
// field validation and status transitions.
type StudentService struct {
	repo      studentRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, cache: cache, validator: validate, logger: logger, now: time.Now}
}

// Create registers a new student record for the given identity. The record id
// is derived from an atomically incremented per-year sequence, so concurrent
// creates never share one.
func (s *StudentService) Create(ctx context.Context, subjectID string, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if !req.Major.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown major %q", req.Major))
	}
	if !req.Level.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown level %q", req.Level))
	}
	if subjectID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "missing subject id")
	}

	now := s.now().UTC()
	year := now.Year()
	seq, err := s.repo.NextRecordSequence(ctx, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate record id")
	}

	gpa := 0.0
	if req.GPA != nil {
		gpa = *req.GPA
	}

	student := &models.Student{
		RecordID:       fmt.Sprintf("STU%d%05d", year, seq),
		SubjectID:      subjectID,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		DateOfBirth:    req.DateOfBirth,
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:          strings.TrimSpace(req.Phone),
		Street:         req.Street,
		City:           req.City,
		ZipCode:        req.ZipCode,
		Country:        req.Country,
		EnrollmentDate: now,
		Major:          req.Major,
		Level:          req.Level,
		Status:         models.StatusActive,
		GPA:            gpa,
	}

	if err := s.repo.Create(ctx, student); err != nil {
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrDuplicateRecord.Code {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	s.invalidateStatistics(ctx)
	s.logger.Info("student created",
		zap.String("record_id", student.RecordID),
		zap.String("subject_id", student.SubjectID),
	)
	return student, nil
}

// Get returns the student with the given internal id.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// GetBySubjectID returns the student record bound to an identity.
func (s *StudentService) GetBySubjectID(ctx context.Context, subjectID string) (*models.Student, error) {
	student, err := s.repo.FindBySubjectID(ctx, subjectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// List returns students and pagination metadata. Results are scoped to
// ACTIVE records unless the filter says otherwise.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	if filter.Status == "" {
		filter.Status = models.StatusActive
	}
	if !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.Major != "" && !filter.Major.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown major %q", filter.Major))
	}
	if filter.Level != "" && !filter.Level.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown level %q", filter.Level))
	}

	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	pages := (total + limit - 1) / limit

	return students, &models.Pagination{Total: total, Page: page, Pages: pages, Limit: limit}, nil
}

// Search performs a free-text lookup over names and email, returning at most
// 20 matches without pagination metadata.
func (s *StudentService) Search(ctx context.Context, term string) ([]models.Student, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "query parameter is required")
	}
	students, err := s.repo.Search(ctx, term, 20)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search students")
	}
	return students, nil
}

// Update applies a partial patch to an existing student. Changed enumerations
// are re-validated; status transitions are unrestricted beyond membership in
// the closed set.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if req.Major != nil && !req.Major.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown major %q", *req.Major))
	}
	if req.Level != nil && !req.Level.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown level %q", *req.Level))
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", *req.Status))
	}

	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	applyPatch(student, req)

	if err := s.repo.Update(ctx, student); err != nil {
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrDuplicateRecord.Code {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}

	s.invalidateStatistics(ctx)
	return student, nil
}

// Delete soft-deletes a student by transitioning it to DROPPED. The record
// stays retrievable by direct lookup and deleting twice reports success both
// times.
func (s *StudentService) Delete(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	student.Status = models.StatusDropped

	s.invalidateStatistics(ctx)
	s.logger.Info("student soft-deleted", zap.String("record_id", student.RecordID))
	return student, nil
}

// Statistics returns the aggregate snapshot, served from a short-TTL cache
// when available.
func (s *StudentService) Statistics(ctx context.Context) (*models.StudentStatistics, bool, error) {
	var cached models.StudentStatistics
	if hit, err := s.cache.Get(ctx, statisticsCacheKey, &cached); err == nil && hit {
		return &cached, true, nil
	}

	stats, err := s.repo.Statistics(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute statistics")
	}

	_ = s.cache.Set(ctx, statisticsCacheKey, stats, 0)
	return stats, false, nil
}

func (s *StudentService) invalidateStatistics(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, statisticsCacheKey); err != nil {
		s.logger.Warn("statistics cache invalidation failed", zap.Error(err))
	}
}

func applyPatch(student *models.Student, req UpdateStudentRequest) {
	if req.FirstName != nil {
		student.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		student.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.DateOfBirth != nil {
		student.DateOfBirth = *req.DateOfBirth
	}
	if req.Email != nil {
		student.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.Phone != nil {
		student.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Street != nil {
		student.Street = *req.Street
	}
	if req.City != nil {
		student.City = *req.City
	}
	if req.ZipCode != nil {
		student.ZipCode = *req.ZipCode
	}
	if req.Country != nil {
		student.Country = *req.Country
	}
	if req.EnrollmentDate != nil {
		student.EnrollmentDate = *req.EnrollmentDate
	}
	if req.Major != nil {
		student.Major = *req.Major
	}
	if req.Level != nil {
		student.Level = *req.Level
	}
	if req.Status != nil {
		student.Status = *req.Status
	}
	if req.GPA != nil {
		student.GPA = *req.GPA
	}
}
