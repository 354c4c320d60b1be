package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nexis-edu/student-api/internal/models"
	appErrors "github.com/nexis-edu/student-api/pkg/errors"
)

const uniqueViolation = "23505"

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, record_id, subject_id, first_name, last_name, date_of_birth, email, phone,
        street, city, zip_code, country, enrollment_date, major, level, status, gpa, created_at, updated_at`

// NextRecordSequence atomically bumps and returns the per-year counter used
// for record id generation. The upsert closes the race two concurrent creates
// would otherwise have with a count-then-insert approach.
func (r *StudentRepository) NextRecordSequence(ctx context.Context, year int) (int, error) {
	const query = `INSERT INTO student_id_counters (year, seq) VALUES ($1, 1)
        ON CONFLICT (year) DO UPDATE SET seq = student_id_counters.seq + 1
        RETURNING seq`
	var seq int
	if err := r.db.GetContext(ctx, &seq, query, year); err != nil {
		return 0, fmt.Errorf("next record sequence: %w", err)
	}
	return seq, nil
}

// Create inserts a new student record. Uniqueness of record_id, subject_id
// and email is enforced by the store's unique indexes; violations surface as
// DuplicateRecord rather than being pre-checked.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, record_id, subject_id, first_name, last_name, date_of_birth, email, phone,
        street, city, zip_code, country, enrollment_date, major, level, status, gpa, created_at, updated_at)
        VALUES (:id, :record_id, :subject_id, :first_name, :last_name, :date_of_birth, :email, :phone,
        :street, :city, :zip_code, :country, :enrollment_date, :major, :level, :status, :gpa, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		if dup := duplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// FindByID fetches a student by its internal id.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE id = $1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindBySubjectID fetches the student record bound to an identity.
func (r *StudentRepository) FindBySubjectID(ctx context.Context, subjectID string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE subject_id = $1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, subjectID); err != nil {
		return nil, err
	}
	return &student, nil
}

// List returns students matching the provided filters plus the total count.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Major != "" {
		conditions = append(conditions, fmt.Sprintf("major = $%d", len(args)+1))
		args = append(args, filter.Major)
	}
	if filter.Level != "" {
		conditions = append(conditions, fmt.Sprintf("level = $%d", len(args)+1))
		args = append(args, filter.Level)
	}
	if filter.Search != "" {
		idx := len(args) + 1
		conditions = append(conditions, fmt.Sprintf("(LOWER(first_name) LIKE $%d OR LOWER(last_name) LIKE $%d OR LOWER(email) LIKE $%d)", idx, idx, idx))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	where := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf(`SELECT %s FROM students WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		studentColumns, where, limit, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM students WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// Search performs a free-text match over names and email, capped at limit.
func (r *StudentRepository) Search(ctx context.Context, term string, limit int) ([]models.Student, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM students
        WHERE LOWER(first_name) LIKE $1 OR LOWER(last_name) LIKE $1 OR LOWER(email) LIKE $1
        ORDER BY last_name, first_name LIMIT %d`, studentColumns, limit)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, "%"+strings.ToLower(term)+"%"); err != nil {
		return nil, fmt.Errorf("search students: %w", err)
	}
	return students, nil
}

// Update rewrites the mutable fields of an existing student. record_id and
// subject_id are deliberately absent from the statement.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET first_name = :first_name, last_name = :last_name, date_of_birth = :date_of_birth,
        email = :email, phone = :phone, street = :street, city = :city, zip_code = :zip_code, country = :country,
        enrollment_date = :enrollment_date, major = :major, level = :level, status = :status, gpa = :gpa,
        updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		if dup := duplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// SoftDelete transitions the record to DROPPED. Repeating the call leaves the
// record in the same state, so the operation is idempotent by construction.
func (r *StudentRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE students SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.StatusDropped, time.Now().UTC()); err != nil {
		return fmt.Errorf("soft delete student: %w", err)
	}
	return nil
}

// Statistics aggregates the snapshot counts. The three queries are not
// transactionally consistent with concurrent writes; the snapshot only needs
// to be reasonably fresh.
func (r *StudentRepository) Statistics(ctx context.Context) (*models.StudentStatistics, error) {
	const overviewQuery = `SELECT COUNT(*) AS total,
        COUNT(*) FILTER (WHERE status = 'ACTIVE') AS active,
        COUNT(*) FILTER (WHERE status = 'GRADUATED') AS graduated,
        COALESCE(AVG(gpa), 0) AS avg_gpa
        FROM students`

	var overview struct {
		Total     int     `db:"total"`
		Active    int     `db:"active"`
		Graduated int     `db:"graduated"`
		AvgGPA    float64 `db:"avg_gpa"`
	}
	if err := r.db.GetContext(ctx, &overview, overviewQuery); err != nil {
		return nil, fmt.Errorf("statistics overview: %w", err)
	}

	stats := &models.StudentStatistics{
		Total:     overview.Total,
		Active:    overview.Active,
		Graduated: overview.Graduated,
		AvgGPA:    overview.AvgGPA,
		ByMajor:   map[string]int{},
		ByLevel:   map[string]int{},
	}

	type bucket struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}

	var byMajor []bucket
	if err := r.db.SelectContext(ctx, &byMajor, `SELECT major AS key, COUNT(*) AS count FROM students WHERE status = 'ACTIVE' GROUP BY major`); err != nil {
		return nil, fmt.Errorf("statistics by major: %w", err)
	}
	for _, b := range byMajor {
		stats.ByMajor[b.Key] = b.Count
	}

	var byLevel []bucket
	if err := r.db.SelectContext(ctx, &byLevel, `SELECT level AS key, COUNT(*) AS count FROM students WHERE status = 'ACTIVE' GROUP BY level`); err != nil {
		return nil, fmt.Errorf("statistics by level: %w", err)
	}
	for _, b := range byLevel {
		stats.ByLevel[b.Key] = b.Count
	}

	return stats, nil
}

// duplicateError maps a Postgres unique violation (SQLSTATE 23505) to the
// DuplicateRecord domain error, naming the offending field by constraint.
func duplicateError(err error) *appErrors.Error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
		return nil
	}
	switch {
	case strings.Contains(pqErr.Constraint, "email"):
		return appErrors.Clone(appErrors.ErrDuplicateRecord, "email already used")
	case strings.Contains(pqErr.Constraint, "subject"):
		return appErrors.Clone(appErrors.ErrDuplicateRecord, "student record already exists for this user")
	case strings.Contains(pqErr.Constraint, "record"):
		return appErrors.Clone(appErrors.ErrDuplicateRecord, "record id already assigned")
	default:
		return appErrors.Clone(appErrors.ErrDuplicateRecord, "")
	}
}
