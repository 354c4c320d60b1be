package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexis-edu/student-api/internal/models"
	appErrors "github.com/nexis-edu/student-api/pkg/errors"
)

type mockStudentRepo struct {
	mu         sync.Mutex
	students   map[string]models.Student
	seq        map[int]int
	nextID     int
	lastFilter models.StudentFilter
	stats      *models.StudentStatistics
	err        error
}

func newMockStudentRepo() *mockStudentRepo {
	return &mockStudentRepo{students: map[string]models.Student{}, seq: map[int]int{}}
}

func (m *mockStudentRepo) NextRecordSequence(_ context.Context, year int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.seq[year]++
	return m.seq[year], nil
}

func (m *mockStudentRepo) Create(_ context.Context, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.students {
		if existing.Email == student.Email {
			return appErrors.Clone(appErrors.ErrDuplicateRecord, "email already used")
		}
		if existing.SubjectID == student.SubjectID {
			return appErrors.Clone(appErrors.ErrDuplicateRecord, "student record already exists for this user")
		}
	}
	if student.ID == "" {
		m.nextID++
		student.ID = fmt.Sprintf("id-%d", m.nextID)
	}
	student.CreatedAt = time.Now()
	student.UpdatedAt = student.CreatedAt
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) FindByID(_ context.Context, id string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) FindBySubjectID(_ context.Context, subjectID string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.SubjectID == subjectID {
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) List(_ context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	if m.err != nil {
		return nil, 0, m.err
	}
	var out []models.Student
	for _, s := range m.students {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *mockStudentRepo) Search(_ context.Context, term string, limit int) ([]models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Student
	for _, s := range m.students {
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStudentRepo) Update(_ context.Context, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	student.UpdatedAt = time.Now()
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.students[id]; ok {
		s.Status = models.StatusDropped
		m.students[id] = s
	}
	return nil
}

func (m *mockStudentRepo) Statistics(_ context.Context) (*models.StudentStatistics, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stats, nil
}

func validCreateRequest() CreateStudentRequest {
	return CreateStudentRequest{
		FirstName:   "Amine",
		LastName:    "Ben Salah",
		DateOfBirth: time.Date(2004, 5, 12, 0, 0, 0, 0, time.UTC),
		Email:       "Amine@Univ.TN",
		Major:       models.MajorInformatique,
		Level:       models.LevelL1,
	}
}

func newTestService(repo *mockStudentRepo) *StudentService {
	return NewStudentService(repo, nil, validator.New(), zap.NewNop())
}

func TestStudentServiceCreate(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestService(repo)

	student, err := svc.Create(context.Background(), "42", validCreateRequest())
	require.NoError(t, err)

	year := time.Now().UTC().Year()
	assert.Equal(t, fmt.Sprintf("STU%d00001", year), student.RecordID)
	assert.Equal(t, "42", student.SubjectID)
	assert.Equal(t, "amine@univ.tn", student.Email)
	assert.Equal(t, models.StatusActive, student.Status)
	assert.Zero(t, student.GPA)
	assert.False(t, student.EnrollmentDate.IsZero())
}

func TestStudentServiceCreateValidation(t *testing.T) {
	svc := newTestService(newMockStudentRepo())

	cases := map[string]CreateStudentRequest{
		"missing first name": func() CreateStudentRequest { r := validCreateRequest(); r.FirstName = ""; return r }(),
		"bad email":          func() CreateStudentRequest { r := validCreateRequest(); r.Email = "not-an-email"; return r }(),
		"unknown major":      func() CreateStudentRequest { r := validCreateRequest(); r.Major = "Astrologie"; return r }(),
		"unknown level":      func() CreateStudentRequest { r := validCreateRequest(); r.Level = "L9"; return r }(),
		"gpa out of range": func() CreateStudentRequest {
			r := validCreateRequest()
			g := 21.0
			r.GPA = &g
			return r
		}(),
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), "42", req)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}
}

func TestStudentServiceCreateDuplicateEmail(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), "42", validCreateRequest())
	require.NoError(t, err)

	req := validCreateRequest()
	_, err = svc.Create(context.Background(), "43", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateRecord.Code, appErrors.FromError(err).Code)
}

func TestStudentServiceCreateDuplicateSubject(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), "42", validCreateRequest())
	require.NoError(t, err)

	req := validCreateRequest()
	req.Email = "other@univ.tn"
	_, err = svc.Create(context.Background(), "42", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateRecord.Code, appErrors.FromError(err).Code)
}

func TestStudentServiceConcurrentCreatesDistinctRecordIDs(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestService(repo)

	const n = 25
	results := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validCreateRequest()
			req.Email = fmt.Sprintf("student%d@univ.tn", i)
			student, err := svc.Create(context.Background(), fmt.Sprintf("subj-%d", i), req)
			if err != nil {
				t.Error(err)
				return
			}
			results <- student.RecordID
		}(i)
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for id := range results {
		assert.False(t, seen[id], "duplicate record id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestStudentServiceGetNotFound(t *testing.T) {
	svc := newTestService(newMockStudentRepo())

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestStudentServiceGetBySubjectID(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), "42", validCreateRequest())
	require.NoError(t, err)

	found, err := svc.GetBySubjectID(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, created.RecordID, found.RecordID)
}

func TestStudentServiceListDefaultsToActive(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestService(repo)

	_, _, err := svc.List(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, repo.lastFilter.Status)
}

func TestStudentServiceListRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(newMockStudentRepo())

	_, _, err := svc.List(context.Background(), models.StudentFilter{Status: "GONE"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStudentServiceListPagination(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestService(repo)

	for i := 0; i < 3; i++ {
		req := validCreateRequest()
		req.Email = fmt.Sprintf("s%d@univ.tn", i)
		_, err := svc.Create(context.Background(), fmt.Sprintf("subj-%d", i), req)
		require.NoError(t, err)
	}

	_, pagination, err := svc.List(context.Background(), models.StudentFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, pagination.Total)
	assert.Equal(t, 2, pagination.Limit)
	assert.Equal(t, 2, pagination.Pages)
}

func TestStudentServiceUpdatePartialPatch(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), "42", validCreateRequest())
	require.NoError(t, err)

	level := models.LevelL2
	updated, err := svc.Update(context.Background(), created.ID, UpdateStudentRequest{Level: &level})
	require.NoError(t, err)

	assert.Equal(t, models.LevelL2, updated.Level)
	assert.Equal(t, created.FirstName, updated.FirstName)
	assert.Equal(t, created.Email, updated.Email)
	assert.Equal(t, created.RecordID, updated.RecordID)
	assert.Equal(t, created.SubjectID, updated.SubjectID)
}

func TestStudentServiceUpdateUnknownStatus(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), "42", validCreateRequest())
	require.NoError(t, err)

	bad := models.StudentStatus("EXPELLED")
	_, err = svc.Update(context.Background(), created.ID, UpdateStudentRequest{Status: &bad})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStudentServiceUpdateAllowsAnyKnownTransition(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), "42", validCreateRequest())
	require.NoError(t, err)

	graduated := models.StatusGraduated
	_, err = svc.Update(context.Background(), created.ID, UpdateStudentRequest{Status: &graduated})
	require.NoError(t, err)

	// Transitions are not restricted beyond enum membership.
	active := models.StatusActive
	updated, err := svc.Update(context.Background(), created.ID, UpdateStudentRequest{Status: &active})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, updated.Status)
}

func TestStudentServiceUpdateNotFound(t *testing.T) {
	svc := newTestService(newMockStudentRepo())

	name := "New"
	_, err := svc.Update(context.Background(), "missing", UpdateStudentRequest{FirstName: &name})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestStudentServiceDeleteIsIdempotent(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), "42", validCreateRequest())
	require.NoError(t, err)

	first, err := svc.Delete(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDropped, first.Status)

	second, err := svc.Delete(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDropped, second.Status)

	// Dropped records stay retrievable by direct lookup.
	fetched, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDropped, fetched.Status)

	// But are excluded from the default list scope.
	students, _, err := svc.List(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	assert.Empty(t, students)
}

func TestStudentServiceStatistics(t *testing.T) {
	repo := newMockStudentRepo()
	repo.stats = &models.StudentStatistics{
		Total:     10,
		Active:    7,
		Graduated: 2,
		AvgGPA:    11.8,
		ByMajor:   map[string]int{"Informatique": 4, "IA": 3},
		ByLevel:   map[string]int{"L1": 5, "M1": 2},
	}
	svc := newTestService(repo)

	stats, cached, err := svc.Statistics(context.Background())
	require.NoError(t, err)
	assert.False(t, cached)

	sumMajor := 0
	for _, n := range stats.ByMajor {
		sumMajor += n
	}
	sumLevel := 0
	for _, n := range stats.ByLevel {
		sumLevel += n
	}
	assert.Equal(t, stats.Active, sumMajor)
	assert.Equal(t, stats.Active, sumLevel)
}

type memoryCacheRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func TestStudentServiceStatisticsCaching(t *testing.T) {
	repo := newMockStudentRepo()
	repo.stats = &models.StudentStatistics{Total: 5, Active: 5, ByMajor: map[string]int{}, ByLevel: map[string]int{}}
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := NewStudentService(repo, cache, validator.New(), zap.NewNop())

	_, cached, err := svc.Statistics(context.Background())
	require.NoError(t, err)
	assert.False(t, cached)

	_, cached, err = svc.Statistics(context.Background())
	require.NoError(t, err)
	assert.True(t, cached)

	// Any mutation invalidates the snapshot.
	_, err = svc.Create(context.Background(), "42", validCreateRequest())
	require.NoError(t, err)

	_, cached, err = svc.Statistics(context.Background())
	require.NoError(t, err)
	assert.False(t, cached)
}
