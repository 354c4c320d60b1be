package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexis-edu/student-api/internal/models"
	appErrors "github.com/nexis-edu/student-api/pkg/errors"
)

type stubProvider struct {
	identities map[string]*models.Identity
	calls      int
}

func (s *stubProvider) Introspect(_ context.Context, token string) (*models.Identity, error) {
	s.calls++
	if ident, ok := s.identities[token]; ok {
		return ident, nil
	}
	return nil, appErrors.ErrUnauthorized
}

func newTestRouter(t *testing.T, provider *stubProvider, srv *fakeStudentSrv) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterStudentRoutes(r.Group("/api/v1"), provider, NewStudentHandler(srv, &fakeExporter{}), zap.NewNop())
	return r
}

func perform(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(rec, req)
	return rec
}

func TestRoutesRejectMissingTokenWithoutProviderCall(t *testing.T) {
	provider := &stubProvider{}
	r := newTestRouter(t, provider, &fakeStudentSrv{})

	rec := perform(r, http.MethodGet, "/api/v1/students", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, provider.calls)
}

func TestRoutesRejectInvalidToken(t *testing.T) {
	provider := &stubProvider{identities: map[string]*models.Identity{}}
	r := newTestRouter(t, provider, &fakeStudentSrv{})

	rec := perform(r, http.MethodGet, "/api/v1/students", "bogus")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, provider.calls)
}

func TestRoutesRoleGate(t *testing.T) {
	provider := &stubProvider{identities: map[string]*models.Identity{
		"student-token": {SubjectID: "7", Role: models.RoleStudent},
		"admin-token":   {SubjectID: "1", Role: models.RoleAdmin},
	}}
	srv := &fakeStudentSrv{
		student:    &models.Student{ID: "id-1", RecordID: "STU202600001"},
		pagination: &models.Pagination{Total: 0, Page: 1, Pages: 0, Limit: 10},
		stats:      &models.StudentStatistics{},
	}
	r := newTestRouter(t, provider, srv)

	// Mutations are admin-only.
	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodPost, "/api/v1/students", "student-token").Code)
	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodPut, "/api/v1/students/id-1", "student-token").Code)
	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodDelete, "/api/v1/students/id-1", "student-token").Code)

	// Reads are open to any resolved identity.
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/api/v1/students", "student-token").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/api/v1/students/id-1", "student-token").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/api/v1/students/statistics", "student-token").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/api/v1/students/user/7", "student-token").Code)

	// Admin passes the gate; the provider resolved identity on every call.
	assert.Equal(t, http.StatusOK, perform(r, http.MethodDelete, "/api/v1/students/id-1", "admin-token").Code)
	require.Equal(t, 8, provider.calls)

	// No record mutation happened on the forbidden attempts.
	assert.Equal(t, "id-1", srv.deletedID)
	assert.Empty(t, srv.lastSubjectID)
}
