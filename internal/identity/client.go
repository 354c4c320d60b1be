package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nexis-edu/student-api/internal/models"
	"github.com/nexis-edu/student-api/pkg/config"
	appErrors "github.com/nexis-edu/student-api/pkg/errors"
)

// Client resolves bearer tokens against the identity provider's introspection
// endpoint. The service keeps no local trust root: every token is forwarded
// as-is and the provider's verdict is final.
type Client struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// claimsPayload mirrors the user payload returned by the identity provider.
// The subject id is numeric on the wire; json.Number keeps it opaque here.
type claimsPayload struct {
	ID       json.Number `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
}

// NewClient constructs an identity client with sane defaults.
func NewClient(cfg config.IdentityConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Introspect forwards the raw token to the provider and returns the resolved
// identity. Provider rejections and transport failures both surface as a
// generic Unauthorized; the provider's response body is logged but never
// returned to callers.
func (c *Client) Introspect(ctx context.Context, token string) (*models.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "build introspection request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("identity provider unreachable", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, appErrors.ErrUnauthorized.Message)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Debug("identity provider rejected token",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return nil, appErrors.ErrUnauthorized
	}

	var payload claimsPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn("identity provider returned malformed claims", zap.Error(err))
		return nil, appErrors.ErrUnauthorized
	}
	if payload.ID.String() == "" || payload.Role == "" {
		c.logger.Warn("identity provider returned incomplete claims",
			zap.String("subject_id", payload.ID.String()),
			zap.String("role", string(payload.Role)),
		)
		return nil, appErrors.ErrUnauthorized
	}

	return &models.Identity{
		SubjectID: payload.ID.String(),
		Role:      payload.Role,
		Email:     payload.Email,
		Username:  payload.Username,
	}, nil
}

// Ping probes the provider endpoint for readiness reporting.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}
	return nil
}
