package users

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jamesclaimtechio/rmcdialer/internal/config"
	apperrors "github.com/jamesclaimtechio/rmcdialer/pkg/errors"
	"github.com/jamesclaimtechio/rmcdialer/pkg/logger"
)

// Claim is the slice of a user's claim the dialler needs for agent display.
type Claim struct {
	ID       uuid.UUID `json:"id"`
	Type     string    `json:"type"`
	Status   string    `json:"status"`
	Lender   string    `json:"lender,omitempty"`
	Value    float64   `json:"value,omitempty"`
	OpenedAt time.Time `json:"opened_at"`
}

// UserContext is the structured snapshot of a user and their claims, fetched
// from the user service at call start. Raw preserves the collaborator's
// payload byte-for-byte for audit storage on the session.
type UserContext struct {
	UserID      uuid.UUID       `json:"user_id"`
	FullName    string          `json:"full_name"`
	PhoneNumber string          `json:"phone_number"`
	Claims      []Claim         `json:"claims"`
	Raw         json.RawMessage `json:"-"`
}

// ContextReader is the capability the call lifecycle depends on.
type ContextReader interface {
	Context(ctx context.Context, userID uuid.UUID) (*UserContext, error)
}

// Client is a read-through adapter to the external user/claims service with a
// Redis cache in front.
type Client struct {
	http    *http.Client
	baseURL string
	cache   *redis.Client
	ttl     time.Duration
	logger  *logger.Logger
}

// NewClient builds the user context client.
func NewClient(cfg config.UsersConfig, cache *redis.Client, lg *logger.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		cache:   cache,
		ttl:     ttl,
		logger:  lg,
	}
}

// Context returns the user's claims context, serving from cache when fresh.
// Cache failures degrade to a direct fetch rather than failing the call.
func (c *Client) Context(ctx context.Context, userID uuid.UUID) (*UserContext, error) {
	key := c.key(userID)

	if cached, err := c.cache.Get(ctx, key).Bytes(); err == nil {
		if uc, decodeErr := decode(cached); decodeErr == nil {
			return uc, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("users client: cache read", zap.Error(err), zap.String("user_id", userID.String()))
	}

	raw, err := c.fetch(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("users client: cache write", zap.Error(err), zap.String("user_id", userID.String()))
	}

	return decode(raw)
}

func (c *Client) fetch(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	url := fmt.Sprintf("%s/internal/users/%s/context", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("users client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: users client: %v", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: user %s", apperrors.ErrNotFound, userID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: users client: status %d", apperrors.ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("users client: read body: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (*UserContext, error) {
	var uc UserContext
	if err := json.Unmarshal(raw, &uc); err != nil {
		return nil, fmt.Errorf("users client: decode context: %w", err)
	}
	uc.Raw = json.RawMessage(raw)
	return &uc, nil
}

func (c *Client) key(userID uuid.UUID) string {
	return fmt.Sprintf("rmcdialer:users:%s:context", userID.String())
}
