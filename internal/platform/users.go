// internal/platform/users.go
// HTTP client for the external User service

package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("resource not found")
	ErrUnavailable = errors.New("upstream service unavailable")
)

// User is the shared contract for the external User service. Every consumer
// uses this one shape; there are no per-consumer DTO copies.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// DisplayName returns the name shown next to the user's messages
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// UserClient talks to the external User service
type UserClient struct {
	baseURL string
	http    *http.Client
}

// NewUserClient creates a client with a bounded request timeout
func NewUserClient(baseURL string, timeout time.Duration) *UserClient {
	return &UserClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// GetByID fetches a user by internal numeric id
func (c *UserClient) GetByID(ctx context.Context, userID int64) (*User, error) {
	return c.fetch(ctx, fmt.Sprintf("%s/api/v1/users/%d", c.baseURL, userID))
}

// GetByExternalSubject fetches a user by identity-provider subject
func (c *UserClient) GetByExternalSubject(ctx context.Context, subject string) (*User, error) {
	return c.fetch(ctx, fmt.Sprintf("%s/api/v1/users/by-subject/%s", c.baseURL, url.PathEscape(subject)))
}

func (c *UserClient) fetch(ctx context.Context, endpoint string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: user service returned %d", ErrUnavailable, resp.StatusCode)
	}

	var body struct {
		Data User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding user response: %v", ErrUnavailable, err)
	}

	return &body.Data, nil
}
