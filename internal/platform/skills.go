// internal/platform/skills.go
// HTTP client for the external Skill service

package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Skill is the shared contract for the external Skill service
type Skill struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	OwnerUserID int64  `json:"owner_user_id"`
}

// SkillClient talks to the external Skill service. Failures here are
// non-fatal for callers: skill metadata only enriches conversations.
type SkillClient struct {
	baseURL string
	http    *http.Client
}

// NewSkillClient creates a client with a bounded request timeout
func NewSkillClient(baseURL string, timeout time.Duration) *SkillClient {
	return &SkillClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// GetByID fetches a skill by id
func (c *SkillClient) GetByID(ctx context.Context, skillID int64) (*Skill, error) {
	endpoint := fmt.Sprintf("%s/api/v1/skills/%d", c.baseURL, skillID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build skill request: %w", err)
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
		return nil, fmt.Errorf("%w: skill service returned %d", ErrUnavailable, resp.StatusCode)
	}

	var body struct {
		Data Skill `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding skill response: %v", ErrUnavailable, err)
	}

	return &body.Data, nil
}
