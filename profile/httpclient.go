package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxProfileBodySize limits profile responses; a profile is a handful of fields.
const maxProfileBodySize = 64 * 1024

// HTTPService fetches profiles from the user service over HTTP.
type HTTPService struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPService creates a profile client for the given base URL, e.g.
// "http://userhub:8080". Timeout 0 uses a 10 second default.
func NewHTTPService(baseURL string, timeout time.Duration) (*HTTPService, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("profile service base URL is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPService{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// GetProfile implements Service by calling GET /profiles/{id}.
func (s *HTTPService) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if userID == "" {
		return Profile{}, fmt.Errorf("user id is required")
	}

	endpoint := s.baseURL + "/profiles/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("create profile request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch profile %s: %w", userID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBodySize))
	if err != nil {
		return Profile{}, fmt.Errorf("read profile response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Profile{}, fmt.Errorf("profile %s: %w", userID, ErrUnknownUser)
	default:
		return Profile{}, fmt.Errorf("profile service returned status %d for %s", resp.StatusCode, userID)
	}

	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile response: %w", err)
	}
	if !p.Role.Valid() {
		return Profile{}, fmt.Errorf("profile %s has unknown role %q", userID, p.Role)
	}
	return p, nil
}
