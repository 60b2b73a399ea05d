package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SocialClient talks to the social publishing gateway, an internal service
// that fronts the per-platform APIs behind one REST surface. It implements
// SocialPublisher, TokenRefresher, and EngagementFetcher.
type SocialClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

type SocialConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewSocialClient creates a client for the social gateway.
func NewSocialClient(cfg SocialConfig, logger *zap.Logger) *SocialClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &SocialClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// PublishPost publishes content to the platform through the gateway.
func (s *SocialClient) PublishPost(ctx context.Context, platform string, creds Credentials, content string) (*PostResult, error) {
	body := map[string]string{"content": content}

	var out struct {
		PostID string `json:"post_id"`
		URL    string `json:"url"`
	}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/v1/%s/posts", platform), creds.AccessToken, body, &out); err != nil {
		return nil, fmt.Errorf("publish post: %w", err)
	}

	s.logger.Info("social post published",
		zap.String("platform", platform),
		zap.String("post_id", out.PostID),
	)

	return &PostResult{PostID: out.PostID, URL: out.URL}, nil
}

// RefreshToken exchanges the refresh token for a new access token.
func (s *SocialClient) RefreshToken(ctx context.Context, platform, refreshToken string) (*Token, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/v1/%s/token", platform), "", body, &out); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	return &Token{
		AccessToken: out.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}

// FetchEngagement pulls engagement counters for a post.
func (s *SocialClient) FetchEngagement(ctx context.Context, platform string, creds Credentials, postID string) (*Engagement, error) {
	var out struct {
		Likes    int64 `json:"likes"`
		Comments int64 `json:"comments"`
		Shares   int64 `json:"shares"`
	}
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/v1/%s/posts/%s/engagement", platform, postID), creds.AccessToken, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch engagement: %w", err)
	}

	return &Engagement{Likes: out.Likes, Comments: out.Comments, Shares: out.Shares}, nil
}

func (s *SocialClient) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(preview))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
