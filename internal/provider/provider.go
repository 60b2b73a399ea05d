// Package provider defines the capability interfaces the engine consumes
// from external delivery systems (email, SMS, social, OAuth) and their
// concrete clients. The engine never talks to a provider SDK directly.
package provider

import (
	"context"
	"time"
)

// EmailResult carries the provider message id for a sent email.
type EmailResult struct {
	MessageID string
}

// EmailSender sends one rendered email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, from, subject, html string) (*EmailResult, error)
}

// SMSResult carries provider metadata for a sent SMS. A non-empty ErrorCode
// is a provider-level rejection (e.g. a carrier policy violation), distinct
// from a transport error.
type SMSResult struct {
	SID          string
	SegmentCount int
	ErrorCode    string
}

// SMSSender sends one SMS message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body, from string) (*SMSResult, error)
}

// Credentials is the OAuth material a social call needs.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// PostResult identifies a published social post.
type PostResult struct {
	PostID string
	URL    string
}

// SocialPublisher publishes a post to a connected social account.
type SocialPublisher interface {
	PublishPost(ctx context.Context, platform string, creds Credentials, content string) (*PostResult, error)
}

// Token is a refreshed OAuth access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// TokenRefresher exchanges a refresh token for a fresh access token.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, platform, refreshToken string) (*Token, error)
}

// Engagement is a snapshot of a post's engagement counters.
type Engagement struct {
	Likes    int64
	Comments int64
	Shares   int64
}

// EngagementFetcher pulls engagement metrics for a published post.
type EngagementFetcher interface {
	FetchEngagement(ctx context.Context, platform string, creds Credentials, postID string) (*Engagement, error)
}
