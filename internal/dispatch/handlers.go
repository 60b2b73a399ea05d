package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/db"
	"github.com/cascadehq/cascade/internal/provider"
	"github.com/cascadehq/cascade/internal/queue"
)

// StepAdvancer executes one automation run step.
type StepAdvancer interface {
	Advance(ctx context.Context, runID uuid.UUID, stepIndex, chainDepth int) error
}

// AccountStore is the slice of social account persistence the handlers use.
type AccountStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.SocialAccount, error)
	UpdateToken(ctx context.Context, id uuid.UUID, accessToken string, expiresAt time.Time) error
}

// SegmentCounter computes and caches segment membership counts.
type SegmentCounter interface {
	CountByTag(ctx context.Context, tenantID, tagID uuid.UUID) (int64, error)
}

// CounterCache stores computed counters for cheap reads.
type CounterCache interface {
	SetSegmentCount(ctx context.Context, segmentID string, count int64) error
	SetEngagement(ctx context.Context, postID string, likes, comments, shares int64) error
}

// Handlers bundles everything the per-type job handlers call out to.
type Handlers struct {
	Engine     StepAdvancer
	Email      provider.EmailSender
	SMS        provider.SMSSender
	Social     provider.SocialPublisher
	Tokens     provider.TokenRefresher
	Engagement provider.EngagementFetcher
	Accounts   AccountStore
	Segments   SegmentCounter
	Cache      CounterCache
	Logger     *zap.Logger
}

// RegisterAll binds every job type to its handler.
func (h *Handlers) RegisterAll(d *Dispatcher) {
	d.Register(db.JobAutomationStep, h.AutomationStep)
	d.Register(db.JobEmailCampaignSend, h.EmailCampaignSend)
	d.Register(db.JobSMSCampaignSend, h.SMSCampaignSend)
	d.Register(db.JobSocialPostPublish, h.SocialPostPublish)
	d.Register(db.JobTokenRefresh, h.TokenRefresh)
	d.Register(db.JobSegmentRecount, h.SegmentRecount)
	d.Register(db.JobEngagementFetch, h.EngagementFetch)
}

// AutomationStep advances one run by one step.
func (h *Handlers) AutomationStep(ctx context.Context, job *db.Job) error {
	p, err := queue.DecodePayload[queue.StepPayload](job.Payload)
	if err != nil {
		return err
	}
	return h.Engine.Advance(ctx, p.RunID, p.StepIndex, p.ChainDepth)
}

// EmailCampaignSend delivers one rendered campaign email.
func (h *Handlers) EmailCampaignSend(ctx context.Context, job *db.Job) error {
	p, err := queue.DecodePayload[queue.EmailSendPayload](job.Payload)
	if err != nil {
		return err
	}

	result, err := h.Email.SendEmail(ctx, p.To, p.From, p.Subject, p.HTML)
	if err != nil {
		return err
	}
	h.Logger.Debug("campaign email sent",
		zap.String("campaign_id", p.CampaignID.String()),
		zap.String("message_id", result.MessageID),
	)
	return nil
}

// SMSCampaignSend delivers one campaign SMS.
func (h *Handlers) SMSCampaignSend(ctx context.Context, job *db.Job) error {
	p, err := queue.DecodePayload[queue.SMSSendPayload](job.Payload)
	if err != nil {
		return err
	}

	result, err := h.SMS.SendSMS(ctx, p.To, p.Body, p.From)
	if err != nil {
		return err
	}
	if result.ErrorCode != "" {
		return fmt.Errorf("sms rejected by provider: code %s", result.ErrorCode)
	}
	h.Logger.Debug("campaign sms sent",
		zap.String("campaign_id", p.CampaignID.String()),
		zap.String("sid", result.SID),
		zap.Int("segments", result.SegmentCount),
	)
	return nil
}

// SocialPostPublish publishes one post through a connected account.
func (h *Handlers) SocialPostPublish(ctx context.Context, job *db.Job) error {
	p, err := queue.DecodePayload[queue.SocialPublishPayload](job.Payload)
	if err != nil {
		return err
	}

	account, err := h.Accounts.Get(ctx, p.AccountID)
	if err != nil {
		return err
	}

	result, err := h.Social.PublishPost(ctx, p.Platform, provider.Credentials{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
	}, p.Content)
	if err != nil {
		return err
	}
	h.Logger.Info("social post published",
		zap.String("account_id", p.AccountID.String()),
		zap.String("platform", p.Platform),
		zap.String("post_id", result.PostID),
	)
	return nil
}

// TokenRefresh exchanges a social account's refresh token for a new access
// token and persists it.
func (h *Handlers) TokenRefresh(ctx context.Context, job *db.Job) error {
	p, err := queue.DecodePayload[queue.TokenRefreshPayload](job.Payload)
	if err != nil {
		return err
	}

	account, err := h.Accounts.Get(ctx, p.AccountID)
	if err != nil {
		return err
	}

	token, err := h.Tokens.RefreshToken(ctx, account.Platform, account.RefreshToken)
	if err != nil {
		return err
	}
	return h.Accounts.UpdateToken(ctx, account.ID, token.AccessToken, token.ExpiresAt)
}

// SegmentRecount recomputes a tag-backed segment's membership count and
// caches it.
func (h *Handlers) SegmentRecount(ctx context.Context, job *db.Job) error {
	p, err := queue.DecodePayload[queue.SegmentRecountPayload](job.Payload)
	if err != nil {
		return err
	}

	count, err := h.Segments.CountByTag(ctx, job.TenantID, p.TagID)
	if err != nil {
		return err
	}
	if h.Cache != nil {
		if err := h.Cache.SetSegmentCount(ctx, p.SegmentID.String(), count); err != nil {
			return err
		}
	}
	h.Logger.Debug("segment recounted",
		zap.String("segment_id", p.SegmentID.String()),
		zap.Int64("count", count),
	)
	return nil
}

// EngagementFetch pulls fresh engagement metrics for a published post and
// caches them.
func (h *Handlers) EngagementFetch(ctx context.Context, job *db.Job) error {
	p, err := queue.DecodePayload[queue.EngagementFetchPayload](job.Payload)
	if err != nil {
		return err
	}

	account, err := h.Accounts.Get(ctx, p.AccountID)
	if err != nil {
		return err
	}

	engagement, err := h.Engagement.FetchEngagement(ctx, p.Platform, provider.Credentials{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
	}, p.PostID)
	if err != nil {
		return err
	}
	if h.Cache == nil {
		return nil
	}
	return h.Cache.SetEngagement(ctx, p.PostID, engagement.Likes, engagement.Comments, engagement.Shares)
}
