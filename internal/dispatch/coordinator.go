// Package dispatch turns a draft campaign into delivered email. Start runs
// the admission checks synchronously and hands an accepted job to the
// worker pool; Run performs the sends and settles campaign status, quota
// and progress exactly once per job.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"MemberSend/internal/email"
	"MemberSend/internal/metrics"
	"MemberSend/internal/models"
	"MemberSend/internal/progress"
	"MemberSend/internal/quota"
)

const finalizeTimeout = 30 * time.Second

type Store interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	GetCampaign(ctx context.Context, tenantID string, id int64) (*models.Campaign, error)
	ListActiveSubscribers(ctx context.Context, tenantID string) ([]models.Subscriber, error)
	ClaimCampaign(ctx context.Context, tenantID string, id int64) error
	ReleaseCampaign(ctx context.Context, tenantID string, id int64) error
	FinishCampaign(ctx context.Context, tenantID string, id int64, status models.CampaignStatus, recipientCount int, at time.Time) error
	FailAbandonedCampaigns(ctx context.Context) ([]models.AbandonedCampaign, error)
	InsertEvent(ctx context.Context, e *models.EmailEvent) (bool, error)
}

type Ledger interface {
	CheckAndReserve(ctx context.Context, tenantID string, requested int) (quota.Decision, error)
	Commit(ctx context.Context, tenantID string, sent int) error
}

type Options struct {
	PlatformDomain  string
	CustomLocalPart string
	SendTimeout     time.Duration
}

// Plan is an admitted job. Recipients are snapshotted at admission so the
// quota check and the send loop see the same list.
type Plan struct {
	JobKey     string
	Tenant     models.Tenant
	Campaign   models.Campaign
	Recipients []models.Subscriber
	AcceptedAt time.Time
}

type Coordinator struct {
	store     Store
	ledger    Ledger
	tracker   progress.Tracker
	transport email.Transport
	limiter   *rate.Limiter
	queue     chan<- *Plan
	opts      Options
	log       *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewCoordinator wires the dispatch path. The limiter is shared by every
// worker so the provider sees one global send rate.
func NewCoordinator(
	store Store,
	ledger Ledger,
	tracker progress.Tracker,
	transport email.Transport,
	limiter *rate.Limiter,
	queue chan<- *Plan,
	opts Options,
	log *zap.Logger,
) *Coordinator {

	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	return &Coordinator{
		store:     store,
		ledger:    ledger,
		tracker:   tracker,
		transport: transport,
		limiter:   limiter,
		queue:     queue,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// ----------------------------
// Admission
// ----------------------------

// Start admits a campaign for sending and returns the job key. Nothing is
// sent and no quota is charged when it returns an error.
func (c *Coordinator) Start(ctx context.Context, tenantID string, campaignID int64) (string, error) {
	campaign, err := c.store.GetCampaign(ctx, tenantID, campaignID)
	if err != nil {
		return "", err
	}
	if campaign.Status != models.CampaignDraft {
		return "", &AdmissionError{Reason: ReasonNotDraft, Status: campaign.Status}
	}

	recipients, err := c.store.ListActiveSubscribers(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("list recipients: %w", err)
	}
	if len(recipients) == 0 {
		return "", &AdmissionError{Reason: ReasonNoRecipients}
	}

	tenant, err := c.store.GetTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}

	// Claim before the quota check: with the tenant's only sending slot
	// held, no other job can commit between the check and this send.
	if err := c.store.ClaimCampaign(ctx, tenantID, campaignID); err != nil {
		switch {
		case errors.Is(err, models.ErrCampaignNotDraft):
			// Another request moved it after our read; report where it is now.
			ae := &AdmissionError{Reason: ReasonNotDraft}
			if current, err := c.store.GetCampaign(ctx, tenantID, campaignID); err == nil {
				ae.Status = current.Status
			}
			return "", ae
		case errors.Is(err, models.ErrTenantBusy):
			return "", &AdmissionError{Reason: ReasonTenantBusy}
		}
		return "", fmt.Errorf("claim campaign: %w", err)
	}

	decision, err := c.ledger.CheckAndReserve(ctx, tenantID, len(recipients))
	if err != nil {
		c.release(ctx, tenantID, campaignID)
		return "", err
	}
	if !decision.Allowed {
		c.release(ctx, tenantID, campaignID)
		metrics.QuotaRejections.WithLabelValues(string(decision.Period)).Inc()
		return "", &AdmissionError{
			Reason:    ReasonQuotaExceeded,
			Period:    decision.Period,
			Limit:     decision.Limit,
			Remaining: decision.Remaining,
			Requested: decision.Requested,
		}
	}

	plan := &Plan{
		JobKey:     uuid.NewString(),
		Tenant:     *tenant,
		Campaign:   *campaign,
		Recipients: recipients,
		AcceptedAt: c.now(),
	}

	c.track(ctx, progress.Job{
		Key:        plan.JobKey,
		TenantID:   tenantID,
		CampaignID: campaignID,
		Status:     progress.StatusStarting,
		Total:      len(recipients),
	})

	if err := c.enqueue(plan); err != nil {
		c.log.Error("campaign not queued",
			zap.String("tenant_id", tenantID),
			zap.Int64("campaign_id", campaignID),
			zap.Error(err),
		)
		c.finish(ctx, plan, progress.Job{
			Key:        plan.JobKey,
			TenantID:   tenantID,
			CampaignID: campaignID,
			Total:      len(recipients),
		}, err)
		return "", err
	}

	c.log.Info("campaign accepted",
		zap.String("tenant_id", tenantID),
		zap.Int64("campaign_id", campaignID),
		zap.String("job_key", plan.JobKey),
		zap.Int("recipients", len(recipients)),
	)

	return plan.JobKey, nil
}

func (c *Coordinator) enqueue(plan *Plan) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrShuttingDown
	}

	select {
	case c.queue <- plan:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops admissions and closes the queue so workers drain and exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

func (c *Coordinator) release(ctx context.Context, tenantID string, campaignID int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := c.store.ReleaseCampaign(ctx, tenantID, campaignID); err != nil {
		c.log.Error("release campaign failed",
			zap.String("tenant_id", tenantID),
			zap.Int64("campaign_id", campaignID),
			zap.Error(err),
		)
	}
}

// Recover settles campaigns a previous process left in sending: each is
// marked failed and the emails it already sent are charged. Call it before
// any worker starts.
func (c *Coordinator) Recover(ctx context.Context) error {
	abandoned, err := c.store.FailAbandonedCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("fail abandoned campaigns: %w", err)
	}

	for _, a := range abandoned {
		logger := c.log.With(
			zap.String("tenant_id", a.TenantID),
			zap.Int64("campaign_id", a.CampaignID),
		)

		if err := c.ledger.Commit(ctx, a.TenantID, a.Sent); err != nil {
			logger.Error("quota commit failed", zap.Int("sent", a.Sent), zap.Error(err))
			continue
		}

		metrics.DispatchJobs.WithLabelValues("abandoned").Inc()
		logger.Warn("abandoned campaign marked failed", zap.Int("sent", a.Sent))
	}

	return nil
}

// ----------------------------
// Execution
// ----------------------------

// Run sends one message per recipient. A failed recipient is counted and
// skipped; a failure of the job itself stops the loop and marks the
// campaign failed. Either way the emails actually sent are charged.
func (c *Coordinator) Run(ctx context.Context, plan *Plan) {
	start := c.now()

	job := progress.Job{
		Key:        plan.JobKey,
		TenantID:   plan.Tenant.ID,
		CampaignID: plan.Campaign.ID,
		Status:     progress.StatusSending,
		Total:      len(plan.Recipients),
	}
	c.track(ctx, job)

	runErr := c.sendAll(ctx, plan, &job)

	c.finish(ctx, plan, job, runErr)
	metrics.DispatchDuration.Observe(c.now().Sub(start).Seconds())
}

func (c *Coordinator) sendAll(ctx context.Context, plan *Plan, job *progress.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()

	from := SenderAddress(plan.Tenant, c.opts)
	campaignID := plan.Campaign.ID

	for i, sub := range plan.Recipients {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		msg := email.Message{
			From:    from,
			To:      sub.Email,
			Subject: plan.Campaign.Subject,
			HTML:    MergeTags(plan.Campaign.HTMLBody, sub),
			Tags: map[string]string{
				email.TagCampaignID: strconv.FormatInt(campaignID, 10),
				email.TagTenantID:   plan.Tenant.ID,
			},
		}

		messageID, sendErr := c.send(ctx, msg)
		if sendErr != nil {
			job.Failed++
			metrics.EmailFailures.Inc()
			c.log.Warn("email send failed",
				zap.String("tenant_id", plan.Tenant.ID),
				zap.Int64("campaign_id", campaignID),
				zap.String("email", sub.Email),
				zap.Error(sendErr),
			)
		} else {
			job.Sent++
			metrics.EmailsSent.Inc()
		}

		job.Current = i + 1
		c.track(ctx, *job)

		if sendErr != nil {
			continue
		}

		_, err := c.store.InsertEvent(ctx, &models.EmailEvent{
			CampaignID:        &campaignID,
			Kind:              models.EventSent,
			ProviderMessageID: messageID,
			RecipientEmail:    sub.Email,
			OccurredAt:        c.now(),
		})
		if err != nil {
			return fmt.Errorf("record sent event: %w", err)
		}
	}

	return nil
}

func (c *Coordinator) send(ctx context.Context, msg email.Message) (string, error) {
	if c.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SendTimeout)
		defer cancel()
	}
	return c.transport.Send(ctx, msg)
}

// finish settles a claimed job. It runs detached from ctx so a shutdown
// still leaves the campaign, quota and tracker consistent.
func (c *Coordinator) finish(ctx context.Context, plan *Plan, job progress.Job, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	tenantID := plan.Tenant.ID
	campaignID := plan.Campaign.ID
	logger := c.log.With(
		zap.String("tenant_id", tenantID),
		zap.Int64("campaign_id", campaignID),
		zap.String("job_key", plan.JobKey),
	)

	status := models.CampaignSent
	if runErr != nil {
		status = models.CampaignFailed
	}

	if err := c.store.FinishCampaign(ctx, tenantID, campaignID, status, job.Sent, c.now()); err != nil {
		logger.Error("finish campaign failed", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("finish campaign: %w", err)
		}
	}

	if err := c.ledger.Commit(ctx, tenantID, job.Sent); err != nil {
		logger.Error("quota commit failed", zap.Int("sent", job.Sent), zap.Error(err))
	}

	if runErr != nil {
		job.Status = progress.StatusFailed
		job.Error = runErr.Error()
		metrics.DispatchJobs.WithLabelValues("failed").Inc()
		logger.Error("campaign dispatch failed",
			zap.Int("sent", job.Sent),
			zap.Int("failed", job.Failed),
			zap.Error(runErr),
		)
	} else {
		job.Status = progress.StatusCompleted
		metrics.DispatchJobs.WithLabelValues("completed").Inc()
		logger.Info("campaign dispatched",
			zap.Int("sent", job.Sent),
			zap.Int("failed", job.Failed),
		)
	}

	c.track(ctx, job)
}

// track writes progress; a tracker outage never aborts a send.
func (c *Coordinator) track(ctx context.Context, job progress.Job) {
	job.UpdatedAt = c.now()
	if err := c.tracker.Set(ctx, job); err != nil {
		c.log.Warn("progress update failed",
			zap.String("job_key", job.Key),
			zap.Error(err),
		)
	}
}
