package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"socialcrm/internal/channel"
	"socialcrm/internal/lock"
	"socialcrm/internal/metrics"
	"socialcrm/internal/models"
	"socialcrm/internal/repository"
)

// DispatchResult summarizes one dispatch pass over a campaign.
type DispatchResult struct {
	Sent           int                   `json:"sent"`
	Failed         int                   `json:"failed"`
	TotalAttempted int                   `json:"total_attempted"`
	FinalStatus    models.CampaignStatus `json:"final_status"`
}

// Dispatcher runs the sequential, rate-limited send loop for a campaign. It
// is the only writer of per-message outcomes and of sent/failed counters.
//
// Sends within one campaign are strictly sequential with a fixed delay, a
// provider-compliance requirement rather than a performance oversight.
// Cross-campaign concurrency comes from running multiple workers.
type Dispatcher struct {
	campaignRepo repository.CampaignRepository
	messageRepo  repository.MessageRepository
	contactRepo  repository.ContactRepository
	resolver     *RecipientResolver
	sender       channel.Sender
	locker       lock.CampaignLocker
	messageDelay time.Duration
	lockTTL      time.Duration
	now          func() time.Time
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	campaignRepo repository.CampaignRepository,
	messageRepo repository.MessageRepository,
	contactRepo repository.ContactRepository,
	resolver *RecipientResolver,
	sender channel.Sender,
	locker lock.CampaignLocker,
	messageDelay time.Duration,
	lockTTL time.Duration,
) *Dispatcher {
	return &Dispatcher{
		campaignRepo: campaignRepo,
		messageRepo:  messageRepo,
		contactRepo:  contactRepo,
		resolver:     resolver,
		sender:       sender,
		locker:       locker,
		messageDelay: messageDelay,
		lockTTL:      lockTTL,
		now:          time.Now,
	}
}

func (d *Dispatcher) newLimiter() ratelimit.Limiter {
	if d.messageDelay <= 0 {
		return ratelimit.NewUnlimited()
	}
	return ratelimit.New(1, ratelimit.Per(d.messageDelay))
}

// Dispatch starts or resumes the send loop for a campaign.
//
// The transition to SENDING is a compare-and-set on the observed status, so
// two concurrent calls against the same campaign see exactly one winner; the
// loser gets an InvalidStateError. The redis lock additionally rejects a
// second loop early across worker processes.
//
// Any error escaping the per-message handling forces the campaign to FAILED
// with completed_at set. A campaign must never be left dangling in SENDING.
func (d *Dispatcher) Dispatch(ctx context.Context, campaignID int) (*DispatchResult, error) {
	campaign, err := d.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, &NotFoundError{Resource: "campaign", ID: campaignID}
		}
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}

	switch campaign.Status {
	case models.CampaignStatusDraft, models.CampaignStatusScheduled, models.CampaignStatusPaused:
	case models.CampaignStatusSending:
		return nil, &InvalidStateError{
			CampaignID: campaignID,
			Current:    campaign.Status,
			Requested:  models.CampaignStatusSending,
			Reason:     "already sending",
		}
	default:
		return nil, &InvalidStateError{
			CampaignID: campaignID,
			Current:    campaign.Status,
			Requested:  models.CampaignStatusSending,
		}
	}

	acquired, err := d.locker.Acquire(ctx, campaignID, d.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire dispatch lock: %w", err)
	}
	if !acquired {
		return nil, &InvalidStateError{
			CampaignID: campaignID,
			Current:    campaign.Status,
			Requested:  models.CampaignStatusSending,
			Reason:     "another dispatch holds the campaign lock",
		}
	}
	defer func() {
		if err := d.locker.Release(context.Background(), campaignID); err != nil {
			logrus.WithError(err).WithField("campaign_id", campaignID).Warn("Failed to release dispatch lock")
		}
	}()

	observed := campaign.Status
	startedAt := d.now()
	err = d.campaignRepo.TransitionStatus(
		ctx, campaignID,
		[]models.CampaignStatus{observed},
		models.CampaignStatusSending,
		&startedAt, nil,
	)
	if err == repository.ErrStatusConflict {
		current, loadErr := d.campaignRepo.GetByID(ctx, campaignID)
		status := models.CampaignStatus("unknown")
		if loadErr == nil {
			status = current.Status
		}
		return nil, &InvalidStateError{
			CampaignID: campaignID,
			Current:    status,
			Requested:  models.CampaignStatusSending,
			Reason:     "lost start race",
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark campaign sending: %w", err)
	}
	campaign.Status = models.CampaignStatusSending

	// A fresh start freezes the recipient set; a resume reuses the rows
	// created by the original start.
	if observed == models.CampaignStatusDraft || observed == models.CampaignStatusScheduled {
		total, err := d.resolver.Resolve(ctx, campaign)
		if err != nil {
			// Targeting failed with nothing created: put the campaign back
			// the way the caller found it instead of leaving it SENDING.
			if revertErr := d.campaignRepo.TransitionStatus(
				ctx, campaignID,
				[]models.CampaignStatus{models.CampaignStatusSending},
				models.CampaignStatusDraft,
				nil, nil,
			); revertErr != nil {
				logrus.WithError(revertErr).WithField("campaign_id", campaignID).Error("Failed to revert campaign to draft after resolution failure")
			}
			return nil, err
		}

		if total == 0 {
			// No recipients to process: complete immediately, never enter
			// the loop. Omitting this case is how campaigns get stuck.
			completedAt := d.now()
			if err := d.campaignRepo.TransitionStatus(
				ctx, campaignID,
				[]models.CampaignStatus{models.CampaignStatusSending},
				models.CampaignStatusCompleted,
				nil, &completedAt,
			); err != nil {
				return nil, fmt.Errorf("failed to complete empty campaign: %w", err)
			}

			logrus.WithField("campaign_id", campaignID).Info("Campaign completed with no eligible recipients")
			metrics.RecordDispatch("completed")

			return &DispatchResult{FinalStatus: models.CampaignStatusCompleted}, nil
		}
	}

	result := &DispatchResult{}
	loopErr := d.runLoop(ctx, campaign, result)
	if loopErr != nil {
		completedAt := d.now()
		if failErr := d.campaignRepo.TransitionStatus(
			ctx, campaignID,
			[]models.CampaignStatus{models.CampaignStatusSending},
			models.CampaignStatusFailed,
			nil, &completedAt,
		); failErr != nil && failErr != repository.ErrStatusConflict {
			logrus.WithError(failErr).WithField("campaign_id", campaignID).Error("Failed to mark campaign failed after dispatch error")
		}

		logrus.WithError(loopErr).WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"sent":        result.Sent,
			"failed":      result.Failed,
		}).Error("Dispatch loop aborted")
		metrics.RecordDispatch("failed")

		result.FinalStatus = models.CampaignStatusFailed
		return result, &DispatchFatalError{CampaignID: campaignID, Err: loopErr}
	}

	final, err := d.finish(ctx, campaignID)
	if err != nil {
		return result, err
	}
	result.FinalStatus = final

	logrus.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"sent":        result.Sent,
		"failed":      result.Failed,
		"attempted":   result.TotalAttempted,
		"status":      final,
	}).Info("Dispatch pass finished")
	metrics.RecordDispatch(string(final))

	return result, nil
}

// runLoop processes the campaign's PENDING messages in creation order. Per-
// message send failures are recorded and never abort the loop; any storage
// error is returned to the boundary. Panics are converted to errors so the
// boundary handling above always runs.
func (d *Dispatcher) runLoop(ctx context.Context, campaign *models.Campaign, result *DispatchResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in dispatch loop: %v", r)
		}
	}()

	pending, err := d.messageRepo.ListByStatus(ctx, campaign.ID, models.MessageStatusPending)
	if err != nil {
		return fmt.Errorf("failed to list pending messages: %w", err)
	}

	limiter := d.newLimiter()

	for _, msg := range pending {
		// The limiter enforces the fixed inter-message delay; the first
		// take passes immediately so the delay is between sends only.
		limiter.Take()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := d.locker.Refresh(ctx, campaign.ID, d.lockTTL); err != nil {
			logrus.WithError(err).WithField("campaign_id", campaign.ID).Warn("Failed to refresh dispatch lock")
		}

		// Pause/cancel are advisory flags observed here, after the delay
		// and before the send. An in-flight send is never interrupted, so
		// one message of overshoot after a stop request is possible.
		current, err := d.campaignRepo.GetByID(ctx, campaign.ID)
		if err != nil {
			return fmt.Errorf("failed to reload campaign: %w", err)
		}
		if current.Status != models.CampaignStatusSending {
			logrus.WithFields(logrus.Fields{
				"campaign_id": campaign.ID,
				"status":      current.Status,
			}).Info("Dispatch loop stopped by status change")
			// The boundary records the run outcome once finish reloads it.
			result.FinalStatus = current.Status
			return nil
		}

		if err := d.sendOne(ctx, campaign, msg, result); err != nil {
			return err
		}
	}

	return nil
}

// sendOne performs exactly one dispatch attempt for one message and records
// its outcome atomically with the matching campaign counter.
func (d *Dispatcher) sendOne(ctx context.Context, campaign *models.Campaign, msg *models.Message, result *DispatchResult) error {
	result.TotalAttempted++

	contact, err := d.contactRepo.GetByID(ctx, msg.ContactID)
	if err != nil && err != repository.ErrNotFound {
		return fmt.Errorf("failed to load contact %d: %w", msg.ContactID, err)
	}

	var recipientID string
	if contact != nil {
		recipientID, _ = contact.RecipientID(campaign.Platform)
	}

	var sendErr error
	var providerID string
	if recipientID == "" {
		sendErr = fmt.Errorf("contact %d is no longer reachable on %s", msg.ContactID, campaign.Platform)
	} else {
		providerID, sendErr = d.sender.Send(ctx, recipientID, msg.Content, campaign.MessageTag)
	}

	if sendErr != nil {
		// Per-message failure: record it and keep going. Retrying is an
		// explicit control operation, never automatic here.
		channelErr := &ChannelSendError{MessageID: msg.ID, Err: sendErr}
		if err := d.messageRepo.MarkFailed(ctx, msg.ID, channelErr.Error(), d.now()); err != nil {
			return fmt.Errorf("failed to record message failure: %w", err)
		}
		if err := d.campaignRepo.IncrementFailed(ctx, campaign.ID); err != nil {
			return fmt.Errorf("failed to increment failed count: %w", err)
		}

		result.Failed++
		metrics.RecordMessageFailed(string(campaign.Platform))
		logrus.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"message_id":  msg.ID,
			"error":       sendErr.Error(),
		}).Warn("Message send failed")
		return nil
	}

	if err := d.messageRepo.MarkSent(ctx, msg.ID, providerID, d.now()); err != nil {
		return fmt.Errorf("failed to record message success: %w", err)
	}
	if err := d.campaignRepo.IncrementSent(ctx, campaign.ID); err != nil {
		return fmt.Errorf("failed to increment sent count: %w", err)
	}

	result.Sent++
	metrics.RecordMessageSent(string(campaign.Platform))
	logrus.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"message_id":  msg.ID,
		"provider_id": providerID,
	}).Debug("Message sent")
	return nil
}

// finish closes out a loop that ran to the end of its pending set.
func (d *Dispatcher) finish(ctx context.Context, campaignID int) (models.CampaignStatus, error) {
	campaign, err := d.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("failed to reload campaign: %w", err)
	}

	if campaign.Status != models.CampaignStatusSending {
		// Interrupted by pause/cancel; leave the status alone.
		return campaign.Status, nil
	}

	if campaign.FullyProcessed() {
		completedAt := d.now()
		err := d.campaignRepo.TransitionStatus(
			ctx, campaignID,
			[]models.CampaignStatus{models.CampaignStatusSending},
			models.CampaignStatusCompleted,
			nil, &completedAt,
		)
		if err != nil && err != repository.ErrStatusConflict {
			return "", fmt.Errorf("failed to complete campaign: %w", err)
		}
		return models.CampaignStatusCompleted, nil
	}

	return campaign.Status, nil
}

// ResendFailed re-attempts every FAILED message of a campaign exactly once.
// PENDING messages are untouched and the campaign status is unaffected; a
// successful retry swaps the paired counters (failed_count never goes
// negative).
func (d *Dispatcher) ResendFailed(ctx context.Context, campaignID int) (*DispatchResult, error) {
	campaign, err := d.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, &NotFoundError{Resource: "campaign", ID: campaignID}
		}
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}

	acquired, err := d.locker.Acquire(ctx, campaignID, d.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire dispatch lock: %w", err)
	}
	if !acquired {
		return nil, &InvalidStateError{
			CampaignID: campaignID,
			Current:    campaign.Status,
			Requested:  campaign.Status,
			Reason:     "another dispatch holds the campaign lock",
		}
	}
	defer func() {
		if err := d.locker.Release(context.Background(), campaignID); err != nil {
			logrus.WithError(err).WithField("campaign_id", campaignID).Warn("Failed to release dispatch lock")
		}
	}()

	failed, err := d.messageRepo.ListByStatus(ctx, campaignID, models.MessageStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed messages: %w", err)
	}

	result := &DispatchResult{FinalStatus: campaign.Status}
	limiter := d.newLimiter()

	for _, msg := range failed {
		limiter.Take()

		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if err := d.locker.Refresh(ctx, campaignID, d.lockTTL); err != nil {
			logrus.WithError(err).WithField("campaign_id", campaignID).Warn("Failed to refresh dispatch lock")
		}

		result.TotalAttempted++

		contact, err := d.contactRepo.GetByID(ctx, msg.ContactID)
		if err != nil && err != repository.ErrNotFound {
			return result, &DispatchFatalError{CampaignID: campaignID, Err: err}
		}

		var recipientID string
		if contact != nil {
			recipientID, _ = contact.RecipientID(campaign.Platform)
		}

		var sendErr error
		var providerID string
		if recipientID == "" {
			sendErr = fmt.Errorf("contact %d is no longer reachable on %s", msg.ContactID, campaign.Platform)
		} else {
			providerID, sendErr = d.sender.Send(ctx, recipientID, msg.Content, campaign.MessageTag)
		}

		if sendErr != nil {
			// Still failed; refresh the recorded error but leave counters.
			channelErr := &ChannelSendError{MessageID: msg.ID, Err: sendErr}
			if err := d.messageRepo.MarkFailed(ctx, msg.ID, channelErr.Error(), d.now()); err != nil {
				return result, &DispatchFatalError{CampaignID: campaignID, Err: err}
			}
			result.Failed++
			metrics.RecordMessageFailed(string(campaign.Platform))
			continue
		}

		if err := d.messageRepo.MarkSent(ctx, msg.ID, providerID, d.now()); err != nil {
			return result, &DispatchFatalError{CampaignID: campaignID, Err: err}
		}
		if err := d.campaignRepo.MoveFailedToSent(ctx, campaignID); err != nil {
			return result, &DispatchFatalError{CampaignID: campaignID, Err: err}
		}

		result.Sent++
		metrics.RecordMessageSent(string(campaign.Platform))
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"retried":     result.TotalAttempted,
		"recovered":   result.Sent,
	}).Info("Failed-message resend finished")
	metrics.RecordResend("failed")

	return result, nil
}
