package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"socialcrm/internal/metrics"
	"socialcrm/internal/models"
	"socialcrm/internal/repository"
)

// ReconcileResult reports one watchdog pass.
type ReconcileResult struct {
	Scanned int `json:"scanned"`
	Fixed   int `json:"fixed"`
}

// Watchdog repairs campaigns stuck in SENDING: fully-processed campaigns
// whose final transition was lost, and campaigns abandoned by a dead worker.
// Every repair is a compare-and-set against SENDING, so a loop that is in
// fact still alive (or an operator action landing first) simply wins the
// race and the watchdog moves on.
type Watchdog struct {
	campaignRepo   repository.CampaignRepository
	messageRepo    repository.MessageRepository
	staleThreshold time.Duration
	now            func() time.Time
}

// NewWatchdog creates a new watchdog
func NewWatchdog(
	campaignRepo repository.CampaignRepository,
	messageRepo repository.MessageRepository,
	staleThreshold time.Duration,
) *Watchdog {
	return &Watchdog{
		campaignRepo:   campaignRepo,
		messageRepo:    messageRepo,
		staleThreshold: staleThreshold,
		now:            time.Now,
	}
}

// Reconcile scans every SENDING campaign and repairs the stuck ones. It is
// idempotent: a second pass over an already-consistent state fixes nothing.
func (w *Watchdog) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	campaigns, err := w.campaignRepo.ListByStatus(ctx, models.CampaignStatusSending)
	if err != nil {
		return nil, fmt.Errorf("failed to list sending campaigns: %w", err)
	}

	result := &ReconcileResult{Scanned: len(campaigns)}

	for _, campaign := range campaigns {
		fixed, err := w.reconcileOne(ctx, campaign)
		if err != nil {
			if _, ok := err.(*ReconciliationConflict); ok {
				// Someone else moved the campaign mid-repair. The next pass
				// sees the new state; nothing to do now.
				metrics.RecordReconcileConflict()
				logrus.WithField("campaign_id", campaign.ID).Info("Reconciliation lost a repair race")
				continue
			}
			return result, err
		}
		if fixed {
			result.Fixed++
		}
	}

	metrics.RecordWatchdogScan(result.Scanned, result.Fixed)
	logrus.WithFields(logrus.Fields{
		"scanned": result.Scanned,
		"fixed":   result.Fixed,
	}).Info("Watchdog pass finished")

	return result, nil
}

func (w *Watchdog) reconcileOne(ctx context.Context, campaign *models.Campaign) (bool, error) {
	// Every resolved recipient has an outcome: the campaign is done, only
	// its final transition went missing. total_recipients == 0 is excluded
	// here because a freshly claimed campaign looks identical until its
	// recipient set is frozen; those fall through to the staleness checks.
	if campaign.TotalRecipients > 0 && campaign.FullyProcessed() {
		if err := w.complete(ctx, campaign.ID); err != nil {
			return false, err
		}
		logrus.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"sent":        campaign.SentCount,
			"failed":      campaign.FailedCount,
		}).Warn("Repaired fully-processed campaign stuck in SENDING")
		return true, nil
	}

	// Partially processed and recently active: a loop is (presumably) still
	// working on it. Leave it alone.
	if w.now().Sub(campaign.UpdatedAt) < w.staleThreshold {
		return false, nil
	}

	messageCount, err := w.messageRepo.CountByCampaign(ctx, campaign.ID)
	if err != nil {
		return false, fmt.Errorf("failed to count messages for campaign %d: %w", campaign.ID, err)
	}

	// The worker died between claiming the campaign and freezing the
	// recipient set (or the set resolved to zero and the completion was
	// lost): nothing to preserve, so the start can simply be redone.
	if campaign.Processed() == 0 && messageCount == 0 {
		if err := w.transition(ctx, campaign.ID, models.CampaignStatusDraft, false); err != nil {
			return false, err
		}
		logrus.WithField("campaign_id", campaign.ID).Warn("Reset stale campaign with no dispatch progress to draft")
		return true, nil
	}

	// Abandoned mid-run. Close it out rather than silently restarting:
	// unattempted recipients stay PENDING on the record, and the operator
	// decides between resending all and leaving it.
	if err := w.complete(ctx, campaign.ID); err != nil {
		return false, err
	}

	remaining := campaign.TotalRecipients - campaign.Processed()
	metrics.RecordWatchdogAbandoned(remaining)
	logrus.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"sent":        campaign.SentCount,
		"failed":      campaign.FailedCount,
		"unattempted": remaining,
	}).Error("Closed abandoned campaign; unattempted recipients remain pending")

	return true, nil
}

func (w *Watchdog) complete(ctx context.Context, id int) error {
	return w.transition(ctx, id, models.CampaignStatusCompleted, true)
}

func (w *Watchdog) transition(ctx context.Context, id int, to models.CampaignStatus, setCompletedAt bool) error {
	var completedAt *time.Time
	if setCompletedAt {
		now := w.now()
		completedAt = &now
	}

	err := w.campaignRepo.TransitionStatus(
		ctx, id,
		[]models.CampaignStatus{models.CampaignStatusSending},
		to,
		nil, completedAt,
	)
	if err == repository.ErrStatusConflict {
		return &ReconciliationConflict{CampaignID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to repair campaign %d: %w", id, err)
	}
	return nil
}
