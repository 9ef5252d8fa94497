package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"socialcrm/internal/models"
	"socialcrm/internal/repository"
)

// EngagementService applies delivery receipts from the provider's webhooks
// to message rows and campaign engagement counters. Statuses only move
// forward (sent -> delivered -> read -> replied); late or duplicate receipts
// are dropped, so replaying a webhook batch is harmless.
type EngagementService struct {
	campaignRepo repository.CampaignRepository
	messageRepo  repository.MessageRepository
}

// NewEngagementService creates a new engagement service
func NewEngagementService(campaignRepo repository.CampaignRepository, messageRepo repository.MessageRepository) *EngagementService {
	return &EngagementService{
		campaignRepo: campaignRepo,
		messageRepo:  messageRepo,
	}
}

// RecordEvent advances a message identified by its provider message id and,
// when the row actually moved, bumps the matching campaign counter. Reports
// whether anything changed. Receipts for unknown message ids are ignored:
// the provider also delivers receipts for conversations we did not send.
func (s *EngagementService) RecordEvent(ctx context.Context, providerMessageID string, event models.MessageStatus) (bool, error) {
	switch event {
	case models.MessageStatusDelivered, models.MessageStatusRead, models.MessageStatusReplied:
	default:
		return false, &ValidationError{Message: fmt.Sprintf("unsupported engagement event: %s", event)}
	}

	msg, err := s.messageRepo.GetByProviderID(ctx, providerMessageID)
	if err != nil {
		if err == repository.ErrNotFound {
			logrus.WithFields(logrus.Fields{
				"provider_id": providerMessageID,
				"event":       event,
			}).Debug("Receipt for unknown message ignored")
			return false, nil
		}
		return false, fmt.Errorf("failed to look up message: %w", err)
	}

	changed, err := s.messageRepo.AdvanceStatus(ctx, msg.ID, event)
	if err != nil {
		return false, fmt.Errorf("failed to advance message status: %w", err)
	}
	if !changed {
		return false, nil
	}

	if err := s.campaignRepo.IncrementEngagement(ctx, msg.CampaignID, event); err != nil {
		return false, fmt.Errorf("failed to increment engagement counter: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": msg.CampaignID,
		"message_id":  msg.ID,
		"event":       event,
	}).Debug("Engagement recorded")

	return true, nil
}
