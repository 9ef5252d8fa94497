package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"socialcrm/internal/models"
	"socialcrm/internal/repository"
)

// RecipientResolver computes the frozen recipient set for a campaign at
// start time: one PENDING message row per eligible contact, rendered content
// included, and total_recipients written exactly once before any send.
type RecipientResolver struct {
	contactRepo  repository.ContactRepository
	messageRepo  repository.MessageRepository
	campaignRepo repository.CampaignRepository
	templateSvc  *TemplateService
}

// NewRecipientResolver creates a new recipient resolver
func NewRecipientResolver(
	contactRepo repository.ContactRepository,
	messageRepo repository.MessageRepository,
	campaignRepo repository.CampaignRepository,
	templateSvc *TemplateService,
) *RecipientResolver {
	return &RecipientResolver{
		contactRepo:  contactRepo,
		messageRepo:  messageRepo,
		campaignRepo: campaignRepo,
		templateSvc:  templateSvc,
	}
}

// Resolve freezes the campaign's recipient set and returns its size. On any
// failure nothing is partially created: message rows and the frozen total
// are only persisted after the whole set resolved and rendered.
func (r *RecipientResolver) Resolve(ctx context.Context, campaign *models.Campaign) (int, error) {
	contacts, err := r.contactRepo.ResolveRecipients(ctx, campaign.PageID, campaign.TargetTags, campaign.Platform)
	if err != nil {
		return 0, &RecipientResolutionError{CampaignID: campaign.ID, Err: err}
	}

	messages := make([]*models.Message, 0, len(contacts))
	seen := make(map[int]bool, len(contacts))
	for _, contact := range contacts {
		if seen[contact.ID] {
			continue
		}
		seen[contact.ID] = true

		// Eligibility was filtered in the query; the double check keeps a
		// contact without a platform id out of the frozen set regardless.
		if _, ok := contact.RecipientID(campaign.Platform); !ok {
			continue
		}

		content, err := r.templateSvc.Render(campaign.Template, contact)
		if err != nil {
			return 0, &RecipientResolutionError{CampaignID: campaign.ID, Err: err}
		}

		messages = append(messages, &models.Message{
			CampaignID: campaign.ID,
			ContactID:  contact.ID,
			Status:     models.MessageStatusPending,
			Content:    content,
		})
	}

	if len(messages) > 0 {
		if err := r.messageRepo.CreateBatch(ctx, messages); err != nil {
			return 0, &RecipientResolutionError{CampaignID: campaign.ID, Err: err}
		}
	}

	if err := r.campaignRepo.SetTotalRecipients(ctx, campaign.ID, len(messages)); err != nil {
		return 0, &RecipientResolutionError{CampaignID: campaign.ID, Err: err}
	}

	campaign.TotalRecipients = len(messages)

	logrus.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"platform":    campaign.Platform,
		"recipients":  len(messages),
	}).Info("Recipient set frozen")

	return len(messages), nil
}
