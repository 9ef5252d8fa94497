package service

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"socialcrm/internal/metrics"
	"socialcrm/internal/models"
	"socialcrm/internal/queue"
	"socialcrm/internal/repository"
)

// DispatchQueue queues dispatch jobs for workers. Satisfied by
// *queue.Publisher.
type DispatchQueue interface {
	PublishDispatch(campaignID int, mode queue.DispatchMode) (string, error)
}

// CampaignService is the control surface for campaigns. It owns every
// operator-initiated status transition; the dispatcher and the watchdog own
// the rest. All transitions are validated against the shared table and
// executed as conditional updates, so a stale read can never produce an
// illegal write.
type CampaignService struct {
	campaignRepo repository.CampaignRepository
	contactRepo  repository.ContactRepository
	messageRepo  repository.MessageRepository
	templateSvc  *TemplateService
	publisher    DispatchQueue
	now          func() time.Time
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	campaignRepo repository.CampaignRepository,
	contactRepo repository.ContactRepository,
	messageRepo repository.MessageRepository,
	templateSvc *TemplateService,
	publisher DispatchQueue,
) *CampaignService {
	return &CampaignService{
		campaignRepo: campaignRepo,
		contactRepo:  contactRepo,
		messageRepo:  messageRepo,
		templateSvc:  templateSvc,
		publisher:    publisher,
		now:          time.Now,
	}
}

// CreateCampaign creates a new campaign in DRAFT (or SCHEDULED when a future
// scheduled_at is supplied).
func (s *CampaignService) CreateCampaign(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if err := s.templateSvc.ValidateTemplate(req.Template); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid template: %v", err)}
	}

	if req.ScheduledAt != nil && !req.ScheduledAt.After(s.now()) {
		return nil, &ValidationError{Message: "scheduled_at must be in the future"}
	}

	campaign := &models.Campaign{
		PageID:      req.PageID,
		Name:        req.Name,
		Platform:    req.Platform,
		MessageTag:  req.MessageTag,
		Template:    req.Template,
		TargetTags:  req.TargetTags,
		Status:      models.CampaignStatusDraft,
		ScheduledAt: req.ScheduledAt,
		CreatedAt:   s.now(),
		UpdatedAt:   s.now(),
	}

	if campaign.IsScheduled() {
		campaign.Status = models.CampaignStatusScheduled
	}

	if err := s.campaignRepo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"platform":    campaign.Platform,
		"status":      campaign.Status,
	}).Info("Campaign created")

	return campaign, nil
}

// GetCampaign retrieves a campaign by ID
func (s *CampaignService) GetCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, &NotFoundError{Resource: "campaign", ID: id}
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return campaign, nil
}

// GetCampaignWithStats retrieves a campaign together with statistics derived
// from its message rows.
func (s *CampaignService) GetCampaignWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error) {
	campaign, err := s.campaignRepo.GetWithStats(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, &NotFoundError{Resource: "campaign", ID: id}
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return campaign, nil
}

// ListCampaigns lists campaigns with filters
func (s *CampaignService) ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *PaginationInfo, error) {
	campaigns, total, err := s.campaignRepo.List(ctx, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	pagination := &PaginationInfo{
		Page:       filters.Page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}

	return campaigns, pagination, nil
}

// StartCampaign queues a dispatch run for a campaign. It serves both a fresh
// start (DRAFT/SCHEDULED) and a resume (PAUSED); starting a SCHEDULED
// campaign by hand clears its schedule. The authoritative move to SENDING is
// the worker's compare-and-set, so two racing starts still yield one loop.
func (s *CampaignService) StartCampaign(ctx context.Context, id int) (*StartCampaignResult, error) {
	campaign, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(campaign.Status, models.CampaignStatusSending) {
		return nil, &InvalidStateError{
			CampaignID: id,
			Current:    campaign.Status,
			Requested:  models.CampaignStatusSending,
		}
	}

	if campaign.Status == models.CampaignStatusScheduled {
		if err := s.campaignRepo.SetSchedule(ctx, id, nil); err != nil {
			return nil, fmt.Errorf("failed to clear schedule: %w", err)
		}
	}

	jobID, err := s.publisher.PublishDispatch(id, queue.DispatchModeStart)
	if err != nil {
		return nil, fmt.Errorf("failed to queue dispatch: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": id,
		"job_id":      jobID,
		"from_status": campaign.Status,
	}).Info("Campaign dispatch queued")

	return &StartCampaignResult{CampaignID: id, JobID: jobID, Status: campaign.Status}, nil
}

// SendNow fires a SCHEDULED campaign ahead of its schedule. It is the manual
// counterpart of the scheduler tick and applies only while the campaign still
// waits on its schedule; use StartCampaign for drafts and resumes.
func (s *CampaignService) SendNow(ctx context.Context, id int) (*StartCampaignResult, error) {
	campaign, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	if campaign.Status != models.CampaignStatusScheduled {
		return nil, &InvalidStateError{
			CampaignID: id,
			Current:    campaign.Status,
			Requested:  models.CampaignStatusSending,
			Reason:     "send now applies only to scheduled campaigns",
		}
	}

	return s.StartCampaign(ctx, id)
}

// MarkComplete closes out a SENDING campaign by hand. It refuses unless the
// counters already account for every recipient, so it can never abandon
// pending work; that escape hatch belongs to the reconciliation sweep.
func (s *CampaignService) MarkComplete(ctx context.Context, id int) (*models.Campaign, error) {
	campaign, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	if !campaign.FullyProcessed() {
		return nil, &InvalidStateError{
			CampaignID: id,
			Current:    campaign.Status,
			Requested:  models.CampaignStatusCompleted,
			Reason:     "campaign has unprocessed recipients",
		}
	}

	completedAt := s.now()
	err = s.campaignRepo.TransitionStatus(
		ctx, id,
		[]models.CampaignStatus{models.CampaignStatusSending},
		models.CampaignStatusCompleted,
		nil, &completedAt,
	)
	if err != nil {
		return nil, s.transitionError(ctx, id, models.CampaignStatusCompleted, err)
	}

	logrus.WithField("campaign_id", id).Info("Campaign marked complete")
	return s.GetCampaign(ctx, id)
}

// ScheduleCampaign moves a DRAFT campaign to SCHEDULED for a future time.
func (s *CampaignService) ScheduleCampaign(ctx context.Context, id int, scheduledAt time.Time) (*models.Campaign, error) {
	if !scheduledAt.After(s.now()) {
		return nil, &ValidationError{Message: "scheduled_at must be in the future"}
	}

	err := s.campaignRepo.TransitionStatus(
		ctx, id,
		[]models.CampaignStatus{models.CampaignStatusDraft, models.CampaignStatusScheduled},
		models.CampaignStatusScheduled,
		nil, nil,
	)
	if err != nil {
		return nil, s.transitionError(ctx, id, models.CampaignStatusScheduled, err)
	}

	if err := s.campaignRepo.SetSchedule(ctx, id, &scheduledAt); err != nil {
		return nil, fmt.Errorf("failed to set schedule: %w", err)
	}

	return s.GetCampaign(ctx, id)
}

// PauseCampaign requests that a SENDING campaign stop after its in-flight
// message. The dispatcher observes the status between sends, so at most one
// more message goes out after the pause lands.
func (s *CampaignService) PauseCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	err := s.campaignRepo.TransitionStatus(
		ctx, id,
		[]models.CampaignStatus{models.CampaignStatusSending},
		models.CampaignStatusPaused,
		nil, nil,
	)
	if err != nil {
		return nil, s.transitionError(ctx, id, models.CampaignStatusPaused, err)
	}

	logrus.WithField("campaign_id", id).Info("Campaign paused")
	return s.GetCampaign(ctx, id)
}

// CancelCampaign terminally stops a campaign. Already-sent messages are not
// recalled; unprocessed recipients stay PENDING as a record of who was never
// attempted.
func (s *CampaignService) CancelCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	completedAt := s.now()
	err := s.campaignRepo.TransitionStatus(
		ctx, id,
		models.StatusesAllowing(models.CampaignStatusCancelled),
		models.CampaignStatusCancelled,
		nil, &completedAt,
	)
	if err != nil {
		return nil, s.transitionError(ctx, id, models.CampaignStatusCancelled, err)
	}

	logrus.WithField("campaign_id", id).Info("Campaign cancelled")
	return s.GetCampaign(ctx, id)
}

// ResendFailed queues a retry pass over the campaign's FAILED messages. The
// campaign status is untouched; a campaign with no failures is a no-op
// success.
func (s *CampaignService) ResendFailed(ctx context.Context, id int) (*StartCampaignResult, error) {
	campaign, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	if campaign.Status == models.CampaignStatusSending {
		return nil, &InvalidStateError{
			CampaignID: id,
			Current:    campaign.Status,
			Requested:  campaign.Status,
			Reason:     "cannot retry failed messages while a dispatch is running",
		}
	}

	jobID, err := s.publisher.PublishDispatch(id, queue.DispatchModeResendFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to queue resend: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id":  id,
		"job_id":       jobID,
		"failed_count": campaign.FailedCount,
	}).Info("Failed-message resend queued")

	return &StartCampaignResult{CampaignID: id, JobID: jobID, Status: campaign.Status}, nil
}

// ResendAll resets a finished (or paused) campaign to a clean DRAFT and
// queues a fresh dispatch: message rows are purged, all counters and run
// timestamps zeroed, and the recipient set re-resolved at the new start.
//
// The move to DRAFT happens first; its from-set excludes SENDING, which
// guarantees no loop is writing to the rows being purged.
func (s *CampaignService) ResendAll(ctx context.Context, id int) (*StartCampaignResult, error) {
	err := s.campaignRepo.TransitionStatus(
		ctx, id,
		models.StatusesAllowing(models.CampaignStatusDraft),
		models.CampaignStatusDraft,
		nil, nil,
	)
	if err != nil {
		return nil, s.transitionError(ctx, id, models.CampaignStatusDraft, err)
	}

	if err := s.messageRepo.DeleteByCampaign(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to purge messages: %w", err)
	}
	if err := s.campaignRepo.ResetProgress(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to reset progress: %w", err)
	}

	jobID, err := s.publisher.PublishDispatch(id, queue.DispatchModeStart)
	if err != nil {
		return nil, fmt.Errorf("failed to queue dispatch: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": id,
		"job_id":      jobID,
	}).Info("Campaign reset and requeued")
	metrics.RecordResend("all")

	return &StartCampaignResult{CampaignID: id, JobID: jobID, Status: models.CampaignStatusDraft}, nil
}

// DeleteCampaign removes a campaign and its message rows. Only campaigns not
// currently in a run can be deleted.
func (s *CampaignService) DeleteCampaign(ctx context.Context, id int) error {
	campaign, err := s.GetCampaign(ctx, id)
	if err != nil {
		return err
	}

	if campaign.Status == models.CampaignStatusSending {
		return &InvalidStateError{
			CampaignID: id,
			Current:    campaign.Status,
			Requested:  campaign.Status,
			Reason:     "cannot delete a campaign while a dispatch is running",
		}
	}

	if err := s.messageRepo.DeleteByCampaign(ctx, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if err := s.campaignRepo.Delete(ctx, id); err != nil {
		if err == repository.ErrNotFound {
			return &NotFoundError{Resource: "campaign", ID: id}
		}
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	logrus.WithField("campaign_id", id).Info("Campaign deleted")
	return nil
}

// StartDueCampaigns queues a dispatch for every SCHEDULED campaign whose
// scheduled_at has passed. Called by the worker's scheduler tick; the
// per-campaign compare-and-set makes overlapping ticks harmless.
func (s *CampaignService) StartDueCampaigns(ctx context.Context, now time.Time) (int, error) {
	due, err := s.campaignRepo.ListDueScheduled(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due campaigns: %w", err)
	}

	queued := 0
	for _, campaign := range due {
		jobID, err := s.publisher.PublishDispatch(campaign.ID, queue.DispatchModeStart)
		if err != nil {
			logrus.WithError(err).WithField("campaign_id", campaign.ID).Error("Failed to queue scheduled dispatch")
			continue
		}
		queued++
		logrus.WithFields(logrus.Fields{
			"campaign_id":  campaign.ID,
			"job_id":       jobID,
			"scheduled_at": campaign.ScheduledAt,
		}).Info("Scheduled campaign dispatch queued")
	}

	return queued, nil
}

// PreviewMessage renders the campaign template against one contact.
func (s *CampaignService) PreviewMessage(ctx context.Context, req *PreviewMessageRequest) (*PreviewMessageResult, error) {
	campaign, err := s.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}

	contact, err := s.contactRepo.GetByID(ctx, req.ContactID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, &NotFoundError{Resource: "contact", ID: req.ContactID}
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	template := campaign.Template
	if req.OverrideTemplate != nil && *req.OverrideTemplate != "" {
		template = *req.OverrideTemplate
	}

	rendered, err := s.templateSvc.Render(template, contact)
	if err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return &PreviewMessageResult{
		RenderedMessage: rendered,
		UsedTemplate:    template,
		Contact: PreviewContact{
			ID:       contact.ID,
			FullName: contact.FullName(),
		},
	}, nil
}

// transitionError maps a failed conditional transition to a typed error,
// reloading the campaign so the caller sees the status that won the race.
func (s *CampaignService) transitionError(ctx context.Context, id int, requested models.CampaignStatus, err error) error {
	if err == repository.ErrNotFound {
		return &NotFoundError{Resource: "campaign", ID: id}
	}
	if err == repository.ErrStatusConflict {
		current := models.CampaignStatus("unknown")
		if campaign, loadErr := s.campaignRepo.GetByID(ctx, id); loadErr == nil {
			current = campaign.Status
		} else if loadErr == repository.ErrNotFound {
			return &NotFoundError{Resource: "campaign", ID: id}
		}
		return &InvalidStateError{CampaignID: id, Current: current, Requested: requested}
	}
	return fmt.Errorf("failed to update campaign status: %w", err)
}

// Request/Response types

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	PageID      string          `json:"page_id"`
	Name        string          `json:"name"`
	Platform    models.Platform `json:"platform"`
	MessageTag  string          `json:"message_tag,omitempty"`
	Template    string          `json:"template"`
	TargetTags  []string        `json:"target_tags"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
}

// Validate validates the create campaign request
func (r *CreateCampaignRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.PageID, validation.Required),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Platform, validation.Required, validation.In(models.PlatformMessenger, models.PlatformInstagram)),
		validation.Field(&r.MessageTag, validation.In(
			models.MessageTagConfirmedEventUpdate,
			models.MessageTagPostPurchaseUpdate,
			models.MessageTagAccountUpdate,
		)),
		validation.Field(&r.Template, validation.Required),
	)
}

// StartCampaignResult acknowledges a queued dispatch run.
type StartCampaignResult struct {
	CampaignID int                   `json:"campaign_id"`
	JobID      string                `json:"job_id"`
	Status     models.CampaignStatus `json:"status"`
}

// PreviewMessageRequest represents a request to preview a rendered message
type PreviewMessageRequest struct {
	CampaignID       int     `json:"campaign_id"`
	ContactID        int     `json:"contact_id"`
	OverrideTemplate *string `json:"override_template,omitempty"`
}

// PreviewContact identifies the contact a preview was rendered for.
type PreviewContact struct {
	ID       int    `json:"id"`
	FullName string `json:"full_name"`
}

// PreviewMessageResult represents the result of previewing a message
type PreviewMessageResult struct {
	RenderedMessage string         `json:"rendered_message"`
	UsedTemplate    string         `json:"used_template"`
	Contact         PreviewContact `json:"contact"`
}

// PaginationInfo represents pagination metadata
type PaginationInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}
