package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialcrm/internal/models"
	"socialcrm/internal/queue"
)

type serviceFixture struct {
	campaigns *fakeCampaignRepo
	messages  *fakeMessageRepo
	contacts  *fakeContactRepo
	publisher *fakePublisher
	svc       *CampaignService
}

func newServiceFixture() *serviceFixture {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	contacts := newFakeContactRepo()
	publisher := &fakePublisher{}

	svc := NewCampaignService(campaigns, contacts, messages, NewTemplateService(), publisher)

	return &serviceFixture{
		campaigns: campaigns,
		messages:  messages,
		contacts:  contacts,
		publisher: publisher,
		svc:       svc,
	}
}

func validCreateRequest() *CreateCampaignRequest {
	return &CreateCampaignRequest{
		PageID:     "page_1",
		Name:       "October promo",
		Platform:   models.PlatformMessenger,
		Template:   "Hi {first_name}, the promo is live.",
		TargetTags: []string{"newsletter"},
	}
}

func TestCreateCampaign_Defaults(t *testing.T) {
	f := newServiceFixture()

	campaign, err := f.svc.CreateCampaign(context.Background(), validCreateRequest())
	require.NoError(t, err)

	assert.Equal(t, models.CampaignStatusDraft, campaign.Status)
	assert.Zero(t, campaign.TotalRecipients)
	assert.NotZero(t, campaign.ID)
}

func TestCreateCampaign_FutureScheduleBecomesScheduled(t *testing.T) {
	f := newServiceFixture()

	req := validCreateRequest()
	at := time.Now().Add(2 * time.Hour)
	req.ScheduledAt = &at

	campaign, err := f.svc.CreateCampaign(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.CampaignStatusScheduled, campaign.Status)
	require.NotNil(t, campaign.ScheduledAt)
}

func TestCreateCampaign_Validation(t *testing.T) {
	f := newServiceFixture()

	cases := []struct {
		name   string
		mutate func(*CreateCampaignRequest)
	}{
		{"missing name", func(r *CreateCampaignRequest) { r.Name = "" }},
		{"missing page id", func(r *CreateCampaignRequest) { r.PageID = "" }},
		{"missing template", func(r *CreateCampaignRequest) { r.Template = "" }},
		{"bad platform", func(r *CreateCampaignRequest) { r.Platform = "telegram" }},
		{"bad message tag", func(r *CreateCampaignRequest) { r.MessageTag = "HUMAN_AGENT" }},
		{"unbalanced template braces", func(r *CreateCampaignRequest) { r.Template = "Hi {first_name" }},
		{"schedule in the past", func(r *CreateCampaignRequest) {
			at := time.Now().Add(-time.Hour)
			r.ScheduledAt = &at
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest()
			tc.mutate(req)

			_, err := f.svc.CreateCampaign(context.Background(), req)

			var valErr *ValidationError
			assert.ErrorAs(t, err, &valErr)
		})
	}
}

func TestStartCampaign_QueuesDispatchAndClearsSchedule(t *testing.T) {
	f := newServiceFixture()
	at := time.Now().Add(time.Hour)
	campaign := f.campaigns.add(&models.Campaign{
		PageID:      "page_1",
		Name:        "Scheduled promo",
		Platform:    models.PlatformMessenger,
		Template:    "Hi",
		Status:      models.CampaignStatusScheduled,
		ScheduledAt: &at,
	})

	result, err := f.svc.StartCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)

	assert.NotEmpty(t, result.JobID)
	require.Len(t, f.publisher.jobs, 1)
	assert.Equal(t, queue.DispatchModeStart, f.publisher.jobs[0].Mode)
	assert.Equal(t, campaign.ID, f.publisher.jobs[0].CampaignID)

	// Send-now overrides the schedule.
	assert.Nil(t, f.campaigns.get(campaign.ID).ScheduledAt)
}

func TestSendNow_OnlyFromScheduled(t *testing.T) {
	f := newServiceFixture()
	at := time.Now().Add(time.Hour)
	scheduled := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Scheduled", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusScheduled, ScheduledAt: &at,
	})
	draft := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Draft", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusDraft,
	})

	result, err := f.svc.SendNow(context.Background(), scheduled.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, result.JobID)
	assert.Nil(t, f.campaigns.get(scheduled.ID).ScheduledAt)

	_, err = f.svc.SendNow(context.Background(), draft.ID)
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.CampaignStatusDraft, stateErr.Current)
}

func TestMarkComplete_FullyProcessedOnly(t *testing.T) {
	f := newServiceFixture()
	done := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Done sending", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusSending,
		TotalRecipients: 3, SentCount: 2, FailedCount: 1,
	})
	inFlight := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "In flight", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusSending,
		TotalRecipients: 3, SentCount: 1,
	})

	campaign, err := f.svc.MarkComplete(context.Background(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, campaign.Status)
	assert.NotNil(t, campaign.CompletedAt)

	_, err = f.svc.MarkComplete(context.Background(), inFlight.ID)
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.CampaignStatusSending, f.campaigns.get(inFlight.ID).Status)
}

func TestStartCampaign_TerminalStatusRejected(t *testing.T) {
	f := newServiceFixture()
	campaign := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Done", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusCompleted,
	})

	_, err := f.svc.StartCampaign(context.Background(), campaign.ID)

	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.CampaignStatusCompleted, stateErr.Current)
	assert.Empty(t, f.publisher.jobs)
}

func TestPauseCampaign_OnlyFromSending(t *testing.T) {
	f := newServiceFixture()
	sending := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Live", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusSending,
	})
	draft := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Draft", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusDraft,
	})

	paused, err := f.svc.PauseCampaign(context.Background(), sending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusPaused, paused.Status)

	_, err = f.svc.PauseCampaign(context.Background(), draft.ID)
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.CampaignStatusDraft, stateErr.Current)
	assert.Equal(t, models.CampaignStatusPaused, stateErr.Requested)
}

func TestCancelCampaign_SetsCompletedAt(t *testing.T) {
	f := newServiceFixture()
	campaign := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Live", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusSending,
	})

	cancelled, err := f.svc.CancelCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)

	assert.Equal(t, models.CampaignStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	// Cancelling twice is an error: cancelled is terminal.
	_, err = f.svc.CancelCampaign(context.Background(), campaign.ID)
	var stateErr *InvalidStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestCancelCampaign_ScheduledRejected(t *testing.T) {
	f := newServiceFixture()
	at := time.Now().Add(time.Hour)
	campaign := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Waiting", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusScheduled, ScheduledAt: &at,
	})

	// A scheduled campaign has nothing in flight to stop; cancel only
	// applies once a dispatch has been claimed.
	_, err := f.svc.CancelCampaign(context.Background(), campaign.ID)

	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.CampaignStatusScheduled, stateErr.Current)
	assert.Equal(t, models.CampaignStatusCancelled, stateErr.Requested)

	after := f.campaigns.get(campaign.ID)
	assert.Equal(t, models.CampaignStatusScheduled, after.Status)
	assert.Nil(t, after.CompletedAt)
}

func TestResendFailed_RejectedWhileSending(t *testing.T) {
	f := newServiceFixture()
	campaign := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Live", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusSending, FailedCount: 2,
	})

	_, err := f.svc.ResendFailed(context.Background(), campaign.ID)

	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Empty(t, f.publisher.jobs)
}

func TestResendFailed_QueuesRetryJob(t *testing.T) {
	f := newServiceFixture()
	campaign := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Done", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusCompleted,
		TotalRecipients: 3, SentCount: 2, FailedCount: 1,
	})

	result, err := f.svc.ResendFailed(context.Background(), campaign.ID)
	require.NoError(t, err)

	assert.Equal(t, models.CampaignStatusCompleted, result.Status)
	require.Len(t, f.publisher.jobs, 1)
	assert.Equal(t, queue.DispatchModeResendFailed, f.publisher.jobs[0].Mode)
}

func TestResendAll_ResetsAndRequeues(t *testing.T) {
	f := newServiceFixture()
	stale := time.Now().Add(-time.Hour)
	campaign := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Done", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusFailed,
		TotalRecipients: 3, SentCount: 1, FailedCount: 1,
		ScheduledAt: &stale,
	})
	require.NoError(t, f.messages.CreateBatch(context.Background(), []*models.Message{
		{CampaignID: campaign.ID, ContactID: 1, Status: models.MessageStatusSent},
		{CampaignID: campaign.ID, ContactID: 2, Status: models.MessageStatusFailed},
		{CampaignID: campaign.ID, ContactID: 3, Status: models.MessageStatusPending},
	}))

	result, err := f.svc.ResendAll(context.Background(), campaign.ID)
	require.NoError(t, err)

	assert.Equal(t, models.CampaignStatusDraft, result.Status)

	stored := f.campaigns.get(campaign.ID)
	assert.Equal(t, models.CampaignStatusDraft, stored.Status)
	assert.Zero(t, stored.TotalRecipients)
	assert.Zero(t, stored.SentCount)
	assert.Zero(t, stored.FailedCount)
	assert.Nil(t, stored.ScheduledAt, "restart must not inherit an old schedule")
	assert.Nil(t, stored.StartedAt)
	assert.Nil(t, stored.CompletedAt)

	count, err := f.messages.CountByCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Zero(t, count, "old delivery records must be purged")

	require.Len(t, f.publisher.jobs, 1)
	assert.Equal(t, queue.DispatchModeStart, f.publisher.jobs[0].Mode)
}

func TestResendAll_RejectedWhileSending(t *testing.T) {
	f := newServiceFixture()
	campaign := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Live", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusSending,
	})

	_, err := f.svc.ResendAll(context.Background(), campaign.ID)

	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.CampaignStatusSending, f.campaigns.get(campaign.ID).Status)
}

func TestDeleteCampaign_RejectedWhileSending(t *testing.T) {
	f := newServiceFixture()
	campaign := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Live", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusSending,
	})

	err := f.svc.DeleteCampaign(context.Background(), campaign.ID)

	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.NotNil(t, f.campaigns.get(campaign.ID))
}

func TestStartDueCampaigns_QueuesOnlyDue(t *testing.T) {
	f := newServiceFixture()
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Due", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusScheduled, ScheduledAt: &past,
	})
	f.campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Later", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusScheduled, ScheduledAt: &future,
	})

	queued, err := f.svc.StartDueCampaigns(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 1, queued)
	require.Len(t, f.publisher.jobs, 1)
	assert.Equal(t, due.ID, f.publisher.jobs[0].CampaignID)
}
