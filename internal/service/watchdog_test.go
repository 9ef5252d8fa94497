package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialcrm/internal/models"
	"socialcrm/internal/repository"
)

func newTestWatchdog(campaigns *fakeCampaignRepo, messages *fakeMessageRepo) *Watchdog {
	return NewWatchdog(campaigns, messages, 30*time.Minute)
}

func sendingCampaign(campaigns *fakeCampaignRepo, total, sent, failed int, updatedAt time.Time) *models.Campaign {
	return campaigns.add(&models.Campaign{
		PageID:          "page_1",
		Name:            "Stuck campaign",
		Platform:        models.PlatformMessenger,
		Template:        "Hi {first_name}",
		Status:          models.CampaignStatusSending,
		TotalRecipients: total,
		SentCount:       sent,
		FailedCount:     failed,
		UpdatedAt:       updatedAt,
	})
}

func TestReconcile_FullyProcessedSendingBecomesCompleted(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	w := newTestWatchdog(campaigns, messages)

	// Freshly active: staleness is irrelevant when every recipient already
	// has an outcome.
	stuck := sendingCampaign(campaigns, 3, 2, 1, time.Now())
	healthy := sendingCampaign(campaigns, 10, 4, 0, time.Now())

	result, err := w.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Fixed)

	repaired := campaigns.get(stuck.ID)
	assert.Equal(t, models.CampaignStatusCompleted, repaired.Status)
	assert.NotNil(t, repaired.CompletedAt)

	assert.Equal(t, models.CampaignStatusSending, campaigns.get(healthy.ID).Status)
}

func TestReconcile_FreshlyClaimedCampaignLeftAlone(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	w := newTestWatchdog(campaigns, messages)

	// Mid-resolution: claimed seconds ago, recipient set not yet frozen.
	// Looks "fully processed" (0 of 0) but must not be touched.
	fresh := sendingCampaign(campaigns, 0, 0, 0, time.Now())

	result, err := w.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Zero(t, result.Fixed)
	assert.Equal(t, models.CampaignStatusSending, campaigns.get(fresh.ID).Status)
}

func TestReconcile_StaleWithNoProgressResetsToDraft(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	w := newTestWatchdog(campaigns, messages)

	// Worker died after claiming the campaign but before freezing the
	// recipient set: no rows, no counters.
	stale := time.Now().Add(-time.Hour)
	stuck := sendingCampaign(campaigns, 0, 0, 0, stale)

	result, err := w.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Fixed)
	repaired := campaigns.get(stuck.ID)
	assert.Equal(t, models.CampaignStatusDraft, repaired.Status)
	assert.Nil(t, repaired.CompletedAt)
}

func TestReconcile_StaleWithPartialProgressIsClosedOut(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	w := newTestWatchdog(campaigns, messages)

	stale := time.Now().Add(-time.Hour)
	stuck := sendingCampaign(campaigns, 5, 2, 1, stale)
	require.NoError(t, messages.CreateBatch(context.Background(), []*models.Message{
		{CampaignID: stuck.ID, ContactID: 1, Status: models.MessageStatusSent},
		{CampaignID: stuck.ID, ContactID: 2, Status: models.MessageStatusSent},
		{CampaignID: stuck.ID, ContactID: 3, Status: models.MessageStatusFailed},
		{CampaignID: stuck.ID, ContactID: 4, Status: models.MessageStatusPending},
		{CampaignID: stuck.ID, ContactID: 5, Status: models.MessageStatusPending},
	}))

	result, err := w.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Fixed)
	repaired := campaigns.get(stuck.ID)
	assert.Equal(t, models.CampaignStatusCompleted, repaired.Status)
	assert.NotNil(t, repaired.CompletedAt)

	// Counters are never fabricated for recipients nobody attempted.
	assert.Equal(t, 2, repaired.SentCount)
	assert.Equal(t, 1, repaired.FailedCount)

	pending, err := messages.ListByStatus(context.Background(), stuck.ID, models.MessageStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestReconcile_RecentPartialProgressLeftAlone(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	w := newTestWatchdog(campaigns, messages)

	active := sendingCampaign(campaigns, 5, 2, 0, time.Now())

	result, err := w.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Scanned)
	assert.Zero(t, result.Fixed)
	assert.Equal(t, models.CampaignStatusSending, campaigns.get(active.ID).Status)
}

func TestReconcile_SecondPassFixesNothing(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	w := newTestWatchdog(campaigns, messages)

	sendingCampaign(campaigns, 3, 3, 0, time.Now())
	sendingCampaign(campaigns, 4, 1, 3, time.Now())

	first, err := w.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Fixed)

	second, err := w.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Zero(t, second.Scanned)
	assert.Zero(t, second.Fixed)
}

func TestReconcile_RepairRaceIsNotFatal(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	w := newTestWatchdog(campaigns, messages)

	sendingCampaign(campaigns, 3, 3, 0, time.Now())

	// An operator (or the loop itself) wins every repair race.
	campaigns.fail("TransitionStatus", repository.ErrStatusConflict)

	result, err := w.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Scanned)
	assert.Zero(t, result.Fixed)
}
