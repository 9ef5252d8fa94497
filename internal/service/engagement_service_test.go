package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialcrm/internal/models"
)

func seedSentMessage(t *testing.T, campaigns *fakeCampaignRepo, messages *fakeMessageRepo, mid string) (*models.Campaign, *models.Message) {
	t.Helper()

	campaign := campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Promo", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusCompleted,
		TotalRecipients: 1, SentCount: 1,
	})

	batch := []*models.Message{{CampaignID: campaign.ID, ContactID: 1}}
	require.NoError(t, messages.CreateBatch(context.Background(), batch))
	require.NoError(t, messages.MarkSent(context.Background(), batch[0].ID, mid, time.Now()))

	return campaign, batch[0]
}

func TestRecordEvent_ForwardProgression(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	svc := NewEngagementService(campaigns, messages)

	campaign, msg := seedSentMessage(t, campaigns, messages, "m_abc")

	changed, err := svc.RecordEvent(context.Background(), "m_abc", models.MessageStatusDelivered)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = svc.RecordEvent(context.Background(), "m_abc", models.MessageStatusRead)
	require.NoError(t, err)
	assert.True(t, changed)

	stored := campaigns.get(campaign.ID)
	assert.Equal(t, 1, stored.DeliveredCount)
	assert.Equal(t, 1, stored.ReadCount)
	assert.Equal(t, models.MessageStatusRead, messages.byID(msg.ID).Status)
}

func TestRecordEvent_BackwardAndDuplicateDropped(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	svc := NewEngagementService(campaigns, messages)

	campaign, _ := seedSentMessage(t, campaigns, messages, "m_abc")

	_, err := svc.RecordEvent(context.Background(), "m_abc", models.MessageStatusRead)
	require.NoError(t, err)

	// Late delivery receipt after the read: no regression, no double count.
	changed, err := svc.RecordEvent(context.Background(), "m_abc", models.MessageStatusDelivered)
	require.NoError(t, err)
	assert.False(t, changed)

	// Replaying the read is equally harmless.
	changed, err = svc.RecordEvent(context.Background(), "m_abc", models.MessageStatusRead)
	require.NoError(t, err)
	assert.False(t, changed)

	stored := campaigns.get(campaign.ID)
	assert.Equal(t, 1, stored.ReadCount)
	assert.Zero(t, stored.DeliveredCount)
}

func TestRecordEvent_UnknownMessageIgnored(t *testing.T) {
	svc := NewEngagementService(newFakeCampaignRepo(), newFakeMessageRepo())

	changed, err := svc.RecordEvent(context.Background(), "m_unknown", models.MessageStatusDelivered)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRecordEvent_RejectsNonEngagementStatus(t *testing.T) {
	svc := NewEngagementService(newFakeCampaignRepo(), newFakeMessageRepo())

	_, err := svc.RecordEvent(context.Background(), "m_abc", models.MessageStatusFailed)

	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)
}
