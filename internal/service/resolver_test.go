package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialcrm/internal/models"
)

func TestResolve_FreezesRecipientSet(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	contacts := newFakeContactRepo()
	resolver := NewRecipientResolver(contacts, messages, campaigns, NewTemplateService())

	psid1, psid2 := "psid_1", "psid_2"
	contacts.add(&models.Contact{PageID: "page_1", FirstName: strPtr("Amina"), MessengerPSID: &psid1, Tags: []string{"vip"}})
	contacts.add(&models.Contact{PageID: "page_1", FirstName: strPtr("Brian"), MessengerPSID: &psid2, Tags: []string{"newsletter"}})
	// Tagged but unreachable on messenger: excluded from the frozen set.
	contacts.add(&models.Contact{PageID: "page_1", FirstName: strPtr("Chebet"), Tags: []string{"vip"}})
	// Right tag, wrong page.
	psid4 := "psid_4"
	contacts.add(&models.Contact{PageID: "page_2", FirstName: strPtr("Daniel"), MessengerPSID: &psid4, Tags: []string{"vip"}})

	campaign := campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "VIP promo", Platform: models.PlatformMessenger,
		Template: "Hi {first_name}!", TargetTags: []string{"vip"},
		Status: models.CampaignStatusSending,
	})

	total, err := resolver.Resolve(context.Background(), campaign)
	require.NoError(t, err)

	assert.Equal(t, 1, total)
	assert.Equal(t, 1, campaign.TotalRecipients)
	assert.Equal(t, 1, campaigns.get(campaign.ID).TotalRecipients)

	pending, err := messages.ListByStatus(context.Background(), campaign.ID, models.MessageStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Hi Amina!", pending[0].Content)
}

func TestResolve_EmptyTargetTagsMeansWholePage(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	contacts := newFakeContactRepo()
	resolver := NewRecipientResolver(contacts, messages, campaigns, NewTemplateService())

	psid1, psid2 := "psid_1", "psid_2"
	contacts.add(&models.Contact{PageID: "page_1", MessengerPSID: &psid1, Tags: []string{"vip"}})
	contacts.add(&models.Contact{PageID: "page_1", MessengerPSID: &psid2})

	campaign := campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Everyone", Platform: models.PlatformMessenger,
		Template: "Hello!", Status: models.CampaignStatusSending,
	})

	total, err := resolver.Resolve(context.Background(), campaign)
	require.NoError(t, err)

	assert.Equal(t, 2, total)
}

func TestResolve_QueryFailureCreatesNothing(t *testing.T) {
	campaigns := newFakeCampaignRepo()
	messages := newFakeMessageRepo()
	contacts := newFakeContactRepo()
	resolver := NewRecipientResolver(contacts, messages, campaigns, NewTemplateService())

	contacts.fail("ResolveRecipients", errors.New("query timeout"))

	campaign := campaigns.add(&models.Campaign{
		PageID: "page_1", Name: "Promo", Platform: models.PlatformMessenger,
		Template: "Hi", Status: models.CampaignStatusSending,
	})

	_, err := resolver.Resolve(context.Background(), campaign)

	var resErr *RecipientResolutionError
	require.ErrorAs(t, err, &resErr)

	count, err := messages.CountByCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, campaigns.get(campaign.ID).TotalRecipients)
}
