package models

import (
	"fmt"
	"time"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// Platform represents valid messaging platforms
type Platform string

const (
	PlatformMessenger Platform = "messenger"
	PlatformInstagram Platform = "instagram"
)

// Message tags accepted by the provider for out-of-window sends
const (
	MessageTagConfirmedEventUpdate = "CONFIRMED_EVENT_UPDATE"
	MessageTagPostPurchaseUpdate   = "POST_PURCHASE_UPDATE"
	MessageTagAccountUpdate        = "ACCOUNT_UPDATE"
)

// transitions is the single source of truth for legal campaign status
// changes. Every status write goes through a conditional update whose
// allowed "from" set comes from this table.
var transitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusScheduled, CampaignStatusSending},
	CampaignStatusScheduled: {CampaignStatusSending},
	CampaignStatusSending:   {CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled, CampaignStatusFailed},
	CampaignStatusPaused:    {CampaignStatusSending, CampaignStatusCancelled, CampaignStatusDraft},
	// Terminal states are only re-enterable as draft via a full resend reset.
	CampaignStatusCompleted: {CampaignStatusDraft},
	CampaignStatusCancelled: {CampaignStatusDraft},
	CampaignStatusFailed:    {CampaignStatusDraft},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to CampaignStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StatusesAllowing returns every status from which the given target status
// is reachable. Used to build conditional UPDATE ... WHERE status = ANY(...)
// from-sets.
func StatusesAllowing(to CampaignStatus) []CampaignStatus {
	var from []CampaignStatus
	for src, targets := range transitions {
		for _, t := range targets {
			if t == to {
				from = append(from, src)
			}
		}
	}
	return from
}

// Campaign represents a bulk-messaging campaign in the system
type Campaign struct {
	ID         int            `json:"id" db:"id"`
	PageID     string         `json:"page_id" db:"page_id"`
	Name       string         `json:"name" db:"name"`
	Platform   Platform       `json:"platform" db:"platform"`
	MessageTag string         `json:"message_tag,omitempty" db:"message_tag"`
	Template   string         `json:"template" db:"template"`
	TargetTags []string       `json:"target_tags" db:"target_tags"`
	Status     CampaignStatus `json:"status" db:"status"`

	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	SentCount       int `json:"sent_count" db:"sent_count"`
	FailedCount     int `json:"failed_count" db:"failed_count"`
	DeliveredCount  int `json:"delivered_count" db:"delivered_count"`
	ReadCount       int `json:"read_count" db:"read_count"`
	RepliedCount    int `json:"replied_count" db:"replied_count"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// CampaignStats represents message counts derived from the message rows,
// as opposed to the counters stored on the campaign row.
type CampaignStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// CampaignWithStats represents a campaign with its derived statistics
type CampaignWithStats struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}

// Validate checks if the campaign fields are valid
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if c.PageID == "" {
		return fmt.Errorf("page id is required")
	}
	if c.Platform != PlatformMessenger && c.Platform != PlatformInstagram {
		return fmt.Errorf("invalid platform: must be 'messenger' or 'instagram'")
	}
	if c.Template == "" {
		return fmt.Errorf("template is required")
	}
	switch c.MessageTag {
	case "", MessageTagConfirmedEventUpdate, MessageTagPostPurchaseUpdate, MessageTagAccountUpdate:
	default:
		return fmt.Errorf("invalid message tag: %s", c.MessageTag)
	}
	return nil
}

// IsScheduled checks if campaign is scheduled for the future
func (c *Campaign) IsScheduled() bool {
	return c.ScheduledAt != nil && c.ScheduledAt.After(time.Now())
}

// Processed returns how many recipients have a terminal per-message outcome.
func (c *Campaign) Processed() int {
	return c.SentCount + c.FailedCount
}

// FullyProcessed reports whether every resolved recipient has a terminal
// per-message outcome. A campaign still SENDING in this condition is the
// "stuck" state the watchdog exists to repair.
func (c *Campaign) FullyProcessed() bool {
	return c.Processed() >= c.TotalRecipients
}

// Terminal reports whether the campaign status is terminal.
func (c *Campaign) Terminal() bool {
	switch c.Status {
	case CampaignStatusCompleted, CampaignStatusCancelled, CampaignStatusFailed:
		return true
	}
	return false
}
