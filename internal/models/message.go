package models

import "time"

// MessageStatus represents valid message statuses
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusReplied   MessageStatus = "replied"
)

// messageRank orders the post-send states. Webhook events may arrive out of
// order; a message status only ever moves forward along this ranking.
var messageRank = map[MessageStatus]int{
	MessageStatusPending:   0,
	MessageStatusFailed:    1,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
	MessageStatusReplied:   4,
}

// Advances reports whether moving from one message status to another is a
// forward progression. FAILED and SENT are terminal for the dispatcher;
// only SENT may advance further via webhook events.
func (s MessageStatus) Advances(to MessageStatus) bool {
	if s == MessageStatusFailed {
		return false
	}
	return messageRank[to] > messageRank[s]
}

// Message represents one delivery attempt record per recipient per campaign
type Message struct {
	ID                int           `json:"id" db:"id"`
	CampaignID        int           `json:"campaign_id" db:"campaign_id"`
	ContactID         int           `json:"contact_id" db:"contact_id"`
	Status            MessageStatus `json:"status" db:"status"`
	Content           string        `json:"content" db:"content"`
	ErrorMessage      *string       `json:"error_message,omitempty" db:"error_message"`
	FacebookMessageID *string       `json:"facebook_message_id,omitempty" db:"facebook_message_id"`
	SentAt            *time.Time    `json:"sent_at,omitempty" db:"sent_at"`
	FailedAt          *time.Time    `json:"failed_at,omitempty" db:"failed_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}
