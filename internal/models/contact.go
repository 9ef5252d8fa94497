package models

import "time"

// Contact represents a CRM contact reachable over Messenger or Instagram.
// Contacts are owned by the contact-ingestion pipeline; the delivery engine
// only reads them when resolving campaign recipients.
type Contact struct {
	ID            int       `json:"id" db:"id"`
	PageID        string    `json:"page_id" db:"page_id"`
	FirstName     *string   `json:"first_name,omitempty" db:"first_name"`
	LastName      *string   `json:"last_name,omitempty" db:"last_name"`
	MessengerPSID *string   `json:"messenger_psid,omitempty" db:"messenger_psid"`
	InstagramSID  *string   `json:"instagram_sid,omitempty" db:"instagram_sid"`
	Tags          []string  `json:"tags" db:"tags"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// RecipientID returns the provider-scoped id for the given platform, or
// empty string and false when the contact is not reachable on it.
func (c *Contact) RecipientID(platform Platform) (string, bool) {
	switch platform {
	case PlatformMessenger:
		if c.MessengerPSID != nil && *c.MessengerPSID != "" {
			return *c.MessengerPSID, true
		}
	case PlatformInstagram:
		if c.InstagramSID != nil && *c.InstagramSID != "" {
			return *c.InstagramSID, true
		}
	}
	return "", false
}

// FullName returns the contact's display name
func (c *Contact) FullName() string {
	var firstName, lastName string

	if c.FirstName != nil {
		firstName = *c.FirstName
	}
	if c.LastName != nil {
		lastName = *c.LastName
	}

	if firstName != "" && lastName != "" {
		return firstName + " " + lastName
	}
	if firstName != "" {
		return firstName
	}
	if lastName != "" {
		return lastName
	}
	return "Contact"
}
