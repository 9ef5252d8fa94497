package service

import (
	"fmt"

	"socialcrm/internal/models"
)

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Resource, e.ID)
}

// ValidationError represents a validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// InvalidStateError is returned when a requested campaign transition is not
// legal from the current status. Always surfaced to the caller with both
// statuses; never retried automatically.
type InvalidStateError struct {
	CampaignID int
	Current    models.CampaignStatus
	Requested  models.CampaignStatus
	Reason     string
}

func (e *InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("campaign %d cannot move from %s to %s: %s", e.CampaignID, e.Current, e.Requested, e.Reason)
	}
	return fmt.Sprintf("campaign %d cannot move from %s to %s", e.CampaignID, e.Current, e.Requested)
}

// RecipientResolutionError is returned when the targeting query fails. The
// campaign stays in DRAFT with nothing partially created.
type RecipientResolutionError struct {
	CampaignID int
	Err        error
}

func (e *RecipientResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve recipients for campaign %d: %v", e.CampaignID, e.Err)
}

func (e *RecipientResolutionError) Unwrap() error {
	return e.Err
}

// ChannelSendError is a per-message send failure. It is recorded on the
// message row and counted; it never aborts the dispatch loop.
type ChannelSendError struct {
	MessageID int
	Err       error
}

func (e *ChannelSendError) Error() string {
	return fmt.Sprintf("channel send failed for message %d: %v", e.MessageID, e.Err)
}

func (e *ChannelSendError) Unwrap() error {
	return e.Err
}

// DispatchFatalError is any error that escaped the per-message handling of a
// dispatch loop. The loop boundary converts it into a FAILED campaign so no
// campaign is ever left dangling in SENDING.
type DispatchFatalError struct {
	CampaignID int
	Err        error
}

func (e *DispatchFatalError) Error() string {
	return fmt.Sprintf("dispatch for campaign %d aborted: %v", e.CampaignID, e.Err)
}

func (e *DispatchFatalError) Unwrap() error {
	return e.Err
}

// ReconciliationConflict is returned when the watchdog finds a campaign
// mutated concurrently with its repair attempt. Retried on the next run.
type ReconciliationConflict struct {
	CampaignID int
}

func (e *ReconciliationConflict) Error() string {
	return fmt.Sprintf("campaign %d changed during reconciliation", e.CampaignID)
}
