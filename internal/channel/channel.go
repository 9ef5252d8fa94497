// Package channel holds the outbound messaging clients. The delivery engine
// treats the channel as an external collaborator: it applies its own provider
// throttling and offers no dedup keys, so callers must enforce their own
// at-most-one-attempt discipline per recipient.
package channel

import "context"

// Sender delivers one rendered message to one recipient.
type Sender interface {
	// Send returns the provider message id on success. The recipientID is a
	// platform-scoped id (messenger PSID or instagram SID); tag is an
	// optional provider compliance tag for out-of-window sends.
	Send(ctx context.Context, recipientID, content, tag string) (string, error)
}
