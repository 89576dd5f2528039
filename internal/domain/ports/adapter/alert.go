package adapter

import "context"

// Alerter delivers operator-facing notifications for events that need a human
// soon: signature failures, refund errors, repeated gateway outages.
// Implementations are best effort and must never block a payment flow.
type Alerter interface {
	Notify(ctx context.Context, subject, text string) error
}
