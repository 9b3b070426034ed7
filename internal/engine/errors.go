package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine and its store implementations.
var (
	// ErrDuplicateEntry signals the delivery log already holds an entry for
	// the (campaign, step, recipient) key.
	ErrDuplicateEntry = errors.New("delivery log entry already exists")

	// ErrTemplateUnavailable signals a missing or inactive template.
	// Transient: the recipient/step is retried on the next run.
	ErrTemplateUnavailable = errors.New("template unavailable")

	// ErrUnknownDelivery signals an engagement event whose external id
	// matches no delivery-log entry.
	ErrUnknownDelivery = errors.New("no delivery log entry for external id")

	// ErrCampaignNotFound signals a campaign id that doesn't exist.
	ErrCampaignNotFound = errors.New("campaign not found")
)

// SendRejectedError reports a permanent per-attempt rejection by the
// delivery channel (e.g. invalid address). It produces a failed delivery-log
// entry that occupies the step's slot.
type SendRejectedError struct {
	Reason string
}

func (e *SendRejectedError) Error() string {
	return fmt.Sprintf("send rejected: %s", e.Reason)
}
