package domain

import (
	"context"
	"errors"
)

type Service interface {
	// HandleNotification verifies, parses, and idempotently applies one
	// checkout notification. Redeliveries are silent no-ops.
	HandleNotification(ctx context.Context, payload []byte, signatureHeader string) error
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
)

const EventTypeCheckoutCompleted = "checkout.completed"
