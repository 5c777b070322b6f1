// Package payments wraps the card processor behind authorize, capture,
// and refund. The concrete processor is chosen once at startup from
// PAYMENT_PROCESSOR.
package payments

import (
	"context"
	"fmt"
	"strings"
)

// Authorization is the processor's record of a successful hold.
type Authorization struct {
	Processor       string `json:"processor"`
	PaymentIntentID string `json:"payment_intent_id"`
	AmountMinor     int64  `json:"amount_minor"`
}

// Processor is the payment vendor contract. Amounts are integer minor
// units. Errors are transport or decline failures; the caller decides
// whether to surface them as 402/502.
type Processor interface {
	Authorize(ctx context.Context, amountMinor int64, paymentMethod string) (Authorization, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Refund(ctx context.Context, paymentIntentID string) error
}

// New selects a processor implementation by name.
func New(processor, apiKey string) (Processor, error) {
	switch strings.ToLower(processor) {
	case "", "fake":
		return Fake{}, nil
	case "stripe":
		return newStripeProcessor(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown PAYMENT_PROCESSOR %q", processor)
	}
}
