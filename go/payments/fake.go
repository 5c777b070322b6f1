package payments

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Fake mimics the processor's authorization response for development
// and tests. Every authorize succeeds.
type Fake struct{}

// Authorize implements Processor.
func (Fake) Authorize(_ context.Context, amountMinor int64, _ string) (Authorization, error) {
	return Authorization{
		Processor:       "fake",
		PaymentIntentID: "pi_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		AmountMinor:     amountMinor,
	}, nil
}

// Capture implements Processor.
func (Fake) Capture(context.Context, string) error { return nil }

// Refund implements Processor.
func (Fake) Refund(context.Context, string) error { return nil }
