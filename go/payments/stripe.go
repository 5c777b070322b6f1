package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// stripeProcessor authorizes with manual capture so funds are held at
// checkout and captured only on delivery.
type stripeProcessor struct {
	api *client.API
}

func newStripeProcessor(apiKey string) *stripeProcessor {
	var api = &client.API{}
	api.Init(apiKey, nil)
	return &stripeProcessor{api: api}
}

// Authorize implements Processor.
func (p *stripeProcessor) Authorize(_ context.Context, amountMinor int64, paymentMethod string) (Authorization, error) {
	var params = &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountMinor),
		Currency:      stripe.String(string(stripe.CurrencyUSD)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		PaymentMethod: stripe.String(paymentMethod),
		Confirm:       stripe.Bool(true),
	}
	intent, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return Authorization{}, fmt.Errorf("creating payment intent: %w", err)
	}
	return Authorization{
		Processor:       "stripe",
		PaymentIntentID: intent.ID,
		AmountMinor:     amountMinor,
	}, nil
}

// Capture implements Processor.
func (p *stripeProcessor) Capture(_ context.Context, paymentIntentID string) error {
	if _, err := p.api.PaymentIntents.Capture(paymentIntentID, &stripe.PaymentIntentCaptureParams{}); err != nil {
		return fmt.Errorf("capturing payment intent %s: %w", paymentIntentID, err)
	}
	return nil
}

// Refund implements Processor.
func (p *stripeProcessor) Refund(_ context.Context, paymentIntentID string) error {
	var params = &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	if _, err := p.api.Refunds.New(params); err != nil {
		return fmt.Errorf("refunding payment intent %s: %w", paymentIntentID, err)
	}
	return nil
}
