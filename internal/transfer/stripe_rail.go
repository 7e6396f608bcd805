package transfer

import (
	"context"
	"errors"
	"fmt"
	"math"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/jmallory/storeguard/internal/retry"
)

// StripeRail executes transfers as Stripe payouts to the connected bank
// account. Amounts are converted to integer cents.
type StripeRail struct {
	sc *client.API
}

// NewStripeRail creates a Stripe-backed payment rail.
func NewStripeRail(apiKey string) *StripeRail {
	return &StripeRail{sc: client.New(apiKey, nil)}
}

func (r *StripeRail) Execute(ctx context.Context, intent *Intent) (string, error) {
	cents := int64(math.Round(intent.Amount * 100))

	params := &stripe.PayoutParams{
		Params: stripe.Params{
			Context: ctx,
			// Payout creation is idempotent on the intent ID, so a retried
			// attempt after a timeout cannot double-pay.
			IdempotencyKey: stripe.String(intent.ID),
		},
		Amount:      stripe.Int64(cents),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Description: stripe.String(intent.Memo),
	}
	params.AddMetadata("transfer_intent_id", intent.ID)

	payout, err := r.sc.Payouts.New(params)
	if err != nil {
		// Validation failures will not succeed on retry.
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeInvalidRequest {
			return "", retry.Permanent(fmt.Errorf("stripe payout rejected: %w", err))
		}
		return "", fmt.Errorf("stripe payout: %w", err)
	}
	return payout.ID, nil
}
