package transfer

import (
	"context"
	"time"

	"github.com/jmallory/storeguard/internal/orders"
)

// EarningsCalculator derives the payout-eligible earnings from completed
// orders. The net margin rate approximates the share of gross revenue left
// after costs; it is policy configuration, not a measured figure.
type EarningsCalculator struct {
	orders     orders.Store
	marginRate float64
}

// NewEarningsCalculator creates a calculator over the given order storage.
func NewEarningsCalculator(store orders.Store, marginRate float64) *EarningsCalculator {
	return &EarningsCalculator{orders: store, marginRate: marginRate}
}

// Eligible sums the totals of orders completed on the asOf calendar day and
// applies the net margin rate.
func (c *EarningsCalculator) Eligible(ctx context.Context, asOf time.Time) (float64, error) {
	all, err := c.orders.AllOrders(ctx)
	if err != nil {
		return 0, err
	}
	return SumEligible(all, asOf, c.marginRate), nil
}

// SumEligible is the pure calculation over an order slice.
func SumEligible(list []*orders.Order, asOf time.Time, marginRate float64) float64 {
	y, m, d := asOf.Date()
	var gross float64
	for _, o := range list {
		if o.Status != orders.StatusCompleted {
			continue
		}
		oy, om, od := o.CompletedAt.Date()
		if oy == y && om == m && od == d {
			gross += o.Total
		}
	}
	return gross * marginRate
}
