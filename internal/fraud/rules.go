package fraud

import "math"

// Flag names for the triggered rules.
const (
	FlagHighAmount        = "high_amount"
	FlagRapidOrderChanges = "rapid_order_changes"
	FlagUnusualLocation   = "unusual_location"
	FlagFailedPayments    = "multiple_failed_payments"
	FlagAbnormalVolume    = "abnormal_volume"
)

// Rule trigger thresholds. All comparisons are strict: a value exactly at the
// threshold does not trigger.
const (
	highAmountThreshold     = 5000.0
	rapidChangeThreshold    = 5
	locationJumpKm          = 1000.0
	paymentFailureThreshold = 3
	dailyVolumeThreshold    = 10
)

// scoreRule is one row of the scoring table.
type scoreRule struct {
	flag      string
	points    int
	triggered func(s *Signals) bool
}

// scoreRules is evaluated in order; triggered flags are recorded in this
// order. Points are additive and each rule triggers independently.
var scoreRules = []scoreRule{
	{
		flag:      FlagHighAmount,
		points:    30,
		triggered: func(s *Signals) bool { return s.Amount > highAmountThreshold },
	},
	{
		flag:      FlagRapidOrderChanges,
		points:    25,
		triggered: func(s *Signals) bool { return s.RecentChangeCount > rapidChangeThreshold },
	},
	{
		flag:      FlagUnusualLocation,
		points:    30,
		triggered: locationJumpTriggered,
	},
	{
		flag:      FlagFailedPayments,
		points:    35,
		triggered: func(s *Signals) bool { return s.RecentPaymentFailureCount > paymentFailureThreshold },
	},
	{
		flag:      FlagAbnormalVolume,
		points:    20,
		triggered: func(s *Signals) bool { return s.DailyActionCount > dailyVolumeThreshold },
	},
}

// locationJumpTriggered fires when the great-circle distance between the
// current location and the most recent prior location exceeds the jump limit.
// Missing locations never trigger.
func locationJumpTriggered(s *Signals) bool {
	if s.CurrentLocation == nil || len(s.PriorLocations) == 0 {
		return false
	}
	last := s.PriorLocations[len(s.PriorLocations)-1]
	return haversineKm(*s.CurrentLocation, last) > locationJumpKm
}

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two points in km.
func haversineKm(a, b Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
