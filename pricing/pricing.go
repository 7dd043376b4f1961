// Package pricing computes the cost of a rental from the customer's
// subscription plan and the ride duration. It is a pure function of its
// inputs: identical (plan, minutes) pairs always produce identical decimals,
// which is what makes billing reproducible.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/citywheel/bikeshare-backend/customer"
)

var (
	standardBaseRate   = decimal.RequireFromString("1.00")
	premiumBaseRate    = decimal.RequireFromString("0.50")
	standardMinuteRate = decimal.RequireFromString("0.15")
	premiumMinuteRate  = decimal.RequireFromString("0.10")

	discountRate = decimal.RequireFromString("0.10")
	discountCap  = decimal.RequireFromString("2.00")
)

const (
	standardFreeMinutes = 5
	premiumFreeMinutes  = 60
)

// Cost is the billing breakdown for a single rental.
type Cost struct {
	BaseRate decimal.Decimal `db:"base_rate" json:"baseRate"`
	TimeCost decimal.Decimal `db:"time_cost" json:"timeCost"`
	Discount decimal.Decimal `db:"discount" json:"discount"`
	Total    decimal.Decimal `db:"total_cost" json:"totalCost"`
}

// Compute prices a ride of the given duration. Billable minutes are the
// duration minus the plan's free-minute allowance, floored at zero. Premium
// customers get 10% off base+time, capped at 2.00, so the total can never go
// negative.
func Compute(plan customer.SubscriptionPlan, minutes int) Cost {
	premium := plan == customer.PlanPremium

	baseRate := standardBaseRate
	minuteRate := standardMinuteRate
	freeMinutes := standardFreeMinutes
	if premium {
		baseRate = premiumBaseRate
		minuteRate = premiumMinuteRate
		freeMinutes = premiumFreeMinutes
	}

	billableMinutes := minutes - freeMinutes
	if billableMinutes < 0 {
		billableMinutes = 0
	}
	timeCost := minuteRate.Mul(decimal.NewFromInt(int64(billableMinutes)))

	discount := decimal.Zero
	if premium {
		discount = decimal.Min(baseRate.Add(timeCost).Mul(discountRate), discountCap)
	}

	return Cost{
		BaseRate: baseRate,
		TimeCost: timeCost,
		Discount: discount,
		Total:    baseRate.Add(timeCost).Sub(discount),
	}
}
