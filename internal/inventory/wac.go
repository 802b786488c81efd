package inventory

import "github.com/shopspring/decimal"

const (
	// CostPlaces is the precision costs are persisted with.
	CostPlaces = 4
	// MoneyPlaces is the precision of currency totals.
	MoneyPlaces = 2
)

// WeightedAverageCost blends an existing average with an incoming receipt:
//
//	((existingQty * existingAvg) + (incomingQty * incomingCost)) / (existingQty + incomingQty)
//
// When the combined quantity is not positive the existing average is kept.
// Oversold stock (existingQty < 0) carries no valuation to blend, so the
// incoming cost is taken as is. No rounding is applied; see RoundCost.
func WeightedAverageCost(existingQty int64, existingAvg decimal.Decimal, incomingQty int64, incomingCost decimal.Decimal) decimal.Decimal {
	total := existingQty + incomingQty
	if total <= 0 {
		return existingAvg
	}
	if existingQty < 0 {
		return incomingCost
	}
	existing := decimal.NewFromInt(existingQty).Mul(existingAvg)
	incoming := decimal.NewFromInt(incomingQty).Mul(incomingCost)
	return existing.Add(incoming).Div(decimal.NewFromInt(total))
}

// RoundCost rounds a unit cost for persistence.
func RoundCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(CostPlaces)
}

// RoundMoney rounds a currency total.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}
