package valuation

import "github.com/shopspring/decimal"

var (
	fantasyXPUnit    = decimal.NewFromInt(1000)
	timeTravelXPBase = decimal.NewFromInt(100)
	timeTravelXPMult = decimal.NewFromInt(10)
	half             = decimal.New(5, -1)
)

// FantasyScore is the rounded total value.
func FantasyScore(total decimal.Decimal) int64 {
	return roundHalfUp(total)
}

// FantasyXP awards one point per 1000 of profit, never negative.
func FantasyXP(total, initial decimal.Decimal) int64 {
	return nonNegative(roundHalfUp(total.Sub(initial).Div(fantasyXPUnit)))
}

// TimeTravelScore is the rounded return percentage.
func TimeTravelScore(returnPercent decimal.Decimal) int64 {
	return roundHalfUp(returnPercent)
}

// TimeTravelXP is 100 plus ten points per percent of return, never negative.
func TimeTravelXP(returnPercent decimal.Decimal) int64 {
	return nonNegative(roundHalfUp(returnPercent.Mul(timeTravelXPMult).Add(timeTravelXPBase)))
}

// roundHalfUp rounds ties toward positive infinity, so -2.5 becomes -2.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Add(half).Floor().IntPart()
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
