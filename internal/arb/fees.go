// Package arb evaluates fee-adjusted arbitrage profitability across the two
// compensating strategies of a matched pair.
package arb

// FeeModel is a per-venue taker fee: a flat per-contract component plus a
// proportional rate on notional. Kalshi is configured with a rate and zero
// per-unit; Polymarket the opposite.
type FeeModel struct {
	Rate    float64 // proportional on price*size notional
	PerUnit float64 // flat per contract
}

// Fee returns the taker fee for one contract bought at price.
func (f FeeModel) Fee(price float64) float64 {
	return f.PerUnit + f.Rate*price
}

// FeeFor returns the taker fee for size contracts at price.
func (f FeeModel) FeeFor(price float64, size int64) float64 {
	return f.Fee(price) * float64(size)
}
