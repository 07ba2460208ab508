package execution

import (
	"triarb/internal/exchange"
	"triarb/internal/model"
)

// Pricer looks up the latest quote of a symbol. It values commissions
// charged in assets the traded triangle does not touch, such as BNB.
type Pricer interface {
	Quote(symbol string) (model.Quote, bool)
}

// feeBook converts commissions into the quote asset. Asset values are
// learned from the executed legs, starting with the quote asset at par.
type feeBook struct {
	quoteAsset string
	prices     Pricer
	values     map[string]float64
}

func newFeeBook(quoteAsset string, prices Pricer) *feeBook {
	return &feeBook{
		quoteAsset: quoteAsset,
		prices:     prices,
		values:     map[string]float64{quoteAsset: 1},
	}
}

// learn records the executed rate of a filled leg.
func (f *feeBook) learn(symbol string, res model.OrderResult) {
	base, quote, ok := exchange.SplitSymbol(symbol)
	if !ok || res.ExecutedQty <= 0 || res.CumulativeProceeds <= 0 {
		return
	}
	price := res.CumulativeProceeds / res.ExecutedQty
	if v, ok := f.values[quote]; ok {
		f.values[base] = v * price
	} else if v, ok := f.values[base]; ok {
		f.values[quote] = v / price
	}
}

// total is the quote asset value of the leg's commissions. Assets that
// could not be valued are returned and left out of the sum.
func (f *feeBook) total(res model.OrderResult) (float64, []string) {
	var sum float64
	var unvalued []string
	for _, fill := range res.Fills {
		if fill.Commission == 0 {
			continue
		}
		v, ok := f.value(fill.CommissionAsset)
		if !ok {
			unvalued = append(unvalued, fill.CommissionAsset)
			continue
		}
		sum += fill.Commission * v
	}
	return sum, unvalued
}

func (f *feeBook) value(asset string) (float64, bool) {
	// An untagged commission is taken as already in the quote asset.
	if asset == "" {
		return 1, true
	}
	if v, ok := f.values[asset]; ok {
		return v, true
	}
	if f.prices == nil {
		return 0, false
	}
	if q, ok := f.prices.Quote(asset + f.quoteAsset); ok && q.Bid > 0 {
		return q.Bid, true
	}
	return 0, false
}
