package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"triarb/internal/model"
)

// quoteAssets are the assets recognised as the quote side of a symbol,
// longest-match first.
var quoteAssets = []string{"USDT", "BUSD", "USDC", "FDUSD", "BTC", "ETH", "BNB"}

// SplitSymbol splits a concatenated symbol such as ETHBTC into base and quote.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	for _, q := range quoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q), q, true
		}
	}
	return "", "", false
}

// Quoter supplies top-of-book quotes.
type Quoter interface {
	TopOfBook(ctx context.Context) (map[string]model.Quote, error)
}

// PaperClient simulates market fills at the live top of book against an
// in-memory wallet. Commissions are reported in the pair's quote asset but
// not debited, so fills settle gross.
type PaperClient struct {
	logger  *slog.Logger
	quotes  Quoter
	feeRate float64

	mu     sync.Mutex
	wallet map[string]float64
	nextID int64
}

// NewPaperClient creates a paper client seeded with the given wallet.
// feePct is the per-fill commission in percent.
func NewPaperClient(logger *slog.Logger, quotes Quoter, wallet map[string]float64, feePct float64) *PaperClient {
	w := make(map[string]float64, len(wallet))
	for k, v := range wallet {
		w[k] = v
	}
	return &PaperClient{
		logger:  logger,
		quotes:  quotes,
		feeRate: feePct / 100,
		wallet:  w,
		nextID:  1,
	}
}

func (p *PaperClient) GetName() string {
	return "paper"
}

func (p *PaperClient) TopOfBook(ctx context.Context) (map[string]model.Quote, error) {
	return p.quotes.TopOfBook(ctx)
}

// SubmitMarketOrder fills the whole order at the current best price.
func (p *PaperClient) SubmitMarketOrder(ctx context.Context, symbol string, side model.Side, quantity float64) (model.OrderResult, error) {
	base, quote, ok := SplitSymbol(symbol)
	if !ok {
		return model.OrderResult{}, &OrderError{Symbol: symbol, Side: side, StatusCode: 400, Code: -1121, Detail: "Invalid symbol."}
	}
	if quantity <= 0 {
		return model.OrderResult{}, &OrderError{Symbol: symbol, Side: side, StatusCode: 400, Code: -1013, Detail: "Invalid quantity."}
	}

	quotes, err := p.quotes.TopOfBook(ctx)
	if err != nil {
		return model.OrderResult{}, err
	}
	q, ok := quotes[symbol]
	if !ok || q.Bid <= 0 || q.Ask <= 0 {
		return model.OrderResult{}, &OrderError{Symbol: symbol, Side: side, StatusCode: 400, Code: -1121, Detail: "No market for symbol."}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	result := model.OrderResult{OrderID: p.nextID, Symbol: symbol, Status: "FILLED"}
	switch side {
	case model.Buy:
		if p.wallet[quote] < quantity {
			return model.OrderResult{}, insufficient(symbol, side)
		}
		filled := quantity / q.Ask
		p.wallet[quote] -= quantity
		p.wallet[base] += filled
		result.ExecutedQty = filled
		result.CumulativeProceeds = quantity
		result.Fills = []model.Fill{{Price: q.Ask, Quantity: filled, Commission: quantity * p.feeRate, CommissionAsset: quote}}
	case model.Sell:
		if p.wallet[base] < quantity {
			return model.OrderResult{}, insufficient(symbol, side)
		}
		proceeds := quantity * q.Bid
		p.wallet[base] -= quantity
		p.wallet[quote] += proceeds
		result.ExecutedQty = quantity
		result.CumulativeProceeds = proceeds
		result.Fills = []model.Fill{{Price: q.Bid, Quantity: quantity, Commission: proceeds * p.feeRate, CommissionAsset: quote}}
	default:
		return model.OrderResult{}, &OrderError{Symbol: symbol, Side: side, StatusCode: 400, Code: -1102, Detail: fmt.Sprintf("Invalid side %q.", side)}
	}
	p.nextID++

	p.logger.Debug("PaperClient: simulated fill", "symbol", symbol, "side", side, "qty", quantity, "order_id", result.OrderID)
	return result, nil
}

func (p *PaperClient) Balances(context.Context) (map[string]model.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]model.Balance, len(p.wallet))
	for asset, free := range p.wallet {
		out[asset] = model.Balance{Asset: asset, Free: free}
	}
	return out, nil
}

// CancelAllOpenOrders is a no-op: paper market orders never rest.
func (p *PaperClient) CancelAllOpenOrders(context.Context) error {
	return nil
}

func insufficient(symbol string, side model.Side) error {
	return &OrderError{Symbol: symbol, Side: side, StatusCode: 400, Code: -2010, Detail: "Account has insufficient balance for requested action."}
}
