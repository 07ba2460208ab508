package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"triarb/internal/config"
	"triarb/internal/model"
)

func TestSplitSymbol(t *testing.T) {
	tests := []struct{ symbol, base, quote string }{
		{"BTCUSDT", "BTC", "USDT"},
		{"ETHBTC", "ETH", "BTC"},
		{"BNBBUSD", "BNB", "BUSD"},
		{"BUSDUSDT", "BUSD", "USDT"},
		{"ADABNB", "ADA", "BNB"},
	}
	for _, tt := range tests {
		base, quote, ok := SplitSymbol(tt.symbol)
		assert.True(t, ok, tt.symbol)
		assert.Equal(t, tt.base, base, tt.symbol)
		assert.Equal(t, tt.quote, quote, tt.symbol)
	}

	_, _, ok := SplitSymbol("USDT")
	assert.False(t, ok)
	_, _, ok = SplitSymbol("FOOBAR")
	assert.False(t, ok)
}

func TestPaperClient_TriangleRoundTrip(t *testing.T) {
	quotes := staticQuoter{
		"BTCUSDT": {Symbol: "BTCUSDT", Bid: 99, Ask: 100},
		"ETHBTC":  {Symbol: "ETHBTC", Bid: 1.9, Ask: 2},
		"ETHUSDT": {Symbol: "ETHUSDT", Bid: 205, Ask: 206},
	}
	p := NewPaperClient(testLogger(), quotes, map[string]float64{"USDT": 400}, 0.1)
	ctx := context.Background()

	r1, err := p.SubmitMarketOrder(ctx, "BTCUSDT", model.Buy, 40)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, r1.FilledQty(), 1e-12)
	require.Len(t, r1.Fills, 1)
	assert.InDelta(t, 0.04, r1.Fills[0].Commission, 1e-12)
	assert.Equal(t, "USDT", r1.Fills[0].CommissionAsset)

	r2, err := p.SubmitMarketOrder(ctx, "ETHBTC", model.Buy, r1.FilledQty())
	require.NoError(t, err)
	assert.InDelta(t, 0.2, r2.FilledQty(), 1e-12)

	r3, err := p.SubmitMarketOrder(ctx, "ETHUSDT", model.Sell, r2.FilledQty())
	require.NoError(t, err)
	assert.InDelta(t, 41.0, r3.CumulativeProceeds, 1e-9)
	assert.Equal(t, []int64{1, 2, 3}, []int64{r1.OrderID, r2.OrderID, r3.OrderID})

	balances, err := p.Balances(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 401.0, AssetFree(balances, "USDT"), 1e-9)
	assert.InDelta(t, 0, AssetFree(balances, "ETH"), 1e-12)
	assert.NoError(t, p.CancelAllOpenOrders(ctx))
}

func TestPaperClient_Rejections(t *testing.T) {
	quotes := staticQuoter{"BTCUSDT": {Symbol: "BTCUSDT", Bid: 99, Ask: 100}}
	p := NewPaperClient(testLogger(), quotes, map[string]float64{"USDT": 10}, 0.1)
	ctx := context.Background()

	var orderErr *OrderError
	_, err := p.SubmitMarketOrder(ctx, "BTCUSDT", model.Buy, 40)
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, -2010, orderErr.Code)

	_, err = p.SubmitMarketOrder(ctx, "BTCUSDT", model.Sell, 1)
	require.ErrorAs(t, err, &orderErr)

	_, err = p.SubmitMarketOrder(ctx, "ETHUSDT", model.Buy, 1)
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, -1121, orderErr.Code)

	_, err = p.SubmitMarketOrder(ctx, "BTCUSDT", model.Buy, 0)
	require.ErrorAs(t, err, &orderErr)
}

func TestNewClient(t *testing.T) {
	cfg := &config.Config{
		Trading:  config.TradingConfig{QuoteAsset: "USDT"},
		Exchange: config.ExchangeConfig{Name: "binance", QuoteSource: "rest", PaperBalance: 400},
	}

	c, err := NewClient(testLogger(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &BinanceClient{}, c)

	cfg.Exchange.Name = "paper"
	c, err = NewClient(testLogger(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "paper", c.GetName())
	balances, err := c.Balances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 400.0, AssetFree(balances, "USDT"))

	cfg.Exchange.QuoteSource = "stream"
	c, err = NewClient(testLogger(), cfg, []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.IsType(t, &StreamingClient{}, c)

	cfg.Exchange.Name = "kraken"
	_, err = NewClient(testLogger(), cfg, nil)
	assert.Error(t, err)
}
