package exchange

import (
	"fmt"
	"log/slog"

	"triarb/internal/config"
)

// NewClient creates a new exchange client based on the configured name and
// quote source. symbols narrows the streamed instruments.
func NewClient(logger *slog.Logger, cfg *config.Config, symbols []string) (ExchangeClient, error) {
	rest := NewBinanceClient(logger, cfg.Exchange)

	var stream *BookTickerStream
	var quotes Quoter = rest
	if cfg.Exchange.QuoteSource == "stream" {
		stream = NewBookTickerStream(logger, cfg.Exchange.StreamURL, symbols, cfg.Exchange.StreamMaxAge())
		quotes = stream
	}

	var client ExchangeClient
	switch cfg.Exchange.Name {
	case "binance":
		client = rest
	case "paper":
		wallet := map[string]float64{cfg.Trading.QuoteAsset: cfg.Exchange.PaperBalance}
		client = NewPaperClient(logger, quotes, wallet, cfg.Exchange.TakerFeePercent)
	default:
		return nil, fmt.Errorf("unknown exchange: %s", cfg.Exchange.Name)
	}

	if stream != nil {
		return NewStreamingClient(client, stream), nil
	}
	return client, nil
}
