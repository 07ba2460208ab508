package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"triarb/internal/model"
)

const maxStreamBackoff = 16 * time.Second

// BookTickerStream keeps the latest best bid/ask per symbol from the Binance
// all-market bookTicker websocket stream.
type BookTickerStream struct {
	logger  *slog.Logger
	url     string
	symbols map[string]struct{}
	maxAge  time.Duration
	dialer  *websocket.Dialer
	now     func() time.Time

	mu     sync.RWMutex
	quotes map[string]model.Quote
}

// NewBookTickerStream creates a stream. When symbols is non-empty, ticks for
// other symbols are ignored. Quotes older than maxAge are not served; zero
// disables the age check.
func NewBookTickerStream(logger *slog.Logger, url string, symbols []string, maxAge time.Duration) *BookTickerStream {
	var filter map[string]struct{}
	if len(symbols) > 0 {
		filter = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			filter[s] = struct{}{}
		}
	}
	return &BookTickerStream{
		logger:  logger,
		url:     url,
		symbols: filter,
		maxAge:  maxAge,
		dialer:  websocket.DefaultDialer,
		now:     time.Now,
		quotes:  make(map[string]model.Quote),
	}
}

func (b *BookTickerStream) GetName() string {
	return "binance-stream"
}

// StartStream connects to the websocket and keeps the quote map current
// until ctx is cancelled, reconnecting with capped exponential backoff.
func (b *BookTickerStream) StartStream(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			b.logger.Info("BookTickerStream: context cancelled, shutting down")
			return nil
		}

		b.logger.Info("BookTickerStream: connecting to WebSocket", "url", b.url, "backoff", backoff)
		c, _, err := b.dialer.DialContext(ctx, b.url, nil)
		if err != nil {
			b.logger.Error("BookTickerStream: WebSocket connection failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff = min(backoff*2, maxStreamBackoff)
			}
			continue
		}

		// Reset backoff on successful connection
		backoff = time.Second
		b.logger.Info("BookTickerStream: connected successfully")

		b.readLoop(ctx, c)
		b.reset()
	}
}

func (b *BookTickerStream) readLoop(ctx context.Context, c *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			b.logger.Info("BookTickerStream: context cancelled, closing connection")
		case <-done:
		}
		c.Close()
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Error("BookTickerStream: failed to read message", "error", err)
			}
			return
		}
		if err := b.handle(message); err != nil {
			b.logger.Warn("BookTickerStream: failed to parse message", "error", err)
		}
	}
}

type bookTickerEvent struct {
	Symbol string          `json:"s"`
	Bid    decimal.Decimal `json:"b"`
	Ask    decimal.Decimal `json:"a"`
}

func (b *BookTickerStream) handle(message []byte) error {
	var ev bookTickerEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return err
	}
	if ev.Symbol == "" {
		return nil
	}
	if b.symbols != nil {
		if _, ok := b.symbols[ev.Symbol]; !ok {
			return nil
		}
	}

	q := model.Quote{
		Symbol:    ev.Symbol,
		Bid:       ev.Bid.InexactFloat64(),
		Ask:       ev.Ask.InexactFloat64(),
		Timestamp: b.now(),
	}
	b.mu.Lock()
	b.quotes[ev.Symbol] = q
	b.mu.Unlock()
	return nil
}

// reset drops the book of a lost connection.
func (b *BookTickerStream) reset() {
	b.mu.Lock()
	n := len(b.quotes)
	clear(b.quotes)
	b.mu.Unlock()
	if n > 0 {
		b.logger.Warn("BookTickerStream: connection lost, quotes cleared", "symbols", n)
	}
}

// TopOfBook returns a copy of the latest quotes that are no older than the
// maximum age.
func (b *BookTickerStream) TopOfBook(context.Context) (map[string]model.Quote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.quotes) == 0 {
		return nil, &TransportError{Op: "book ticker stream", Err: ErrNoQuotes}
	}
	if b.maxAge <= 0 {
		return maps.Clone(b.quotes), nil
	}

	now := b.now()
	fresh := make(map[string]model.Quote, len(b.quotes))
	for symbol, q := range b.quotes {
		if now.Sub(q.Timestamp) <= b.maxAge {
			fresh[symbol] = q
		}
	}
	if len(fresh) == 0 {
		return nil, &TransportError{Op: "book ticker stream", Err: ErrStaleQuotes}
	}
	return fresh, nil
}

// StreamingClient serves quotes from a BookTickerStream and everything else
// from the wrapped client.
type StreamingClient struct {
	ExchangeClient
	stream *BookTickerStream
}

// NewStreamingClient wraps client so that TopOfBook reads from stream.
func NewStreamingClient(client ExchangeClient, stream *BookTickerStream) *StreamingClient {
	return &StreamingClient{ExchangeClient: client, stream: stream}
}

func (s *StreamingClient) TopOfBook(ctx context.Context) (map[string]model.Quote, error) {
	return s.stream.TopOfBook(ctx)
}

// StartStream runs the underlying websocket stream.
func (s *StreamingClient) StartStream(ctx context.Context) error {
	return s.stream.StartStream(ctx)
}
