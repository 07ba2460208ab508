package exchange

import (
	"context"
	"errors"
	"fmt"

	"triarb/internal/model"
)

// ExchangeClient defines the standard interface for all exchange clients.
// For buy orders quantity is the quote amount to spend, for sell orders the
// base amount to sell.
type ExchangeClient interface {
	GetName() string
	TopOfBook(ctx context.Context) (map[string]model.Quote, error)
	SubmitMarketOrder(ctx context.Context, symbol string, side model.Side, quantity float64) (model.OrderResult, error)
	Balances(ctx context.Context) (map[string]model.Balance, error)
	CancelAllOpenOrders(ctx context.Context) error
}

var (
	// ErrNoQuotes is returned when a quote source has nothing to serve yet.
	ErrNoQuotes = errors.New("no quotes available")
	// ErrStaleQuotes is returned when every held quote is older than allowed.
	ErrStaleQuotes = errors.New("quotes are stale")
)

// OrderError is an order rejected by the exchange.
type OrderError struct {
	Symbol     string
	Side       model.Side
	StatusCode int
	Code       int
	Detail     string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order %s %s rejected (status %d, code %d): %s", e.Side, e.Symbol, e.StatusCode, e.Code, e.Detail)
}

// APIError is a non-order request rejected by the exchange.
type APIError struct {
	StatusCode int
	Code       int
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error (status %d, code %d): %s", e.StatusCode, e.Code, e.Msg)
}

// TransportError wraps network failures, timeouts and server-side errors.
// These are retryable at the controller level.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport or timeout failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

// AssetFree returns the free balance of asset, zero when absent.
func AssetFree(balances map[string]model.Balance, asset string) float64 {
	return balances[asset].Free
}
