package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"triarb/internal/config"
	"triarb/internal/model"
)

// BinanceClient implements the ExchangeClient interface against the Binance
// spot REST API.
type BinanceClient struct {
	logger     *slog.Logger
	http       *http.Client
	baseURL    string
	apiKey     string
	secretKey  string
	recvWindow int
	now        func() time.Time
}

// NewBinanceClient creates a new BinanceClient.
func NewBinanceClient(logger *slog.Logger, cfg config.ExchangeConfig) *BinanceClient {
	return &BinanceClient{
		logger:     logger,
		http:       &http.Client{Timeout: cfg.RequestTimeout()},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		recvWindow: cfg.RecvWindowMS,
		now:        time.Now,
	}
}

func (b *BinanceClient) GetName() string {
	return "binance"
}

type bookTicker struct {
	Symbol   string          `json:"symbol"`
	BidPrice decimal.Decimal `json:"bidPrice"`
	AskPrice decimal.Decimal `json:"askPrice"`
}

// TopOfBook fetches the best bid/ask of every listed symbol.
func (b *BinanceClient) TopOfBook(ctx context.Context) (map[string]model.Quote, error) {
	var tickers []bookTicker
	if err := b.do(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", nil, false, &tickers); err != nil {
		return nil, err
	}

	now := b.now()
	quotes := make(map[string]model.Quote, len(tickers))
	for _, t := range tickers {
		quotes[t.Symbol] = model.Quote{
			Symbol:    t.Symbol,
			Bid:       t.BidPrice.InexactFloat64(),
			Ask:       t.AskPrice.InexactFloat64(),
			Timestamp: now,
		}
	}
	return quotes, nil
}

type orderFill struct {
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
}

type orderResponse struct {
	OrderID             int64           `json:"orderId"`
	Symbol              string          `json:"symbol"`
	Status              string          `json:"status"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Fills               []orderFill     `json:"fills"`
}

// SubmitMarketOrder places a market order. Buys spend quantity of the quote
// asset, sells sell quantity of the base asset.
func (b *BinanceClient) SubmitMarketOrder(ctx context.Context, symbol string, side model.Side, quantity float64) (model.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("newOrderRespType", "FULL")
	qty := FormatQuantity(quantity)
	if side == model.Buy {
		params.Set("quoteOrderQty", qty)
	} else {
		params.Set("quantity", qty)
	}

	var resp orderResponse
	err := b.do(ctx, http.MethodPost, "/api/v3/order", params, true, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return model.OrderResult{}, &OrderError{
				Symbol:     symbol,
				Side:       side,
				StatusCode: apiErr.StatusCode,
				Code:       apiErr.Code,
				Detail:     apiErr.Msg,
			}
		}
		return model.OrderResult{}, err
	}

	result := model.OrderResult{
		OrderID:            resp.OrderID,
		Symbol:             resp.Symbol,
		Status:             resp.Status,
		ExecutedQty:        resp.ExecutedQty.InexactFloat64(),
		CumulativeProceeds: resp.CummulativeQuoteQty.InexactFloat64(),
		Fills:              make([]model.Fill, 0, len(resp.Fills)),
	}
	for _, f := range resp.Fills {
		result.Fills = append(result.Fills, model.Fill{
			Price:           f.Price.InexactFloat64(),
			Quantity:        f.Qty.InexactFloat64(),
			Commission:      f.Commission.InexactFloat64(),
			CommissionAsset: f.CommissionAsset,
		})
	}

	b.logger.Debug("BinanceClient: order filled", "symbol", symbol, "side", side, "order_id", result.OrderID, "status", result.Status)
	return result, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string          `json:"asset"`
		Free   decimal.Decimal `json:"free"`
		Locked decimal.Decimal `json:"locked"`
	} `json:"balances"`
}

// Balances returns the free and locked amount of every held asset.
func (b *BinanceClient) Balances(ctx context.Context) (map[string]model.Balance, error) {
	params := url.Values{}
	params.Set("omitZeroBalances", "true")

	var resp accountResponse
	if err := b.do(ctx, http.MethodGet, "/api/v3/account", params, true, &resp); err != nil {
		return nil, err
	}

	balances := make(map[string]model.Balance, len(resp.Balances))
	for _, bal := range resp.Balances {
		balances[bal.Asset] = model.Balance{
			Asset:  bal.Asset,
			Free:   bal.Free.InexactFloat64(),
			Locked: bal.Locked.InexactFloat64(),
		}
	}
	return balances, nil
}

// CancelAllOpenOrders cancels open orders on every symbol that has any.
// Binance requires a symbol per cancel call, so open orders are listed first.
func (b *BinanceClient) CancelAllOpenOrders(ctx context.Context) error {
	var open []struct {
		Symbol string `json:"symbol"`
	}
	if err := b.do(ctx, http.MethodGet, "/api/v3/openOrders", url.Values{}, true, &open); err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}

	seen := make(map[string]struct{})
	var errs []error
	for _, o := range open {
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}

		params := url.Values{}
		params.Set("symbol", o.Symbol)
		if err := b.do(ctx, http.MethodDelete, "/api/v3/openOrders", params, true, nil); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", o.Symbol, err))
			continue
		}
		b.logger.Info("BinanceClient: cancelled open orders", "symbol", o.Symbol)
	}
	return errors.Join(errs...)
}

func (b *BinanceClient) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
		if b.recvWindow > 0 {
			params.Set("recvWindow", strconv.Itoa(b.recvWindow))
		}
	}
	encoded := params.Encode()
	if signed {
		// The signature must follow the exact query it covers.
		encoded += "&signature=" + Sign(encoded, b.secretKey)
	}

	endpoint := b.baseURL + path
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(encoded)
	} else if encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read " + path, Err: err}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return &TransportError{Op: method + " " + path, Err: fmt.Errorf("server error %d: %s", resp.StatusCode, data)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Msg: string(data)}
		var payload struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Msg != "" {
			apiErr.Code = payload.Code
			apiErr.Msg = payload.Msg
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of query under secret.
func Sign(query, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// FormatQuantity renders a quantity with at most eight decimals, truncated
// so an order never asks for more than is held.
func FormatQuantity(q float64) string {
	return decimal.NewFromFloat(q).Truncate(8).String()
}
