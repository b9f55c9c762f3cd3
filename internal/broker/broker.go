package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"sigworker/internal/analysis"
	"sigworker/internal/metrics"
	"sigworker/internal/risk"
)

type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindRejected  ErrorKind = "rejected"
	KindAuth      ErrorKind = "auth"
)

// ExecutionError classifies a broker failure. Only transient failures are worth retrying, on a later cycle.
type ExecutionError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Retryable() bool { return e.Kind == KindTransient }

// Kind reports the classification of err if it is an *ExecutionError.
func Kind(err error) (ErrorKind, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return "", false
}

// IsNotFound reports whether the broker answered 404, e.g. no open position for a symbol.
func IsNotFound(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type OrderAck struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
}

type Position struct {
	Symbol   string
	Qty      int
	AvgEntry float64
}

type Account struct {
	Equity      float64
	BuyingPower float64
}

// alpacaAPI is the subset of *alpaca.Client the worker needs.
type alpacaAPI interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	GetOrders(req alpaca.GetOrdersRequest) ([]alpaca.Order, error)
	GetPosition(symbol string) (*alpaca.Position, error)
	GetAccount() (*alpaca.Account, error)
}

type Client struct {
	api     alpacaAPI
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func New(apiKey, apiSecret, baseURL string, log zerolog.Logger) *Client {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	}
	return newClient(alpaca.NewClient(opts), log)
}

func newClient(api alpacaAPI, log zerolog.Logger) *Client {
	st := gobreaker.Settings{Name: "broker", Interval: time.Minute, Timeout: 30 * time.Second}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 3 }
	// Rejections are answers, not outages.
	st.IsSuccessful = func(err error) bool { return err == nil || classify("", err).Kind != KindTransient }
	return &Client{
		api:     api,
		breaker: gobreaker.NewCircuitBreaker(st),
		log:     log.With().Str("component", "broker").Logger(),
	}
}

// Submit places a market bracket order for the admitted signal: stop-loss at Stop, take-profit at Target.
func (c *Client) Submit(ctx context.Context, order risk.AdmittedOrder) (OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return OrderAck{}, &ExecutionError{Kind: KindTransient, Op: "submit", Err: err}
	}
	sig := order.Signal
	qty := decimal.NewFromFloat(sig.Size).Floor()
	if !qty.IsPositive() {
		return OrderAck{}, &ExecutionError{Kind: KindRejected, Op: "submit", Err: fmt.Errorf("size %.4f rounds to zero shares", sig.Size)}
	}
	side := alpaca.Buy
	if sig.Direction == analysis.Short {
		side = alpaca.Sell
	}
	take := decimal.NewFromFloat(sig.Target).Round(2)
	stop := decimal.NewFromFloat(sig.Stop).Round(2)
	req := alpaca.PlaceOrderRequest{
		Symbol:        sig.Symbol,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: order.ClientOrderID,
		OrderClass:    alpaca.Bracket,
		TakeProfit:    &alpaca.TakeProfit{LimitPrice: &take},
		StopLoss:      &alpaca.StopLoss{StopPrice: &stop},
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.api.PlaceOrder(req)
	})
	if err != nil {
		ee := classify("submit", err)
		c.log.Error().Err(err).Str("kind", string(ee.Kind)).Str("side", string(side)).Str("symbol", sig.Symbol).
			Str("qty", qty.String()).Str("client_order_id", order.ClientOrderID).Msg("place order failed")
		return OrderAck{}, ee
	}
	placed := out.(*alpaca.Order)
	metrics.OrdersTotal.WithLabelValues(sig.Symbol, string(side)).Inc()
	c.log.Info().Str("order_id", placed.ID).Str("side", string(side)).Str("symbol", sig.Symbol).
		Str("qty", qty.String()).Str("stop", stop.String()).Str("target", take.String()).
		Str("status", string(placed.Status)).Msg("place order success")
	return OrderAck{
		ID:            placed.ID,
		ClientOrderID: placed.ClientOrderID,
		Symbol:        sig.Symbol,
		Status:        string(placed.Status),
	}, nil
}

func (c *Client) Cancel(ctx context.Context, orderID string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.api.CancelOrder(orderID)
	})
	if err != nil {
		c.log.Error().Err(err).Str("order_id", orderID).Msg("cancel order failed")
		return classify("cancel", err)
	}
	c.log.Info().Str("order_id", orderID).Msg("cancel order success")
	return nil
}

func (c *Client) OpenOrders(ctx context.Context) ([]OrderAck, error) {
	orders, err := c.api.GetOrders(alpaca.GetOrdersRequest{Status: "open"})
	if err != nil {
		c.log.Error().Err(err).Msg("fetch open orders failed")
		return nil, err
	}
	c.log.Debug().Int("count", len(orders)).Msg("open orders fetched")
	refs := make([]OrderAck, 0, len(orders))
	for _, order := range orders {
		refs = append(refs, OrderAck{
			ID:            order.ID,
			ClientOrderID: order.ClientOrderID,
			Symbol:        order.Symbol,
			Status:        string(order.Status),
		})
	}
	return refs, nil
}

func (c *Client) Position(ctx context.Context, symbol string) (Position, error) {
	pos, err := c.api.GetPosition(symbol)
	if err != nil {
		if !IsNotFound(err) {
			c.log.Error().Err(err).Str("symbol", symbol).Msg("fetch position failed")
		}
		return Position{}, err
	}
	qty := int(pos.Qty.IntPart())
	avgEntry, _ := pos.AvgEntryPrice.Float64()

	c.log.Debug().Str("symbol", symbol).Int("qty", qty).Float64("avg_entry", avgEntry).Msg("position fetched")
	return Position{
		Symbol:   pos.Symbol,
		Qty:      qty,
		AvgEntry: avgEntry,
	}, nil
}

func (c *Client) Account(ctx context.Context) (Account, error) {
	acct, err := c.api.GetAccount()
	if err != nil {
		c.log.Error().Err(err).Msg("fetch account failed")
		return Account{}, classify("account", err)
	}
	equity, _ := acct.Equity.Float64()
	buyingPower, _ := acct.BuyingPower.Float64()

	c.log.Info().Float64("equity", equity).Float64("buying_power", buyingPower).Msg("account fetched")
	return Account{Equity: equity, BuyingPower: buyingPower}, nil
}

// Verify checks that the configured credentials reach a live account.
func (c *Client) Verify(ctx context.Context) error {
	_, err := c.Account(ctx)
	return err
}

func classify(op string, err error) *ExecutionError {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &ExecutionError{Kind: KindTransient, Op: op, Err: err}
	}
	var apiErr *alpaca.APIError
	if !errors.As(err, &apiErr) {
		return &ExecutionError{Kind: KindTransient, Op: op, Err: err}
	}
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
		return &ExecutionError{Kind: KindAuth, Op: op, Err: err}
	case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= 500:
		return &ExecutionError{Kind: KindTransient, Op: op, Err: err}
	default:
		return &ExecutionError{Kind: KindRejected, Op: op, Err: err}
	}
}
