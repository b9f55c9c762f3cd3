package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigworker/internal/analysis"
	"sigworker/internal/risk"
	"sigworker/internal/signal"
)

type fakeAPI struct {
	placed    []alpaca.PlaceOrderRequest
	placeErr  error
	cancelled []string
	position  *alpaca.Position
	posErr    error
	account   *alpaca.Account
	acctErr   error
	orders    []alpaca.Order
}

func (f *fakeAPI) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return &alpaca.Order{ID: "ord-1", ClientOrderID: req.ClientOrderID, Symbol: req.Symbol, Status: "accepted"}, nil
}

func (f *fakeAPI) CancelOrder(orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeAPI) GetOrders(alpaca.GetOrdersRequest) ([]alpaca.Order, error) { return f.orders, nil }

func (f *fakeAPI) GetPosition(string) (*alpaca.Position, error) { return f.position, f.posErr }

func (f *fakeAPI) GetAccount() (*alpaca.Account, error) { return f.account, f.acctErr }

func admitted(dir analysis.Direction, size float64) risk.AdmittedOrder {
	return risk.AdmittedOrder{
		Reservation:   risk.Reservation{ID: "res-1", Symbol: "AAPL", Size: size},
		Signal:        signal.Signal{Symbol: "AAPL", Direction: dir, Entry: 100, Stop: 98.004, Target: 103.996, Size: size},
		ClientOrderID: "run-1",
	}
}

func TestSubmitPlacesBracketOrder(t *testing.T) {
	api := &fakeAPI{}
	client := newClient(api, zerolog.Nop())

	ack, err := client.Submit(context.Background(), admitted(analysis.Long, 12.7))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", ack.ID)
	assert.Equal(t, "run-1", ack.ClientOrderID)

	require.Len(t, api.placed, 1)
	req := api.placed[0]
	assert.Equal(t, alpaca.Buy, req.Side)
	assert.Equal(t, alpaca.Bracket, req.OrderClass)
	assert.True(t, req.Qty.Equal(decimal.NewFromInt(12)), "qty %s", req.Qty)
	assert.Equal(t, "98", req.StopLoss.StopPrice.String())
	assert.Equal(t, "104", req.TakeProfit.LimitPrice.String())
}

func TestSubmitShortSells(t *testing.T) {
	api := &fakeAPI{}
	_, err := newClient(api, zerolog.Nop()).Submit(context.Background(), admitted(analysis.Short, 3))
	require.NoError(t, err)
	assert.Equal(t, alpaca.Sell, api.placed[0].Side)
}

func TestSubmitRejectsFractionalBelowOneShare(t *testing.T) {
	api := &fakeAPI{}
	_, err := newClient(api, zerolog.Nop()).Submit(context.Background(), admitted(analysis.Long, 0.4))
	kind, ok := Kind(err)
	require.True(t, ok)
	assert.Equal(t, KindRejected, kind)
	assert.Empty(t, api.placed)
}

func TestSubmitClassifiesBrokerErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"unauthorized", &alpaca.APIError{StatusCode: 401}, KindAuth},
		{"forbidden", &alpaca.APIError{StatusCode: 403}, KindAuth},
		{"unprocessable", &alpaca.APIError{StatusCode: 422, Message: "insufficient qty"}, KindRejected},
		{"rate limited", &alpaca.APIError{StatusCode: 429}, KindTransient},
		{"server error", &alpaca.APIError{StatusCode: 503}, KindTransient},
		{"network", errors.New("dial tcp: i/o timeout"), KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newClient(&fakeAPI{placeErr: tc.err}, zerolog.Nop())
			_, err := client.Submit(context.Background(), admitted(analysis.Long, 5))
			var ee *ExecutionError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tc.want, ee.Kind)
			assert.Equal(t, tc.want == KindTransient, ee.Retryable())
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestSubmitOpensBreakerAfterRepeatedOutages(t *testing.T) {
	api := &fakeAPI{placeErr: &alpaca.APIError{StatusCode: 503}}
	client := newClient(api, zerolog.Nop())
	for i := 0; i < 3; i++ {
		_, _ = client.Submit(context.Background(), admitted(analysis.Long, 5))
	}
	_, err := client.Submit(context.Background(), admitted(analysis.Long, 5))
	kind, _ := Kind(err)
	assert.Equal(t, KindTransient, kind)
	assert.Len(t, api.placed, 3, "open breaker must short-circuit the call")
}

func TestSubmitHonoursCancelledContext(t *testing.T) {
	api := &fakeAPI{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newClient(api, zerolog.Nop()).Submit(ctx, admitted(analysis.Long, 5))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, api.placed)
}

func TestVerifyFailsOnBadCredentials(t *testing.T) {
	client := newClient(&fakeAPI{acctErr: &alpaca.APIError{StatusCode: 401}}, zerolog.Nop())
	err := client.Verify(context.Background())
	kind, ok := Kind(err)
	require.True(t, ok)
	assert.Equal(t, KindAuth, kind)
}

func TestPositionNotFound(t *testing.T) {
	client := newClient(&fakeAPI{posErr: &alpaca.APIError{StatusCode: 404}}, zerolog.Nop())
	_, err := client.Position(context.Background(), "AAPL")
	assert.True(t, IsNotFound(err))
}

func TestCancelAndOpenOrders(t *testing.T) {
	api := &fakeAPI{orders: []alpaca.Order{{ID: "a", ClientOrderID: "c", Symbol: "MSFT", Status: "new"}}}
	client := newClient(api, zerolog.Nop())

	require.NoError(t, client.Cancel(context.Background(), "a"))
	assert.Equal(t, []string{"a"}, api.cancelled)

	open, err := client.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "MSFT", open[0].Symbol)
}
