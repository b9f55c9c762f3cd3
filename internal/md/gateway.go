package md

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

type GatewayConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string
	Timeframe string
	RateLimit float64
	RateBurst int
}

type barsFunc func(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)

// AlpacaGateway serves snapshots from the Alpaca bars endpoint behind a token bucket and a circuit breaker.
type AlpacaGateway struct {
	bars      barsFunc
	feed      marketdata.Feed
	timeframe marketdata.TimeFrame
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	log       zerolog.Logger
	now       func() time.Time
}

func NewAlpacaGateway(cfg GatewayConfig, log zerolog.Logger) (*AlpacaGateway, error) {
	tf, err := ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return nil, err
	}
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	return newGateway(client.GetBars, cfg, tf, log), nil
}

func newGateway(bars barsFunc, cfg GatewayConfig, tf marketdata.TimeFrame, log zerolog.Logger) *AlpacaGateway {
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &AlpacaGateway{
		bars:      bars,
		feed:      parseFeed(cfg.Feed),
		timeframe: tf,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), burst),
		breaker:   newBreaker("marketdata"),
		log:       log.With().Str("component", "marketdata").Logger(),
		now:       time.Now,
	}
}

// FetchSnapshot returns the trailing lookback bars for symbol. Failures wrap ErrDataUnavailable
// unless ctx itself ended, in which case ctx.Err() is returned.
func (g *AlpacaGateway) FetchSnapshot(ctx context.Context, symbol string, lookback int) (*Snapshot, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	now := g.now().UTC()
	req := marketdata.GetBarsRequest{
		TimeFrame: g.timeframe,
		Start:     now.Add(-g.span(lookback)),
		Feed:      g.feed,
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.bars(symbol, req)
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		classified := classifyDataError(err)
		g.log.Warn().Err(err).Str("symbol", symbol).Str("code", Code(classified)).Msg("fetch bars failed")
		return nil, fmt.Errorf("fetch %s bars: %w", symbol, classified)
	}

	raw := out.([]marketdata.Bar)
	if len(raw) == 0 {
		return nil, fmt.Errorf("fetch %s bars: %w", symbol, ErrNotFound)
	}
	if len(raw) > lookback {
		raw = raw[len(raw)-lookback:]
	}
	bars := make([]Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, Bar{
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}
	g.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("snapshot fetched")
	return &Snapshot{Symbol: symbol, FetchedAt: now, Bars: bars}, nil
}

// span covers lookback bars plus enough slack for nights and weekends.
func (g *AlpacaGateway) span(lookback int) time.Duration {
	var unit time.Duration
	switch g.timeframe.Unit {
	case marketdata.Min:
		unit = time.Minute
	case marketdata.Hour:
		unit = time.Hour
	default:
		unit = 24 * time.Hour
	}
	return time.Duration(lookback*g.timeframe.N)*unit*2 + 96*time.Hour
}

func classifyDataError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrNetwork
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return ErrRateLimited
		case apiErr.StatusCode == http.StatusNotFound, apiErr.StatusCode == http.StatusUnprocessableEntity:
			return ErrNotFound
		}
	}
	return ErrNetwork
}

func ParseTimeframe(value string) (marketdata.TimeFrame, error) {
	switch strings.TrimSpace(value) {
	case "", "1Min":
		return marketdata.OneMin, nil
	case "5Min":
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case "15Min":
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case "1Hour":
		return marketdata.OneHour, nil
	case "1Day":
		return marketdata.OneDay, nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe: %s", value)
	}
}

func parseFeed(feed string) marketdata.Feed {
	switch feed {
	case "sip":
		return marketdata.SIP
	default:
		return marketdata.IEX
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 5 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.5
	}
	// not_found is a property of the symbol, not of the upstream.
	st.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(classifyDataError(err), ErrNotFound)
	}
	return gobreaker.NewCircuitBreaker(st)
}
