package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sigworker/internal/broker"
)

// PositionSource is the read side of the broker used to detect closed positions.
type PositionSource interface {
	OpenOrders(ctx context.Context) ([]broker.OrderAck, error)
	Position(ctx context.Context, symbol string) (broker.Position, error)
}

// ReconcileLoop releases reservations whose broker position has closed. A reservation is only
// considered once it is older than interval, so a freshly submitted order is never mistaken for a
// closed one.
func ReconcileLoop(ctx context.Context, src PositionSource, w *Worker, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log = log.With().Str("component", "reconciler").Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reconcileOnce(ctx, src, w, interval, time.Now(), log)
		}
	}
}

func reconcileOnce(ctx context.Context, src PositionSource, w *Worker, minAge time.Duration, now time.Time, log zerolog.Logger) int {
	reservations := w.Reservations()
	if len(reservations) == 0 {
		return 0
	}

	orders, err := src.OpenOrders(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reconcile open orders failed")
		return 0
	}
	working := make(map[string]struct{}, len(orders))
	for _, order := range orders {
		working[order.Symbol] = struct{}{}
	}

	released := 0
	for _, res := range reservations {
		if now.Sub(res.ReservedAt) < minAge {
			continue
		}
		if _, ok := working[res.Symbol]; ok {
			continue
		}
		position, err := src.Position(ctx, res.Symbol)
		switch {
		case err == nil && position.Qty != 0:
			continue
		case err != nil && !broker.IsNotFound(err):
			log.Error().Err(err).Str("symbol", res.Symbol).Msg("reconcile position failed")
			continue
		}
		if w.Release(res.ID) {
			released++
			log.Info().Str("symbol", res.Symbol).Str("reservation", res.ID).Msg("position closed, reservation released")
		}
	}
	return released
}
