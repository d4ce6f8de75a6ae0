package worker

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"DTokenSale/internal/metrics"
	"DTokenSale/internal/models"
	"DTokenSale/internal/pricing"
)

// Reading is the outcome of one oracle read.
type Reading struct {
	Oracle string
	Price  *big.Int
	Err    error
}

// Worker polls every registered oracle on a fixed interval and exports the
// results. It never writes sale state.
type Worker struct {
	Oracles  *pricing.Oracles
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Interval time.Duration
	Timeout  time.Duration
}

func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		w.SyncOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce reads each oracle once and returns the readings in id order.
func (w *Worker) SyncOnce(ctx context.Context) []Reading {
	ids := w.Oracles.IDs()
	out := make([]Reading, 0, len(ids))
	failed := 0
	for _, id := range ids {
		r := w.read(ctx, id)
		if r.Err != nil {
			failed++
			w.Metrics.ObserveOracleFailure(id)
			w.logger().Warn("oracle read failed", slog.String("oracle", id), slog.Any("err", r.Err))
		} else {
			w.Metrics.ObserveOraclePrice(id, r.Price)
			w.logger().Debug("oracle price",
				slog.String("oracle", id),
				slog.String("usd", models.FormatUnits(r.Price, pricing.OracleDecimals)))
		}
		out = append(out, r)
	}
	w.logger().Info("oracle sync", slog.Int("oracles", len(ids)), slog.Int("failed", failed))
	return out
}

func (w *Worker) read(ctx context.Context, id string) Reading {
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}
	price, err := w.Oracles.Read(ctx, id)
	return Reading{Oracle: id, Price: price, Err: err}
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}
