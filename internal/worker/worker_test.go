package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"DTokenSale/internal/metrics"
	"DTokenSale/internal/pricing"
)

func TestSyncOnceExportsPricesAndFailures(t *testing.T) {
	oracles := pricing.NewOracles()
	oracles.Register("bnb-usd", pricing.NewStaticFeed(big.NewInt(600), 0))
	oracles.Register("dead", pricing.FeedFunc(func(context.Context) (pricing.Price, error) {
		return pricing.Price{}, errors.New("timeout")
	}))
	m := metrics.New()
	w := &Worker{
		Oracles: oracles,
		Metrics: m,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timeout: time.Second,
	}

	readings := w.SyncOnce(context.Background())
	require.Len(t, readings, 2)
	require.Equal(t, "bnb-usd", readings[0].Oracle)
	require.Equal(t, "60000000000", readings[0].Price.String())
	require.Error(t, readings[1].Err)

	w.SyncOnce(context.Background())
	require.Equal(t, 2.0, sampleValue(t, m, "sale_oracle_failures_total", "dead"))
	require.Equal(t, 600.0, sampleValue(t, m, "sale_oracle_price_usd", "bnb-usd"))
}

func sampleValue(t *testing.T, m *metrics.Metrics, name, oracle string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "oracle" && label.GetValue() == oracle {
					if metric.GetGauge() != nil {
						return metric.GetGauge().GetValue()
					}
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("no sample %s{oracle=%q}", name, oracle)
	return 0
}

func TestRunStopsOnCancel(t *testing.T) {
	oracles := pricing.NewOracles()
	oracles.Register("x", pricing.NewStaticFeed(big.NewInt(1), 0))
	w := &Worker{Oracles: oracles, Interval: time.Millisecond, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
