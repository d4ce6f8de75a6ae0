package metrics

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sale collectors. A nil *Metrics ignores every observation.
type Metrics struct {
	registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	ordersTotal  prometheus.Counter
	soldTokens   prometheus.Gauge
	oraclePrice  *prometheus.GaugeVec
	oracleErrors *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sale_operations_total",
			Help: "Settlement and admin operations by name and result.",
		}, []string{"op", "result"}),
		ordersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sale_orders_created_total",
			Help: "Orders created by purchases.",
		}),
		soldTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sale_sold_tokens",
			Help: "Cumulative tokens sold, in whole tokens.",
		}),
		oraclePrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sale_oracle_price_usd",
			Help: "Last price read from each oracle, in USD.",
		}, []string{"oracle"}),
		oracleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sale_oracle_failures_total",
			Help: "Failed oracle reads by oracle.",
		}, []string{"oracle"}),
	}
	m.registry.MustRegister(m.operations, m.ordersTotal, m.soldTokens, m.oraclePrice, m.oracleErrors)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveOrder() {
	if m == nil {
		return
	}
	m.ordersTotal.Inc()
}

// SetSoldTokens records sold in whole tokens given the token's decimals.
func (m *Metrics) SetSoldTokens(sold *big.Int, decimals uint8) {
	if m == nil || sold == nil {
		return
	}
	m.soldTokens.Set(scaled(sold, decimals))
}

// ObserveOraclePrice records an 8-decimal price.
func (m *Metrics) ObserveOraclePrice(oracle string, price *big.Int) {
	if m == nil || price == nil {
		return
	}
	m.oraclePrice.WithLabelValues(oracle).Set(scaled(price, 8))
}

func (m *Metrics) ObserveOracleFailure(oracle string) {
	if m == nil {
		return
	}
	m.oracleErrors.WithLabelValues(oracle).Inc()
}

func scaled(v *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(v)
	f.Quo(f, new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	out, _ := f.Float64()
	return out
}
