// Package app wires configuration into the sale's runtime dependencies.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"DTokenSale/internal/chain"
	"DTokenSale/internal/config"
	"DTokenSale/internal/db"
	"DTokenSale/internal/events"
	"DTokenSale/internal/metrics"
	"DTokenSale/internal/models"
	"DTokenSale/internal/pricing"
	"DTokenSale/internal/services"
	"DTokenSale/internal/store"
)

// Deps are the long-lived objects shared by the API process.
type Deps struct {
	Store   store.Store
	Oracles *pricing.Oracles
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Engine  *services.Engine
}

// Wire opens the store, builds the oracle registry and the engine, and writes
// the genesis state on first start. The returned cleanup releases everything
// in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Deps, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	st, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("app: open store: %w", err))
	}
	closers = append(closers, closeStore)

	oracles, closeOracles, err := BuildOracles(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("app: oracles: %w", err))
	}
	closers = append(closers, closeOracles)

	conv, err := BuildConverter(cfg.Sale)
	if err != nil {
		return fail(fmt.Errorf("app: converter: %w", err))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	bus := events.NewBus(events.LogSink{Logger: logger.With(slog.String("component", "events"))})
	if cfg.Redis.Addr != "" {
		rdb, err := events.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		bus.AddSink(events.NewRedisSink(rdb, cfg.Redis.Channel, logger))
		logger.Info("publishing events to redis", slog.String("addr", cfg.Redis.Addr), slog.String("channel", cfg.Redis.Channel))
	}

	engine, err := services.NewEngine(services.Options{
		Store:     st,
		Oracles:   oracles,
		Converter: conv,
		Emitter:   bus,
		Metrics:   m,
		Logger:    logger.With(slog.String("component", "engine")),
	})
	if err != nil {
		return fail(err)
	}

	genesis, err := BuildGenesis(cfg)
	if err != nil {
		return fail(fmt.Errorf("app: genesis: %w", err))
	}
	created, err := engine.Initialize(ctx, genesis)
	if err != nil {
		return fail(fmt.Errorf("app: initialize: %w", err))
	}
	sold, err := engine.SoldTokens(ctx)
	if err != nil {
		return fail(err)
	}
	m.SetSoldTokens(sold, conv.TokenDecimals())
	logger.Info("sale ready",
		slog.Bool("initialized_now", created),
		slog.String("store", cfg.Store.Driver),
		slog.String("sold_tokens", sold.String()),
		slog.Any("oracles", oracles.IDs()),
	)

	return &Deps{Store: st, Oracles: oracles, Bus: bus, Metrics: m, Engine: engine}, cleanup, nil
}

// OpenStore opens the configured persistence backend.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgres(pool), pool.Close, nil
	default:
		if dir := filepath.Dir(cfg.Store.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		st, err := store.OpenBolt(cfg.Store.Path, nil)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	}
}

// BuildOracles registers every configured feed. Chainlink feeds share one
// failover RPC client, dialled only when such a feed is configured.
func BuildOracles(ctx context.Context, cfg *config.Config) (*pricing.Oracles, func(), error) {
	oracles := pricing.NewOracles()
	var rpc *chain.MultiCaller
	cleanup := func() {
		if rpc != nil {
			rpc.Close()
		}
	}
	for _, o := range cfg.Oracles {
		switch o.Kind {
		case config.OracleStatic:
			v, err := models.ParseUnits(o.Value, pricing.OracleDecimals)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("oracle %s: %w", o.ID, err)
			}
			oracles.Register(o.ID, pricing.NewStaticFeed(v, pricing.OracleDecimals))
		case config.OracleHTTP:
			oracles.Register(o.ID, pricing.NewHTTPFeed(o.URL, time.Duration(o.TimeoutSeconds)*time.Second))
		case config.OracleChainlink:
			if rpc == nil {
				var err error
				rpc, err = chain.DialMulti(ctx, cfg.Chain.RPCEndpoints, cfg.Chain.RPCFailoverThreshold)
				if err != nil {
					return nil, nil, fmt.Errorf("oracle %s: %w", o.ID, err)
				}
			}
			oracles.Register(o.ID, chain.NewAggregatorFeed(rpc, common.HexToAddress(o.Address)))
		default:
			cleanup()
			return nil, nil, fmt.Errorf("oracle %s: unknown kind %q", o.ID, o.Kind)
		}
	}
	return oracles, cleanup, nil
}

func BuildConverter(sale config.SaleConfig) (*pricing.Converter, error) {
	unit, err := pricing.ParseUSD(sale.UnitPriceUSD)
	if err != nil {
		return nil, err
	}
	tiers := make([]pricing.Tier, 0, len(sale.Tiers))
	for _, t := range sale.Tiers {
		threshold, err := models.ParseUnits(t.FromSold, sale.TokenDecimals)
		if err != nil {
			return nil, err
		}
		price, err := pricing.ParseUSD(t.PriceUSD)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, pricing.Tier{Threshold: threshold, UnitPrice: price})
	}
	return pricing.NewConverter(unit, sale.TokenDecimals, tiers)
}

func BuildGenesis(cfg *config.Config) (services.Genesis, error) {
	g := cfg.Genesis
	supply, err := models.ParseUnits(g.InitialSupply, cfg.Sale.TokenDecimals)
	if err != nil {
		return services.Genesis{}, fmt.Errorf("initial_supply: %w", err)
	}
	out := services.Genesis{
		Owner:         hexAddress(g.Owner),
		Admin:         hexAddress(g.Admin),
		Token:         hexAddress(g.Token),
		Custody:       hexAddress(g.Custody),
		InitialSupply: supply,
		NativeOracle:  strings.TrimSpace(g.NativeOracle),
	}
	for _, a := range cfg.Assets {
		out.Assets = append(out.Assets, models.AcceptedAsset{Token: hexAddress(a.Token), OracleID: strings.TrimSpace(a.Oracle)})
	}
	for _, b := range g.Balances {
		asset, err := models.ParseAsset(b.Asset)
		if err != nil {
			return services.Genesis{}, err
		}
		amount, err := models.ParseUnits(b.Amount, b.AssetDecimals())
		if err != nil {
			return services.Genesis{}, fmt.Errorf("balance %s: %w", b.Account, err)
		}
		out.Balances = append(out.Balances, services.GenesisBalance{Asset: asset, Account: hexAddress(b.Account), Amount: amount})
	}
	return out, nil
}

func hexAddress(s string) common.Address {
	return common.HexToAddress(strings.TrimSpace(s))
}
