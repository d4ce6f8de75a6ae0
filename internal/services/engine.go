package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"DTokenSale/internal/events"
	"DTokenSale/internal/metrics"
	"DTokenSale/internal/models"
	"DTokenSale/internal/payments"
	"DTokenSale/internal/pricing"
	"DTokenSale/internal/store"
)

// Genesis is the state written by Initialize on an empty store.
type Genesis struct {
	Owner         common.Address
	Admin         common.Address
	Token         common.Address
	Custody       common.Address
	InitialSupply *big.Int
	NativeOracle  string
	Assets        []models.AcceptedAsset
	Balances      []GenesisBalance
}

type GenesisBalance struct {
	Asset   models.Asset
	Account common.Address
	Amount  *big.Int
}

type Options struct {
	Store     store.Store
	Oracles   *pricing.Oracles
	Converter *pricing.Converter
	Emitter   events.Emitter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Ledger binds the token ledger to a store transaction. Defaults to the
	// store-backed payments.Book.
	Ledger func(store.Tx) payments.Ledger
}

// Engine settles purchases, claims and sales against one sale. Mutating
// operations run one at a time, each inside a single store transaction.
type Engine struct {
	mu sync.Mutex

	store     store.Store
	oracles   *pricing.Oracles
	converter *pricing.Converter
	emitter   events.Emitter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	ledger    func(store.Tx) payments.Ledger
	clock     atomic.Pointer[func() int64]
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Oracles == nil {
		return nil, errors.New("oracle registry is required")
	}
	if opts.Converter == nil {
		return nil, errors.New("converter is required")
	}
	e := &Engine{
		store:     opts.Store,
		oracles:   opts.Oracles,
		converter: opts.Converter,
		emitter:   opts.Emitter,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		ledger:    opts.Ledger,
	}
	e.SetNowFunc(nil)
	if e.emitter == nil {
		e.emitter = events.NoopEmitter{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.ledger == nil {
		e.ledger = func(tx store.Tx) payments.Ledger { return payments.NewBook(tx) }
	}
	return e, nil
}

// SetNowFunc replaces the clock used for order start times and vesting.
func (e *Engine) SetNowFunc(fn func() int64) {
	if fn == nil {
		fn = func() int64 { return time.Now().Unix() }
	}
	e.clock.Store(&fn)
}

func (e *Engine) now() int64 {
	return (*e.clock.Load())()
}

// Initialize writes the genesis state unless the store already holds a sale.
// It reports whether anything was written.
func (e *Engine) Initialize(ctx context.Context, g Genesis) (bool, error) {
	for _, a := range []struct {
		name string
		addr common.Address
	}{{"owner", g.Owner}, {"admin", g.Admin}, {"token", g.Token}, {"custody", g.Custody}} {
		if a.addr == (common.Address{}) {
			return false, fmt.Errorf("genesis %s: %w", a.name, models.ErrInvalidAccount)
		}
	}
	if g.Token == g.Custody {
		return false, errors.New("genesis token and custody must differ")
	}

	created := false
	err := e.apply(ctx, "initialize", func(tx store.Tx, led payments.Ledger) ([]events.Event, error) {
		existing, err := tx.Config()
		if err == nil {
			if existing.TokenDecimals != e.converter.TokenDecimals() {
				return nil, fmt.Errorf("stored token decimals %d do not match configured %d", existing.TokenDecimals, e.converter.TokenDecimals())
			}
			return nil, nil
		}
		if !errors.Is(err, models.ErrNotInitialized) {
			return nil, err
		}

		now := e.now()
		cfg := &models.GlobalConfig{
			Owner:         g.Owner,
			Admin:         g.Admin,
			Token:         g.Token,
			Custody:       g.Custody,
			TokenDecimals: e.converter.TokenDecimals(),
			NativeOracle:  g.NativeOracle,
			SoldTokens:    big.NewInt(0),
			NextOrderID:   1,
		}
		if err := tx.PutConfig(cfg); err != nil {
			return nil, err
		}
		if g.InitialSupply != nil && g.InitialSupply.Sign() > 0 {
			if err := led.Credit(cfg.SaleToken(), cfg.Custody, g.InitialSupply); err != nil {
				return nil, fmt.Errorf("mint initial supply: %w", err)
			}
		}
		for _, a := range g.Assets {
			if a.Token == (common.Address{}) {
				return nil, fmt.Errorf("genesis asset: %w", models.ErrUnsupportedAsset)
			}
			if a.OracleID == "" {
				return nil, fmt.Errorf("genesis asset %s: %w", a.Token.Hex(), models.ErrOracleUnavailable)
			}
			if err := tx.PutAssetOracle(a.Token, a.OracleID); err != nil {
				return nil, err
			}
		}
		for _, b := range g.Balances {
			if err := led.Credit(b.Asset, b.Account, b.Amount); err != nil {
				return nil, fmt.Errorf("genesis balance %s/%s: %w", b.Asset, b.Account.Hex(), err)
			}
		}
		created = true
		return []events.Event{events.New(events.TypeInitialized, now, map[string]string{
			"owner":   cfg.Owner.Hex(),
			"admin":   cfg.Admin.Hex(),
			"token":   cfg.Token.Hex(),
			"custody": cfg.Custody.Hex(),
			"supply":  models.CopyAmount(g.InitialSupply).String(),
		})}, nil
	})
	if err != nil {
		return false, err
	}
	if created {
		e.logger.Info("sale initialized", slog.String("token", g.Token.Hex()), slog.String("custody", g.Custody.Hex()))
	}
	return created, nil
}

// apply runs fn as one serialised store transaction and emits its events
// once the transaction has committed.
func (e *Engine) apply(ctx context.Context, op string, fn func(tx store.Tx, led payments.Ledger) ([]events.Event, error)) error {
	var emitted []events.Event
	e.mu.Lock()
	err := e.store.Update(ctx, func(tx store.Tx) error {
		evs, err := fn(tx, e.ledger(tx))
		if err != nil {
			return err
		}
		emitted = evs
		return nil
	})
	e.mu.Unlock()

	e.metrics.ObserveOperation(op, err)
	if err != nil {
		e.logger.Debug("operation rejected", slog.String("op", op), slog.Any("err", err))
		return err
	}
	for _, ev := range emitted {
		e.emitter.Emit(ctx, ev)
	}
	return nil
}

// oracleFor resolves the oracle pricing asset. Unregistered fungible assets
// are a caller error rather than an oracle failure.
func oracleFor(tx store.Tx, cfg *models.GlobalConfig, asset models.Asset) (string, error) {
	if !asset.Valid() {
		return "", models.ErrUnsupportedAsset
	}
	if asset.IsNative() {
		return cfg.NativeOracle, nil
	}
	id, ok, err := tx.AssetOracle(asset.Token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrUnsupportedAsset, asset)
	}
	return id, nil
}

func requireOwner(order *models.Order, caller common.Address) error {
	if order.Buyer != caller {
		return models.ErrNotOrderOwner
	}
	return nil
}

func orderAttrs(order *models.Order) map[string]string {
	return map[string]string{
		"orderId": strconv.FormatUint(order.ID, 10),
		"buyer":   order.Buyer.Hex(),
	}
}
