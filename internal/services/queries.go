package services

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"DTokenSale/internal/models"
	"DTokenSale/internal/orders"
	"DTokenSale/internal/pricing"
	"DTokenSale/internal/store"
	"DTokenSale/internal/vesting"
)

// OrderView is an order together with its vesting position at AsOf.
type OrderView struct {
	Order      *models.Order
	Unlocked   *big.Int
	Claimable  *big.Int
	NextUnlock int64
	AsOf       int64
}

func (e *Engine) view(order *models.Order, now int64) OrderView {
	return OrderView{
		Order:      order,
		Unlocked:   vesting.Unlocked(order.TotalAmount, order.StartTime, now),
		Claimable:  vesting.Claimable(order, now),
		NextUnlock: vesting.NextUnlock(order.StartTime, now),
		AsOf:       now,
	}
}

func (e *Engine) OrderDetails(ctx context.Context, orderID uint64) (OrderView, error) {
	var out OrderView
	err := e.store.View(ctx, func(tx store.Tx) error {
		order, err := orders.New(tx).Get(orderID)
		if err != nil {
			return err
		}
		out = e.view(order, e.now())
		return nil
	})
	return out, err
}

// OrdersOf returns the buyer's order ids in creation order.
func (e *Engine) OrdersOf(ctx context.Context, buyer common.Address) ([]uint64, error) {
	var ids []uint64
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.BuyerOrders(buyer)
		return err
	})
	return ids, err
}

// OrderViewsOf is OrdersOf with each order's details.
func (e *Engine) OrderViewsOf(ctx context.Context, buyer common.Address) ([]OrderView, error) {
	var out []OrderView
	err := e.store.View(ctx, func(tx store.Tx) error {
		list, err := orders.New(tx).OrdersOf(buyer)
		if err != nil {
			return err
		}
		now := e.now()
		out = make([]OrderView, 0, len(list))
		for _, o := range list {
			out = append(out, e.view(o, now))
		}
		return nil
	})
	return out, err
}

func (e *Engine) Claimable(ctx context.Context, orderID uint64) (*big.Int, error) {
	v, err := e.OrderDetails(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return v.Claimable, nil
}

func (e *Engine) CurrentOrderID(ctx context.Context) (uint64, error) {
	var id uint64
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		id, err = orders.New(tx).CurrentOrderID()
		return err
	})
	return id, err
}

func (e *Engine) SoldTokens(ctx context.Context) (*big.Int, error) {
	cfg, err := e.Config(ctx)
	if err != nil {
		return nil, err
	}
	return models.CopyAmount(cfg.SoldTokens), nil
}

func (e *Engine) Config(ctx context.Context) (*models.GlobalConfig, error) {
	var cfg *models.GlobalConfig
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		cfg, err = tx.Config()
		return err
	})
	return cfg, err
}

func (e *Engine) Assets(ctx context.Context) ([]models.AcceptedAsset, error) {
	var out []models.AcceptedAsset
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Assets()
		return err
	})
	return out, err
}

func (e *Engine) BalanceOf(ctx context.Context, asset models.Asset, account common.Address) (*big.Int, error) {
	if !asset.Valid() {
		return nil, models.ErrUnsupportedAsset
	}
	var bal *big.Int
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		bal, err = e.ledger(tx).BalanceOf(asset, account)
		return err
	})
	return bal, err
}

// Allowance is what the sale may still pull from owner.
func (e *Engine) Allowance(ctx context.Context, asset models.Asset, owner common.Address) (*big.Int, error) {
	if !asset.Valid() {
		return nil, models.ErrUnsupportedAsset
	}
	var out *big.Int
	err := e.store.View(ctx, func(tx store.Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		out, err = e.ledger(tx).Allowance(asset, owner, cfg.Custody)
		return err
	})
	return out, err
}

// Pricing reports the unit price in force for the next purchase.
func (e *Engine) Pricing(ctx context.Context) (pricing.Snapshot, error) {
	sold, err := e.SoldTokens(ctx)
	if err != nil {
		return pricing.Snapshot{}, err
	}
	return e.converter.Snapshot(sold), nil
}

// OraclePrice reads the 8-decimal price currently pricing asset.
func (e *Engine) OraclePrice(ctx context.Context, asset models.Asset) (*big.Int, error) {
	var oracleID string
	err := e.store.View(ctx, func(tx store.Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		oracleID, err = oracleFor(tx, cfg, asset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.oracles.Read(ctx, oracleID)
}
