package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"DTokenSale/internal/events"
	"DTokenSale/internal/models"
	"DTokenSale/internal/orders"
	"DTokenSale/internal/payments"
	"DTokenSale/internal/store"
	"DTokenSale/internal/vesting"
)

type BuyRequest struct {
	Caller common.Address
	Asset  models.Asset
	Amount *big.Int
	// Value is the native amount attached to the call. It must equal Amount
	// for native payments and be zero for token payments.
	Value *big.Int
}

// Buy takes payment from the caller into custody and records a vesting
// order for the tokens it buys at the current oracle price.
func (e *Engine) Buy(ctx context.Context, req BuyRequest) (*models.Order, error) {
	var (
		order *models.Order
		sold  *big.Int
	)
	err := e.apply(ctx, "buy", func(tx store.Tx, led payments.Ledger) ([]events.Event, error) {
		cfg, err := tx.Config()
		if err != nil {
			return nil, err
		}
		oracleID, err := oracleFor(tx, cfg, req.Asset)
		if err != nil {
			return nil, err
		}
		if req.Amount == nil || req.Amount.Sign() <= 0 {
			return nil, models.ErrZeroPayment
		}
		value := models.CopyAmount(req.Value)
		if req.Asset.IsNative() {
			if value.Cmp(req.Amount) != 0 {
				return nil, fmt.Errorf("%w: attached %s, amount %s", models.ErrZeroPayment, value, req.Amount)
			}
		} else {
			if value.Sign() != 0 {
				return nil, fmt.Errorf("%w: native value attached to a token payment", models.ErrZeroPayment)
			}
			allowance, err := led.Allowance(req.Asset, req.Caller, cfg.Custody)
			if err != nil {
				return nil, err
			}
			if allowance.Cmp(req.Amount) < 0 {
				return nil, models.ErrAllowanceMissing
			}
		}

		price, err := e.oracles.Read(ctx, oracleID)
		if err != nil {
			return nil, err
		}
		tokens, err := e.converter.ToTokens(req.Amount, price, cfg.SoldTokens)
		if err != nil {
			return nil, err
		}
		if tokens.Sign() == 0 {
			return nil, fmt.Errorf("%w: payment buys no tokens", models.ErrInvalidAmount)
		}

		if req.Asset.IsNative() {
			if err := led.Transfer(req.Asset, req.Caller, cfg.Custody, req.Amount); err != nil {
				return nil, err
			}
		} else {
			ok, err := led.TransferFrom(req.Asset, cfg.Custody, req.Caller, cfg.Custody, req.Amount)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, models.ErrAllowanceMissing
			}
		}

		now := e.now()
		order, err = orders.New(tx).CreateOrder(cfg, orders.NewOrder{
			Buyer:         req.Caller,
			PaymentAsset:  req.Asset,
			PaymentAmount: req.Amount,
			TotalAmount:   tokens,
			StartTime:     now,
			CreatedAt:     now,
		})
		if err != nil {
			return nil, err
		}
		cfg.SoldTokens = new(big.Int).Add(models.CopyAmount(cfg.SoldTokens), tokens)
		if err := tx.PutConfig(cfg); err != nil {
			return nil, err
		}
		sold = cfg.SoldTokens

		attrs := orderAttrs(order)
		attrs["asset"] = req.Asset.String()
		attrs["payment"] = req.Amount.String()
		attrs["tokens"] = tokens.String()
		attrs["price"] = price.String()
		return []events.Event{events.New(events.TypeOrderCreated, now, attrs)}, nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveOrder()
	e.metrics.SetSoldTokens(sold, e.converter.TokenDecimals())
	e.logger.Info("order created",
		slog.Uint64("order_id", order.ID),
		slog.String("buyer", order.Buyer.Hex()),
		slog.String("asset", order.PaymentAsset.String()),
		slog.String("tokens", order.TotalAmount.String()),
	)
	return order, nil
}

// ClaimTokens releases the newly unlocked part of an order to its buyer.
func (e *Engine) ClaimTokens(ctx context.Context, caller common.Address, orderID uint64) (*big.Int, error) {
	var delta *big.Int
	err := e.apply(ctx, "claim", func(tx store.Tx, led payments.Ledger) ([]events.Event, error) {
		cfg, err := tx.Config()
		if err != nil {
			return nil, err
		}
		ledger := orders.New(tx)
		order, err := ledger.Get(orderID)
		if err != nil {
			return nil, err
		}
		if err := requireOwner(order, caller); err != nil {
			return nil, err
		}
		now := e.now()
		delta = vesting.Claimable(order, now)
		if delta.Sign() == 0 {
			return nil, models.ErrStillLocked
		}
		if err := requireLiquidity(led, cfg.SaleToken(), cfg.Custody, delta); err != nil {
			return nil, err
		}

		if err := led.Transfer(cfg.SaleToken(), cfg.Custody, caller, delta); err != nil {
			return nil, err
		}
		order, err = ledger.SetClaimed(orderID, new(big.Int).Add(order.ClaimedAmount, delta))
		if err != nil {
			return nil, err
		}

		attrs := orderAttrs(order)
		attrs["amount"] = delta.String()
		attrs["claimed"] = order.ClaimedAmount.String()
		return []events.Event{events.New(events.TypeTokensClaimed, now, attrs)}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("tokens claimed", slog.Uint64("order_id", orderID), slog.String("amount", delta.String()))
	return delta, nil
}

type SellRequest struct {
	Caller  common.Address
	OrderID uint64
	Asset   models.Asset
	Amount  *big.Int
}

// SellToken buys back claimed tokens of one order, paying out in Asset at
// the current oracle price. It returns the payout.
func (e *Engine) SellToken(ctx context.Context, req SellRequest) (*big.Int, error) {
	var payout *big.Int
	err := e.apply(ctx, "sell", func(tx store.Tx, led payments.Ledger) ([]events.Event, error) {
		if req.Amount == nil || req.Amount.Sign() <= 0 {
			return nil, models.ErrInvalidAmount
		}
		cfg, err := tx.Config()
		if err != nil {
			return nil, err
		}
		ledger := orders.New(tx)
		order, err := ledger.Get(req.OrderID)
		if err != nil {
			return nil, err
		}
		if err := requireOwner(order, req.Caller); err != nil {
			return nil, err
		}
		if req.Amount.Cmp(order.ClaimedAmount) > 0 {
			return nil, models.ErrInsufficientUnlockedBalance
		}
		oracleID, err := oracleFor(tx, cfg, req.Asset)
		if err != nil {
			return nil, err
		}
		allowance, err := led.Allowance(cfg.SaleToken(), req.Caller, cfg.Custody)
		if err != nil {
			return nil, err
		}
		if allowance.Cmp(req.Amount) < 0 {
			return nil, models.ErrAllowanceMissing
		}

		price, err := e.oracles.Read(ctx, oracleID)
		if err != nil {
			return nil, err
		}
		payout, err = e.converter.ToPayment(req.Amount, price, cfg.SoldTokens)
		if err != nil {
			return nil, err
		}
		if payout.Sign() == 0 {
			return nil, fmt.Errorf("%w: sale pays out nothing", models.ErrInvalidAmount)
		}
		if err := requireLiquidity(led, req.Asset, cfg.Custody, payout); err != nil {
			return nil, err
		}

		ok, err := led.TransferFrom(cfg.SaleToken(), cfg.Custody, req.Caller, cfg.Custody, req.Amount)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, models.ErrAllowanceMissing
		}
		if err := led.Transfer(req.Asset, cfg.Custody, req.Caller, payout); err != nil {
			return nil, err
		}
		order, err = ledger.SettleSale(req.OrderID, req.Amount)
		if err != nil {
			return nil, err
		}

		attrs := orderAttrs(order)
		attrs["asset"] = req.Asset.String()
		attrs["amount"] = req.Amount.String()
		attrs["payout"] = payout.String()
		attrs["price"] = price.String()
		return []events.Event{events.New(events.TypeTokensSold, e.now(), attrs)}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("tokens sold",
		slog.Uint64("order_id", req.OrderID),
		slog.String("amount", req.Amount.String()),
		slog.String("asset", req.Asset.String()),
		slog.String("payout", payout.String()),
	)
	return payout, nil
}

// DepositLiquidity moves the caller's funds into custody so sales can be
// paid out.
func (e *Engine) DepositLiquidity(ctx context.Context, caller common.Address, asset models.Asset, amount *big.Int) error {
	return e.apply(ctx, "deposit", func(tx store.Tx, led payments.Ledger) ([]events.Event, error) {
		if !asset.Valid() {
			return nil, models.ErrUnsupportedAsset
		}
		if amount == nil || amount.Sign() <= 0 {
			return nil, models.ErrInvalidAmount
		}
		cfg, err := tx.Config()
		if err != nil {
			return nil, err
		}
		if err := led.Transfer(asset, caller, cfg.Custody, amount); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.TypeLiquidityDeposited, e.now(), map[string]string{
			"from":   caller.Hex(),
			"asset":  asset.String(),
			"amount": amount.String(),
		})}, nil
	})
}

// Approve sets how much of asset the sale may pull from owner.
func (e *Engine) Approve(ctx context.Context, owner common.Address, asset models.Asset, amount *big.Int) error {
	return e.apply(ctx, "approve", func(tx store.Tx, led payments.Ledger) ([]events.Event, error) {
		cfg, err := tx.Config()
		if err != nil {
			return nil, err
		}
		if err := led.Approve(asset, owner, cfg.Custody, amount); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.TypeApproval, e.now(), map[string]string{
			"owner":   owner.Hex(),
			"spender": cfg.Custody.Hex(),
			"asset":   asset.String(),
			"amount":  amount.String(),
		})}, nil
	})
}

func requireLiquidity(led payments.Ledger, asset models.Asset, custody common.Address, amount *big.Int) error {
	bal, err := led.BalanceOf(asset, custody)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: custody holds %s %s, needs %s", models.ErrInsufficientLiquidity, bal, asset, amount)
	}
	return nil
}
