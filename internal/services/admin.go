package services

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"DTokenSale/internal/events"
	"DTokenSale/internal/models"
	"DTokenSale/internal/orders"
	"DTokenSale/internal/payments"
	"DTokenSale/internal/store"
)

// adminOp runs fn after checking that caller is the current admin.
func (e *Engine) adminOp(ctx context.Context, op string, caller common.Address, fn func(tx store.Tx, cfg *models.GlobalConfig) (events.Event, error)) error {
	return e.apply(ctx, op, func(tx store.Tx, _ payments.Ledger) ([]events.Event, error) {
		cfg, err := tx.Config()
		if err != nil {
			return nil, err
		}
		if caller != cfg.Admin {
			return nil, models.ErrNotAdmin
		}
		ev, err := fn(tx, cfg)
		if err != nil {
			return nil, err
		}
		ev.Attributes["by"] = caller.Hex()
		return []events.Event{ev}, nil
	})
}

// ChangeAdmin hands the admin role to next in one step.
func (e *Engine) ChangeAdmin(ctx context.Context, caller, next common.Address) error {
	err := e.adminOp(ctx, "change_admin", caller, func(tx store.Tx, cfg *models.GlobalConfig) (events.Event, error) {
		if next == (common.Address{}) {
			return events.Event{}, models.ErrInvalidAccount
		}
		prev := cfg.Admin
		cfg.Admin = next
		if err := tx.PutConfig(cfg); err != nil {
			return events.Event{}, err
		}
		return events.New(events.TypeAdminChanged, e.now(), map[string]string{
			"previous": prev.Hex(),
			"admin":    next.Hex(),
		}), nil
	})
	if err == nil {
		e.logger.Info("admin changed", slog.String("admin", next.Hex()))
	}
	return err
}

func (e *Engine) SetNativeOracle(ctx context.Context, caller common.Address, oracleID string) error {
	oracleID = strings.TrimSpace(oracleID)
	return e.adminOp(ctx, "set_native_oracle", caller, func(tx store.Tx, cfg *models.GlobalConfig) (events.Event, error) {
		if oracleID == "" {
			return events.Event{}, models.ErrOracleUnavailable
		}
		cfg.NativeOracle = oracleID
		if err := tx.PutConfig(cfg); err != nil {
			return events.Event{}, err
		}
		return events.New(events.TypeNativeOracleSet, e.now(), map[string]string{"oracle": oracleID}), nil
	})
}

// RegisterAsset accepts token as payment priced by oracleID, replacing any
// previous oracle for it.
func (e *Engine) RegisterAsset(ctx context.Context, caller, token common.Address, oracleID string) error {
	oracleID = strings.TrimSpace(oracleID)
	return e.adminOp(ctx, "register_asset", caller, func(tx store.Tx, _ *models.GlobalConfig) (events.Event, error) {
		if token == (common.Address{}) {
			return events.Event{}, models.ErrUnsupportedAsset
		}
		if oracleID == "" {
			return events.Event{}, models.ErrOracleUnavailable
		}
		if err := tx.PutAssetOracle(token, oracleID); err != nil {
			return events.Event{}, err
		}
		return events.New(events.TypeAssetRegistered, e.now(), map[string]string{
			"asset":  models.Fungible(token).String(),
			"oracle": oracleID,
		}), nil
	})
}

// ChangeTimeline moves the vesting start of an order.
func (e *Engine) ChangeTimeline(ctx context.Context, caller common.Address, orderID uint64, start int64) error {
	return e.adminOp(ctx, "change_timeline", caller, func(tx store.Tx, _ *models.GlobalConfig) (events.Event, error) {
		order, err := orders.New(tx).SetStartTime(orderID, start)
		if err != nil {
			return events.Event{}, err
		}
		attrs := orderAttrs(order)
		attrs["startTime"] = strconv.FormatInt(start, 10)
		return events.New(events.TypeTimelineChanged, e.now(), attrs), nil
	})
}
