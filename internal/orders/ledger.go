package orders

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"DTokenSale/internal/models"
	"DTokenSale/internal/store"
)

// Ledger is the order table seen through one store transaction.
type Ledger struct {
	tx store.Tx
}

func New(tx store.Tx) *Ledger {
	return &Ledger{tx: tx}
}

// NewOrder describes a purchase to record.
type NewOrder struct {
	Buyer         common.Address
	PaymentAsset  models.Asset
	PaymentAmount *big.Int
	TotalAmount   *big.Int
	StartTime     int64
	CreatedAt     int64
}

// FirstOrderID is the id of the first order ever created.
const FirstOrderID uint64 = 1

// CreateOrder assigns cfg.NextOrderID to the new order, advances the counter
// and persists both the order and cfg.
func (l *Ledger) CreateOrder(cfg *models.GlobalConfig, req NewOrder) (*models.Order, error) {
	if req.TotalAmount == nil || req.TotalAmount.Sign() <= 0 {
		return nil, models.ErrInvalidAmount
	}
	if cfg.NextOrderID < FirstOrderID {
		cfg.NextOrderID = FirstOrderID
	}
	order := &models.Order{
		ID:            cfg.NextOrderID,
		Buyer:         req.Buyer,
		PaymentAsset:  req.PaymentAsset,
		PaymentAmount: models.CopyAmount(req.PaymentAmount),
		TotalAmount:   new(big.Int).Set(req.TotalAmount),
		StartTime:     req.StartTime,
		ClaimedAmount: big.NewInt(0),
		SoldAmount:    big.NewInt(0),
		CreatedAt:     req.CreatedAt,
	}
	if err := l.tx.PutOrder(order); err != nil {
		return nil, err
	}
	if err := l.tx.AppendBuyerOrder(order.Buyer, order.ID); err != nil {
		return nil, err
	}
	cfg.NextOrderID++
	if err := l.tx.PutConfig(cfg); err != nil {
		return nil, err
	}
	return order, nil
}

func (l *Ledger) Get(id uint64) (*models.Order, error) {
	order, err := l.tx.Order(id)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// OrdersOf returns the buyer's orders in ascending id order.
func (l *Ledger) OrdersOf(buyer common.Address) ([]*models.Order, error) {
	ids, err := l.tx.BuyerOrders(buyer)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		order, err := l.tx.Order(id)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", id, err)
		}
		out = append(out, order)
	}
	return out, nil
}

// SetClaimed overwrites the claimed amount of an order.
func (l *Ledger) SetClaimed(id uint64, claimed *big.Int) (*models.Order, error) {
	return l.mutate(id, func(o *models.Order) {
		o.ClaimedAmount = models.CopyAmount(claimed)
	})
}

func (l *Ledger) SetStartTime(id uint64, start int64) (*models.Order, error) {
	return l.mutate(id, func(o *models.Order) {
		o.StartTime = start
	})
}

// SettleSale moves amount from the claimed to the sold bucket of an order.
func (l *Ledger) SettleSale(id uint64, amount *big.Int) (*models.Order, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, models.ErrInvalidAmount
	}
	return l.mutate(id, func(o *models.Order) {
		o.ClaimedAmount = new(big.Int).Sub(models.CopyAmount(o.ClaimedAmount), amount)
		o.SoldAmount = new(big.Int).Add(models.CopyAmount(o.SoldAmount), amount)
	})
}

// CurrentOrderID is the id the next order will receive.
func (l *Ledger) CurrentOrderID() (uint64, error) {
	cfg, err := l.tx.Config()
	if err != nil {
		return 0, err
	}
	if cfg.NextOrderID < FirstOrderID {
		return FirstOrderID, nil
	}
	return cfg.NextOrderID, nil
}

func (l *Ledger) mutate(id uint64, fn func(*models.Order)) (*models.Order, error) {
	order, err := l.tx.Order(id)
	if err != nil {
		return nil, err
	}
	fn(order)
	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("order %d: %w", id, err)
	}
	if err := l.tx.PutOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}
