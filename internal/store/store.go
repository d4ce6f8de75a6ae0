package store

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"DTokenSale/internal/models"
)

// Tx is the persistent state visible to one engine operation. Every write made
// through a Tx becomes durable together when the surrounding Update returns
// nil, and is discarded otherwise.
type Tx interface {
	// Config returns models.ErrNotInitialized before the first PutConfig.
	Config() (*models.GlobalConfig, error)
	PutConfig(cfg *models.GlobalConfig) error

	AssetOracle(token common.Address) (string, bool, error)
	PutAssetOracle(token common.Address, oracleID string) error
	Assets() ([]models.AcceptedAsset, error)

	// Order returns models.ErrOrderNotFound for unknown ids.
	Order(id uint64) (*models.Order, error)
	PutOrder(order *models.Order) error
	AppendBuyerOrder(buyer common.Address, id uint64) error
	BuyerOrders(buyer common.Address) ([]uint64, error)

	Balance(asset models.Asset, account common.Address) (*big.Int, error)
	PutBalance(asset models.Asset, account common.Address, amount *big.Int) error
	Allowance(asset models.Asset, owner, spender common.Address) (*big.Int, error)
	PutAllowance(asset models.Asset, owner, spender common.Address, amount *big.Int) error
}

// Store runs functions against a transactional view of the sale state.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}
