package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"DTokenSale/internal/models"
)

// saleLockKey serialises writers across processes sharing one database.
const saleLockKey int64 = 0x445453414c45

// PostgresStore keeps the sale state in the tables created by migrations/.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, saleLockKey); err != nil {
			return err
		}
		return fn(&pgTx{ctx: ctx, tx: tx})
	})
}

func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		return fn(&pgTx{ctx: ctx, tx: tx})
	})
}

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (p *pgTx) Config() (*models.GlobalConfig, error) {
	row := p.tx.QueryRow(p.ctx, `
		SELECT owner, admin, token, custody, token_decimals,
			native_oracle, sold_tokens::text, next_order_id
		FROM sale_config WHERE id=1
	`)
	var owner, admin, token, custody, sold string
	var cfg models.GlobalConfig
	var decimals int16
	var next int64
	err := row.Scan(&owner, &admin, &token, &custody, &decimals, &cfg.NativeOracle, &sold, &next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotInitialized
		}
		return nil, err
	}
	cfg.Owner = common.HexToAddress(owner)
	cfg.Admin = common.HexToAddress(admin)
	cfg.Token = common.HexToAddress(token)
	cfg.Custody = common.HexToAddress(custody)
	cfg.TokenDecimals = uint8(decimals)
	cfg.NextOrderID = uint64(next)
	if cfg.SoldTokens, err = decodeAmount(sold); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (p *pgTx) PutConfig(cfg *models.GlobalConfig) error {
	_, err := p.tx.Exec(p.ctx, `
		INSERT INTO sale_config (
			id, owner, admin, token, custody, token_decimals,
			native_oracle, sold_tokens, next_order_id, updated_at
		) VALUES (1,$1,$2,$3,$4,$5,$6,$7::numeric,$8,now())
		ON CONFLICT (id) DO UPDATE SET
			admin=EXCLUDED.admin,
			native_oracle=EXCLUDED.native_oracle,
			sold_tokens=EXCLUDED.sold_tokens,
			next_order_id=EXCLUDED.next_order_id,
			updated_at=now()
	`,
		hexAddr(cfg.Owner),
		hexAddr(cfg.Admin),
		hexAddr(cfg.Token),
		hexAddr(cfg.Custody),
		int16(cfg.TokenDecimals),
		cfg.NativeOracle,
		models.CopyAmount(cfg.SoldTokens).String(),
		int64(cfg.NextOrderID),
	)
	return err
}

func (p *pgTx) AssetOracle(token common.Address) (string, bool, error) {
	var id string
	err := p.tx.QueryRow(p.ctx, `SELECT oracle_id FROM accepted_assets WHERE token=$1`, hexAddr(token)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

func (p *pgTx) PutAssetOracle(token common.Address, oracleID string) error {
	_, err := p.tx.Exec(p.ctx, `
		INSERT INTO accepted_assets (token, oracle_id)
		VALUES ($1,$2)
		ON CONFLICT (token) DO UPDATE SET oracle_id=EXCLUDED.oracle_id, updated_at=now()
	`, hexAddr(token), oracleID)
	return err
}

func (p *pgTx) Assets() ([]models.AcceptedAsset, error) {
	rows, err := p.tx.Query(p.ctx, `SELECT token, oracle_id FROM accepted_assets ORDER BY token`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AcceptedAsset
	for rows.Next() {
		var token, oracleID string
		if err := rows.Scan(&token, &oracleID); err != nil {
			return nil, err
		}
		out = append(out, models.AcceptedAsset{Token: common.HexToAddress(token), OracleID: oracleID})
	}
	return out, rows.Err()
}

func (p *pgTx) Order(id uint64) (*models.Order, error) {
	row := p.tx.QueryRow(p.ctx, `
		SELECT order_id, buyer, payment_asset, payment_amount::text,
			total_amount::text, start_time, claimed_amount::text,
			sold_amount::text, created_at
		FROM orders WHERE order_id=$1
	`, int64(id))

	var (
		orderID                            int64
		buyer, asset                       string
		payment, total, claimed, soldTotal string
		order                              models.Order
	)
	err := row.Scan(&orderID, &buyer, &asset, &payment, &total, &order.StartTime, &claimed, &soldTotal, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, err
	}
	order.ID = uint64(orderID)
	order.Buyer = common.HexToAddress(buyer)
	if order.PaymentAsset, err = models.ParseAsset(asset); err != nil {
		return nil, fmt.Errorf("decode order %d: %w", id, err)
	}
	for _, f := range []struct {
		dst **big.Int
		src string
	}{
		{&order.PaymentAmount, payment},
		{&order.TotalAmount, total},
		{&order.ClaimedAmount, claimed},
		{&order.SoldAmount, soldTotal},
	} {
		v, err := decodeAmount(f.src)
		if err != nil {
			return nil, fmt.Errorf("decode order %d: %w", id, err)
		}
		*f.dst = v
	}
	return &order, nil
}

func (p *pgTx) PutOrder(order *models.Order) error {
	_, err := p.tx.Exec(p.ctx, `
		INSERT INTO orders (
			order_id, buyer, payment_asset, payment_amount, total_amount,
			start_time, claimed_amount, sold_amount, created_at
		) VALUES ($1,$2,$3,$4::numeric,$5::numeric,$6,$7::numeric,$8::numeric,$9)
		ON CONFLICT (order_id) DO UPDATE SET
			start_time=EXCLUDED.start_time,
			claimed_amount=EXCLUDED.claimed_amount,
			sold_amount=EXCLUDED.sold_amount,
			updated_at=now()
	`,
		int64(order.ID),
		hexAddr(order.Buyer),
		order.PaymentAsset.String(),
		models.CopyAmount(order.PaymentAmount).String(),
		models.CopyAmount(order.TotalAmount).String(),
		order.StartTime,
		models.CopyAmount(order.ClaimedAmount).String(),
		models.CopyAmount(order.SoldAmount).String(),
		order.CreatedAt,
	)
	return err
}

// AppendBuyerOrder is implied by the buyer column of orders.
func (p *pgTx) AppendBuyerOrder(common.Address, uint64) error { return nil }

func (p *pgTx) BuyerOrders(buyer common.Address) ([]uint64, error) {
	rows, err := p.tx.Query(p.ctx, `SELECT order_id FROM orders WHERE buyer=$1 ORDER BY order_id`, hexAddr(buyer))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

func (p *pgTx) Balance(asset models.Asset, account common.Address) (*big.Int, error) {
	return p.amount(`SELECT amount::text FROM balances WHERE asset=$1 AND account=$2`, asset.String(), hexAddr(account))
}

func (p *pgTx) PutBalance(asset models.Asset, account common.Address, amount *big.Int) error {
	if amount != nil && amount.Sign() < 0 {
		return models.ErrInvalidAmount
	}
	_, err := p.tx.Exec(p.ctx, `
		INSERT INTO balances (asset, account, amount)
		VALUES ($1,$2,$3::numeric)
		ON CONFLICT (asset, account) DO UPDATE SET amount=EXCLUDED.amount
	`, asset.String(), hexAddr(account), models.CopyAmount(amount).String())
	return err
}

func (p *pgTx) Allowance(asset models.Asset, owner, spender common.Address) (*big.Int, error) {
	return p.amount(`SELECT amount::text FROM allowances WHERE asset=$1 AND owner=$2 AND spender=$3`,
		asset.String(), hexAddr(owner), hexAddr(spender))
}

func (p *pgTx) PutAllowance(asset models.Asset, owner, spender common.Address, amount *big.Int) error {
	if amount != nil && amount.Sign() < 0 {
		return models.ErrInvalidAmount
	}
	_, err := p.tx.Exec(p.ctx, `
		INSERT INTO allowances (asset, owner, spender, amount)
		VALUES ($1,$2,$3,$4::numeric)
		ON CONFLICT (asset, owner, spender) DO UPDATE SET amount=EXCLUDED.amount
	`, asset.String(), hexAddr(owner), hexAddr(spender), models.CopyAmount(amount).String())
	return err
}

func (p *pgTx) amount(query string, args ...any) (*big.Int, error) {
	var v string
	if err := p.tx.QueryRow(p.ctx, query, args...).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	return decodeAmount(v)
}

func hexAddr(a common.Address) string {
	return strings.ToLower(a.Hex())
}
