package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"

	"DTokenSale/internal/models"
)

var (
	bucketConfig      = []byte("config")
	bucketAssets      = []byte("assets")
	bucketOrders      = []byte("orders")
	bucketBuyerOrders = []byte("buyer_orders")
	bucketBalances    = []byte("balances")
	bucketAllowances  = []byte("allowances")

	keyGlobalConfig = []byte("global")
)

// BoltStore keeps the sale state in a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (and creates the buckets of) the database at path.
func OpenBolt(path string, options *bolt.Options) (*BoltStore, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketConfig, bucketAssets, bucketOrders, bucketBuyerOrders, bucketBalances, bucketAllowances} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *BoltStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

type boltTx struct {
	tx *bolt.Tx
}

type configRecord struct {
	Owner         common.Address `json:"owner"`
	Admin         common.Address `json:"admin"`
	Token         common.Address `json:"token"`
	Custody       common.Address `json:"custody"`
	TokenDecimals uint8          `json:"tokenDecimals"`
	NativeOracle  string         `json:"nativeOracle"`
	SoldTokens    string         `json:"soldTokens"`
	NextOrderID   uint64         `json:"nextOrderId"`
}

type orderRecord struct {
	ID            uint64         `json:"id"`
	Buyer         common.Address `json:"buyer"`
	PaymentAsset  string         `json:"paymentAsset"`
	PaymentAmount string         `json:"paymentAmount"`
	TotalAmount   string         `json:"totalAmount"`
	StartTime     int64          `json:"startTime"`
	ClaimedAmount string         `json:"claimedAmount"`
	SoldAmount    string         `json:"soldAmount"`
	CreatedAt     int64          `json:"createdAt"`
}

func (b *boltTx) Config() (*models.GlobalConfig, error) {
	raw := b.tx.Bucket(bucketConfig).Get(keyGlobalConfig)
	if raw == nil {
		return nil, models.ErrNotInitialized
	}
	var rec configRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	sold, err := decodeAmount(rec.SoldTokens)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &models.GlobalConfig{
		Owner:         rec.Owner,
		Admin:         rec.Admin,
		Token:         rec.Token,
		Custody:       rec.Custody,
		TokenDecimals: rec.TokenDecimals,
		NativeOracle:  rec.NativeOracle,
		SoldTokens:    sold,
		NextOrderID:   rec.NextOrderID,
	}, nil
}

func (b *boltTx) PutConfig(cfg *models.GlobalConfig) error {
	encoded, err := json.Marshal(configRecord{
		Owner:         cfg.Owner,
		Admin:         cfg.Admin,
		Token:         cfg.Token,
		Custody:       cfg.Custody,
		TokenDecimals: cfg.TokenDecimals,
		NativeOracle:  cfg.NativeOracle,
		SoldTokens:    models.CopyAmount(cfg.SoldTokens).String(),
		NextOrderID:   cfg.NextOrderID,
	})
	if err != nil {
		return err
	}
	return b.tx.Bucket(bucketConfig).Put(keyGlobalConfig, encoded)
}

func (b *boltTx) AssetOracle(token common.Address) (string, bool, error) {
	raw := b.tx.Bucket(bucketAssets).Get(token.Bytes())
	if raw == nil {
		return "", false, nil
	}
	return string(raw), true, nil
}

func (b *boltTx) PutAssetOracle(token common.Address, oracleID string) error {
	return b.tx.Bucket(bucketAssets).Put(token.Bytes(), []byte(oracleID))
}

func (b *boltTx) Assets() ([]models.AcceptedAsset, error) {
	var out []models.AcceptedAsset
	err := b.tx.Bucket(bucketAssets).ForEach(func(k, v []byte) error {
		out = append(out, models.AcceptedAsset{
			Token:    common.BytesToAddress(k),
			OracleID: string(v),
		})
		return nil
	})
	return out, err
}

func (b *boltTx) Order(id uint64) (*models.Order, error) {
	raw := b.tx.Bucket(bucketOrders).Get(orderKey(id))
	if raw == nil {
		return nil, models.ErrOrderNotFound
	}
	var rec orderRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode order %d: %w", id, err)
	}
	asset, err := models.ParseAsset(rec.PaymentAsset)
	if err != nil {
		return nil, fmt.Errorf("decode order %d: %w", id, err)
	}
	order := &models.Order{
		ID:           rec.ID,
		Buyer:        rec.Buyer,
		PaymentAsset: asset,
		StartTime:    rec.StartTime,
		CreatedAt:    rec.CreatedAt,
	}
	for _, f := range []struct {
		dst **big.Int
		src string
	}{
		{&order.PaymentAmount, rec.PaymentAmount},
		{&order.TotalAmount, rec.TotalAmount},
		{&order.ClaimedAmount, rec.ClaimedAmount},
		{&order.SoldAmount, rec.SoldAmount},
	} {
		v, err := decodeAmount(f.src)
		if err != nil {
			return nil, fmt.Errorf("decode order %d: %w", id, err)
		}
		*f.dst = v
	}
	return order, nil
}

func (b *boltTx) PutOrder(order *models.Order) error {
	encoded, err := json.Marshal(orderRecord{
		ID:            order.ID,
		Buyer:         order.Buyer,
		PaymentAsset:  order.PaymentAsset.String(),
		PaymentAmount: models.CopyAmount(order.PaymentAmount).String(),
		TotalAmount:   models.CopyAmount(order.TotalAmount).String(),
		StartTime:     order.StartTime,
		ClaimedAmount: models.CopyAmount(order.ClaimedAmount).String(),
		SoldAmount:    models.CopyAmount(order.SoldAmount).String(),
		CreatedAt:     order.CreatedAt,
	})
	if err != nil {
		return err
	}
	return b.tx.Bucket(bucketOrders).Put(orderKey(order.ID), encoded)
}

func (b *boltTx) AppendBuyerOrder(buyer common.Address, id uint64) error {
	key := append(buyer.Bytes(), orderKey(id)...)
	return b.tx.Bucket(bucketBuyerOrders).Put(key, []byte{})
}

// BuyerOrders returns the buyer's order ids in creation order; the big-endian
// id suffix keeps the cursor sorted.
func (b *boltTx) BuyerOrders(buyer common.Address) ([]uint64, error) {
	prefix := buyer.Bytes()
	var ids []uint64
	c := b.tx.Bucket(bucketBuyerOrders).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if len(k) != common.AddressLength+8 {
			continue
		}
		ids = append(ids, binary.BigEndian.Uint64(k[common.AddressLength:]))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (b *boltTx) Balance(asset models.Asset, account common.Address) (*big.Int, error) {
	return getAmount(b.tx.Bucket(bucketBalances), balanceKey(asset, account))
}

func (b *boltTx) PutBalance(asset models.Asset, account common.Address, amount *big.Int) error {
	return putAmount(b.tx.Bucket(bucketBalances), balanceKey(asset, account), amount)
}

func (b *boltTx) Allowance(asset models.Asset, owner, spender common.Address) (*big.Int, error) {
	return getAmount(b.tx.Bucket(bucketAllowances), allowanceKey(asset, owner, spender))
}

func (b *boltTx) PutAllowance(asset models.Asset, owner, spender common.Address, amount *big.Int) error {
	return putAmount(b.tx.Bucket(bucketAllowances), allowanceKey(asset, owner, spender), amount)
}

func orderKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func balanceKey(asset models.Asset, account common.Address) []byte {
	key := make([]byte, 0, 2*common.AddressLength)
	key = append(key, asset.Key().Bytes()...)
	return append(key, account.Bytes()...)
}

func allowanceKey(asset models.Asset, owner, spender common.Address) []byte {
	key := make([]byte, 0, 3*common.AddressLength)
	key = append(key, asset.Key().Bytes()...)
	key = append(key, owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

func getAmount(bucket *bolt.Bucket, key []byte) (*big.Int, error) {
	raw := bucket.Get(key)
	if raw == nil {
		return big.NewInt(0), nil
	}
	return decodeAmount(string(raw))
}

// putAmount drops zero entries so empty balances do not accumulate.
func putAmount(bucket *bolt.Bucket, key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return bucket.Delete(key)
	}
	if amount.Sign() < 0 {
		return models.ErrInvalidAmount
	}
	return bucket.Put(key, []byte(amount.String()))
}

func decodeAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("invalid stored amount " + s)
	}
	return v, nil
}
