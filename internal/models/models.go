package models

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type AssetKind string

const (
	AssetNative   AssetKind = "native"
	AssetFungible AssetKind = "fungible"
)

// Asset identifies a payment or payout medium: the chain's native asset or a
// registered fungible token.
type Asset struct {
	Kind  AssetKind
	Token common.Address
}

func Native() Asset { return Asset{Kind: AssetNative} }

func Fungible(token common.Address) Asset {
	return Asset{Kind: AssetFungible, Token: token}
}

func (a Asset) IsNative() bool { return a.Kind == AssetNative }

// Valid reports whether the asset is the native asset or a fungible token
// with a non-zero address.
func (a Asset) Valid() bool {
	switch a.Kind {
	case AssetNative:
		return true
	case AssetFungible:
		return a.Token != (common.Address{})
	default:
		return false
	}
}

// Key is the fixed-width storage key of the asset. The native asset maps to
// the zero address, which is never a valid fungible token.
func (a Asset) Key() common.Address {
	if a.IsNative() {
		return common.Address{}
	}
	return a.Token
}

func (a Asset) String() string {
	if a.IsNative() {
		return string(AssetNative)
	}
	return strings.ToLower(a.Token.Hex())
}

// AssetFromKey is the inverse of Key.
func AssetFromKey(key common.Address) Asset {
	if key == (common.Address{}) {
		return Native()
	}
	return Fungible(key)
}

// ParseAsset accepts "native" (or an empty string) and hex token addresses.
func ParseAsset(s string) (Asset, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, string(AssetNative)) {
		return Native(), nil
	}
	if !common.IsHexAddress(s) {
		return Asset{}, errors.New("invalid asset address")
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return Native(), nil
	}
	return Fungible(addr), nil
}

// Order is one purchase with its own vesting clock.
type Order struct {
	ID            uint64
	Buyer         common.Address
	PaymentAsset  Asset
	PaymentAmount *big.Int
	TotalAmount   *big.Int
	StartTime     int64
	ClaimedAmount *big.Int
	SoldAmount    *big.Int
	CreatedAt     int64
}

// Released is the part of the order that has left the vesting schedule,
// either still held by the buyer or already sold back.
func (o *Order) Released() *big.Int {
	return new(big.Int).Add(amountOrZero(o.ClaimedAmount), amountOrZero(o.SoldAmount))
}

// Validate checks 0 <= claimed and claimed+sold <= total.
func (o *Order) Validate() error {
	if o.TotalAmount == nil || o.TotalAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amountOrZero(o.ClaimedAmount).Sign() < 0 || amountOrZero(o.SoldAmount).Sign() < 0 {
		return ErrInvalidAmount
	}
	if o.Released().Cmp(o.TotalAmount) > 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.PaymentAmount = CopyAmount(o.PaymentAmount)
	clone.TotalAmount = CopyAmount(o.TotalAmount)
	clone.ClaimedAmount = CopyAmount(o.ClaimedAmount)
	clone.SoldAmount = CopyAmount(o.SoldAmount)
	return &clone
}

// GlobalConfig is the process-wide sale state. Owner, Token and Custody are
// fixed at initialisation.
type GlobalConfig struct {
	Owner         common.Address
	Admin         common.Address
	Token         common.Address
	Custody       common.Address
	TokenDecimals uint8
	NativeOracle  string
	SoldTokens    *big.Int
	NextOrderID   uint64
}

func (c *GlobalConfig) Clone() *GlobalConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.SoldTokens = CopyAmount(c.SoldTokens)
	return &clone
}

// SaleToken is the purchasable token as a ledger asset.
func (c *GlobalConfig) SaleToken() Asset { return Fungible(c.Token) }

// AcceptedAsset binds a fungible payment asset to the oracle that prices it.
type AcceptedAsset struct {
	Token    common.Address
	OracleID string
}

func CopyAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
