package payments

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"DTokenSale/internal/models"
	"DTokenSale/internal/store"
)

// Ledger moves value between accounts for the native asset and any fungible
// token, including the sale token itself.
type Ledger interface {
	BalanceOf(asset models.Asset, account common.Address) (*big.Int, error)
	Allowance(asset models.Asset, owner, spender common.Address) (*big.Int, error)
	Credit(asset models.Asset, account common.Address, amount *big.Int) error
	Debit(asset models.Asset, account common.Address, amount *big.Int) error
	Transfer(asset models.Asset, from, to common.Address, amount *big.Int) error
	// TransferFrom reports false without moving anything when the spender's
	// allowance is below amount.
	TransferFrom(asset models.Asset, spender, from, to common.Address, amount *big.Int) (bool, error)
	Approve(asset models.Asset, owner, spender common.Address, amount *big.Int) error
}

// Book is the Ledger kept in the sale's own store, so balance changes commit
// or roll back with the operation that caused them.
type Book struct {
	tx store.Tx
}

func NewBook(tx store.Tx) *Book {
	return &Book{tx: tx}
}

func (b *Book) BalanceOf(asset models.Asset, account common.Address) (*big.Int, error) {
	return b.tx.Balance(asset, account)
}

func (b *Book) Allowance(asset models.Asset, owner, spender common.Address) (*big.Int, error) {
	return b.tx.Allowance(asset, owner, spender)
}

func (b *Book) Credit(asset models.Asset, account common.Address, amount *big.Int) error {
	if err := checkAmount(asset, amount); err != nil {
		return err
	}
	bal, err := b.tx.Balance(asset, account)
	if err != nil {
		return err
	}
	return b.tx.PutBalance(asset, account, bal.Add(bal, amount))
}

func (b *Book) Debit(asset models.Asset, account common.Address, amount *big.Int) error {
	if err := checkAmount(asset, amount); err != nil {
		return err
	}
	bal, err := b.tx.Balance(asset, account)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", models.ErrInsufficientBalance, account.Hex(), bal, asset, amount)
	}
	return b.tx.PutBalance(asset, account, bal.Sub(bal, amount))
}

func (b *Book) Transfer(asset models.Asset, from, to common.Address, amount *big.Int) error {
	if err := b.Debit(asset, from, amount); err != nil {
		return err
	}
	return b.Credit(asset, to, amount)
}

func (b *Book) TransferFrom(asset models.Asset, spender, from, to common.Address, amount *big.Int) (bool, error) {
	if err := checkAmount(asset, amount); err != nil {
		return false, err
	}
	allowance, err := b.tx.Allowance(asset, from, spender)
	if err != nil {
		return false, err
	}
	if allowance.Cmp(amount) < 0 {
		return false, nil
	}
	if err := b.Transfer(asset, from, to, amount); err != nil {
		return false, err
	}
	if err := b.tx.PutAllowance(asset, from, spender, allowance.Sub(allowance, amount)); err != nil {
		return false, err
	}
	return true, nil
}

// Approve overwrites the spender's allowance, ERC-20 style.
func (b *Book) Approve(asset models.Asset, owner, spender common.Address, amount *big.Int) error {
	if !asset.Valid() {
		return models.ErrUnsupportedAsset
	}
	if amount == nil || amount.Sign() < 0 {
		return models.ErrInvalidAmount
	}
	return b.tx.PutAllowance(asset, owner, spender, amount)
}

func checkAmount(asset models.Asset, amount *big.Int) error {
	if !asset.Valid() {
		return models.ErrUnsupportedAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return models.ErrInvalidAmount
	}
	return nil
}
