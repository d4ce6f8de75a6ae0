package pricing

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"DTokenSale/internal/models"
)

// USDDecimals is the precision of the sale token's USD unit price.
const USDDecimals uint8 = 18

// Tier raises the unit price once cumulative sold tokens reach Threshold.
type Tier struct {
	Threshold *big.Int
	UnitPrice *big.Int
}

// Converter turns payment amounts into sale tokens and back, using a USD
// unit price for the sale token and an 8-decimal oracle price for the asset.
type Converter struct {
	unitPrice *big.Int
	decimals  uint8
	tokenBase *big.Int
	tiers     []Tier
}

type Snapshot struct {
	UnitPriceUSD string `json:"unit_price_usd"`
	Source       string `json:"source"`
	SoldTokens   string `json:"sold_tokens"`
}

func NewConverter(unitPrice *big.Int, tokenDecimals uint8, tiers []Tier) (*Converter, error) {
	if unitPrice == nil || unitPrice.Sign() <= 0 {
		return nil, errors.New("unit price must be positive")
	}
	sorted := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		if t.Threshold == nil || t.Threshold.Sign() <= 0 {
			return nil, errors.New("tier threshold must be positive")
		}
		if t.UnitPrice == nil || t.UnitPrice.Sign() <= 0 {
			return nil, errors.New("tier unit price must be positive")
		}
		sorted = append(sorted, Tier{Threshold: new(big.Int).Set(t.Threshold), UnitPrice: new(big.Int).Set(t.UnitPrice)})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Threshold.Cmp(sorted[j].Threshold) < 0 })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Threshold.Cmp(sorted[i-1].Threshold) == 0 {
			return nil, fmt.Errorf("duplicate tier threshold %s", sorted[i].Threshold)
		}
	}
	return &Converter{
		unitPrice: new(big.Int).Set(unitPrice),
		decimals:  tokenDecimals,
		tokenBase: models.Pow10(tokenDecimals),
		tiers:     sorted,
	}, nil
}

// ParseUSD parses a decimal USD amount such as "0.1" into USDDecimals fixed point.
func ParseUSD(s string) (*big.Int, error) {
	return models.ParseUnits(s, USDDecimals)
}

func (c *Converter) TokenDecimals() uint8 { return c.decimals }

// Tiered reports whether the unit price depends on sold tokens.
func (c *Converter) Tiered() bool { return len(c.tiers) > 0 }

// UnitPrice returns the USD price of one whole sale token after sold tokens
// have been sold.
func (c *Converter) UnitPrice(sold *big.Int) *big.Int {
	price := c.unitPrice
	if sold != nil {
		for _, t := range c.tiers {
			if sold.Cmp(t.Threshold) < 0 {
				break
			}
			price = t.UnitPrice
		}
	}
	return new(big.Int).Set(price)
}

func (c *Converter) Snapshot(sold *big.Int) Snapshot {
	source := "fixed"
	if c.Tiered() {
		source = "tiered"
	}
	return Snapshot{
		UnitPriceUSD: models.FormatUnits(c.UnitPrice(sold), USDDecimals),
		Source:       source,
		SoldTokens:   models.CopyAmount(sold).String(),
	}
}

// ToTokens computes (payment * assetPrice / ORACLE_BASE) * TOKEN_BASE / unitPrice.
func (c *Converter) ToTokens(payment, assetPrice, sold *big.Int) (*big.Int, error) {
	return mulDivMulDiv(payment, assetPrice, OracleBase, c.tokenBase, c.UnitPrice(sold))
}

// ToPayment computes (tokens * unitPrice / TOKEN_BASE) * ORACLE_BASE / assetPrice.
func (c *Converter) ToPayment(tokens, assetPrice, sold *big.Int) (*big.Int, error) {
	return mulDivMulDiv(tokens, c.UnitPrice(sold), c.tokenBase, OracleBase, assetPrice)
}

// mulDivMulDiv evaluates ((a*b)/c*d)/e in 256-bit words, truncating at each
// division.
func mulDivMulDiv(a, b, c, d, e *big.Int) (*big.Int, error) {
	if a == nil || a.Sign() <= 0 {
		return nil, models.ErrInvalidAmount
	}
	if b == nil || b.Sign() <= 0 || e == nil || e.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive price", models.ErrOracleUnavailable)
	}
	words := make([]*uint256.Int, 0, 5)
	for _, v := range []*big.Int{a, b, c, d, e} {
		w, overflow := uint256.FromBig(v)
		if overflow {
			return nil, fmt.Errorf("%w: value exceeds 256 bits", models.ErrInvalidAmount)
		}
		words = append(words, w)
	}
	step, overflow := new(uint256.Int).MulOverflow(words[0], words[1])
	if overflow {
		return nil, fmt.Errorf("%w: conversion overflow", models.ErrInvalidAmount)
	}
	step.Div(step, words[2])
	step, overflow = new(uint256.Int).MulOverflow(step, words[3])
	if overflow {
		return nil, fmt.Errorf("%w: conversion overflow", models.ErrInvalidAmount)
	}
	step.Div(step, words[4])
	return step.ToBig(), nil
}
