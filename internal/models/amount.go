package models

import (
	"errors"
	"math/big"
	"strings"
)

// ParseAmount parses a base-unit integer string. Negative values are rejected.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("amount required")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	if v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// FormatUnits renders a fixed-point integer as a decimal string without
// trailing fractional zeros.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(v, Pow10(decimals))
	s := r.FloatString(int(decimals))
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// ParseUnits converts a decimal string such as "0.1" into a fixed-point
// integer with the given number of decimals. Digits beyond the precision are
// rejected rather than rounded.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("decimal value required")
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, errors.New("invalid decimal value " + s)
	}
	if r.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	r.Mul(r, new(big.Rat).SetInt(Pow10(decimals)))
	if !r.IsInt() {
		return nil, errors.New("too many fractional digits in " + s)
	}
	return new(big.Int).Set(r.Num()), nil
}
