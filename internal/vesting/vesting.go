// Package vesting computes how much of an order has unlocked on the
// cliff-plus-monthly schedule.
package vesting

import (
	"math/big"

	"DTokenSale/internal/models"
)

const (
	Day   int64 = 24 * 60 * 60
	Cliff       = 365 * Day
	Month       = 30 * Day

	Tranches       = 10
	TranchePercent = 100 / Tranches
)

// UnlockedPercent returns the cumulative unlocked share for the elapsed
// seconds since the order's start. Nothing unlocks during the cliff; each
// full month after it releases one tranche, so the first tranche lands at
// cliff+1 month and the last at cliff+10 months.
func UnlockedPercent(elapsed int64) int64 {
	if elapsed < Cliff {
		return 0
	}
	months := (elapsed - Cliff) / Month
	if months >= Tranches {
		return 100
	}
	return months * TranchePercent
}

// Unlocked returns floor(total * percent / 100) for the order at now.
func Unlocked(total *big.Int, start, now int64) *big.Int {
	if total == nil || total.Sign() <= 0 {
		return new(big.Int)
	}
	pct := UnlockedPercent(now - start)
	if pct == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(total, big.NewInt(pct))
	return out.Quo(out, big.NewInt(100))
}

// Claimable is the newly unlocked amount not yet released through a claim or
// a sale. It is never negative: an admin moving the start time forward can
// leave the unlocked amount below what was already released.
func Claimable(order *models.Order, now int64) *big.Int {
	if order == nil {
		return new(big.Int)
	}
	delta := Unlocked(order.TotalAmount, order.StartTime, now)
	delta.Sub(delta, order.Released())
	if delta.Sign() < 0 {
		return new(big.Int)
	}
	return delta
}

// NextUnlock returns the unix time of the next tranche, or 0 once the order
// is fully unlocked.
func NextUnlock(start, now int64) int64 {
	elapsed := now - start
	if elapsed < Cliff+Month {
		return start + Cliff + Month
	}
	months := (elapsed - Cliff) / Month
	if months >= Tranches {
		return 0
	}
	return start + Cliff + (months+1)*Month
}
