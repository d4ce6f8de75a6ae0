package models

import "errors"

var (
	ErrInvalidAmount               = errors.New("amount must be greater than 0")
	ErrZeroPayment                 = errors.New("payment must be positive and match the attached value")
	ErrUnsupportedAsset            = errors.New("asset is not accepted")
	ErrAllowanceMissing            = errors.New("allowance too low")
	ErrInsufficientLiquidity       = errors.New("insufficient liquidity in custody")
	ErrInsufficientBalance         = errors.New("insufficient balance")
	ErrOrderNotFound               = errors.New("order not found")
	ErrNotOrderOwner               = errors.New("not the order owner")
	ErrStillLocked                 = errors.New("no tokens unlocked yet")
	ErrInsufficientUnlockedBalance = errors.New("not enough unlocked tokens to sell")
	ErrNotAdmin                    = errors.New("only admin can perform this task")
	ErrOracleUnavailable           = errors.New("price oracle unavailable")
	ErrNotInitialized              = errors.New("sale not initialized")
	ErrInvalidAccount              = errors.New("account must be a non-zero address")
)
