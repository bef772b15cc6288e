package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateMarket        = errors.New("market id already exists")
	ErrUnauthorized           = errors.New("unauthorized caller")
	ErrInvalidParams          = errors.New("invalid parameters")
	ErrInvalidOutcome         = errors.New("invalid outcome index")
	ErrMarketNotActive        = errors.New("market not active")
	ErrMarketNotLocked        = errors.New("market not locked")
	ErrMarketNotResolved      = errors.New("market not resolved")
	ErrInsufficientLiquidity  = errors.New("initial liquidity below minimum")
	ErrInsufficientClaims     = errors.New("insufficient claim balance")
	ErrInsufficientCollateral = errors.New("insufficient collateral balance")
	ErrSlippageExceeded       = errors.New("slippage limit exceeded")
	ErrStalePrice             = errors.New("price data is stale")
	ErrInvalidPrice           = errors.New("price data is invalid")
	ErrScanExhausted          = errors.New("historical scan budget exhausted")
	ErrUnknownTemplate        = errors.New("unknown outcome template")
)
