package errors

import "errors"

var (
	ErrInvalidAction   = errors.New("invalid action")
	ErrDeadlineExpired = errors.New("deadline expired")

	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientInput     = errors.New("insufficient input amount")
	ErrInsufficientOutput    = errors.New("insufficient output amount")

	ErrPoolNotFound         = errors.New("pool not found")
	ErrUnauthorizedCallback = errors.New("unauthorized settlement callback")
	ErrSlippageExceeded     = errors.New("slippage limit exceeded")

	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrLedgerRejected     = errors.New("ledger rejected operation")

	ErrInternal = errors.New("internal error")
)
