package ticks

import (
	"fmt"
	"math/big"

	apperrors "flashlever/internal/shared/errors"
)

// Q96 fixed-point constants for sqrt-price arithmetic.
var (
	q96          = new(big.Int).Lsh(big.NewInt(1), 96)
	feeDenom     = big.NewInt(1_000_000)
	maxSqrtPrice = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
	maxLiquidity = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	one          = big.NewInt(1)
)

func ceilDiv(x, y *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(x, y, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, one)
	}
	return q
}

// amount0Delta returns the token0 amount between two sqrt prices for the
// given liquidity: L<<96 * (sqrtB-sqrtA) / sqrtB / sqrtA. Rounds up when the
// amount is owed to the pool, down when it is paid out.
func amount0Delta(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	numerator := new(big.Int).Lsh(liquidity, 96)
	numerator.Mul(numerator, new(big.Int).Sub(sqrtB, sqrtA))
	if roundUp {
		return ceilDiv(ceilDiv(numerator, sqrtB), sqrtA)
	}
	numerator.Quo(numerator, sqrtB)
	return numerator.Quo(numerator, sqrtA)
}

// amount1Delta returns the token1 amount between two sqrt prices:
// L * (sqrtB-sqrtA) / Q96, rounded per roundUp.
func amount1Delta(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	numerator := new(big.Int).Mul(liquidity, new(big.Int).Sub(sqrtB, sqrtA))
	if roundUp {
		return ceilDiv(numerator, q96)
	}
	return numerator.Quo(numerator, q96)
}

// nextSqrtPriceFromOutput returns the sqrt price after paying amountOut out of
// the pool, rounding so the pool is never shorted.
func nextSqrtPriceFromOutput(sqrtPrice, liquidity, amountOut *big.Int, zeroForOne bool) (*big.Int, error) {
	if zeroForOne {
		// token1 leaves the pool, price falls.
		delta := ceilDiv(new(big.Int).Lsh(amountOut, 96), liquidity)
		next := new(big.Int).Sub(sqrtPrice, delta)
		if next.Sign() <= 0 {
			return nil, fmt.Errorf("%w: output exhausts range", apperrors.ErrInsufficientLiquidity)
		}
		return next, nil
	}
	// token0 leaves the pool, price rises.
	liqShifted := new(big.Int).Lsh(liquidity, 96)
	product := new(big.Int).Mul(amountOut, sqrtPrice)
	denominator := new(big.Int).Sub(liqShifted, product)
	if denominator.Sign() <= 0 {
		return nil, fmt.Errorf("%w: output exhausts range", apperrors.ErrInsufficientLiquidity)
	}
	return ceilDiv(new(big.Int).Mul(liqShifted, sqrtPrice), denominator), nil
}

// nextSqrtPriceFromInput returns the sqrt price after amountIn (already net of
// fees) enters the pool, rounding against the trader.
func nextSqrtPriceFromInput(sqrtPrice, liquidity, amountIn *big.Int, zeroForOne bool) *big.Int {
	if zeroForOne {
		// token0 enters, price falls.
		liqShifted := new(big.Int).Lsh(liquidity, 96)
		denominator := new(big.Int).Mul(amountIn, sqrtPrice)
		denominator.Add(denominator, liqShifted)
		return ceilDiv(new(big.Int).Mul(liqShifted, sqrtPrice), denominator)
	}
	// token1 enters, price rises.
	delta := new(big.Int).Lsh(amountIn, 96)
	delta.Quo(delta, liquidity)
	return new(big.Int).Add(sqrtPrice, delta)
}

// feeOnInput returns the fee charged on top of a net input amount, rounded up.
func feeOnInput(amountIn *big.Int, feePips uint32) *big.Int {
	fee := new(big.Int).Mul(amountIn, big.NewInt(int64(feePips)))
	return ceilDiv(fee, new(big.Int).Sub(feeDenom, big.NewInt(int64(feePips))))
}

// netOfFee strips the fee from a gross input amount, rounding down.
func netOfFee(amountIn *big.Int, feePips uint32) *big.Int {
	net := new(big.Int).Mul(amountIn, new(big.Int).Sub(feeDenom, big.NewInt(int64(feePips))))
	return net.Quo(net, feeDenom)
}
