package swapmath

import (
	"fmt"
	"math/big"
	"sync"

	apperrors "flashlever/internal/shared/errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	FeeNumerator   = big.NewInt(997) // 1000 - 3 (0.3% fee)
	FeeDenominator = big.NewInt(1000)

	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	one = big.NewInt(1)
)

// scratchPool recycles big.Int intermediates so repeated quoting along long
// paths does not allocate.
var scratchPool = sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

// ReserveReader returns a pool's reserves ordered as (reserve of assetA,
// reserve of assetB) for the requested pair.
type ReserveReader func(assetA, assetB common.Address) (*big.Int, *big.Int, error)

// QuoteOutGivenIn computes the constant-product output for a fixed input,
// taking the proportional fee from the input side. The result is the floor of
// the unrounded formula: the amount the caller receives is rounded down.
func QuoteOutGivenIn(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, apperrors.ErrInsufficientInput
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, apperrors.ErrInsufficientLiquidity
	}
	if amountIn.Cmp(MaxUint256) > 0 || reserveIn.Cmp(MaxUint256) > 0 || reserveOut.Cmp(MaxUint256) > 0 {
		return nil, apperrors.ErrArithmeticOverflow
	}

	inWithFee := scratchPool.Get().(*big.Int)
	denominator := scratchPool.Get().(*big.Int)
	defer scratchPool.Put(inWithFee)
	defer scratchPool.Put(denominator)

	inWithFee.Mul(amountIn, FeeNumerator)
	denominator.Mul(reserveIn, FeeDenominator)
	denominator.Add(denominator, inWithFee)

	amountOut := new(big.Int).Mul(inWithFee, reserveOut)
	amountOut.Quo(amountOut, denominator)
	return amountOut, nil
}

// QuoteInGivenOut computes the input required to withdraw a fixed output from
// a constant-product pool. The result is rounded up so the pool is never
// underpaid: repaying the quoted input and taking amountOut leaves the pool
// invariant non-decreasing.
func QuoteInGivenOut(amountOut, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, apperrors.ErrInsufficientOutput
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, apperrors.ErrInsufficientLiquidity
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, apperrors.ErrInsufficientLiquidity
	}
	if reserveIn.Cmp(MaxUint256) > 0 || reserveOut.Cmp(MaxUint256) > 0 {
		return nil, apperrors.ErrArithmeticOverflow
	}

	denominator := scratchPool.Get().(*big.Int)
	defer scratchPool.Put(denominator)

	amountIn := new(big.Int).Mul(reserveIn, amountOut)
	amountIn.Mul(amountIn, FeeDenominator)
	denominator.Sub(reserveOut, amountOut)
	denominator.Mul(denominator, FeeNumerator)
	rem := scratchPool.Get().(*big.Int)
	defer scratchPool.Put(rem)
	amountIn.QuoRem(amountIn, denominator, rem)
	if rem.Sign() != 0 {
		amountIn.Add(amountIn, one)
	}

	if amountIn.Cmp(MaxUint256) > 0 {
		return nil, apperrors.ErrArithmeticOverflow
	}
	return amountIn, nil
}

// ChainQuoteIn sizes a multi-hop exact-output chain. It walks the path from
// its final hop back to its first, seeding the terminal amount and applying
// QuoteInGivenOut per hop.
//
// The returned slice is in reverse order relative to the path: entry 0 is the
// terminal output amount, the last entry is the input required at the path's
// first asset. Callers consuming the chain through the nested flash-swap
// callback depend on this exact order; do not normalise it.
func ChainQuoteIn(reserves ReserveReader, path []common.Address, amountOut *big.Int) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: swap path needs at least two assets", apperrors.ErrInvalidAction)
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, apperrors.ErrInsufficientOutput
	}
	amounts := make([]*big.Int, 0, len(path))
	amounts = append(amounts, new(big.Int).Set(amountOut))

	current := amountOut
	for i := len(path) - 2; i >= 0; i-- {
		reserveIn, reserveOut, err := reserves(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		next, err := QuoteInGivenOut(current, reserveIn, reserveOut)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		amounts = append(amounts, next)
		current = next
	}
	return amounts, nil
}

// ChainQuoteOut sizes a multi-hop exact-input chain, walking the path forward
// and applying QuoteOutGivenIn per hop. Entry i is the amount at path[i].
func ChainQuoteOut(reserves ReserveReader, path []common.Address, amountIn *big.Int) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: swap path needs at least two assets", apperrors.ErrInvalidAction)
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, apperrors.ErrInsufficientInput
	}
	amounts := make([]*big.Int, 0, len(path))
	amounts = append(amounts, new(big.Int).Set(amountIn))

	current := amountIn
	for i := 0; i < len(path)-1; i++ {
		reserveIn, reserveOut, err := reserves(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		next, err := QuoteOutGivenIn(current, reserveIn, reserveOut)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		amounts = append(amounts, next)
		current = next
	}
	return amounts, nil
}
