package ticks

import (
	"fmt"
	"math/big"

	"flashlever/internal/bank"
	apperrors "flashlever/internal/shared/errors"
	"flashlever/internal/venue"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

var poolInitCodeHash = crypto.Keccak256Hash([]byte("flashlever/ticks-pool-v1"))

// pool is a concentrated-liquidity pool priced within a single active range:
// constant liquidity, a moving sqrt price, and a per-pool fee tier in parts
// per million. Swaps that would push the price out of the range fail instead
// of crossing ticks.
type pool struct {
	token0       common.Address
	token1       common.Address
	feePips      uint32
	sqrtPriceX96 *big.Int
	liquidity    *big.Int
}

// Venue is the tick-based AMM collaborator. The flash-swap protocol matches
// the constant-product venue: optimistic output transfer, settlement callback
// with the owed input, repayment verified on return.
type Venue struct {
	bank     *bank.Bank
	resolver *venue.Resolver
	pools    map[common.Address]*pool
	logger   *zap.Logger
}

// Snapshot captures every pool's sqrt price. Liquidity is fixed after
// creation and pool balances live in the bank, so the price is the only
// venue-owned mutable state.
type Snapshot struct {
	prices map[common.Address]*big.Int
}

func New(b *bank.Bank, factory common.Address, logger *zap.Logger) *Venue {
	return &Venue{
		bank:     b,
		resolver: venue.NewResolver(factory, poolInitCodeHash),
		pools:    make(map[common.Address]*pool),
		logger:   logger,
	}
}

// PoolID derives the pool identity for a pair and fee tier.
func (v *Venue) PoolID(assetA, assetB common.Address, feePips uint32) common.Address {
	return v.resolver.PoolID(assetA, assetB, feePips)
}

// CreatePool registers a pool at the given price and liquidity, minting the
// single-range token amounts into the pool's bank account.
func (v *Venue) CreatePool(assetA, assetB common.Address, feePips uint32, sqrtPriceX96, liquidity *big.Int) (common.Address, error) {
	if assetA == assetB {
		return common.Address{}, fmt.Errorf("%w: pool assets must differ", apperrors.ErrInvalidAction)
	}
	if feePips == 0 || feePips >= 1_000_000 {
		return common.Address{}, fmt.Errorf("%w: fee tier %d out of range", apperrors.ErrInvalidAction, feePips)
	}
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 || sqrtPriceX96.Cmp(maxSqrtPrice) > 0 {
		return common.Address{}, fmt.Errorf("%w: sqrt price out of range", apperrors.ErrArithmeticOverflow)
	}
	if liquidity == nil || liquidity.Sign() <= 0 || liquidity.Cmp(maxLiquidity) > 0 {
		return common.Address{}, fmt.Errorf("%w: liquidity out of range", apperrors.ErrArithmeticOverflow)
	}
	addr := v.PoolID(assetA, assetB, feePips)
	if _, exists := v.pools[addr]; exists {
		return common.Address{}, fmt.Errorf("%w: pool %s already exists", apperrors.ErrInvalidAction, addr.Hex())
	}
	token0, token1 := venue.SortAssets(assetA, assetB)
	p := &pool{
		token0:       token0,
		token1:       token1,
		feePips:      feePips,
		sqrtPriceX96: new(big.Int).Set(sqrtPriceX96),
		liquidity:    new(big.Int).Set(liquidity),
	}
	v.pools[addr] = p

	// Single-range holdings at price P: amount0 = L<<96/sqrtP, amount1 = L*sqrtP>>96.
	amount0 := new(big.Int).Lsh(p.liquidity, 96)
	amount0.Quo(amount0, p.sqrtPriceX96)
	amount1 := new(big.Int).Mul(p.liquidity, p.sqrtPriceX96)
	amount1.Rsh(amount1, 96)
	v.bank.Mint(addr, token0, amount0)
	v.bank.Mint(addr, token1, amount1)

	v.logger.Info("concentrated pool created",
		zap.String("pool", addr.Hex()),
		zap.Uint32("fee_pips", feePips),
		zap.String("liquidity", p.liquidity.String()))
	return addr, nil
}

// QuoteIn returns the gross input of assetIn owed for withdrawing amountOut
// of assetOut at the pool's current price, fee included, rounded up.
func (v *Venue) QuoteIn(assetIn, assetOut common.Address, feePips uint32, amountOut *big.Int) (*big.Int, error) {
	p, _, err := v.lookup(assetIn, assetOut, feePips)
	if err != nil {
		return nil, err
	}
	owed, _, err := p.quoteExactOut(assetOut, amountOut)
	return owed, err
}

// QuoteOut returns the output of assetOut receivable for paying amountIn of
// assetIn at the pool's current price, fee deducted, rounded down.
func (v *Venue) QuoteOut(assetIn, assetOut common.Address, feePips uint32, amountIn *big.Int) (*big.Int, error) {
	p, _, err := v.lookup(assetIn, assetOut, feePips)
	if err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, apperrors.ErrInsufficientInput
	}
	zeroForOne := assetIn == p.token0
	net := netOfFee(amountIn, p.feePips)
	if net.Sign() == 0 {
		return nil, apperrors.ErrInsufficientInput
	}
	next := nextSqrtPriceFromInput(p.sqrtPriceX96, p.liquidity, net, zeroForOne)
	if next.Cmp(maxSqrtPrice) > 0 {
		return nil, fmt.Errorf("%w: input exhausts range", apperrors.ErrInsufficientLiquidity)
	}
	if zeroForOne {
		return amount1Delta(next, p.sqrtPriceX96, p.liquidity, false), nil
	}
	return amount0Delta(p.sqrtPriceX96, next, p.liquidity, false), nil
}

// FlashSwap transfers amountOut of assetOut from the pool to recipient,
// invokes the settlement callback with the owed input, verifies repayment,
// and commits the pool's new price.
func (v *Venue) FlashSwap(poolAddr, assetOut common.Address, amountOut *big.Int, recipient common.Address, settler venue.Settler, payload []byte) error {
	p, ok := v.pools[poolAddr]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrPoolNotFound, poolAddr.Hex())
	}
	var assetIn common.Address
	switch assetOut {
	case p.token0:
		assetIn = p.token1
	case p.token1:
		assetIn = p.token0
	default:
		return fmt.Errorf("%w: asset %s not in pool %s", apperrors.ErrPoolNotFound, assetOut.Hex(), poolAddr.Hex())
	}

	amountOwed, nextSqrtPrice, err := p.quoteExactOut(assetOut, amountOut)
	if err != nil {
		return err
	}

	balanceBefore := v.bank.BalanceOf(poolAddr, assetIn)
	if err := v.bank.Transfer(poolAddr, recipient, assetOut, amountOut); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInsufficientLiquidity, err)
	}

	if err := settler.SettleFlashSwap(poolAddr, assetIn, amountOwed, payload); err != nil {
		return err
	}

	received := new(big.Int).Sub(v.bank.BalanceOf(poolAddr, assetIn), balanceBefore)
	if received.Cmp(amountOwed) < 0 {
		return fmt.Errorf("%w: pool repaid %s of %s owed", apperrors.ErrInsufficientInput,
			received.String(), amountOwed.String())
	}

	p.sqrtPriceX96.Set(nextSqrtPrice)
	return nil
}

func (v *Venue) Snapshot() *Snapshot {
	prices := make(map[common.Address]*big.Int, len(v.pools))
	for addr, p := range v.pools {
		prices[addr] = new(big.Int).Set(p.sqrtPriceX96)
	}
	return &Snapshot{prices: prices}
}

func (v *Venue) Restore(s *Snapshot) {
	if s == nil {
		return
	}
	for addr, price := range s.prices {
		if p, ok := v.pools[addr]; ok {
			p.sqrtPriceX96.Set(price)
		}
	}
}

func (v *Venue) lookup(assetIn, assetOut common.Address, feePips uint32) (*pool, common.Address, error) {
	addr := v.PoolID(assetIn, assetOut, feePips)
	p, ok := v.pools[addr]
	if !ok {
		return nil, common.Address{}, fmt.Errorf("%w: no concentrated pool for pair at tier %d",
			apperrors.ErrPoolNotFound, feePips)
	}
	if assetIn != p.token0 && assetIn != p.token1 {
		return nil, common.Address{}, fmt.Errorf("%w: asset %s not in pool", apperrors.ErrPoolNotFound, assetIn.Hex())
	}
	return p, addr, nil
}

// quoteExactOut sizes the gross input owed for an exact output and the sqrt
// price the pool moves to, without mutating the pool.
func (p *pool) quoteExactOut(assetOut common.Address, amountOut *big.Int) (*big.Int, *big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, nil, apperrors.ErrInsufficientOutput
	}
	zeroForOne := assetOut == p.token1
	next, err := nextSqrtPriceFromOutput(p.sqrtPriceX96, p.liquidity, amountOut, zeroForOne)
	if err != nil {
		return nil, nil, err
	}
	if next.Cmp(maxSqrtPrice) > 0 {
		return nil, nil, fmt.Errorf("%w: output exhausts range", apperrors.ErrInsufficientLiquidity)
	}
	var amountIn *big.Int
	if zeroForOne {
		amountIn = amount0Delta(next, p.sqrtPriceX96, p.liquidity, true)
	} else {
		amountIn = amount1Delta(p.sqrtPriceX96, next, p.liquidity, true)
	}
	owed := new(big.Int).Add(amountIn, feeOnInput(amountIn, p.feePips))
	return owed, next, nil
}
