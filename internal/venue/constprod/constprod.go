package constprod

import (
	"fmt"
	"math/big"

	"flashlever/internal/bank"
	apperrors "flashlever/internal/shared/errors"
	"flashlever/internal/swapmath"
	"flashlever/internal/venue"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// pairInitCodeHash feeds the CREATE2-style pool identity derivation. It plays
// the role of the venue's pair bytecode hash.
var pairInitCodeHash = crypto.Keccak256Hash([]byte("flashlever/constprod-pair-v1"))

// MaxReserve bounds each reserve to uint112, matching the packed storage
// layout constant-product venues use on chain.
var MaxReserve = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 112), big.NewInt(1))

type pool struct {
	token0 common.Address
	token1 common.Address
}

// Venue is a constant-product AMM with flash-swap settlement. A pool's
// reserves are its bank balances in its two tokens; output is transferred
// optimistically and the settlement callback must leave the pool repaid in
// the opposite token before it returns.
type Venue struct {
	bank     *bank.Bank
	resolver *venue.Resolver
	pools    map[common.Address]*pool
	logger   *zap.Logger
}

func New(b *bank.Bank, factory common.Address, logger *zap.Logger) *Venue {
	return &Venue{
		bank:     b,
		resolver: venue.NewResolver(factory, pairInitCodeHash),
		pools:    make(map[common.Address]*pool),
		logger:   logger,
	}
}

// PoolID derives the pool identity for a pair. The venue has a single fee
// tier, so the tier is not part of the identity.
func (v *Venue) PoolID(assetA, assetB common.Address) common.Address {
	return v.resolver.PoolID(assetA, assetB, 0)
}

// CreatePool registers a pool and mints its initial reserves.
func (v *Venue) CreatePool(assetA, assetB common.Address, reserveA, reserveB *big.Int) (common.Address, error) {
	if assetA == assetB {
		return common.Address{}, fmt.Errorf("%w: pool assets must differ", apperrors.ErrInvalidAction)
	}
	if reserveA == nil || reserveB == nil || reserveA.Sign() <= 0 || reserveB.Sign() <= 0 {
		return common.Address{}, fmt.Errorf("%w: pool reserves must be positive", apperrors.ErrInsufficientLiquidity)
	}
	if reserveA.Cmp(MaxReserve) > 0 || reserveB.Cmp(MaxReserve) > 0 {
		return common.Address{}, fmt.Errorf("%w: reserve exceeds uint112", apperrors.ErrArithmeticOverflow)
	}
	addr := v.PoolID(assetA, assetB)
	if _, exists := v.pools[addr]; exists {
		return common.Address{}, fmt.Errorf("%w: pool %s already exists", apperrors.ErrInvalidAction, addr.Hex())
	}
	token0, token1 := venue.SortAssets(assetA, assetB)
	v.pools[addr] = &pool{token0: token0, token1: token1}
	v.bank.Mint(addr, assetA, reserveA)
	v.bank.Mint(addr, assetB, reserveB)
	v.logger.Info("constant-product pool created",
		zap.String("pool", addr.Hex()),
		zap.String("token0", token0.Hex()),
		zap.String("token1", token1.Hex()))
	return addr, nil
}

// Reserves returns the pool's live reserves reordered to the requested
// (assetA, assetB) order.
func (v *Venue) Reserves(assetA, assetB common.Address) (*big.Int, *big.Int, error) {
	addr := v.PoolID(assetA, assetB)
	p, ok := v.pools[addr]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no constant-product pool for pair", apperrors.ErrPoolNotFound)
	}
	if assetA != p.token0 && assetA != p.token1 {
		return nil, nil, fmt.Errorf("%w: asset %s not in pool", apperrors.ErrPoolNotFound, assetA.Hex())
	}
	return v.bank.BalanceOf(addr, assetA), v.bank.BalanceOf(addr, assetB), nil
}

// FlashSwap transfers amountOut of assetOut from the pool to recipient, then
// invokes the settlement callback with the input amount the pool is owed.
// The callback must repay at least that amount in the opposite token or the
// whole swap fails.
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

	reserveIn := v.bank.BalanceOf(poolAddr, assetIn)
	reserveOut := v.bank.BalanceOf(poolAddr, assetOut)

	amountOwed, err := swapmath.QuoteInGivenOut(amountOut, reserveIn, reserveOut)
	if err != nil {
		return err
	}
	if new(big.Int).Add(reserveIn, amountOwed).Cmp(MaxReserve) > 0 {
		return fmt.Errorf("%w: repayment would overflow reserve", apperrors.ErrArithmeticOverflow)
	}

	if err := v.bank.Transfer(poolAddr, recipient, assetOut, amountOut); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInsufficientLiquidity, err)
	}

	if err := settler.SettleFlashSwap(poolAddr, assetIn, amountOwed, payload); err != nil {
		return err
	}

	received := new(big.Int).Sub(v.bank.BalanceOf(poolAddr, assetIn), reserveIn)
	if received.Cmp(amountOwed) < 0 {
		return fmt.Errorf("%w: pool repaid %s of %s owed", apperrors.ErrInsufficientInput,
			received.String(), amountOwed.String())
	}
	return nil
}
