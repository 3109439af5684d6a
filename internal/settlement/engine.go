package settlement

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"flashlever/internal/bank"
	"flashlever/internal/ledger"
	apperrors "flashlever/internal/shared/errors"
	"flashlever/internal/swapmath"
	"flashlever/internal/venue/constprod"
	"flashlever/internal/venue/ticks"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// SubAction selects which ledger operations settle the two ends of a swap
// chain. The first three fix the amount received (exact output, pay at most
// the limit), the last three fix the amount paid in (exact input, receive at
// least the limit).
type SubAction string

const (
	OpenLong   SubAction = "open_long"   // supply the output, borrow the input
	CloseShort SubAction = "close_short" // repay the output, redeem the input
	SwapDebt   SubAction = "swap_debt"   // repay the output, borrow the input

	CloseLong      SubAction = "close_long"      // redeem the input, repay the output
	OpenShort      SubAction = "open_short"      // borrow the input, supply the output
	SwapCollateral SubAction = "swap_collateral" // redeem the input, supply the output
)

// ExactOutput reports whether the sub-action fixes the amount on the output
// side of the path.
func (s SubAction) ExactOutput() bool {
	switch s {
	case OpenLong, CloseShort, SwapDebt:
		return true
	}
	return false
}

func (s SubAction) known() bool {
	switch s {
	case OpenLong, CloseShort, SwapDebt, CloseLong, OpenShort, SwapCollateral:
		return true
	}
	return false
}

// Descriptor describes one leveraged swap chain. Path runs from the input
// asset to the output asset; FeePips selects the concentrated venue with one
// fee tier per hop, or the constant-product venue when empty.
//
// AmountSpecified fixes the output side for exact-output sub-actions and the
// input side for exact-input ones; it may be the full-balance sentinel for
// the position-closing sub-actions. AmountLimit bounds the opposite side
// (maximum input, or minimum output); nil means unbounded. Deadline is a unix
// timestamp, zero for none.
type Descriptor struct {
	SubAction       SubAction
	Account         common.Address
	Path            []common.Address
	FeePips         []uint32
	AmountSpecified *big.Int
	AmountLimit     *big.Int
	Deadline        int64
}

// call is the per-execution state shared by every recursion frame.
type call struct {
	desc    *Descriptor
	amount  *big.Int // AmountSpecified with the full sentinel resolved
	ticks   bool
	amounts []*big.Int
	// reversed marks the constant-product exact-output chain, whose amounts
	// run from the terminal output back to the first-hop input.
	reversed bool
}

// amountAt returns the hop amount at path index i.
func (c *call) amountAt(i int) *big.Int {
	if c.reversed {
		return c.amounts[len(c.amounts)-1-i]
	}
	return c.amounts[i]
}

// frame is one pending flash swap awaiting its settlement callback.
type frame struct {
	hop      int
	pool     common.Address
	assetIn  common.Address
	assetOut common.Address
	feePips  uint32
	owed     *big.Int
}

// Engine executes one flash-swap leveraged operation end to end: it sizes
// every hop of the chain, initiates the flash swap at the first pool, and
// settles the venue callbacks as they recurse down the path, touching the
// ledger only at the final hop. Not safe for concurrent use; the dispatcher
// serializes executions.
type Engine struct {
	bank      *bank.Bank
	ledger    ledger.Ledger
	constProd *constprod.Venue
	ticksV    *ticks.Venue
	account   common.Address
	now       func() time.Time
	logger    *zap.Logger

	active *call
	frames []*frame
}

// Account is the bank account the engine routes flash-swap proceeds and
// repayments through. It holds nothing between executions.
func Account() common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("flashlever/settlement"))[12:])
}

func New(b *bank.Bank, l ledger.Ledger, cp *constprod.Venue, tv *ticks.Venue, logger *zap.Logger) *Engine {
	return &Engine{
		bank:      b,
		ledger:    l,
		constProd: cp,
		ticksV:    tv,
		account:   Account(),
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock overrides the engine's clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Execute runs one leveraged swap chain. Any failure at any depth propagates
// out with no confirmed settlement; the caller owns reverting balance state.
func (e *Engine) Execute(desc *Descriptor) error {
	c, err := e.prepare(desc)
	if err != nil {
		return err
	}
	e.active = c
	defer func() {
		e.active = nil
		e.frames = e.frames[:0]
	}()

	if err := e.flashHop(c, 0); err != nil {
		return err
	}
	return e.sweep(c)
}

// prepare validates the descriptor, resolves the full-balance sentinel once,
// and sizes every hop of the chain from current venue state.
func (e *Engine) prepare(desc *Descriptor) (*call, error) {
	if desc == nil || !desc.SubAction.known() {
		return nil, fmt.Errorf("%w: unknown sub-action", apperrors.ErrInvalidAction)
	}
	if len(desc.Path) < 2 {
		return nil, fmt.Errorf("%w: swap path needs at least two assets", apperrors.ErrInvalidAction)
	}
	if len(desc.FeePips) != 0 && len(desc.FeePips) != len(desc.Path)-1 {
		return nil, fmt.Errorf("%w: want %d fee tiers, got %d",
			apperrors.ErrInvalidAction, len(desc.Path)-1, len(desc.FeePips))
	}
	if desc.Deadline != 0 && e.now().Unix() > desc.Deadline {
		return nil, fmt.Errorf("%w: deadline %d passed", apperrors.ErrDeadlineExpired, desc.Deadline)
	}

	amount, err := e.resolveAmount(desc)
	if err != nil {
		return nil, err
	}

	c := &call{
		desc:   desc,
		amount: amount,
		ticks:  len(desc.FeePips) > 0,
	}
	if err := e.sizeChain(c); err != nil {
		return nil, err
	}

	if desc.AmountLimit != nil {
		if desc.SubAction.ExactOutput() {
			if c.amountAt(0).Cmp(desc.AmountLimit) > 0 {
				return nil, fmt.Errorf("%w: chain needs %s, limit %s",
					apperrors.ErrSlippageExceeded, c.amountAt(0), desc.AmountLimit)
			}
		} else if c.amountAt(len(desc.Path) - 1).Cmp(desc.AmountLimit) < 0 {
			return nil, fmt.Errorf("%w: chain returns %s, limit %s",
				apperrors.ErrSlippageExceeded, c.amountAt(len(desc.Path)-1), desc.AmountLimit)
		}
	}
	return c, nil
}

// resolveAmount substitutes the full-balance sentinel from the user's current
// position, exactly once, before any quoting begins.
func (e *Engine) resolveAmount(desc *Descriptor) (*big.Int, error) {
	amount := desc.AmountSpecified
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", apperrors.ErrInvalidAction)
	}
	if !ledger.IsFullAmount(amount) {
		return new(big.Int).Set(amount), nil
	}
	switch desc.SubAction {
	case CloseShort, SwapDebt:
		return e.ledger.BorrowBalance(desc.Account, desc.Path[len(desc.Path)-1]), nil
	case CloseLong, SwapCollateral:
		return e.ledger.SupplyBalance(desc.Account, desc.Path[0]), nil
	default:
		return nil, fmt.Errorf("%w: full-balance sentinel not valid for %s",
			apperrors.ErrInvalidAction, desc.SubAction)
	}
}

// sizeChain fills c.amounts with the per-node hop amounts. The
// constant-product exact-output chain keeps the reversed order its quoting
// function contract specifies; every other combination is path-ordered.
func (e *Engine) sizeChain(c *call) error {
	path := c.desc.Path
	if !c.ticks {
		var err error
		if c.desc.SubAction.ExactOutput() {
			c.amounts, err = swapmath.ChainQuoteIn(e.constProd.Reserves, path, c.amount)
			c.reversed = true
		} else {
			c.amounts, err = swapmath.ChainQuoteOut(e.constProd.Reserves, path, c.amount)
		}
		return err
	}

	c.amounts = make([]*big.Int, len(path))
	if c.desc.SubAction.ExactOutput() {
		c.amounts[len(path)-1] = new(big.Int).Set(c.amount)
		for i := len(path) - 2; i >= 0; i-- {
			owed, err := e.ticksV.QuoteIn(path[i], path[i+1], c.desc.FeePips[i], c.amounts[i+1])
			if err != nil {
				return fmt.Errorf("hop %d: %w", i, err)
			}
			c.amounts[i] = owed
		}
		return nil
	}
	c.amounts[0] = new(big.Int).Set(c.amount)
	for i := 0; i < len(path)-1; i++ {
		out, err := e.ticksV.QuoteOut(path[i], path[i+1], c.desc.FeePips[i], c.amounts[i])
		if err != nil {
			return fmt.Errorf("hop %d: %w", i, err)
		}
		c.amounts[i+1] = out
	}
	return nil
}

// flashHop initiates hop i's flash swap, pushing the pending frame the
// settlement callback authenticates against.
func (e *Engine) flashHop(c *call, hop int) error {
	assetIn, assetOut := c.desc.Path[hop], c.desc.Path[hop+1]
	f := &frame{hop: hop, assetIn: assetIn, assetOut: assetOut}
	if c.ticks {
		f.feePips = c.desc.FeePips[hop]
		f.pool = e.ticksV.PoolID(assetIn, assetOut, f.feePips)
	} else {
		f.pool = e.constProd.PoolID(assetIn, assetOut)
	}

	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(hop))

	e.frames = append(e.frames, f)
	defer func() { e.frames = e.frames[:len(e.frames)-1] }()

	amountOut := c.amountAt(hop + 1)
	if c.ticks {
		return e.ticksV.FlashSwap(f.pool, assetOut, amountOut, e.account, e, payload)
	}
	return e.constProd.FlashSwap(f.pool, assetOut, amountOut, e.account, e, payload)
}

// SettleFlashSwap is the venue callback. The calling pool must match the
// innermost pending frame, re-derived from the frame's asset pair; anything
// else is an unauthorized callback and fails before any state moves.
func (e *Engine) SettleFlashSwap(pool, repayAsset common.Address, amountOwed *big.Int, payload []byte) error {
	c := e.active
	if c == nil || len(e.frames) == 0 {
		return fmt.Errorf("%w: no flash swap pending", apperrors.ErrUnauthorizedCallback)
	}
	f := e.frames[len(e.frames)-1]

	var expected common.Address
	if c.ticks {
		expected = e.ticksV.PoolID(f.assetIn, f.assetOut, f.feePips)
	} else {
		expected = e.constProd.PoolID(f.assetIn, f.assetOut)
	}
	if pool != expected || pool != f.pool || repayAsset != f.assetIn {
		return fmt.Errorf("%w: callback from %s, expected pool %s",
			apperrors.ErrUnauthorizedCallback, pool.Hex(), expected.Hex())
	}
	if len(payload) != 4 || int(binary.BigEndian.Uint32(payload)) != f.hop {
		return fmt.Errorf("%w: callback payload does not match pending hop",
			apperrors.ErrUnauthorizedCallback)
	}
	f.owed = new(big.Int).Set(amountOwed)

	if f.hop < len(c.desc.Path)-2 {
		if err := e.flashHop(c, f.hop+1); err != nil {
			return err
		}
	} else if err := e.settleLedger(c); err != nil {
		return err
	}

	// Close this frame's loan; the venue verifies the repayment on return.
	if err := e.bank.Transfer(e.account, pool, repayAsset, amountOwed); err != nil {
		return fmt.Errorf("%w: repaying pool: %v", apperrors.ErrInsufficientInput, err)
	}
	e.logger.Debug("flash hop settled",
		zap.Int("hop", f.hop),
		zap.String("pool", pool.Hex()),
		zap.String("owed", amountOwed.String()))
	return nil
}

// settleLedger runs at the final hop, once the terminal output sits in the
// engine account and the amount owed at the first pool is known. It acquires
// the input-side funds from the user's position and settles the output side,
// so every pending frame above can repay its pool on the way out.
func (e *Engine) settleLedger(c *call) error {
	user := c.desc.Account
	assetIn, assetOut := c.desc.Path[0], c.desc.Path[len(c.desc.Path)-1]

	var amountIn, amountOut *big.Int
	if c.desc.SubAction.ExactOutput() {
		amountIn = e.frames[0].owed
		amountOut = c.amount
	} else {
		amountIn = c.amount
		amountOut = c.amountAt(len(c.desc.Path) - 1)
	}

	var err error
	switch c.desc.SubAction {
	case OpenLong:
		if err = e.ledger.Supply(e.account, user, assetOut, amountOut); err == nil {
			err = e.ledger.Borrow(user, e.account, assetIn, amountIn)
		}
	case CloseShort:
		if _, err = e.ledger.Repay(e.account, user, assetOut, amountOut); err == nil {
			_, err = e.ledger.Redeem(user, e.account, assetIn, amountIn)
		}
	case SwapDebt:
		if _, err = e.ledger.Repay(e.account, user, assetOut, amountOut); err == nil {
			err = e.ledger.Borrow(user, e.account, assetIn, amountIn)
		}
	case CloseLong:
		if _, err = e.ledger.Redeem(user, e.account, assetIn, amountIn); err == nil {
			_, err = e.ledger.Repay(e.account, user, assetOut, amountOut)
		}
	case OpenShort:
		if err = e.ledger.Borrow(user, e.account, assetIn, amountIn); err == nil {
			err = e.ledger.Supply(e.account, user, assetOut, amountOut)
		}
	case SwapCollateral:
		if _, err = e.ledger.Redeem(user, e.account, assetIn, amountIn); err == nil {
			err = e.ledger.Supply(e.account, user, assetOut, amountOut)
		}
	}
	if err != nil && !errors.Is(err, apperrors.ErrLedgerRejected) {
		err = fmt.Errorf("%w: %v", apperrors.ErrLedgerRejected, err)
	}
	return err
}

// sweep returns every residual path-asset balance in the engine account to
// the user: exact-input rounding dust, and repayment clamped below the
// quoted output.
func (e *Engine) sweep(c *call) error {
	for _, asset := range c.desc.Path {
		residual := e.bank.BalanceOf(e.account, asset)
		if residual.Sign() == 0 {
			continue
		}
		if err := e.bank.Transfer(e.account, c.desc.Account, asset, residual); err != nil {
			return fmt.Errorf("%w: refunding residual: %v", apperrors.ErrInternal, err)
		}
	}
	return nil
}
