package dispatch

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"flashlever/internal/bank"
	"flashlever/internal/guard"
	"flashlever/internal/ledger"
	apperrors "flashlever/internal/shared/errors"
	"flashlever/internal/settlement"
	"flashlever/internal/venue/constprod"
	"flashlever/internal/venue/ticks"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Opcode names one batch operation.
type Opcode string

const (
	OpSupply       Opcode = "supply"
	OpBorrow       Opcode = "borrow"
	OpRedeem       Opcode = "redeem"
	OpRepay        Opcode = "repay"
	OpLeverage     Opcode = "leverage"
	OpWrapNative   Opcode = "wrap_native"
	OpUnwrapNative Opcode = "unwrap_native"
	OpDeferCheck   Opcode = "defer_check"
)

// Action is one (opcode, payload) pair of a batch.
type Action struct {
	Op      Opcode          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ledgerPayload is the body of the four ledger passthrough opcodes.
type ledgerPayload struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// wrapPayload is the body of the native wrap opcodes.
type wrapPayload struct {
	Amount string `json:"amount"`
}

// leveragePayload is the body of the leverage opcode.
type leveragePayload struct {
	SubAction string   `json:"sub_action"`
	Path      []string `json:"path"`
	FeePips   []uint32 `json:"fee_pips,omitempty"`
	Amount    string   `json:"amount"`
	Limit     string   `json:"limit,omitempty"`
	Deadline  int64    `json:"deadline,omitempty"`
}

// Dispatcher executes ordered action batches atomically: every action applies
// or none do, and the caller's solvency is checked once, after the last
// action. A mutex serializes batches; the settlement engine and the ledger
// assume single-flight execution.
type Dispatcher struct {
	mu sync.Mutex

	bank   *bank.Bank
	ledger *ledger.Memory
	scope  *guard.Scope
	engine *settlement.Engine
	cp     *constprod.Venue
	tk     *ticks.Venue

	native  common.Address
	wrapped common.Address
	logger  *zap.Logger
}

func New(
	b *bank.Bank,
	mem *ledger.Memory,
	scope *guard.Scope,
	engine *settlement.Engine,
	cp *constprod.Venue,
	tk *ticks.Venue,
	native, wrapped common.Address,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		bank:    b,
		ledger:  mem,
		scope:   scope,
		engine:  engine,
		cp:      cp,
		tk:      tk,
		native:  native,
		wrapped: wrapped,
		logger:  logger,
	}
}

// Dispatch executes the batch for caller. A positive value credits the caller
// with that much of the native asset before the first action runs; like every
// other effect of the batch it is rolled back on failure.
func (d *Dispatcher) Dispatch(caller common.Address, value *big.Int, actions []Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(actions) == 0 {
		return fmt.Errorf("%w: empty batch", apperrors.ErrInvalidAction)
	}

	bankSnap := d.bank.Snapshot()
	ledgerSnap := d.ledger.Snapshot()
	tickSnap := d.tk.Snapshot()
	revert := func() {
		d.bank.Restore(bankSnap)
		d.ledger.Restore(ledgerSnap)
		d.tk.Restore(tickSnap)
	}

	if value != nil && value.Sign() > 0 {
		d.bank.Mint(caller, d.native, value)
	}

	d.scope.Enter(caller)
	for i, action := range actions {
		if err := d.apply(caller, action); err != nil {
			revert()
			_ = d.scope.Exit(caller)
			d.logger.Debug("batch reverted",
				zap.String("caller", caller.Hex()),
				zap.Int("action", i),
				zap.Error(err))
			return fmt.Errorf("action %d: %w", i, err)
		}
	}

	if err := d.scope.Exit(caller); err != nil {
		revert()
		d.logger.Debug("batch reverted by solvency check",
			zap.String("caller", caller.Hex()), zap.Error(err))
		return err
	}

	d.logger.Info("batch dispatched",
		zap.String("caller", caller.Hex()),
		zap.Int("actions", len(actions)))
	return nil
}

func (d *Dispatcher) apply(caller common.Address, action Action) error {
	switch action.Op {
	case OpSupply, OpBorrow, OpRedeem, OpRepay:
		return d.applyLedger(caller, action)
	case OpLeverage:
		return d.applyLeverage(caller, action)
	case OpWrapNative, OpUnwrapNative:
		return d.applyWrap(caller, action)
	case OpDeferCheck:
		// The scope is already open for the whole batch.
		return nil
	default:
		return fmt.Errorf("%w: unknown opcode %q", apperrors.ErrInvalidAction, action.Op)
	}
}

func (d *Dispatcher) applyLedger(caller common.Address, action Action) error {
	var p ledgerPayload
	if err := json.Unmarshal(action.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidAction, err)
	}
	asset, err := parseAddress(p.Asset)
	if err != nil {
		return err
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return err
	}
	if ledger.IsFullAmount(amount) && (action.Op == OpSupply || action.Op == OpBorrow) {
		return fmt.Errorf("%w: %s does not accept the full-balance amount", apperrors.ErrInvalidAction, action.Op)
	}

	switch action.Op {
	case OpSupply:
		err = d.ledger.Supply(caller, caller, asset, amount)
	case OpBorrow:
		err = d.ledger.Borrow(caller, caller, asset, amount)
	case OpRedeem:
		_, err = d.ledger.Redeem(caller, caller, asset, amount)
	case OpRepay:
		_, err = d.ledger.Repay(caller, caller, asset, amount)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrLedgerRejected, err)
	}
	return nil
}

func (d *Dispatcher) applyLeverage(caller common.Address, action Action) error {
	var p leveragePayload
	if err := json.Unmarshal(action.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidAction, err)
	}
	path := make([]common.Address, 0, len(p.Path))
	for _, raw := range p.Path {
		asset, err := parseAddress(raw)
		if err != nil {
			return err
		}
		path = append(path, asset)
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return err
	}
	desc := &settlement.Descriptor{
		SubAction:       settlement.SubAction(p.SubAction),
		Account:         caller,
		Path:            path,
		FeePips:         p.FeePips,
		AmountSpecified: amount,
		Deadline:        p.Deadline,
	}
	if p.Limit != "" {
		limit, err := parseAmount(p.Limit)
		if err != nil {
			return err
		}
		desc.AmountLimit = limit
	}
	return d.engine.Execute(desc)
}

func (d *Dispatcher) applyWrap(caller common.Address, action Action) error {
	var p wrapPayload
	if err := json.Unmarshal(action.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidAction, err)
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return err
	}
	if ledger.IsFullAmount(amount) {
		return fmt.Errorf("%w: wrap amount must be literal", apperrors.ErrInvalidAction)
	}

	from, to := d.native, d.wrapped
	if action.Op == OpUnwrapNative {
		from, to = d.wrapped, d.native
	}
	if err := d.bank.Burn(caller, from, amount); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInsufficientInput, err)
	}
	d.bank.Mint(caller, to, amount)
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: malformed asset address %q", apperrors.ErrInvalidAction, raw)
	}
	return common.HexToAddress(raw), nil
}

// parseAmount reads a decimal amount, with "full" meaning the caller's entire
// position balance.
func parseAmount(raw string) (*big.Int, error) {
	if raw == "full" {
		return ledger.FullAmount, nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: malformed amount %q", apperrors.ErrInvalidAction, raw)
	}
	if amount.Cmp(maxUint256) > 0 {
		return nil, apperrors.ErrArithmeticOverflow
	}
	return amount, nil
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
