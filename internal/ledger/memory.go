package ledger

import (
	"fmt"
	"math/big"

	"flashlever/internal/bank"
	apperrors "flashlever/internal/shared/errors"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var basisPoints = big.NewInt(10_000)

// Market holds the risk parameters for one listed asset. Price is scaled by
// 1e18 against the accounting unit.
type Market struct {
	Price               *big.Int
	CollateralFactorBps uint64
}

// DeferralView reports whether an account's solvency check is currently
// deferred to the end of a batch.
type DeferralView interface {
	Deferred(account common.Address) bool
}

type position struct {
	supplied *big.Int
	borrowed *big.Int
}

// Memory is an in-memory ledger. Supplied tokens sit on the module address in
// the bank; positions track per-(account, asset) supply and borrow balances.
type Memory struct {
	bank       *bank.Bank
	moduleAddr common.Address
	markets    map[common.Address]Market
	positions  map[common.Address]map[common.Address]*position
	deferral   DeferralView
	logger     *zap.Logger
}

// Snapshot is an opaque copy of all positions. Bank balances are snapshotted
// separately by the bank itself.
type Snapshot struct {
	positions map[common.Address]map[common.Address]*position
}

func NewMemory(b *bank.Bank, moduleAddr common.Address, markets map[common.Address]Market, logger *zap.Logger) *Memory {
	cloned := make(map[common.Address]Market, len(markets))
	for asset, m := range markets {
		cloned[asset] = Market{
			Price:               new(big.Int).Set(m.Price),
			CollateralFactorBps: m.CollateralFactorBps,
		}
	}
	return &Memory{
		bank:       b,
		moduleAddr: moduleAddr,
		markets:    cloned,
		positions:  make(map[common.Address]map[common.Address]*position),
		logger:     logger,
	}
}

// SetDeferral wires the deferred-check scope. Without one every
// balance-changing operation checks solvency immediately.
func (m *Memory) SetDeferral(view DeferralView) {
	m.deferral = view
}

// ModuleAddress returns the bank account holding the ledger's liquidity.
func (m *Memory) ModuleAddress() common.Address {
	return m.moduleAddr
}

func (m *Memory) Supply(payer, receiver, asset common.Address, amount *big.Int) error {
	if err := m.requireMarket(asset); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: supply amount must be positive", apperrors.ErrLedgerRejected)
	}
	if err := m.bank.Transfer(payer, m.moduleAddr, asset, amount); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrLedgerRejected, err)
	}
	pos := m.ensurePosition(receiver, asset)
	pos.supplied.Add(pos.supplied, amount)
	return nil
}

func (m *Memory) Borrow(payer, receiver, asset common.Address, amount *big.Int) error {
	if err := m.requireMarket(asset); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: borrow amount must be positive", apperrors.ErrLedgerRejected)
	}
	if m.bank.BalanceOf(m.moduleAddr, asset).Cmp(amount) < 0 {
		return fmt.Errorf("%w: ledger has no liquidity in %s", apperrors.ErrInsufficientLiquidity, asset.Hex())
	}
	pos := m.ensurePosition(payer, asset)
	pos.borrowed.Add(pos.borrowed, amount)
	if err := m.bank.Transfer(m.moduleAddr, receiver, asset, amount); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrLedgerRejected, err)
	}
	return m.maybeCheck(payer)
}

func (m *Memory) Redeem(payer, receiver, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := m.requireMarket(asset); err != nil {
		return nil, err
	}
	pos := m.ensurePosition(payer, asset)
	actual := amount
	if IsFullAmount(amount) {
		actual = new(big.Int).Set(pos.supplied)
	}
	if actual == nil || actual.Sign() <= 0 {
		return nil, fmt.Errorf("%w: nothing to redeem", apperrors.ErrLedgerRejected)
	}
	if pos.supplied.Cmp(actual) < 0 {
		return nil, fmt.Errorf("%w: redeem exceeds supplied balance", apperrors.ErrLedgerRejected)
	}
	pos.supplied.Sub(pos.supplied, actual)
	if err := m.bank.Transfer(m.moduleAddr, receiver, asset, actual); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrLedgerRejected, err)
	}
	if err := m.maybeCheck(payer); err != nil {
		return nil, err
	}
	return new(big.Int).Set(actual), nil
}

func (m *Memory) Repay(payer, receiver, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := m.requireMarket(asset); err != nil {
		return nil, err
	}
	pos := m.ensurePosition(receiver, asset)
	if pos.borrowed.Sign() == 0 {
		return nil, fmt.Errorf("%w: no outstanding debt to repay", apperrors.ErrLedgerRejected)
	}
	actual := amount
	if IsFullAmount(amount) || (amount != nil && amount.Cmp(pos.borrowed) > 0) {
		actual = new(big.Int).Set(pos.borrowed)
	}
	if actual == nil || actual.Sign() <= 0 {
		return nil, fmt.Errorf("%w: repay amount must be positive", apperrors.ErrLedgerRejected)
	}
	if err := m.bank.Transfer(payer, m.moduleAddr, asset, actual); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrLedgerRejected, err)
	}
	pos.borrowed.Sub(pos.borrowed, actual)
	return new(big.Int).Set(actual), nil
}

// CheckAccountSolvency requires risk-adjusted collateral to cover debt:
// sum(supplied_i * price_i * cf_i / 10000) >= sum(borrowed_i * price_i).
func (m *Memory) CheckAccountSolvency(account common.Address) error {
	assets, ok := m.positions[account]
	if !ok {
		return nil
	}
	collateral := new(big.Int)
	debt := new(big.Int)
	term := new(big.Int)
	for asset, pos := range assets {
		market, ok := m.markets[asset]
		if !ok {
			continue
		}
		if pos.supplied.Sign() > 0 {
			term.Mul(pos.supplied, market.Price)
			term.Mul(term, new(big.Int).SetUint64(market.CollateralFactorBps))
			term.Quo(term, basisPoints)
			collateral.Add(collateral, term)
		}
		if pos.borrowed.Sign() > 0 {
			term.Mul(pos.borrowed, market.Price)
			debt.Add(debt, term)
		}
	}
	if collateral.Cmp(debt) < 0 {
		m.logger.Debug("account insolvent",
			zap.String("account", account.Hex()),
			zap.String("collateral", collateral.String()),
			zap.String("debt", debt.String()))
		return fmt.Errorf("%w: account %s insolvent", apperrors.ErrLedgerRejected, account.Hex())
	}
	return nil
}

func (m *Memory) SupplyBalance(account, asset common.Address) *big.Int {
	if pos, ok := m.positions[account][asset]; ok {
		return new(big.Int).Set(pos.supplied)
	}
	return new(big.Int)
}

func (m *Memory) BorrowBalance(account, asset common.Address) *big.Int {
	if pos, ok := m.positions[account][asset]; ok {
		return new(big.Int).Set(pos.borrowed)
	}
	return new(big.Int)
}

func (m *Memory) Snapshot() *Snapshot {
	copied := make(map[common.Address]map[common.Address]*position, len(m.positions))
	for account, assets := range m.positions {
		inner := make(map[common.Address]*position, len(assets))
		for asset, pos := range assets {
			inner[asset] = &position{
				supplied: new(big.Int).Set(pos.supplied),
				borrowed: new(big.Int).Set(pos.borrowed),
			}
		}
		copied[account] = inner
	}
	return &Snapshot{positions: copied}
}

func (m *Memory) Restore(s *Snapshot) {
	if s == nil {
		return
	}
	m.positions = s.positions
}

func (m *Memory) requireMarket(asset common.Address) error {
	if _, ok := m.markets[asset]; !ok {
		return fmt.Errorf("%w: market %s not configured", apperrors.ErrLedgerRejected, asset.Hex())
	}
	return nil
}

func (m *Memory) ensurePosition(account, asset common.Address) *position {
	assets, ok := m.positions[account]
	if !ok {
		assets = make(map[common.Address]*position)
		m.positions[account] = assets
	}
	pos, ok := assets[asset]
	if !ok {
		pos = &position{supplied: new(big.Int), borrowed: new(big.Int)}
		assets[asset] = pos
	}
	return pos
}

func (m *Memory) maybeCheck(account common.Address) error {
	if m.deferral != nil && m.deferral.Deferred(account) {
		return nil
	}
	return m.CheckAccountSolvency(account)
}

var _ Ledger = (*Memory)(nil)
