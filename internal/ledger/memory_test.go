package ledger

import (
	"math/big"
	"testing"

	"flashlever/internal/bank"
	apperrors "flashlever/internal/shared/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	module = common.HexToAddress("0x00000000000000000000000000000000000000eD")
	user   = common.HexToAddress("0x5555555555555555555555555555555555555555")
	funder = common.HexToAddress("0x6666666666666666666666666666666666666666")
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000Aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000Bb")
)

type alwaysDeferred struct{}

func (alwaysDeferred) Deferred(common.Address) bool { return true }

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newTestLedger(t *testing.T) (*Memory, *bank.Bank) {
	t.Helper()
	b := bank.New()
	markets := map[common.Address]Market{
		tokenA: {Price: e18(1), CollateralFactorBps: 8_000},
		tokenB: {Price: e18(1), CollateralFactorBps: 8_000},
	}
	m := NewMemory(b, module, markets, zap.NewNop())

	// Seed pool liquidity and the user's wallet.
	b.Mint(module, tokenA, big.NewInt(1_000_000))
	b.Mint(module, tokenB, big.NewInt(1_000_000))
	b.Mint(user, tokenA, big.NewInt(10_000))
	b.Mint(funder, tokenB, big.NewInt(10_000))
	return m, b
}

func TestSupplyBorrowRoundtrip(t *testing.T) {
	m, b := newTestLedger(t)

	require.NoError(t, m.Supply(user, user, tokenA, big.NewInt(1_000)))
	require.Equal(t, int64(1_000), m.SupplyBalance(user, tokenA).Int64())
	require.Equal(t, int64(9_000), b.BalanceOf(user, tokenA).Int64())

	require.NoError(t, m.Borrow(user, user, tokenB, big.NewInt(500)))
	require.Equal(t, int64(500), m.BorrowBalance(user, tokenB).Int64())
	require.Equal(t, int64(500), b.BalanceOf(user, tokenB).Int64())
}

func TestBorrowWithoutCollateralFailsImmediately(t *testing.T) {
	m, _ := newTestLedger(t)

	err := m.Borrow(user, user, tokenB, big.NewInt(500))
	require.ErrorIs(t, err, apperrors.ErrLedgerRejected)
}

func TestBorrowWithoutCollateralAllowedWhenDeferred(t *testing.T) {
	m, _ := newTestLedger(t)
	m.SetDeferral(alwaysDeferred{})

	require.NoError(t, m.Borrow(user, user, tokenB, big.NewInt(500)))
	require.ErrorIs(t, m.CheckAccountSolvency(user), apperrors.ErrLedgerRejected)
}

func TestSolvencyUsesCollateralFactor(t *testing.T) {
	m, _ := newTestLedger(t)

	require.NoError(t, m.Supply(user, user, tokenA, big.NewInt(1_000)))
	// 1000 at 80% covers at most 800 of equal-priced debt.
	require.NoError(t, m.Borrow(user, user, tokenB, big.NewInt(800)))
	err := m.Borrow(user, user, tokenB, big.NewInt(1))
	require.ErrorIs(t, err, apperrors.ErrLedgerRejected)
}

func TestRedeemFullSentinel(t *testing.T) {
	m, b := newTestLedger(t)

	require.NoError(t, m.Supply(user, user, tokenA, big.NewInt(1_234)))
	actual, err := m.Redeem(user, user, tokenA, FullAmount)
	require.NoError(t, err)
	require.Equal(t, int64(1_234), actual.Int64())
	require.Zero(t, m.SupplyBalance(user, tokenA).Sign())
	require.Equal(t, int64(10_000), b.BalanceOf(user, tokenA).Int64())
}

func TestRepayClampsToDebt(t *testing.T) {
	m, _ := newTestLedger(t)

	require.NoError(t, m.Supply(user, user, tokenA, big.NewInt(1_000)))
	require.NoError(t, m.Borrow(user, user, tokenB, big.NewInt(300)))

	actual, err := m.Repay(funder, user, tokenB, big.NewInt(10_000))
	require.NoError(t, err)
	require.Equal(t, int64(300), actual.Int64())
	require.Zero(t, m.BorrowBalance(user, tokenB).Sign())

	_, err = m.Repay(funder, user, tokenB, big.NewInt(1))
	require.ErrorIs(t, err, apperrors.ErrLedgerRejected)
}

func TestUnknownMarketRejected(t *testing.T) {
	m, _ := newTestLedger(t)
	unknown := common.HexToAddress("0x00000000000000000000000000000000000000Cc")

	err := m.Supply(user, user, unknown, big.NewInt(1))
	require.ErrorIs(t, err, apperrors.ErrLedgerRejected)
}

func TestSnapshotRestoresPositions(t *testing.T) {
	m, _ := newTestLedger(t)

	require.NoError(t, m.Supply(user, user, tokenA, big.NewInt(1_000)))
	snap := m.Snapshot()
	require.NoError(t, m.Borrow(user, user, tokenB, big.NewInt(100)))

	m.Restore(snap)
	require.Zero(t, m.BorrowBalance(user, tokenB).Sign())
	require.Equal(t, int64(1_000), m.SupplyBalance(user, tokenA).Int64())
}
