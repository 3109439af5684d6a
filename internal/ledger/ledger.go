package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FullAmount is the sentinel meaning "the caller's entire current balance"
// rather than a literal amount.
var FullAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// IsFullAmount reports whether amount is the full-balance sentinel.
func IsFullAmount(amount *big.Int) bool {
	return amount != nil && amount.Cmp(FullAmount) == 0
}

// Ledger is the lending collaborator the execution layer settles against.
// Balance-changing operations are callable mid-batch without triggering their
// own solvency check when a deferral is active for the affected account; the
// deferred-check scope then runs the check once at the end of the batch.
//
// payer is the side giving something up (tokens or position balance),
// receiver the side credited.
type Ledger interface {
	// Supply moves tokens from payer into the ledger and credits receiver's
	// supply position.
	Supply(payer, receiver, asset common.Address, amount *big.Int) error

	// Borrow charges debt to payer's position and pays the borrowed tokens
	// out to receiver.
	Borrow(payer, receiver, asset common.Address, amount *big.Int) error

	// Redeem debits payer's supply position and pays the tokens out to
	// receiver. Accepts FullAmount; returns the amount actually redeemed.
	Redeem(payer, receiver, asset common.Address, amount *big.Int) (*big.Int, error)

	// Repay moves tokens from payer into the ledger and reduces receiver's
	// debt. Accepts FullAmount; repayment above the outstanding debt is
	// clamped. Returns the amount actually repaid.
	Repay(payer, receiver, asset common.Address, amount *big.Int) (*big.Int, error)

	// CheckAccountSolvency fails when the account's debt is not covered by
	// its risk-adjusted collateral.
	CheckAccountSolvency(account common.Address) error

	SupplyBalance(account, asset common.Address) *big.Int
	BorrowBalance(account, asset common.Address) *big.Int
}
