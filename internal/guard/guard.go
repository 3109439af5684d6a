package guard

import (
	"fmt"
	"sync"

	apperrors "flashlever/internal/shared/errors"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// SolvencyChecker validates that an account's positions are healthy.
type SolvencyChecker interface {
	CheckAccountSolvency(account common.Address) error
}

// Scope defers an account's solvency check to the end of a batch. Entries are
// reference counted per account so nested flash-swap callbacks can re-enter
// without double-triggering the check; it fires exactly once, when the
// outermost frame exits.
type Scope struct {
	mu      sync.Mutex
	depth   map[common.Address]int
	checker SolvencyChecker
	logger  *zap.Logger
}

func NewScope(logger *zap.Logger) *Scope {
	return &Scope{
		depth:  make(map[common.Address]int),
		logger: logger,
	}
}

// Bind wires the checker after construction. The scope and the ledger
// reference each other, so one side has to be late-bound.
func (s *Scope) Bind(checker SolvencyChecker) {
	s.checker = checker
}

// Enter marks the account's check as deferred, incrementing the nesting depth.
func (s *Scope) Enter(account common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depth[account]++
}

// Exit decrements the nesting depth. When the outermost scope exits, the
// account's entry is removed and the deferred solvency check runs. An exit
// without a matching enter fails closed.
func (s *Scope) Exit(account common.Address) error {
	s.mu.Lock()
	depth, ok := s.depth[account]
	if !ok || depth <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: deferred-check exit without matching enter for %s",
			apperrors.ErrInternal, account.Hex())
	}
	if depth > 1 {
		s.depth[account] = depth - 1
		s.mu.Unlock()
		return nil
	}
	// Outermost exit: clear the entry before running the check so a failed
	// check still leaves the account clean for its next batch.
	delete(s.depth, account)
	s.mu.Unlock()

	if s.checker == nil {
		return fmt.Errorf("%w: deferred-check scope has no checker bound", apperrors.ErrInternal)
	}
	if err := s.checker.CheckAccountSolvency(account); err != nil {
		s.logger.Debug("deferred solvency check failed",
			zap.String("account", account.Hex()), zap.Error(err))
		return err
	}
	return nil
}

// Deferred reports whether a check is currently deferred for the account.
func (s *Scope) Deferred(account common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth[account] > 0
}
