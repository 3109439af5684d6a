package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientBalance = errors.New("bank: insufficient balance")

// Bank is the account-keyed token store every component settles through: user
// wallets, the ledger's module reserves, the settlement engine's transient
// funds, and pool reserves are all entries here. It is not safe for concurrent
// use; the dispatcher serialises top-level calls.
type Bank struct {
	balances map[common.Address]map[common.Address]*big.Int
}

// Snapshot is an opaque copy of the bank's full state.
type Snapshot struct {
	balances map[common.Address]map[common.Address]*big.Int
}

func New() *Bank {
	return &Bank{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

// BalanceOf returns a copy of the holder's balance in the given asset.
func (b *Bank) BalanceOf(holder, asset common.Address) *big.Int {
	assets, ok := b.balances[holder]
	if !ok {
		return new(big.Int)
	}
	balance, ok := assets[asset]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(balance)
}

// Mint credits newly issued units to the holder. Used for genesis balances
// and for materialising the native value attached to a dispatch.
func (b *Bank) Mint(holder, asset common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	b.credit(holder, asset, amount)
}

// Burn destroys units held by the holder.
func (b *Bank) Burn(holder, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: negative burn amount")
	}
	return b.debit(holder, asset, amount)
}

// Transfer moves amount of asset between holders.
func (b *Bank) Transfer(from, to, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: negative transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := b.debit(from, asset, amount); err != nil {
		return err
	}
	b.credit(to, asset, amount)
	return nil
}

func (b *Bank) credit(holder, asset common.Address, amount *big.Int) {
	assets, ok := b.balances[holder]
	if !ok {
		assets = make(map[common.Address]*big.Int)
		b.balances[holder] = assets
	}
	balance, ok := assets[asset]
	if !ok {
		balance = new(big.Int)
		assets[asset] = balance
	}
	balance.Add(balance, amount)
}

func (b *Bank) debit(holder, asset common.Address, amount *big.Int) error {
	assets, ok := b.balances[holder]
	if !ok {
		return fmt.Errorf("%w: holder %s has no %s", ErrInsufficientBalance, holder.Hex(), asset.Hex())
	}
	balance, ok := assets[asset]
	if !ok || balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: holder %s asset %s", ErrInsufficientBalance, holder.Hex(), asset.Hex())
	}
	balance.Sub(balance, amount)
	return nil
}

// Snapshot copies the full balance state. Restoring the snapshot undoes every
// movement made after it was taken.
func (b *Bank) Snapshot() *Snapshot {
	copied := make(map[common.Address]map[common.Address]*big.Int, len(b.balances))
	for holder, assets := range b.balances {
		inner := make(map[common.Address]*big.Int, len(assets))
		for asset, balance := range assets {
			inner[asset] = new(big.Int).Set(balance)
		}
		copied[holder] = inner
	}
	return &Snapshot{balances: copied}
}

func (b *Bank) Restore(s *Snapshot) {
	if s == nil {
		return
	}
	b.balances = s.balances
}
