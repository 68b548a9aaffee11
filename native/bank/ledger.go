// Package bank implements the custody ledger: balances keyed by an owner path
// and an asset symbol. Owner paths are opaque strings so one ledger can hold
// user wallets, isolated margin accounts and pool custody side by side.
package bank

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"marginchain/core/fixed"
	"marginchain/core/state"
)

var (
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrInvalidPath       = errors.New("bank: owner path required")
	ErrInvalidAsset      = errors.New("bank: asset required")
)

var (
	balancePrefix = "bank/balance/"
	supplyPrefix  = "bank/supply/"
)

type storedBalance struct {
	Amount string
}

// Ledger moves value between owner paths. Every movement is recorded in the
// supplied store, which is normally the journal of the calling transaction.
type Ledger struct {
	store state.KVStore
}

// NewLedger binds a ledger to store.
func NewLedger(store state.KVStore) *Ledger {
	return &Ledger{store: store}
}

// BalanceOf returns the balance held at path for asset.
func (l *Ledger) BalanceOf(path, asset string) (*uint256.Int, error) {
	if err := validate(path, asset); err != nil {
		return nil, err
	}
	return l.load(balanceKey(path, asset))
}

// TotalIssued returns the amount of asset that entered the ledger through
// Mint and has not left through Burn.
func (l *Ledger) TotalIssued(asset string) (*uint256.Int, error) {
	if strings.TrimSpace(asset) == "" {
		return nil, ErrInvalidAsset
	}
	return l.load(supplyKey(asset))
}

// DepositFor moves amount of asset from payer into the owner path.
func (l *Ledger) DepositFor(asset, payer, path string, amount *uint256.Int) error {
	return l.Transfer(asset, payer, path, amount)
}

// WithdrawFrom moves amount of asset from the owner path to payee.
func (l *Ledger) WithdrawFrom(asset, path, payee string, amount *uint256.Int) error {
	return l.Transfer(asset, path, payee, amount)
}

// Transfer moves amount of asset between two owner paths. A zero amount is a
// no-op.
func (l *Ledger) Transfer(asset, from, to string, amount *uint256.Int) error {
	if err := validate(from, asset); err != nil {
		return err
	}
	if err := validate(to, asset); err != nil {
		return err
	}
	if fixed.IsZero(amount) || from == to {
		return nil
	}
	if err := l.debit(balanceKey(from, asset), amount); err != nil {
		return fmt.Errorf("%w: %s %s at %s", err, fixed.FormatAmount(amount), asset, from)
	}
	return l.credit(balanceKey(to, asset), amount)
}

// Mint credits value that enters the system from outside, e.g. a bridge
// deposit into a user wallet.
func (l *Ledger) Mint(path, asset string, amount *uint256.Int) error {
	if err := validate(path, asset); err != nil {
		return err
	}
	if fixed.IsZero(amount) {
		return nil
	}
	if err := l.credit(supplyKey(asset), amount); err != nil {
		return err
	}
	return l.credit(balanceKey(path, asset), amount)
}

// Burn removes value that leaves the system.
func (l *Ledger) Burn(path, asset string, amount *uint256.Int) error {
	if err := validate(path, asset); err != nil {
		return err
	}
	if fixed.IsZero(amount) {
		return nil
	}
	if err := l.debit(balanceKey(path, asset), amount); err != nil {
		return fmt.Errorf("%w: %s %s at %s", err, fixed.FormatAmount(amount), asset, path)
	}
	return l.debit(supplyKey(asset), amount)
}

func (l *Ledger) credit(key []byte, amount *uint256.Int) error {
	current, err := l.load(key)
	if err != nil {
		return err
	}
	next, err := fixed.Add(current, amount)
	if err != nil {
		return err
	}
	return l.store.KVPut(key, storedBalance{Amount: fixed.FormatAmount(next)})
}

func (l *Ledger) debit(key []byte, amount *uint256.Int) error {
	current, err := l.load(key)
	if err != nil {
		return err
	}
	if current.Lt(amount) {
		return ErrInsufficientFunds
	}
	next, err := fixed.Sub(current, amount)
	if err != nil {
		return err
	}
	return l.store.KVPut(key, storedBalance{Amount: fixed.FormatAmount(next)})
}

func (l *Ledger) load(key []byte) (*uint256.Int, error) {
	var stored storedBalance
	ok, err := l.store.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok || stored.Amount == "" {
		return fixed.Zero(), nil
	}
	return fixed.ParseAmount(stored.Amount)
}

func validate(path, asset string) error {
	if strings.TrimSpace(path) == "" {
		return ErrInvalidPath
	}
	if strings.TrimSpace(asset) == "" {
		return ErrInvalidAsset
	}
	return nil
}

func balanceKey(path, asset string) []byte {
	return []byte(balancePrefix + path + "/" + asset)
}

func supplyKey(asset string) []byte {
	return []byte(supplyPrefix + asset)
}
