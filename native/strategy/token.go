package strategy

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"rsavings/native/rtoken"
	"rsavings/storage"
)

var (
	tokenBalancePrefix   = []byte("token/bal/")
	tokenAllowancePrefix = []byte("token/allow/")
)

// LedgerToken is a storage-backed fungible asset with transfer, approve and
// transferFrom semantics. The ledger engine pulls deposits from it and pays
// redemptions through it; in this service the pool itself is the only
// approved spender.
type LedgerToken struct {
	mu   sync.Mutex
	db   storage.Database
	pool rtoken.Address
}

// NewLedgerToken opens the token over the given database with the pool
// address acting as spender for deposit pulls.
func NewLedgerToken(db storage.Database, pool rtoken.Address) *LedgerToken {
	return &LedgerToken{db: db, pool: pool}
}

// BalanceOf returns the holder's token balance.
func (t *LedgerToken) BalanceOf(addr rtoken.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readAmount(balanceKey(addr))
}

// Allowance returns what the pool may still pull from the owner.
func (t *LedgerToken) Allowance(owner rtoken.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readAmount(allowanceKey(owner))
}

// Approve sets the amount the pool may pull from the owner's balance.
func (t *LedgerToken) Approve(owner rtoken.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: approve amount %v", rtoken.ErrInvalidAmount, amount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeAmount(allowanceKey(owner), amount)
}

// Credit adds amount to the holder's balance. Used when applying the genesis
// allocation.
func (t *LedgerToken) Credit(addr rtoken.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: credit amount %v", rtoken.ErrInvalidAmount, amount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	balance, err := t.readAmount(balanceKey(addr))
	if err != nil {
		return err
	}
	return t.writeAmount(balanceKey(addr), new(big.Int).Add(balance, amount))
}

// TransferFrom pulls amount from the owner into the destination, consuming
// the pool's allowance. Only the pool may be the destination of a pull.
func (t *LedgerToken) TransferFrom(from, to rtoken.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: transfer amount %v", rtoken.ErrInvalidAmount, amount)
	}
	if to != t.pool {
		return fmt.Errorf("%w: pull destination %s is not the pool", rtoken.ErrTransferFailed, to)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	allowance, err := t.readAmount(allowanceKey(from))
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance %v below %v for %s", rtoken.ErrInsufficientAllowance, allowance, amount, from)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	return t.writeAmount(allowanceKey(from), new(big.Int).Sub(allowance, amount))
}

// Transfer pays amount from the pool to the recipient.
func (t *LedgerToken) Transfer(to rtoken.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: transfer amount %v", rtoken.ErrInvalidAmount, amount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(t.pool, to, amount)
}

// debitPool removes invested funds from the pool balance; the bound strategy
// custodies them from that point on.
func (t *LedgerToken) debitPool(amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	balance, err := t.readAmount(balanceKey(t.pool))
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: pool balance %v below invested %v", rtoken.ErrTransferFailed, balance, amount)
	}
	return t.writeAmount(balanceKey(t.pool), new(big.Int).Sub(balance, amount))
}

// creditPool returns divested funds, yield included, to the pool balance.
func (t *LedgerToken) creditPool(amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	balance, err := t.readAmount(balanceKey(t.pool))
	if err != nil {
		return err
	}
	return t.writeAmount(balanceKey(t.pool), new(big.Int).Add(balance, amount))
}

func (t *LedgerToken) move(from, to rtoken.Address, amount *big.Int) error {
	fromBalance, err := t.readAmount(balanceKey(from))
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %v below %v for %s", rtoken.ErrTransferFailed, fromBalance, amount, from)
	}
	toBalance, err := t.readAmount(balanceKey(to))
	if err != nil {
		return err
	}
	if err := t.writeAmount(balanceKey(from), new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return t.writeAmount(balanceKey(to), new(big.Int).Add(toBalance, amount))
}

func (t *LedgerToken) readAmount(key []byte) (*big.Int, error) {
	raw, err := t.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	out, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("strategy: corrupt amount at %q", key)
	}
	return out, nil
}

func (t *LedgerToken) writeAmount(key []byte, amount *big.Int) error {
	return t.db.Put(key, []byte(amount.String()))
}

func balanceKey(addr rtoken.Address) []byte {
	return append(append([]byte(nil), tokenBalancePrefix...), addr[:]...)
}

func allowanceKey(addr rtoken.Address) []byte {
	return append(append([]byte(nil), tokenAllowancePrefix...), addr[:]...)
}

var _ rtoken.Token = (*LedgerToken)(nil)
