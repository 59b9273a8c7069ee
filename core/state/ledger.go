// Package state persists the savings ledger into a key-value database. It is
// the production implementation of the engine's State interface; tests
// typically substitute in-package mock maps instead.
package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"rsavings/native/rtoken"
	"rsavings/storage"
)

var (
	accountPrefix  = []byte("ledger/acct/")
	hatPrefix      = []byte("ledger/hat/")
	hatIndexPrefix = []byte("ledger/hatfp/")
	hatSeqKey      = []byte("ledger/hatseq")
	loanPrefix     = []byte("ledger/loan/")
	poolKey        = []byte("ledger/pool")
	genesisKey     = []byte("ledger/genesis")
)

// Ledger stores accounts, hats, loans and pool totals under namespaced keys.
// Loan entries are keyed benefactor-then-recipient, so a prefix scan yields a
// benefactor's book already sorted by recipient.
type Ledger struct {
	db storage.Database
}

// NewLedger wraps the database in a ledger store.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

type accountRecord struct {
	DepositedSavings   *big.Int `json:"depositedSavings"`
	HatID              uint64   `json:"hatId"`
	ReceivedLoan       *big.Int `json:"receivedLoan"`
	LoanShares         *big.Int `json:"loanShares"`
	InterestCredit     *big.Int `json:"interestCredit"`
	CumulativeInterest *big.Int `json:"cumulativeInterest"`
}

type hatRecord struct {
	ID          uint64           `json:"id"`
	Recipients  []rtoken.Address `json:"recipients"`
	Proportions []uint32         `json:"proportions"`
	UseCount    uint64           `json:"useCount"`
}

type poolRecord struct {
	TotalDeposited   *big.Int `json:"totalDeposited"`
	AttributedShares *big.Int `json:"attributedShares"`
	InterestPaid     *big.Int `json:"interestPaid"`
}

func (l *Ledger) GetAccount(addr rtoken.Address) (*rtoken.Account, error) {
	raw, err := l.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec accountRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("state: corrupt account %s: %w", addr, err)
	}
	acc := &rtoken.Account{
		Address:            addr,
		DepositedSavings:   rec.DepositedSavings,
		HatID:              rec.HatID,
		ReceivedLoan:       rec.ReceivedLoan,
		LoanShares:         rec.LoanShares,
		InterestCredit:     rec.InterestCredit,
		CumulativeInterest: rec.CumulativeInterest,
	}
	return acc.Normalize(), nil
}

func (l *Ledger) PutAccount(acc *rtoken.Account) error {
	if acc == nil {
		return fmt.Errorf("state: nil account")
	}
	acc.Normalize()
	raw, err := json.Marshal(accountRecord{
		DepositedSavings:   acc.DepositedSavings,
		HatID:              acc.HatID,
		ReceivedLoan:       acc.ReceivedLoan,
		LoanShares:         acc.LoanShares,
		InterestCredit:     acc.InterestCredit,
		CumulativeInterest: acc.CumulativeInterest,
	})
	if err != nil {
		return err
	}
	return l.db.Put(accountKey(acc.Address), raw)
}

func (l *Ledger) GetHat(id uint64) (*rtoken.Hat, error) {
	raw, err := l.db.Get(hatKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec hatRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("state: corrupt hat %d: %w", id, err)
	}
	return &rtoken.Hat{
		ID:          rec.ID,
		Recipients:  rec.Recipients,
		Proportions: rec.Proportions,
		UseCount:    rec.UseCount,
	}, nil
}

func (l *Ledger) PutHat(hat *rtoken.Hat) error {
	if hat == nil {
		return fmt.Errorf("state: nil hat")
	}
	raw, err := json.Marshal(hatRecord{
		ID:          hat.ID,
		Recipients:  hat.Recipients,
		Proportions: hat.Proportions,
		UseCount:    hat.UseCount,
	})
	if err != nil {
		return err
	}
	return l.db.Put(hatKey(hat.ID), raw)
}

func (l *Ledger) HatIDByFingerprint(fp rtoken.HatFingerprint) (uint64, bool, error) {
	raw, err := l.db.Get(hatIndexKey(fp))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("state: corrupt hat index entry")
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

func (l *Ledger) IndexHat(fp rtoken.HatFingerprint, id uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return l.db.Put(hatIndexKey(fp), buf[:])
}

func (l *Ledger) HatSequence() (uint64, error) {
	raw, err := l.db.Get(hatSeqKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: corrupt hat sequence")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (l *Ledger) SetHatSequence(id uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return l.db.Put(hatSeqKey, buf[:])
}

func (l *Ledger) LoansFor(benefactor rtoken.Address) ([]rtoken.Loan, error) {
	prefix := append(append([]byte(nil), loanPrefix...), benefactor[:]...)
	var out []rtoken.Loan
	var corrupt error
	err := l.db.Iterate(prefix, func(key, value []byte) bool {
		if len(key) != len(prefix)+len(rtoken.Address{}) {
			corrupt = fmt.Errorf("state: malformed loan key %x", key)
			return false
		}
		var recipient rtoken.Address
		copy(recipient[:], key[len(prefix):])
		amount, ok := new(big.Int).SetString(string(value), 10)
		if !ok {
			corrupt = fmt.Errorf("state: corrupt loan entry %x", key)
			return false
		}
		out = append(out, rtoken.Loan{Recipient: recipient, Amount: amount})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, corrupt
}

func (l *Ledger) PutLoan(benefactor, recipient rtoken.Address, amount *big.Int) error {
	key := loanKey(benefactor, recipient)
	if amount == nil || amount.Sign() == 0 {
		return l.db.Delete(key)
	}
	return l.db.Put(key, []byte(amount.String()))
}

func (l *Ledger) GetPool() (*rtoken.Pool, error) {
	raw, err := l.db.Get(poolKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec poolRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("state: corrupt pool record: %w", err)
	}
	pool := &rtoken.Pool{
		TotalDeposited:   rec.TotalDeposited,
		AttributedShares: rec.AttributedShares,
		InterestPaid:     rec.InterestPaid,
	}
	return pool.Normalize(), nil
}

func (l *Ledger) PutPool(pool *rtoken.Pool) error {
	if pool == nil {
		return fmt.Errorf("state: nil pool")
	}
	pool.Normalize()
	raw, err := json.Marshal(poolRecord{
		TotalDeposited:   pool.TotalDeposited,
		AttributedShares: pool.AttributedShares,
		InterestPaid:     pool.InterestPaid,
	})
	if err != nil {
		return err
	}
	return l.db.Put(poolKey, raw)
}

// GenesisApplied reports whether the one-time initial allocation has been
// written, and MarkGenesisApplied sets the guard. The ledger refuses to apply
// genesis twice.
func (l *Ledger) GenesisApplied() (bool, error) {
	return l.db.Has(genesisKey)
}

func (l *Ledger) MarkGenesisApplied() error {
	return l.db.Put(genesisKey, []byte{1})
}

func accountKey(addr rtoken.Address) []byte {
	return append(append([]byte(nil), accountPrefix...), addr[:]...)
}

func hatKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(append([]byte(nil), hatPrefix...), buf[:]...)
}

func hatIndexKey(fp rtoken.HatFingerprint) []byte {
	return append(append([]byte(nil), hatIndexPrefix...), fp[:]...)
}

func loanKey(benefactor, recipient rtoken.Address) []byte {
	key := append(append([]byte(nil), loanPrefix...), benefactor[:]...)
	return append(key, recipient[:]...)
}

var _ rtoken.State = (*Ledger)(nil)
