package rtoken

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// wad is the 18-decimal fixed point unit used for all share and exchange rate
// arithmetic. An exchange rate of wad means one pool share redeems for exactly
// one unit of the underlying asset. All conversions floor so the pool never
// owes more than it holds.
var wad = big.NewInt(1_000_000_000_000_000_000)

// SelfHatID is the sentinel hat identifier routing all of an account's
// interest entitlement back to the account itself. Accounts start on the self
// hat and keep it until they explicitly pick another one.
const SelfHatID uint64 = 0

// Address identifies a ledger participant.
type Address [20]byte

// ParseAddress decodes a 0x-prefixed or bare hex address string.
func ParseAddress(s string) (Address, error) {
	var addr Address
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// String renders the address as 0x-prefixed lowercase hex.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText renders the address as hex so JSON and YAML encodings stay
// human readable.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a hex address.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Account is the per-participant ledger record. Amounts are denominated in
// the underlying asset, shares in strategy pool shares, both as big integers
// at 18-decimal precision.
type Account struct {
	// Address is the unique account identifier within the ledger.
	Address Address
	// DepositedSavings is the principal the account itself deposited and can
	// redeem at any time, amount basis.
	DepositedSavings *big.Int
	// HatID points at the distribution policy routing the account's interest
	// entitlement. Zero selects the implicit self hat.
	HatID uint64
	// ReceivedLoan is the total principal routed to this account as a hat
	// beneficiary, amount basis and never rate-converted.
	ReceivedLoan *big.Int
	// LoanShares are the pool shares attributed to this account as a hat
	// beneficiary. Their current value backs both ReceivedLoan and any
	// interest accrued on top of it.
	LoanShares *big.Int
	// InterestCredit is interest that has been settled into the account but
	// not yet withdrawn. It offsets the payable computation and is consumed
	// when the account redeems everything.
	InterestCredit *big.Int
	// CumulativeInterest is the total interest ever settled for the account.
	// It only grows and is reported through account stats.
	CumulativeInterest *big.Int
}

// Normalize replaces nil big integers with zero values so loaded records are
// always safe to operate on.
func (a *Account) Normalize() *Account {
	if a == nil {
		return nil
	}
	if a.DepositedSavings == nil {
		a.DepositedSavings = big.NewInt(0)
	}
	if a.ReceivedLoan == nil {
		a.ReceivedLoan = big.NewInt(0)
	}
	if a.LoanShares == nil {
		a.LoanShares = big.NewInt(0)
	}
	if a.InterestCredit == nil {
		a.InterestCredit = big.NewInt(0)
	}
	if a.CumulativeInterest == nil {
		a.CumulativeInterest = big.NewInt(0)
	}
	return a
}

// Hat is a weighted distribution policy. Weights are normalized by their sum
// whenever a split is computed, so they need not add up to any fixed total.
type Hat struct {
	// ID is the registry-assigned identifier, stable for the lifetime of the
	// ledger.
	ID uint64
	// Recipients lists the beneficiary accounts in a caller-chosen,
	// significance-bearing order. The first recipient absorbs rounding
	// remainders.
	Recipients []Address
	// Proportions carries one non-negative weight per recipient.
	Proportions []uint32
	// UseCount tracks how many accounts currently point at the hat. Kept for
	// storage hygiene only; correctness never depends on it.
	UseCount uint64
}

// Clone returns a deep copy of the hat.
func (h *Hat) Clone() *Hat {
	if h == nil {
		return nil
	}
	out := &Hat{ID: h.ID, UseCount: h.UseCount}
	out.Recipients = append([]Address(nil), h.Recipients...)
	out.Proportions = append([]uint32(nil), h.Proportions...)
	return out
}

// Loan records the principal one benefactor has routed to one recipient
// through its hat. The loan ledger is the closed set of these entries.
type Loan struct {
	Recipient Address
	Amount    *big.Int
}

// Pool aggregates ledger-wide totals maintained on every mutation. They back
// the solvency check and the pool stats accessor.
type Pool struct {
	// TotalDeposited is the sum of all accounts' DepositedSavings.
	TotalDeposited *big.Int
	// AttributedShares is the sum of all accounts' LoanShares.
	AttributedShares *big.Int
	// InterestPaid is the total interest ever paid out of the pool.
	InterestPaid *big.Int
}

// Normalize replaces nil totals with zeros.
func (p *Pool) Normalize() *Pool {
	if p == nil {
		return nil
	}
	if p.TotalDeposited == nil {
		p.TotalDeposited = big.NewInt(0)
	}
	if p.AttributedShares == nil {
		p.AttributedShares = big.NewInt(0)
	}
	if p.InterestPaid == nil {
		p.InterestPaid = big.NewInt(0)
	}
	return p
}

// AccountStats is the read model returned by the stats accessor.
type AccountStats struct {
	Address            Address
	Balance            *big.Int
	DepositedSavings   *big.Int
	HatID              uint64
	ReceivedLoan       *big.Int
	ReceivedSavings    *big.Int
	InterestPayable    *big.Int
	CumulativeInterest *big.Int
}

// PoolStats is the read model for ledger-wide totals.
type PoolStats struct {
	TotalDeposited   *big.Int
	AttributedShares *big.Int
	StrategyShares   *big.Int
	ExchangeRate     *big.Int
	PoolValue        *big.Int
	DustShares       *big.Int
	InterestPaid     *big.Int
	Hats             uint64
}

// sharesForAmount converts an underlying amount into pool shares at the given
// exchange rate, flooring the result.
func sharesForAmount(amount, rate *big.Int) (*big.Int, error) {
	if rate == nil || rate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: exchange rate %v", ErrAmountOverflow, rate)
	}
	out := new(big.Int).Mul(amount, wad)
	return out.Quo(out, rate), nil
}

// amountForShares converts pool shares into their current underlying value,
// flooring the result.
func amountForShares(shares, rate *big.Int) *big.Int {
	if shares == nil || rate == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(shares, rate)
	return out.Quo(out, wad)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
