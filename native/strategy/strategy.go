// Package strategy provides the external collaborators of the savings
// ledger: an allocation strategy earning yield on pooled deposits and the
// underlying asset token the ledger is denominated in.
package strategy

import (
	"fmt"
	"math/big"
	"sync"

	"rsavings/native/rtoken"
)

var wad = big.NewInt(1_000_000_000_000_000_000)

// FixedRateStrategy is a deterministic yield source: the exchange rate starts
// at an initial value and grows linearly by a fixed increment per block. It
// backs local runs and tests, where accrual has to be exactly reproducible.
type FixedRateStrategy struct {
	mu           sync.Mutex
	rate         *big.Int
	ratePerBlock *big.Int
	shares       *big.Int
	custody      *LedgerToken
}

// NewFixedRateStrategy builds a strategy at the given initial exchange rate
// (18-decimal fixed point, wad = 1.0) accruing ratePerBlock per advanced
// block.
func NewFixedRateStrategy(initialRate, ratePerBlock *big.Int) (*FixedRateStrategy, error) {
	if initialRate == nil || initialRate.Sign() <= 0 {
		return nil, fmt.Errorf("strategy: initial rate must be positive, got %v", initialRate)
	}
	if ratePerBlock == nil || ratePerBlock.Sign() < 0 {
		return nil, fmt.Errorf("strategy: rate per block must be non-negative, got %v", ratePerBlock)
	}
	return &FixedRateStrategy{
		rate:         new(big.Int).Set(initialRate),
		ratePerBlock: new(big.Int).Set(ratePerBlock),
		shares:       big.NewInt(0),
	}, nil
}

// SetCustodian binds the strategy to the token ledger it invests for. From
// then on Deposit moves the invested underlying out of the pool balance and
// Redeem pays the current value of the burned shares, yield included, back
// into it, so the pool can always fund the redemptions the ledger owes.
func (s *FixedRateStrategy) SetCustodian(token *LedgerToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custody = token
}

// AdvanceBlocks moves time forward, raising the exchange rate by the
// configured per-block increment.
func (s *FixedRateStrategy) AdvanceBlocks(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delta := new(big.Int).Mul(s.ratePerBlock, new(big.Int).SetUint64(n))
	s.rate = new(big.Int).Add(s.rate, delta)
}

// InvestableBalance reports the total pool shares currently held.
func (s *FixedRateStrategy) InvestableBalance() (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.shares), nil
}

// ExchangeRate reports the current underlying value of one share, 18-decimal
// fixed point.
func (s *FixedRateStrategy) ExchangeRate() (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.rate), nil
}

// Deposit invests amount of the underlying asset and credits the
// corresponding shares at the current rate, flooring.
func (s *FixedRateStrategy) Deposit(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("strategy: deposit amount must be positive, got %v", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.custody != nil {
		if err := s.custody.debitPool(amount); err != nil {
			return nil, err
		}
	}
	credited := new(big.Int).Mul(amount, wad)
	credited.Quo(credited, s.rate)
	s.shares = new(big.Int).Add(s.shares, credited)
	return credited, nil
}

// Redeem burns shares and returns their current underlying value, flooring.
func (s *FixedRateStrategy) Redeem(shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, fmt.Errorf("strategy: redeem shares must be non-negative, got %v", shares)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if shares.Cmp(s.shares) > 0 {
		return nil, fmt.Errorf("strategy: redeem %v exceeds held shares %v", shares, s.shares)
	}
	returned := new(big.Int).Mul(shares, s.rate)
	returned.Quo(returned, wad)
	if s.custody != nil && returned.Sign() > 0 {
		if err := s.custody.creditPool(returned); err != nil {
			return nil, err
		}
	}
	s.shares = new(big.Int).Sub(s.shares, shares)
	return returned, nil
}

var _ rtoken.AllocationStrategy = (*FixedRateStrategy)(nil)
