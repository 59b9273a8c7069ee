package rtoken

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"rsavings/core/events"
)

// State is the persistence surface the engine mutates. Get methods return nil
// for absent records so the engine can zero-initialize accounts on first
// touch.
type State interface {
	GetAccount(addr Address) (*Account, error)
	PutAccount(acc *Account) error
	GetHat(id uint64) (*Hat, error)
	PutHat(hat *Hat) error
	HatIDByFingerprint(fp HatFingerprint) (uint64, bool, error)
	IndexHat(fp HatFingerprint, id uint64) error
	HatSequence() (uint64, error)
	SetHatSequence(id uint64) error
	// LoansFor returns the benefactor's loan entries sorted by recipient.
	LoansFor(benefactor Address) ([]Loan, error)
	// PutLoan upserts a single entry; a zero amount deletes it.
	PutLoan(benefactor, recipient Address, amount *big.Int) error
	GetPool() (*Pool, error)
	PutPool(pool *Pool) error
}

// AllocationStrategy wraps the external yield source. The exchange rate is
// expected to be non-decreasing; a decrease is tolerated and logged, never
// fatal.
type AllocationStrategy interface {
	InvestableBalance() (*big.Int, error)
	ExchangeRate() (*big.Int, error)
	Deposit(amount *big.Int) (*big.Int, error)
	Redeem(shares *big.Int) (*big.Int, error)
}

// Token is the external fungible asset the ledger is denominated in.
// Implementations map their own failure modes onto ErrInsufficientAllowance
// and ErrTransferFailed.
type Token interface {
	TransferFrom(from, to Address, amount *big.Int) error
	Transfer(to Address, amount *big.Int) error
}

// Engine orchestrates every state transition of the savings ledger. All
// operations are strictly serialized: each one runs to completion under the
// engine mutex, calls its external collaborators before writing any state,
// and either fully commits or leaves the ledger untouched.
type Engine struct {
	mu            sync.Mutex
	state         State
	strategy      AllocationStrategy
	token         Token
	emitter       events.Emitter
	logger        *slog.Logger
	moduleAddress Address
	dustEpsilon   *big.Int
	lastRate      *big.Int
}

// NewEngine constructs an engine holding pooled funds at the given module
// address.
func NewEngine(moduleAddr Address) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		emitter:       events.NoopEmitter{},
		logger:        slog.Default(),
		dustEpsilon:   big.NewInt(0),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetStrategy wires the yield source adapter.
func (e *Engine) SetStrategy(strategy AllocationStrategy) { e.strategy = strategy }

// SetToken wires the underlying asset token.
func (e *Engine) SetToken(token Token) { e.token = token }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger configures the structured logger. Passing nil resets to the
// process default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetDustEpsilon sets the rounding-dust threshold, in shares, above which the
// solvency check emits a warning.
func (e *Engine) SetDustEpsilon(epsilon *big.Int) {
	if epsilon == nil {
		epsilon = big.NewInt(0)
	}
	e.dustEpsilon = new(big.Int).Set(epsilon)
}

// ModuleAddress returns the address holding pooled underlying funds.
func (e *Engine) ModuleAddress() Address { return e.moduleAddress }

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) guard() error {
	switch {
	case e == nil || e.state == nil:
		return ErrNilState
	case e.strategy == nil:
		return ErrNilStrategy
	case e.token == nil:
		return ErrNilToken
	}
	return nil
}

// exchangeRate reads the oracle rate and logs an anomaly when it decreased
// since the previous read. Interest math clamps at zero, so a decrease is
// never fatal.
func (e *Engine) exchangeRate() (*big.Int, error) {
	rate, err := e.strategy.ExchangeRate()
	if err != nil {
		return nil, err
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: exchange rate %v", ErrAmountOverflow, rate)
	}
	if e.lastRate != nil && rate.Cmp(e.lastRate) < 0 {
		e.logger.Warn("exchange rate decreased",
			"previous", e.lastRate.String(),
			"current", rate.String())
	}
	e.lastRate = new(big.Int).Set(rate)
	return rate, nil
}

// Mint deposits amount of the underlying asset for the account, routing the
// resulting interest entitlement through the account's current hat.
func (e *Engine) Mint(account Address, amount *big.Int) error {
	return e.MintWithHat(account, amount, nil, nil)
}

// MintWithHat deposits like Mint and additionally selects a hat when the
// account has never chosen one. Accounts that already wear a hat keep it; the
// provided policy is still registered (or deduplicated) but not applied.
func (e *Engine) MintWithHat(account Address, amount *big.Int, recipients []Address, proportions []uint32) error {
	if err := e.guard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if account.IsZero() {
		return fmt.Errorf("%w: zero account", ErrInvalidAddress)
	}
	if recipients != nil {
		if err := validateHat(recipients, proportions); err != nil {
			return err
		}
	}

	// External effects first: pull the deposit and invest it. Nothing has
	// been written yet, so a failure aborts cleanly.
	if err := e.token.TransferFrom(account, e.moduleAddress, amount); err != nil {
		return err
	}
	shares, err := e.strategy.Deposit(amount)
	if err != nil {
		return err
	}
	rate, err := e.exchangeRate()
	if err != nil {
		return err
	}

	tx := e.beginTx()
	acc, err := tx.account(account)
	if err != nil {
		return err
	}
	settleInterest(acc, rate)

	if recipients != nil && acc.HatID == SelfHatID {
		hatID, err := e.getOrCreateHatLocked(recipients, proportions)
		if err != nil {
			return err
		}
		if err := tx.adoptHatUse(hatID); err != nil {
			return err
		}
		acc.HatID = hatID
	}
	hat, err := e.effectiveHat(acc)
	if err != nil {
		return err
	}

	acc.DepositedSavings = new(big.Int).Add(acc.DepositedSavings, amount)
	if err := tx.extendLoans(acc, hat, amount, shares); err != nil {
		return err
	}
	pool, err := tx.poolTotals()
	if err != nil {
		return err
	}
	pool.TotalDeposited = new(big.Int).Add(pool.TotalDeposited, amount)

	if err := tx.flush(); err != nil {
		return err
	}
	e.emit(Minted{Account: account, Amount: amount, Shares: shares, HatID: acc.HatID})
	return nil
}

// Redeem withdraws amount of the account's principal. Interest is settled
// first but stays in the account; only RedeemAll pays it out.
func (e *Engine) Redeem(account Address, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	tx := e.beginTx()
	acc, err := tx.account(account)
	if err != nil {
		return err
	}
	if acc.DepositedSavings.Cmp(amount) < 0 {
		return fmt.Errorf("%w: redeem %v exceeds principal %v", ErrInsufficientBalance, amount, acc.DepositedSavings)
	}
	rate, err := e.exchangeRate()
	if err != nil {
		return err
	}
	settleInterest(acc, rate)

	hat, err := e.effectiveHat(acc)
	if err != nil {
		return err
	}
	removedShares, err := tx.recallLoans(acc, hat, amount, rate)
	if err != nil {
		return err
	}

	returned, err := e.strategy.Redeem(removedShares)
	if err != nil {
		return err
	}
	if err := e.token.Transfer(account, returned); err != nil {
		e.reinvest(returned)
		return err
	}

	acc.DepositedSavings = new(big.Int).Sub(acc.DepositedSavings, amount)
	pool, err := tx.poolTotals()
	if err != nil {
		return err
	}
	pool.TotalDeposited = new(big.Int).Sub(pool.TotalDeposited, amount)

	if err := tx.flush(); err != nil {
		return err
	}
	e.emit(Redeemed{
		Account:   account,
		Principal: amount,
		Interest:  big.NewInt(0),
		Returned:  returned,
		Shares:    removedShares,
	})
	return nil
}

// RedeemAll withdraws the account's entire principal plus all settled
// interest. Afterwards the payable interest reads zero and only resumes
// growing from the shares still attributed to the account as a beneficiary of
// other benefactors.
func (e *Engine) RedeemAll(account Address) error {
	if err := e.guard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.beginTx()
	acc, err := tx.account(account)
	if err != nil {
		return err
	}
	rate, err := e.exchangeRate()
	if err != nil {
		return err
	}
	settleInterest(acc, rate)

	principal := new(big.Int).Set(acc.DepositedSavings)
	interest := new(big.Int).Set(acc.InterestCredit)
	if principal.Sign() == 0 && interest.Sign() == 0 {
		return nil
	}

	removedAmount, removedShares, err := tx.recallAllLoans(acc, rate)
	if err != nil {
		return err
	}
	if removedAmount.Cmp(principal) != 0 {
		e.logger.Warn("loan ledger total diverged from principal",
			"account", account.String(),
			"principal", principal.String(),
			"routed", removedAmount.String())
	}

	interestShares, err := sharesForAmount(interest, rate)
	if err != nil {
		return err
	}
	interestShares = new(big.Int).Set(minBig(interestShares, acc.LoanShares))
	acc.LoanShares = new(big.Int).Sub(acc.LoanShares, interestShares)

	totalShares := new(big.Int).Add(removedShares, interestShares)
	returned := big.NewInt(0)
	if totalShares.Sign() > 0 {
		if returned, err = e.strategy.Redeem(totalShares); err != nil {
			return err
		}
	}
	if returned.Sign() > 0 {
		if err := e.token.Transfer(account, returned); err != nil {
			e.reinvest(returned)
			return err
		}
	}

	acc.DepositedSavings = big.NewInt(0)
	acc.InterestCredit = big.NewInt(0)

	pool, err := tx.poolTotals()
	if err != nil {
		return err
	}
	pool.TotalDeposited = new(big.Int).Sub(pool.TotalDeposited, principal)
	pool.AttributedShares = new(big.Int).Sub(pool.AttributedShares, interestShares)
	pool.InterestPaid = new(big.Int).Add(pool.InterestPaid, interest)

	if err := tx.flush(); err != nil {
		return err
	}
	e.emit(Redeemed{
		Account:   account,
		Principal: principal,
		Interest:  interest,
		Returned:  returned,
		Shares:    totalShares,
	})
	return nil
}

// reinvest puts funds whose payout transfer failed back into the strategy,
// so the position keeps backing the ledger the aborted operation left
// untouched. Flooring in the share conversion can leave the restored position
// a few shares short of the original; the solvency check reports that as
// negative dust.
func (e *Engine) reinvest(returned *big.Int) {
	if returned == nil || returned.Sign() <= 0 {
		return
	}
	if _, err := e.strategy.Deposit(returned); err != nil {
		e.logger.Error("failed to reinvest after payout failure",
			"amount", returned.String(),
			"error", err)
	}
}

// Transfer moves principal between accounts. Both parties settle first, then
// the routed loans follow the principal: the sender's hat beneficiaries are
// debited and the receiver's are credited with the same amount and the same
// shares, so the loan ledger stays closed.
func (e *Engine) Transfer(from, to Address, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to.IsZero() {
		return fmt.Errorf("%w: zero recipient", ErrInvalidAddress)
	}
	tx := e.beginTx()
	fromAcc, err := tx.account(from)
	if err != nil {
		return err
	}
	if fromAcc.DepositedSavings.Cmp(amount) < 0 {
		return fmt.Errorf("%w: transfer %v exceeds principal %v", ErrInsufficientBalance, amount, fromAcc.DepositedSavings)
	}
	toAcc, err := tx.account(to)
	if err != nil {
		return err
	}
	rate, err := e.exchangeRate()
	if err != nil {
		return err
	}
	settleInterest(fromAcc, rate)
	if from != to {
		settleInterest(toAcc, rate)
	}

	fromHat, err := e.effectiveHat(fromAcc)
	if err != nil {
		return err
	}
	toHat, err := e.effectiveHat(toAcc)
	if err != nil {
		return err
	}

	movedShares, err := tx.recallLoans(fromAcc, fromHat, amount, rate)
	if err != nil {
		return err
	}
	fromAcc.DepositedSavings = new(big.Int).Sub(fromAcc.DepositedSavings, amount)
	toAcc.DepositedSavings = new(big.Int).Add(toAcc.DepositedSavings, amount)
	if err := tx.extendLoans(toAcc, toHat, amount, movedShares); err != nil {
		return err
	}

	if err := tx.flush(); err != nil {
		return err
	}
	e.emit(Transferred{From: from, To: to, Amount: amount})
	return nil
}

// ChangeHat re-routes the account's principal from its current hat to the
// given one. Principal and settled interest stay put; only future interest
// attribution moves.
func (e *Engine) ChangeHat(account Address, hatID uint64) error {
	if err := e.guard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if hatID != SelfHatID {
		hat, err := e.state.GetHat(hatID)
		if err != nil {
			return err
		}
		if hat == nil {
			return fmt.Errorf("%w: id %d", ErrHatNotFound, hatID)
		}
	}
	tx := e.beginTx()
	acc, err := tx.account(account)
	if err != nil {
		return err
	}
	if acc.HatID == hatID {
		return nil
	}
	rate, err := e.exchangeRate()
	if err != nil {
		return err
	}
	settleInterest(acc, rate)

	// Move: withdraw the full routed principal from the old hat's
	// beneficiaries, then route it again under the new hat, both before
	// anything is written.
	removedAmount, removedShares, err := tx.recallAllLoans(acc, rate)
	if err != nil {
		return err
	}
	oldHat := acc.HatID
	acc.HatID = hatID
	newHat, err := e.effectiveHat(acc)
	if err != nil {
		return err
	}
	if err := tx.extendLoans(acc, newHat, removedAmount, removedShares); err != nil {
		return err
	}

	if err := tx.retireHatUse(oldHat); err != nil {
		return err
	}
	if err := tx.adoptHatUse(hatID); err != nil {
		return err
	}
	if err := tx.flush(); err != nil {
		return err
	}
	e.emit(HatChanged{Account: account, OldHat: oldHat, NewHat: hatID})
	return nil
}

// --- Read accessors ---

func (e *Engine) loadAccount(addr Address) (*Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &Account{Address: addr}
	}
	return acc.Normalize(), nil
}

// BalanceOf returns the account's token balance: redeemable principal plus
// settled, unwithdrawn interest.
func (e *Engine) BalanceOf(addr Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(acc.DepositedSavings, acc.InterestCredit), nil
}

// ReceivedLoanOf returns the principal routed to the account through other
// accounts' hats, principal basis.
func (e *Engine) ReceivedLoanOf(addr Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.ReceivedLoan), nil
}

// ReceivedSavingsOf returns the current value of the shares attributed to the
// account as a hat beneficiary, converted at the live exchange rate.
func (e *Engine) ReceivedSavingsOf(addr Address) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	rate, err := e.exchangeRate()
	if err != nil {
		return nil, err
	}
	return amountForShares(acc.LoanShares, rate), nil
}

// InterestPayableOf returns the accrued, unsettled interest owed to the
// account at the live exchange rate.
func (e *Engine) InterestPayableOf(addr Address) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	rate, err := e.exchangeRate()
	if err != nil {
		return nil, err
	}
	return payableInterest(acc, rate), nil
}

// HatOf returns the id of the hat the account currently wears.
func (e *Engine) HatOf(addr Address) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, err := e.loadAccount(addr)
	if err != nil {
		return 0, err
	}
	return acc.HatID, nil
}

// AccountStats returns the full read model for one account.
func (e *Engine) AccountStats(addr Address) (*AccountStats, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	rate, err := e.exchangeRate()
	if err != nil {
		return nil, err
	}
	return &AccountStats{
		Address:            addr,
		Balance:            new(big.Int).Add(acc.DepositedSavings, acc.InterestCredit),
		DepositedSavings:   new(big.Int).Set(acc.DepositedSavings),
		HatID:              acc.HatID,
		ReceivedLoan:       new(big.Int).Set(acc.ReceivedLoan),
		ReceivedSavings:    amountForShares(acc.LoanShares, rate),
		InterestPayable:    payableInterest(acc, rate),
		CumulativeInterest: new(big.Int).Set(acc.CumulativeInterest),
	}, nil
}

// CheckSolvency compares the ledger's claims against the strategy's holdings
// and reports the accumulated rounding dust. Dust beyond the configured
// epsilon emits a warning event; a genuine shortfall, which no reachable
// state should produce, is logged as an error.
func (e *Engine) CheckSolvency() (*PoolStats, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.poolStatsLocked(true)
}

// PoolStats returns ledger-wide totals without triggering dust warnings.
func (e *Engine) PoolStats() (*PoolStats, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.poolStatsLocked(false)
}

func (e *Engine) poolStatsLocked(warn bool) (*PoolStats, error) {
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &Pool{}
	}
	pool.Normalize()
	strategyShares, err := e.strategy.InvestableBalance()
	if err != nil {
		return nil, err
	}
	if strategyShares == nil {
		strategyShares = big.NewInt(0)
	}
	rate, err := e.exchangeRate()
	if err != nil {
		return nil, err
	}
	hats, err := e.state.HatSequence()
	if err != nil {
		return nil, err
	}
	dust := new(big.Int).Sub(strategyShares, pool.AttributedShares)
	stats := &PoolStats{
		TotalDeposited:   new(big.Int).Set(pool.TotalDeposited),
		AttributedShares: new(big.Int).Set(pool.AttributedShares),
		StrategyShares:   strategyShares,
		ExchangeRate:     rate,
		PoolValue:        amountForShares(strategyShares, rate),
		DustShares:       dust,
		InterestPaid:     new(big.Int).Set(pool.InterestPaid),
		Hats:             hats,
	}
	if warn {
		if dust.Sign() < 0 {
			e.logger.Error("ledger claims exceed strategy holdings",
				"attributedShares", pool.AttributedShares.String(),
				"strategyShares", strategyShares.String())
		} else if dust.Cmp(e.dustEpsilon) > 0 {
			e.logger.Warn("rounding dust above epsilon",
				"dustShares", dust.String(),
				"epsilon", e.dustEpsilon.String())
			e.emit(DustWarning{DustShares: dust, Epsilon: new(big.Int).Set(e.dustEpsilon)})
		}
	}
	return stats, nil
}
