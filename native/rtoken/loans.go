package rtoken

import (
	"fmt"
	"math/big"
	"sort"
)

// splitByWeights divides total across the weights, flooring each part. The
// integer-division remainder is assigned in full to the first recipient with a
// nonzero weight, so a split is always exact: the parts sum back to total.
func splitByWeights(total *big.Int, weights []uint32) []*big.Int {
	parts := make([]*big.Int, len(weights))
	sum := new(big.Int)
	for _, w := range weights {
		sum.Add(sum, new(big.Int).SetUint64(uint64(w)))
	}
	assigned := new(big.Int)
	for i, w := range weights {
		part := new(big.Int).SetUint64(uint64(w))
		part.Mul(part, total)
		part.Quo(part, sum)
		parts[i] = part
		assigned.Add(assigned, part)
	}
	remainder := new(big.Int).Sub(total, assigned)
	if remainder.Sign() != 0 {
		for i, w := range weights {
			if w > 0 {
				parts[i].Add(parts[i], remainder)
				break
			}
		}
	}
	return parts
}

// ledgerTx batches the account, loan and pool mutations of a single engine
// operation. Nothing is written through to state until flush, so an operation
// that fails part way, in particular on an external strategy or token call,
// leaves the ledger untouched. Accounts are cached by address, which also
// keeps self-referencing hats (benefactor among its own recipients) working
// on a single record instance.
type ledgerTx struct {
	e        *Engine
	accounts map[Address]*Account
	order    []Address
	loans    map[Address]map[Address]*big.Int
	pool     *Pool
	hats     map[uint64]*Hat
}

func (e *Engine) beginTx() *ledgerTx {
	return &ledgerTx{
		e:        e,
		accounts: make(map[Address]*Account),
		loans:    make(map[Address]map[Address]*big.Int),
		hats:     make(map[uint64]*Hat),
	}
}

func (tx *ledgerTx) account(addr Address) (*Account, error) {
	if acc, ok := tx.accounts[addr]; ok {
		return acc, nil
	}
	acc, err := tx.e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &Account{Address: addr}
	}
	acc.Normalize()
	tx.accounts[addr] = acc
	tx.order = append(tx.order, addr)
	return acc, nil
}

func (tx *ledgerTx) loanBook(benefactor Address) (map[Address]*big.Int, error) {
	if book, ok := tx.loans[benefactor]; ok {
		return book, nil
	}
	entries, err := tx.e.state.LoansFor(benefactor)
	if err != nil {
		return nil, err
	}
	book := make(map[Address]*big.Int, len(entries))
	for _, entry := range entries {
		book[entry.Recipient] = new(big.Int).Set(entry.Amount)
	}
	tx.loans[benefactor] = book
	return book, nil
}

func (tx *ledgerTx) poolTotals() (*Pool, error) {
	if tx.pool != nil {
		return tx.pool, nil
	}
	pool, err := tx.e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &Pool{}
	}
	tx.pool = pool.Normalize()
	return tx.pool, nil
}

func (tx *ledgerTx) hat(id uint64) (*Hat, error) {
	if h, ok := tx.hats[id]; ok {
		return h, nil
	}
	h, err := tx.e.state.GetHat(id)
	if err != nil {
		return nil, err
	}
	if h != nil {
		tx.hats[id] = h
	}
	return h, nil
}

// adoptHatUse increments the usage counter of a stored hat when an account
// takes it on. The write commits with the rest of the operation on flush.
func (tx *ledgerTx) adoptHatUse(id uint64) error {
	if id == SelfHatID {
		return nil
	}
	h, err := tx.hat(id)
	if err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("%w: id %d", ErrHatNotFound, id)
	}
	h.UseCount++
	return nil
}

// retireHatUse decrements the counter when an account switches away.
// Counters only matter for storage hygiene, so a counter already at zero is
// left alone.
func (tx *ledgerTx) retireHatUse(id uint64) error {
	if id == SelfHatID {
		return nil
	}
	h, err := tx.hat(id)
	if err != nil || h == nil {
		return err
	}
	if h.UseCount > 0 {
		h.UseCount--
	}
	return nil
}

// flush writes every record the operation touched. Hats flush first, then
// accounts in load order and loan books in sorted recipient order, so replays
// are deterministic.
func (tx *ledgerTx) flush() error {
	ids := make([]uint64, 0, len(tx.hats))
	for id := range tx.hats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := tx.e.state.PutHat(tx.hats[id]); err != nil {
			return err
		}
	}
	for _, addr := range tx.order {
		if err := tx.e.state.PutAccount(tx.accounts[addr]); err != nil {
			return err
		}
	}
	benefactors := make([]Address, 0, len(tx.loans))
	for b := range tx.loans {
		benefactors = append(benefactors, b)
	}
	sortAddresses(benefactors)
	for _, b := range benefactors {
		book := tx.loans[b]
		recipients := make([]Address, 0, len(book))
		for r := range book {
			recipients = append(recipients, r)
		}
		sortAddresses(recipients)
		for _, r := range recipients {
			if err := tx.e.state.PutLoan(b, r, book[r]); err != nil {
				return err
			}
		}
	}
	if tx.pool != nil {
		if err := tx.e.state.PutPool(tx.pool); err != nil {
			return err
		}
	}
	return nil
}

// extendLoans routes a principal increase through the benefactor's hat:
// amount and the freshly credited shares are split with the same weights and
// the per-recipient parts are applied to the recipient records and the loan
// book. Splitting the actual share grant (rather than re-deriving it from the
// rate) keeps share attribution exactly conserved.
func (tx *ledgerTx) extendLoans(benefactor *Account, hat *Hat, amount, shares *big.Int) error {
	if amount.Sign() == 0 && shares.Sign() == 0 {
		return nil
	}
	amounts := splitByWeights(amount, hat.Proportions)
	shareParts := splitByWeights(shares, hat.Proportions)
	book, err := tx.loanBook(benefactor.Address)
	if err != nil {
		return err
	}
	for i, recipient := range hat.Recipients {
		if amounts[i].Sign() == 0 && shareParts[i].Sign() == 0 {
			continue
		}
		rec, err := tx.account(recipient)
		if err != nil {
			return err
		}
		rec.ReceivedLoan = new(big.Int).Add(rec.ReceivedLoan, amounts[i])
		rec.LoanShares = new(big.Int).Add(rec.LoanShares, shareParts[i])
		entry, ok := book[recipient]
		if !ok {
			entry = big.NewInt(0)
		}
		book[recipient] = new(big.Int).Add(entry, amounts[i])
	}
	pool, err := tx.poolTotals()
	if err != nil {
		return err
	}
	pool.AttributedShares = new(big.Int).Add(pool.AttributedShares, shares)
	return nil
}

// recallLoans withdraws amount of routed principal from the benefactor's hat
// recipients. The target per-recipient cuts follow the same weighted split as
// extension; when rounding drift has left an entry smaller than its targeted
// cut, the shortfall is carried to the following recipients in hat order and,
// as a last resort, swept from any remaining entries in sorted recipient
// order. Recipient share attribution is reduced at the current exchange rate
// and clamped so it never goes negative; the total of removed shares is
// returned for the caller's strategy redemption.
func (tx *ledgerTx) recallLoans(benefactor *Account, hat *Hat, amount, rate *big.Int) (*big.Int, error) {
	removedShares := big.NewInt(0)
	if amount.Sign() == 0 {
		return removedShares, nil
	}
	book, err := tx.loanBook(benefactor.Address)
	if err != nil {
		return nil, err
	}
	targets := splitByWeights(amount, hat.Proportions)
	remaining := new(big.Int).Set(amount)

	take := func(recipient Address, want *big.Int) error {
		if want.Sign() <= 0 || remaining.Sign() == 0 {
			return nil
		}
		entry, ok := book[recipient]
		if !ok || entry.Sign() == 0 {
			return nil
		}
		cut := minBig(minBig(want, entry), remaining)
		cut = new(big.Int).Set(cut)
		rec, err := tx.account(recipient)
		if err != nil {
			return err
		}
		rec.ReceivedLoan = new(big.Int).Sub(rec.ReceivedLoan, cut)
		shareCut, err := sharesForAmount(cut, rate)
		if err != nil {
			return err
		}
		shareCut = minBig(shareCut, rec.LoanShares)
		rec.LoanShares = new(big.Int).Sub(rec.LoanShares, shareCut)
		book[recipient] = new(big.Int).Sub(entry, cut)
		removedShares.Add(removedShares, shareCut)
		remaining.Sub(remaining, cut)
		return nil
	}

	for i, recipient := range hat.Recipients {
		if err := take(recipient, targets[i]); err != nil {
			return nil, err
		}
	}
	if remaining.Sign() > 0 {
		// Rounding drift: sweep the shortfall in hat order, then from any
		// stale entries left outside the current hat.
		for _, recipient := range hat.Recipients {
			if err := take(recipient, remaining); err != nil {
				return nil, err
			}
		}
	}
	if remaining.Sign() > 0 {
		leftovers := make([]Address, 0, len(book))
		for r := range book {
			leftovers = append(leftovers, r)
		}
		sortAddresses(leftovers)
		for _, recipient := range leftovers {
			if err := take(recipient, remaining); err != nil {
				return nil, err
			}
		}
	}
	if remaining.Sign() > 0 {
		return nil, fmt.Errorf("%w: loan ledger short by %v for benefactor %s", ErrInsufficientBalance, remaining, benefactor.Address)
	}
	pool, err := tx.poolTotals()
	if err != nil {
		return nil, err
	}
	pool.AttributedShares = new(big.Int).Sub(pool.AttributedShares, removedShares)
	return removedShares, nil
}

// recallAllLoans removes every loan entry of the benefactor exactly, amount
// basis, converting each cut to shares at the current rate. Shares a
// recipient accrued on top of the routed principal stay attributed to the
// recipient: they back interest that already belongs to them.
func (tx *ledgerTx) recallAllLoans(benefactor *Account, rate *big.Int) (*big.Int, *big.Int, error) {
	book, err := tx.loanBook(benefactor.Address)
	if err != nil {
		return nil, nil, err
	}
	recipients := make([]Address, 0, len(book))
	for r := range book {
		recipients = append(recipients, r)
	}
	sortAddresses(recipients)

	removedAmount := big.NewInt(0)
	removedShares := big.NewInt(0)
	for _, recipient := range recipients {
		entry := book[recipient]
		if entry.Sign() == 0 {
			continue
		}
		rec, err := tx.account(recipient)
		if err != nil {
			return nil, nil, err
		}
		rec.ReceivedLoan = new(big.Int).Sub(rec.ReceivedLoan, entry)
		shareCut, err := sharesForAmount(entry, rate)
		if err != nil {
			return nil, nil, err
		}
		shareCut = minBig(shareCut, rec.LoanShares)
		rec.LoanShares = new(big.Int).Sub(rec.LoanShares, shareCut)
		removedAmount.Add(removedAmount, entry)
		removedShares.Add(removedShares, shareCut)
		book[recipient] = big.NewInt(0)
	}
	pool, err := tx.poolTotals()
	if err != nil {
		return nil, nil, err
	}
	pool.AttributedShares = new(big.Int).Sub(pool.AttributedShares, removedShares)
	return removedAmount, removedShares, nil
}

func sortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return string(addrs[i][:]) < string(addrs[j][:])
	})
}
