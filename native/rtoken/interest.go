package rtoken

import "math/big"

// payableInterest computes the interest currently owed to the account at the
// given exchange rate: the value of the shares attributed to it as a hat
// beneficiary, minus the routed principal, minus interest already settled but
// not yet withdrawn. A negative result, possible only through rounding dust
// or an anomalous rate decrease, clamps to zero.
func payableInterest(acc *Account, rate *big.Int) *big.Int {
	value := amountForShares(acc.LoanShares, rate)
	out := new(big.Int).Sub(value, acc.ReceivedLoan)
	out.Sub(out, acc.InterestCredit)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// settleInterest commits the currently payable interest into the account's
// credit and its monotone cumulative total, returning the newly credited
// amount. Calling it again with an unchanged rate credits nothing: the first
// call raised InterestCredit by exactly the payable amount, which the second
// computation subtracts back out.
func settleInterest(acc *Account, rate *big.Int) *big.Int {
	payable := payableInterest(acc, rate)
	if payable.Sign() > 0 {
		acc.InterestCredit = new(big.Int).Add(acc.InterestCredit, payable)
		acc.CumulativeInterest = new(big.Int).Add(acc.CumulativeInterest, payable)
	}
	return payable
}
