package rtoken

import (
	"math/big"
	"strconv"
	"strings"
)

const (
	TypeMinted      = "rtoken.minted"
	TypeRedeemed    = "rtoken.redeemed"
	TypeTransferred = "rtoken.transferred"
	TypeHatCreated  = "rtoken.hat.created"
	TypeHatChanged  = "rtoken.hat.changed"
	TypeDustWarning = "rtoken.dust_warning"
)

// Minted is emitted after a deposit has been pulled, invested and routed
// through the account's hat.
type Minted struct {
	Account Address
	Amount  *big.Int
	Shares  *big.Int
	HatID   uint64
}

func (Minted) EventType() string { return TypeMinted }

func (e Minted) EventAttributes() map[string]string {
	return map[string]string{
		"account": e.Account.String(),
		"amount":  formatAmount(e.Amount),
		"shares":  formatAmount(e.Shares),
		"hatId":   strconv.FormatUint(e.HatID, 10),
	}
}

// Redeemed covers both partial principal redemptions and full exits. The
// interest attribute is nonzero only on a full exit, where accrued interest
// is paid out alongside the principal.
type Redeemed struct {
	Account   Address
	Principal *big.Int
	Interest  *big.Int
	Returned  *big.Int
	Shares    *big.Int
}

func (Redeemed) EventType() string { return TypeRedeemed }

func (e Redeemed) EventAttributes() map[string]string {
	return map[string]string{
		"account":   e.Account.String(),
		"principal": formatAmount(e.Principal),
		"interest":  formatAmount(e.Interest),
		"returned":  formatAmount(e.Returned),
		"shares":    formatAmount(e.Shares),
	}
}

// Transferred is emitted when principal moves between two accounts.
type Transferred struct {
	From   Address
	To     Address
	Amount *big.Int
}

func (Transferred) EventType() string { return TypeTransferred }

func (e Transferred) EventAttributes() map[string]string {
	return map[string]string{
		"from":   e.From.String(),
		"to":     e.To.String(),
		"amount": formatAmount(e.Amount),
	}
}

// HatCreated is emitted the first time a unique (recipients, proportions)
// combination is registered.
type HatCreated struct {
	ID          uint64
	Recipients  []Address
	Proportions []uint32
}

func (HatCreated) EventType() string { return TypeHatCreated }

func (e HatCreated) EventAttributes() map[string]string {
	recipients := make([]string, len(e.Recipients))
	for i, r := range e.Recipients {
		recipients[i] = r.String()
	}
	proportions := make([]string, len(e.Proportions))
	for i, p := range e.Proportions {
		proportions[i] = strconv.FormatUint(uint64(p), 10)
	}
	return map[string]string{
		"hatId":       strconv.FormatUint(e.ID, 10),
		"recipients":  strings.Join(recipients, ","),
		"proportions": strings.Join(proportions, ","),
	}
}

// HatChanged is emitted after an account's principal has been re-routed from
// its previous hat to a new one.
type HatChanged struct {
	Account Address
	OldHat  uint64
	NewHat  uint64
}

func (HatChanged) EventType() string { return TypeHatChanged }

func (e HatChanged) EventAttributes() map[string]string {
	return map[string]string{
		"account": e.Account.String(),
		"oldHat":  strconv.FormatUint(e.OldHat, 10),
		"newHat":  strconv.FormatUint(e.NewHat, 10),
	}
}

// DustWarning reports that accumulated rounding dust crossed the configured
// epsilon. Informational: the dust always sits on the pool side, so solvency
// is not at risk.
type DustWarning struct {
	DustShares *big.Int
	Epsilon    *big.Int
}

func (DustWarning) EventType() string { return TypeDustWarning }

func (e DustWarning) EventAttributes() map[string]string {
	return map[string]string{
		"dustShares": formatAmount(e.DustShares),
		"epsilon":    formatAmount(e.Epsilon),
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
