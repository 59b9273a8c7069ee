package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"rsavings/native/rtoken"
)

type hatSpec struct {
	Recipients  []rtoken.Address `json:"recipients"`
	Proportions []uint32         `json:"proportions"`
}

type mintRequest struct {
	Account rtoken.Address `json:"account"`
	Amount  string         `json:"amount"`
	Hat     *hatSpec       `json:"hat,omitempty"`
}

type redeemRequest struct {
	Account rtoken.Address `json:"account"`
	Amount  string         `json:"amount"`
}

type accountRequest struct {
	Account rtoken.Address `json:"account"`
}

type transferRequest struct {
	From   rtoken.Address `json:"from"`
	To     rtoken.Address `json:"to"`
	Amount string         `json:"amount"`
}

type approveRequest struct {
	Account rtoken.Address `json:"account"`
	Amount  string         `json:"amount"`
}

type changeHatRequest struct {
	HatID uint64 `json:"hatId"`
}

type accountResponse struct {
	Address            rtoken.Address `json:"address"`
	Balance            string         `json:"balance"`
	DepositedSavings   string         `json:"depositedSavings"`
	HatID              uint64         `json:"hatId"`
	ReceivedLoan       string         `json:"receivedLoan"`
	ReceivedSavings    string         `json:"receivedSavings"`
	InterestPayable    string         `json:"interestPayable"`
	CumulativeInterest string         `json:"cumulativeInterest"`
	TokenBalance       string         `json:"tokenBalance"`
	Allowance          string         `json:"allowance"`
}

type poolResponse struct {
	TotalDeposited   string `json:"totalDeposited"`
	AttributedShares string `json:"attributedShares"`
	StrategyShares   string `json:"strategyShares"`
	ExchangeRate     string `json:"exchangeRate"`
	PoolValue        string `json:"poolValue"`
	DustShares       string `json:"dustShares"`
	InterestPaid     string `json:"interestPaid"`
	Hats             uint64 `json:"hats"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Hat != nil {
		err = s.engine.MintWithHat(req.Account, amount, req.Hat.Recipients, req.Hat.Proportions)
	} else {
		err = s.engine.Mint(req.Account, amount)
	}
	s.metrics.ObserveOperation("mint", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.refreshGauges()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.engine.Redeem(req.Account, amount)
	s.metrics.ObserveOperation("redeem", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.refreshGauges()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRedeemAll(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.engine.RedeemAll(req.Account)
	s.metrics.ObserveOperation("redeem_all", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.refreshGauges()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.engine.Transfer(req.From, req.To, amount)
	s.metrics.ObserveOperation("transfer", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.refreshGauges()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok || amount.Sign() < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid amount %q", req.Amount))
		return
	}
	err := s.token.Approve(req.Account, amount)
	s.metrics.ObserveOperation("approve", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateHat(w http.ResponseWriter, r *http.Request) {
	var req hatSpec
	if !decode(w, r, &req) {
		return
	}
	id, err := s.engine.GetOrCreateHat(req.Recipients, req.Proportions)
	s.metrics.ObserveOperation("create_hat", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.refreshGauges()
	writeJSON(w, http.StatusOK, map[string]uint64{"hatId": id})
}

func (s *Server) handleChangeHat(w http.ResponseWriter, r *http.Request) {
	addr, err := rtoken.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req changeHatRequest
	if !decode(w, r, &req) {
		return
	}
	err = s.engine.ChangeHat(addr, req.HatID)
	s.metrics.ObserveOperation("change_hat", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.refreshGauges()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAccountStats(w http.ResponseWriter, r *http.Request) {
	addr, err := rtoken.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.engine.AccountStats(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	tokenBalance, err := s.token.BalanceOf(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	allowance, err := s.token.Allowance(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Address:            stats.Address,
		Balance:            stats.Balance.String(),
		DepositedSavings:   stats.DepositedSavings.String(),
		HatID:              stats.HatID,
		ReceivedLoan:       stats.ReceivedLoan.String(),
		ReceivedSavings:    stats.ReceivedSavings.String(),
		InterestPayable:    stats.InterestPayable.String(),
		CumulativeInterest: stats.CumulativeInterest.String(),
		TokenBalance:       tokenBalance.String(),
		Allowance:          allowance.String(),
	})
}

func (s *Server) handleDescribeHat(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid hat id")
		return
	}
	hat, err := s.engine.DescribeHat(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hatId":       hat.ID,
		"recipients":  hat.Recipients,
		"proportions": hat.Proportions,
		"useCount":    hat.UseCount,
	})
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.CheckSolvency()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolResponse{
		TotalDeposited:   stats.TotalDeposited.String(),
		AttributedShares: stats.AttributedShares.String(),
		StrategyShares:   stats.StrategyShares.String(),
		ExchangeRate:     stats.ExchangeRate.String(),
		PoolValue:        stats.PoolValue.String(),
		DustShares:       stats.DustShares.String(),
		InterestPaid:     stats.InterestPaid.String(),
		Hats:             stats.Hats,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	after := uint64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		after = parsed
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}
	records, err := s.journal.Replay(after, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": records,
		"last":   s.journal.LastSequence(),
	})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rtoken.ErrInvalidAmount),
		errors.Is(err, rtoken.ErrInvalidAddress),
		errors.Is(err, rtoken.ErrInvalidHat):
		status = http.StatusBadRequest
	case errors.Is(err, rtoken.ErrHatNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rtoken.ErrInsufficientBalance),
		errors.Is(err, rtoken.ErrInsufficientAllowance):
		status = http.StatusConflict
	case errors.Is(err, rtoken.ErrTransferFailed):
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
