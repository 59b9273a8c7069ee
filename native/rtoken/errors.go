package rtoken

import "errors"

var (
	ErrNilState              = errors.New("rtoken: state not configured")
	ErrNilStrategy           = errors.New("rtoken: allocation strategy not configured")
	ErrNilToken              = errors.New("rtoken: underlying token not configured")
	ErrInvalidAmount         = errors.New("rtoken: amount must be positive")
	ErrInvalidAddress        = errors.New("rtoken: invalid address")
	ErrInvalidHat            = errors.New("rtoken: invalid hat")
	ErrHatNotFound           = errors.New("rtoken: hat not found")
	ErrInsufficientBalance   = errors.New("rtoken: insufficient balance")
	ErrInsufficientAllowance = errors.New("rtoken: insufficient allowance")
	ErrTransferFailed        = errors.New("rtoken: underlying transfer failed")
	ErrAmountOverflow        = errors.New("rtoken: fixed point conversion out of range")
)
