package services

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the payout, refund and settlement services.
// Handlers map these onto HTTP status codes; nothing below the handler layer
// swallows them.
var (
	ErrInvalidAmount       = errors.New("requested amount must be greater than zero")
	ErrInvalidBankDetails  = errors.New("bank details are incomplete or invalid")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPayoutNotFound      = errors.New("payout not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrBatchNotFound       = errors.New("settlement batch not found")
	ErrRefundExists        = errors.New("payment already has a refund")
	ErrGatewayTimeout      = errors.New("gateway timed out")
)

// InvalidStateTransitionError signals a transition attempted from an illegal
// current status. It doubles as the concurrency guard: the loser of a race on
// the same payout receives this error and must refresh and re-decide.
type InvalidStateTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition for %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// IsInvalidStateTransition reports whether err is (or wraps) an
// InvalidStateTransitionError.
func IsInvalidStateTransition(err error) bool {
	var e *InvalidStateTransitionError
	return errors.As(err, &e)
}

// GatewayError carries the gateway's own code and message verbatim. Money-
// moving calls are never retried automatically; the caller decides.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// SettlementIntegrityError is fatal: a batch's stored total no longer matches
// the sum of its member net amounts. Completion halts for manual audit.
type SettlementIntegrityError struct {
	BatchID  string
	Stored   int64
	Computed int64
}

func (e *SettlementIntegrityError) Error() string {
	return fmt.Sprintf("settlement batch %s total mismatch: stored %d, computed %d", e.BatchID, e.Stored, e.Computed)
}
