package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Common errors
var (
	ErrTransientIO          = errors.New("external table temporarily unreadable")
	ErrOrderRejected        = errors.New("order rejected")
	ErrInvalidCancel        = errors.New("invalid cancel request")
	ErrInconsistentSnapshot = errors.New("snapshot references unseen symbol")
	ErrUnknownOrder         = errors.New("unknown order")
	ErrUnknownAccount       = errors.New("unknown account")
	ErrMalformedRow         = errors.New("malformed table row")
	ErrFillExceedsQuantity  = errors.New("filled quantity exceeds order quantity")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrEngineStopped        = errors.New("engine stopped")
)

// TransientIOError wraps a failed external table access that should be
// retried on the next cycle
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient I/O error during %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}

func (e *TransientIOError) Is(target error) bool {
	return target == ErrTransientIO
}

// Transient wraps err as a TransientIOError for op
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientIOError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried next cycle
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientIO)
}

// InsufficientBalanceError represents insufficient cash or closeable shares
type InsufficientBalanceError struct {
	Account   string
	Asset     string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: account=%s asset=%s required=%s available=%s",
		e.Account, e.Asset, e.Required, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}
