package txmgr

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates the transaction manager's error categories.
type ErrorCode int

const (
	// Unknown represents an unspecified error condition.
	Unknown ErrorCode = iota
	// IllegalTransactionState covers MANDATORY with no outer, NEVER with an
	// outer, and operating on an already-completed status.
	IllegalTransactionState
	// InvalidTimeout is returned when TimeoutSeconds < DefaultTimeout.
	InvalidTimeout
	// NestedTransactionNotSupported is returned when NESTED is requested but
	// nesting is disallowed or the adapter can't savepoint.
	NestedTransactionNotSupported
	// TransactionSuspensionNotSupported is returned when an adapter refuses
	// DoSuspend/DoResume.
	TransactionSuspensionNotSupported
	// UnexpectedRollback is returned when a commit is requested on a scope
	// that is (or became) rollback-only.
	UnexpectedRollback
	// TransactionException wraps adapter-level begin/commit/rollback
	// failures as they propagate through the engine.
	TransactionException
	// DuplicateResourceBinding is returned when the context binder is asked
	// to bind a second resource holder under an already-bound key.
	DuplicateResourceBinding
)

// Error is the transaction manager's error type. It carries a coarse code,
// the wrapped underlying error, and optional caller-relevant data, matching
// the shape callers use to distinguish UnexpectedRollback from a generic
// TransactionException without parsing strings.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

// Error formats the code, wrapped error, and user data.
func (e *Error) Error() string {
	return fmt.Errorf("txmgr error code: %d, details: %w, user data: %v", e.Code, e.Err, e.UserData).Error()
}

// Unwrap allows errors.Is/errors.As to reach the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, msg string, userData any) *Error {
	return &Error{Code: code, Err: errors.New(msg), UserData: userData}
}

func wrapError(code ErrorCode, err error, userData any) *Error {
	return &Error{Code: code, Err: err, UserData: userData}
}

// IsUnexpectedRollback reports whether err is (or wraps) an UnexpectedRollback.
func IsUnexpectedRollback(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) && te.Code == UnexpectedRollback {
		return te, true
	}
	return nil, false
}

// IsIllegalTransactionState reports whether err is (or wraps) an
// IllegalTransactionState error.
func IsIllegalTransactionState(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) && te.Code == IllegalTransactionState {
		return te, true
	}
	return nil, false
}
