package errs

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

var ErrAlreadyExists = errors.New("already exists")

var ErrInternal = errors.New("internal error")

var ErrDB = errors.New("database error")

var ErrInsufficientFunds = errors.New("insufficient funds")

var ErrInsufficientShares = errors.New("insufficient shares")

var ErrNoData = errors.New("no data")

// Kind classifies a Failure. The HTTP layer maps each kind to one status code.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindUnauthenticated    Kind = "unauthenticated"
	KindForbidden          Kind = "forbidden"
	KindUserNotFound       Kind = "user_not_found"
	KindResourceNotFound   Kind = "resource_not_found"
	KindConflict           Kind = "conflict"
	KindMarketClosed       Kind = "market_closed"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindInsufficientShares Kind = "insufficient_shares"
	KindPriceUnavailable   Kind = "price_unavailable"
	KindNoData             Kind = "no_data"
	KindProviderError      Kind = "provider_error"
	KindInternal           Kind = "internal"
)

// Failure is the single error shape returned by every service operation.
type Failure struct {
	Kind    Kind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches another *Failure by kind so callers can write
// errors.Is(err, &errs.Failure{Kind: errs.KindMarketClosed}).
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Kind == f.Kind
}

func New(kind Kind, message string) *Failure {
	return &Failure{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Failure {
	return &Failure{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first Failure in err's chain, or
// KindInternal when err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// Message returns the caller-facing message of err.
func Message(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Message
	}
	return "internal server error"
}
