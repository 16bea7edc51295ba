package tracking

import "errors"

// Business errors. All are terminal for the request and never retried.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyCheckedIn = errors.New("already checked in")
	ErrNotCheckedIn     = errors.New("not checked in")
)

// Error carries a human-readable message for one of the business errors.
// errors.Is matches it against its Kind.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// IsBusinessError reports whether err is one of the tracker's business
// errors rather than an infrastructure failure.
func IsBusinessError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
