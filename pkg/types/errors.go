package types

import "errors"

// Error kinds shared across packages. Handlers switch on these with
// errors.As / errors.Is to choose between an ERROR frame, an HTTP status,
// or a log-and-drop.

// ValidationError reports input that violates a domain invariant
// (coordinate range, color format, missing attribution).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// DecodingError reports a frame or payload that could not be parsed at
// all. It is distinct from ValidationError: decoding failures never reach
// domain validation.
type DecodingError struct {
	Reason string
}

func (e *DecodingError) Error() string {
	return e.Reason
}

// PersistenceError wraps a storage failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ErrConflict is returned when a user id that must be unique already
// exists in the directory.
var ErrConflict = errors.New("user id already exists")

// IsRejection reports whether err is a client-caused rejection (validation
// or decoding) as opposed to a server-side failure.
func IsRejection(err error) bool {
	var ve *ValidationError
	var de *DecodingError
	return errors.As(err, &ve) || errors.As(err, &de)
}
