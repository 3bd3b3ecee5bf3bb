// Package apperrors provides the error chain used across the review client. Errors carry a
// Kind that places them in the client's error taxonomy (validation, conflict, remote rejection,
// transport, timeout) so callers can branch on the class of failure while still matching the
// package sentinels with errors.Is.
package apperrors

// Kind classifies an application error.
type Kind int

const (
	// KindInternal is the default kind for errors that do not belong to any other class,
	// such as local storage faults.
	KindInternal Kind = iota
	// KindValidation marks malformed input rejected before any network call.
	KindValidation
	// KindConflict marks an attempt to create a session while another one is still active.
	KindConflict
	// KindRemoteRejected marks a well-formed response in which the service refused the request.
	KindRemoteRejected
	// KindTransport marks network failures and responses that could not be understood.
	KindTransport
	// KindTimeout marks a polling budget that ran out before the job reached a terminal status.
	KindTimeout
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindConflict:
		return "SessionConflict"
	case KindRemoteRejected:
		return "RemoteRejected"
	case KindTransport:
		return "TransportError"
	case KindTimeout:
		return "Timeout"
	default:
		return "InternalError"
	}
}

// Error defines the interface for application errors. All methods that return Error
// return a new value so that package level sentinels are never mutated.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                  // creates a new error using current as template
	Msg(msg string) Error                  // creates a new error with message and wraps original
	MsgErr(msg string, err ...error) Error // creates error with message and wraps extra errors
	Err(err ...error) Error                // attaches additional errors to current error
	SetExpandError(bool) Error             // controls whether ErrorAll expands wrapped errors
	SetKind(Kind) Error                    // sets the taxonomy kind
	Kind() Kind                            // returns the taxonomy kind
	ErrorAll() string                      // returns full message including wrapped errors
	UnwrapAll() []error                    // returns all wrapped errors
}
