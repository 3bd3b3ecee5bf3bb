package apperrors

import (
	"errors"
	"strings"
)

// appError is the concrete Error. Derived errors inherit the kind of their template.
type appError struct {
	msg           string
	base          error
	wrappedErrors []error
	kind          Kind
	expandError   bool
}

func (e *appError) Error() string {
	return e.msg
}

// ErrorAll returns the message followed by every wrapped error when expansion is enabled.
func (e *appError) ErrorAll() string {
	if !e.expandError {
		return e.Error()
	}
	var b strings.Builder
	b.WriteString(e.Error())
	for _, err := range e.wrappedErrors {
		if err == e.base {
			continue
		}
		b.WriteString("; ")
		var ae *appError
		if errors.As(err, &ae) {
			b.WriteString(ae.ErrorAll())
		} else {
			b.WriteString(err.Error())
		}
	}
	return b.String()
}

func (e *appError) Unwrap() error {
	return e.base
}

func (e *appError) UnwrapAll() []error {
	return e.wrappedErrors
}

func (e *appError) Msg(msg string) Error {
	return &appError{
		msg:           msg,
		base:          e,
		wrappedErrors: append([]error{e}, e.wrappedErrors...),
		kind:          e.kind,
		expandError:   e.expandError,
	}
}

func (e *appError) New(msg string) Error {
	return &appError{
		msg:         msg,
		base:        e,
		kind:        e.kind,
		expandError: e.expandError,
	}
}

func (e *appError) MsgErr(msg string, errs ...error) Error {
	all := append([]error{e}, errs...)
	return &appError{
		msg:           msg,
		base:          e,
		wrappedErrors: all,
		kind:          e.kind,
		expandError:   true,
	}
}

func (e *appError) Err(errs ...error) Error {
	all := append([]error{e}, errs...)
	return &appError{
		msg:           e.msg,
		base:          e,
		wrappedErrors: all,
		kind:          e.kind,
		expandError:   true,
	}
}

func (e *appError) SetExpandError(flag bool) Error {
	cp := *e
	cp.expandError = flag
	return &cp
}

func (e *appError) SetKind(k Kind) Error {
	cp := *e
	cp.kind = k
	return &cp
}

func (e *appError) Kind() Kind {
	return e.kind
}

// Is reports a match against the base chain and every wrapped error.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if errors.Is(e.base, target) {
		return true
	}
	for _, err := range e.wrappedErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// New creates a root-level error with the given message and KindInternal.
func New(msg string) Error {
	return &appError{
		msg: msg,
	}
}

// KindOf returns the kind of the outermost application error in err's chain.
// Errors that are not application errors are KindInternal.
func KindOf(err error) Kind {
	var ae Error
	if errors.As(err, &ae) {
		return ae.Kind()
	}
	return KindInternal
}

// IsKind reports whether err is an application error of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Detail returns the most verbose description of err available, for logging.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var ae Error
	if errors.As(err, &ae) {
		return ae.ErrorAll()
	}
	return err.Error()
}
