// Package errs implements the error taxonomy (spec §4.9, §7): a small closed
// set of failure kinds that every plugin and the plugin service classify
// driver errors into, plus the classification primitives dialects use to
// build their per-engine SQLSTATE/substring tables.
//
// Classification is by attribute, not by Go type: two errors of different
// underlying types can carry the same Kind, and callers test for a kind with
// [Is] or [KindOf] rather than a type assertion. This mirrors spec §9's design
// note that classification must stay portable across target stacks.
//
// Wrapping is built on github.com/cockroachdb/errors (grounded on
// teranos-QNTX's internal/errors package) instead of the teacher's bare
// fmt.Errorf-based AppError: the taxonomy needs a stack trace on InternalError
// and invariant violations, and cockroachdb/errors.Wrap/errors.As compose
// cleanly with multiple failover retries wrapping one underlying cause.
package errs

import (
	"github.com/cockroachdb/errors"
)

// Kind is one of the failure categories named in spec §4.9.
type Kind int

const (
	KindUnknown Kind = iota
	KindLogin
	KindNetwork
	KindAccess
	KindSyntax
	KindTransactionResolutionUnknown
	KindFailoverSuccess
	KindFailoverFailed
	KindUnsupportedStrategy
	KindConfiguration
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "LoginError"
	case KindNetwork:
		return "NetworkError"
	case KindAccess:
		return "AccessError"
	case KindSyntax:
		return "SyntaxError"
	case KindTransactionResolutionUnknown:
		return "TransactionResolutionUnknownError"
	case KindFailoverSuccess:
		return "FailoverSuccessError"
	case KindFailoverFailed:
		return "FailoverFailedError"
	case KindUnsupportedStrategy:
		return "UnsupportedStrategyError"
	case KindConfiguration:
		return "ConfigurationError"
	case KindInternal:
		return "InternalError"
	default:
		return "UnknownError"
	}
}

// taggedError is the concrete type every constructor in this package wraps
// its cause in. Exported only through Kind()/Unwrap() so callers classify by
// attribute rather than by type assertion against taggedError itself.
type taggedError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *taggedError) Error() string {
	switch {
	case e.cause != nil && e.msg != "":
		return e.msg + ": " + e.cause.Error()
	case e.cause != nil:
		return e.cause.Error()
	default:
		return e.msg
	}
}

func (e *taggedError) Unwrap() error { return e.cause }

// Kind reports the category this error was tagged with.
func (e *taggedError) Kind() Kind { return e.kind }

// New creates a Kind-tagged error with a stack trace attached.
func New(kind Kind, msg string) error {
	return errors.WithStack(&taggedError{kind: kind, msg: msg})
}

// Newf is New with fmt-style formatting.
func Newf(kind Kind, format string, args ...interface{}) error {
	return errors.WithStack(&taggedError{kind: kind, cause: errors.Newf(format, args...)})
}

// Wrap tags an existing error with a Kind, preserving it as the cause chain
// so errors.Is/errors.As against the original error still work.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return errors.WithStack(&taggedError{kind: kind, msg: msg, cause: cause})
}

// KindOf walks err's cause chain and returns the first tagged Kind found, or
// KindUnknown if err (or nothing in its chain) was ever tagged.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var tagged *taggedError
	if errors.As(err, &tagged) {
		return tagged.kind
	}
	return KindUnknown
}

// Is reports whether err is tagged with kind anywhere in its cause chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Convenience constructors matching the names in spec §7/§4.9.

func LoginError(cause error, msg string) error { return Wrap(KindLogin, cause, msg) }
func NetworkError(cause error, msg string) error { return Wrap(KindNetwork, cause, msg) }
func AccessError(cause error, msg string) error { return Wrap(KindAccess, cause, msg) }
func SyntaxError(cause error, msg string) error { return Wrap(KindSyntax, cause, msg) }

func TransactionResolutionUnknownError(cause error) error {
	return Wrap(KindTransactionResolutionUnknown, cause, "transaction outcome unknown after failover; re-run the transaction")
}

func FailoverSuccessError(newHostID string) error {
	return New(KindFailoverSuccess, "session recovered via failover to host "+newHostID+"; retry the call")
}

func FailoverFailedError(cause error) error {
	return Wrap(KindFailoverFailed, cause, "failover did not complete within the configured deadline")
}

func UnsupportedStrategyError(name string) error {
	return New(KindUnsupportedStrategy, "unsupported host selection strategy: "+name)
}

func ConfigurationError(msg string) error { return New(KindConfiguration, msg) }

// Internal wraps an invariant violation or unexpected internal state. Every
// call site should be one this design considers a bug if ever hit.
func Internal(msg string) error { return New(KindInternal, msg) }

func InternalWrap(cause error, msg string) error { return Wrap(KindInternal, cause, msg) }

// IsRetryableLogin reports whether err represents a login failure that a
// cached-credential auth plugin (C11) should treat as "regenerate and retry
// once" rather than propagate immediately.
func IsRetryableLogin(err error) bool { return Is(err, KindLogin) }

// IsFailoverTrigger reports whether err should push the failover state
// machine (C12) from NORMAL into TRIGGER. Per spec §4.5 only network errors
// (including the abort triggered by an EFM monitor, which surfaces as one)
// trigger failover; login/access/syntax errors are left to the caller.
func IsFailoverTrigger(err error) bool {
	return Is(err, KindNetwork)
}

// Root walks err's Unwrap chain to the innermost cause. Auth plugins (C11)
// use this before reclassifying a driver error: a dialect's Connect wraps
// every failure at the network boundary (e.g. PostgresDriver.Connect wraps
// ping errors as KindNetwork), which would otherwise shadow the login-
// specific SQLSTATE/message a Classifier needs to see to tell "wrong
// password" apart from "host unreachable."
func Root(err error) error {
	for {
		u := errors.Unwrap(err)
		if u == nil {
			return err
		}
		err = u
	}
}
