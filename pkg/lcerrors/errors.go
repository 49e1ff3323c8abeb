// Package lcerrors defines the canonical error vocabulary shared by every
// layer of the execution stack (path/policy/executor/sandbox/decision), so
// that API handlers can map any of them to a status code in one place.
package lcerrors

import (
	"errors"
	"fmt"
)

// Kind is one entry from the canonical error vocabulary (spec §7).
type Kind string

const (
	KindPathViolation      Kind = "PathViolation"
	KindPolicyDenied       Kind = "PolicyDenied"
	KindInvalidArgument    Kind = "InvalidArgument"
	KindSandboxRuntime     Kind = "SandboxRuntime"
	KindChecksumMismatch   Kind = "ChecksumMismatch"
	KindApplyFailed        Kind = "ApplyFailed"
	KindVerificationFailed Kind = "VerificationFailed"
	KindHealthCheckFailed  Kind = "HealthCheckFailed"
	KindLockAcquisition    Kind = "LockAcquisitionFailed"
	KindProviderClosed     Kind = "ProviderClosed"
	KindWebBlocked         Kind = "WebBlocked"
	KindWebParseError      Kind = "WebParseError"
	KindWebTimeout         Kind = "WebTimeout"
	KindWebNetworkError    Kind = "WebNetworkError"
	KindWebAuthError       Kind = "WebAuthError"
	KindWebBadGateway      Kind = "WebBadGateway"
	KindDecisionSchema     Kind = "DecisionSchema"
	KindDecisionLogic      Kind = "DecisionLogic"
)

// PathViolation sub-kinds (spec §4.1).
const (
	SubPathTraversal      = "path_traversal"
	SubForbiddenRoot       = "forbidden_root"
	SubSymlinkPath         = "symlink_path"
	SubOutsideWorkspace    = "outside_workspace"
	SubAbsolutePathDenied  = "absolute_path_denied"
	SubUNCPathDenied       = "unc_path_denied"
)

// ApplyFailed sub-kinds (spec §7).
const (
	SubCreateExists    = "create_exists"
	SubUpdateMismatch  = "update_mismatch"
	SubDeleteMismatch  = "delete_mismatch"
)

// WebBlocked detail codes (spec §4.15, §7).
const (
	DetailHTTP403          = "http_403"
	DetailHTTP429          = "http_429"
	DetailCaptchaRequired  = "captcha_required"
	DetailCaptchaCooldown  = "captcha_cooldown"
)

// WebParseError detail codes (spec §4.15).
const (
	DetailParseFailed     = "parse_failed"
	DetailDOMMismatch     = "dom_mismatch"
	DetailUnknownStruct   = "unknown_structure"
)

// Error is a typed error carrying a canonical Kind, an optional sub-kind, and
// a human-readable message. Every internal component raises one of these;
// the API layer is the only place they are translated to status codes.
type Error struct {
	Kind    Kind
	Sub     string
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Sub != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Sub, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no sub-kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithSub builds an *Error carrying a sub-kind (e.g. a PathViolation reason).
func WithSub(kind Kind, sub, message string) *Error {
	return &Error{Kind: kind, Sub: sub, Message: message}
}

// Wrap builds an *Error that wraps an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As extracts the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// ErrNotFound and ErrAlreadyExists are plain sentinels reused by every store
// package (governance, execution, memory, conversation, run queue) for the
// common "row not found" / "duplicate insert" cases that do not need a Kind.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
)
