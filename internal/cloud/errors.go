package cloud

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
)

// The three retryable-ness classes of spec §7. Adapter calls are classified
// into exactly one of these (or nil); the reconciler branches on
// errors.Is(err, ErrPermission) etc. to decide abort-vs-skip-vs-continue.
var (
	// ErrTransient marks throttling, 5xx, and network errors: the
	// reconciler logs and retries on the next tick without mutating state.
	ErrTransient = errors.New("transient cloud error")
	// ErrPermission marks credential/authorization failures: the iteration
	// aborts rather than being silently retried forever against a
	// misconfigured account.
	ErrPermission = errors.New("cloud permission error")
	// ErrMalformed marks a cloud response missing an expected field.
	// RequestSpot returns it when EC2 answers without a request ID; the
	// reconciler logs the failure for that worker type and the iteration
	// continues. No event is emitted for it.
	ErrMalformed = errors.New("malformed cloud response")
)

// permissionCodes lists the EC2/IAM API error codes that mean "we are not
// allowed to do this", as opposed to "try again".
var permissionCodes = map[string]bool{
	"AuthFailure":                true,
	"UnauthorizedOperation":      true,
	"AccessDenied":               true,
	"AccessDeniedException":      true,
	"InvalidClientTokenId":       true,
	"SignatureDoesNotMatch":      true,
}

// throttleCodes lists API error codes that are always transient.
var throttleCodes = map[string]bool{
	"RequestLimitExceeded":   true,
	"Throttling":             true,
	"ThrottlingException":    true,
	"TooManyRequestsException": true,
	"InternalError":          true,
	"ServiceUnavailable":     true,
}

// Classify wraps a raw AWS SDK error with ErrPermission or ErrTransient. A
// nil err classifies to nil. Errors whose code matches neither list are
// wrapped as ErrTransient (fail closed towards "retry next tick", per spec
// §7's self-healing-by-repetition rule). Classify never returns
// ErrMalformed; adapter methods produce that one directly.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case permissionCodes[code]:
			return wrapClassified(ErrPermission, err)
		case throttleCodes[code]:
			return wrapClassified(ErrTransient, err)
		}
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return wrapClassified(ErrTransient, err)
	}
	return wrapClassified(ErrTransient, err)
}

// wrapClassified joins a sentinel and the underlying cause so both
// errors.Is(sentinel) and the original message survive.
func wrapClassified(sentinel, cause error) error {
	return &classifiedError{sentinel: sentinel, cause: cause}
}

type classifiedError struct {
	sentinel error
	cause    error
}

func (e *classifiedError) Error() string { return e.cause.Error() }
func (e *classifiedError) Unwrap() []error {
	return []error{e.sentinel, e.cause}
}
