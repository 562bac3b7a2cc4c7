// Package errs defines the orchestrator's error taxonomy: a small set of
// kinds, each carrying a code, an optional cause, and a fatal flag.
package errs

import "fmt"

// Kind classifies where an error originated.
type Kind string

const (
	KindMedia            Kind = "media"
	KindNetwork          Kind = "network"
	KindEncryptedMedia   Kind = "encrypted_media"
	KindOther            Kind = "other"
)

// Well-known codes referenced by the orchestrator and its collaborators.
const (
	CodeMediaStartingTimeNotFound = "MEDIA_STARTING_TIME_NOT_FOUND"
	CodeInvalidKeySystem          = "INVALID_KEY_SYSTEM"
	CodeBufferFull                = "BUFFER_FULL"
	CodeSegmentFetchFailed        = "SEGMENT_FETCH_FAILED"
	CodeManifestFetchFailed       = "MANIFEST_FETCH_FAILED"
	CodeSourceOpenFailed          = "SOURCE_OPEN_FAILED"
	CodeConcurrentOrchestrator    = "CONCURRENT_ORCHESTRATOR"
	CodeUnknown                   = "UNKNOWN"
)

// Error is the orchestrator's uniform error type. Fatal errors terminate the
// orchestrator and are surfaced as a final Fatal event; non-fatal errors are
// emitted as Warning events and recovery continues.
type Error struct {
	Kind  Kind
	Code  string
	Cause error
	Fatal bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s/%s: %v", e.Kind, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s/%s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a non-fatal Error of the given kind/code.
func New(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Cause: cause}
}

// NewFatal builds a fatal Error of the given kind/code.
func NewFatal(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Cause: cause, Fatal: true}
}

// Other wraps an error of unknown origin. It becomes fatal once a retry
// budget around it is exhausted; callers set Fatal explicitly at that point.
func Other(cause error) *Error {
	return &Error{Kind: KindOther, Code: CodeUnknown, Cause: cause}
}

// ShouldRetry is a pure function on the error variant: known-fatal errors
// short-circuit, everything else (including unknown errors, until the
// retry budget around them is exhausted) is retryable.
func ShouldRetry(err error) bool {
	var e *Error
	if !As(err, &e) {
		return true
	}
	return !e.Fatal
}

// As is a thin wrapper so callers don't need to import errors just for this
// package's type assertion; kept separate from errors.As to avoid a stutter
// import at call sites that already alias errors.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
