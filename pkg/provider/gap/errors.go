package gap

import (
	"context"
	"errors"
	"fmt"
)

// ErrFallback is the sentinel wrapped by provider-internal failures that are
// recoverable by delegating to a simpler analysis path. It separates "try the
// fallback" from hard errors so unrelated failures are never swallowed by a
// fallback branch.
var ErrFallback = errors.New("recoverable, fallback eligible")

// ErrNoBoundaries is returned when a detection pass completed but produced an
// empty boundary list under speech-start semantics. Callers must treat this
// as a detection failure, never as gap zero.
var ErrNoBoundaries = errors.New("no vocal boundaries found")

// DetectionError is the provider-level failure type. Provider identifies
// which variant failed, since different variants fail for different
// diagnosable reasons (missing model weights, corrupt audio, VAD backend
// absent). Cancelled marks cooperative cancellation so retry logic can
// short-circuit instead of expanding the window again.
type DetectionError struct {
	// Provider is the method identifier of the failing variant.
	Provider Method

	// Cancelled is true when the failure was caused by cancellation rather
	// than an analysis error.
	Cancelled bool

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *DetectionError) Error() string {
	if e.Cancelled {
		return fmt.Sprintf("gap detection cancelled (provider %s)", e.Provider)
	}
	if e.Cause != nil {
		return fmt.Sprintf("gap detection failed (provider %s): %v", e.Provider, e.Cause)
	}
	return fmt.Sprintf("gap detection failed (provider %s)", e.Provider)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *DetectionError) Unwrap() error { return e.Cause }

// NewDetectionError wraps cause in a [DetectionError] for the given provider.
// Context cancellation errors are recognised and flagged as Cancelled.
func NewDetectionError(provider Method, cause error) *DetectionError {
	return &DetectionError{
		Provider:  provider,
		Cancelled: errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded),
		Cause:     cause,
	}
}

// Cancelled builds a cancellation-flavoured [DetectionError] for provider.
func Cancelled(provider Method, cause error) *DetectionError {
	return &DetectionError{Provider: provider, Cancelled: true, Cause: cause}
}

// IsCancelled reports whether err is (or wraps) a cancellation-flavoured
// [DetectionError] or a bare context cancellation.
func IsCancelled(err error) bool {
	var de *DetectionError
	if errors.As(err, &de) && de.Cancelled {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
