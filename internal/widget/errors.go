package widget

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindNetwork   ErrorKind = "network"
	KindCancelled ErrorKind = "cancelled"
	KindFunding   ErrorKind = "funding"
	KindProvider  ErrorKind = "provider"
	// KindPending: the provider accepted the capture but has not settled it.
	KindPending ErrorKind = "pending"
)

// ParseErrorKind maps a client-reported kind to an ErrorKind. Unknown values
// are treated as provider errors.
func ParseErrorKind(s string) ErrorKind {
	switch k := ErrorKind(s); k {
	case KindNetwork, KindCancelled, KindFunding:
		return k
	default:
		return KindProvider
	}
}

// ErrCaptureUnconfirmed is returned when a capture failed in a way that may
// still have charged the payer. The intent stays pending and may be approved
// again.
var ErrCaptureUnconfirmed = errors.New("capture outcome unconfirmed")

// ProviderError is a failure reported by, or while talking to, the provider.
// No charge has happened when a ProviderError is raised, except for a
// capture whose OutcomeUnknown reports true.
type ProviderError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	msg := "payment provider " + string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// OutcomeUnknown reports whether a capture failing with e may have charged
// the payer: the request was lost in transit, aborted, or left unsettled.
func (e *ProviderError) OutcomeUnknown() bool {
	switch e.Kind {
	case KindNetwork, KindCancelled, KindPending:
		return true
	default:
		return false
	}
}

// UnconfirmedCaptureError wraps a capture failure with an unknown outcome.
type UnconfirmedCaptureError struct {
	IntentID string
	Err      *ProviderError
}

func (e *UnconfirmedCaptureError) Error() string {
	return "capture of intent " + e.IntentID + " unconfirmed: " + e.Err.Error()
}

func (e *UnconfirmedCaptureError) Unwrap() error { return e.Err }

func (e *UnconfirmedCaptureError) Is(target error) bool { return target == ErrCaptureUnconfirmed }

// AsProviderError returns err as a *ProviderError, classifying plain errors
// as network failures.
func AsProviderError(err error) *ProviderError {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr
	}
	if errors.Is(err, context.Canceled) {
		return &ProviderError{Kind: KindCancelled, Err: err}
	}
	return &ProviderError{Kind: KindNetwork, Err: err}
}
