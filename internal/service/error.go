package service

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable class of a generation failure.
type Kind string

const (
	KindTranscodeFailure  Kind = "transcode_failure"
	KindCheckpointMissing Kind = "checkpoint_missing"
	KindInferenceFailure  Kind = "inference_failure"
	KindInferenceTimeout  Kind = "inference_timeout"
	KindOutputNotFound    Kind = "output_not_found"
	KindUnexpectedFailure Kind = "unexpected_failure"
	KindInvalidInput      Kind = "invalid_input"
	KindOverloaded        Kind = "overloaded"
	KindCanceled          Kind = "canceled"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrTranscodeFailure  = &Error{Kind: KindTranscodeFailure}
	ErrCheckpointMissing = &Error{Kind: KindCheckpointMissing}
	ErrInferenceFailure  = &Error{Kind: KindInferenceFailure}
	ErrInferenceTimeout  = &Error{Kind: KindInferenceTimeout}
	ErrOutputNotFound    = &Error{Kind: KindOutputNotFound}
	ErrUnexpectedFailure = &Error{Kind: KindUnexpectedFailure}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrOverloaded        = &Error{Kind: KindOverloaded}
	ErrCanceled          = &Error{Kind: KindCanceled}
)

// Title returns a short human-readable summary of the kind.
func (k Kind) Title() string {
	switch k {
	case KindTranscodeFailure:
		return "Audio transcoding failed"
	case KindCheckpointMissing:
		return "Model checkpoint not found"
	case KindInferenceFailure:
		return "Lip-sync inference failed"
	case KindInferenceTimeout:
		return "Lip-sync inference timed out"
	case KindOutputNotFound:
		return "Output video not found"
	case KindInvalidInput:
		return "Invalid input"
	case KindOverloaded:
		return "Server busy"
	case KindCanceled:
		return "Request canceled"
	default:
		return "Unexpected failure"
	}
}

// HTTPStatus maps the kind to a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusUnprocessableEntity
	case KindOverloaded, KindCanceled, KindCheckpointMissing:
		return http.StatusServiceUnavailable
	case KindInferenceTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a stage-aware generation failure. Detail carries the tail of the
// external tool's stderr, when there is one.
type Error struct {
	Kind    Kind   `json:"kind"`
	Stage   Stage  `json:"stage,omitempty"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Message
	if msg == "" {
		msg = e.Kind.Title()
	}
	if e.Stage != "" {
		msg = fmt.Sprintf("%s: %s", e.Stage, msg)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}

	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches sentinel errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindUnexpectedFailure when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpectedFailure
}
