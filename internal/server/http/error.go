package http

import (
	"errors"
	"net/http"

	"github.com/ekisa-team/talkinghead/internal/service"
)

// APIError is the JSON body of every generation failure.
type APIError struct {
	Status int    `json:"status"`
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Token  string `json:"token,omitempty"`
	Stage  string `json:"stage,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return e.Title
	}
	return e.Title + ": " + e.Detail
}

// GetStatus implements huma.StatusError.
func (e *APIError) GetStatus() int {
	return e.Status
}

// newAPIError maps a service error onto its response.
func newAPIError(err error) *APIError {
	var se *service.Error
	if !errors.As(err, &se) {
		return &APIError{
			Status: http.StatusInternalServerError,
			Kind:   string(service.KindUnexpectedFailure),
			Title:  service.KindUnexpectedFailure.Title(),
			Detail: err.Error(),
		}
	}

	detail := se.Message
	if se.Detail != "" {
		if detail != "" {
			detail += ": "
		}
		detail += se.Detail
	}

	return &APIError{
		Status: se.Kind.HTTPStatus(),
		Kind:   string(se.Kind),
		Title:  se.Kind.Title(),
		Detail: detail,
		Token:  se.Token,
		Stage:  string(se.Stage),
	}
}

func invalidInput(detail string) *APIError {
	return &APIError{
		Status: http.StatusUnprocessableEntity,
		Kind:   string(service.KindInvalidInput),
		Title:  service.KindInvalidInput.Title(),
		Detail: detail,
	}
}
