package api

import (
	"errors"
	"net/http"

	"configcenter/internal/configcenter"
)

type apiError struct {
	Status  int
	Message string
	Code    string
}

type apiHandler func(http.ResponseWriter, *http.Request) *apiError

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
	}
	return ""
}

// storeError maps a config store failure onto a response.
func storeError(err error) *apiError {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, configcenter.ErrInvalidName):
		return &apiError{Status: http.StatusBadRequest, Message: err.Error(), Code: "invalid_name"}
	case errors.As(err, &tooLarge):
		return &apiError{Status: http.StatusRequestEntityTooLarge, Message: "config content too large"}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
}
