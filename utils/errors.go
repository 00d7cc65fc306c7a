package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func NewAPIErrorWithDetails(code int, message, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrInvalidRequest = NewAPIError(http.StatusBadRequest, "Invalid request")
	ErrUnauthorized   = NewAPIError(http.StatusUnauthorized, "Unauthorized")
	ErrForbidden      = NewAPIError(http.StatusForbidden, "Forbidden")
	ErrNotFound       = NewAPIError(http.StatusNotFound, "Resource not found")
	ErrConflict       = NewAPIError(http.StatusConflict, "Resource conflict")
	ErrInternalServer = NewAPIError(http.StatusInternalServerError, "Internal server error")
)

var (
	ErrSubscriptionNotFound = NewAPIError(http.StatusNotFound, "Subscription not found")
	ErrDeliveryNotFound     = NewAPIError(http.StatusNotFound, "Delivery not found")
	ErrTenantKeyRequired    = NewAPIError(http.StatusUnauthorized, "API key required")
	ErrTenantKeyInvalid     = NewAPIError(http.StatusUnauthorized, "Invalid API key")
)

var (
	ErrWebhookSignatureMissing = NewAPIError(http.StatusBadRequest, "Missing webhook signature")
	ErrWebhookSignatureInvalid = NewAPIError(http.StatusUnauthorized, "Invalid webhook signature")
	ErrWebhookPayloadInvalid   = NewAPIError(http.StatusBadRequest, "Invalid webhook payload")
)

func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

func GetHTTPStatusFromError(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return http.StatusInternalServerError
}
