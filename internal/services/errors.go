package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/staybook/backend/internal/gateway"
	"github.com/staybook/backend/internal/models"
)

const dateLayout = "2006-01-02"

// ErrAmountMismatch is a webhook whose amount or currency differs from the
// transaction log. The row stays pending.
var ErrAmountMismatch = errors.New("webhook amount does not match transaction")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// StateConflictError is an operation against a booking or transaction in a
// terminal or otherwise incompatible state.
type StateConflictError struct {
	Entity string
	ID     string
	State  string
	Reason string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s is %s: %s", e.Entity, e.ID, e.State, e.Reason)
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

type AvailabilityConflictError struct {
	PropertyID string
	Dates      []time.Time
}

func (e *AvailabilityConflictError) Error() string {
	return fmt.Sprintf("property %s unavailable on %s", e.PropertyID, strings.Join(formatDates(e.Dates), ", "))
}

// MaterializationConflictError is a paid transaction that cannot become a
// booking. It needs a manual refund.
type MaterializationConflictError struct {
	TransactionLogID string
	Dates            []time.Time
	Reason           string
}

func (e *MaterializationConflictError) Error() string {
	msg := fmt.Sprintf("transaction %s paid but not bookable: %s", e.TransactionLogID, e.Reason)
	if len(e.Dates) > 0 {
		msg += " (" + strings.Join(formatDates(e.Dates), ", ") + ")"
	}
	return msg
}

type (
	GatewayConfigurationError = gateway.ConfigurationError
	GatewayRejectionError     = gateway.RejectionError
)

func formatDates(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(dateLayout)
	}
	return out
}

// WriteServiceError maps the error taxonomy onto an HTTP response.
func WriteServiceError(w http.ResponseWriter, err error) {
	var (
		fieldErrs    validator.ValidationErrors
		validation   *ValidationError
		availability *AvailabilityConflictError
		conflict     *StateConflictError
		notFound     *NotFoundError
		gwConfig     *gateway.ConfigurationError
		gwRejection  *gateway.RejectionError
		materialize  *MaterializationConflictError
	)

	switch {
	case errors.As(err, &fieldErrs):
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, fieldErrs)
	case errors.As(err, &validation):
		SendErrorResponse(w, validation.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, gateway.ErrUnknownProvider):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.As(err, &availability):
		sendErrorBody(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Selected dates are not available",
			Details: map[string]string{"dates": strings.Join(formatDates(availability.Dates), ",")},
		})
	case errors.As(err, &conflict):
		SendErrorResponse(w, conflict.Error(), http.StatusConflict, nil)
	case errors.As(err, &notFound):
		SendErrorResponse(w, notFound.Error(), http.StatusNotFound, nil)
	case errors.As(err, &gwConfig):
		SendErrorResponse(w, "Payment gateway is not configured", http.StatusInternalServerError, nil)
	case errors.As(err, &gwRejection):
		status := http.StatusBadGateway
		if gwRejection.IsClientError() {
			status = http.StatusBadRequest
		}
		SendErrorResponse(w, gwRejection.Message, status, nil)
	case errors.Is(err, gateway.ErrInvalidSignature):
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
	case errors.Is(err, gateway.ErrMalformedPayload), errors.Is(err, ErrAmountMismatch):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.As(err, &materialize):
		SendErrorResponse(w, "Payment received but booking could not be completed", http.StatusInternalServerError, nil)
	case errors.Is(err, ErrCheckInUnavailable):
		SendErrorResponse(w, err.Error(), http.StatusServiceUnavailable, nil)
	case errors.Is(err, models.ErrUnsupportedSnapshot):
		SendErrorResponse(w, "Stored booking intent is unreadable", http.StatusInternalServerError, nil)
	default:
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
