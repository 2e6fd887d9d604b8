package dashboard

import (
	"errors"
	"net/http"

	"finclient/internal/core"
	"finclient/internal/gateway"
)

var (
	ErrMutationInFlight = errors.New("another change is in progress")
	ErrTargetConflict   = errors.New("expense is already targeted by another dialog")
	ErrUnknownExpense   = errors.New("expense not found")
	ErrNoTarget         = errors.New("no expense selected")
)

var validationMessages = []struct {
	err error
	msg string
}{
	{core.ErrEmptyAmount, "Amount is required."},
	{core.ErrInvalidAmount, "Amount must be a number."},
	{core.ErrMissingDate, "Date is required."},
	{core.ErrInvalidDate, "Date must be in YYYY-MM-DD format."},
	{core.ErrInvalidCategory, "Choose a valid category."},
	{core.ErrEmptyCategoryName, "Category name is required."},
	{core.ErrEmptyEmail, "Email is required."},
	{core.ErrEmptyPassword, "Password is required."},
}

// UserMessage maps err to the short text shown next to a form or dialog.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrMutationInFlight):
		return "Another change is still being saved. Please wait."
	case errors.Is(err, ErrTargetConflict):
		return "That expense is already open in another dialog."
	case errors.Is(err, ErrUnknownExpense):
		return "That expense no longer exists."
	case errors.Is(err, ErrNoTarget):
		return "No expense is selected."
	case errors.Is(err, core.ErrInvalidCredentials):
		return "Incorrect email or password."
	case errors.Is(err, core.ErrUnauthorized):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, core.ErrNoSession):
		return "Please sign in."
	case errors.Is(err, core.ErrValidation):
		for _, v := range validationMessages {
			if errors.Is(err, v.err) {
				return v.msg
			}
		}
		return "Please check the form."
	}

	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" &&
		apiErr.StatusCode >= http.StatusBadRequest && apiErr.StatusCode < http.StatusInternalServerError {
		return apiErr.Detail
	}
	if errors.Is(err, core.ErrTransport) {
		return "The server could not complete the request. Please try again."
	}
	return "Something went wrong. Please try again."
}
