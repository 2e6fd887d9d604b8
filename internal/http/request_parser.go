// Package http provides the local web UI server and its handlers.
//
// This file implements utilities for turning posted form values into the
// drafts the dashboard works with. Values are sanitized but otherwise kept
// exactly as typed; conversion happens in the dashboard on submit.

package http

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"finclient/internal/dashboard"
)

// Credentials holds a posted email and password.
type Credentials struct {
	Email    string
	Password string
}

// ParseCredentials reads the login and register forms. The password is not trimmed.
func ParseCredentials(form url.Values) Credentials {
	return Credentials{
		Email:    sanitizeInput(form.Get("email")),
		Password: form.Get("password"),
	}
}

// ParseExpenseForm reads the add-expense form.
func ParseExpenseForm(form url.Values) dashboard.ExpenseForm {
	return dashboard.ExpenseForm{
		Amount:      sanitizeInput(form.Get("amount")),
		Description: sanitizeInput(form.Get("description")),
		Date:        sanitizeInput(form.Get("date")),
		CategoryID:  sanitizeInput(form.Get("category_id")),
	}
}

// ParseEditDraft reads the edit dialog form.
func ParseEditDraft(form url.Values) dashboard.EditDraft {
	return dashboard.EditDraft{
		Amount:      sanitizeInput(form.Get("amount")),
		Description: sanitizeInput(form.Get("description")),
		Date:        sanitizeInput(form.Get("date")),
		CategoryID:  sanitizeInput(form.Get("category_id")),
	}
}

// ParseCategoryForm reads the add-category form.
func ParseCategoryForm(form url.Values) dashboard.CategoryForm {
	return dashboard.CategoryForm{Name: sanitizeInput(form.Get("name"))}
}

// ParseExpenseID reads the {id} path segment.
func ParseExpenseID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid expense id %q", raw)
	}
	return id, nil
}
