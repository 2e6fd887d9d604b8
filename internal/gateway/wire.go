package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"finclient/internal/core"
)

type (
	userDTO struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
	}

	categoryDTO struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	expenseDTO struct {
		ID          int64           `json:"id"`
		Amount      decimal.Decimal `json:"amount"`
		Description *string         `json:"description"`
		Date        string          `json:"date"`
		CategoryID  *int64          `json:"category_id"`
		Category    *categoryDTO    `json:"category"`
	}

	tokenDTO struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}

	credentialsDTO struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	categoryRequest struct {
		Name string `json:"name"`
	}
)

func (u userDTO) toCore() core.User {
	return core.User{ID: u.ID, Email: u.Email}
}

func (c categoryDTO) toCore() core.Category {
	return core.Category{ID: c.ID, Name: c.Name}
}

func (e expenseDTO) toCore() (core.Expense, error) {
	date, err := core.ParseDate(e.Date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %d date %q: %w", e.ID, e.Date, err)
	}
	out := core.Expense{
		ID:         e.ID,
		Amount:     e.Amount,
		Date:       date,
		CategoryID: e.CategoryID,
	}
	if e.Description != nil {
		out.Description = *e.Description
	}
	if e.Category != nil {
		c := e.Category.toCore()
		out.Category = &c
		if out.CategoryID == nil {
			id := c.ID
			out.CategoryID = &id
		}
	}
	return out, nil
}

func expensesToCore(dtos []expenseDTO) ([]core.Expense, error) {
	out := make([]core.Expense, 0, len(dtos))
	for _, d := range dtos {
		e, err := d.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func categoriesToCore(dtos []categoryDTO) []core.Category {
	out := make([]core.Category, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toCore())
	}
	return out
}

// expenseRequest is the write body for create and update.
// The amount goes out as a JSON number; category_id is omitted when unset
// and sent as null when cleared.
type expenseRequest struct {
	fields core.ExpenseFields
}

func (r expenseRequest) MarshalJSON() ([]byte, error) {
	body := map[string]any{
		"amount":      json.Number(r.fields.Amount.String()),
		"description": r.fields.Description,
		"date":        r.fields.Date.String(),
	}
	switch {
	case r.fields.CategoryID.IsUnset():
	case r.fields.CategoryID.IsNull():
		body["category_id"] = nil
	default:
		id, _ := r.fields.CategoryID.Get()
		body["category_id"] = id
	}
	return json.Marshal(body)
}
