package view

import (
	"testing"

	"github.com/shopspring/decimal"

	"finclient/internal/core"
	"finclient/internal/dashboard"
)

func fixture() core.Snapshot {
	coffee := core.Category{ID: 3, Name: "Coffee"}
	return core.Snapshot{
		User: core.User{ID: 1, Email: "ann@example.com"},
		Expenses: []core.Expense{
			{ID: 7, Amount: decimal.RequireFromString("150.5"), Description: "Latte", Date: core.NewDate(2024, 1, 1), CategoryID: &coffee.ID, Category: &coffee},
			{ID: 8, Amount: decimal.NewFromInt(12), Date: core.NewDate(2024, 2, 29)},
		},
		Categories: []core.Category{coffee, {ID: 4, Name: "Books"}},
	}
}

func TestBuildSignedOut(t *testing.T) {
	p := Build(fixture(), true, dashboard.State{}, false)
	if p.Authenticated || p.Expenses != nil || p.Delete != nil || p.Edit != nil {
		t.Fatalf("signed out page must be empty: %+v", p)
	}
}

func TestBuildRows(t *testing.T) {
	p := Build(fixture(), true, dashboard.State{}, true)

	if p.UserEmail != "ann@example.com" {
		t.Errorf("email = %q", p.UserEmail)
	}
	if len(p.Expenses) != 2 {
		t.Fatalf("rows = %+v", p.Expenses)
	}

	want := []ExpenseRow{
		{ID: 7, Description: "Latte", Date: "01.01.2024", Category: "Coffee", Amount: "150.5"},
		{ID: 8, Description: "No description", Date: "29.02.2024", Amount: "12"},
	}
	for i, w := range want {
		if p.Expenses[i] != w {
			t.Errorf("row %d = %+v, want %+v", i, p.Expenses[i], w)
		}
	}
	if p.Empty() {
		t.Errorf("page with rows reported empty")
	}
	if p.Delete != nil || p.Edit != nil {
		t.Errorf("dialogs open while flows idle")
	}
}

func TestBuildCategoryFallsBackToSnapshot(t *testing.T) {
	snap := fixture()
	books := int64(4)
	snap.Expenses[1].CategoryID = &books

	p := Build(snap, true, dashboard.State{}, true)
	if p.Expenses[1].Category != "Books" {
		t.Fatalf("category = %q", p.Expenses[1].Category)
	}
}

func TestBuildEmptyAndUnloaded(t *testing.T) {
	p := Build(core.Snapshot{}, true, dashboard.State{}, true)
	if !p.Empty() {
		t.Errorf("loaded snapshot with no expenses should be empty")
	}

	p = Build(core.Snapshot{}, false, dashboard.State{}, true)
	if p.Empty() || p.Loaded {
		t.Errorf("unloaded page must not claim to be empty")
	}
}

func TestBuildDialogs(t *testing.T) {
	st := dashboard.State{
		Delete: dashboard.DeleteState{Phase: dashboard.PhaseInFlight, ExpenseID: 8},
		Edit: dashboard.EditState{
			Phase:     dashboard.PhaseTargeting,
			ExpenseID: 7,
			Draft:     dashboard.EditDraft{Amount: "12.5", Description: "Latte", Date: "2024-01-01", CategoryID: "4"},
			Err:       core.ErrInvalidAmount,
		},
		ExpenseForm: dashboard.ExpenseFormState{
			Draft: dashboard.ExpenseForm{Amount: "3", Date: "2024-03-01", CategoryID: "3"},
		},
	}
	p := Build(fixture(), true, st, true)

	if p.Delete == nil || !p.Delete.InFlight || p.Delete.ExpenseID != 8 || p.Delete.Description != "No description" {
		t.Fatalf("delete dialog = %+v", p.Delete)
	}
	if p.Edit == nil || p.Edit.InFlight || p.Edit.Amount != "12.5" || p.Edit.Error != "Amount must be a number." {
		t.Fatalf("edit dialog = %+v", p.Edit)
	}

	selected := func(opts []CategoryOption) string {
		for _, o := range opts {
			if o.Selected {
				return o.Name
			}
		}
		return ""
	}
	if got := selected(p.Edit.Categories); got != "Books" {
		t.Errorf("edit selection = %q", got)
	}
	if got := selected(p.ExpenseForm.Categories); got != "Coffee" {
		t.Errorf("form selection = %q", got)
	}
	if p.ExpenseForm.Amount != "3" || p.ExpenseForm.Date != "2024-03-01" {
		t.Errorf("form draft = %+v", p.ExpenseForm)
	}
}
