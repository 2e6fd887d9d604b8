// Package view derives the page model shown by the UI. Build is a pure
// function of the stored snapshot and the dashboard state, so any observer
// can re-derive the page after a store replacement.
package view

import (
	"strconv"

	"finclient/internal/core"
	"finclient/internal/dashboard"
)

// DisplayDateLayout is how expense dates are shown in the list.
const DisplayDateLayout = "02.01.2006"

const noDescription = "No description"

type (
	Page struct {
		Authenticated bool
		Loaded        bool
		UserEmail     string
		SyncError     string
		Busy          bool

		Expenses     []ExpenseRow
		Categories   []CategoryOption
		ExpenseForm  ExpenseFormView
		CategoryForm CategoryFormView

		// Delete and Edit are non-nil while their dialog is open.
		Delete *DeleteDialog
		Edit   *EditDialog
	}

	ExpenseRow struct {
		ID          int64
		Description string
		Date        string
		Category    string
		Amount      string
	}

	CategoryOption struct {
		ID       string
		Name     string
		Selected bool
	}

	ExpenseFormView struct {
		Amount      string
		Description string
		Date        string
		Categories  []CategoryOption
		Error       string
	}

	CategoryFormView struct {
		Name  string
		Error string
	}

	DeleteDialog struct {
		ExpenseID   int64
		Description string
		InFlight    bool
		Error       string
	}

	EditDialog struct {
		ExpenseID   int64
		Amount      string
		Description string
		Date        string
		Categories  []CategoryOption
		InFlight    bool
		Error       string
	}
)

// Empty reports whether a loaded snapshot has no expenses.
func (p Page) Empty() bool {
	return p.Loaded && len(p.Expenses) == 0
}

// Build derives the page. When authenticated is false only the auth views
// are reachable and everything else is left empty.
func Build(snap core.Snapshot, loaded bool, st dashboard.State, authenticated bool) Page {
	if !authenticated {
		return Page{}
	}

	p := Page{
		Authenticated: true,
		Loaded:        loaded,
		SyncError:     dashboard.UserMessage(st.SyncErr),
		Busy:          st.Busy,
		CategoryForm: CategoryFormView{
			Name:  st.CategoryForm.Draft.Name,
			Error: dashboard.UserMessage(st.CategoryForm.Err),
		},
	}
	if loaded {
		p.UserEmail = snap.User.Email
		p.Expenses = make([]ExpenseRow, 0, len(snap.Expenses))
		for _, e := range snap.Expenses {
			p.Expenses = append(p.Expenses, row(snap, e))
		}
		p.Categories = options(snap.Categories, "")
	}

	form := st.ExpenseForm.Draft
	p.ExpenseForm = ExpenseFormView{
		Amount:      form.Amount,
		Description: form.Description,
		Date:        form.Date,
		Categories:  options(snap.Categories, form.CategoryID),
		Error:       dashboard.UserMessage(st.ExpenseForm.Err),
	}

	if st.Delete.Phase.Open() {
		d := &DeleteDialog{
			ExpenseID: st.Delete.ExpenseID,
			InFlight:  st.Delete.Phase == dashboard.PhaseInFlight,
			Error:     dashboard.UserMessage(st.Delete.Err),
		}
		if e, ok := snap.Expense(st.Delete.ExpenseID); ok {
			d.Description = describe(e)
		}
		p.Delete = d
	}

	if st.Edit.Phase.Open() {
		draft := st.Edit.Draft
		p.Edit = &EditDialog{
			ExpenseID:   st.Edit.ExpenseID,
			Amount:      draft.Amount,
			Description: draft.Description,
			Date:        draft.Date,
			Categories:  options(snap.Categories, draft.CategoryID),
			InFlight:    st.Edit.Phase == dashboard.PhaseInFlight,
			Error:       dashboard.UserMessage(st.Edit.Err),
		}
	}

	return p
}

func row(snap core.Snapshot, e core.Expense) ExpenseRow {
	r := ExpenseRow{
		ID:          e.ID,
		Description: describe(e),
		Amount:      e.Amount.String(),
	}
	if !e.Date.IsZero() {
		r.Date = e.Date.Format(DisplayDateLayout)
	}
	switch {
	case e.Category != nil:
		r.Category = e.Category.Name
	case e.CategoryID != nil:
		if c, ok := snap.Category(*e.CategoryID); ok {
			r.Category = c.Name
		}
	}
	return r
}

func describe(e core.Expense) string {
	if e.Description == "" {
		return noDescription
	}
	return e.Description
}

func options(categories []core.Category, selected string) []CategoryOption {
	out := make([]CategoryOption, 0, len(categories))
	for _, c := range categories {
		id := strconv.FormatInt(c.ID, 10)
		out = append(out, CategoryOption{ID: id, Name: c.Name, Selected: id == selected})
	}
	return out
}
