package dashboard

import (
	"strconv"

	"github.com/aarondl/opt/omitnull"

	"finclient/internal/core"
)

// Phase is the position of a modal flow.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTargeting
	PhaseInFlight
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseTargeting:
		return "targeting"
	case PhaseInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Open reports whether the flow's modal is showing.
func (p Phase) Open() bool { return p != PhaseIdle }

type (
	// EditDraft holds the edit form exactly as typed. Values are converted on submit.
	EditDraft struct {
		Amount      string
		Description string
		Date        string
		CategoryID  string
	}

	// ExpenseForm is the add-expense form. A blank CategoryID means no category.
	ExpenseForm struct {
		Amount      string
		Description string
		Date        string
		CategoryID  string
	}

	CategoryForm struct {
		Name string
	}

	DeleteState struct {
		Phase     Phase
		ExpenseID int64
		Err       error
	}

	EditState struct {
		Phase     Phase
		ExpenseID int64
		Draft     EditDraft
		Err       error
	}

	ExpenseFormState struct {
		Draft ExpenseForm
		Err   error
	}

	CategoryFormState struct {
		Draft CategoryForm
		Err   error
	}

	// State is everything the renderer needs besides the snapshot.
	State struct {
		Delete       DeleteState
		Edit         EditState
		ExpenseForm  ExpenseFormState
		CategoryForm CategoryFormState
		// SyncErr is the last failed full sync, cleared by the next successful one.
		SyncErr error
		// Busy is set while a mutation or its resync is outstanding.
		Busy bool
	}
)

// DraftFromExpense fills an edit draft from a stored expense.
func DraftFromExpense(e core.Expense) EditDraft {
	d := EditDraft{
		Amount:      core.FormatAmount(e.Amount),
		Description: e.Description,
		Date:        e.Date.String(),
	}
	if id, ok := e.CategoryRef(); ok {
		d.CategoryID = strconv.FormatInt(id, 10)
	}
	return d
}

// Fields converts the draft for an update. A blank category clears it.
func (d EditDraft) Fields() (core.ExpenseFields, error) {
	return parseFields(d.Amount, d.Description, d.Date, d.CategoryID, core.NoCategory())
}

// Fields converts the form for a create. A blank category is left out.
func (f ExpenseForm) Fields() (core.ExpenseFields, error) {
	return parseFields(f.Amount, f.Description, f.Date, f.CategoryID, core.KeepCategory())
}

func newExpenseForm(today core.Date) ExpenseForm {
	return ExpenseForm{Date: today.String()}
}

func parseFields(amount, description, date, category string, blank omitnull.Val[int64]) (core.ExpenseFields, error) {
	a, err := core.ParseAmount(amount)
	if err != nil {
		return core.ExpenseFields{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.ExpenseFields{}, err
	}
	c, err := core.ParseCategorySelection(category, blank)
	if err != nil {
		return core.ExpenseFields{}, err
	}
	return core.ExpenseFields{
		Amount:      a,
		Description: description,
		Date:        d,
		CategoryID:  c,
	}, nil
}
