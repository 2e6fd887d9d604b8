package core

import (
	"strings"
	"time"

	"github.com/aarondl/opt/omitnull"
	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format exchanged with the backend.
const DateLayout = "2006-01-02"

// dateLayouts are accepted when reading dates; the backend returns datetimes for stored expenses.
var dateLayouts = []string{
	DateLayout,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	time.RFC3339,
	time.RFC3339Nano,
}

type (
	Date struct {
		time.Time
	}

	User struct {
		ID    int64
		Email string
	}

	Category struct {
		ID   int64
		Name string
	}

	Expense struct {
		ID          int64
		Amount      decimal.Decimal
		Description string
		Date        Date
		CategoryID  *int64
		Category    *Category // resolved by the backend on read
	}

	// Snapshot is the user, expense list and category list fetched together.
	Snapshot struct {
		User       User
		Expenses   []Expense
		Categories []Category
	}

	// ExpenseFields is the writable field set of an expense.
	// An unset CategoryID omits the field, a null one clears the category.
	ExpenseFields struct {
		Amount      decimal.Decimal
		Description string
		Date        Date
		CategoryID  omitnull.Val[int64]
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate reads a calendar date, dropping any time-of-day part.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrMissingDate
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t.Year(), int(t.Month()), t.Day()), nil
		}
	}
	return Date{}, ErrInvalidDate
}

// Today returns the current calendar date in local time.
func Today() Date {
	now := time.Now()
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

// String formats the date as YYYY-MM-DD, or "" when zero.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrMissingDate
	}
	return nil
}

// CategoryRef returns the id of the expense's category, if any.
func (e Expense) CategoryRef() (int64, bool) {
	if e.CategoryID != nil {
		return *e.CategoryID, true
	}
	if e.Category != nil {
		return e.Category.ID, true
	}
	return 0, false
}

// Clone returns a copy that shares no pointers with e.
func (e Expense) Clone() Expense {
	out := e
	if e.CategoryID != nil {
		id := *e.CategoryID
		out.CategoryID = &id
	}
	if e.Category != nil {
		c := *e.Category
		out.Category = &c
	}
	return out
}

func (f ExpenseFields) Validate() error {
	return f.Date.Validate()
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{User: s.User}
	if s.Expenses != nil {
		out.Expenses = make([]Expense, len(s.Expenses))
		for i, e := range s.Expenses {
			out.Expenses[i] = e.Clone()
		}
	}
	if s.Categories != nil {
		out.Categories = append([]Category(nil), s.Categories...)
	}
	return out
}

// Expense looks up an expense by id.
func (s Snapshot) Expense(id int64) (Expense, bool) {
	for _, e := range s.Expenses {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return Expense{}, false
}

// Category looks up a category by id.
func (s Snapshot) Category(id int64) (Category, bool) {
	for _, c := range s.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}
