package core

// MutationKind names a confirmed change to the user's data.
type MutationKind string

const (
	MutationExpenseCreated  MutationKind = "expense.created"
	MutationExpenseUpdated  MutationKind = "expense.updated"
	MutationExpenseDeleted  MutationKind = "expense.deleted"
	MutationCategoryCreated MutationKind = "category.created"
)

// Mutation describes a change the backend accepted. Zero ids are unknown.
type Mutation struct {
	Kind       MutationKind
	ExpenseID  int64
	CategoryID int64
}
