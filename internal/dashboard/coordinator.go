// Package dashboard coordinates every change the user makes to their data.
//
// Two modal flows (delete and edit) and two inline forms (add expense, add
// category) share one rule: a change goes to the backend, and only after
// the backend accepts it is the whole snapshot fetched again and swapped
// into the store. Nothing is patched locally.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"finclient/internal/core"
	"finclient/internal/log"
	"finclient/internal/store"
)

// Gateway is the subset of the backend client the coordinator drives.
type Gateway interface {
	FetchSnapshot(ctx context.Context) (core.Snapshot, error)
	CreateExpense(ctx context.Context, fields core.ExpenseFields) (core.Expense, error)
	UpdateExpense(ctx context.Context, id int64, fields core.ExpenseFields) (core.Expense, error)
	DeleteExpense(ctx context.Context, id int64) error
	CreateCategory(ctx context.Context, name string) (core.Category, error)
}

// Session is cleared when the backend rejects the credential.
type Session interface {
	Clear(ctx context.Context) error
}

// EventPublisher announces accepted mutations. It may be nil.
type EventPublisher interface {
	PublishMutation(ctx context.Context, m core.Mutation) error
}

const (
	flowDelete = "delete"
	flowEdit   = "edit"
)

// Coordinator is safe for concurrent use. Its lock is never held across a
// backend call. It is held while the store is replaced, so store observers
// must not call back into the coordinator.
type Coordinator struct {
	mu    sync.Mutex
	state State
	// gen is bumped by Reset. A mutation that started under an older
	// generation must not touch the state when it returns.
	gen uint64

	// syncMu orders fetch-then-replace sequences so an older fetch cannot
	// overwrite a newer one.
	syncMu sync.Mutex

	gateway Gateway
	store   *store.Store
	session Session
	events  EventPublisher
	logger  *log.Logger
	today   func() core.Date
}

func New(gw Gateway, st *store.Store, sess Session, events EventPublisher, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Discard()
	}
	c := &Coordinator{
		gateway: gw,
		store:   st,
		session: sess,
		events:  events,
		logger:  logger.WithComponent(log.ComponentDashboard),
		today:   core.Today,
	}
	c.state.ExpenseForm.Draft = newExpenseForm(c.today())
	return c
}

// State returns a copy of the flow and form state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Load fetches the full snapshot and replaces the store with it.
func (c *Coordinator) Load(ctx context.Context) error {
	if err := c.sync(ctx); err != nil {
		if errors.Is(err, core.ErrUnauthorized) {
			c.forceLogout(ctx, err)
		}
		return err
	}
	return nil
}

// OpenDelete shows the delete confirmation for expense id.
func (c *Coordinator) OpenDelete(id int64) error {
	if _, ok := c.store.Expense(id); !ok {
		return ErrUnknownExpense
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Delete.Phase == PhaseInFlight {
		return ErrMutationInFlight
	}
	if c.state.Edit.Phase.Open() && c.state.Edit.ExpenseID == id {
		return ErrTargetConflict
	}

	from := c.state.Delete.Phase
	c.state.Delete = DeleteState{Phase: PhaseTargeting, ExpenseID: id}
	c.logTransition(flowDelete, from, PhaseTargeting, id)
	return nil
}

// CancelDelete closes the confirmation without contacting the backend.
func (c *Coordinator) CancelDelete() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Delete.Phase {
	case PhaseIdle:
		return nil
	case PhaseInFlight:
		return ErrMutationInFlight
	}
	id := c.state.Delete.ExpenseID
	c.state.Delete = DeleteState{}
	c.logTransition(flowDelete, PhaseTargeting, PhaseIdle, id)
	return nil
}

// ConfirmDelete deletes the targeted expense and resyncs.
// On failure the dialog stays open with the error and the store is untouched.
func (c *Coordinator) ConfirmDelete(ctx context.Context) error {
	c.mu.Lock()
	switch c.state.Delete.Phase {
	case PhaseIdle:
		c.mu.Unlock()
		return ErrNoTarget
	case PhaseInFlight:
		c.mu.Unlock()
		return ErrMutationInFlight
	}
	if c.state.Busy {
		c.state.Delete.Err = ErrMutationInFlight
		c.mu.Unlock()
		return ErrMutationInFlight
	}
	id, gen := c.state.Delete.ExpenseID, c.gen
	c.state.Busy = true
	c.state.Delete.Phase = PhaseInFlight
	c.state.Delete.Err = nil
	c.logTransition(flowDelete, PhaseTargeting, PhaseInFlight, id)
	c.mu.Unlock()

	if err := c.gateway.DeleteExpense(ctx, id); err != nil {
		return c.fail(ctx, gen, log.OpDelete, err, func(s *State) {
			s.Delete.Phase = PhaseTargeting
			s.Delete.Err = err
			c.logTransition(flowDelete, PhaseInFlight, PhaseTargeting, id)
		})
	}

	c.logger.InfoContext(ctx, "Expense deleted", log.FieldExpenseID, id)
	c.publish(ctx, core.Mutation{Kind: core.MutationExpenseDeleted, ExpenseID: id})
	return c.complete(ctx, gen)
}

// OpenEdit shows the edit dialog, seeded from a detached copy of expense id.
func (c *Coordinator) OpenEdit(id int64) error {
	e, ok := c.store.Expense(id)
	if !ok {
		return ErrUnknownExpense
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Edit.Phase == PhaseInFlight {
		return ErrMutationInFlight
	}
	if c.state.Delete.Phase.Open() && c.state.Delete.ExpenseID == id {
		return ErrTargetConflict
	}

	from := c.state.Edit.Phase
	c.state.Edit = EditState{
		Phase:     PhaseTargeting,
		ExpenseID: e.ID,
		Draft:     DraftFromExpense(e),
	}
	c.logTransition(flowEdit, from, PhaseTargeting, id)
	return nil
}

// UpdateEditDraft replaces the draft. The store is not touched.
func (c *Coordinator) UpdateEditDraft(d EditDraft) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Edit.Phase {
	case PhaseIdle:
		return ErrNoTarget
	case PhaseInFlight:
		return ErrMutationInFlight
	}
	c.state.Edit.Draft = d
	return nil
}

// CancelEdit discards the draft.
func (c *Coordinator) CancelEdit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Edit.Phase {
	case PhaseIdle:
		return nil
	case PhaseInFlight:
		return ErrMutationInFlight
	}
	id := c.state.Edit.ExpenseID
	c.state.Edit = EditState{}
	c.logTransition(flowEdit, PhaseTargeting, PhaseIdle, id)
	return nil
}

// SubmitEdit converts the draft and sends the update. A blank category is
// sent as null. On failure the dialog stays open with the draft retained.
func (c *Coordinator) SubmitEdit(ctx context.Context) error {
	c.mu.Lock()
	switch c.state.Edit.Phase {
	case PhaseIdle:
		c.mu.Unlock()
		return ErrNoTarget
	case PhaseInFlight:
		c.mu.Unlock()
		return ErrMutationInFlight
	}
	id := c.state.Edit.ExpenseID
	if id == 0 {
		c.mu.Unlock()
		panic("dashboard: edit submitted without an expense id")
	}
	if c.state.Busy {
		c.state.Edit.Err = ErrMutationInFlight
		c.mu.Unlock()
		return ErrMutationInFlight
	}
	fields, err := c.state.Edit.Draft.Fields()
	if err != nil {
		c.state.Edit.Err = err
		c.mu.Unlock()
		return err
	}
	gen := c.gen
	c.state.Busy = true
	c.state.Edit.Phase = PhaseInFlight
	c.state.Edit.Err = nil
	c.logTransition(flowEdit, PhaseTargeting, PhaseInFlight, id)
	c.mu.Unlock()

	updated, err := c.gateway.UpdateExpense(ctx, id, fields)
	if err != nil {
		return c.fail(ctx, gen, log.OpUpdate, err, func(s *State) {
			s.Edit.Phase = PhaseTargeting
			s.Edit.Err = err
			c.logTransition(flowEdit, PhaseInFlight, PhaseTargeting, id)
		})
	}

	c.logger.InfoContext(ctx, "Expense updated", log.FieldExpenseID, id)
	m := core.Mutation{Kind: core.MutationExpenseUpdated, ExpenseID: id}
	if cat, ok := updated.CategoryRef(); ok {
		m.CategoryID = cat
	}
	c.publish(ctx, m)
	return c.complete(ctx, gen)
}

// SubmitExpense creates an expense from the add form. The form keeps the
// submitted values until the backend accepts them.
func (c *Coordinator) SubmitExpense(ctx context.Context, form ExpenseForm) error {
	c.mu.Lock()
	c.state.ExpenseForm.Draft = form
	if c.state.Busy {
		c.state.ExpenseForm.Err = ErrMutationInFlight
		c.mu.Unlock()
		return ErrMutationInFlight
	}
	fields, err := form.Fields()
	if err != nil {
		c.state.ExpenseForm.Err = err
		c.mu.Unlock()
		return err
	}
	gen := c.gen
	c.state.Busy = true
	c.state.ExpenseForm.Err = nil
	c.mu.Unlock()

	created, err := c.gateway.CreateExpense(ctx, fields)
	if err != nil {
		return c.fail(ctx, gen, log.OpCreate, err, func(s *State) {
			s.ExpenseForm.Err = err
		})
	}

	c.mu.Lock()
	if c.gen == gen {
		c.state.ExpenseForm = ExpenseFormState{Draft: newExpenseForm(c.today())}
	}
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Expense created", log.FieldExpenseID, created.ID, log.FieldAmount, fields.Amount.String())
	m := core.Mutation{Kind: core.MutationExpenseCreated, ExpenseID: created.ID}
	if cat, ok := created.CategoryRef(); ok {
		m.CategoryID = cat
	}
	c.publish(ctx, m)
	return c.complete(ctx, gen)
}

// SubmitCategory creates a category from the add form.
func (c *Coordinator) SubmitCategory(ctx context.Context, form CategoryForm) error {
	c.mu.Lock()
	c.state.CategoryForm.Draft = form
	if c.state.Busy {
		c.state.CategoryForm.Err = ErrMutationInFlight
		c.mu.Unlock()
		return ErrMutationInFlight
	}
	name := strings.TrimSpace(form.Name)
	if name == "" {
		c.state.CategoryForm.Err = core.ErrEmptyCategoryName
		c.mu.Unlock()
		return core.ErrEmptyCategoryName
	}
	gen := c.gen
	c.state.Busy = true
	c.state.CategoryForm.Err = nil
	c.mu.Unlock()

	created, err := c.gateway.CreateCategory(ctx, name)
	if err != nil {
		return c.fail(ctx, gen, log.OpCreate, err, func(s *State) {
			s.CategoryForm.Err = err
		})
	}

	c.mu.Lock()
	if c.gen == gen {
		c.state.CategoryForm = CategoryFormState{}
	}
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Category created", log.FieldCategoryID, created.ID)
	c.publish(ctx, core.Mutation{Kind: core.MutationCategoryCreated, CategoryID: created.ID})
	return c.complete(ctx, gen)
}

// Logout clears the session and discards all client state.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.Reset()
	if c.session == nil {
		return nil
	}
	if err := c.session.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Reset returns every flow and form to its initial state and empties the store.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.gen++
	c.state = State{ExpenseForm: ExpenseFormState{Draft: newExpenseForm(c.today())}}
	c.mu.Unlock()
	c.store.Clear()
}

// complete runs after the backend accepted a mutation: both flows are
// cleared and the full snapshot is fetched again. Busy stays set until the
// resync finishes. A Reset since the mutation started leaves nothing to do.
func (c *Coordinator) complete(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	c.state.Delete = DeleteState{}
	c.state.Edit = EditState{}
	c.mu.Unlock()

	err := c.sync(ctx)

	c.mu.Lock()
	current := c.gen == gen
	if current {
		c.state.Busy = false
	}
	c.mu.Unlock()

	if err != nil {
		if current && errors.Is(err, core.ErrUnauthorized) {
			c.forceLogout(ctx, err)
		}
		return fmt.Errorf("resync: %w", err)
	}
	return nil
}

// fail records a rejected mutation. An unauthorized answer signs the user out;
// anything else is applied to the state by restore. Both are skipped when
// a Reset happened since the mutation started under generation gen.
func (c *Coordinator) fail(ctx context.Context, gen uint64, op string, err error, restore func(*State)) error {
	c.logger.WarnContext(ctx, "Mutation rejected",
		log.FieldOperation, op,
		log.FieldError, err,
		log.FieldErrorType, errorType(err),
	)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return err
	}
	if errors.Is(err, core.ErrUnauthorized) {
		c.mu.Unlock()
		c.forceLogout(ctx, err)
		return err
	}
	c.state.Busy = false
	restore(&c.state)
	c.mu.Unlock()
	return err
}

func (c *Coordinator) sync(ctx context.Context) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	snap, err := c.gateway.FetchSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, core.ErrNoSession) {
			c.logger.ErrorContext(ctx, "Sync failed",
				log.FieldOperation, log.OpSync,
				log.FieldError, err,
				log.FieldErrorType, errorType(err),
			)
			c.mu.Lock()
			if c.gen == gen {
				c.state.SyncErr = err
			}
			c.mu.Unlock()
		}
		return err
	}

	// A fetch that outlived a Reset must not refill the cleared store.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil
	}
	c.store.Replace(snap)
	c.state.SyncErr = nil
	return nil
}

func (c *Coordinator) forceLogout(ctx context.Context, cause error) {
	c.logger.WarnContext(ctx, "Backend rejected the session, signing out",
		log.FieldError, cause,
		log.FieldErrorType, log.ErrorTypeAuth,
	)
	if err := c.Logout(ctx); err != nil {
		c.logger.ErrorContext(ctx, "Failed to clear session", log.FieldError, err)
	}
}

func (c *Coordinator) publish(ctx context.Context, m core.Mutation) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishMutation(ctx, m); err != nil {
		c.logger.ErrorContext(ctx, "Failed to publish mutation event",
			log.FieldEventKind, string(m.Kind),
			log.FieldError, err,
		)
	}
}

func (c *Coordinator) logTransition(flow string, from, to Phase, id int64) {
	c.logger.Debug("Flow transition",
		log.NewFields().WithTransition(flow, from.String(), to.String()).WithExpenseID(id).ToSlice()...)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, core.ErrValidation):
		return log.ErrorTypeValidation
	case errors.Is(err, core.ErrUnauthorized), errors.Is(err, core.ErrNoSession):
		return log.ErrorTypeAuth
	case errors.Is(err, core.ErrTransport):
		return log.ErrorTypeNetwork
	case errors.Is(err, ErrMutationInFlight), errors.Is(err, ErrTargetConflict):
		return log.ErrorTypeConflict
	default:
		return log.ErrorTypeInternal
	}
}
