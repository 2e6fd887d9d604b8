package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"finclient/internal/core"
	"finclient/internal/gateway"
	"finclient/internal/memapi"
	"finclient/internal/session"
	"finclient/internal/store"
)

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []core.MutationKind
	err   error
}

func (p *recordingPublisher) PublishMutation(_ context.Context, m core.Mutation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, m.Kind)
	return p.err
}

func (p *recordingPublisher) Kinds() []core.MutationKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.MutationKind(nil), p.kinds...)
}

type harness struct {
	backend *memapi.Backend
	token   string
	session *session.Holder
	store   *store.Store
	events  *recordingPublisher
	coord   *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	backend := memapi.New()
	srv := backend.Start()
	t.Cleanup(srv.Close)

	token := backend.AddUser("ann@example.com", "secret")
	holder := session.NewHolder(nil, nil)
	if err := holder.Establish(ctx, token); err != nil {
		t.Fatalf("establish: %v", err)
	}

	gw, err := gateway.New(gateway.Config{BaseURL: srv.URL}, holder, nil)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}

	st := store.New(nil)
	events := &recordingPublisher{}
	coord := New(gw, st, holder, events, nil)
	coord.today = func() core.Date { return core.NewDate(2024, 3, 1) }
	coord.Reset()

	return &harness{backend: backend, token: token, session: holder, store: st, events: events, coord: coord}
}

func (h *harness) load(t *testing.T) {
	t.Helper()
	if err := h.coord.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
}

// assertInSync checks that the store holds exactly what the backend would return.
func (h *harness) assertInSync(t *testing.T) {
	t.Helper()
	got, loaded := h.store.Snapshot()
	if !loaded {
		t.Fatalf("store not loaded")
	}
	if a, b := describe(got), describe(h.backend.Snapshot(h.token)); a != b {
		t.Fatalf("store out of sync with backend:\n store:   %s\n backend: %s", a, b)
	}
}

func describe(s core.Snapshot) string {
	out := s.User.Email
	for _, e := range s.Expenses {
		cat := "-"
		if id, ok := e.CategoryRef(); ok {
			cat = strconv.FormatInt(id, 10)
		}
		out += fmt.Sprintf(" [e%d %s %q %s %s]", e.ID, e.Amount.String(), e.Description, e.Date, cat)
	}
	for _, c := range s.Categories {
		out += fmt.Sprintf(" [c%d %s]", c.ID, c.Name)
	}
	return out
}

func bodyField(t *testing.T, call memapi.Call, field string) (string, bool) {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal(call.Body, &m); err != nil {
		t.Fatalf("decode %s body: %v", call.Route(), err)
	}
	v, ok := m[field]
	return string(v), ok
}

func TestCoffeeScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.load(t)

	snap, _ := h.store.Snapshot()
	if len(snap.Expenses) != 0 || len(snap.Categories) != 0 {
		t.Fatalf("expected empty snapshot, got %s", describe(snap))
	}

	if err := h.coord.SubmitCategory(ctx, CategoryForm{Name: "Coffee"}); err != nil {
		t.Fatalf("create category: %v", err)
	}
	h.assertInSync(t)
	snap, _ = h.store.Snapshot()
	if len(snap.Categories) != 1 || snap.Categories[0].Name != "Coffee" {
		t.Fatalf("expected Coffee, got %s", describe(snap))
	}
	coffee := snap.Categories[0].ID
	if st := h.coord.State(); st.CategoryForm.Draft.Name != "" {
		t.Errorf("category form not reset: %+v", st.CategoryForm)
	}

	err := h.coord.SubmitExpense(ctx, ExpenseForm{
		Amount:      "150.5",
		Description: "Latte",
		Date:        "2024-01-01",
		CategoryID:  strconv.FormatInt(coffee, 10),
	})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	h.assertInSync(t)
	snap, _ = h.store.Snapshot()
	if len(snap.Expenses) != 1 {
		t.Fatalf("expected one expense, got %s", describe(snap))
	}
	latte := snap.Expenses[0]
	if latte.Category == nil || latte.Category.Name != "Coffee" || !latte.Amount.Equal(decimal.RequireFromString("150.5")) {
		t.Fatalf("unexpected expense %+v", latte)
	}
	if st := h.coord.State(); st.ExpenseForm.Draft != (ExpenseForm{Date: "2024-03-01"}) {
		t.Errorf("expense form not reset to defaults: %+v", st.ExpenseForm.Draft)
	}

	if err := h.coord.OpenDelete(latte.ID); err != nil {
		t.Fatalf("open delete: %v", err)
	}
	if err := h.coord.ConfirmDelete(ctx); err != nil {
		t.Fatalf("confirm delete: %v", err)
	}
	h.assertInSync(t)
	snap, _ = h.store.Snapshot()
	if len(snap.Expenses) != 0 || len(snap.Categories) != 1 {
		t.Fatalf("expected 0 expenses and 1 category, got %s", describe(snap))
	}

	st := h.coord.State()
	if st.Delete.Phase != PhaseIdle || st.Edit.Phase != PhaseIdle || st.Busy {
		t.Errorf("flows not idle after success: %+v", st)
	}

	want := []core.MutationKind{core.MutationCategoryCreated, core.MutationExpenseCreated, core.MutationExpenseDeleted}
	got := h.events.Kinds()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestUpdateExpenseSeven(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.backend.AddCategory(h.token, "Food")
	travel := h.backend.AddCategory(h.token, "Travel")
	if travel.ID != 3 {
		t.Fatalf("fixture expects category id 3, got %d", travel.ID)
	}
	h.backend.PutExpense(h.token, core.Expense{
		ID:          7,
		Amount:      decimal.NewFromInt(10),
		Description: "Taxi",
		Date:        core.NewDate(2024, 2, 10),
	})
	h.load(t)

	if err := h.coord.OpenEdit(7); err != nil {
		t.Fatalf("open edit: %v", err)
	}
	draft := h.coord.State().Edit.Draft
	if draft != (EditDraft{Amount: "10", Description: "Taxi", Date: "2024-02-10"}) {
		t.Fatalf("unexpected draft %+v", draft)
	}

	draft.Amount = "12.5"
	draft.CategoryID = "3"
	if err := h.coord.UpdateEditDraft(draft); err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if err := h.coord.SubmitEdit(ctx); err != nil {
		t.Fatalf("submit edit: %v", err)
	}

	puts := h.backend.CallsTo("PUT /expenses/7")
	if len(puts) != 1 {
		t.Fatalf("expected one PUT, got %d", len(puts))
	}
	if v, _ := bodyField(t, puts[0], "amount"); v != "12.5" {
		t.Errorf("amount on the wire = %s", v)
	}
	if v, _ := bodyField(t, puts[0], "category_id"); v != "3" {
		t.Errorf("category_id on the wire = %s", v)
	}

	h.assertInSync(t)
	e, ok := h.store.Expense(7)
	if !ok {
		t.Fatalf("expense 7 missing")
	}
	if !e.Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("amount = %s", e.Amount)
	}
	if id, ok := e.CategoryRef(); !ok || id != 3 {
		t.Errorf("category = %v %v", id, ok)
	}
	if st := h.coord.State(); st.Edit.Phase != PhaseIdle || st.Edit.Draft != (EditDraft{}) {
		t.Errorf("edit draft not discarded: %+v", st.Edit)
	}
}

func TestDeleteOpenCancelMakesNoCall(t *testing.T) {
	h := newHarness(t)
	e := h.backend.PutExpense(h.token, core.Expense{Amount: decimal.NewFromInt(5), Date: core.NewDate(2024, 1, 1)})
	h.load(t)
	before, _ := h.store.Snapshot()
	h.backend.ResetCalls()

	if err := h.coord.OpenDelete(e.ID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if st := h.coord.State(); st.Delete.Phase != PhaseTargeting || st.Delete.ExpenseID != e.ID {
		t.Fatalf("unexpected delete state %+v", st.Delete)
	}
	if err := h.coord.CancelDelete(); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if calls := h.backend.Calls(); len(calls) != 0 {
		t.Fatalf("expected no backend calls, got %+v", calls)
	}
	after, _ := h.store.Snapshot()
	if describe(before) != describe(after) {
		t.Fatalf("store changed by cancel")
	}
	if st := h.coord.State(); st.Delete != (DeleteState{}) {
		t.Fatalf("delete flow not idle: %+v", st.Delete)
	}
}

func TestEditOpenChangeCancelLeavesStore(t *testing.T) {
	h := newHarness(t)
	e := h.backend.PutExpense(h.token, core.Expense{Amount: decimal.NewFromInt(5), Description: "Bus", Date: core.NewDate(2024, 1, 1)})
	h.load(t)
	before, _ := h.store.Snapshot()

	if err := h.coord.OpenEdit(e.ID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := h.coord.UpdateEditDraft(EditDraft{Amount: "999", Description: "Plane", Date: "2025-01-01"}); err != nil {
		t.Fatalf("update draft: %v", err)
	}

	stored, _ := h.store.Expense(e.ID)
	if stored.Description != "Bus" {
		t.Fatalf("draft leaked into store: %+v", stored)
	}
	if err := h.coord.CancelEdit(); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	after, _ := h.store.Snapshot()
	if describe(before) != describe(after) {
		t.Fatalf("store changed by cancel")
	}
	if len(h.backend.CallsTo("PUT /expenses/"+strconv.FormatInt(e.ID, 10))) != 0 {
		t.Fatalf("cancel must not send an update")
	}
}

func TestEditClearingCategorySendsNull(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	food := h.backend.AddCategory(h.token, "Food")
	e := h.backend.PutExpense(h.token, core.Expense{Amount: decimal.NewFromInt(5), Date: core.NewDate(2024, 1, 1), CategoryID: &food.ID})
	h.load(t)

	if err := h.coord.OpenEdit(e.ID); err != nil {
		t.Fatalf("open: %v", err)
	}
	draft := h.coord.State().Edit.Draft
	if draft.CategoryID != strconv.FormatInt(food.ID, 10) {
		t.Fatalf("draft should carry current category, got %+v", draft)
	}
	draft.CategoryID = ""
	_ = h.coord.UpdateEditDraft(draft)
	if err := h.coord.SubmitEdit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	put := h.backend.CallsTo("PUT /expenses/" + strconv.FormatInt(e.ID, 10))[0]
	if v, ok := bodyField(t, put, "category_id"); !ok || v != "null" {
		t.Fatalf("expected explicit null, got %s", put.Body)
	}
	stored, _ := h.store.Expense(e.ID)
	if _, ok := stored.CategoryRef(); ok {
		t.Fatalf("category not cleared: %+v", stored)
	}
	h.assertInSync(t)
}

func TestCreateWithoutCategoryOmitsField(t *testing.T) {
	h := newHarness(t)
	h.load(t)

	err := h.coord.SubmitExpense(context.Background(), ExpenseForm{Amount: "3,20", Description: "Bread", Date: "2024-01-05"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	post := h.backend.CallsTo("POST /expenses/")[0]
	if _, ok := bodyField(t, post, "category_id"); ok {
		t.Fatalf("category_id must be omitted, body %s", post.Body)
	}
	if v, _ := bodyField(t, post, "amount"); v != "3.2" {
		t.Fatalf("amount = %s", v)
	}
	h.assertInSync(t)
}

func TestUnauthorizedSignsOut(t *testing.T) {
	cases := []struct {
		name  string
		route string
		run   func(h *harness, id int64) error
	}{
		{"load", "GET /expenses/", func(h *harness, _ int64) error {
			return h.coord.Load(context.Background())
		}},
		{"delete", "DELETE /expenses/%d", func(h *harness, id int64) error {
			if err := h.coord.OpenDelete(id); err != nil {
				return err
			}
			return h.coord.ConfirmDelete(context.Background())
		}},
		{"edit", "PUT /expenses/%d", func(h *harness, id int64) error {
			if err := h.coord.OpenEdit(id); err != nil {
				return err
			}
			return h.coord.SubmitEdit(context.Background())
		}},
		{"create expense", "POST /expenses/", func(h *harness, _ int64) error {
			return h.coord.SubmitExpense(context.Background(), ExpenseForm{Amount: "1", Date: "2024-01-01"})
		}},
		{"create category", "POST /categories/", func(h *harness, _ int64) error {
			return h.coord.SubmitCategory(context.Background(), CategoryForm{Name: "Fun"})
		}},
		{"resync", "POST /users/me", func(h *harness, _ int64) error {
			return h.coord.SubmitCategory(context.Background(), CategoryForm{Name: "Fun"})
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			e := h.backend.PutExpense(h.token, core.Expense{Amount: decimal.NewFromInt(1), Date: core.NewDate(2024, 1, 1)})
			h.load(t)

			route := tc.route
			if route == "DELETE /expenses/%d" || route == "PUT /expenses/%d" {
				route = fmt.Sprintf(route, e.ID)
			}
			h.backend.FailNext(route, http.StatusUnauthorized, "Could not validate credentials")

			err := tc.run(h, e.ID)
			if !errors.Is(err, core.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
			if h.session.Active() {
				t.Fatalf("session must be cleared")
			}
			if _, loaded := h.store.Snapshot(); loaded {
				t.Fatalf("store must be cleared")
			}
			st := h.coord.State()
			if st.Delete.Phase != PhaseIdle || st.Edit.Phase != PhaseIdle || st.Busy {
				t.Fatalf("flows must be reset: %+v", st)
			}
		})
	}
}

func TestDeleteFailureKeepsDialogOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.backend.PutExpense(h.token, core.Expense{Amount: decimal.NewFromInt(1), Date: core.NewDate(2024, 1, 1)})
	h.load(t)
	before, _ := h.store.Snapshot()

	route := "DELETE /expenses/" + strconv.FormatInt(e.ID, 10)
	h.backend.FailNext(route, http.StatusInternalServerError, "database is locked")

	_ = h.coord.OpenDelete(e.ID)
	err := h.coord.ConfirmDelete(ctx)
	if !errors.Is(err, core.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	st := h.coord.State()
	if st.Delete.Phase != PhaseTargeting || st.Delete.ExpenseID != e.ID || st.Delete.Err == nil || st.Busy {
		t.Fatalf("dialog should stay open with an error: %+v", st)
	}
	after, _ := h.store.Snapshot()
	if describe(before) != describe(after) {
		t.Fatalf("store must be untouched on failure")
	}
	if !h.session.Active() {
		t.Fatalf("transport failure must keep the session")
	}

	if err := h.coord.ConfirmDelete(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	h.assertInSync(t)
	if st := h.coord.State(); st.Delete != (DeleteState{}) {
		t.Fatalf("delete flow not reset after retry: %+v", st.Delete)
	}
}

func TestEditFailureRetainsDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.backend.PutExpense(h.token, core.Expense{Amount: decimal.NewFromInt(1), Date: core.NewDate(2024, 1, 1)})
	h.load(t)

	_ = h.coord.OpenEdit(e.ID)
	draft := EditDraft{Amount: "2", Description: "Tea", Date: "2024-01-02"}
	_ = h.coord.UpdateEditDraft(draft)

	h.backend.FailNext("PUT /expenses/"+strconv.FormatInt(e.ID, 10), http.StatusServiceUnavailable, "")
	if err := h.coord.SubmitEdit(ctx); !errors.Is(err, core.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	st := h.coord.State()
	if st.Edit.Phase != PhaseTargeting || st.Edit.Draft != draft || st.Edit.Err == nil {
		t.Fatalf("draft must be retained with error: %+v", st.Edit)
	}

	// Invalid amount is rejected before the backend is contacted.
	h.backend.ResetCalls()
	draft.Amount = "two"
	_ = h.coord.UpdateEditDraft(draft)
	if err := h.coord.SubmitEdit(ctx); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if len(h.backend.Calls()) != 0 {
		t.Fatalf("validation failure reached the backend")
	}
	if st := h.coord.State(); st.Edit.Phase != PhaseTargeting || st.Edit.Draft.Amount != "two" {
		t.Fatalf("draft lost after validation failure: %+v", st.Edit)
	}
}

func TestFormsKeepDraftOnFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.load(t)
	h.backend.ResetCalls()

	form := ExpenseForm{Amount: "", Description: "Nothing", Date: "2024-01-01"}
	if err := h.coord.SubmitExpense(ctx, form); !errors.Is(err, core.ErrEmptyAmount) {
		t.Fatalf("expected ErrEmptyAmount, got %v", err)
	}
	if st := h.coord.State(); st.ExpenseForm.Draft != form || st.ExpenseForm.Err == nil {
		t.Fatalf("form draft not retained: %+v", st.ExpenseForm)
	}

	if err := h.coord.SubmitCategory(ctx, CategoryForm{Name: "   "}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(h.backend.Calls()) != 0 {
		t.Fatalf("validation failures reached the backend: %+v", h.backend.Calls())
	}

	h.backend.FailNext("POST /categories/", http.StatusInternalServerError, "boom")
	if err := h.coord.SubmitCategory(ctx, CategoryForm{Name: "Books"}); !errors.Is(err, core.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if st := h.coord.State(); st.CategoryForm.Draft.Name != "Books" || st.CategoryForm.Err == nil {
		t.Fatalf("category draft not retained: %+v", st.CategoryForm)
	}
}

func TestTargetConflict(t *testing.T) {
	h := newHarness(t)
	e := h.backend.PutExpense(h.token, core.Expense{Amount: decimal.NewFromInt(1), Date: core.NewDate(2024, 1, 1)})
	other := h.backend.PutExpense(h.token, core.Expense{Amount: decimal.NewFromInt(2), Date: core.NewDate(2024, 1, 1)})
	h.load(t)

	if err := h.coord.OpenDelete(e.ID); err != nil {
		t.Fatalf("open delete: %v", err)
	}
	if err := h.coord.OpenEdit(e.ID); !errors.Is(err, ErrTargetConflict) {
		t.Fatalf("expected ErrTargetConflict, got %v", err)
	}
	if err := h.coord.OpenEdit(other.ID); err != nil {
		t.Fatalf("edit of a different expense should be allowed: %v", err)
	}
	if err := h.coord.OpenDelete(other.ID); !errors.Is(err, ErrTargetConflict) {
		t.Fatalf("expected ErrTargetConflict, got %v", err)
	}
	if err := h.coord.OpenDelete(404); !errors.Is(err, ErrUnknownExpense) {
		t.Fatalf("expected ErrUnknownExpense, got %v", err)
	}
}

func TestLoadFailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.backend.FailNext("GET /categories/", http.StatusInternalServerError, "boom")

	err := h.coord.Load(context.Background())
	if !errors.Is(err, core.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if !h.session.Active() {
		t.Fatalf("session must survive a transport failure")
	}
	if st := h.coord.State(); st.SyncErr == nil {
		t.Fatalf("sync error not recorded")
	}
	if _, loaded := h.store.Snapshot(); loaded {
		t.Fatalf("no snapshot should be committed")
	}

	h.load(t)
	if st := h.coord.State(); st.SyncErr != nil {
		t.Fatalf("sync error not cleared: %v", st.SyncErr)
	}
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	h := newHarness(t)
	h.events.err = errors.New("broker down")
	h.load(t)

	if err := h.coord.SubmitCategory(context.Background(), CategoryForm{Name: "Gifts"}); err != nil {
		t.Fatalf("mutation failed because of the publisher: %v", err)
	}
	h.assertInSync(t)
}

func TestSubmitEditWithoutIDPanics(t *testing.T) {
	h := newHarness(t)
	h.coord.state.Edit = EditState{Phase: PhaseTargeting, Draft: EditDraft{Amount: "1", Date: "2024-01-01"}}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = h.coord.SubmitEdit(context.Background())
}

func TestStaleSubmitsAreRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.coord.ConfirmDelete(ctx); !errors.Is(err, ErrNoTarget) {
		t.Errorf("confirm without target: %v", err)
	}
	if err := h.coord.SubmitEdit(ctx); !errors.Is(err, ErrNoTarget) {
		t.Errorf("submit without target: %v", err)
	}
	if err := h.coord.UpdateEditDraft(EditDraft{}); !errors.Is(err, ErrNoTarget) {
		t.Errorf("update draft without target: %v", err)
	}
	if err := h.coord.CancelDelete(); err != nil {
		t.Errorf("cancel idle delete: %v", err)
	}
	if err := h.coord.CancelEdit(); err != nil {
		t.Errorf("cancel idle edit: %v", err)
	}
}

// blockingGateway parks DeleteExpense until released.
type blockingGateway struct {
	Gateway
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGateway) DeleteExpense(ctx context.Context, id int64) error {
	close(g.entered)
	<-g.release
	return g.Gateway.DeleteExpense(ctx, id)
}

func TestMutationInFlightRejectsOthers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.backend.PutExpense(h.token, core.Expense{Amount: decimal.NewFromInt(1), Date: core.NewDate(2024, 1, 1)})
	h.load(t)

	gw := &blockingGateway{Gateway: h.coord.gateway, entered: make(chan struct{}), release: make(chan struct{})}
	h.coord.gateway = gw

	_ = h.coord.OpenDelete(e.ID)
	done := make(chan error, 1)
	go func() { done <- h.coord.ConfirmDelete(ctx) }()
	<-gw.entered

	st := h.coord.State()
	if !st.Busy || st.Delete.Phase != PhaseInFlight {
		t.Fatalf("expected in-flight delete, got %+v", st)
	}
	if err := h.coord.SubmitCategory(ctx, CategoryForm{Name: "Late"}); !errors.Is(err, ErrMutationInFlight) {
		t.Fatalf("expected ErrMutationInFlight, got %v", err)
	}
	if err := h.coord.CancelDelete(); !errors.Is(err, ErrMutationInFlight) {
		t.Fatalf("cancel during flight: %v", err)
	}
	if err := h.coord.OpenDelete(e.ID); !errors.Is(err, ErrMutationInFlight) {
		t.Fatalf("reopen during flight: %v", err)
	}

	close(gw.release)
	if err := <-done; err != nil {
		t.Fatalf("delete: %v", err)
	}
	if st := h.coord.State(); st.Busy {
		t.Fatalf("busy not cleared")
	}
	if len(h.backend.CallsTo("POST /categories/")) != 0 {
		t.Fatalf("rejected mutation reached the backend")
	}
	h.assertInSync(t)
}

// failingGateway parks DeleteExpense and UpdateExpense until released, then
// fails them.
type failingGateway struct {
	Gateway
	entered chan struct{}
	release chan struct{}
	err     error
}

func (g *failingGateway) DeleteExpense(context.Context, int64) error {
	close(g.entered)
	<-g.release
	return g.err
}

func (g *failingGateway) UpdateExpense(context.Context, int64, core.ExpenseFields) (core.Expense, error) {
	close(g.entered)
	<-g.release
	return core.Expense{}, g.err
}

func TestLogoutDuringFailingMutation(t *testing.T) {
	tests := []struct {
		name  string
		open  func(c *Coordinator, id int64) error
		start func(c *Coordinator, ctx context.Context) error
	}{
		{
			name:  "delete",
			open:  func(c *Coordinator, id int64) error { return c.OpenDelete(id) },
			start: func(c *Coordinator, ctx context.Context) error { return c.ConfirmDelete(ctx) },
		},
		{
			name:  "edit",
			open:  func(c *Coordinator, id int64) error { return c.OpenEdit(id) },
			start: func(c *Coordinator, ctx context.Context) error { return c.SubmitEdit(ctx) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			e := h.backend.PutExpense(h.token, core.Expense{Amount: decimal.NewFromInt(4), Date: core.NewDate(2024, 1, 1)})
			h.load(t)

			inner := h.coord.gateway
			gw := &failingGateway{
				Gateway: inner,
				entered: make(chan struct{}),
				release: make(chan struct{}),
				err:     fmt.Errorf("%w: connection reset", core.ErrTransport),
			}
			h.coord.gateway = gw

			if err := tt.open(h.coord, e.ID); err != nil {
				t.Fatalf("open: %v", err)
			}
			done := make(chan error, 1)
			go func() { done <- tt.start(h.coord, ctx) }()
			<-gw.entered

			if err := h.coord.Logout(ctx); err != nil {
				t.Fatalf("logout: %v", err)
			}
			close(gw.release)
			if err := <-done; !errors.Is(err, core.ErrTransport) {
				t.Fatalf("expected transport error, got %v", err)
			}

			st := h.coord.State()
			if st.Busy || st.Delete != (DeleteState{}) || st.Edit.Phase != PhaseIdle || st.Edit.ExpenseID != 0 {
				t.Fatalf("late failure leaked into the state: %+v", st)
			}
			if _, loaded := h.store.Snapshot(); loaded {
				t.Fatalf("store refilled after logout")
			}

			h.coord.gateway = inner
			if err := h.session.Establish(ctx, h.token); err != nil {
				t.Fatalf("establish: %v", err)
			}
			h.load(t)
			h.backend.ResetCalls()

			if err := h.coord.ConfirmDelete(ctx); !errors.Is(err, ErrNoTarget) {
				t.Errorf("confirm after sign-in: %v", err)
			}
			if err := h.coord.SubmitEdit(ctx); !errors.Is(err, ErrNoTarget) {
				t.Errorf("submit after sign-in: %v", err)
			}
			if calls := h.backend.Calls(); len(calls) != 0 {
				t.Fatalf("expected no backend calls, got %v", calls)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrMutationInFlight, "Another change is still being saved. Please wait."},
		{fmt.Errorf("wrap: %w", core.ErrInvalidAmount), "Amount must be a number."},
		{core.ErrEmptyCategoryName, "Category name is required."},
		{&gateway.APIError{Op: "register", StatusCode: 400, Detail: "Email already registered", Kind: core.ErrTransport}, "Email already registered"},
		{&gateway.APIError{Op: "delete", StatusCode: 500, Detail: "trace", Kind: core.ErrTransport}, "The server could not complete the request. Please try again."},
		{&gateway.APIError{Op: "login", StatusCode: 401, Kind: core.ErrInvalidCredentials}, "Incorrect email or password."},
		{errors.New("odd"), "Something went wrong. Please try again."},
	}
	for _, tc := range cases {
		if got := UserMessage(tc.err); got != tc.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
