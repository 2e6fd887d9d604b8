// Package memapi is an in-memory stand-in for the expense backend REST API.
// It keeps users, expenses and categories in maps, issues opaque tokens,
// records every call with its raw body and can be told to fail the next
// request to a route. Tests run it behind httptest.Server.
package memapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finclient/internal/core"
)

// Call is one recorded request.
type Call struct {
	Method        string
	Path          string
	Authorization string
	Body          []byte
}

// Route identifies a request as "METHOD /path".
func (c Call) Route() string { return c.Method + " " + c.Path }

type (
	user struct {
		id       int64
		email    string
		password string
	}

	category struct {
		id    int64
		name  string
		owner int64
	}

	expense struct {
		id          int64
		amount      decimal.Decimal
		description *string
		date        core.Date
		categoryID  *int64
		owner       int64
	}

	failure struct {
		status int
		detail string
	}
)

type Backend struct {
	mu         sync.Mutex
	users      map[string]*user
	tokens     map[string]int64
	expenses   map[int64]*expense
	categories map[int64]*category
	nextID     int64
	calls      []Call
	failures   map[string][]failure
}

func New() *Backend {
	return &Backend{
		users:      map[string]*user{},
		tokens:     map[string]int64{},
		expenses:   map[int64]*expense{},
		categories: map[int64]*category{},
		nextID:     1,
		failures:   map[string][]failure{},
	}
}

// Start serves the backend on a loopback listener. Callers must Close the server.
func (b *Backend) Start() *httptest.Server {
	return httptest.NewServer(b)
}

// AddUser registers email with password and returns a valid token for it.
func (b *Backend) AddUser(email, password string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.addUserLocked(email, password)
	return b.issueLocked(u.id)
}

// AddCategory creates a category owned by the holder of token.
func (b *Backend) AddCategory(token, name string) core.Category {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &category{id: b.allocLocked(), name: name, owner: b.tokens[token]}
	b.categories[c.id] = c
	return core.Category{ID: c.id, Name: c.name}
}

// PutExpense stores e for the holder of token under e.ID, allocating one when zero.
func (b *Backend) PutExpense(token string, e core.Expense) core.Expense {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e.ID == 0 {
		e.ID = b.allocLocked()
	} else if e.ID >= b.nextID {
		b.nextID = e.ID + 1
	}
	desc := e.Description
	rec := &expense{
		id:          e.ID,
		amount:      e.Amount,
		description: &desc,
		date:        e.Date,
		owner:       b.tokens[token],
	}
	if id, ok := e.CategoryRef(); ok {
		rec.categoryID = &id
	}
	b.expenses[rec.id] = rec
	return e
}

// Revoke invalidates token so that further calls with it answer 401.
func (b *Backend) Revoke(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tokens, token)
}

// FailNext makes the next request to route ("METHOD /path") answer status with detail.
func (b *Backend) FailNext(route string, status int, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[route] = append(b.failures[route], failure{status: status, detail: detail})
}

// Calls returns every recorded request in arrival order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallsTo returns the recorded requests for route.
func (b *Backend) CallsTo(route string) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Route() == route {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets the recorded requests.
func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// Snapshot returns what a fresh fetch for token would return.
func (b *Backend) Snapshot(token string) core.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	owner := b.tokens[token]
	snap := core.Snapshot{
		Expenses:   []core.Expense{},
		Categories: []core.Category{},
	}
	for _, u := range b.users {
		if u.id == owner {
			snap.User = core.User{ID: u.id, Email: u.email}
		}
	}
	for _, e := range b.sortedExpensesLocked(owner) {
		snap.Expenses = append(snap.Expenses, b.expenseOutLocked(e).toCore())
	}
	for _, c := range b.sortedCategoriesLocked(owner) {
		snap.Categories = append(snap.Categories, core.Category{ID: c.id, Name: c.name})
	}
	return snap
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	route := r.Method + " " + r.URL.Path

	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, Call{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})

	if queue := b.failures[route]; len(queue) > 0 {
		f := queue[0]
		b.failures[route] = queue[1:]
		writeDetail(w, f.status, f.detail)
		return
	}

	switch {
	case route == "POST /login":
		b.login(w, r, body)
	case route == "POST /users/":
		b.register(w, body)
	case route == "POST /users/me":
		b.withUser(w, r, func(u *user) {
			writeJSON(w, http.StatusOK, map[string]any{"id": u.id, "email": u.email, "expenses": []any{}})
		})
	case route == "GET /expenses/":
		b.withUser(w, r, func(u *user) {
			out := []expenseOut{}
			for _, e := range b.sortedExpensesLocked(u.id) {
				out = append(out, b.expenseOutLocked(e))
			}
			writeJSON(w, http.StatusOK, out)
		})
	case route == "POST /expenses/":
		b.withUser(w, r, func(u *user) { b.createExpense(w, u, body) })
	case route == "GET /categories/":
		b.withUser(w, r, func(u *user) {
			out := []categoryOut{}
			for _, c := range b.sortedCategoriesLocked(u.id) {
				out = append(out, categoryOut{ID: c.id, Name: c.name})
			}
			writeJSON(w, http.StatusOK, out)
		})
	case route == "POST /categories/":
		b.withUser(w, r, func(u *user) { b.createCategory(w, u, body) })
	case strings.HasPrefix(r.URL.Path, "/expenses/") && (r.Method == http.MethodPut || r.Method == http.MethodDelete):
		id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/expenses/"), 10, 64)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "Validation Error: invalid expense id")
			return
		}
		b.withUser(w, r, func(u *user) {
			if r.Method == http.MethodPut {
				b.updateExpense(w, u, id, body)
			} else {
				b.deleteExpense(w, u, id)
			}
		})
	default:
		writeDetail(w, http.StatusNotFound, "Not Found")
	}
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request, body []byte) {
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Validation Error: "+err.Error())
		return
	}
	u, ok := b.users[r.PostForm.Get("username")]
	if !ok || u.password != r.PostForm.Get("password") {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": b.issueLocked(u.id),
		"token_type":   "bearer",
	})
}

func (b *Backend) register(w http.ResponseWriter, body []byte) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(body, &in); err != nil || !strings.Contains(in.Email, "@") {
		writeDetail(w, http.StatusUnprocessableEntity, "Validation Error: Invalid email format")
		return
	}
	if _, exists := b.users[in.Email]; exists {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	u := b.addUserLocked(in.Email, in.Password)
	writeJSON(w, http.StatusCreated, map[string]any{"id": u.id, "email": u.email, "expenses": []any{}})
}

func (b *Backend) createExpense(w http.ResponseWriter, u *user, body []byte) {
	in, err := decodeExpense(body)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Validation Error: "+err.Error())
		return
	}
	e := &expense{id: b.allocLocked(), owner: u.id, amount: in.amount, description: in.description}
	e.date = in.date
	if e.date.IsZero() {
		e.date = core.Today()
	}
	if in.categorySet {
		e.categoryID = in.categoryID
	}
	b.expenses[e.id] = e
	writeJSON(w, http.StatusCreated, b.expenseOutLocked(e))
}

// updateExpense applies only the fields present in the body, like the real backend.
func (b *Backend) updateExpense(w http.ResponseWriter, u *user, id int64, body []byte) {
	e, ok := b.expenses[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Expense not found")
		return
	}
	if e.owner != u.id {
		writeDetail(w, http.StatusForbidden, "Not authorized to update this expense")
		return
	}
	in, err := decodeExpense(body)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Validation Error: "+err.Error())
		return
	}
	e.amount = in.amount
	if in.descriptionSet {
		e.description = in.description
	}
	if !in.date.IsZero() {
		e.date = in.date
	}
	if in.categorySet {
		e.categoryID = in.categoryID
	}
	writeJSON(w, http.StatusOK, b.expenseOutLocked(e))
}

func (b *Backend) deleteExpense(w http.ResponseWriter, u *user, id int64) {
	e, ok := b.expenses[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Expense not found")
		return
	}
	if e.owner != u.id {
		writeDetail(w, http.StatusForbidden, "Not authorized to delete this expense")
		return
	}
	delete(b.expenses, id)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) createCategory(w http.ResponseWriter, u *user, body []byte) {
	var in struct {
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(body, &in); err != nil || in.Name == nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Validation Error: name is required")
		return
	}
	c := &category{id: b.allocLocked(), name: *in.Name, owner: u.id}
	b.categories[c.id] = c
	writeJSON(w, http.StatusCreated, categoryOut{ID: c.id, Name: c.name})
}

func (b *Backend) withUser(w http.ResponseWriter, r *http.Request, fn func(*user)) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	id, ok := b.tokens[token]
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	for _, u := range b.users {
		if u.id == id {
			fn(u)
			return
		}
	}
	writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
}

func (b *Backend) addUserLocked(email, password string) *user {
	u := &user{id: b.allocLocked(), email: email, password: password}
	b.users[email] = u
	return u
}

func (b *Backend) issueLocked(userID int64) string {
	token := uuid.NewString()
	b.tokens[token] = userID
	return token
}

func (b *Backend) allocLocked() int64 {
	id := b.nextID
	b.nextID++
	return id
}

func (b *Backend) sortedExpensesLocked(owner int64) []*expense {
	var out []*expense
	for _, e := range b.expenses {
		if e.owner == owner {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (b *Backend) sortedCategoriesLocked(owner int64) []*category {
	var out []*category
	for _, c := range b.categories {
		if c.owner == owner {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

type (
	categoryOut struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	expenseOut struct {
		ID          int64        `json:"id"`
		Amount      json.Number  `json:"amount"`
		Description *string      `json:"description"`
		Date        string       `json:"date"`
		CategoryID  *int64       `json:"category_id"`
		OwnerID     int64        `json:"owner_id"`
		Category    *categoryOut `json:"category"`
	}
)

func (b *Backend) expenseOutLocked(e *expense) expenseOut {
	out := expenseOut{
		ID:          e.id,
		Amount:      json.Number(e.amount.String()),
		Description: e.description,
		Date:        e.date.Format("2006-01-02T15:04:05"),
		CategoryID:  e.categoryID,
		OwnerID:     e.owner,
	}
	if e.categoryID != nil {
		if c, ok := b.categories[*e.categoryID]; ok {
			out.Category = &categoryOut{ID: c.id, Name: c.name}
		}
	}
	return out
}

func (e expenseOut) toCore() core.Expense {
	date, _ := core.ParseDate(e.Date)
	amount, _ := decimal.NewFromString(e.Amount.String())
	out := core.Expense{ID: e.ID, Amount: amount, Date: date, CategoryID: e.CategoryID}
	if e.Description != nil {
		out.Description = *e.Description
	}
	if e.Category != nil {
		out.Category = &core.Category{ID: e.Category.ID, Name: e.Category.Name}
	}
	return out
}

type expenseIn struct {
	amount         decimal.Decimal
	description    *string
	descriptionSet bool
	date           core.Date
	categoryID     *int64
	categorySet    bool
}

// decodeExpense reads a write body, tracking which optional fields were present.
// The amount must be a JSON number, as the real backend's float field requires.
func decodeExpense(body []byte) (expenseIn, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return expenseIn{}, err
	}

	var in expenseIn
	amount, ok := raw["amount"]
	if !ok {
		return in, fmt.Errorf("amount is required")
	}
	var num json.Number
	if err := json.Unmarshal(amount, &num); err != nil {
		return in, fmt.Errorf("amount must be a number")
	}
	d, err := decimal.NewFromString(num.String())
	if err != nil {
		return in, fmt.Errorf("amount must be a number")
	}
	in.amount = d

	if v, ok := raw["description"]; ok {
		in.descriptionSet = true
		if err := json.Unmarshal(v, &in.description); err != nil {
			return in, fmt.Errorf("description must be a string")
		}
	}
	if v, ok := raw["date"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			if date, err := core.ParseDate(s); err == nil {
				in.date = date
			}
		}
	}
	if v, ok := raw["category_id"]; ok {
		in.categorySet = true
		if err := json.Unmarshal(v, &in.categoryID); err != nil {
			return in, fmt.Errorf("category_id must be an integer or null")
		}
	}
	return in, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
