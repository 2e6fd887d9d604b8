// Package gateway talks to the expense backend over its REST API.
// It attaches the session token, maps failures onto the core error taxonomy
// and converts wire payloads into core types.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"finclient/internal/core"
	"finclient/internal/log"
)

const (
	pathLogin      = "/login"
	pathUsers      = "/users/"
	pathCurrent    = "/users/me"
	pathExpenses   = "/expenses/"
	pathCategories = "/categories/"

	headerRequestID = "X-Request-ID"
	maxBodyBytes    = 4 << 20
)

// TokenSource supplies the bearer credential, or core.ErrNoSession when
// none is held. session.Holder implements it.
type TokenSource interface {
	Require() (string, error)
}

type Config struct {
	BaseURL string
	// Timeout bounds each request. Zero means no timeout.
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	logger     *log.Logger
}

func New(cfg Config, tokens TokenSource, logger *log.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL scheme %q", u.Scheme)
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if logger == nil {
		logger = log.Discard()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     tokens,
		logger:     logger.WithComponent(log.ComponentGateway),
	}, nil
}

type request struct {
	op     string
	method string
	path   string
	body   any
	form   url.Values
	auth   bool
	// onUnauthorized replaces core.ErrUnauthorized as the kind of a 401 or 403 answer.
	onUnauthorized error
}

// do executes req and decodes a 2xx JSON answer into out when out is non-nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	var token string
	if req.auth {
		t, err := c.tokens.Require()
		if err != nil {
			return fmt.Errorf("%s: %w", req.op, err)
		}
		token = t
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.form != nil:
		body = strings.NewReader(req.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.body != nil:
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("%s: marshal request body: %w", req.op, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", req.op, err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(headerRequestID, requestID)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		c.logger.WarnContext(ctx, "Backend request failed",
			log.FieldOperation, req.op,
			log.FieldRequestID, requestID,
			log.FieldMethod, req.method,
			log.FieldPath, req.path,
			log.FieldDuration, duration.Milliseconds(),
			log.FieldError, err,
		)
		return &APIError{Op: req.op, Kind: core.ErrTransport, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	c.logger.DebugContext(ctx, "Backend request completed",
		log.FieldOperation, req.op,
		log.FieldRequestID, requestID,
		log.FieldMethod, req.method,
		log.FieldPath, req.path,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, duration.Milliseconds(),
	)

	if err != nil {
		return &APIError{Op: req.op, StatusCode: resp.StatusCode, Kind: core.ErrTransport, Cause: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(req, resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Op: req.op, StatusCode: resp.StatusCode, Kind: core.ErrTransport, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) statusError(req request, status int, body []byte) error {
	apiErr := &APIError{
		Op:         req.op,
		StatusCode: status,
		Detail:     extractDetail(body),
		Kind:       core.ErrTransport,
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		apiErr.Kind = core.ErrUnauthorized
		if req.onUnauthorized != nil {
			apiErr.Kind = req.onUnauthorized
		}
	}
	return apiErr
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	var tok tokenDTO
	err := c.do(ctx, request{
		op:             "login",
		method:         http.MethodPost,
		path:           pathLogin,
		form:           form,
		onUnauthorized: core.ErrInvalidCredentials,
	}, &tok)
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", &APIError{Op: "login", Kind: core.ErrTransport, Cause: errors.New("empty access token")}
	}
	return tok.AccessToken, nil
}

// Register creates an account. The caller signs in separately afterwards.
func (c *Client) Register(ctx context.Context, email, password string) error {
	return c.do(ctx, request{
		op:     "register",
		method: http.MethodPost,
		path:   pathUsers,
		body:   credentialsDTO{Email: email, Password: password},
	}, nil)
}

// FetchSnapshot loads the user, expenses and categories concurrently.
// Either all three succeed or an error is returned; there is no partial result.
func (c *Client) FetchSnapshot(ctx context.Context) (core.Snapshot, error) {
	if _, err := c.tokens.Require(); err != nil {
		return core.Snapshot{}, fmt.Errorf("fetch snapshot: %w", err)
	}

	var (
		user       userDTO
		expenses   []expenseDTO
		categories []categoryDTO
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.do(gctx, request{op: "fetch user", method: http.MethodPost, path: pathCurrent, auth: true}, &user)
	})
	g.Go(func() error {
		return c.do(gctx, request{op: "list expenses", method: http.MethodGet, path: pathExpenses, auth: true}, &expenses)
	})
	g.Go(func() error {
		return c.do(gctx, request{op: "list categories", method: http.MethodGet, path: pathCategories, auth: true}, &categories)
	})
	if err := g.Wait(); err != nil {
		return core.Snapshot{}, err
	}

	converted, err := expensesToCore(expenses)
	if err != nil {
		return core.Snapshot{}, &APIError{Op: "list expenses", Kind: core.ErrTransport, Cause: err}
	}

	snap := core.Snapshot{
		User:       user.toCore(),
		Expenses:   converted,
		Categories: categoriesToCore(categories),
	}
	c.logger.DebugContext(ctx, "Snapshot fetched", log.NewFields().WithSnapshotSize(len(snap.Expenses), len(snap.Categories)).ToSlice()...)
	return snap, nil
}

// CreateExpense posts a new expense. An unset category is left out of the body.
func (c *Client) CreateExpense(ctx context.Context, fields core.ExpenseFields) (core.Expense, error) {
	if err := fields.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	var dto expenseDTO
	err := c.do(ctx, request{
		op:     "create expense",
		method: http.MethodPost,
		path:   pathExpenses,
		body:   expenseRequest{fields: fields},
		auth:   true,
	}, &dto)
	if err != nil {
		return core.Expense{}, err
	}
	return c.decodeExpense("create expense", dto)
}

// UpdateExpense replaces the writable fields of expense id.
// The category is always sent: an unset category is sent as null.
func (c *Client) UpdateExpense(ctx context.Context, id int64, fields core.ExpenseFields) (core.Expense, error) {
	if err := fields.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("update expense: %w", err)
	}
	if fields.CategoryID.IsUnset() {
		fields.CategoryID = core.NoCategory()
	}
	var dto expenseDTO
	err := c.do(ctx, request{
		op:     "update expense",
		method: http.MethodPut,
		path:   expensePath(id),
		body:   expenseRequest{fields: fields},
		auth:   true,
	}, &dto)
	if err != nil {
		return core.Expense{}, err
	}
	return c.decodeExpense("update expense", dto)
}

func (c *Client) DeleteExpense(ctx context.Context, id int64) error {
	return c.do(ctx, request{
		op:     "delete expense",
		method: http.MethodDelete,
		path:   expensePath(id),
		auth:   true,
	}, nil)
}

// CreateCategory creates a category named name. Blank names are rejected
// without contacting the backend.
func (c *Client) CreateCategory(ctx context.Context, name string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Category{}, fmt.Errorf("create category: %w", core.ErrEmptyCategoryName)
	}
	var dto categoryDTO
	err := c.do(ctx, request{
		op:     "create category",
		method: http.MethodPost,
		path:   pathCategories,
		body:   categoryRequest{Name: name},
		auth:   true,
	}, &dto)
	if err != nil {
		return core.Category{}, err
	}
	return dto.toCore(), nil
}

func (c *Client) decodeExpense(op string, dto expenseDTO) (core.Expense, error) {
	// 2xx with an empty body leaves a zero dto
	if dto.ID == 0 && dto.Date == "" {
		return core.Expense{}, nil
	}
	e, err := dto.toCore()
	if err != nil {
		return core.Expense{}, &APIError{Op: op, Kind: core.ErrTransport, Cause: err}
	}
	return e, nil
}

func expensePath(id int64) string {
	return "/expenses/" + strconv.FormatInt(id, 10)
}
