// Package session owns the bearer token of the signed-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"finclient/internal/core"
	"finclient/internal/log"
)

// TokenStore persists the token across restarts. Load returns "" when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Delete(ctx context.Context) error
}

// Holder keeps the active credential in memory and mirrors it to a TokenStore.
type Holder struct {
	mu      sync.RWMutex
	token   string
	store   TokenStore
	onClear []func()
	logger  *log.Logger
}

func NewHolder(store TokenStore, logger *log.Logger) *Holder {
	if store == nil {
		store = NewMemoryTokenStore()
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Holder{
		store:  store,
		logger: logger.WithComponent(log.ComponentSession),
	}
}

// Establish makes token the credential for all subsequent gateway calls.
func (h *Holder) Establish(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("establish session: %w", errors.New("empty token"))
	}
	if err := h.store.Save(ctx, token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}

	h.mu.Lock()
	h.token = token
	h.mu.Unlock()

	h.logger.InfoContext(ctx, "Session established")
	return nil
}

// Clear drops the credential. Clearing an already empty session is a no-op.
func (h *Holder) Clear(ctx context.Context) error {
	h.mu.Lock()
	had := h.token != ""
	h.token = ""
	observers := append([]func(){}, h.onClear...)
	h.mu.Unlock()

	err := h.store.Delete(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to delete persisted token", log.FieldError, err)
		err = fmt.Errorf("delete token: %w", err)
	}

	if had {
		h.logger.InfoContext(ctx, "Session cleared")
		for _, fn := range observers {
			fn()
		}
	}
	return err
}

// Restore loads a previously persisted token. It reports whether a session is now active.
func (h *Holder) Restore(ctx context.Context) (bool, error) {
	token, err := h.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load token: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}

	h.mu.Lock()
	h.token = token
	h.mu.Unlock()

	h.logger.InfoContext(ctx, "Session restored from token store")
	return true, nil
}

// Token returns the active credential.
func (h *Holder) Token() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token, h.token != ""
}

// Active reports whether a credential is held.
func (h *Holder) Active() bool {
	_, ok := h.Token()
	return ok
}

// OnClear registers fn to run whenever a held token is cleared.
func (h *Holder) OnClear(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClear = append(h.onClear, fn)
}

// Require returns the token or core.ErrNoSession.
func (h *Holder) Require() (string, error) {
	token, ok := h.Token()
	if !ok {
		return "", core.ErrNoSession
	}
	return token, nil
}
