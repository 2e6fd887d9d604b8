package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"finclient/internal/core"
	"finclient/internal/dashboard"
	"finclient/internal/log"
	"finclient/internal/view"
)

const (
	msgRegistered   = "Account created. Please sign in."
	msgSignedOut    = "You have been signed out."
	msgSessionEnded = "Your session has ended. Please sign in again."
	msgBadRequest   = "The request could not be read."
)

// pageData is what index.html renders.
type pageData struct {
	view.Page

	Notice string
	Error  string

	// Auth view, shown while signed out.
	AuthError string
	Email     string
	Register  bool
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
	})
}

// handleReady reports whether the UI can render.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status, code := "ready", http.StatusOK
	checks := map[string]string{"templates": "ok"}
	if s.templates == nil {
		status, code = "not_ready", http.StatusServiceUnavailable
		checks["templates"] = "failed: templates not loaded"
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":        status,
		"authenticated": s.auth.Authenticated(),
		"checks":        checks,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	if s.templates == nil {
		logger.ErrorContext(ctx, "Templates not loaded", log.FieldPath, r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	authenticated := s.auth.Authenticated()
	if authenticated {
		// A signed-in page with nothing loaded retries the initial fetch.
		if _, loaded := s.store.Snapshot(); !loaded {
			if err := s.dashboard.Load(ctx); err != nil {
				logger.WarnContext(ctx, "Snapshot load failed", log.NewFields().
					WithOperation(log.OpSync).WithError(err).ToSlice()...)
			}
			authenticated = s.auth.Authenticated()
		}
	}

	f := s.takeFlash()
	snap, loaded := s.store.Snapshot()
	data := pageData{
		Page:      view.Build(snap, loaded, s.dashboard.State(), authenticated),
		Notice:    f.notice,
		Error:     f.err,
		AuthError: f.authErr,
		Email:     f.email,
		Register:  f.register,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		s.requests.LogError(ctx, "Index template execution failed", err, log.OpRender, nil)
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.badRequest(w, r, err)
		return
	}
	creds := ParseCredentials(r.PostForm)

	err := s.auth.Login(r.Context(), creds.Email, creds.Password)
	if err != nil && !s.auth.Authenticated() {
		s.setFlash(flash{authErr: dashboard.UserMessage(err), email: creds.Email})
	}
	// A failed initial load is kept in the dashboard state and shown there.
	redirectHome(w, r)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.badRequest(w, r, err)
		return
	}
	creds := ParseCredentials(r.PostForm)

	if err := s.auth.Register(r.Context(), creds.Email, creds.Password); err != nil {
		s.setFlash(flash{authErr: dashboard.UserMessage(err), email: creds.Email, register: true})
	} else {
		s.setFlash(flash{notice: msgRegistered, email: creds.Email})
	}
	redirectHome(w, r)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context()); err != nil {
		s.requests.LogError(r.Context(), "Logout failed", err, log.OpLogout, nil)
		s.setFlash(flash{err: dashboard.UserMessage(err)})
	} else {
		s.setFlash(flash{notice: msgSignedOut})
	}
	redirectHome(w, r)
}

// The form handlers below leave their errors in the dashboard state, which
// the next render shows next to the form or dialog they belong to.

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.badRequest(w, r, err)
		return
	}
	s.result(r, log.OpCreate, s.dashboard.SubmitExpense(r.Context(), ParseExpenseForm(r.PostForm)))
	redirectHome(w, r)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.badRequest(w, r, err)
		return
	}
	s.result(r, log.OpCreate, s.dashboard.SubmitCategory(r.Context(), ParseCategoryForm(r.PostForm)))
	redirectHome(w, r)
}

func (s *Server) handleOpenDelete(w http.ResponseWriter, r *http.Request) {
	id, err := ParseExpenseID(r)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	s.flashOnError(r, log.OpDelete, s.dashboard.OpenDelete(id))
	redirectHome(w, r)
}

func (s *Server) handleConfirmDelete(w http.ResponseWriter, r *http.Request) {
	err := s.dashboard.ConfirmDelete(r.Context())
	if errors.Is(err, dashboard.ErrNoTarget) {
		s.flashOnError(r, log.OpDelete, err)
	} else {
		s.result(r, log.OpDelete, err)
	}
	redirectHome(w, r)
}

func (s *Server) handleCancelDelete(w http.ResponseWriter, r *http.Request) {
	s.flashOnError(r, log.OpDelete, s.dashboard.CancelDelete())
	redirectHome(w, r)
}

func (s *Server) handleOpenEdit(w http.ResponseWriter, r *http.Request) {
	id, err := ParseExpenseID(r)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	s.flashOnError(r, log.OpUpdate, s.dashboard.OpenEdit(id))
	redirectHome(w, r)
}

func (s *Server) handleSubmitEdit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.dashboard.UpdateEditDraft(ParseEditDraft(r.PostForm)); err != nil {
		s.flashOnError(r, log.OpUpdate, err)
		redirectHome(w, r)
		return
	}

	err := s.dashboard.SubmitEdit(r.Context())
	if errors.Is(err, dashboard.ErrNoTarget) {
		s.flashOnError(r, log.OpUpdate, err)
	} else {
		s.result(r, log.OpUpdate, err)
	}
	redirectHome(w, r)
}

func (s *Server) handleCancelEdit(w http.ResponseWriter, r *http.Request) {
	s.flashOnError(r, log.OpUpdate, s.dashboard.CancelEdit())
	redirectHome(w, r)
}

// requireSession sends signed-out requests back to the auth view.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Authenticated() {
			s.setFlash(flash{authErr: dashboard.UserMessage(core.ErrNoSession)})
			redirectHome(w, r)
			return
		}
		next(w, r)
	}
}

// result logs the outcome of a mutation already recorded in the dashboard state.
func (s *Server) result(r *http.Request, op string, err error) {
	if err == nil {
		return
	}
	log.FromContext(r.Context()).DebugContext(r.Context(), "Mutation rejected", log.NewFields().
		WithOperation(op).WithError(err).ToSlice()...)
}

// flashOnError shows errors that have no form or dialog to live in.
func (s *Server) flashOnError(r *http.Request, op string, err error) {
	if err == nil {
		return
	}
	s.result(r, op, err)
	s.setFlash(flash{err: dashboard.UserMessage(err)})
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Bad request", log.NewFields().
		WithError(err).WithErrorType(log.ErrorTypeValidation).ToSlice()...)
	http.Error(w, msgBadRequest, http.StatusBadRequest)
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
