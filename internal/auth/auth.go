// Package auth signs the user in and out and decides which views are reachable.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"finclient/internal/core"
	"finclient/internal/log"
	"finclient/internal/session"
)

// Backend is the part of the gateway that handles credentials.
type Backend interface {
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, email, password string) error
}

// Dashboard loads data after sign in and discards it on sign out.
type Dashboard interface {
	Load(ctx context.Context) error
	Logout(ctx context.Context) error
}

type Service struct {
	backend   Backend
	session   *session.Holder
	dashboard Dashboard
	logger    *log.Logger
}

func NewService(backend Backend, holder *session.Holder, dashboard Dashboard, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Discard()
	}
	return &Service{
		backend:   backend,
		session:   holder,
		dashboard: dashboard,
		logger:    logger.WithComponent(log.ComponentAuth),
	}
}

// Authenticated reports whether the dashboard views are reachable.
func (s *Service) Authenticated() bool {
	return s.session.Active()
}

// Login signs in and loads the snapshot. A failed initial load is reported
// but leaves the user signed in, unless the backend rejected the new token.
func (s *Service) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if err := requireCredentials(email, password); err != nil {
		return err
	}

	token, err := s.backend.Login(ctx, email, password)
	if err != nil {
		s.logger.WarnContext(ctx, "Login failed", log.NewFields().
			WithOperation(log.OpLogin).WithError(err).WithErrorType(errorType(err)).ToSlice()...)
		return err
	}

	if err := s.session.Establish(ctx, token); err != nil {
		return fmt.Errorf("establish session: %w", err)
	}
	s.logger.InfoContext(ctx, "User signed in", log.FieldOperation, log.OpLogin)

	if err := s.dashboard.Load(ctx); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	return nil
}

// Register creates an account. The user signs in separately afterwards.
func (s *Service) Register(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if err := requireCredentials(email, password); err != nil {
		return err
	}

	if err := s.backend.Register(ctx, email, password); err != nil {
		s.logger.WarnContext(ctx, "Registration failed", log.NewFields().
			WithOperation(log.OpRegister).WithError(err).WithErrorType(errorType(err)).ToSlice()...)
		return err
	}
	s.logger.InfoContext(ctx, "User registered", log.FieldOperation, log.OpRegister)
	return nil
}

// Logout signs out. It follows the same path as a rejected session.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.dashboard.Logout(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "User signed out", log.FieldOperation, log.OpLogout)
	return nil
}

// Resume restores a persisted session and loads its snapshot. It reports
// whether the user is signed in afterwards.
func (s *Service) Resume(ctx context.Context) (bool, error) {
	ok, err := s.session.Restore(ctx)
	if err != nil {
		return false, fmt.Errorf("restore session: %w", err)
	}
	if !ok {
		return false, nil
	}

	if err := s.dashboard.Load(ctx); err != nil {
		// The dashboard signs out on an unauthorized answer.
		return s.session.Active(), fmt.Errorf("initial load: %w", err)
	}
	s.logger.InfoContext(ctx, "Session resumed", log.FieldOperation, log.OpRestore)
	return true, nil
}

func requireCredentials(email, password string) error {
	if email == "" {
		return core.ErrEmptyEmail
	}
	if password == "" {
		return core.ErrEmptyPassword
	}
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, core.ErrValidation):
		return log.ErrorTypeValidation
	case errors.Is(err, core.ErrInvalidCredentials), errors.Is(err, core.ErrUnauthorized):
		return log.ErrorTypeAuth
	default:
		return log.ErrorTypeNetwork
	}
}
