package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"finclient/internal/auth"
	"finclient/internal/core"
	"finclient/internal/dashboard"
	"finclient/internal/log"
	"finclient/internal/store"
	appweb "finclient/web"
)

// Config holds the UI server settings.
type Config struct {
	Addr string

	// RateLimitRPS bounds POSTs per client. Zero or less disables the limit.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server is the browser-facing UI. Every POST answers with a redirect to
// the page, and the page is always rendered from the stored snapshot and
// the dashboard state.
type Server struct {
	http.Server
	templates *template.Template
	auth      *auth.Service
	dashboard *dashboard.Coordinator
	store     *store.Store
	limiter   *rateLimiter
	headers   securityHeaders
	logger    *log.Logger
	requests  *log.StructuredLogger
	started   time.Time

	mu     sync.Mutex
	flash  flash
	loaded bool

	unsubscribe  func()
	shutdownOnce sync.Once
}

// flash carries one-shot messages across a redirect. The UI serves a single
// local user, so one slot is enough.
type flash struct {
	notice   string
	authErr  string
	email    string
	register bool
	err      string
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(cfg Config, authSvc *auth.Service, coord *dashboard.Coordinator, st *store.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	mux := http.NewServeMux()
	s := &Server{
		auth:      authSvc,
		dashboard: coord,
		store:     st,
		limiter:   newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger),
		headers:   defaultSecurityHeaders(),
		logger:    logger,
		requests:  log.NewStructuredLogger(logger),
		started:   time.Now(),
	}

	// Parse embedded templates at startup.
	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Warn("Failed parsing templates", log.FieldError, err.Error())
	}
	s.templates = t

	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
			static.ServeHTTP(w, r)
		}))
	} else {
		logger.Warn("Failed to mount embedded static FS", log.FieldError, err.Error())
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /{$}", s.handleIndex)

	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.HandleFunc("POST /expenses", s.requireSession(s.handleCreateExpense))
	mux.HandleFunc("POST /categories", s.requireSession(s.handleCreateCategory))
	mux.HandleFunc("POST /expenses/{id}/delete", s.requireSession(s.handleOpenDelete))
	mux.HandleFunc("POST /delete/confirm", s.requireSession(s.handleConfirmDelete))
	mux.HandleFunc("POST /delete/cancel", s.requireSession(s.handleCancelDelete))
	mux.HandleFunc("POST /expenses/{id}/edit", s.requireSession(s.handleOpenEdit))
	mux.HandleFunc("POST /edit/submit", s.requireSession(s.handleSubmitEdit))
	mux.HandleFunc("POST /edit/cancel", s.requireSession(s.handleCancelEdit))

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.withRequestID(log.Middleware(logger)(log.RequestIDMiddleware(requestIDFromHeader)(s.withSecurity(mux)))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if st != nil {
		s.unsubscribe = st.Subscribe(s.onSnapshot)
	}
	return s
}

// onSnapshot runs after every store replacement. A snapshot that goes away
// without the user asking means the backend ended the session.
func (s *Server) onSnapshot(_ core.Snapshot, loaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded && !loaded && s.flash.notice == "" {
		s.flash.notice = msgSessionEnded
	}
	s.loaded = loaded
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if s.limiter != nil {
			s.limiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func (s *Server) setFlash(f flash) {
	s.mu.Lock()
	s.flash = f
	s.mu.Unlock()
}

func (s *Server) takeFlash() flash {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flash
	s.flash = flash{}
	return f
}
