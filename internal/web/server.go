package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"

	"stock-sim-go/internal/config"
	"stock-sim-go/internal/quote"
	"stock-sim-go/internal/trading"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sessionName = "stock_sim_session"

type contextKey string

// userIDKey carries the authenticated user's id through the request
// context; handlers never read session state directly.
const userIDKey contextKey = "user_id"

// Server is the HTTP front of the application. Every route is a thin
// handler: parse the form, call the trading service or the store, render a
// template or redirect.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	server    *http.Server
	store     sessions.Store
	db        *gorm.DB
	trading   *trading.Service
	quotes    quote.Client
	templates map[string]*template.Template
}

// New creates the web server with its router configured.
func New(cfg *config.Config, logger *zap.Logger, db *gorm.DB, tradingSvc *trading.Service, quotes quote.Client) (*Server, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	// An empty dir makes FilesystemStore fall back to os.TempDir.
	if cfg.Session.Dir != "" {
		if err := os.MkdirAll(cfg.Session.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	store := sessions.NewFilesystemStore(cfg.Session.Dir, []byte(cfg.Session.AuthKey))
	store.Options.HttpOnly = true
	store.Options.Path = "/"

	s := &Server{
		cfg:    cfg,
		logger: logger,
		server: &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		},
		store:     store,
		db:        db,
		trading:   tradingSvc,
		quotes:    quotes,
		templates: templates,
	}
	s.configureRouter()

	return s, nil
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("address", s.server.Addr))
	return s.server.ListenAndServe()
}

// MustStart panics when the server fails to start for any reason other
// than a clean shutdown.
func (s *Server) MustStart() {
	err := s.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic("failed to start server: " + err.Error())
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	defer s.logger.Info("Server stopped")
	return s.server.Shutdown(ctx)
}

func (s *Server) configureRouter() {
	router := mux.NewRouter()
	router.Use(s.noCache)

	router.HandleFunc("/", s.requireLogin(s.indexHandler())).Methods("GET")
	router.HandleFunc("/quote", s.requireLogin(s.quoteHandler())).Methods("GET", "POST")
	router.HandleFunc("/buy", s.requireLogin(s.buyHandler())).Methods("GET", "POST")
	router.HandleFunc("/sell", s.requireLogin(s.sellHandler())).Methods("GET", "POST")
	router.HandleFunc("/history", s.requireLogin(s.historyHandler())).Methods("GET")
	router.HandleFunc("/login", s.loginHandler()).Methods("GET", "POST")
	router.HandleFunc("/logout", s.logoutHandler()).Methods("GET")
	router.HandleFunc("/register", s.registerHandler()).Methods("GET", "POST")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.apology(w, http.StatusNotFound, "Not Found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.apology(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	s.server.Handler = router
}

// noCache keeps responses out of browser caches so a back-navigation never
// shows another user's pages after logout.
func (s *Server) noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Expires", "0")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// requireLogin redirects to /login unless the session carries a user id.
// The id travels to the handler via the request context.
func (s *Server) requireLogin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.store.Get(r, sessionName)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		userID, ok := session.Values["user_id"].(uint)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

// currentUserID returns the authenticated user id set by requireLogin.
func currentUserID(r *http.Request) uint {
	id, _ := r.Context().Value(userIDKey).(uint)
	return id
}

// render writes a page through the shared layout.
func (s *Server) render(w http.ResponseWriter, status int, page, title, flash string, data any) {
	t, ok := s.templates[page]
	if !ok {
		s.logger.Error("Unknown template requested", zap.String("page", page))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.ExecuteTemplate(w, "layout", view{Title: title, Flash: flash, Data: data}); err != nil {
		s.logger.Error("Failed to render template", zap.String("page", page), zap.Error(err))
	}
}

type apologyData struct {
	Code    int
	Message string
}

// apology renders the generic error page with a message and status code.
func (s *Server) apology(w http.ResponseWriter, status int, message string) {
	s.render(w, status, "apology", "Apology", "", apologyData{Code: status, Message: message})
}

// internalError logs the cause and shows a generic apology, never the
// underlying error text.
func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("Unhandled error", zap.Error(err))
	s.apology(w, http.StatusInternalServerError, "Internal Server Error")
}
