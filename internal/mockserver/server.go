package mockserver

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/xsrftoken"

	"github.com/verdantchat/chatsync/internal/config"
	"github.com/verdantchat/chatsync/pkg/logger"
)

const (
	sessionCookieName = "chat_session"
	csrfCookieName    = "XSRF-TOKEN"
	csrfHeaderName    = "X-XSRF-TOKEN"

	// Laravel's status for a failed anti-forgery check.
	statusCSRFMismatch = 419
)

// Server is the mock backend. The exported Fail* fields are failure-injection
// knobs: tests set them before issuing requests to exercise rollback and
// stream-error paths.
type Server struct {
	store   *Store
	logger  *logger.Logger
	cfg     *config.Config
	csrfKey string

	mu        sync.Mutex
	loggedOut bool

	// FailSendStatus rejects message sends with the given status.
	FailSendStatus int
	// FailListCount makes the next N list requests fail with a 500.
	FailListCount int
	// MidStreamError injects an error payload partway through a stream.
	MidStreamError string
	// TruncateStream ends a stream before the terminal record.
	TruncateStream bool
}

// New creates a mock backend over the given store.
func New(store *Store, cfg *config.Config, log *logger.Logger) *Server {
	return &Server{
		store:   store,
		logger:  log,
		cfg:     cfg,
		csrfKey: uuid.NewString(),
	}
}

// Store exposes the underlying state for test assertions.
func (s *Server) Store() *Store {
	return s.store
}

func (s *Server) signedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOut
}

func (s *Server) setSignedOut(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = v
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", csrfHeaderName},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httprate.Limit(
		s.cfg.MockRateLimitRequests,
		s.cfg.MockRateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	))
	r.Use(s.verifyCSRF)

	r.Get("/sanctum/csrf-cookie", s.handleCSRFCookie)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Get("/api/user", s.handleUser)
	r.Route("/api/conversations", func(r chi.Router) {
		r.Get("/", s.handleListConversations)
		r.Post("/", s.handleCreateConversation)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetConversation)
			r.Patch("/", s.handleUpdateConversation)
			r.Delete("/", s.handleDeleteConversation)
			r.Post("/messages", s.handleSendMessage)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// handleCSRFCookie serves GET /sanctum/csrf-cookie: it establishes a session
// cookie and issues an anti-forgery token bound to it. The token cookie value
// is URL-encoded, which clients must decode before echoing it in the header.
func (s *Server) handleCSRFCookie(w http.ResponseWriter, r *http.Request) {
	sessionID := s.sessionID(r)
	if sessionID == "" {
		sessionID = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	token := xsrftoken.Generate(s.csrfKey, sessionID, "")
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    url.QueryEscape(token),
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessionID(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// verifyCSRF rejects mutating requests whose header token does not validate
// against the session. Reads pass through untouched.
func (s *Server) verifyCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		sessionID := s.sessionID(r)
		token := r.Header.Get(csrfHeaderName)
		if sessionID == "" || token == "" || !xsrftoken.Valid(token, s.csrfKey, sessionID, "") {
			writeError(w, statusCSRFMismatch, "CSRF token mismatch.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code and bytes written for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestLogger logs one line per completed request.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Int64("bytes", wrapped.written),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
