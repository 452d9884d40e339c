package preview

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"webloop/internal/utils"
	"webloop/pkg/paths"
)

// Server is a background HTTP file server rooted at the project
// directory. Every response carries CORS and no-cache headers so the
// browser under evaluation always sees the latest generated files.
type Server struct {
	root   string
	host   string
	port   int
	logger utils.ExtendedLogger

	mu       sync.Mutex
	httpSrv  *http.Server
	started  bool
	stopped  bool
	external bool // a prior instance owns the port; nothing to stop
}

// New creates a preview server for the given root directory.
func New(root, host string, port int, logger utils.ExtendedLogger) *Server {
	return &Server{
		root:   root,
		host:   host,
		port:   port,
		logger: logger,
	}
}

// URL returns the preview base URL.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s:%d/", s.host, s.port)
}

// Start binds the listener and serves in the background. If the port
// is already in use the server assumes a prior instance of itself and
// continues without error.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	router := mux.NewRouter()
	router.Use(s.headerMiddleware)
	router.PathPrefix("/").HandlerFunc(s.serveFile)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if isAddrInUse(err) {
			s.logger.Warnf("⚠️ Preview port %d already in use, assuming a prior preview instance", s.port)
			s.started = true
			s.external = true
			return nil
		}
		return fmt.Errorf("preview listen on %s: %w", addr, err)
	}

	s.httpSrv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.started = true

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("❌ Preview server error: %v", err)
		}
	}()

	s.logger.Infof("🌐 Preview server started: url=%s, root=%s", s.URL(), s.root)
	return nil
}

// Stop shuts the server down. Idempotent; guaranteed on all run exit
// paths.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped || s.external {
		s.stopped = true
		return nil
	}
	s.stopped = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("preview shutdown: %w", err)
	}
	s.logger.Infof("🌐 Preview server stopped")
	return nil
}

// headerMiddleware sets CORS and cache-busting headers on every
// response and answers OPTIONS directly.
func (s *Server) headerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// serveFile serves a file from the root directory, refusing any
// request that resolves outside it.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	cleaned := filepath.Clean("/" + r.URL.Path)
	target := filepath.Join(s.root, cleaned)
	if !paths.ValidateInside(s.root, target) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if cleaned == "/" || strings.HasSuffix(r.URL.Path, "/") {
		target = filepath.Join(target, "index.html")
	}
	http.ServeFile(w, r, target)
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return strings.Contains(opErr.Err.Error(), "address already in use")
	}
	return strings.Contains(err.Error(), "address already in use")
}
