// Package http serves the build output during development and pushes reload
// signals to connected browsers over SSE or WebSocket.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/kiln/pkg/reload"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultPort matches the usual development server port.
const DefaultPort = 9000

const (
	eventsPath = "/__kiln/events"
	wsPath     = "/__kiln/ws"
	clientPath = "/__kiln/client.js"
	healthPath = "/__kiln/health"

	keepAliveEvery = 30 * time.Second
)

// Server serves static files with the reload client injected into HTML.
type Server struct {
	root    string
	hub     *reload.Hub
	metrics http.Handler
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts a metrics handler at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server rooted at dir, fed by hub.
func NewServer(dir string, hub *reload.Hub, opts ...Option) *Server {
	s := &Server{
		root:   dir,
		hub:    hub,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get(eventsPath, s.SubscribeEvents)
	r.Get(wsPath, s.SubscribeSocket)
	r.Get(clientPath, s.GetClient)
	r.Get(healthPath, s.GetHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	r.Get("/*", s.ServeStatic)
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("Development server listening", "addr", addr, "root", s.root)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Graceful shutdown did not complete", "err", err)
			return srv.Close()
		}
		return nil
	}
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /__kiln/health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": s.hub.Len()})
}

// GetClient serves the browser reload client.
func (s *Server) GetClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, clientScript)
}

// SubscribeEvents handles GET /__kiln/events (SSE).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.hub.Subscribe()
	defer sub.Close()
	s.logger.Debug("SSE client connected", "remote", r.RemoteAddr)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveEvery)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "remote", r.RemoteAddr)
			return
		case <-keepAlive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case sig, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(sig)
			if err != nil {
				s.logger.Error("SSE signal encode failed", "err", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// ServeStatic serves files under the root. HTML responses get the reload
// client injected before </body>.
func (s *Server) ServeStatic(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	full := filepath.Join(s.root, filepath.FromSlash(name))

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
	}
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	ext := strings.ToLower(filepath.Ext(full))
	if ext != ".html" && ext != ".htm" {
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, full)
		return
	}

	data, err := os.ReadFile(full)
	if err != nil {
		http.Error(w, "read failed", http.StatusInternalServerError)
		s.logger.Error("Static read failed", "path", full, "err", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(InjectClient(data))
}

var (
	clientTag = []byte(`<script src="` + clientPath + `"></script>`)
	bodyClose = []byte("</body>")
)

// InjectClient inserts the reload client tag before the last </body>, or
// appends it when the document has none.
func InjectClient(html []byte) []byte {
	if bytes.Contains(html, clientTag) {
		return html
	}
	lower := bytes.ToLower(html)
	idx := bytes.LastIndex(lower, bodyClose)
	if idx < 0 {
		return append(append([]byte{}, html...), clientTag...)
	}
	out := make([]byte, 0, len(html)+len(clientTag))
	out = append(out, html[:idx]...)
	out = append(out, clientTag...)
	return append(out, html[idx:]...)
}
