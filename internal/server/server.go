// Package server exposes the media-stream websocket and the operational
// HTTP endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"callvox/internal/call"
	"callvox/internal/ipc"
	"callvox/pkg/protocol"
)

var ErrNoSession = errors.New("no live session for call")

type Server struct {
	deps     call.Deps
	cfg      call.Config
	gatherer prometheus.Gatherer

	upgrader     ws.Upgrader
	writeTimeout time.Duration

	ctx      context.Context
	sessions sync.WaitGroup
}

// New builds a server whose sessions share deps. Sessions end when ctx is
// cancelled.
func New(ctx context.Context, deps call.Deps, cfg call.Config, gatherer prometheus.Gatherer) *Server {
	return &Server{
		deps:     deps,
		cfg:      cfg,
		gatherer: gatherer,
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Media streams come from the telephony provider, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: 5 * time.Second,
		ctx:          ctx,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /media", s.media)
	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("GET /sessions", s.list)
	mux.HandleFunc("POST /sessions/{call}/cancel-transfer", s.cancelTransfer)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves addr until the server context is cancelled, then
// waits for live calls to wind down.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-s.ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.sessions.Wait()
	return err
}

func (s *Server) media(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()

	log.Debug("Media stream connected", "remote", r.RemoteAddr)
	sess := call.NewSession(protocol.NewConn(c, s.writeTimeout), s.deps, s.cfg)
	if err := sess.Run(s.ctx); err != nil {
		log.Warn("Session ended with error", "remote", r.RemoteAddr, "err", err)
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.deps.Registry.Len(),
	})
}

func (s *Server) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Sessions())
}

func (s *Server) cancelTransfer(w http.ResponseWriter, r *http.Request) {
	err := s.CancelTransfer(r.Context(), r.PathValue("call"))
	switch {
	case errors.Is(err, ErrNoSession):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// Sessions lists the live calls.
func (s *Server) Sessions() []call.Info {
	live := s.deps.Registry.List()
	out := make([]call.Info, 0, len(live))
	for _, sess := range live {
		out = append(out, sess.Info())
	}
	return out
}

func (s *Server) CancelTransfer(ctx context.Context, callID string) error {
	sess, ok := s.deps.Registry.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, callID)
	}
	return sess.CancelTransfer(ctx)
}

// Control answers operator commands from the control socket.
func (s *Server) Control(ctx context.Context, msg ipc.ControlMessage) ipc.Reply {
	switch msg.Cmd {
	case ipc.CmdSessions:
		return ipc.Success(s.Sessions())
	case ipc.CmdCancelTransfer:
		if err := s.CancelTransfer(ctx, msg.CallID); err != nil {
			return ipc.Fail(err)
		}
		return ipc.Success(nil)
	}
	log.Warn("Unknown command", "cmd", msg.Cmd)
	return ipc.Fail(fmt.Errorf("unknown command %q", msg.Cmd))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Write response", "err", err)
	}
}
