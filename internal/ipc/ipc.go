// Package ipc is the operator control channel: one JSON request and one
// JSON reply per unix socket connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const (
	CmdSessions       = "sessions"
	CmdCancelTransfer = "cancel-transfer"
)

type ControlMessage struct {
	Cmd    string `json:"cmd"`
	CallID string `json:"call_id,omitempty"`
}

type Reply struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler answers one control message.
type Handler func(ctx context.Context, msg ControlMessage) Reply

// Fail builds an error reply.
func Fail(err error) Reply {
	return Reply{Error: err.Error()}
}

// Success builds a reply carrying v as JSON.
func Success(v any) Reply {
	if v == nil {
		return Reply{OK: true}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Fail(fmt.Errorf("encode reply: %w", err))
	}
	return Reply{OK: true, Data: data}
}

type Server struct {
	path    string
	ln      net.Listener
	handler Handler
	timeout time.Duration
}

// Listen binds the control socket at path, replacing a stale one.
func Listen(path string, handler Handler) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Server{path: path, ln: ln, handler: handler, timeout: 10 * time.Second}, nil
}

func (s *Server) Path() string { return s.path }

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				os.Remove(s.path)
				return nil
			}
			log.Warn("Control accept failed", "err", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) Close() error {
	return s.ln.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(s.timeout))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		json.NewEncoder(conn).Encode(Fail(fmt.Errorf("decode: %w", err)))
		return
	}

	hctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reply := s.handler(hctx, msg)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Debug("Control reply failed", "cmd", msg.Cmd, "err", err)
	}
}

// SendCommand sends msg to the daemon listening at path and returns its
// reply. A reply with OK unset comes back as an error.
func SendCommand(ctx context.Context, path string, msg ControlMessage) (Reply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}
	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	if !reply.OK {
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}
