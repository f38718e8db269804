package protocol

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

type WsIncomeKind uint

const (
	CONN_CLOSE WsIncomeKind = iota
	READ_FAILURE
	READ_OK
)

type Income struct {
	Kind  WsIncomeKind
	Event Event
	Err   error
}

// Conn is one media-stream websocket. Reads happen from a single goroutine;
// writes may come from several and are serialized.
type Conn struct {
	conn    *ws.Conn
	timeout time.Duration

	writeMu  sync.Mutex
	streamMu sync.RWMutex
	streamID string
}

func NewConn(conn *ws.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{conn: conn, timeout: writeTimeout}
}

// Dial connects to a media-stream endpoint. It is used by the control tool
// and tests to play the far end.
func Dial(ctx context.Context, url string) (*Conn, error) {
	log.Debug("Dial media stream", "url", url)

	conn, _, err := ws.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewConn(conn, 5*time.Second), nil
}

// Read blocks for the next inbound event. A Start remembers its stream id
// for outbound messages.
func (c *Conn) Read() Income {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		// gorilla connections are unusable after any read error.
		if !WsIsClosed(err) {
			log.Debug("Media stream read failed", "err", err)
		}
		return Income{Kind: CONN_CLOSE, Err: err}
	}

	ev, err := Decode(msg)
	if err != nil {
		return Income{Kind: READ_FAILURE, Err: err}
	}
	if st, ok := ev.(Start); ok {
		c.streamMu.Lock()
		c.streamID = st.StreamID
		c.streamMu.Unlock()
	}
	return Income{Kind: READ_OK, Event: ev}
}

func (c *Conn) StreamID() string {
	c.streamMu.RLock()
	defer c.streamMu.RUnlock()
	return c.streamID
}

func (c *Conn) SendMedia(frame []byte) error {
	msg, err := EncodeMedia(c.StreamID(), frame)
	if err != nil {
		return err
	}
	return c.Write(msg)
}

func (c *Conn) SendClear() error {
	msg, err := EncodeClear(c.StreamID())
	if err != nil {
		return err
	}
	return c.Write(msg)
}

func (c *Conn) SendMark(name string) error {
	msg, err := EncodeMark(c.StreamID(), name)
	if err != nil {
		return err
	}
	return c.Write(msg)
}

// Write sends a raw text message.
func (c *Conn) Write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.conn.WriteMessage(ws.TextMessage, payload)
}

func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func WsIsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure,
		ws.CloseNoStatusReceived)
}
