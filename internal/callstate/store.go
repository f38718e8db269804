package callstate

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("store is closed")
)

// Backend is the durable copy of sessions, keyed by call id.
type Backend interface {
	Load(ctx context.Context, callID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Close() error
}

type StoreConfig struct {
	WriteTimeout time.Duration
	// OnWrite is called after every durable write attempt.
	OnWrite func(err error)
}

// Store caches live sessions in memory and copies them to a Backend from a
// single writer goroutine. Each call has at most one unwritten snapshot: a
// newer one replaces it, so writes for one call stay in order and a slow
// backend never holds up a session loop. Reads always come from the cache.
type Store struct {
	backend Backend
	cfg     StoreConfig

	mu      sync.Mutex
	cache   map[string]*Session
	pending map[string]*Session
	order   []string
	closed  bool

	kick chan struct{}
	done chan struct{}
}

func NewStore(backend Backend, cfg StoreConfig) *Store {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}

	st := &Store{
		backend: backend,
		cfg:     cfg,
		cache:   map[string]*Session{},
		pending: map[string]*Session{},
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go st.writer()
	return st
}

// Open returns the cached session for callID, else the durable copy left by
// an earlier connection, else a fresh session. The bool reports whether an
// existing session was resumed.
func (st *Store) Open(ctx context.Context, callID, streamID, caller string) (*Session, bool, error) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil, false, ErrClosed
	}
	if s, ok := st.cache[callID]; ok {
		st.mu.Unlock()
		return s, true, nil
	}
	// An unwritten final snapshot is newer than the durable copy.
	if snap, ok := st.pending[callID]; ok {
		s := snap.Clone()
		s.StreamID = streamID
		st.cache[callID] = s
		st.mu.Unlock()
		return s, true, nil
	}
	st.mu.Unlock()

	s, err := st.backend.Load(ctx, callID)
	resumed := true
	switch {
	case errors.Is(err, ErrNotFound):
		s = New(callID, streamID, caller, time.Now())
		resumed = false
	case err != nil:
		log.Warn("Failed to load session, starting fresh", "call", callID, "err", err)
		s = New(callID, streamID, caller, time.Now())
		resumed = false
	default:
		s.StreamID = streamID
		if s.Attempts == nil {
			s.Attempts = map[Phase]int{}
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if cached, ok := st.cache[callID]; ok {
		return cached, true, nil
	}
	st.cache[callID] = s
	return s, resumed, nil
}

func (st *Store) Get(callID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.cache[callID]
	return s, ok
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.cache)
}

// Persist queues a snapshot of s for the backend. It never blocks.
func (st *Store) Persist(s *Session) {
	snap := s.Clone()

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.queue(snap)
}

// Release queues the final snapshot of s and evicts it from the cache.
func (st *Store) Release(s *Session) {
	snap := s.Clone()

	st.mu.Lock()
	defer st.mu.Unlock()
	if cur, ok := st.cache[s.CallID]; ok && cur == s {
		delete(st.cache, s.CallID)
	}
	if st.closed {
		return
	}
	st.queue(snap)
}

// queue must be called with mu held.
func (st *Store) queue(snap *Session) {
	if _, ok := st.pending[snap.CallID]; !ok {
		st.order = append(st.order, snap.CallID)
	}
	st.pending[snap.CallID] = snap
	select {
	case st.kick <- struct{}{}:
	default:
	}
}

// Close flushes pending writes and closes the backend.
func (st *Store) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	st.mu.Unlock()
	select {
	case st.kick <- struct{}{}:
	default:
	}

	<-st.done
	return st.backend.Close()
}

// next blocks until a snapshot is pending. It reports false once the store
// is closed and nothing is left to write.
func (st *Store) next() (*Session, bool) {
	for {
		st.mu.Lock()
		if len(st.order) > 0 {
			id := st.order[0]
			st.order = st.order[1:]
			s := st.pending[id]
			delete(st.pending, id)
			st.mu.Unlock()
			return s, true
		}
		closed := st.closed
		st.mu.Unlock()
		if closed {
			return nil, false
		}
		<-st.kick
	}
}

func (st *Store) writer() {
	defer close(st.done)
	for {
		s, ok := st.next()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), st.cfg.WriteTimeout)
		err := st.backend.Save(ctx, s)
		cancel()
		if err != nil {
			err = fmt.Errorf("save session %s: %w", s.CallID, err)
			log.Error("Durable write failed", "call", s.CallID, "err", err)
		}
		if st.cfg.OnWrite != nil {
			st.cfg.OnWrite(err)
		}
	}
}

// MemoryBackend keeps durable copies in process. It is used when no Redis
// address is configured.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string]*Session
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: map[string]*Session{}}
}

func (m *MemoryBackend) Load(_ context.Context, callID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryBackend) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.CallID] = s.Clone()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
