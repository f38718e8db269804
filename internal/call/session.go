// Package call runs one phone call per media stream: it reads the
// transport, feeds the dialog machine, carries out its instructions and
// paces audio back to the caller.
package call

import (
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"callvox/internal/audio"
	cs "callvox/internal/callstate"
	"callvox/internal/fsm"
	"callvox/internal/metrics"
	"callvox/internal/notify"
	"callvox/internal/records"
	"callvox/internal/speech"
	"callvox/internal/transfer"
	"callvox/internal/tts"
	"callvox/pkg/protocol"
)

var (
	ErrSessionExists = errors.New("call already has a live session")
	ErrSessionEnded  = errors.New("session has ended")
	errNoCallControl = errors.New("call control is not configured")
)

const msgTimeLimit = "We've reached the time limit for this call. Please call back if you need more help. Goodbye."

// Transport is one media-stream connection.
type Transport interface {
	MediaSink
	Read() protocol.Income
	Close() error
}

type Config struct {
	FrameInterval       time.Duration `yaml:"frame_interval"`
	MaxCallDuration     time.Duration `yaml:"max_call_duration"`
	InputTimeout        time.Duration `yaml:"input_timeout"`
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`
	// InboundRate caps media messages per second; 0 disables the cap.
	InboundRate  float64         `yaml:"inbound_rate"`
	InboundBurst int             `yaml:"inbound_burst"`
	VAD          audio.VADConfig `yaml:"vad"`
}

func DefaultConfig() Config {
	return Config{
		FrameInterval:       20 * time.Millisecond,
		MaxCallDuration:     15 * time.Minute,
		InputTimeout:        8 * time.Second,
		CollaboratorTimeout: 10 * time.Second,
		InboundRate:         100,
		InboundBurst:        200,
		VAD:                 audio.DefaultVAD(),
	}
}

type SpeechProcessor interface {
	Process(ctx context.Context, in speech.Input) speech.Result
}

// Deps are shared by every session and must be safe for concurrent use.
type Deps struct {
	Store    *cs.Store
	Machine  *fsm.Machine
	Router   *fsm.Router
	Speech   SpeechProcessor
	TTS      tts.Synthesizer
	Records  records.Store
	Calls    transfer.Controller
	Notifier notify.Notifier
	Registry *Registry
	Metrics  *metrics.Collector
	Assets   Assets
}

// Info is a point-in-time view of a session for operators.
type Info struct {
	SessionID       string    `json:"session_id"`
	CallID          string    `json:"call_id"`
	Caller          string    `json:"caller"`
	Phase           cs.Phase  `json:"phase"`
	Listening       bool      `json:"listening"`
	PendingTransfer bool      `json:"pending_transfer"`
	Started         time.Time `json:"started"`
}

// segment is one utterance and what follows it once it has played.
type segment struct {
	id       uint64
	text     string
	after    []fsm.Instruction
	turn     uint64
	fallback bool
}

func (g *segment) collect() *fsm.CollectSpeech {
	for _, in := range g.after {
		if c, ok := in.(fsm.CollectSpeech); ok {
			return &c
		}
	}
	return nil
}

type timerKind uint

const (
	timerInput timerKind = iota
	timerRecording
	timerMaxCall
)

// Session owns one call. All state is touched by the Run goroutine only;
// collaborators, timers and playback report back through events.
type Session struct {
	cfg  Config
	deps Deps
	conn Transport

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan event
	stopped chan struct{}
	wg      sync.WaitGroup
	log     *log.Logger

	player    *Player
	collector *speech.Collector

	state      *cs.Session
	registered bool
	ending     bool

	utter   uint64
	current *segment
	queue   []*segment

	inputGen   uint64
	inputTimer *time.Timer
	recTimer   *time.Timer
	maxTimer   *time.Timer

	infoMu sync.Mutex
	info   Info
}

func NewSession(conn Transport, deps Deps, cfg Config) *Session {
	def := DefaultConfig()
	if cfg.MaxCallDuration <= 0 {
		cfg.MaxCallDuration = def.MaxCallDuration
	}
	if cfg.InputTimeout <= 0 {
		cfg.InputTimeout = def.InputTimeout
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = def.CollaboratorTimeout
	}
	if cfg.VAD == (audio.VADConfig{}) {
		cfg.VAD = def.VAD
	}
	return &Session{
		cfg:       cfg,
		deps:      deps,
		conn:      conn,
		events:    make(chan event, 64),
		stopped:   make(chan struct{}),
		log:       log.Default(),
		player:    NewPlayer(conn, cfg.FrameInterval),
		collector: speech.NewCollector(cfg.VAD),
	}
}

func (s *Session) Info() Info {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	return s.info
}

// CancelTransfer withdraws a pending representative transfer. It succeeds
// when nothing is pending.
func (s *Session) CancelTransfer(ctx context.Context) error {
	done := make(chan struct{})
	c := control{done: done, fn: func() {
		if s.state == nil {
			return
		}
		before := s.state.Phase
		ins := s.deps.Machine.CancelTransfer(s.state)
		s.handled(before)
		s.execute(ins, true)
	}}

	select {
	case s.events <- c:
	case <-s.stopped:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serves the call until the stream stops, the connection drops, the
// dialog hangs up or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.teardown()

	s.wg.Add(1)
	go s.read()

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case ev := <-s.events:
			done, err := s.handle(ev)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (s *Session) read() {
	defer s.wg.Done()

	var limiter *rate.Limiter
	if s.cfg.InboundRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.InboundRate), max(s.cfg.InboundBurst, 1))
	}

	for {
		in := s.conn.Read()
		if _, ok := in.Event.(protocol.Media); ok && limiter != nil && !limiter.Allow() {
			s.deps.Metrics.Dropped()
			continue
		}
		if !s.post(inbound{in: in}) || in.Kind == protocol.CONN_CLOSE {
			return
		}
	}
}

func (s *Session) post(ev event) bool {
	if ev == nil {
		return true
	}
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) handle(ev event) (bool, error) {
	switch ev := ev.(type) {
	case inbound:
		done, err := s.inbound(ev.in)
		s.updateInfo()
		return done || s.ending, err
	case synthesized:
		s.synthesized(ev)
	case played:
		s.played(ev.utter)
	case cuePlayed:
		s.cuePlayed(ev.turn)
	case processed:
		s.processed(ev)
	case dialog:
		s.dispatch(ev.ev, false)
	case timerFired:
		s.timerFired(ev)
	case control:
		ev.fn()
		close(ev.done)
	}
	s.updateInfo()
	return s.ending, nil
}

func (s *Session) inbound(in protocol.Income) (bool, error) {
	switch in.Kind {
	case protocol.CONN_CLOSE:
		s.log.Info("Media stream closed")
		return true, nil
	case protocol.READ_FAILURE:
		s.log.Warn("Dropping malformed message", "err", in.Err)
		return false, nil
	}

	switch e := in.Event.(type) {
	case protocol.Connected, protocol.Mark:
	case protocol.Start:
		if err := s.start(e); err != nil {
			return true, err
		}
	case protocol.Media:
		s.media(e)
	case protocol.DTMF:
		s.dtmf(e.Digit)
	case protocol.Stop:
		s.log.Info("Media stream stopped")
		if s.state != nil {
			s.dispatch(fsm.Hangup{}, false)
		}
		return true, nil
	}
	return false, nil
}

func (s *Session) start(e protocol.Start) error {
	if s.state != nil {
		s.log.Warn("Ignoring repeated start", "stream", e.StreamID)
		return nil
	}

	callID := e.OwnerID()
	if err := s.deps.Registry.Add(callID, s); err != nil {
		s.log.Warn("Rejecting stream", "call", callID, "err", err)
		return err
	}
	s.registered = true

	st, resumed, err := s.deps.Store.Open(s.ctx, callID, e.StreamID, e.Caller)
	if err != nil {
		s.deps.Registry.Remove(callID, s)
		s.registered = false
		return err
	}
	st.StreamID = e.StreamID
	s.state = st
	s.log = log.With("call", callID, "stream", e.StreamID, "session", st.SessionID)
	s.log.Info("Call started", "caller", e.Caller, "resumed", resumed, "phase", st.Phase)

	s.deps.Metrics.CallStarted()
	s.maxTimer = time.AfterFunc(s.cfg.MaxCallDuration, func() {
		s.post(timerFired{kind: timerMaxCall})
	})
	s.dispatch(fsm.CallStarted{Resumed: resumed}, false)
	return nil
}

func (s *Session) media(m protocol.Media) {
	if s.state == nil || (m.Track != "" && m.Track != "inbound") {
		return
	}
	if s.collector.Feed(m.Payload) {
		s.process()
	}
}

func (s *Session) dtmf(digit byte) {
	if s.state == nil {
		return
	}
	route := s.deps.Router.Route(s.state, digit, s.collector.IsRecording())
	switch route.Kind {
	case fsm.Ignore:
		s.log.Debug("Ignoring digit", "digit", string(digit), "phase", s.state.Phase)
	case fsm.Buffered:
		s.armInput()
	case fsm.StopRecording:
		if s.collector.Stop(s.collector.Turn(), audio.StopDigit) {
			s.process()
		}
	case fsm.Dispatch:
		s.disarmInput()
		s.dispatch(route.Event, true)
	}
}

// dispatch feeds ev to the machine. Responses to the caller's own input
// interrupt whatever is playing; everything else queues behind it.
func (s *Session) dispatch(ev fsm.Event, interrupt bool) {
	before := s.state.Phase
	ins := s.deps.Machine.Handle(s.state, ev)
	s.handled(before)
	s.execute(ins, interrupt)
}

func (s *Session) handled(before cs.Phase) {
	if s.state.Phase != before {
		s.log.Info("Phase changed", "from", before, "to", s.state.Phase)
		s.deps.Metrics.Transition(string(before), string(s.state.Phase))
		s.disarmInput()
	}
	s.deps.Store.Persist(s.state)
}

func (s *Session) process() {
	stopTimer(&s.recTimer)
	turn := s.collector.Turn()
	in := s.collector.Input()
	s.log.Debug("Recording finished", "reason", in.Stop, "bytes", len(in.Audio), "voiced", in.Voiced)

	s.async(2*s.cfg.CollaboratorTimeout, func(ctx context.Context) event {
		start := time.Now()
		res := s.deps.Speech.Process(ctx, in)
		s.deps.Metrics.Collaborator("speech", time.Since(start), res.Err)
		return processed{turn: turn, result: res}
	})
}

func (s *Session) processed(ev processed) {
	if !s.collector.Finish(ev.turn) {
		return
	}
	res := ev.result
	res.Turn = ev.turn
	s.deps.Metrics.SpeechOutcome(string(res.Outcome))
	s.log.Info("Speech processed", "outcome", res.Outcome, "transcript", res.Transcript, "err", res.Err)

	s.dispatch(fsm.SpeechResult{Result: res}, true)
	s.next()
}

func (s *Session) timerFired(ev timerFired) {
	switch ev.kind {
	case timerInput:
		if ev.gen != s.inputGen || s.state == nil {
			return
		}
		s.log.Debug("Input timed out", "phase", s.state.Phase)
		s.dispatch(fsm.InputTimeout{}, true)
	case timerRecording:
		if s.collector.Stop(ev.gen, audio.StopTimeout) {
			s.process()
		}
	case timerMaxCall:
		s.log.Warn("Call time limit reached", "limit", s.cfg.MaxCallDuration)
		s.execute([]fsm.Instruction{fsm.Say{Text: msgTimeLimit}, fsm.EndCall{}}, true)
	}
}

func (s *Session) armInput() {
	s.disarmInput()
	gen := s.inputGen
	s.inputTimer = time.AfterFunc(s.cfg.InputTimeout, func() {
		s.post(timerFired{kind: timerInput, gen: gen})
	})
}

func (s *Session) disarmInput() {
	s.inputGen++
	stopTimer(&s.inputTimer)
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// async runs fn off the loop and posts its event.
func (s *Session) async(timeout time.Duration, fn func(ctx context.Context) event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()
		s.post(fn(ctx))
	}()
}

func (s *Session) updateInfo() {
	if s.state == nil {
		return
	}
	s.infoMu.Lock()
	s.info = Info{
		SessionID:       s.state.SessionID,
		CallID:          s.state.CallID,
		Caller:          s.state.Caller,
		Phase:           s.state.Phase,
		Listening:       s.collector.IsRecording(),
		PendingTransfer: s.state.PendingTransfer != nil,
		Started:         s.state.CreatedAt,
	}
	s.infoMu.Unlock()
}

func (s *Session) teardown() {
	defer close(s.stopped)
	s.disarmInput()
	stopTimer(&s.recTimer)
	stopTimer(&s.maxTimer)
	s.collector.Abandon()
	s.player.Stop()

	s.cancel()
	if err := s.conn.Close(); err != nil {
		s.log.Debug("Close transport", "err", err)
	}
	s.wg.Wait()

	if s.state != nil {
		s.deps.Store.Release(s.state)
		s.deps.Metrics.CallEnded(string(s.state.Phase))
		s.log.Info("Call ended", "phase", s.state.Phase)
	}
	if s.registered {
		s.deps.Registry.Remove(s.state.CallID, s)
	}
}
