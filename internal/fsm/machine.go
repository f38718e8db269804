// Package fsm is the call dialog: a phase engine that turns events into
// state changes and instructions, and the keypad router feeding it. Nothing
// here performs I/O.
package fsm

import (
	"fmt"
	log "log/slog"
	"time"

	cs "callvox/internal/callstate"
	"callvox/internal/nlu"
	"callvox/internal/speech"
)

// maxListed is how many shifts a menu reads out; 9 is reserved.
const maxListed = 8

type Config struct {
	MaxAttempts int `yaml:"max_attempts"`
	// Representative is the number escalations are transferred to.
	Representative string         `yaml:"representative"`
	PinMinDigits   int            `yaml:"pin_min_digits"`
	PinMaxDigits   int            `yaml:"pin_max_digits"`
	Location       *time.Location `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		PinMinDigits: 4,
		PinMaxDigits: 8,
		Location:     time.UTC,
	}
}

type Machine struct {
	cfg Config
	now func() time.Time
}

func NewMachine(cfg Config) *Machine {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.PinMinDigits <= 0 {
		cfg.PinMinDigits = def.PinMinDigits
	}
	if cfg.PinMaxDigits < cfg.PinMinDigits {
		cfg.PinMaxDigits = max(def.PinMaxDigits, cfg.PinMinDigits)
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	return &Machine{cfg: cfg, now: time.Now}
}

// WithClock returns a copy of m reading the time from now.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	c := *m
	c.now = now
	return &c
}

func (m *Machine) Config() Config { return m.cfg }

// Handle applies ev to s and returns the side effects to carry out.
func (m *Machine) Handle(s *cs.Session, ev Event) []Instruction {
	switch ev := ev.(type) {
	case CallStarted:
		return m.started(s, ev)
	case EmployeeResolved:
		return m.employeeResolved(s, ev)
	case OccurrencesLoaded:
		return m.occurrencesLoaded(s, ev)
	case Selection:
		return m.selection(s, ev.N)
	case CodeEntered:
		return m.codeEntered(s, ev.Code)
	case Invalid:
		return m.retry(s, msgNotRecognized)
	case InputTimeout:
		s.Buffers.Digits = ""
		return m.retry(s, msgNoResponse)
	case SpeechResult:
		return m.speechResult(s, ev.Result)
	case TransferResult:
		return m.transferResult(s, ev.OK)
	case ChangeSaved:
		return m.changeSaved(s)
	case CollaboratorFailed:
		return m.collaboratorFailed(s, ev)
	case Hangup:
		s.Awaiting = ""
		return nil
	}
	log.Error("Unhandled event", "event", fmt.Sprintf("%T", ev))
	return nil
}

// CancelTransfer withdraws a pending transfer. With nothing pending it
// changes nothing and succeeds.
func (m *Machine) CancelTransfer(s *cs.Session) []Instruction {
	if s.PendingTransfer == nil {
		return nil
	}
	s.PendingTransfer = nil
	if s.Awaiting == cs.OpTransfer || s.Awaiting == cs.OpEnqueue {
		s.Awaiting = ""
	}

	if s.Phase == cs.RepresentativeTransfer && s.Occurrence != nil {
		m.enter(s, cs.JobOptions)
		return m.withMessage(msgTransferCancel, m.Prompt(s))
	}
	m.enter(s, cs.Goodbye)
	return m.withMessage(msgTransferCancel, m.Prompt(s))
}

// Options returns the digits that are valid selections in the current phase.
func (m *Machine) Options(s *cs.Session) []int {
	moreProviders := len(s.Providers) > 1
	switch s.Phase {
	case cs.ProviderSelection:
		return seq(1, min(len(s.Providers), 9))
	case cs.OccurrenceSelection:
		opts := seq(1, min(len(s.Occurrences), maxListed))
		if moreProviders {
			opts = append(opts, 9)
		}
		return opts
	case cs.NoOccurrencesFound:
		if moreProviders {
			return []int{1, 2, 9}
		}
		return []int{1, 9}
	case cs.JobOptions:
		if len(s.Occurrences) > 1 {
			return []int{1, 2, 3, 9}
		}
		return []int{1, 2, 3}
	case cs.ConfirmDatetime, cs.ConfirmLeaveOpen:
		return []int{1, 2}
	}
	return nil
}

// Prompt re-states what the current phase is asking for.
func (m *Machine) Prompt(s *cs.Session) []Instruction {
	switch s.Phase {
	case cs.Authenticating:
		return nil
	case cs.PinAuth:
		return []Instruction{Prompt{Text: pinPrompt()}}
	case cs.ProviderSelection:
		return []Instruction{Prompt{Text: providerPrompt(s.Providers)}}
	case cs.OccurrenceSelection:
		return []Instruction{Prompt{Text: occurrencePrompt(s.Occurrences, len(s.Providers) > 1)}}
	case cs.NoOccurrencesFound:
		return []Instruction{Prompt{Text: noOccurrencesPrompt(len(s.Providers) > 1)}}
	case cs.JobOptions:
		return []Instruction{Prompt{Text: jobOptionsPrompt(s.Occurrence, len(s.Occurrences) > 1)}}
	case cs.CollectReason:
		return []Instruction{CollectSpeech{Prompt: reasonPrompt, Mode: speech.ModeFreeText}}
	case cs.CollectDay:
		if s.Buffers.Time != nil {
			return []Instruction{CollectSpeech{Prompt: dayForTimePrompt(s.Buffers.Time), Mode: speech.ModeDateTime}}
		}
		return []Instruction{CollectSpeech{Prompt: dayPrompt, Mode: speech.ModeDateTime}}
	case cs.CollectTime:
		return []Instruction{CollectSpeech{Prompt: timePrompt(s.Buffers.Day), Mode: speech.ModeDateTime}}
	case cs.ConfirmDatetime:
		return []Instruction{Prompt{Text: confirmDatetimePrompt(s.Buffers.Day, s.Buffers.Time)}}
	case cs.ConfirmLeaveOpen:
		return []Instruction{Prompt{Text: confirmLeaveOpenPrompt(s.Buffers.Reason)}}
	case cs.RepresentativeTransfer:
		return []Instruction{Say{Text: msgConnecting}}
	case cs.TransferQueue:
		return []Instruction{Say{Text: msgQueue}, PlayHold{}}
	case cs.Goodbye:
		return []Instruction{Say{Text: msgGoodbye}, EndCall{}}
	}
	return nil
}

func (m *Machine) started(s *cs.Session, ev CallStarted) []Instruction {
	if ev.Resumed && s.Phase != cs.Authenticating {
		// Requests in flight died with the old connection.
		s.Awaiting = ""
		if s.Phase == cs.RepresentativeTransfer && s.PendingTransfer != nil {
			return m.transfer(s)
		}
		return m.Prompt(s)
	}

	if s.Caller == "" {
		m.enter(s, cs.PinAuth)
		return m.withMessage(msgUnknownCaller, m.Prompt(s))
	}
	s.Awaiting = cs.OpLookupPhone
	return []Instruction{Say{Text: msgGreeting}, LookupByPhone{Phone: s.Caller}}
}

func (m *Machine) employeeResolved(s *cs.Session, ev EmployeeResolved) []Instruction {
	if s.Phase != cs.Authenticating && s.Phase != cs.PinAuth {
		return nil
	}
	s.Awaiting = ""

	if ev.Employee == nil {
		if s.Phase == cs.Authenticating {
			m.enter(s, cs.PinAuth)
			return m.withMessage(msgUnknownCaller, m.Prompt(s))
		}
		return m.retry(s, msgPinNotFound)
	}

	emp := *ev.Employee
	s.Employee = &emp
	s.Providers = append([]cs.Ref(nil), ev.Providers...)

	switch len(s.Providers) {
	case 0:
		s.Occurrences = nil
		m.enter(s, cs.NoOccurrencesFound)
		return m.Prompt(s)
	case 1:
		return m.chooseProvider(s, 0)
	}
	m.enter(s, cs.ProviderSelection)
	return m.Prompt(s)
}

func (m *Machine) chooseProvider(s *cs.Session, i int) []Instruction {
	p := s.Providers[i]
	s.Provider = &p
	s.Occurrence = nil
	s.Awaiting = cs.OpLoadOccurrences
	return []Instruction{LoadOccurrences{EmployeeID: s.Employee.ID, ProviderID: p.ID}}
}

func (m *Machine) occurrencesLoaded(s *cs.Session, ev OccurrencesLoaded) []Instruction {
	if s.Awaiting != cs.OpLoadOccurrences {
		return nil
	}
	s.Awaiting = ""
	s.Occurrences = append([]cs.Occurrence(nil), ev.Occurrences...)

	switch len(s.Occurrences) {
	case 0:
		m.enter(s, cs.NoOccurrencesFound)
		return m.Prompt(s)
	case 1:
		m.chooseOccurrence(s, 0)
		m.enter(s, cs.JobOptions)
		return m.Prompt(s)
	}
	m.enter(s, cs.OccurrenceSelection)
	return m.Prompt(s)
}

func (m *Machine) chooseOccurrence(s *cs.Session, i int) {
	o := s.Occurrences[i]
	s.Occurrence = &o
	s.JobTemplate = o.JobTemplate
	s.Patient = o.Patient
}

func (m *Machine) selection(s *cs.Session, n int) []Instruction {
	if !contains(m.Options(s), n) {
		return m.retry(s, msgNotRecognized)
	}

	switch s.Phase {
	case cs.ProviderSelection:
		return m.chooseProvider(s, n-1)

	case cs.OccurrenceSelection:
		if n == 9 {
			m.enter(s, cs.ProviderSelection)
			return m.Prompt(s)
		}
		m.chooseOccurrence(s, n-1)
		m.enter(s, cs.JobOptions)
		return m.Prompt(s)

	case cs.NoOccurrencesFound:
		switch n {
		case 1:
			return m.escalate(s, msgConnecting)
		case 2:
			m.enter(s, cs.ProviderSelection)
			return m.Prompt(s)
		}
		m.enter(s, cs.Goodbye)
		return m.Prompt(s)

	case cs.JobOptions:
		switch n {
		case 1:
			s.Buffers.Reason = ""
			m.enter(s, cs.CollectReason)
		case 2:
			s.Buffers.Day, s.Buffers.Time = nil, nil
			m.enter(s, cs.CollectDay)
		case 3:
			return m.escalate(s, msgConnecting)
		case 9:
			m.enter(s, cs.OccurrenceSelection)
		}
		return m.Prompt(s)

	case cs.ConfirmDatetime:
		if n == 2 {
			s.Buffers.Day, s.Buffers.Time = nil, nil
			m.enter(s, cs.CollectDay)
			return m.Prompt(s)
		}
		return m.submit(s, cs.Change{
			Kind: cs.Reschedule,
			Day:  s.Buffers.Day,
			Time: s.Buffers.Time,
		})

	case cs.ConfirmLeaveOpen:
		if n == 2 {
			m.enter(s, cs.JobOptions)
			return m.Prompt(s)
		}
		return m.submit(s, cs.Change{Kind: cs.CallOff, Reason: s.Buffers.Reason})
	}
	return nil
}

func (m *Machine) submit(s *cs.Session, c cs.Change) []Instruction {
	if s.Occurrence != nil {
		c.OccurrenceID = s.Occurrence.ID
	}
	if s.Employee != nil {
		c.EmployeeID = s.Employee.ID
	}
	s.Awaiting = cs.OpSubmit
	return []Instruction{Say{Text: msgSaving}, SubmitChange{Change: c}}
}

func (m *Machine) changeSaved(s *cs.Session) []Instruction {
	if s.Awaiting != cs.OpSubmit {
		return nil
	}
	s.Awaiting = ""

	var out []Instruction
	switch s.Phase {
	case cs.ConfirmDatetime:
		out = append(out, Say{Text: rescheduledMessage(s.Buffers.Day, s.Buffers.Time)})
	case cs.ConfirmLeaveOpen:
		out = append(out, Say{Text: msgCalledOff})
		if s.Occurrence != nil {
			out = append(out, NotifyOpen{OccurrenceID: s.Occurrence.ID})
		}
	default:
		return nil
	}
	m.enter(s, cs.Goodbye)
	return append(out, m.Prompt(s)...)
}

func (m *Machine) codeEntered(s *cs.Session, code string) []Instruction {
	if s.Phase != cs.PinAuth {
		return m.retry(s, msgNotRecognized)
	}
	if len(code) < m.cfg.PinMinDigits || len(code) > m.cfg.PinMaxDigits {
		return m.retry(s, fmt.Sprintf(msgPinFormat, m.cfg.PinMinDigits, m.cfg.PinMaxDigits))
	}
	s.Awaiting = cs.OpLookupPIN
	return []Instruction{LookupByPIN{PIN: code}}
}

func (m *Machine) speechResult(s *cs.Session, r speech.Result) []Instruction {
	if !speechPhase(s.Phase) {
		return nil
	}

	switch r.Outcome {
	case speech.Complete, speech.DayOnly, speech.TimeOnly, speech.VagueTime:
	default:
		msg := Respond(r.Outcome).Message
		if r.Outcome == speech.Unclear {
			msg = unclearMessage(r.Err)
		}
		return m.retry(s, msg)
	}

	if s.Phase == cs.CollectReason {
		if r.Outcome != speech.Complete || r.Transcript == "" {
			return m.retry(s, Respond(speech.Unclear).Message)
		}
		s.Buffers.Reason = r.Transcript
		m.enter(s, cs.ConfirmLeaveOpen)
		return m.Prompt(s)
	}
	return m.dateTime(s, r)
}

func (m *Machine) dateTime(s *cs.Session, r speech.Result) []Instruction {
	hadTime := s.Buffers.Time != nil
	if r.Day != nil {
		d := *r.Day
		s.Buffers.Day = &d
	}
	if r.Clock != nil {
		c := *r.Clock
		s.Buffers.Time = &c
	}

	day, clock := s.Buffers.Day, s.Buffers.Time
	if day != nil && clock != nil {
		if nlu.At(*day, *clock, m.cfg.Location).Before(m.now()) {
			s.Buffers.Time = nil
			return m.retry(s, unclearMessage(nlu.ErrInPast))
		}
		m.enter(s, cs.ConfirmDatetime)
		return m.Prompt(s)
	}

	if r.Outcome == speech.VagueTime && (s.Phase == cs.CollectTime || day == nil) {
		return m.retry(s, msgSpecificTime)
	}

	switch {
	case day != nil && s.Phase == cs.CollectDay:
		m.enter(s, cs.CollectTime)
		if r.Outcome == speech.VagueTime {
			return m.withMessage(msgSpecificTime, m.Prompt(s))
		}
		return m.Prompt(s)
	case day == nil && s.Phase == cs.CollectTime:
		m.enter(s, cs.CollectDay)
		return m.Prompt(s)
	case s.Phase == cs.CollectTime:
		return m.retry(s, msgNeedTime)
	case !hadTime:
		// A first answer with only the time: keep it and ask for the day.
		return m.Prompt(s)
	}
	return m.retry(s, msgNeedDay)
}

func (m *Machine) transferResult(s *cs.Session, ok bool) []Instruction {
	if s.Phase != cs.RepresentativeTransfer || s.Awaiting != cs.OpTransfer {
		return nil
	}
	s.Awaiting = ""
	if ok {
		// The call has been redirected; the far end stops the stream.
		s.PendingTransfer = nil
		m.enter(s, cs.Goodbye)
		return nil
	}
	m.enter(s, cs.TransferQueue)
	s.Awaiting = cs.OpEnqueue
	return append([]Instruction{Enqueue{}}, m.Prompt(s)...)
}

func (m *Machine) collaboratorFailed(s *cs.Session, ev CollaboratorFailed) []Instruction {
	if ev.Op != s.Awaiting {
		log.Debug("Ignoring stale failure", "op", ev.Op, "awaiting", s.Awaiting)
		return nil
	}
	s.Awaiting = ""

	switch ev.Op {
	case cs.OpLookupPhone:
		m.enter(s, cs.PinAuth)
		return m.withMessage(msgTrouble, m.Prompt(s))

	case cs.OpLookupPIN:
		return m.retry(s, msgTrouble)

	case cs.OpLoadOccurrences:
		if s.Phase != cs.Authenticating && s.Phase != cs.PinAuth {
			return m.retry(s, msgTrouble)
		}
		// The provider was picked automatically, so there is no menu to
		// repeat; try the load again.
		if n := s.Fail(m.now()); n >= m.cfg.MaxAttempts {
			return m.escalate(s, msgEscalating)
		}
		return append([]Instruction{Say{Text: msgTrouble}}, m.chooseProvider(s, indexOf(s.Providers, s.Provider))...)

	case cs.OpSubmit:
		return m.retry(s, msgSubmitFailed)

	case cs.OpTransfer:
		s.Awaiting = cs.OpTransfer
		return m.transferResult(s, false)

	case cs.OpEnqueue:
		s.PendingTransfer = nil
		m.enter(s, cs.Goodbye)
		return m.withMessage(msgTrouble, m.Prompt(s))
	}
	return nil
}

// retry counts one invalid input in the current phase, re-prompts, and
// escalates once the attempts are used up.
func (m *Machine) retry(s *cs.Session, msg string) []Instruction {
	if !Retryable(s.Phase) {
		return nil
	}
	if n := s.Fail(m.now()); n >= m.cfg.MaxAttempts {
		return m.escalate(s, msgEscalating)
	}
	return m.withMessage(msg, m.Prompt(s))
}

func (m *Machine) escalate(s *cs.Session, msg string) []Instruction {
	m.enter(s, cs.RepresentativeTransfer)
	s.PendingTransfer = &cs.Transfer{To: m.cfg.Representative, InitiatedAt: m.now()}
	return append([]Instruction{Say{Text: msg}}, m.transfer(s)...)
}

func (m *Machine) transfer(s *cs.Session) []Instruction {
	s.Awaiting = cs.OpTransfer
	return []Instruction{Transfer{To: s.PendingTransfer.To, Caller: s.Caller}}
}

func (m *Machine) enter(s *cs.Session, p cs.Phase) {
	if !CanTransition(s.Phase, p) {
		log.Error("Illegal phase transition", "from", s.Phase, "to", p, "call", s.CallID)
		return
	}
	log.Debug("Phase", "call", s.CallID, "from", s.Phase, "to", p)
	s.Enter(p, m.now())
}

// withMessage puts msg in front of the first spoken instruction so both play
// as one utterance.
func (m *Machine) withMessage(msg string, ins []Instruction) []Instruction {
	if msg == "" {
		return ins
	}
	for i, in := range ins {
		switch v := in.(type) {
		case Say:
			ins[i] = Say{Text: msg + " " + v.Text}
			return ins
		case Prompt:
			ins[i] = Prompt{Text: msg + " " + v.Text}
			return ins
		case CollectSpeech:
			v.Prompt = msg + " " + v.Prompt
			ins[i] = v
			return ins
		}
	}
	return append([]Instruction{Say{Text: msg}}, ins...)
}

func seq(from, to int) []int {
	if to < from {
		return nil
	}
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func indexOf(refs []cs.Ref, r *cs.Ref) int {
	if r == nil {
		return 0
	}
	for i, v := range refs {
		if v.ID == r.ID {
			return i
		}
	}
	return 0
}
