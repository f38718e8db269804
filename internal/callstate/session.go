package callstate

import (
	"time"

	"github.com/google/uuid"

	"callvox/internal/nlu"
)

// Phase is a step of the call dialog.
type Phase string

const (
	Authenticating         Phase = "authenticating"
	PinAuth                Phase = "pin_auth"
	ProviderSelection      Phase = "provider_selection"
	OccurrenceSelection    Phase = "occurrence_selection"
	NoOccurrencesFound     Phase = "no_occurrences_found"
	JobOptions             Phase = "job_options"
	CollectReason          Phase = "collect_reason"
	CollectDay             Phase = "collect_day"
	CollectTime            Phase = "collect_time"
	ConfirmDatetime        Phase = "confirm_datetime"
	ConfirmLeaveOpen       Phase = "confirm_leave_open"
	RepresentativeTransfer Phase = "representative_transfer"
	TransferQueue          Phase = "transfer_queue"
	Goodbye                Phase = "goodbye"
)

// Ref points at a record owned by the record store.
type Ref struct {
	ID      string `json:"id"`
	Display string `json:"display"`
}

// Occurrence is one scheduled shift of a job.
type Occurrence struct {
	ID          string    `json:"id"`
	Display     string    `json:"display"`
	Start       time.Time `json:"start"`
	JobTemplate *Ref      `json:"job_template,omitempty"`
	Patient     *Ref      `json:"patient,omitempty"`
}

type Transfer struct {
	To          string    `json:"to"`
	InitiatedAt time.Time `json:"initiated_at"`
}

// Op names a collaborator request whose answer the dialog is waiting for.
type Op string

const (
	OpLookupPhone     Op = "lookup_phone"
	OpLookupPIN       Op = "lookup_pin"
	OpLoadOccurrences Op = "load_occurrences"
	OpSubmit          Op = "submit_change"
	OpTransfer        Op = "transfer"
	OpEnqueue         Op = "enqueue"
)

// Buffers hold partial input between turns.
type Buffers struct {
	Digits string     `json:"digits,omitempty"`
	Day    *nlu.Day   `json:"day,omitempty"`
	Time   *nlu.Clock `json:"time,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

type ChangeKind string

const (
	CallOff    ChangeKind = "call_off"
	Reschedule ChangeKind = "reschedule"
)

// Change is a caller request submitted to the record store.
type Change struct {
	Kind         ChangeKind `json:"kind"`
	OccurrenceID string     `json:"occurrence_id"`
	EmployeeID   string     `json:"employee_id"`
	Reason       string     `json:"reason,omitempty"`
	Day          *nlu.Day   `json:"day,omitempty"`
	Time         *nlu.Clock `json:"time,omitempty"`
}

// Session is the state of one call. It is only mutated from the call's
// event loop.
type Session struct {
	SessionID string `json:"session_id"`
	CallID    string `json:"call_id"`
	StreamID  string `json:"stream_id"`
	Caller    string `json:"caller"`

	Phase Phase `json:"phase"`

	Employee    *Ref         `json:"employee,omitempty"`
	Provider    *Ref         `json:"provider,omitempty"`
	JobTemplate *Ref         `json:"job_template,omitempty"`
	Patient     *Ref         `json:"patient,omitempty"`
	Occurrence  *Occurrence  `json:"occurrence,omitempty"`
	Providers   []Ref        `json:"providers,omitempty"`
	Occurrences []Occurrence `json:"occurrences,omitempty"`

	Attempts        map[Phase]int `json:"attempts"`
	PendingTransfer *Transfer     `json:"pending_transfer,omitempty"`
	Buffers         Buffers       `json:"buffers"`
	// Awaiting is set while a collaborator request is in flight; keypad
	// input is ignored until it resolves.
	Awaiting Op `json:"awaiting,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(callID, streamID, caller string, now time.Time) *Session {
	return &Session{
		SessionID: uuid.NewString(),
		CallID:    callID,
		StreamID:  streamID,
		Caller:    caller,
		Phase:     Authenticating,
		Attempts:  map[Phase]int{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Enter moves the session to p and resets the attempt counter of p.
// Edge validation is the caller's job.
func (s *Session) Enter(p Phase, now time.Time) {
	if s.Attempts == nil {
		s.Attempts = map[Phase]int{}
	}
	s.Phase = p
	s.Attempts[p] = 0
	s.Buffers.Digits = ""
	s.UpdatedAt = now
}

// Fail counts one invalid input in the current phase and returns the new count.
func (s *Session) Fail(now time.Time) int {
	if s.Attempts == nil {
		s.Attempts = map[Phase]int{}
	}
	s.Attempts[s.Phase]++
	s.UpdatedAt = now
	return s.Attempts[s.Phase]
}

func (s *Session) AttemptsIn(p Phase) int {
	return s.Attempts[p]
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	c := *s
	c.Employee = cloneRef(s.Employee)
	c.Provider = cloneRef(s.Provider)
	c.JobTemplate = cloneRef(s.JobTemplate)
	c.Patient = cloneRef(s.Patient)
	if s.Occurrence != nil {
		o := cloneOccurrence(*s.Occurrence)
		c.Occurrence = &o
	}
	if s.Providers != nil {
		c.Providers = append([]Ref(nil), s.Providers...)
	}
	if s.Occurrences != nil {
		c.Occurrences = make([]Occurrence, len(s.Occurrences))
		for i, o := range s.Occurrences {
			c.Occurrences[i] = cloneOccurrence(o)
		}
	}
	c.Attempts = make(map[Phase]int, len(s.Attempts))
	for k, v := range s.Attempts {
		c.Attempts[k] = v
	}
	if s.PendingTransfer != nil {
		t := *s.PendingTransfer
		c.PendingTransfer = &t
	}
	if s.Buffers.Day != nil {
		d := *s.Buffers.Day
		c.Buffers.Day = &d
	}
	if s.Buffers.Time != nil {
		t := *s.Buffers.Time
		c.Buffers.Time = &t
	}
	return &c
}

func cloneRef(r *Ref) *Ref {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func cloneOccurrence(o Occurrence) Occurrence {
	o.JobTemplate = cloneRef(o.JobTemplate)
	o.Patient = cloneRef(o.Patient)
	return o
}
