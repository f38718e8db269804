package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	cs "callvox/internal/callstate"
	"callvox/internal/nlu"
	"callvox/internal/speech"
	"callvox/pkg/stt"
)

// Wednesday, 2026-03-04 10:00 UTC.
var testNow = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

const representative = "+15550199"

func newMachine(maxAttempts int) *Machine {
	return NewMachine(Config{
		MaxAttempts:    maxAttempts,
		Representative: representative,
		Location:       time.UTC,
	}).WithClock(func() time.Time { return testNow })
}

var (
	employee  = cs.Ref{ID: "emp-1", Display: "Dana Reyes"}
	providers = []cs.Ref{{ID: "prov-1", Display: "Sunrise Home Care"}, {ID: "prov-2", Display: "Bayside Nursing"}}
	shifts    = []cs.Occurrence{
		{ID: "occ-1", Display: "Thursday at 8 AM", Patient: &cs.Ref{ID: "pat-1"}},
		{ID: "occ-2", Display: "Friday at 8 AM"},
		{ID: "occ-3", Display: "Saturday at noon"},
	}
)

// handle feeds ev and checks that any phase change follows the table.
func handle(t *testing.T, m *Machine, s *cs.Session, ev Event) []Instruction {
	t.Helper()
	before := s.Phase
	out := m.Handle(s, ev)
	if s.Phase != before {
		require.Truef(t, CanTransition(before, s.Phase), "illegal %s -> %s", before, s.Phase)
	}
	return out
}

func press(t *testing.T, m *Machine, r *Router, s *cs.Session, digits string) []Instruction {
	t.Helper()
	var out []Instruction
	for i := 0; i < len(digits); i++ {
		route := r.Route(s, digits[i], false)
		if route.Kind == Dispatch {
			out = handle(t, m, s, route.Event)
		}
	}
	return out
}

func newSession() *cs.Session {
	return cs.New("CA1", "MZ1", "+15550100", testNow)
}

// sessionIn builds a session sitting in p with everything p needs.
func sessionIn(p cs.Phase) *cs.Session {
	s := newSession()
	s.Employee = &employee
	s.Providers = append([]cs.Ref(nil), providers...)
	s.Provider = &s.Providers[0]
	s.Occurrences = append([]cs.Occurrence(nil), shifts...)
	s.Occurrence = &s.Occurrences[0]
	s.Buffers.Day = &nlu.Day{Year: 2026, Month: time.March, Day: 9}
	s.Buffers.Time = &nlu.Clock{Hour: 14}
	s.Buffers.Reason = "I'm sick"
	s.Enter(p, testNow)
	return s
}

func find[T Instruction](ins []Instruction) (T, bool) {
	for _, in := range ins {
		if v, ok := in.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func TestTransitionTable(t *testing.T) {
	for _, p := range Phases {
		_, ok := edges[p]
		assert.True(t, ok, "phase %s has no row", p)
		if Retryable(p) {
			assert.True(t, CanTransition(p, cs.RepresentativeTransfer), "phase %s cannot escalate", p)
		}
	}
	assert.True(t, Terminal(cs.Goodbye))
	assert.False(t, CanTransition(cs.Goodbye, cs.JobOptions))
	assert.False(t, CanTransition(cs.CollectReason, cs.CollectDay))
}

func TestScenarioA_ProviderThenRepresentative(t *testing.T) {
	m := newMachine(3)
	r := NewRouter(DefaultKeypad(), m)
	s := newSession()

	out := handle(t, m, s, CallStarted{})
	lookup, ok := find[LookupByPhone](out)
	require.True(t, ok)
	assert.Equal(t, "+15550100", lookup.Phone)

	handle(t, m, s, EmployeeResolved{Employee: &employee, Providers: providers})
	require.Equal(t, cs.ProviderSelection, s.Phase)

	out = press(t, m, r, s, "1")
	load, ok := find[LoadOccurrences](out)
	require.True(t, ok)
	assert.Equal(t, LoadOccurrences{EmployeeID: "emp-1", ProviderID: "prov-1"}, load)

	handle(t, m, s, OccurrencesLoaded{Occurrences: shifts[:1]})
	require.Equal(t, cs.JobOptions, s.Phase)
	assert.Equal(t, "occ-1", s.Occurrence.ID)
	assert.Equal(t, "pat-1", s.Patient.ID)

	out = press(t, m, r, s, "3")
	assert.Equal(t, cs.RepresentativeTransfer, s.Phase)
	require.NotNil(t, s.PendingTransfer)
	assert.Equal(t, representative, s.PendingTransfer.To)
	assert.Equal(t, testNow, s.PendingTransfer.InitiatedAt)
	tr, ok := find[Transfer](out)
	require.True(t, ok)
	assert.Equal(t, Transfer{To: representative, Caller: "+15550100"}, tr)
}

func TestScenarioB_MondayTwoPM(t *testing.T) {
	m := newMachine(3)
	r := NewRouter(DefaultKeypad(), m)
	s := sessionIn(cs.JobOptions)

	out := press(t, m, r, s, "2")
	require.Equal(t, cs.CollectDay, s.Phase)
	collect, ok := find[CollectSpeech](out)
	require.True(t, ok)
	assert.Equal(t, speech.ModeDateTime, collect.Mode)

	p := speech.NewProcessor(
		stt.TranscriberFunc(func(context.Context, stt.Request) (stt.Transcript, error) {
			return stt.Transcript{Text: "Monday two PM"}, nil
		}),
		nlu.ExtractorFunc(func(context.Context, string) (nlu.Extraction, error) {
			return nlu.Extraction{HasDay: true, HasTime: true, DayText: "monday", TimeText: "two pm", Confidence: 0.9}, nil
		}),
		speech.DefaultConfig(),
	).WithClock(func() time.Time { return testNow })

	res := p.Process(context.Background(), speech.Input{Mode: speech.ModeDateTime, Audio: make([]byte, 8000), Voiced: time.Second})
	require.Equal(t, speech.Complete, res.Outcome)
	require.True(t, res.Extraction.HasDay)
	require.True(t, res.Extraction.HasTime)

	out = handle(t, m, s, SpeechResult{Result: res})
	assert.Equal(t, cs.ConfirmDatetime, s.Phase)
	assert.Equal(t, nlu.Day{Year: 2026, Month: time.March, Day: 9}, *s.Buffers.Day)
	assert.Equal(t, nlu.Clock{Hour: 14}, *s.Buffers.Time)
	prompt, ok := find[Prompt](out)
	require.True(t, ok)
	assert.Contains(t, prompt.Text, "Monday, March 9 at 2 PM")
}

func TestScenarioC_ThreeInvalidDigitsEscalate(t *testing.T) {
	m := newMachine(3)
	r := NewRouter(DefaultKeypad(), m)
	s := sessionIn(cs.OccurrenceSelection)
	s.Providers = s.Providers[:1]

	for i, d := range []byte{'7', '0', '*'} {
		route := r.Route(s, d, false)
		require.Equal(t, Dispatch, route.Kind)
		require.IsType(t, Invalid{}, route.Event)
		handle(t, m, s, route.Event)
		if i < 2 {
			assert.Equal(t, cs.OccurrenceSelection, s.Phase)
			assert.Equal(t, i+1, s.AttemptsIn(cs.OccurrenceSelection))
		}
	}
	assert.Equal(t, cs.RepresentativeTransfer, s.Phase)
	assert.NotNil(t, s.PendingTransfer)
}

func invalidFor(p cs.Phase) Event {
	if speechPhase(p) {
		return SpeechResult{Result: speech.Result{Outcome: speech.Unclear}}
	}
	return Invalid{Reason: "test"}
}

func TestAttempts_CountAndEscalate(t *testing.T) {
	var phases []cs.Phase
	for _, p := range Phases {
		if Retryable(p) {
			phases = append(phases, p)
		}
	}

	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 6).Draw(rt, "limit")
		p := rapid.SampledFrom(phases).Draw(rt, "phase")
		m := newMachine(limit)
		s := sessionIn(p)

		if s.AttemptsIn(p) != 0 {
			rt.Fatalf("attempts not reset on entry: %d", s.AttemptsIn(p))
		}
		for i := 1; i < limit; i++ {
			m.Handle(s, invalidFor(p))
			if s.Phase != p {
				rt.Fatalf("left %s after %d invalid inputs (limit %d)", p, i, limit)
			}
			if got := s.AttemptsIn(p); got != i {
				rt.Fatalf("attempts = %d after %d invalid inputs", got, i)
			}
		}
		m.Handle(s, invalidFor(p))
		if s.Phase != cs.RepresentativeTransfer {
			rt.Fatalf("reached the limit in %s but moved to %s", p, s.Phase)
		}
		if s.PendingTransfer == nil {
			rt.Fatalf("escalated without a pending transfer")
		}
	})
}

func TestAttempts_ResetOnReentry(t *testing.T) {
	m := newMachine(3)
	r := NewRouter(DefaultKeypad(), m)
	s := sessionIn(cs.JobOptions)

	press(t, m, r, s, "8")
	require.Equal(t, 1, s.AttemptsIn(cs.JobOptions))

	press(t, m, r, s, "9")
	require.Equal(t, cs.OccurrenceSelection, s.Phase)
	press(t, m, r, s, "2")
	require.Equal(t, cs.JobOptions, s.Phase)
	assert.Equal(t, 0, s.AttemptsIn(cs.JobOptions))
	assert.Equal(t, "occ-2", s.Occurrence.ID)
}

func TestCancelTransfer(t *testing.T) {
	m := newMachine(3)

	s := sessionIn(cs.JobOptions)
	s.Fail(testNow)
	assert.Empty(t, m.CancelTransfer(s))
	assert.Equal(t, cs.JobOptions, s.Phase)
	assert.Equal(t, 1, s.AttemptsIn(cs.JobOptions))

	r := NewRouter(DefaultKeypad(), m)
	press(t, m, r, s, "3")
	require.Equal(t, cs.RepresentativeTransfer, s.Phase)

	out := m.CancelTransfer(s)
	assert.NotEmpty(t, out)
	assert.Nil(t, s.PendingTransfer)
	assert.Equal(t, cs.JobOptions, s.Phase)
	assert.Empty(t, s.Awaiting)

	assert.Empty(t, m.CancelTransfer(s))
	assert.Equal(t, cs.JobOptions, s.Phase)
}

func TestCancelTransfer_FromQueue(t *testing.T) {
	m := newMachine(3)
	s := sessionIn(cs.JobOptions)
	press(t, m, NewRouter(DefaultKeypad(), m), s, "3")
	handle(t, m, s, TransferResult{OK: false})
	require.Equal(t, cs.TransferQueue, s.Phase)

	out := m.CancelTransfer(s)
	assert.Equal(t, cs.Goodbye, s.Phase)
	_, ok := find[EndCall](out)
	assert.True(t, ok)
}

func TestTransferFailureFallsBackToQueue(t *testing.T) {
	m := newMachine(3)
	s := sessionIn(cs.JobOptions)
	press(t, m, NewRouter(DefaultKeypad(), m), s, "3")

	out := handle(t, m, s, CollaboratorFailed{Op: cs.OpTransfer})
	assert.Equal(t, cs.TransferQueue, s.Phase)
	_, ok := find[Enqueue](out)
	assert.True(t, ok)
	_, ok = find[PlayHold](out)
	assert.True(t, ok)
	assert.NotNil(t, s.PendingTransfer)

	out = handle(t, m, s, CollaboratorFailed{Op: cs.OpEnqueue})
	assert.Equal(t, cs.Goodbye, s.Phase)
	_, ok = find[EndCall](out)
	assert.True(t, ok)
}

func TestTransferSuccess(t *testing.T) {
	m := newMachine(3)
	s := sessionIn(cs.JobOptions)
	press(t, m, NewRouter(DefaultKeypad(), m), s, "3")

	out := handle(t, m, s, TransferResult{OK: true})
	assert.Equal(t, cs.Goodbye, s.Phase)
	assert.Nil(t, s.PendingTransfer)
	assert.Empty(t, out)
}

func TestPinAuthentication(t *testing.T) {
	m := newMachine(3)
	r := NewRouter(DefaultKeypad(), m)
	s := newSession()

	handle(t, m, s, CallStarted{})
	assert.Equal(t, Ignore, r.Route(s, '1', false).Kind, "digits wait for the lookup")

	out := handle(t, m, s, EmployeeResolved{})
	require.Equal(t, cs.PinAuth, s.Phase)
	_, ok := find[Prompt](out)
	require.True(t, ok)

	out = press(t, m, r, s, "12*1234#")
	pin, ok := find[LookupByPIN](out)
	require.True(t, ok)
	assert.Equal(t, "1234", pin.PIN)
	assert.Equal(t, cs.OpLookupPIN, s.Awaiting)

	handle(t, m, s, EmployeeResolved{})
	assert.Equal(t, cs.PinAuth, s.Phase)
	assert.Equal(t, 1, s.AttemptsIn(cs.PinAuth))

	press(t, m, r, s, "12#")
	assert.Equal(t, 2, s.AttemptsIn(cs.PinAuth), "short PIN is invalid")

	press(t, m, r, s, "5678#")
	out = handle(t, m, s, EmployeeResolved{Employee: &employee, Providers: providers[:1]})
	_, ok = find[LoadOccurrences](out)
	require.True(t, ok)
	assert.Equal(t, "prov-1", s.Provider.ID)

	handle(t, m, s, OccurrencesLoaded{})
	require.Equal(t, cs.NoOccurrencesFound, s.Phase)
	assert.Equal(t, []int{1, 9}, m.Options(s))

	out = press(t, m, r, s, "9")
	assert.Equal(t, cs.Goodbye, s.Phase)
	_, ok = find[EndCall](out)
	assert.True(t, ok)
}

func TestUnknownCallerWithoutNumber(t *testing.T) {
	m := newMachine(3)
	s := cs.New("CA1", "MZ1", "", testNow)
	handle(t, m, s, CallStarted{})
	assert.Equal(t, cs.PinAuth, s.Phase)
}

func TestCallOffFlow(t *testing.T) {
	m := newMachine(3)
	r := NewRouter(DefaultKeypad(), m)
	s := sessionIn(cs.JobOptions)

	out := press(t, m, r, s, "1")
	require.Equal(t, cs.CollectReason, s.Phase)
	collect, ok := find[CollectSpeech](out)
	require.True(t, ok)
	assert.Equal(t, speech.ModeFreeText, collect.Mode)

	handle(t, m, s, SpeechResult{Result: speech.Result{Outcome: speech.Complete, Transcript: "My car broke down."}})
	require.Equal(t, cs.ConfirmLeaveOpen, s.Phase)

	out = press(t, m, r, s, "1")
	submit, ok := find[SubmitChange](out)
	require.True(t, ok)
	assert.Equal(t, cs.Change{Kind: cs.CallOff, OccurrenceID: "occ-1", EmployeeID: "emp-1", Reason: "My car broke down."}, submit.Change)
	assert.Equal(t, Ignore, r.Route(s, '1', false).Kind, "no double submit")

	out = handle(t, m, s, ChangeSaved{})
	assert.Equal(t, cs.Goodbye, s.Phase)
	notify, ok := find[NotifyOpen](out)
	require.True(t, ok)
	assert.Equal(t, "occ-1", notify.OccurrenceID)
	_, ok = find[EndCall](out)
	assert.True(t, ok)
}

func TestSubmitFailureRetries(t *testing.T) {
	m := newMachine(3)
	s := sessionIn(cs.ConfirmDatetime)
	press(t, m, NewRouter(DefaultKeypad(), m), s, "1")

	out := handle(t, m, s, CollaboratorFailed{Op: cs.OpSubmit})
	assert.Equal(t, cs.ConfirmDatetime, s.Phase)
	assert.Equal(t, 1, s.AttemptsIn(cs.ConfirmDatetime))
	prompt, ok := find[Prompt](out)
	require.True(t, ok)
	assert.Contains(t, prompt.Text, msgSubmitFailed)
}

func TestDateTimeAcrossTurns(t *testing.T) {
	m := newMachine(3)
	s := sessionIn(cs.JobOptions)
	press(t, m, NewRouter(DefaultKeypad(), m), s, "2")
	require.Nil(t, s.Buffers.Day)

	friday := nlu.Day{Year: 2026, Month: time.March, Day: 6}
	out := handle(t, m, s, SpeechResult{Result: speech.Result{Outcome: speech.DayOnly, Day: &friday}})
	require.Equal(t, cs.CollectTime, s.Phase)
	collect, _ := find[CollectSpeech](out)
	assert.Contains(t, collect.Prompt, "Friday, March 6")

	out = handle(t, m, s, SpeechResult{Result: speech.Result{Outcome: speech.VagueTime}})
	assert.Equal(t, cs.CollectTime, s.Phase)
	assert.Equal(t, 1, s.AttemptsIn(cs.CollectTime))

	nine := nlu.Clock{Hour: 9}
	handle(t, m, s, SpeechResult{Result: speech.Result{Outcome: speech.TimeOnly, Clock: &nine}})
	assert.Equal(t, cs.ConfirmDatetime, s.Phase)
	assert.Equal(t, friday, *s.Buffers.Day)
}

func TestTimeFirstThenDay(t *testing.T) {
	m := newMachine(3)
	s := sessionIn(cs.JobOptions)
	press(t, m, NewRouter(DefaultKeypad(), m), s, "2")

	two := nlu.Clock{Hour: 14}
	out := handle(t, m, s, SpeechResult{Result: speech.Result{Outcome: speech.TimeOnly, Clock: &two}})
	assert.Equal(t, cs.CollectDay, s.Phase)
	assert.Equal(t, 0, s.AttemptsIn(cs.CollectDay))
	collect, _ := find[CollectSpeech](out)
	assert.Contains(t, collect.Prompt, "2 PM")

	monday := nlu.Day{Year: 2026, Month: time.March, Day: 9}
	handle(t, m, s, SpeechResult{Result: speech.Result{Outcome: speech.DayOnly, Day: &monday}})
	assert.Equal(t, cs.ConfirmDatetime, s.Phase)
}

func TestWrongPartCountsAsAttempt(t *testing.T) {
	friday := nlu.Day{Year: 2026, Month: time.March, Day: 6}
	two := nlu.Clock{Hour: 14}

	t.Run("day again in collect_time", func(t *testing.T) {
		m := newMachine(3)
		s := sessionIn(cs.CollectTime)
		s.Buffers.Time = nil

		for i := 1; i < 3; i++ {
			out := handle(t, m, s, SpeechResult{Result: speech.Result{Outcome: speech.DayOnly, Day: &friday}})
			require.Equal(t, cs.CollectTime, s.Phase)
			assert.Equal(t, i, s.AttemptsIn(cs.CollectTime))
			assert.Equal(t, friday, *s.Buffers.Day)
			collect, _ := find[CollectSpeech](out)
			assert.Contains(t, collect.Prompt, msgNeedTime)
		}
		handle(t, m, s, SpeechResult{Result: speech.Result{Outcome: speech.DayOnly, Day: &friday}})
		assert.Equal(t, cs.RepresentativeTransfer, s.Phase)
		assert.NotNil(t, s.PendingTransfer)
	})

	t.Run("time again in collect_day", func(t *testing.T) {
		m := newMachine(3)
		s := sessionIn(cs.CollectDay)
		s.Buffers.Day, s.Buffers.Time = nil, &two

		out := handle(t, m, s, SpeechResult{Result: speech.Result{Outcome: speech.TimeOnly, Clock: &two}})
		require.Equal(t, cs.CollectDay, s.Phase)
		assert.Equal(t, 1, s.AttemptsIn(cs.CollectDay))
		assert.Equal(t, two, *s.Buffers.Time)
		collect, _ := find[CollectSpeech](out)
		assert.Contains(t, collect.Prompt, msgNeedDay)

		handle(t, m, s, SpeechResult{Result: speech.Result{Outcome: speech.TimeOnly, Clock: &two}})
		handle(t, m, s, SpeechResult{Result: speech.Result{Outcome: speech.TimeOnly, Clock: &two}})
		assert.Equal(t, cs.RepresentativeTransfer, s.Phase)
	})
}

func TestPastDateTimeIsRejected(t *testing.T) {
	m := newMachine(3)
	s := sessionIn(cs.CollectTime)
	today := nlu.DayOf(testNow)
	s.Buffers.Day = &today
	s.Buffers.Time = nil

	eight := nlu.Clock{Hour: 8}
	out := handle(t, m, s, SpeechResult{Result: speech.Result{Outcome: speech.TimeOnly, Clock: &eight}})
	assert.Equal(t, cs.CollectTime, s.Phase)
	assert.Nil(t, s.Buffers.Time)
	collect, _ := find[CollectSpeech](out)
	assert.Contains(t, collect.Prompt, "already passed")
}

func TestEverySpeechOutcomeHasAResponse(t *testing.T) {
	for _, o := range speech.Outcomes {
		_, ok := speechResponses[o]
		assert.True(t, ok, "no response for %s", o)

		for _, p := range []cs.Phase{cs.CollectReason, cs.CollectDay, cs.CollectTime} {
			m := newMachine(3)
			s := sessionIn(p)
			s.Buffers.Day, s.Buffers.Time = nil, nil
			res := speech.Result{Outcome: o, Transcript: "words"}
			if o == speech.Complete || o == speech.DayOnly {
				d := nlu.Day{Year: 2026, Month: time.March, Day: 9}
				res.Day = &d
			}
			if o == speech.Complete || o == speech.TimeOnly {
				c := nlu.Clock{Hour: 14}
				res.Clock = &c
			}
			out := handle(t, m, s, SpeechResult{Result: res})
			assert.NotEmpty(t, out, "outcome %s in %s has no next action", o, p)
		}
	}
	assert.Equal(t, speechResponses[speech.Unclear], Respond("garbled"))
}

func TestResumeRepromptsCurrentPhase(t *testing.T) {
	m := newMachine(3)
	s := sessionIn(cs.CollectDay)
	s.Awaiting = cs.OpSubmit

	out := handle(t, m, s, CallStarted{Resumed: true})
	assert.Equal(t, cs.CollectDay, s.Phase)
	assert.Empty(t, s.Awaiting)
	_, ok := find[CollectSpeech](out)
	assert.True(t, ok)
}
