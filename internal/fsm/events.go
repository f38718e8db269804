package fsm

import (
	cs "callvox/internal/callstate"
	"callvox/internal/speech"
)

// Event is an input to the machine. The set is closed.
type Event interface {
	fsmEvent()
}

type (
	// CallStarted is fed once per connection. Resumed is set when the state
	// came from an earlier connection of the same call.
	CallStarted struct{ Resumed bool }
	// EmployeeResolved answers a lookup; Employee is nil when nothing matched.
	EmployeeResolved struct {
		Employee  *cs.Ref
		Providers []cs.Ref
	}
	OccurrencesLoaded struct{ Occurrences []cs.Occurrence }
	// Selection is a valid single digit option.
	Selection struct{ N int }
	// CodeEntered is a terminated multi-digit entry.
	CodeEntered    struct{ Code string }
	Invalid        struct{ Reason string }
	SpeechResult   struct{ Result speech.Result }
	TransferResult struct{ OK bool }
	// ChangeSaved acknowledges a SubmitChange.
	ChangeSaved        struct{}
	CollaboratorFailed struct {
		Op  cs.Op
		Err error
	}
	InputTimeout struct{}
	Hangup       struct{}
)

func (CallStarted) fsmEvent()        {}
func (EmployeeResolved) fsmEvent()   {}
func (OccurrencesLoaded) fsmEvent()  {}
func (Selection) fsmEvent()          {}
func (CodeEntered) fsmEvent()        {}
func (Invalid) fsmEvent()            {}
func (SpeechResult) fsmEvent()       {}
func (TransferResult) fsmEvent()     {}
func (ChangeSaved) fsmEvent()        {}
func (CollaboratorFailed) fsmEvent() {}
func (InputTimeout) fsmEvent()       {}
func (Hangup) fsmEvent()             {}

// Instruction is a side effect for the session to carry out. The machine
// itself does no I/O.
type Instruction interface {
	fsmInstruction()
}

type (
	// Say speaks text.
	Say struct{ Text string }
	// Prompt speaks text and then waits for keypad input.
	Prompt struct{ Text string }
	// CollectSpeech runs one speech turn introduced by Prompt.
	CollectSpeech struct {
		Prompt string
		Mode   speech.Mode
	}
	LookupByPhone   struct{ Phone string }
	LookupByPIN     struct{ PIN string }
	LoadOccurrences struct{ EmployeeID, ProviderID string }
	Transfer        struct{ To, Caller string }
	Enqueue         struct{}
	NotifyOpen      struct{ OccurrenceID string }
	SubmitChange    struct{ Change cs.Change }
	// PlayHold loops hold audio after any pending speech.
	PlayHold struct{}
	// EndCall hangs up once pending speech has played.
	EndCall struct{}
)

func (Say) fsmInstruction()             {}
func (Prompt) fsmInstruction()          {}
func (CollectSpeech) fsmInstruction()   {}
func (LookupByPhone) fsmInstruction()   {}
func (LookupByPIN) fsmInstruction()     {}
func (LoadOccurrences) fsmInstruction() {}
func (Transfer) fsmInstruction()        {}
func (Enqueue) fsmInstruction()         {}
func (NotifyOpen) fsmInstruction()      {}
func (SubmitChange) fsmInstruction()    {}
func (PlayHold) fsmInstruction()        {}
func (EndCall) fsmInstruction()         {}
