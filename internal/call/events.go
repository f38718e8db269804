package call

import (
	"callvox/internal/fsm"
	"callvox/internal/speech"
	"callvox/pkg/protocol"
)

// event is everything the session loop reacts to.
type event interface {
	callEvent()
}

type (
	inbound struct{ in protocol.Income }
	// synthesized carries the audio for utterance utter.
	synthesized struct {
		utter uint64
		audio []byte
		err   error
	}
	played    struct{ utter uint64 }
	cuePlayed struct{ turn uint64 }
	processed struct {
		turn   uint64
		result speech.Result
	}
	// dialog is a collaborator result for the machine.
	dialog     struct{ ev fsm.Event }
	timerFired struct {
		kind timerKind
		gen  uint64
	}
	control struct {
		fn   func()
		done chan struct{}
	}
)

func (inbound) callEvent()     {}
func (synthesized) callEvent() {}
func (played) callEvent()      {}
func (cuePlayed) callEvent()   {}
func (processed) callEvent()   {}
func (dialog) callEvent()      {}
func (timerFired) callEvent()  {}
func (control) callEvent()     {}
