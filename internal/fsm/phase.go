package fsm

import (
	cs "callvox/internal/callstate"
)

// edges is the transition table. Escalation to RepresentativeTransfer is
// added for every retryable phase by init.
var edges = map[cs.Phase][]cs.Phase{
	cs.Authenticating:         {cs.PinAuth, cs.ProviderSelection, cs.OccurrenceSelection, cs.NoOccurrencesFound, cs.JobOptions},
	cs.PinAuth:                {cs.ProviderSelection, cs.OccurrenceSelection, cs.NoOccurrencesFound, cs.JobOptions},
	cs.ProviderSelection:      {cs.OccurrenceSelection, cs.NoOccurrencesFound, cs.JobOptions},
	cs.OccurrenceSelection:    {cs.JobOptions, cs.ProviderSelection},
	cs.NoOccurrencesFound:     {cs.ProviderSelection, cs.Goodbye},
	cs.JobOptions:             {cs.CollectReason, cs.CollectDay, cs.OccurrenceSelection},
	cs.CollectReason:          {cs.ConfirmLeaveOpen},
	cs.CollectDay:             {cs.CollectTime, cs.ConfirmDatetime},
	cs.CollectTime:            {cs.ConfirmDatetime, cs.CollectDay},
	cs.ConfirmDatetime:        {cs.Goodbye, cs.CollectDay},
	cs.ConfirmLeaveOpen:       {cs.Goodbye, cs.JobOptions},
	cs.RepresentativeTransfer: {cs.TransferQueue, cs.Goodbye, cs.JobOptions},
	cs.TransferQueue:          {cs.Goodbye},
	cs.Goodbye:                nil,
}

var retryable = map[cs.Phase]bool{
	cs.Authenticating:      true,
	cs.PinAuth:             true,
	cs.ProviderSelection:   true,
	cs.OccurrenceSelection: true,
	cs.NoOccurrencesFound:  true,
	cs.JobOptions:          true,
	cs.CollectReason:       true,
	cs.CollectDay:          true,
	cs.CollectTime:         true,
	cs.ConfirmDatetime:     true,
	cs.ConfirmLeaveOpen:    true,
}

func init() {
	for p := range retryable {
		edges[p] = append(edges[p], cs.RepresentativeTransfer)
	}
}

// Phases lists every phase in dialog order.
var Phases = []cs.Phase{
	cs.Authenticating, cs.PinAuth, cs.ProviderSelection, cs.OccurrenceSelection,
	cs.NoOccurrencesFound, cs.JobOptions, cs.CollectReason, cs.CollectDay,
	cs.CollectTime, cs.ConfirmDatetime, cs.ConfirmLeaveOpen,
	cs.RepresentativeTransfer, cs.TransferQueue, cs.Goodbye,
}

func CanTransition(from, to cs.Phase) bool {
	for _, p := range edges[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Retryable reports whether invalid input in p counts toward escalation.
func Retryable(p cs.Phase) bool { return retryable[p] }

func Terminal(p cs.Phase) bool { return len(edges[p]) == 0 }

// speechPhases collect spoken input instead of digits.
func speechPhase(p cs.Phase) bool {
	return p == cs.CollectReason || p == cs.CollectDay || p == cs.CollectTime
}
