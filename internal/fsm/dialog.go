package fsm

import (
	"errors"
	"fmt"
	"strings"

	cs "callvox/internal/callstate"
	"callvox/internal/nlu"
	"callvox/internal/speech"
)

// Response is what the caller hears when a speech turn did not produce
// usable input. Retry responses count as an invalid attempt.
type Response struct {
	Retry   bool
	Message string
}

// speechResponses covers every speech.Outcome. Outcomes that carry data are
// handled by the phase and only fall back here.
var speechResponses = map[speech.Outcome]Response{
	speech.Complete:      {Retry: false},
	speech.DayOnly:       {Retry: false},
	speech.TimeOnly:      {Retry: false},
	speech.VagueTime:     {Retry: true, Message: msgSpecificTime},
	speech.Unclear:       {Retry: true, Message: "Sorry, I didn't understand that."},
	speech.TooShort:      {Retry: true, Message: "Sorry, I didn't hear anything."},
	speech.Hallucination: {Retry: true, Message: "Sorry, I couldn't make that out."},
	speech.Failed:        {Retry: true, Message: msgTrouble},
}

// Respond returns the response for outcome. Unknown outcomes are unclear.
func Respond(outcome speech.Outcome) Response {
	if r, ok := speechResponses[outcome]; ok {
		return r
	}
	return speechResponses[speech.Unclear]
}

// unclearMessage refines the unclear response with the validation error.
func unclearMessage(err error) string {
	switch {
	case errors.Is(err, nlu.ErrInPast):
		return "That date and time has already passed."
	case errors.Is(err, nlu.ErrInvalidDay):
		return "That doesn't look like a valid date."
	case errors.Is(err, nlu.ErrInvalidTime):
		return "That doesn't look like a valid time."
	}
	return speechResponses[speech.Unclear].Message
}

const (
	msgGreeting       = "Hello, thank you for calling. One moment while I find your account."
	msgTrouble        = "I'm sorry, I'm having trouble right now."
	msgNotRecognized  = "Sorry, that isn't one of the options."
	msgNoResponse     = "I didn't get a response."
	msgPinNotFound    = "That PIN was not recognized."
	msgPinFormat      = "A PIN is %d to %d digits long."
	msgUnknownCaller  = "I couldn't find your phone number in our records."
	msgConnecting     = "Please hold while I connect you with a representative."
	msgEscalating     = "Let me connect you with a representative who can help."
	msgQueue          = "All of our representatives are busy right now. Please stay on the line and the next available person will be with you."
	msgGoodbye        = "Thank you for calling. Goodbye."
	msgSaving         = "One moment while I save that."
	msgCalledOff      = "Your shift has been called off and we'll let the team know it needs to be covered."
	msgSubmitFailed   = "I'm sorry, I couldn't save your request."
	msgSpecificTime   = "I need a specific time, like nine A M or two thirty P M."
	msgTransferCancel = "The transfer was cancelled."
	msgNeedDay        = "I still need the day."
	msgNeedTime       = "I still need the time."
)

func pinPrompt() string {
	return "Please enter your employee PIN on the keypad, then press pound."
}

func providerPrompt(providers []cs.Ref) string {
	var b strings.Builder
	b.WriteString("Which agency is this about? ")
	for i, p := range providers {
		if i >= 9 {
			break
		}
		fmt.Fprintf(&b, "For %s, press %d. ", p.Display, i+1)
	}
	return strings.TrimSpace(b.String())
}

func occurrencePrompt(occ []cs.Occurrence, moreProviders bool) string {
	var b strings.Builder
	b.WriteString("Which shift are you calling about? ")
	for i, o := range occ {
		if i >= maxListed {
			break
		}
		fmt.Fprintf(&b, "For %s, press %d. ", o.Display, i+1)
	}
	if moreProviders {
		b.WriteString("To choose a different agency, press 9.")
	}
	return strings.TrimSpace(b.String())
}

func noOccurrencesPrompt(moreProviders bool) string {
	s := "I don't see any upcoming shifts for you. To speak with a representative, press 1. "
	if moreProviders {
		s += "To choose a different agency, press 2. "
	}
	return s + "To hang up, press 9."
}

func jobOptionsPrompt(o *cs.Occurrence, moreShifts bool) string {
	s := ""
	if o != nil {
		s = fmt.Sprintf("For your shift %s. ", o.Display)
	}
	s += "To call off this shift, press 1. To reschedule it, press 2. To speak with a representative, press 3."
	if moreShifts {
		s += " To choose a different shift, press 9."
	}
	return s
}

const (
	reasonPrompt = "Please tell me briefly why you can't make this shift."
	dayPrompt    = "What day and time would you like instead? For example, Monday at two P M."
)

func timePrompt(d *nlu.Day) string {
	if d == nil {
		return "What time would you like?"
	}
	return fmt.Sprintf("What time on %s?", d.Spoken())
}

func dayForTimePrompt(c *nlu.Clock) string {
	return fmt.Sprintf("Got it, %s. Which day?", c.Spoken())
}

func confirmDatetimePrompt(d *nlu.Day, c *nlu.Clock) string {
	return fmt.Sprintf("You'd like to reschedule to %s at %s. To confirm, press 1. To choose a different time, press 2.",
		d.Spoken(), c.Spoken())
}

func confirmLeaveOpenPrompt(reason string) string {
	return fmt.Sprintf("I heard: %s. To call off this shift and leave it open for someone else, press 1. To go back, press 2.", reason)
}

func rescheduledMessage(d *nlu.Day, c *nlu.Clock) string {
	return fmt.Sprintf("Your request to reschedule to %s at %s has been sent.", d.Spoken(), c.Spoken())
}

// Apology is spoken when an utterance could not be synthesized.
const Apology = msgTrouble

// StockPhrases are fixed utterances worth rendering ahead of time.
func StockPhrases() []string {
	return []string{msgGreeting, msgTrouble, msgConnecting, msgEscalating, msgGoodbye, msgSaving, msgQueue}
}
