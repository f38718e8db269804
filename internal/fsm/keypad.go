package fsm

import (
	cs "callvox/internal/callstate"
)

type RouteKind uint

const (
	// Ignore drops the digit.
	Ignore RouteKind = iota
	// Buffered means the digit was added to (or cleared) the entry buffer.
	Buffered
	// StopRecording ends the active speech recording.
	StopRecording
	// Dispatch carries an Event for the machine.
	Dispatch
)

type Route struct {
	Kind  RouteKind
	Event Event
}

type KeypadConfig struct {
	Terminator byte
	Clear      byte
	StopDigit  byte
	MaxDigits  int
}

func DefaultKeypad() KeypadConfig {
	return KeypadConfig{Terminator: '#', Clear: '*', StopDigit: '#', MaxDigits: 12}
}

// Router maps a keypad digit to what it means in the current phase.
type Router struct {
	cfg     KeypadConfig
	machine *Machine
}

func NewRouter(cfg KeypadConfig, m *Machine) *Router {
	def := DefaultKeypad()
	if cfg.Terminator == 0 {
		cfg.Terminator = def.Terminator
	}
	if cfg.Clear == 0 {
		cfg.Clear = def.Clear
	}
	if cfg.StopDigit == 0 {
		cfg.StopDigit = def.StopDigit
	}
	if cfg.MaxDigits <= 0 {
		cfg.MaxDigits = def.MaxDigits
	}
	return &Router{cfg: cfg, machine: m}
}

// Route interprets digit. While recording only the stop digit matters.
// Multi-digit phases may change s.Buffers.Digits.
func (r *Router) Route(s *cs.Session, digit byte, recording bool) Route {
	if recording {
		if digit == r.cfg.StopDigit {
			return Route{Kind: StopRecording}
		}
		return Route{Kind: Ignore}
	}
	if s.Awaiting != "" {
		return Route{Kind: Ignore}
	}

	if s.Phase == cs.PinAuth {
		return r.multiDigit(s, digit)
	}

	opts := r.machine.Options(s)
	if len(opts) == 0 {
		return Route{Kind: Ignore}
	}
	if digit < '0' || digit > '9' {
		return dispatch(Invalid{Reason: "not a digit"})
	}
	n := int(digit - '0')
	if !contains(opts, n) {
		return dispatch(Invalid{Reason: "out of range"})
	}
	return dispatch(Selection{N: n})
}

func (r *Router) multiDigit(s *cs.Session, digit byte) Route {
	switch {
	case digit == r.cfg.Clear:
		s.Buffers.Digits = ""
		return Route{Kind: Buffered}

	case digit == r.cfg.Terminator:
		code := s.Buffers.Digits
		s.Buffers.Digits = ""
		if code == "" {
			return dispatch(Invalid{Reason: "empty entry"})
		}
		return dispatch(CodeEntered{Code: code})

	case digit >= '0' && digit <= '9':
		if len(s.Buffers.Digits) >= r.cfg.MaxDigits {
			s.Buffers.Digits = ""
			return dispatch(Invalid{Reason: "too many digits"})
		}
		s.Buffers.Digits += string(digit)
		return Route{Kind: Buffered}
	}

	s.Buffers.Digits = ""
	return dispatch(Invalid{Reason: "not a digit"})
}

func dispatch(ev Event) Route {
	return Route{Kind: Dispatch, Event: ev}
}
