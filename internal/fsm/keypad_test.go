package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	cs "callvox/internal/callstate"
)

func TestRouter_RecordingOnlyHonorsStopDigit(t *testing.T) {
	m := newMachine(3)
	r := NewRouter(DefaultKeypad(), m)
	s := sessionIn(cs.CollectDay)

	assert.Equal(t, Route{Kind: StopRecording}, r.Route(s, '#', true))
	assert.Equal(t, Route{Kind: Ignore}, r.Route(s, '1', true))
	assert.Equal(t, Route{Kind: Ignore}, r.Route(s, '1', false), "speech phases take no digits")
}

func TestRouter_SingleDigit(t *testing.T) {
	m := newMachine(3)
	r := NewRouter(DefaultKeypad(), m)
	s := sessionIn(cs.ConfirmDatetime)

	assert.Equal(t, dispatch(Selection{N: 2}), r.Route(s, '2', false))
	assert.Equal(t, dispatch(Invalid{Reason: "out of range"}), r.Route(s, '3', false))
	assert.Equal(t, dispatch(Invalid{Reason: "not a digit"}), r.Route(s, '#', false))
}

func TestRouter_MultiDigit(t *testing.T) {
	m := newMachine(3)
	r := NewRouter(KeypadConfig{MaxDigits: 4}, m)
	s := sessionIn(cs.PinAuth)

	for _, d := range []byte("123") {
		assert.Equal(t, Buffered, r.Route(s, d, false).Kind)
	}
	assert.Equal(t, "123", s.Buffers.Digits)
	assert.Equal(t, Buffered, r.Route(s, '*', false).Kind)
	assert.Empty(t, s.Buffers.Digits)

	assert.Equal(t, dispatch(Invalid{Reason: "empty entry"}), r.Route(s, '#', false))

	for _, d := range []byte("9876") {
		r.Route(s, d, false)
	}
	assert.Equal(t, dispatch(Invalid{Reason: "too many digits"}), r.Route(s, '5', false))
	assert.Empty(t, s.Buffers.Digits)

	for _, d := range []byte("4321") {
		r.Route(s, d, false)
	}
	assert.Equal(t, dispatch(CodeEntered{Code: "4321"}), r.Route(s, '#', false))
	assert.Empty(t, s.Buffers.Digits)
}

func TestRouter_IgnoresWhileAwaiting(t *testing.T) {
	m := newMachine(3)
	r := NewRouter(DefaultKeypad(), m)
	s := sessionIn(cs.JobOptions)
	s.Awaiting = cs.OpLoadOccurrences

	assert.Equal(t, Route{Kind: Ignore}, r.Route(s, '1', false))
}
