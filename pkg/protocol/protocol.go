package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed message")
)

// Event is one inbound media-stream message. The set of implementations is
// closed: Connected, Start, Media, DTMF, Stop and Mark.
type Event interface {
	event()
}

// Connected is sent once by the far end before Start.
type Connected struct{}

// Start opens the stream for a call.
type Start struct {
	StreamID     string
	CallID       string
	ParentCallID string
	Caller       string
	Params       map[string]string
}

// OwnerID is the id the call state is keyed by: the parent call when the
// stream belongs to a child leg, otherwise the call itself.
func (s Start) OwnerID() string {
	if s.ParentCallID != "" {
		return s.ParentCallID
	}
	return s.CallID
}

// Media carries one chunk of inbound 8kHz mu-law audio.
type Media struct {
	Track   string
	Payload []byte
}

// DTMF carries one keypad digit.
type DTMF struct {
	Digit byte
}

type Stop struct {
	CallID string
}

// Mark echoes a marker we sent once playback reached it.
type Mark struct {
	Name string
}

func (Connected) event() {}
func (Start) event()     {}
func (Media) event()     {}
func (DTMF) event()      {}
func (Stop) event()      {}
func (Mark) event()      {}

type envelope struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid,omitempty"`
	Start     *struct {
		StreamSid        string            `json:"streamSid"`
		CallSid          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *mediaBody `json:"media,omitempty"`
	DTMF  *struct {
		Digit string `json:"digit"`
	} `json:"dtmf,omitempty"`
	Stop *struct {
		CallSid string `json:"callSid"`
	} `json:"stop,omitempty"`
	Mark *markBody `json:"mark,omitempty"`
}

type mediaBody struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

type markBody struct {
	Name string `json:"name"`
}

// Decode parses one inbound message.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Event {
	case "connected":
		return Connected{}, nil

	case "start":
		if env.Start == nil {
			return nil, fmt.Errorf("%w: start without body", ErrMalformed)
		}
		params := env.Start.CustomParameters
		if params == nil {
			params = map[string]string{}
		}
		st := Start{
			StreamID:     env.Start.StreamSid,
			CallID:       env.Start.CallSid,
			ParentCallID: params["parentCallId"],
			Caller:       params["phone"],
			Params:       params,
		}
		if st.StreamID == "" {
			st.StreamID = env.StreamSid
		}
		if st.CallID == "" && st.ParentCallID == "" {
			return nil, fmt.Errorf("%w: start without call id", ErrMalformed)
		}
		return st, nil

	case "media":
		if env.Media == nil {
			return nil, fmt.Errorf("%w: media without body", ErrMalformed)
		}
		payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: media payload: %v", ErrMalformed, err)
		}
		return Media{Track: env.Media.Track, Payload: payload}, nil

	case "dtmf":
		if env.DTMF == nil || len(env.DTMF.Digit) != 1 {
			return nil, fmt.Errorf("%w: dtmf digit", ErrMalformed)
		}
		return DTMF{Digit: env.DTMF.Digit[0]}, nil

	case "stop":
		st := Stop{}
		if env.Stop != nil {
			st.CallID = env.Stop.CallSid
		}
		return st, nil

	case "mark":
		if env.Mark == nil {
			return Mark{}, nil
		}
		return Mark{Name: env.Mark.Name}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

// EncodeMedia builds one outbound frame message.
func EncodeMedia(streamID string, frame []byte) ([]byte, error) {
	return json.Marshal(envelope{
		Event:     "media",
		StreamSid: streamID,
		Media:     &mediaBody{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
}

// EncodeClear asks the far end to drop audio it has buffered but not played.
func EncodeClear(streamID string) ([]byte, error) {
	return json.Marshal(envelope{Event: "clear", StreamSid: streamID})
}

func EncodeMark(streamID, name string) ([]byte, error) {
	return json.Marshal(envelope{Event: "mark", StreamSid: streamID, Mark: &markBody{Name: name}})
}

// The encoders below speak for the far end. They drive the session from
// the control tool and tests.

func EncodeStart(st Start) ([]byte, error) {
	env := envelope{Event: "start", StreamSid: st.StreamID}
	env.Start = &struct {
		StreamSid        string            `json:"streamSid"`
		CallSid          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	}{StreamSid: st.StreamID, CallSid: st.CallID, CustomParameters: map[string]string{}}
	for k, v := range st.Params {
		env.Start.CustomParameters[k] = v
	}
	if st.Caller != "" {
		env.Start.CustomParameters["phone"] = st.Caller
	}
	if st.ParentCallID != "" {
		env.Start.CustomParameters["parentCallId"] = st.ParentCallID
	}
	return json.Marshal(env)
}

func EncodeInbound(streamID string, payload []byte) ([]byte, error) {
	return json.Marshal(envelope{
		Event:     "media",
		StreamSid: streamID,
		Media:     &mediaBody{Track: "inbound", Payload: base64.StdEncoding.EncodeToString(payload)},
	})
}

func EncodeDTMF(streamID string, digit byte) ([]byte, error) {
	env := envelope{Event: "dtmf", StreamSid: streamID}
	env.DTMF = &struct {
		Digit string `json:"digit"`
	}{Digit: string(digit)}
	return json.Marshal(env)
}

func EncodeStop(streamID, callID string) ([]byte, error) {
	env := envelope{Event: "stop", StreamSid: streamID}
	env.Stop = &struct {
		CallSid string `json:"callSid"`
	}{CallSid: callID}
	return json.Marshal(env)
}
