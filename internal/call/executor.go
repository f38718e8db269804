package call

import (
	"context"
	"errors"
	"strings"
	"time"

	cs "callvox/internal/callstate"
	"callvox/internal/fsm"
	"callvox/internal/notify"
	"callvox/internal/records"
	"callvox/internal/speech"
	"callvox/pkg/audioconv"
)

// execute carries out the machine's instructions. All spoken text in one
// batch becomes a single utterance; instructions that must wait for it
// (keypad prompt timer, speech collection, hold music, transfers, hang up)
// run once it has played. Lookups and submissions start right away.
func (s *Session) execute(ins []fsm.Instruction, interrupt bool) {
	seg := &segment{}
	var spoken []string
	for _, in := range ins {
		switch v := in.(type) {
		case fsm.Say:
			spoken = append(spoken, v.Text)
		case fsm.Prompt:
			spoken = append(spoken, v.Text)
			seg.after = append(seg.after, v)
		case fsm.CollectSpeech:
			spoken = append(spoken, v.Prompt)
			seg.after = append(seg.after, v)
		case fsm.PlayHold, fsm.EndCall, fsm.Transfer, fsm.Enqueue:
			seg.after = append(seg.after, v)
		default:
			s.perform(in)
		}
	}
	seg.text = strings.TrimSpace(strings.Join(spoken, " "))
	if seg.text == "" && len(seg.after) == 0 {
		return
	}

	if interrupt {
		s.interrupt()
	}
	s.queue = append(s.queue, seg)
	s.next()
}

// interrupt drops queued speech, stops playback and abandons any speech
// turn in progress.
func (s *Session) interrupt() {
	s.utter++
	s.current = nil
	s.queue = nil
	s.player.Stop()
	if s.collector.State() != speech.Idle {
		s.collector.Abandon()
		stopTimer(&s.recTimer)
	}
	s.disarmInput()
}

// next starts the head of the queue unless something is playing or a
// speech turn owns the line.
func (s *Session) next() {
	for s.current == nil && len(s.queue) > 0 && s.collector.State() == speech.Idle {
		seg := s.queue[0]
		s.queue = s.queue[1:]
		if seg.text == "" {
			s.runAfter(seg)
			continue
		}

		s.utter++
		seg.id = s.utter
		s.current = seg
		if c := seg.collect(); c != nil {
			turn, err := s.collector.Begin(c.Mode)
			if err != nil {
				s.collector.Abandon()
				turn, _ = s.collector.Begin(c.Mode)
			}
			seg.turn = turn
		}
		s.synthesize(seg.id, seg.text)
	}
}

func (s *Session) synthesize(id uint64, text string) {
	s.async(s.cfg.CollaboratorTimeout, func(ctx context.Context) event {
		start := time.Now()
		audio, err := s.deps.TTS.Synthesize(ctx, text)
		s.deps.Metrics.Collaborator("tts", time.Since(start), err)
		return synthesized{utter: id, audio: audio, err: err}
	})
}

func (s *Session) synthesized(ev synthesized) {
	seg := s.current
	if seg == nil || ev.utter != seg.id {
		return
	}
	if ev.err != nil {
		s.log.Warn("Speech synthesis failed", "text", seg.text, "err", ev.err)
		if !seg.fallback && seg.text != fsm.Apology {
			seg.fallback = true
			s.synthesize(seg.id, fsm.Apology)
			return
		}
		s.finish()
		return
	}

	frames := audioconv.SliceFrames(ev.audio, audioconv.FrameSize)
	id := seg.id
	s.player.Play(s.ctx, frames, false, func(uint64) {
		s.post(played{utter: id})
	})
}

func (s *Session) played(utter uint64) {
	if s.current == nil || utter != s.current.id {
		return
	}
	s.finish()
}

func (s *Session) finish() {
	seg := s.current
	s.current = nil
	s.runAfter(seg)
	s.next()
}

func (s *Session) runAfter(seg *segment) {
	for _, in := range seg.after {
		switch v := in.(type) {
		case fsm.Prompt:
			s.armInput()
		case fsm.CollectSpeech:
			if !s.collector.PromptDone(seg.turn) {
				continue
			}
			turn := seg.turn
			s.player.Play(s.ctx, s.deps.Assets.Cue, false, func(uint64) {
				s.post(cuePlayed{turn: turn})
			})
		case fsm.PlayHold:
			s.player.Play(s.ctx, s.deps.Assets.Hold, true, nil)
		case fsm.EndCall:
			s.hangup()
		default:
			s.perform(v)
		}
	}
}

func (s *Session) cuePlayed(turn uint64) {
	if !s.collector.CueDone(turn) {
		return
	}
	s.log.Debug("Listening", "turn", turn, "mode", s.collector.Mode())
	// The recording stops itself at MaxDuration of audio; the timer covers
	// a far end that stops sending media.
	limit := s.cfg.VAD.MaxDuration + 2*time.Second
	s.recTimer = time.AfterFunc(limit, func() {
		s.post(timerFired{kind: timerRecording, gen: turn})
	})
	s.updateInfo()
}

// perform starts a collaborator request.
func (s *Session) perform(in fsm.Instruction) {
	switch v := in.(type) {
	case fsm.LookupByPhone:
		s.request(cs.OpLookupPhone, func(ctx context.Context) (fsm.Event, error) {
			return resolved(s.deps.Records.EmployeeByPhone(ctx, v.Phone))
		})
	case fsm.LookupByPIN:
		s.request(cs.OpLookupPIN, func(ctx context.Context) (fsm.Event, error) {
			return resolved(s.deps.Records.EmployeeByPIN(ctx, v.PIN))
		})
	case fsm.LoadOccurrences:
		s.request(cs.OpLoadOccurrences, func(ctx context.Context) (fsm.Event, error) {
			occ, err := s.deps.Records.Occurrences(ctx, v.EmployeeID, v.ProviderID)
			if err != nil {
				return nil, err
			}
			return fsm.OccurrencesLoaded{Occurrences: occ}, nil
		})
	case fsm.SubmitChange:
		s.request(cs.OpSubmit, func(ctx context.Context) (fsm.Event, error) {
			if err := s.deps.Records.SubmitChange(ctx, v.Change); err != nil {
				return nil, err
			}
			return fsm.ChangeSaved{}, nil
		})
	case fsm.Transfer:
		callID := s.state.CallID
		s.async(s.cfg.CollaboratorTimeout, func(ctx context.Context) event {
			err := errNoCallControl
			start := time.Now()
			if s.deps.Calls != nil {
				err = s.deps.Calls.Transfer(ctx, callID, v.To)
			}
			s.deps.Metrics.Collaborator(string(cs.OpTransfer), time.Since(start), err)
			if err != nil {
				s.log.Warn("Transfer failed", "to", v.To, "err", err)
			}
			return dialog{ev: fsm.TransferResult{OK: err == nil}}
		})
	case fsm.Enqueue:
		callID := s.state.CallID
		s.request(cs.OpEnqueue, func(ctx context.Context) (fsm.Event, error) {
			if s.deps.Calls == nil {
				return nil, errNoCallControl
			}
			return nil, s.deps.Calls.Enqueue(ctx, callID)
		})
	case fsm.NotifyOpen:
		s.notify(v)
	default:
		s.log.Error("Unhandled instruction", "instruction", in)
	}
}

// request runs a collaborator call whose outcome goes back to the machine;
// errors become CollaboratorFailed for op.
func (s *Session) request(op cs.Op, fn func(ctx context.Context) (fsm.Event, error)) {
	s.async(s.cfg.CollaboratorTimeout, func(ctx context.Context) event {
		start := time.Now()
		ev, err := fn(ctx)
		s.deps.Metrics.Collaborator(string(op), time.Since(start), err)
		if err != nil {
			s.log.Warn("Collaborator request failed", "op", op, "err", err)
			return dialog{ev: fsm.CollaboratorFailed{Op: op, Err: err}}
		}
		if ev == nil {
			return nil
		}
		return dialog{ev: ev}
	})
}

func resolved(e records.Employee, err error) (fsm.Event, error) {
	if errors.Is(err, records.ErrNotFound) {
		return fsm.EmployeeResolved{}, nil
	}
	if err != nil {
		return nil, err
	}
	emp := e.Ref
	return fsm.EmployeeResolved{Employee: &emp, Providers: e.Providers}, nil
}

// notify is fire and forget; it outlives the call.
func (s *Session) notify(v fsm.NotifyOpen) {
	if s.deps.Notifier == nil {
		return
	}
	n := notify.Notice{
		Event:        notify.EventShiftOpen,
		OccurrenceID: v.OccurrenceID,
		CallID:       s.state.CallID,
		Reason:       s.state.Buffers.Reason,
		At:           time.Now(),
	}
	if s.state.Employee != nil {
		n.EmployeeID = s.state.Employee.ID
	}
	s.detached(func(ctx context.Context) {
		start := time.Now()
		err := s.deps.Notifier.Notify(ctx, n)
		s.deps.Metrics.Collaborator("notify", time.Since(start), err)
		if err != nil {
			s.log.Warn("Notification failed", "occurrence", n.OccurrenceID, "err", err)
		}
	})
}

// hangup ends the call once the goodbye has played.
func (s *Session) hangup() {
	s.ending = true
	if s.deps.Calls == nil || s.state == nil {
		return
	}
	callID := s.state.CallID
	s.detached(func(ctx context.Context) {
		if err := s.deps.Calls.Hangup(ctx, callID); err != nil {
			s.log.Warn("Hangup failed", "err", err)
		}
	})
}

// detached runs fn with a context that survives the session's cancellation.
func (s *Session) detached(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.cfg.CollaboratorTimeout)
		defer cancel()
		fn(ctx)
	}()
}
