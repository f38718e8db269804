package call

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"callvox/pkg/audioconv"
)

// MediaSink is the outbound half of the transport.
type MediaSink interface {
	SendMedia(frame []byte) error
	SendClear() error
}

// Player paces frames to the far end, one stream at a time. Starting a
// stream cancels the previous one, waits for it to exit and clears the far
// end's buffer, so frames of two streams never interleave.
type Player struct {
	sink     MediaSink
	interval time.Duration

	mu     sync.Mutex
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPlayer(sink MediaSink, interval time.Duration) *Player {
	if interval <= 0 {
		interval = audioconv.FrameDuration
	}
	return &Player{sink: sink, interval: interval}
}

// Play starts frames and returns the stream id. onDone runs on the
// playback goroutine once every frame was sent; it does not run for an
// interrupted stream or a looping one.
func (p *Player) Play(ctx context.Context, frames [][]byte, loop bool, onDone func(id uint64)) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	p.id++
	id := p.id
	if len(frames) == 0 {
		if onDone != nil {
			go onDone(id)
		}
		return id
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done

	go func() {
		finished := p.stream(ctx, frames, loop)
		close(done)
		if finished && onDone != nil {
			onDone(id)
		}
	}()
	return id
}

// Stop interrupts the current stream, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Playing reports whether a stream is being sent.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil && !closed(p.done)
}

func (p *Player) stopLocked() {
	if p.cancel == nil {
		return
	}
	interrupted := !closed(p.done)
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
	p.id++

	if interrupted {
		if err := p.sink.SendClear(); err != nil {
			log.Debug("Failed to clear far end", "err", err)
		}
	}
}

// stream sends frames at the pacing interval. It reports whether the
// stream ran to its end.
func (p *Player) stream(ctx context.Context, frames [][]byte, loop bool) bool {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		if i == len(frames) {
			if !loop {
				return true
			}
			i = 0
		}
		if ctx.Err() != nil {
			return false
		}
		if err := p.sink.SendMedia(frames[i]); err != nil {
			log.Debug("Failed to send frame", "err", err)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
