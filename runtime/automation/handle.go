package automation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Handle controls a running loop.
type Handle struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Stop signals the loop and waits for it to exit. A job already running
// finishes first.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Start records the start time, runs every enabled job once and then
// starts the polling loop. Calling Start while a loop is running returns
// the existing handle.
func (s *Scheduler) Start(ctx context.Context) *Handle {
	s.mu.Lock()
	if s.handle != nil && s.handle.running() {
		h := s.handle
		s.mu.Unlock()
		return h
	}
	h := &Handle{stop: make(chan struct{}), done: make(chan struct{})}
	s.handle = h
	s.mu.Unlock()

	started := s.now()
	s.state.MarkStarted(started)
	for _, job := range primeOrder {
		jc, ok := s.jobs[job]
		if !ok || !jc.Enabled {
			continue
		}
		_ = s.runAndRecord(ctx, job, TriggerStartup, started)
		s.scheduleNext(job, started)
	}
	log.Info().Str("component", "runtime").Dur("poll", s.poll).Msg("runtime_started")

	go s.loop(ctx, h)
	return h
}

func (s *Scheduler) loop(ctx context.Context, h *Handle) {
	defer close(h.done)
	defer log.Info().Str("component", "runtime").Msg("runtime_stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		select {
		case <-h.stop:
			return
		default:
		}
		s.RunDue(ctx, s.now())
		timer.Reset(s.poll)
	}
}
