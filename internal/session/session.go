// Package session owns the catalog library handle and its event pump. The
// pump goroutine is the only caller of the catalog's mutating API; commands
// from other goroutines are enqueued onto a single-consumer work queue
// drained between ProcessEvents calls.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"tremolo/internal/audio"
	"tremolo/internal/catalog"
)

// Transport is the slice of the queue the session reports events to.
type Transport interface {
	EndOfTrack()
	PauseFromTokenLoss()
}

// Session drives the catalog library and forwards PCM to the pipeline.
type Session struct {
	cat    catalog.Session
	pipe   *audio.Pipeline
	logger *log.Logger

	transport Transport

	notifyCh chan struct{} // pump wake-up semaphore

	workMu sync.Mutex
	work   []func()

	loggedIn  chan error
	container chan struct{}
	fatal     chan error

	mu     sync.Mutex
	loaded catalog.Track
}

// New creates a session shell. Bind must be called with the catalog handle
// built from Callbacks before Run.
func New(pipe *audio.Pipeline, logger *log.Logger) *Session {
	return &Session{
		pipe:      pipe,
		logger:    logger,
		notifyCh:  make(chan struct{}, 1),
		loggedIn:  make(chan error, 1),
		container: make(chan struct{}),
		fatal:     make(chan error, 1),
	}
}

// Bind attaches the catalog handle and the transport event target.
func (s *Session) Bind(cat catalog.Session, t Transport) {
	s.cat = cat
	s.transport = t
}

// Callbacks returns the hook set to hand to the catalog library.
func (s *Session) Callbacks() catalog.Callbacks {
	return catalog.Callbacks{
		LoggedIn: func(err error) {
			select {
			case s.loggedIn <- err:
			default:
			}
		},
		EndOfTrack: func() {
			// Never call back into the library from its own callback; let
			// the pump advance the queue after ProcessEvents returns.
			s.Post(func() { s.transport.EndOfTrack() })
		},
		MusicDelivery: func(format catalog.Format, frames []byte, numFrames int) int {
			if format.SampleType != catalog.SampleS16NE {
				s.failf("unsupported PCM sample type %d", format.SampleType)
				return numFrames // swallow so the producer stops retrying
			}
			return s.pipe.Deliver(format, frames, numFrames)
		},
		PlayTokenLost: func() {
			s.Post(func() { s.transport.PauseFromTokenLoss() })
		},
		NotifyMainThread: s.wake,
		ContainerLoaded: func() {
			select {
			case <-s.container:
			default:
				close(s.container)
			}
		},
		ConnectionError: func(err error) {
			s.logger.Warn("catalog connection error", "err", err)
		},
		MessageToUser: func(msg string) {
			s.logger.Info("catalog message", "msg", msg)
		},
		LogMessage: func(msg string) {
			s.logger.Debug("catalog", "msg", msg)
		},
	}
}

// Login starts authentication and blocks until the catalog reports the
// outcome or ctx expires. A login failure is fatal for the daemon.
func (s *Session) Login(ctx context.Context, username, password string) error {
	started := make(chan error, 1)
	s.Post(func() { started <- s.cat.Login(username, password) })
	select {
	case err := <-started:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-s.loggedIn:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitContainer blocks until the playlist container is loaded.
func (s *Session) WaitContainer(ctx context.Context) error {
	select {
	case <-s.container:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fatal delivers the first fatal session error, if any.
func (s *Session) Fatal() <-chan error {
	return s.fatal
}

// Run is the event pump. It drives ProcessEvents, drains the work queue
// between calls, and sleeps on the notify semaphore with the
// library-suggested timeout. Returns when ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	for {
		var timeout time.Duration
		for {
			timeout = s.cat.ProcessEvents()
			if timeout > 0 {
				break
			}
		}
		s.drain()

		select {
		case <-s.notifyCh:
		case <-time.After(timeout):
		case <-ctx.Done():
			s.teardown()
			return
		}
	}
}

// Post enqueues fn for execution on the pump goroutine.
func (s *Session) Post(fn func()) {
	s.workMu.Lock()
	s.work = append(s.work, fn)
	s.workMu.Unlock()
	s.wake()
}

func (s *Session) drain() {
	for {
		s.workMu.Lock()
		if len(s.work) == 0 {
			s.workMu.Unlock()
			return
		}
		fn := s.work[0]
		s.work = s.work[1:]
		s.workMu.Unlock()
		fn()
	}
}

func (s *Session) wake() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *Session) failf(format string, args ...any) {
	err := fmt.Errorf(format, args...)
	s.logger.Error("fatal session error", "err", err)
	select {
	case s.fatal <- err:
	default:
	}
}

// teardown is the orderly shutdown driven from the pump goroutine: stop the
// player, then release the library handle.
func (s *Session) teardown() {
	s.cat.PlayerUnload()
	s.setLoaded(nil)
	if err := s.cat.Close(); err != nil {
		s.logger.Warn("catalog close failed", "err", err)
	}
}

func (s *Session) setLoaded(t catalog.Track) {
	s.mu.Lock()
	prev := s.loaded
	s.loaded = t
	s.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
}

// --- queue.Player implementation -----------------------------------------
// These are called with the queue lock held; they enqueue onto the session
// work queue (queue lock orders before the work-queue lock) and never touch
// the library directly.

// Load points the catalog player at t. The session keeps its own reference
// to the loaded track until Unload or the next Load.
func (s *Session) Load(t catalog.Track) error {
	t.AddRef()
	s.setLoaded(t)
	s.Post(func() {
		if err := s.cat.PlayerLoad(t); err != nil {
			s.logger.Error("player load failed", "uri", t.URI(), "err", err)
		}
	})
	return nil
}

// Play starts or restarts delivery for the loaded track.
func (s *Session) Play() error {
	s.Post(func() {
		if err := s.cat.PlayerPlay(true); err != nil {
			s.logger.Error("player play failed", "err", err)
		}
	})
	return nil
}

// Pause suspends delivery; the library flushes the pipeline by delivering
// zero frames.
func (s *Session) Pause() error {
	s.Post(func() {
		if err := s.cat.PlayerPlay(false); err != nil {
			s.logger.Error("player pause failed", "err", err)
		}
	})
	return nil
}

// Resume restarts delivery after a pause.
func (s *Session) Resume() error { return s.Play() }

// Seek repositions the stream.
func (s *Session) Seek(ms int) error {
	s.Post(func() {
		if err := s.cat.PlayerSeek(ms); err != nil {
			s.logger.Error("player seek failed", "ms", ms, "err", err)
		}
	})
	return nil
}

// Unload drops the loaded track and stops delivery.
func (s *Session) Unload() {
	s.Post(func() {
		s.cat.PlayerUnload()
		s.setLoaded(nil)
	})
}

// PositionMS reports the playback position. Read-only and callback-safe, so
// it skips the work queue.
func (s *Session) PositionMS() int {
	return s.cat.PlayTimeMS()
}
