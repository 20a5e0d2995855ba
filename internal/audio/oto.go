package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"tremolo/internal/catalog"
)

// staging ring between Write and the pull-based oto player
const otoStagingBytes = 64 * 1024

// OtoSink renders PCM to the system audio device through oto. oto allows a
// single context per process, created for the first format seen; a later
// format change reopens the player, and a sample-rate change beyond that is
// logged (the device keeps the context rate).
type OtoSink struct {
	mu     sync.Mutex
	logger *log.Logger

	ctx    *oto.Context
	player *oto.Player
	buf    *stagingBuffer
	format catalog.Format
	open   bool
}

// NewOtoSink creates a device sink. The device itself is opened lazily on
// the first Write.
func NewOtoSink(logger *log.Logger) *OtoSink {
	return &OtoSink{logger: logger}
}

func (s *OtoSink) Write(frames []byte, format catalog.Format) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open && format != s.format {
		// Format change: drop staged output and reopen for the new format.
		s.buf.reset()
		s.closeLocked()
	}
	if !s.open {
		if err := s.openLocked(format); err != nil {
			return 0, err
		}
	}

	fs := format.FrameSize()
	accepted := s.buf.write(frames, fs)
	return accepted / fs, nil
}

func (s *OtoSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf != nil {
		s.buf.reset()
	}
	return nil
}

func (s *OtoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *OtoSink) openLocked(format catalog.Format) error {
	if s.ctx == nil {
		op := &oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   100 * time.Millisecond,
		}
		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			return fmt.Errorf("creating audio context: %w", err)
		}
		<-ready
		s.ctx = ctx
		s.buf = newStagingBuffer(otoStagingBytes)
	} else if format.SampleRate != s.format.SampleRate && s.format.SampleRate != 0 {
		s.logger.Warn("audio context pinned to initial sample rate",
			"context_rate", s.format.SampleRate, "stream_rate", format.SampleRate)
	}

	s.player = s.ctx.NewPlayer(s.buf)
	s.player.Play()
	s.format = format
	s.open = true
	return nil
}

func (s *OtoSink) closeLocked() {
	if s.player != nil {
		s.player.Close()
		s.player = nil
	}
	s.open = false
}

// stagingBuffer is a bounded FIFO of PCM bytes. Write is called by the
// pipeline consumer, Read by oto's playback goroutine. When empty, Read
// hands out silence so the device never starves.
type stagingBuffer struct {
	mu   sync.Mutex
	data []byte
	cap  int
}

func newStagingBuffer(capacity int) *stagingBuffer {
	return &stagingBuffer{cap: capacity}
}

// write appends whole frames up to the free capacity and returns the number
// of bytes taken.
func (b *stagingBuffer) write(p []byte, frameSize int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.cap - len(b.data)
	n := len(p)
	if n > room {
		n = room
	}
	n = (n / frameSize) * frameSize
	b.data = append(b.data, p[:n]...)
	return n
}

func (b *stagingBuffer) reset() {
	b.mu.Lock()
	b.data = b.data[:0]
	b.mu.Unlock()
}

func (b *stagingBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		// Silence keeps the device fed between deliveries.
		n := len(p)
		if n > 256 {
			n = 256
		}
		for i := 0; i < n; i++ {
			p[i] = 0
		}
		return n, nil
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}
