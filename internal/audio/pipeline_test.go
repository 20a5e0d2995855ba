package audio

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tremolo/internal/catalog"
)

var fmt44 = catalog.Format{SampleRate: 44100, Channels: 2, SampleType: catalog.SampleS16NE}
var fmt48 = catalog.Format{SampleRate: 48000, Channels: 2, SampleType: catalog.SampleS16NE}

// scriptSink records every write and emulates the format-change contract:
// a new format flushes, closes and reopens the device.
type scriptSink struct {
	mu      sync.Mutex
	chunks  [][]byte
	formats []catalog.Format
	flushes int
	closes  int
	opens   int
	open    bool

	gate chan struct{} // non-nil: Write blocks until it can receive
}

func (s *scriptSink) Write(frames []byte, format catalog.Format) (int, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open && len(s.formats) > 0 && s.formats[len(s.formats)-1] != format {
		s.flushes++
		s.closes++
		s.open = false
	}
	if !s.open {
		s.opens++
		s.open = true
	}
	cp := make([]byte, len(frames))
	copy(cp, frames)
	s.chunks = append(s.chunks, cp)
	s.formats = append(s.formats, format)
	return len(frames) / format.FrameSize(), nil
}

func (s *scriptSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *scriptSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		s.closes++
		s.open = false
	}
	return nil
}

func (s *scriptSink) bytesWritten() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

func pcm(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

func (p *Pipeline) ringSizes() (free, full int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free), len(p.full)
}

func TestDeliverPreservesFrameOrder(t *testing.T) {
	sink := &scriptSink{}
	p := NewPipeline(sink, log.New(io.Discard))
	defer p.Close()

	input := pcm(1024, 1)
	frames := len(input) / fmt44.FrameSize()
	accepted := p.Deliver(fmt44, input, frames)
	require.Equal(t, frames, accepted)

	require.Eventually(t, func() bool {
		return bytes.Equal(sink.bytesWritten(), input)
	}, time.Second, 5*time.Millisecond)
}

func TestDeliverCapsAtBufferCapacity(t *testing.T) {
	sink := &scriptSink{}
	p := NewPipeline(sink, log.New(io.Discard))
	defer p.Close()

	input := pcm(BufferCapacity*2, 1)
	frames := len(input) / fmt44.FrameSize()
	accepted := p.Deliver(fmt44, input, frames)
	assert.Equal(t, BufferCapacity/fmt44.FrameSize(), accepted)
}

func TestDeliverBackpressureReturnsZero(t *testing.T) {
	sink := &scriptSink{gate: make(chan struct{})}
	p := NewPipeline(sink, log.New(io.Discard))
	defer p.Close()

	chunk := pcm(BufferCapacity, 1)
	frames := len(chunk) / fmt44.FrameSize()

	// The consumer can hold at most one buffer in flight; filling the ring
	// plus one must hit a zero return.
	sawZero := false
	for i := 0; i < BufferCount+2; i++ {
		if p.Deliver(fmt44, chunk, frames) == 0 {
			sawZero = true
			break
		}
	}
	assert.True(t, sawZero, "a full ring must refuse frames")
	close(sink.gate)
}

func TestPauseFlushEmptiesRing(t *testing.T) {
	sink := &scriptSink{gate: make(chan struct{})}
	p := NewPipeline(sink, log.New(io.Discard))
	defer p.Close()

	chunk := pcm(BufferCapacity, 1)
	frames := len(chunk) / fmt44.FrameSize()
	for i := 0; i < 5; i++ {
		require.NotZero(t, p.Deliver(fmt44, chunk, frames))
	}
	_, full := p.ringSizes()
	require.NotZero(t, full)

	got := p.Deliver(fmt44, nil, 0)
	assert.Equal(t, 0, got)

	free, full := p.ringSizes()
	assert.Equal(t, 0, full)
	// One buffer may sit with the gated consumer; the rest must be free.
	assert.GreaterOrEqual(t, free, BufferCount-1)
	assert.Equal(t, 0, p.Stats().QueuedFrames)

	close(sink.gate)
}

func TestRingConservation(t *testing.T) {
	sink := &scriptSink{}
	p := NewPipeline(sink, log.New(io.Discard))
	defer p.Close()

	chunk := pcm(512, 3)
	frames := len(chunk) / fmt44.FrameSize()
	for i := 0; i < 50; i++ {
		p.Deliver(fmt44, chunk, frames)
		free, full := p.ringSizes()
		// The consumer may hold one buffer outside both rings.
		total := free + full
		assert.GreaterOrEqual(t, total, BufferCount-1)
		assert.LessOrEqual(t, total, BufferCount)
	}

	require.Eventually(t, func() bool {
		free, full := p.ringSizes()
		return free == BufferCount && full == 0
	}, time.Second, 5*time.Millisecond)
}

func TestFormatChangeReopensSink(t *testing.T) {
	sink := &scriptSink{}
	p := NewPipeline(sink, log.New(io.Discard))
	defer p.Close()

	first := pcm(4000, 1)
	second := pcm(4000, 101)
	p.Deliver(fmt44, first, len(first)/fmt44.FrameSize())
	require.Eventually(t, func() bool {
		return len(sink.bytesWritten()) == len(first)
	}, time.Second, 5*time.Millisecond)

	p.Deliver(fmt48, second, len(second)/fmt48.FrameSize())
	require.Eventually(t, func() bool {
		return len(sink.bytesWritten()) == len(first)+len(second)
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 2, sink.opens, "sink must reopen for the new format")
	assert.GreaterOrEqual(t, sink.flushes, 1)

	// No frames of the first burst may follow the reopen.
	seen48 := false
	for i, f := range sink.formats {
		if f == fmt48 {
			seen48 = true
		}
		if seen48 {
			assert.Equal(t, fmt48, f, "write %d regressed to the old format", i)
		}
	}
}

func TestStutterAccounting(t *testing.T) {
	sink := &scriptSink{}
	p := NewPipeline(sink, log.New(io.Discard))
	defer p.Close()

	chunk := pcm(512, 1)
	frames := len(chunk) / fmt44.FrameSize()
	p.Deliver(fmt44, chunk, frames)

	// Consumer drains the single buffer and finds the ring empty while
	// playing: that is an underflow.
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.stutters > 0
	}, time.Second, 5*time.Millisecond)

	stats := p.Stats()
	assert.NotZero(t, stats.Stutters)
	assert.Zero(t, p.Stats().Stutters, "stutter count resets on read")
}

func TestPauseClearsPlayingSoNoStutters(t *testing.T) {
	sink := &scriptSink{}
	p := NewPipeline(sink, log.New(io.Discard))
	defer p.Close()

	chunk := pcm(512, 1)
	p.Deliver(fmt44, chunk, len(chunk)/fmt44.FrameSize())
	require.Eventually(t, func() bool {
		free, _ := p.ringSizes()
		return free == BufferCount
	}, time.Second, 5*time.Millisecond)

	p.Deliver(fmt44, nil, 0)
	p.Stats() // reset

	// Idle while paused: no further stutters accumulate.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, p.Stats().Stutters)
}
