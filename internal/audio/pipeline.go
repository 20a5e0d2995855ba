package audio

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"tremolo/internal/catalog"
)

const (
	// BufferCount is the number of frame buffers in the ring.
	BufferCount = 16
	// BufferCapacity is the byte capacity of one buffer.
	BufferCapacity = 8192

	// idleTimeout is how long the consumer waits without deliveries before
	// releasing the output device.
	idleTimeout = 5 * time.Second
)

type buffer struct {
	data   [BufferCapacity]byte
	size   int
	format catalog.Format
}

// Stats is the pipeline counters snapshot returned by Stats. Stutters resets
// on read.
type Stats struct {
	QueuedFrames int
	Stutters     int
}

// Pipeline is the bounded producer/consumer ring between the catalog's
// delivery callback and the output sink. The producer never blocks: with no
// free buffer it reports zero accepted frames and the library retries. One
// consumer goroutine drains full buffers into the sink.
type Pipeline struct {
	mu       sync.Mutex
	free     []*buffer
	full     []*buffer
	playing  bool
	stutters int

	sink   OutputSink
	logger *log.Logger

	signal chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewPipeline allocates the buffer ring and starts the consumer.
func NewPipeline(sink OutputSink, logger *log.Logger) *Pipeline {
	p := &Pipeline{
		sink:   sink,
		logger: logger,
		free:   make([]*buffer, BufferCount),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for i := range p.free {
		p.free[i] = &buffer{}
	}
	p.wg.Add(1)
	go p.consume()
	return p
}

// Deliver accepts PCM from the producer and returns the number of frames
// copied into the ring. A call with numFrames == 0 is the pause signal: all
// queued buffers return to the free ring and the sink flushes; frames the
// sink already accepted are not revoked.
func (p *Pipeline) Deliver(format catalog.Format, frames []byte, numFrames int) int {
	if numFrames == 0 {
		p.mu.Lock()
		p.free = append(p.free, p.full...)
		p.full = p.full[:0]
		p.playing = false
		p.mu.Unlock()
		if err := p.sink.Flush(); err != nil {
			p.logger.Warn("sink flush failed", "err", err)
		}
		return 0
	}

	fs := format.FrameSize()
	size := numFrames * fs
	if size > BufferCapacity {
		size = BufferCapacity - BufferCapacity%fs
	}

	p.mu.Lock()
	if len(p.free) == 0 {
		p.mu.Unlock()
		return 0
	}
	buf := p.free[0]
	p.free = p.free[1:]
	copy(buf.data[:size], frames[:size])
	buf.size = size
	buf.format = format
	p.full = append(p.full, buf)
	p.playing = true
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
	return size / fs
}

// Stats reports queued frames and the stutter count since the previous call.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	queued := 0
	for _, b := range p.full {
		queued += b.size / b.format.FrameSize()
	}
	s := Stats{QueuedFrames: queued, Stutters: p.stutters}
	p.stutters = 0
	return s
}

// Close stops the consumer and releases the sink.
func (p *Pipeline) Close() {
	close(p.done)
	p.wg.Wait()
	p.sink.Close()
}

func (p *Pipeline) consume() {
	defer p.wg.Done()
	for {
		buf, ok := p.next()
		if !ok {
			return
		}
		p.write(buf)

		p.mu.Lock()
		p.free = append(p.free, buf)
		if len(p.full) == 0 && p.playing {
			// Consumer caught up with the producer mid-playback.
			p.stutters++
		}
		p.mu.Unlock()
	}
}

// next blocks until a full buffer is available or the pipeline shuts down.
// After idleTimeout without deliveries the sink is closed; the next buffer
// reopens it transparently on write.
func (p *Pipeline) next() (*buffer, bool) {
	for {
		p.mu.Lock()
		if len(p.full) > 0 {
			buf := p.full[0]
			p.full = p.full[1:]
			p.mu.Unlock()
			return buf, true
		}
		p.mu.Unlock()

		select {
		case <-p.signal:
		case <-p.done:
			return nil, false
		case <-time.After(idleTimeout):
			p.logger.Debug("no deliveries, releasing output device")
			if err := p.sink.Close(); err != nil {
				p.logger.Warn("sink close failed", "err", err)
			}
			select {
			case <-p.signal:
			case <-p.done:
				return nil, false
			}
		}
	}
}

// write pushes one buffer into the sink, looping while the sink accepts
// partial writes.
func (p *Pipeline) write(buf *buffer) {
	fs := buf.format.FrameSize()
	off := 0
	for off < buf.size {
		n, err := p.sink.Write(buf.data[off:buf.size], buf.format)
		if err != nil {
			p.logger.Error("sink write failed", "err", err)
			return
		}
		if n == 0 {
			// Sink saturated; give the device a moment.
			time.Sleep(5 * time.Millisecond)
			continue
		}
		off += n * fs
	}
}
