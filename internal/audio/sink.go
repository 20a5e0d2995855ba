// Package audio moves PCM from the catalog's delivery callback to an output
// sink through a bounded ring of buffers, decoupling the producer from the
// device.
package audio

import (
	"io"
	"sync"

	"tremolo/internal/catalog"
)

// OutputSink renders PCM frames to some output. Write is non-blocking in the
// sense that it consumes what it can and reports the count; it never waits
// for the device to drain. Implementations must tolerate concurrent Flush
// and Close calls: the pipeline producer flushes while the consumer writes.
//
// A sink that receives a Write with a format different from the previous one
// must flush, close and reopen itself for the new format before accepting
// frames.
type OutputSink interface {
	// Write consumes up to len(frames)/format.FrameSize() frames and returns
	// how many it accepted.
	Write(frames []byte, format catalog.Format) (int, error)
	// Flush discards queued but not yet rendered output.
	Flush() error
	// Close releases the device. A later Write reopens it.
	Close() error
}

// NullSink swallows everything. Used when the daemon runs without an audio
// device.
type NullSink struct{}

func (NullSink) Write(frames []byte, format catalog.Format) (int, error) {
	return len(frames) / format.FrameSize(), nil
}

func (NullSink) Flush() error { return nil }
func (NullSink) Close() error { return nil }

// WriterSink streams raw PCM to an io.Writer, typically a pipe into an
// external player or a file.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps w as an output sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Write(frames []byte, format catalog.Format) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs := format.FrameSize()
	n := (len(frames) / fs) * fs
	written, err := s.w.Write(frames[:n])
	return written / fs, err
}

func (s *WriterSink) Flush() error { return nil }
func (s *WriterSink) Close() error { return nil }
