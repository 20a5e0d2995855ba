package subsonic

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"tremolo/internal/catalog"
)

// deliverRetry is how long the streamer waits before re-offering frames the
// pipeline could not accept.
const deliverRetry = 10 * time.Millisecond

// streamer fetches one track's audio over HTTP, decodes it and pushes PCM
// through the music-delivery callback until the stream ends or it is
// stopped. One streamer per loaded track; seek replaces the streamer.
type streamer struct {
	logger  *log.Logger
	url     string
	hint    string // format hint from track metadata (file suffix)
	skipMS  int
	deliver func(catalog.Format, []byte, int) int
	onEnd   func()

	format catalog.Format
	frames atomic.Int64

	mu     sync.Mutex
	paused bool
	resume chan struct{}

	cancel chan struct{}
	stop   sync.Once
	done   chan struct{}
}

func newStreamer(logger *log.Logger, url, hint string, skipMS int, paused bool,
	deliver func(catalog.Format, []byte, int) int, onEnd func()) *streamer {
	return &streamer{
		logger:  logger,
		url:     url,
		hint:    hint,
		skipMS:  skipMS,
		deliver: deliver,
		onEnd:   onEnd,
		paused:  paused,
		resume:  make(chan struct{}, 1),
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *streamer) start() {
	go s.run()
}

// pauseStream suspends delivery. The run loop notices and emits the
// zero-frame flush delivery.
func (s *streamer) pauseStream() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *streamer) resumeStream() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	select {
	case s.resume <- struct{}{}:
	default:
	}
}

// stopStream cancels the run loop and flushes the downstream pipeline.
func (s *streamer) stopStream() {
	s.stop.Do(func() {
		close(s.cancel)
		s.deliver(s.format, nil, 0)
	})
}

func (s *streamer) stopped() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

// deliveredMS reports how much audio has been handed to the pipeline,
// relative to the start of this streamer.
func (s *streamer) deliveredMS() int {
	if s.format.SampleRate == 0 {
		return 0
	}
	return int(s.frames.Load() * 1000 / int64(s.format.SampleRate))
}

func (s *streamer) run() {
	defer close(s.done)

	if err := s.stream(); err != nil {
		if s.stopped() {
			return
		}
		s.logger.Error("stream failed", "err", err)
	}
	if s.stopped() {
		return
	}
	// Finished (or unrecoverable): report end of track so the queue moves on.
	s.onEnd()
}

func (s *streamer) stream() error {
	// Streaming connections get their own client: no overall timeout.
	client := &http.Client{}
	req, err := http.NewRequest("GET", s.url, nil)
	if err != nil {
		return fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("User-Agent", "tremolod/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream request returned %d", resp.StatusCode)
	}

	name := formatFromContentType(resp.Header.Get("Content-Type"))
	if name == "" {
		name = s.hint
	}
	dec, err := newDecoder(name)
	if err != nil {
		return err
	}
	pcm, err := dec.Decode(resp.Body)
	if err != nil {
		return fmt.Errorf("decoding stream: %w", err)
	}

	s.format = catalog.Format{
		SampleRate: dec.SampleRate(),
		Channels:   dec.Channels(),
		SampleType: catalog.SampleS16NE,
	}
	frameSize := s.format.FrameSize()

	if s.skipMS > 0 {
		skip := int64(s.skipMS) * int64(s.format.SampleRate) / 1000 * int64(frameSize)
		if _, err := io.CopyN(io.Discard, pcm, skip); err != nil {
			return fmt.Errorf("seeking in stream: %w", err)
		}
	}

	buf := make([]byte, 4096)
	pending := 0
	for {
		if s.stopped() {
			return nil
		}
		if s.waitWhilePaused() {
			return nil
		}

		n, err := pcm.Read(buf[pending:])
		pending += n

		whole := pending / frameSize * frameSize
		if whole > 0 {
			if !s.push(buf[:whole], frameSize) {
				return nil
			}
			copy(buf, buf[whole:pending])
			pending -= whole
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
	}
}

// push offers chunk to the pipeline until everything is accepted, backing
// off while the ring is full. Returns false when the streamer was stopped.
func (s *streamer) push(chunk []byte, frameSize int) bool {
	off := 0
	for off < len(chunk) {
		if s.stopped() {
			return false
		}
		if s.waitWhilePaused() {
			return false
		}
		frames := (len(chunk) - off) / frameSize
		accepted := s.deliver(s.format, chunk[off:], frames)
		if accepted == 0 {
			time.Sleep(deliverRetry)
			continue
		}
		off += accepted * frameSize
		s.frames.Add(int64(accepted))
	}
	return true
}

// waitWhilePaused blocks while the streamer is paused, emitting the
// zero-frame flush delivery on entry. Returns true when stopped.
func (s *streamer) waitWhilePaused() bool {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if !paused {
		return false
	}

	s.deliver(s.format, nil, 0)
	for {
		select {
		case <-s.resume:
			s.mu.Lock()
			paused = s.paused
			s.mu.Unlock()
			if !paused {
				return false
			}
		case <-s.cancel:
			return true
		}
	}
}
