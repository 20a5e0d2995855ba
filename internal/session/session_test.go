package session_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tremolo/internal/audio"
	"tremolo/internal/catalog"
	"tremolo/internal/catalog/catalogtest"
	"tremolo/internal/session"
)

type fakeTransport struct {
	mu         sync.Mutex
	endOfTrack int
	tokenLost  int
}

func (f *fakeTransport) EndOfTrack() {
	f.mu.Lock()
	f.endOfTrack++
	f.mu.Unlock()
}

func (f *fakeTransport) PauseFromTokenLoss() {
	f.mu.Lock()
	f.tokenLost++
	f.mu.Unlock()
}

func (f *fakeTransport) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endOfTrack, f.tokenLost
}

func newTestSession(t *testing.T) (*session.Session, *catalogtest.Session, *fakeTransport, func()) {
	t.Helper()
	logger := log.New(io.Discard)
	pipe := audio.NewPipeline(audio.NullSink{}, logger)
	sess := session.New(pipe, logger)
	cat := catalogtest.NewSession()
	cat.SetCallbacks(sess.Callbacks())
	tr := &fakeTransport{}
	sess.Bind(cat, tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()
	cleanup := func() {
		cancel()
		<-done
		pipe.Close()
	}
	return sess, cat, tr, cleanup
}

func TestLoginSignalsWaiter(t *testing.T) {
	sess, _, _, cleanup := newTestSession(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sess.Login(ctx, "user", "pass"))
	require.NoError(t, sess.WaitContainer(ctx))
}

func TestLoginFailureSurfaces(t *testing.T) {
	sess, cat, _, cleanup := newTestSession(t)
	defer cleanup()
	cat.LoginErr = assert.AnError

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, sess.Login(ctx, "user", "bad"))
}

func TestEndOfTrackReachesTransport(t *testing.T) {
	_, cat, tr, cleanup := newTestSession(t)
	defer cleanup()

	cat.FireEndOfTrack()

	require.Eventually(t, func() bool {
		eot, _ := tr.counts()
		return eot == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPlayTokenLossPausesTransport(t *testing.T) {
	_, cat, tr, cleanup := newTestSession(t)
	defer cleanup()

	cat.FirePlayTokenLost()

	require.Eventually(t, func() bool {
		_, lost := tr.counts()
		return lost == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPlayerCommandsRunOnPump(t *testing.T) {
	sess, cat, _, cleanup := newTestSession(t)
	defer cleanup()

	track := catalogtest.NewTrack("test:a", "a", 1000)
	require.NoError(t, sess.Load(track))
	sess.Play()
	sess.Pause()
	sess.Seek(500)
	sess.Unload()

	require.Eventually(t, func() bool {
		calls := cat.Calls()
		return len(calls) == 5
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"load test:a", "play", "pause", "seek 500", "unload"}, cat.Calls())
}

func TestMusicDeliveryFeedsPipeline(t *testing.T) {
	sess, cat, _, cleanup := newTestSession(t)
	defer cleanup()
	_ = sess

	format := catalog.Format{SampleRate: 44100, Channels: 2, SampleType: catalog.SampleS16NE}
	frames := make([]byte, 400)
	accepted := cat.Deliver(format, frames, len(frames)/format.FrameSize())
	assert.Equal(t, len(frames)/format.FrameSize(), accepted)
}

func TestUnsupportedSampleTypeIsFatal(t *testing.T) {
	sess, cat, _, cleanup := newTestSession(t)
	defer cleanup()

	format := catalog.Format{SampleRate: 44100, Channels: 2, SampleType: catalog.SampleType(99)}
	frames := make([]byte, 400)
	accepted := cat.Deliver(format, frames, 100)
	assert.Equal(t, 100, accepted, "bad-format frames are swallowed, not retried")

	select {
	case err := <-sess.Fatal():
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected a fatal error")
	}
}

func TestLoadKeepsTrackReference(t *testing.T) {
	sess, _, _, cleanup := newTestSession(t)
	defer cleanup()

	track := catalogtest.NewTrack("test:a", "a", 1000)
	require.NoError(t, sess.Load(track))
	require.Eventually(t, func() bool {
		return track.Refs() == 2
	}, time.Second, 5*time.Millisecond)

	sess.Unload()
	require.Eventually(t, func() bool {
		return track.Refs() == 1
	}, time.Second, 5*time.Millisecond)
}
