package scrobble

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tremolo/internal/notify"
	"tremolo/pkg/scrobbling"
)

type fakeSubmitter struct {
	mu         sync.Mutex
	scrobbles  []scrobbling.Track
	nowPlaying []scrobbling.Track
}

func (f *fakeSubmitter) Scrobble(t scrobbling.Track) {
	f.mu.Lock()
	f.scrobbles = append(f.scrobbles, t)
	f.mu.Unlock()
}

func (f *fakeSubmitter) UpdateNowPlaying(t scrobbling.Track) {
	f.mu.Lock()
	f.nowPlaying = append(f.nowPlaying, t)
	f.mu.Unlock()
}

func (f *fakeSubmitter) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scrobbles), len(f.nowPlaying)
}

func playingSnapshot(uri string, durationMS int) notify.Snapshot {
	return notify.Snapshot{
		Status:       notify.StatusPlaying,
		TotalTracks:  1,
		CurrentTrack: 0,
		Track: &notify.TrackInfo{
			Title:      "t",
			Artist:     "a",
			URI:        uri,
			DurationMS: durationMS,
		},
	}
}

func TestNowPlayingOnTrackStart(t *testing.T) {
	bus := notify.NewBus()
	sub := &fakeSubmitter{}
	w := Attach(bus, sub, log.New(io.Discard))
	defer w.Close()

	bus.Publish(playingSnapshot("test:a", 100))

	require.Eventually(t, func() bool {
		_, np := sub.counts()
		return np == 1
	}, time.Second, 5*time.Millisecond)
}

func TestScrobbleAfterHalfTheTrack(t *testing.T) {
	bus := notify.NewBus()
	sub := &fakeSubmitter{}
	w := Attach(bus, sub, log.New(io.Discard))
	defer w.Close()

	bus.Publish(playingSnapshot("test:a", 100))
	time.Sleep(80 * time.Millisecond) // comfortably past the 50 ms threshold
	bus.Publish(notify.Snapshot{Status: notify.StatusStopped, CurrentTrack: -1})

	require.Eventually(t, func() bool {
		sc, _ := sub.counts()
		return sc == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNoScrobbleForShortPlay(t *testing.T) {
	bus := notify.NewBus()
	sub := &fakeSubmitter{}
	w := Attach(bus, sub, log.New(io.Discard))
	defer w.Close()

	// A full hour of track, stopped right away: nowhere near the threshold.
	bus.Publish(playingSnapshot("test:a", 3600*1000))
	bus.Publish(notify.Snapshot{Status: notify.StatusStopped, CurrentTrack: -1})

	time.Sleep(50 * time.Millisecond)
	sc, _ := sub.counts()
	assert.Zero(t, sc)
}

func TestTrackChangeScrobblesPrevious(t *testing.T) {
	bus := notify.NewBus()
	sub := &fakeSubmitter{}
	w := Attach(bus, sub, log.New(io.Discard))
	defer w.Close()

	bus.Publish(playingSnapshot("test:a", 100))
	time.Sleep(80 * time.Millisecond)
	bus.Publish(playingSnapshot("test:b", 100))

	require.Eventually(t, func() bool {
		sc, np := sub.counts()
		return sc == 1 && np == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRepeatedSnapshotsOfSameTrackAreQuiet(t *testing.T) {
	bus := notify.NewBus()
	sub := &fakeSubmitter{}
	w := Attach(bus, sub, log.New(io.Discard))
	defer w.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(playingSnapshot("test:a", 100))
	}

	time.Sleep(50 * time.Millisecond)
	sc, np := sub.counts()
	assert.Zero(t, sc)
	assert.Equal(t, 1, np, "one now-playing per track, not per snapshot")
}
