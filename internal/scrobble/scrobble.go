// Package scrobble watches transport snapshots and reports plays to the
// configured scrobbling services.
package scrobble

import (
	"time"

	"github.com/charmbracelet/log"

	"tremolo/internal/notify"
	"tremolo/pkg/scrobbling"
)

// A play is submitted once half the track, or four minutes, has gone by.
const maxScrobbleWait = 4 * time.Minute

// Submitter is the slice of the scrobbling manager the watcher needs.
type Submitter interface {
	Scrobble(track scrobbling.Track)
	UpdateNowPlaying(track scrobbling.Track)
}

// Watcher is a notify-bus subscriber that turns snapshot transitions into
// now-playing updates and scrobbles. Bus callbacks only enqueue; all I/O
// happens on the watcher goroutine.
type Watcher struct {
	mgr    Submitter
	logger *log.Logger

	snaps chan notify.Snapshot
	done  chan struct{}

	sub int

	cur     *notify.TrackInfo
	started time.Time
}

// Attach subscribes a watcher to bus.
func Attach(bus *notify.Bus, mgr Submitter, logger *log.Logger) *Watcher {
	w := &Watcher{
		mgr:    mgr,
		logger: logger,
		snaps:  make(chan notify.Snapshot, 16),
		done:   make(chan struct{}),
	}
	w.sub = bus.Add(w.onSnapshot)
	go w.run(bus)
	return w
}

// Close detaches the watcher and flushes a pending scrobble.
func (w *Watcher) Close() {
	close(w.done)
}

func (w *Watcher) onSnapshot(s notify.Snapshot) {
	select {
	case w.snaps <- s:
	default:
		// A dropped snapshot only delays the update to the next publish.
	}
}

func (w *Watcher) run(bus *notify.Bus) {
	for {
		select {
		case s := <-w.snaps:
			w.handle(s)
		case <-w.done:
			bus.Remove(w.sub)
			w.finish()
			return
		}
	}
}

func (w *Watcher) handle(s notify.Snapshot) {
	var playing *notify.TrackInfo
	if s.Status == notify.StatusPlaying && s.Track != nil {
		playing = s.Track
	}

	if w.cur != nil && (playing == nil || playing.URI != w.cur.URI) {
		w.finish()
	}

	if playing != nil && w.cur == nil {
		w.cur = playing
		w.started = time.Now()
		w.mgr.UpdateNowPlaying(toScrobble(playing, w.started))
	}
}

// finish submits the finished (or abandoned) track if it played long enough.
func (w *Watcher) finish() {
	if w.cur == nil {
		return
	}
	t := w.cur
	started := w.started
	w.cur = nil

	played := time.Since(started)
	need := time.Duration(t.DurationMS) * time.Millisecond / 2
	if need > maxScrobbleWait {
		need = maxScrobbleWait
	}
	if played < need {
		w.logger.Debug("skipping scrobble, played too little", "title", t.Title, "played", played)
		return
	}
	w.mgr.Scrobble(toScrobble(t, started))
}

func toScrobble(t *notify.TrackInfo, started time.Time) scrobbling.Track {
	return scrobbling.Track{
		Artist:    t.Artist,
		Title:     t.Title,
		Album:     t.Album,
		Duration:  t.DurationMS / 1000,
		Timestamp: started.Unix(),
	}
}
