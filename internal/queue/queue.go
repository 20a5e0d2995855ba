// Package queue implements the play queue and the transport state machine.
// The two share one mutex: every transport transition is atomic with respect
// to queue mutations. Exported methods take the lock; the *Locked variants
// assume it is already held. Snapshots are published after the lock is
// released so subscribers can call back into the queue.
package queue

import (
	"math/rand"
	"sync"

	"github.com/charmbracelet/log"

	"tremolo/internal/catalog"
	"tremolo/internal/notify"
)

// Player is the slice of the session the queue drives. Implementations
// enqueue the work onto the session's event pump; none of these calls block
// on I/O.
type Player interface {
	Load(t catalog.Track) error
	Play() error
	Pause() error
	Resume() error
	Seek(ms int) error
	Unload()
	PositionMS() int
}

// Queue is the ordered list of track references plus the transport state.
type Queue struct {
	mu     sync.Mutex
	bus    *notify.Bus
	player Player
	logger *log.Logger

	tracks []catalog.Track
	cur    int // -1 when stopped or empty
	status notify.Status

	repeat  bool
	shuffle bool
	perm    []int // permutation of [0,len), valid while shuffle is on
	permPos int   // position of cur within perm
	rng     *rand.Rand
}

// New creates an empty, stopped queue publishing on bus.
func New(bus *notify.Bus, logger *log.Logger, seed int64) *Queue {
	return &Queue{
		bus:    bus,
		logger: logger,
		cur:    -1,
		status: notify.StatusStopped,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// SetPlayer wires the session control surface. Must be called before any
// playback operation; separate from New because the session itself needs the
// queue for end-of-track events.
func (q *Queue) SetPlayer(p Player) {
	q.mu.Lock()
	q.player = p
	q.mu.Unlock()
}

// Append acquires a reference to t and adds it at the tail. The cursor does
// not move.
func (q *Queue) Append(t catalog.Track) {
	t.AddRef()
	if !t.IsLoaded() || !t.IsAvailable() {
		t.Release()
		q.logger.Debug("not queueing track", "uri", t.URI(), "loaded", t.IsLoaded(), "available", t.IsAvailable())
		return
	}

	q.mu.Lock()
	q.tracks = append(q.tracks, t)
	q.extendPermLocked()
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// AppendAll appends every loaded, available track from ts.
func (q *Queue) AppendAll(ts []catalog.Track) {
	q.mu.Lock()
	for _, t := range ts {
		if !t.IsLoaded() || !t.IsAvailable() {
			continue
		}
		t.AddRef()
		q.tracks = append(q.tracks, t)
	}
	q.extendPermLocked()
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// Replace stops playback, clears the queue and fills it with ts. The cursor
// becomes -1.
func (q *Queue) Replace(ts []catalog.Track) {
	q.mu.Lock()
	q.stopLocked()
	q.clearLocked()
	for _, t := range ts {
		if !t.IsLoaded() || !t.IsAvailable() {
			continue
		}
		t.AddRef()
		q.tracks = append(q.tracks, t)
	}
	if q.shuffle {
		q.reshuffleLocked(false)
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// Clear removes every track, stopping playback first.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.stopLocked()
	q.clearLocked()
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// RemoveRange removes count tracks starting at start. Out-of-range parts of
// the window are clamped. Removing the current track stops the transport.
func (q *Queue) RemoveRange(start, count int) {
	if start < 0 || count < 0 {
		return
	}

	q.mu.Lock()
	n := len(q.tracks)
	if start >= n {
		q.mu.Unlock()
		return
	}
	if start+count > n {
		count = n - start
	}

	for i := start; i < start+count; i++ {
		q.tracks[i].Release()
	}
	q.tracks = append(q.tracks[:start], q.tracks[start+count:]...)

	if q.cur >= start {
		if q.cur < start+count {
			// Current track went away with the range.
			q.stopLocked()
		} else {
			q.cur -= count
		}
	}
	if q.shuffle {
		q.pinCurrentLocked()
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// Goto switches playback to the track at idx. Out-of-range indices are
// ignored. Switching to the already-current track while not stopped is a
// no-op.
func (q *Queue) Goto(idx int) {
	q.mu.Lock()
	if idx < 0 || idx >= len(q.tracks) {
		q.mu.Unlock()
		q.logger.Debug("goto out of range", "idx", idx)
		return
	}
	if idx == q.cur && q.status != notify.StatusStopped {
		q.mu.Unlock()
		return
	}

	q.stopLocked()
	q.cur = idx
	if q.shuffle {
		q.pinCurrentLocked()
	}
	q.startCurrentLocked()
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// Next moves one step forward, honoring shuffle and repeat.
func (q *Queue) Next() { q.step(1) }

// Prev moves one step backward, honoring shuffle and repeat.
func (q *Queue) Prev() { q.step(-1) }

func (q *Queue) step(dir int) {
	q.mu.Lock()
	q.stopTransportLocked()
	q.advanceLocked(dir)
	if q.cur >= 0 {
		q.startCurrentLocked()
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// Tracks returns a copy of the track list. Each returned track carries a
// reference owned by the caller.
func (q *Queue) Tracks() []catalog.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]catalog.Track, len(q.tracks))
	for i, t := range q.tracks {
		t.AddRef()
		out[i] = t
	}
	return out
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// Snapshot returns the current transport and queue state.
func (q *Queue) Snapshot() notify.Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// clearLocked releases every reference and empties the list.
func (q *Queue) clearLocked() {
	for _, t := range q.tracks {
		t.Release()
	}
	q.tracks = q.tracks[:0]
	q.perm = nil
	q.permPos = 0
	q.cur = -1
}

func (q *Queue) snapshotLocked() notify.Snapshot {
	s := notify.Snapshot{
		Status:       q.status,
		Repeat:       q.repeat,
		Shuffle:      q.shuffle,
		TotalTracks:  len(q.tracks),
		CurrentTrack: q.cur,
	}
	if q.cur >= 0 && q.cur < len(q.tracks) {
		t := q.tracks[q.cur]
		s.Track = trackInfo(t)
		if q.status != notify.StatusStopped && q.player != nil {
			s.PositionMS = q.player.PositionMS()
		}
	}
	return s
}

func trackInfo(t catalog.Track) *notify.TrackInfo {
	return &notify.TrackInfo{
		Title:      t.Title(),
		Artist:     joinArtists(t.Artists()),
		Album:      t.Album(),
		DurationMS: t.DurationMS(),
		URI:        t.URI(),
		Starred:    t.Starred(),
	}
}

func joinArtists(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
