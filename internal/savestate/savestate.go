// Package savestate persists the queue and transport state to a JSON file
// and restores it at startup.
package savestate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"tremolo/internal/catalog"
	"tremolo/internal/notify"
	"tremolo/internal/queue"
)

// saveDelay debounces bursts of snapshots into one write.
const saveDelay = time.Second

// restoreWait bounds how long Restore waits for track metadata.
const restoreWait = 30 * time.Second

// State is the persisted document.
type State struct {
	Status       string   `json:"status"`
	Repeat       bool     `json:"repeat"`
	Shuffle      bool     `json:"shuffle"`
	CurrentTrack int      `json:"current_track"`
	Tracks       []string `json:"tracks"`
}

// Keeper saves the state after every published snapshot.
type Keeper struct {
	path   string
	queue  *queue.Queue
	logger *log.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// Attach subscribes a keeper to bus. Every snapshot schedules a debounced
// write of path.
func Attach(bus *notify.Bus, q *queue.Queue, path string, logger *log.Logger) *Keeper {
	k := &Keeper{path: path, queue: q, logger: logger}
	bus.Add(func(notify.Snapshot) { k.schedule() })
	return k
}

func (k *Keeper) schedule() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.timer != nil {
		k.timer.Stop()
	}
	k.timer = time.AfterFunc(saveDelay, k.Save)
}

// Save writes the current state. The file is written to a temp name and
// renamed so readers never see a partial document.
func (k *Keeper) Save() {
	snap := k.queue.Snapshot()
	tracks := k.queue.Tracks()
	st := State{
		Status:       string(snap.Status),
		Repeat:       snap.Repeat,
		Shuffle:      snap.Shuffle,
		CurrentTrack: snap.CurrentTrack,
		Tracks:       make([]string, 0, len(tracks)),
	}
	for _, t := range tracks {
		st.Tracks = append(st.Tracks, t.URI())
		t.Release()
	}

	data, err := json.MarshalIndent(&st, "", "  ")
	if err != nil {
		k.logger.Warn("marshaling state failed", "err", err)
		return
	}

	tmp := k.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(k.path), 0o755); err != nil {
		k.logger.Warn("creating state directory failed", "err", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		k.logger.Warn("writing state failed", "err", err)
		return
	}
	if err := os.Rename(tmp, k.path); err != nil {
		k.logger.Warn("renaming state failed", "err", err)
		return
	}
	k.logger.Debug("state saved", "path", k.path, "tracks", len(st.Tracks))
}

// Restore loads the state file and applies it: tracks are resolved by URI,
// awaited until loaded, and the queue plus mode flags are re-established. A
// state that was playing or paused comes back paused at the same track.
func Restore(ctx context.Context, q *queue.Queue, cat catalog.Session, path string, logger *log.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parsing state: %w", err)
	}
	if len(st.Tracks) == 0 {
		return nil
	}

	tracks := make([]catalog.Track, 0, len(st.Tracks))
	for _, uri := range st.Tracks {
		t, err := cat.TrackByURI(uri)
		if err != nil {
			logger.Warn("saved track no longer resolves", "uri", uri, "err", err)
			continue
		}
		tracks = append(tracks, t)
	}

	if err := waitLoaded(ctx, tracks); err != nil {
		releaseAll(tracks)
		return err
	}

	q.Replace(tracks)
	releaseAll(tracks)
	q.SetRepeat(st.Repeat)
	q.SetShuffle(st.Shuffle)

	// A queue that was playing or paused comes back paused at the same track.
	if st.Status == string(notify.StatusPlaying) || st.Status == string(notify.StatusPaused) {
		if st.CurrentTrack >= 0 && st.CurrentTrack < q.Len() {
			q.Goto(st.CurrentTrack)
			q.Toggle()
		}
	}

	logger.Info("state restored", "tracks", len(tracks), "status", st.Status)
	return nil
}

func waitLoaded(ctx context.Context, tracks []catalog.Track) error {
	deadline := time.Now().Add(restoreWait)
	for {
		loaded := true
		for _, t := range tracks {
			if !t.IsLoaded() {
				loaded = false
				break
			}
		}
		if loaded {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("saved tracks did not load in time")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func releaseAll(tracks []catalog.Track) {
	for _, t := range tracks {
		t.Release()
	}
}
