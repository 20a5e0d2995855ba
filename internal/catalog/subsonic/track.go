package subsonic

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"tremolo/internal/catalog"
	"tremolo/pkg/subsonic"
)

const uriPrefix = "subsonic:track:"

// TrackURI builds the canonical URI for a song id.
func TrackURI(id string) string {
	return uriPrefix + id
}

// trackID extracts the song id from a track URI.
func trackID(uri string) (string, bool) {
	if !strings.HasPrefix(uri, uriPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(uri, uriPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}

// Track is a reference-counted handle to a server song. Metadata may arrive
// after construction; IsLoaded flips once the song element is present.
type Track struct {
	id   string
	refs atomic.Int32

	mu          sync.Mutex
	song        *subsonic.Song
	unavailable bool
}

func newTrack(id string) *Track {
	t := &Track{id: id}
	t.refs.Store(1)
	return t
}

func newLoadedTrack(song subsonic.Song) *Track {
	t := newTrack(song.ID)
	t.song = &song
	return t
}

// setSong fills in metadata fetched after construction.
func (t *Track) setSong(song *subsonic.Song, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.unavailable = true
		return
	}
	t.song = song
}

func (t *Track) URI() string { return TrackURI(t.id) }

func (t *Track) IsLoaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.song != nil
}

func (t *Track) IsAvailable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.song != nil && !t.unavailable
}

func (t *Track) DurationMS() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.song == nil {
		return 0
	}
	return t.song.Duration * 1000
}

func (t *Track) Title() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.song == nil {
		return ""
	}
	return t.song.Title
}

func (t *Track) Artists() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.song == nil || t.song.Artist == "" {
		return nil
	}
	return []string{t.song.Artist}
}

func (t *Track) Album() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.song == nil {
		return ""
	}
	return t.song.Album
}

func (t *Track) CoverArtURI() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.song == nil || t.song.CoverArt == "" {
		return ""
	}
	return "subsonic:image:" + t.song.CoverArt
}

func (t *Track) Popularity() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.song == nil {
		return 0
	}
	return t.song.PlayCount
}

func (t *Track) Starred() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.song != nil && t.song.Starred != nil
}

// AddRef acquires a reference.
func (t *Track) AddRef() { t.refs.Add(1) }

// Release drops a reference. The handle stays usable (the session cache owns
// the backing data); the count exists so over-release bugs surface in tests.
func (t *Track) Release() {
	if t.refs.Add(-1) < 0 {
		panic(fmt.Sprintf("track %s released more often than acquired", t.id))
	}
}

// Refs reports the current reference count.
func (t *Track) Refs() int32 { return t.refs.Load() }

// Playlist is a read-only, ordered list of tracks fetched from the server.
type Playlist struct {
	name   string
	loaded bool
	tracks []*Track
}

func (p *Playlist) Name() string   { return p.name }
func (p *Playlist) IsLoaded() bool { return p.loaded }

func (p *Playlist) Tracks() []catalog.Track {
	out := make([]catalog.Track, len(p.tracks))
	for i, t := range p.tracks {
		out[i] = t
	}
	return out
}
