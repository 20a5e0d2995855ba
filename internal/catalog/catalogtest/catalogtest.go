// Package catalogtest provides a scripted in-memory catalog for exercising
// the daemon core without a server: tracks are declared up front, events are
// injected by the test, and every player call is recorded.
package catalogtest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tremolo/internal/catalog"
)

// Track is a scripted catalog track.
type Track struct {
	TrackURI   string
	Loaded     bool
	Available  bool
	TrackTitle string
	Artist     string
	AlbumName  string
	Duration   int
	IsStarred  bool

	refs atomic.Int32
}

// NewTrack returns a loaded, available track.
func NewTrack(uri, title string, durationMS int) *Track {
	t := &Track{
		TrackURI:   uri,
		Loaded:     true,
		Available:  true,
		TrackTitle: title,
		Artist:     "artist",
		AlbumName:  "album",
		Duration:   durationMS,
	}
	t.refs.Store(1)
	return t
}

func (t *Track) URI() string         { return t.TrackURI }
func (t *Track) IsLoaded() bool      { return t.Loaded }
func (t *Track) IsAvailable() bool   { return t.Available }
func (t *Track) DurationMS() int     { return t.Duration }
func (t *Track) Title() string       { return t.TrackTitle }
func (t *Track) Artists() []string   { return []string{t.Artist} }
func (t *Track) Album() string       { return t.AlbumName }
func (t *Track) CoverArtURI() string { return "" }
func (t *Track) Popularity() int     { return 0 }
func (t *Track) Starred() bool       { return t.IsStarred }
func (t *Track) AddRef()             { t.refs.Add(1) }

func (t *Track) Release() {
	if t.refs.Add(-1) < 0 {
		panic(fmt.Sprintf("track %s over-released", t.TrackURI))
	}
}

// Refs reports the current reference count.
func (t *Track) Refs() int32 { return t.refs.Load() }

// Playlist is a scripted playlist.
type Playlist struct {
	PlaylistName string
	Items        []catalog.Track
}

func (p *Playlist) Name() string            { return p.PlaylistName }
func (p *Playlist) IsLoaded() bool          { return true }
func (p *Playlist) Tracks() []catalog.Track { return p.Items }

// Session is the scripted catalog session. Zero value is not usable; create
// with NewSession.
type Session struct {
	mu sync.Mutex

	cb        catalog.Callbacks
	events    []func()
	calls     []string
	tracks    map[string]*Track
	playlists []catalog.Playlist
	loaded    catalog.Track
	playTime  int

	// SearchResults is returned by Search.
	SearchResults []catalog.Track
	// Cover is returned by CoverArt.
	Cover []byte
	// LoginErr is delivered through the LoggedIn callback.
	LoginErr error
}

// NewSession creates an empty scripted session.
func NewSession() *Session {
	return &Session{tracks: make(map[string]*Track)}
}

// SetCallbacks attaches the core's callback set.
func (s *Session) SetCallbacks(cb catalog.Callbacks) { s.cb = cb }

// AddTrack registers a track so TrackByURI can resolve it.
func (s *Session) AddTrack(t *Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[t.TrackURI] = t
}

// AddPlaylist appends a playlist to the container.
func (s *Session) AddPlaylist(p *Playlist) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playlists = append(s.playlists, p)
}

// Calls returns the recorded player operations.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Session) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

// post queues an event for the next ProcessEvents and wakes the pump.
func (s *Session) post(fn func()) {
	s.mu.Lock()
	s.events = append(s.events, fn)
	s.mu.Unlock()
	if s.cb.NotifyMainThread != nil {
		s.cb.NotifyMainThread()
	}
}

// FireEndOfTrack injects an end-of-track event.
func (s *Session) FireEndOfTrack() {
	s.post(func() { s.cb.EndOfTrack() })
}

// FirePlayTokenLost injects a play-token-lost event.
func (s *Session) FirePlayTokenLost() {
	s.post(func() { s.cb.PlayTokenLost() })
}

// Deliver pushes PCM through the music-delivery callback, as the library's
// streaming thread would.
func (s *Session) Deliver(format catalog.Format, frames []byte, numFrames int) int {
	return s.cb.MusicDelivery(format, frames, numFrames)
}

// SetPlayTime sets the value PlayTimeMS reports.
func (s *Session) SetPlayTime(ms int) {
	s.mu.Lock()
	s.playTime = ms
	s.mu.Unlock()
}

// --- catalog.Session ------------------------------------------------------

func (s *Session) Login(username, password string) error {
	err := s.LoginErr
	s.post(func() { s.cb.LoggedIn(err) })
	if err == nil {
		s.post(func() {
			if s.cb.ContainerLoaded != nil {
				s.cb.ContainerLoaded()
			}
		})
	}
	return nil
}

func (s *Session) ProcessEvents() time.Duration {
	for {
		s.mu.Lock()
		if len(s.events) == 0 {
			s.mu.Unlock()
			return 10 * time.Millisecond
		}
		fn := s.events[0]
		s.events = s.events[1:]
		s.mu.Unlock()
		fn()
	}
}

func (s *Session) PlayerLoad(t catalog.Track) error {
	s.record("load " + t.URI())
	s.mu.Lock()
	s.loaded = t
	s.mu.Unlock()
	return nil
}

func (s *Session) PlayerPlay(play bool) error {
	if play {
		s.record("play")
	} else {
		s.record("pause")
	}
	return nil
}

func (s *Session) PlayerSeek(ms int) error {
	s.record(fmt.Sprintf("seek %d", ms))
	s.mu.Lock()
	s.playTime = ms
	s.mu.Unlock()
	return nil
}

func (s *Session) PlayerUnload() {
	s.record("unload")
	s.mu.Lock()
	s.loaded = nil
	s.mu.Unlock()
}

func (s *Session) PlayTimeMS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playTime
}

func (s *Session) Playlists() []catalog.Playlist {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Playlist, len(s.playlists))
	copy(out, s.playlists)
	return out
}

func (s *Session) TrackByURI(uri string) (catalog.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracks[uri]
	if !ok {
		return nil, catalog.ErrBadURI
	}
	t.AddRef()
	return t, nil
}

func (s *Session) Search(query string) ([]catalog.Track, error) {
	return s.SearchResults, nil
}

func (s *Session) CoverArt(t catalog.Track) ([]byte, error) {
	if s.Cover == nil {
		return nil, fmt.Errorf("no cover art for %s", t.URI())
	}
	return s.Cover, nil
}

func (s *Session) Close() error {
	s.record("close")
	return nil
}
