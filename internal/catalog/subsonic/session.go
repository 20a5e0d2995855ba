// Package subsonic implements the catalog contract against a
// Subsonic/Navidrome server. Audio arrives as compressed HTTP streams and is
// decoded to PCM before delivery, so the daemon core only ever sees raw
// frames.
package subsonic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"tremolo/internal/catalog"
	"tremolo/pkg/subsonic"
)

// eventTimeout is the suggested wait between ProcessEvents calls when no
// work is pending.
const eventTimeout = 30 * time.Second

// requestTimeout bounds the metadata requests issued by the session.
const requestTimeout = 30 * time.Second

// ErrNoTrackLoaded is returned by player calls that need a loaded track.
var ErrNoTrackLoaded = errors.New("subsonic: no track loaded")

// Session implements catalog.Session against a Subsonic server.
type Session struct {
	serverURL  string
	logger     *log.Logger
	cb         catalog.Callbacks
	reqTimeout time.Duration

	clientMu sync.RWMutex
	client   *subsonic.Client

	evMu   sync.Mutex
	events []func()

	plMu      sync.RWMutex
	playlists []*Playlist

	trMu  sync.Mutex
	cache map[string]*Track

	pmu    sync.Mutex
	loaded *Track
	str    *streamer
	baseMS int
	paused bool

	scrobble bool
}

// NewSession creates a session shell for serverURL. Nothing touches the
// network until Login.
func NewSession(serverURL string, logger *log.Logger, cb catalog.Callbacks) *Session {
	return &Session{
		serverURL:  serverURL,
		logger:     logger,
		cb:         cb,
		reqTimeout: requestTimeout,
		cache:      make(map[string]*Track),
	}
}

// SetRequestTimeout overrides the timeout used for metadata requests.
func (s *Session) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		s.reqTimeout = d
	}
}

// EnableServerScrobbling makes the session report plays back to the server
// (now-playing on start, a submission at end of track).
func (s *Session) EnableServerScrobbling() {
	s.pmu.Lock()
	s.scrobble = true
	s.pmu.Unlock()
}

// reportPlay notifies the server about the loaded track in the background.
func (s *Session) reportPlay(id string, submission bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.reqTimeout)
		defer cancel()
		if err := s.api().Scrobble(ctx, id, submission); err != nil {
			s.logger.Debug("server scrobble failed", "id", id, "err", err)
		}
	}()
}

// post queues an event for delivery from ProcessEvents and wakes the pump.
func (s *Session) post(fn func()) {
	s.evMu.Lock()
	s.events = append(s.events, fn)
	s.evMu.Unlock()
	if s.cb.NotifyMainThread != nil {
		s.cb.NotifyMainThread()
	}
}

// ProcessEvents delivers pending callbacks and suggests the next wait.
func (s *Session) ProcessEvents() time.Duration {
	for {
		s.evMu.Lock()
		if len(s.events) == 0 {
			s.evMu.Unlock()
			return eventTimeout
		}
		fn := s.events[0]
		s.events = s.events[1:]
		s.evMu.Unlock()
		fn()
	}
}

// Login authenticates against the server. The outcome arrives through the
// LoggedIn callback; on success the playlist container is fetched and
// ContainerLoaded fires once it is complete.
func (s *Session) Login(username, password string) error {
	client := subsonic.NewClient(s.serverURL, username, password)
	s.clientMu.Lock()
	s.client = client
	s.clientMu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.reqTimeout)
		defer cancel()
		err := client.Ping(ctx)
		s.post(func() { s.cb.LoggedIn(err) })
		if err == nil {
			go s.fetchContainer()
		}
	}()
	return nil
}

func (s *Session) api() *subsonic.Client {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return s.client
}

// fetchContainer loads every playlist with its entries.
func (s *Session) fetchContainer() {
	client := s.api()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	lists, err := client.GetPlaylists(ctx)
	if err != nil {
		s.logger.Warn("fetching playlists failed", "err", err)
		s.post(func() { s.cb.ConnectionError(err) })
		return
	}

	container := make([]*Playlist, 0, len(lists))
	for _, pl := range lists {
		full, err := client.GetPlaylist(ctx, pl.ID)
		if err != nil {
			s.logger.Warn("fetching playlist failed", "name", pl.Name, "err", err)
			container = append(container, &Playlist{name: pl.Name})
			continue
		}
		p := &Playlist{name: full.Name, loaded: true}
		for _, song := range full.Entry {
			p.tracks = append(p.tracks, s.intern(song))
		}
		container = append(container, p)
	}

	s.plMu.Lock()
	s.playlists = container
	s.plMu.Unlock()

	s.post(func() {
		if s.cb.ContainerLoaded != nil {
			s.cb.ContainerLoaded()
		}
	})
}

// intern returns the cached track for song's id, updating its metadata, or
// caches a new loaded track.
func (s *Session) intern(song subsonic.Song) *Track {
	s.trMu.Lock()
	defer s.trMu.Unlock()
	if t, ok := s.cache[song.ID]; ok {
		t.setSong(&song, nil)
		return t
	}
	t := newLoadedTrack(song)
	s.cache[song.ID] = t
	return t
}

// Playlists returns the playlist container.
func (s *Session) Playlists() []catalog.Playlist {
	s.plMu.RLock()
	defer s.plMu.RUnlock()
	out := make([]catalog.Playlist, len(s.playlists))
	for i, p := range s.playlists {
		out[i] = p
	}
	return out
}

// TrackByURI resolves a subsonic:track: URI. Unknown ids come back unloaded;
// metadata is fetched in the background and IsLoaded flips when it lands.
func (s *Session) TrackByURI(uri string) (catalog.Track, error) {
	id, ok := trackID(uri)
	if !ok {
		return nil, catalog.ErrBadURI
	}

	s.trMu.Lock()
	if t, cached := s.cache[id]; cached {
		t.AddRef()
		s.trMu.Unlock()
		return t, nil
	}
	t := newTrack(id)
	s.cache[id] = t
	s.trMu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.reqTimeout)
		defer cancel()
		song, err := s.api().GetSong(ctx, id)
		if err != nil {
			s.logger.Debug("resolving track failed", "id", id, "err", err)
		}
		s.post(func() { t.setSong(song, err) })
	}()
	return t, nil
}

// Search runs a free-text song search.
func (s *Session) Search(query string) ([]catalog.Track, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.reqTimeout)
	defer cancel()
	songs, err := s.api().Search(ctx, query, 50)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Track, 0, len(songs))
	for _, song := range songs {
		t := s.intern(song)
		t.AddRef()
		out = append(out, t)
	}
	return out, nil
}

// CoverArt fetches the cover image for t.
func (s *Session) CoverArt(t catalog.Track) ([]byte, error) {
	tr, ok := t.(*Track)
	if !ok {
		return nil, fmt.Errorf("subsonic: foreign track %s", t.URI())
	}
	tr.mu.Lock()
	var artID string
	if tr.song != nil {
		artID = tr.song.CoverArt
	}
	tr.mu.Unlock()
	if artID == "" {
		return nil, fmt.Errorf("subsonic: no cover art for %s", t.URI())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.reqTimeout)
	defer cancel()
	return s.api().GetCoverArt(ctx, artID)
}

// PlayerLoad points the player at t. Streaming starts on PlayerPlay.
func (s *Session) PlayerLoad(t catalog.Track) error {
	tr, ok := t.(*Track)
	if !ok {
		return fmt.Errorf("subsonic: foreign track %s", t.URI())
	}
	if !tr.IsLoaded() || !tr.IsAvailable() {
		return fmt.Errorf("subsonic: track %s not streamable", t.URI())
	}

	s.pmu.Lock()
	defer s.pmu.Unlock()
	s.stopStreamerLocked()
	s.loaded = tr
	s.baseMS = 0
	s.paused = false
	return nil
}

// PlayerPlay starts or pauses delivery for the loaded track.
func (s *Session) PlayerPlay(play bool) error {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	if s.loaded == nil {
		return ErrNoTrackLoaded
	}

	if play {
		s.paused = false
		if s.str == nil {
			s.str = s.newStreamerLocked(s.baseMS, false)
			s.str.start()
			if s.scrobble {
				s.reportPlay(s.loaded.id, false)
			}
		} else {
			s.str.resumeStream()
		}
		return nil
	}

	s.paused = true
	if s.str != nil {
		s.str.pauseStream()
	}
	return nil
}

// PlayerSeek repositions the stream by replacing the streamer.
func (s *Session) PlayerSeek(ms int) error {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	if s.loaded == nil {
		return ErrNoTrackLoaded
	}

	s.stopStreamerLocked()
	s.baseMS = ms
	s.str = s.newStreamerLocked(ms, s.paused)
	s.str.start()
	return nil
}

// PlayerUnload stops delivery and drops the loaded track.
func (s *Session) PlayerUnload() {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	s.stopStreamerLocked()
	s.loaded = nil
	s.baseMS = 0
	s.paused = false
}

// PlayTimeMS reports the position within the loaded track.
func (s *Session) PlayTimeMS() int {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	pos := s.baseMS
	if s.str != nil {
		pos += s.str.deliveredMS()
	}
	return pos
}

// Close stops streaming. Safe to call from the pump during teardown.
func (s *Session) Close() error {
	s.PlayerUnload()
	return nil
}

func (s *Session) stopStreamerLocked() {
	if s.str != nil {
		s.str.stopStream()
		s.str = nil
	}
}

func (s *Session) newStreamerLocked(skipMS int, paused bool) *streamer {
	tr := s.loaded
	tr.mu.Lock()
	hint := ""
	if tr.song != nil {
		hint = tr.song.Suffix
	}
	tr.mu.Unlock()

	scrobble := s.scrobble
	return newStreamer(
		s.logger,
		s.api().StreamURL(tr.id),
		hint,
		skipMS,
		paused,
		s.cb.MusicDelivery,
		func() {
			if scrobble {
				s.reportPlay(tr.id, true)
			}
			s.post(func() { s.cb.EndOfTrack() })
		},
	)
}
