package command_test

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tremolo/internal/catalog"
	"tremolo/internal/catalog/catalogtest"
	"tremolo/internal/command"
	"tremolo/internal/notify"
	"tremolo/internal/queue"
)

type nullPlayer struct{ pos int }

func (nullPlayer) Load(catalog.Track) error { return nil }
func (nullPlayer) Play() error              { return nil }
func (nullPlayer) Pause() error             { return nil }
func (nullPlayer) Resume() error            { return nil }
func (nullPlayer) Seek(int) error           { return nil }
func (nullPlayer) Unload()                  {}
func (p nullPlayer) PositionMS() int        { return p.pos }

type fixture struct {
	q          *queue.Queue
	cat        *catalogtest.Session
	bus        *notify.Bus
	dispatcher *command.Dispatcher
	shutdowns  int
	mu         sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cat: catalogtest.NewSession(),
		bus: notify.NewBus(),
	}
	f.q = queue.New(f.bus, log.New(io.Discard), 1)
	f.q.SetPlayer(nullPlayer{})
	f.dispatcher = command.New(f.q, f.cat, f.bus, log.New(io.Discard), func() {
		f.mu.Lock()
		f.shutdowns++
		f.mu.Unlock()
	})
	return f
}

// run executes a command and waits for its finalize.
func (f *fixture) run(t *testing.T, name string, args ...string) (command.Result, *command.Error) {
	t.Helper()
	type outcome struct {
		r command.Result
		e *command.Error
	}
	ch := make(chan outcome, 1)
	f.dispatcher.Run(name, args, func(r command.Result, e *command.Error) {
		ch <- outcome{r, e}
	})
	select {
	case out := <-ch:
		return out.r, out.e
	case <-time.After(2 * time.Second):
		t.Fatalf("command %s did not finalize", name)
		return nil, nil
	}
}

func (f *fixture) addPlaylist(name string, uris ...string) {
	pl := &catalogtest.Playlist{PlaylistName: name}
	for _, uri := range uris {
		tr := catalogtest.NewTrack(uri, uri, 3000)
		f.cat.AddTrack(tr)
		pl.Items = append(pl.Items, tr)
	}
	f.cat.AddPlaylist(pl)
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	_, cerr := f.run(t, "does-not-exist")
	require.NotNil(t, cerr)
	assert.Equal(t, "unknown-command", cerr.Code)
}

func TestBadArgumentType(t *testing.T) {
	f := newFixture(t)
	_, cerr := f.run(t, "seek", "fast")
	require.NotNil(t, cerr)
	assert.Equal(t, "bad-arguments", cerr.Code)
}

func TestWrongArity(t *testing.T) {
	f := newFixture(t)
	_, cerr := f.run(t, "stop", "now")
	require.NotNil(t, cerr)
}

func TestStatusOnEmptyQueue(t *testing.T) {
	f := newFixture(t)
	res, cerr := f.run(t, "status")
	require.Nil(t, cerr)
	assert.Equal(t, "stopped", res["status"])
	assert.Equal(t, 0, res["total_tracks"])
	assert.Nil(t, res["current_track"])
	assert.Nil(t, res["track"])
}

func TestListPlaylists(t *testing.T) {
	f := newFixture(t)
	f.addPlaylist("road trip", "test:a", "test:b")

	res, cerr := f.run(t, "list-playlists")
	require.Nil(t, cerr)
	lists := res["playlists"].([]command.Result)
	require.Len(t, lists, 1)
	assert.Equal(t, "road trip", lists[0]["name"])
	assert.Equal(t, 2, lists[0]["tracks"])
}

func TestListTracksBadIndex(t *testing.T) {
	f := newFixture(t)
	_, cerr := f.run(t, "list-tracks", "3")
	require.NotNil(t, cerr)
	assert.Equal(t, "bad-index", cerr.Code)
}

func TestQueueAddAndPlay(t *testing.T) {
	f := newFixture(t)
	f.addPlaylist("pl", "test:a", "test:b")

	_, cerr := f.run(t, "queue-add", "0")
	require.Nil(t, cerr)

	res, cerr := f.run(t, "play")
	require.Nil(t, cerr)
	assert.Equal(t, "playing", res["status"])
	assert.Equal(t, 0, res["current_track"])
	track := res["track"].(command.Result)
	assert.Equal(t, "test:a", track["uri"])
}

func TestQueueAddSingleTrack(t *testing.T) {
	f := newFixture(t)
	f.addPlaylist("pl", "test:a", "test:b")

	_, cerr := f.run(t, "queue-add", "0", "1")
	require.Nil(t, cerr)

	res, _ := f.run(t, "queue-list")
	tracks := res["tracks"].([]command.Result)
	require.Len(t, tracks, 1)
	assert.Equal(t, "test:b", tracks[0]["uri"])
}

func TestQueueReplace(t *testing.T) {
	f := newFixture(t)
	f.addPlaylist("one", "test:a")
	f.addPlaylist("two", "test:b", "test:c")

	f.run(t, "queue-add", "0")
	res, cerr := f.run(t, "queue-replace", "1")
	require.Nil(t, cerr)
	assert.Equal(t, 2, res["total_tracks"])
	assert.Equal(t, "stopped", res["status"])
}

func TestQueueRemoveRangeValidation(t *testing.T) {
	f := newFixture(t)
	f.addPlaylist("pl", "test:a", "test:b")
	f.run(t, "queue-add", "0")

	_, cerr := f.run(t, "queue-remove-range", "1", "0")
	require.NotNil(t, cerr)

	_, cerr = f.run(t, "queue-remove-range", "0", "1")
	require.Nil(t, cerr)
	res, _ := f.run(t, "status")
	assert.Equal(t, 0, res["total_tracks"])
}

func TestNotifyIsLongPoll(t *testing.T) {
	f := newFixture(t)
	f.addPlaylist("pl", "test:a")

	got := make(chan command.Result, 1)
	f.dispatcher.Run("notify", nil, func(r command.Result, e *command.Error) {
		got <- r
	})

	select {
	case <-got:
		t.Fatal("notify resolved before any state change")
	case <-time.After(50 * time.Millisecond):
	}

	f.run(t, "queue-add", "0")

	select {
	case res := <-got:
		assert.Equal(t, 1, res["total_tracks"])
	case <-time.After(time.Second):
		t.Fatal("notify never resolved")
	}
}

func TestNotifyDeliversOnlyOnce(t *testing.T) {
	f := newFixture(t)
	f.addPlaylist("pl", "test:a")

	count := 0
	var mu sync.Mutex
	f.dispatcher.Run("notify", nil, func(r command.Result, e *command.Error) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	f.run(t, "queue-add", "0")
	f.run(t, "play")
	f.run(t, "stop")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestURIAdd(t *testing.T) {
	f := newFixture(t)
	tr := catalogtest.NewTrack("test:song", "song", 3000)
	f.cat.AddTrack(tr)

	res, cerr := f.run(t, "uri-add", "test:song")
	require.Nil(t, cerr)
	assert.Equal(t, 1, res["total_tracks"])
	// queue holds one reference, ours from TrackByURI was released
	assert.Equal(t, int32(2), tr.Refs())
}

func TestURIPlay(t *testing.T) {
	f := newFixture(t)
	f.cat.AddTrack(catalogtest.NewTrack("test:song", "song", 3000))

	res, cerr := f.run(t, "uri-play", "test:song")
	require.Nil(t, cerr)
	assert.Equal(t, "playing", res["status"])
	assert.Equal(t, 0, res["current_track"])
}

func TestURIInfoUnknown(t *testing.T) {
	f := newFixture(t)
	_, cerr := f.run(t, "uri-info", "test:unknown")
	require.NotNil(t, cerr)
	assert.Equal(t, "bad-uri", cerr.Code)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	hit := catalogtest.NewTrack("test:hit", "hit", 3000)
	f.cat.SearchResults = []catalog.Track{hit}

	res, cerr := f.run(t, "search", "hit")
	require.Nil(t, cerr)
	tracks := res["tracks"].([]command.Result)
	require.Len(t, tracks, 1)
	assert.Equal(t, "test:hit", tracks[0]["uri"])
}

func TestImageWithoutCurrentTrack(t *testing.T) {
	f := newFixture(t)
	_, cerr := f.run(t, "image")
	require.NotNil(t, cerr)
	assert.Equal(t, "no-track", cerr.Code)
}

func TestRepeatAndShuffleToggle(t *testing.T) {
	f := newFixture(t)

	res, _ := f.run(t, "repeat")
	assert.Equal(t, true, res["repeat"])
	res, _ = f.run(t, "repeat")
	assert.Equal(t, false, res["repeat"])

	res, _ = f.run(t, "shuffle")
	assert.Equal(t, true, res["shuffle"])
}

func TestQuitInvokesShutdown(t *testing.T) {
	f := newFixture(t)
	res, cerr := f.run(t, "quit")
	require.Nil(t, cerr)
	assert.Equal(t, true, res["ok"])
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.shutdowns)
}

func TestHelpListsCommands(t *testing.T) {
	f := newFixture(t)
	res, cerr := f.run(t, "help")
	require.Nil(t, cerr)
	names := res["commands"].([]string)
	assert.Contains(t, names, "status")
	assert.Contains(t, names, "queue-add")
	assert.Contains(t, names, "uri-play")
}

func TestCommandErrorsDoNotPublish(t *testing.T) {
	f := newFixture(t)
	count := 0
	f.bus.Add(func(notify.Snapshot) { count++ })

	f.run(t, "bogus")
	f.run(t, "seek", "x")
	f.run(t, "goto", "9")

	assert.Equal(t, 0, count, "failed commands must not publish snapshots")
}
