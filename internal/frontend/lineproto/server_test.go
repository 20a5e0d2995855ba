package lineproto_test

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tremolo/internal/catalog"
	"tremolo/internal/catalog/catalogtest"
	"tremolo/internal/command"
	"tremolo/internal/frontend/lineproto"
	"tremolo/internal/notify"
	"tremolo/internal/queue"
)

type nullPlayer struct{}

func (nullPlayer) Load(catalog.Track) error { return nil }
func (nullPlayer) Play() error              { return nil }
func (nullPlayer) Pause() error             { return nil }
func (nullPlayer) Resume() error            { return nil }
func (nullPlayer) Seek(int) error           { return nil }
func (nullPlayer) Unload()                  {}
func (nullPlayer) PositionMS() int          { return 0 }

func startServer(t *testing.T) (net.Conn, *queue.Queue) {
	t.Helper()
	bus := notify.NewBus()
	q := queue.New(bus, log.New(io.Discard), 1)
	q.SetPlayer(nullPlayer{})
	cat := catalogtest.NewSession()
	cat.AddTrack(catalogtest.NewTrack("test:a", "a", 1000))
	d := command.New(q, cat, bus, log.New(io.Discard), func() {})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := lineproto.New(d, log.New(io.Discard))
	go srv.Serve(ln)
	t.Cleanup(srv.Close)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, q
}

func TestGreetingAndStatus(t *testing.T) {
	conn, _ := startServer(t)
	r := bufio.NewReader(conn)

	greeting, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(greeting, "OK tremolod"))

	_, err = conn.Write([]byte("status\n"))
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &res))
	assert.Equal(t, "stopped", res["status"])
}

func TestErrorsAreReportedInline(t *testing.T) {
	conn, _ := startServer(t)
	r := bufio.NewReader(conn)
	r.ReadString('\n') // greeting

	conn.Write([]byte("warble\n"))
	line, err := r.ReadString('\n')
	require.NoError(t, err)

	var res struct {
		Error *command.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &res))
	require.NotNil(t, res.Error)
	assert.Equal(t, "unknown-command", res.Error.Code)
}

func TestQuotedArguments(t *testing.T) {
	conn, _ := startServer(t)
	r := bufio.NewReader(conn)
	r.ReadString('\n')

	conn.Write([]byte("uri-add \"test:a\"\n"))
	line, err := r.ReadString('\n')
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &res))
	assert.EqualValues(t, 1, res["total_tracks"])
}

func TestNotifyLongPoll(t *testing.T) {
	conn, q := startServer(t)
	r := bufio.NewReader(conn)
	r.ReadString('\n')

	conn.Write([]byte("notify\n"))

	// Nothing published yet: the response is pending.
	time.Sleep(50 * time.Millisecond)
	go q.SetRepeat(true)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &res))
	assert.Equal(t, true, res["repeat"])
}
