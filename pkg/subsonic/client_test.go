package subsonic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "alice", "secret")
}

func TestPingOK(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/ping", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "alice", q.Get("u"))
		assert.NotEmpty(t, q.Get("t"), "token auth expected")
		assert.NotEmpty(t, q.Get("s"), "salt expected")
		assert.Empty(t, q.Get("p"), "plaintext password must not be sent")
		fmt.Fprint(w, `{"subsonic-response":{"status":"ok"}}`)
	})

	assert.NoError(t, client.Ping(context.Background()))
}

func TestPingAuthFailure(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"subsonic-response":{"status":"failed","error":{"code":40,"message":"Wrong username or password"}}}`)
	})

	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Wrong username or password")
}

func TestGetPlaylistParsesEntries(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/getPlaylist", r.URL.Path)
		assert.Equal(t, "pl-1", r.URL.Query().Get("id"))
		fmt.Fprint(w, `{"subsonic-response":{"status":"ok","playlist":{
			"id":"pl-1","name":"driving","songCount":2,
			"entry":[
				{"id":"s1","title":"One","artist":"A","album":"X","duration":180,"suffix":"mp3"},
				{"id":"s2","title":"Two","artist":"B","album":"Y","duration":200,"suffix":"ogg"}
			]}}}`)
	})

	pl, err := client.GetPlaylist(context.Background(), "pl-1")
	require.NoError(t, err)
	assert.Equal(t, "driving", pl.Name)
	require.Len(t, pl.Entry, 2)
	assert.Equal(t, "One", pl.Entry[0].Title)
	assert.Equal(t, 200, pl.Entry[1].Duration)
}

func TestSearchSendsQuery(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/search3", r.URL.Path)
		assert.Equal(t, "nina", r.URL.Query().Get("query"))
		assert.Equal(t, "25", r.URL.Query().Get("songCount"))
		fmt.Fprint(w, `{"subsonic-response":{"status":"ok","searchResult3":{
			"song":[{"id":"s1","title":"Sinnerman","artist":"Nina Simone","duration":612}]}}}`)
	})

	songs, err := client.Search(context.Background(), "nina", 25)
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, "Sinnerman", songs[0].Title)
}

func TestStreamURLCarriesAuth(t *testing.T) {
	client := NewClient("https://music.example.com/", "alice", "secret")

	raw := client.StreamURL("song-9")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/rest/stream", u.Path)
	q := u.Query()
	assert.Equal(t, "song-9", q.Get("id"))
	assert.Equal(t, "alice", q.Get("u"))
	assert.NotEmpty(t, q.Get("t"))
	assert.NotEmpty(t, q.Get("s"))
}

func TestGetCoverArtReturnsBytes(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/getCoverArt", r.URL.Path)
		w.Write([]byte{0xff, 0xd8, 0xff})
	})

	data, err := client.GetCoverArt(context.Background(), "art-1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, data)
}

func TestScrobbleSubmission(t *testing.T) {
	var gotSubmission string
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotSubmission = r.URL.Query().Get("submission")
		fmt.Fprint(w, `{"subsonic-response":{"status":"ok"}}`)
	})

	require.NoError(t, client.Scrobble(context.Background(), "s1", true))
	assert.Equal(t, "true", gotSubmission)

	require.NoError(t, client.Scrobble(context.Background(), "s1", false))
	assert.Equal(t, "false", gotSubmission)
}
