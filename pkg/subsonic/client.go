// Package subsonic is a client for the Subsonic REST API as served by
// Navidrome and compatible servers.
package subsonic

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	clientName = "tremolod"
	apiVersion = "1.16.1"
)

// Client represents a Subsonic API client.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a new Subsonic API client.
func NewClient(serverURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(serverURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetTimeout sets the HTTP client timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// authenticate generates salted-token authentication parameters.
func (c *Client) authenticate() url.Values {
	salt := fmt.Sprintf("%d", time.Now().UnixNano())
	hash := md5.Sum([]byte(c.password + salt))

	params := url.Values{}
	params.Add("u", c.username)
	params.Add("t", fmt.Sprintf("%x", hash))
	params.Add("s", salt)
	params.Add("c", clientName)
	params.Add("v", apiVersion)
	params.Add("f", "json")
	return params
}

// makeRequest performs an authenticated API request.
func (c *Client) makeRequest(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	authParams := c.authenticate()
	for key, values := range params {
		for _, value := range values {
			authParams.Add(key, value)
		}
	}

	reqURL := fmt.Sprintf("%s/rest/%s?%s", c.baseURL, endpoint, authParams.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// getJSON runs an endpoint and decodes the response body into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	resp, err := c.makeRequest(ctx, endpoint, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", endpoint, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing %s response: %w", endpoint, err)
	}
	return nil
}

func checkStatus(endpoint string, base BaseResponse) error {
	if base.Status == "ok" {
		return nil
	}
	if base.Error != nil {
		return fmt.Errorf("%s error: %s", endpoint, base.Error.Message)
	}
	return fmt.Errorf("%s failed with status: %s", endpoint, base.Status)
}

// Ping tests the connection and authenticates with the server.
func (c *Client) Ping(ctx context.Context) error {
	var resp pingResponse
	if err := c.getJSON(ctx, "ping", url.Values{}, &resp); err != nil {
		return err
	}
	return checkStatus("ping", resp.SubsonicResponse.BaseResponse)
}

// GetPlaylists retrieves all playlists visible to the user.
func (c *Client) GetPlaylists(ctx context.Context) ([]Playlist, error) {
	var resp PlaylistsResponse
	if err := c.getJSON(ctx, "getPlaylists", url.Values{}, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus("getPlaylists", resp.SubsonicResponse.BaseResponse); err != nil {
		return nil, err
	}
	return resp.SubsonicResponse.Playlists.Playlist, nil
}

// GetPlaylist retrieves one playlist including its entries.
func (c *Client) GetPlaylist(ctx context.Context, id string) (*Playlist, error) {
	params := url.Values{}
	params.Add("id", id)

	var resp PlaylistResponse
	if err := c.getJSON(ctx, "getPlaylist", params, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus("getPlaylist", resp.SubsonicResponse.BaseResponse); err != nil {
		return nil, err
	}
	return &resp.SubsonicResponse.Playlist, nil
}

// GetSong retrieves metadata for a single song.
func (c *Client) GetSong(ctx context.Context, id string) (*Song, error) {
	params := url.Values{}
	params.Add("id", id)

	var resp SongResponse
	if err := c.getJSON(ctx, "getSong", params, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus("getSong", resp.SubsonicResponse.BaseResponse); err != nil {
		return nil, err
	}
	return &resp.SubsonicResponse.Song, nil
}

// Search runs a free-text search and returns matching songs.
func (c *Client) Search(ctx context.Context, query string, count int) ([]Song, error) {
	params := url.Values{}
	params.Add("query", query)
	if count > 0 {
		params.Add("songCount", fmt.Sprintf("%d", count))
	}

	var resp SearchResponse
	if err := c.getJSON(ctx, "search3", params, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus("search3", resp.SubsonicResponse.BaseResponse); err != nil {
		return nil, err
	}
	return resp.SubsonicResponse.SearchResult3.Song, nil
}

// GetCoverArt fetches cover art bytes for the given art id.
func (c *Client) GetCoverArt(ctx context.Context, id string) ([]byte, error) {
	params := url.Values{}
	params.Add("id", id)

	resp, err := c.makeRequest(ctx, "getCoverArt", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getCoverArt failed with status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// StreamURL returns the streaming URL for a song.
func (c *Client) StreamURL(songID string) string {
	params := c.authenticate()
	params.Add("id", songID)
	return fmt.Sprintf("%s/rest/stream?%s", c.baseURL, params.Encode())
}

// Scrobble submits a play to the server. With submission false it only
// registers "now playing".
func (c *Client) Scrobble(ctx context.Context, songID string, submission bool) error {
	params := url.Values{}
	params.Add("id", songID)
	params.Add("submission", fmt.Sprintf("%t", submission))

	resp, err := c.makeRequest(ctx, "scrobble", params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scrobble failed with status: %d", resp.StatusCode)
	}
	return nil
}

// Star marks a song as starred.
func (c *Client) Star(ctx context.Context, songID string) error {
	return c.starred(ctx, "star", songID)
}

// Unstar removes the star from a song.
func (c *Client) Unstar(ctx context.Context, songID string) error {
	return c.starred(ctx, "unstar", songID)
}

func (c *Client) starred(ctx context.Context, endpoint, songID string) error {
	params := url.Values{}
	params.Add("id", songID)

	resp, err := c.makeRequest(ctx, endpoint, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed with status: %d", endpoint, resp.StatusCode)
	}
	return nil
}
