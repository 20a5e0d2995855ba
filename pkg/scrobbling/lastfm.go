package scrobbling

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const lastFMAPIURL = "https://ws.audioscrobbler.com/2.0/"

// LastFMClient handles submissions to Last.fm.
type LastFMClient struct {
	apiKey   string
	secret   string
	username string
	password string

	mu         sync.Mutex
	sessionKey string

	httpClient *http.Client
}

// NewLastFMClient creates a new Last.fm client. Authentication happens
// lazily on the first submission.
func NewLastFMClient(apiKey, secret, username, password string) *LastFMClient {
	return &LastFMClient{
		apiKey:   apiKey,
		secret:   secret,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *LastFMClient) Name() string { return "lastfm" }

// Scrobble submits a completed track play.
func (c *LastFMClient) Scrobble(track Track) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sk, err := c.session(ctx)
	if err != nil {
		return err
	}

	params := map[string]string{
		"method":    "track.scrobble",
		"api_key":   c.apiKey,
		"sk":        sk,
		"artist":    track.Artist,
		"track":     track.Title,
		"timestamp": strconv.FormatInt(track.Timestamp, 10),
	}
	if track.Album != "" {
		params["album"] = track.Album
	}
	if track.Duration > 0 {
		params["duration"] = strconv.Itoa(track.Duration)
	}

	_, err = c.makeRequest(ctx, params, true)
	return err
}

// UpdateNowPlaying updates the "now playing" status.
func (c *LastFMClient) UpdateNowPlaying(track Track) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sk, err := c.session(ctx)
	if err != nil {
		return err
	}

	params := map[string]string{
		"method":  "track.updateNowPlaying",
		"api_key": c.apiKey,
		"sk":      sk,
		"artist":  track.Artist,
		"track":   track.Title,
	}
	if track.Album != "" {
		params["album"] = track.Album
	}
	if track.Duration > 0 {
		params["duration"] = strconv.Itoa(track.Duration)
	}

	_, err = c.makeRequest(ctx, params, true)
	return err
}

// session returns the cached session key, authenticating if needed.
func (c *LastFMClient) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionKey != "" {
		return c.sessionKey, nil
	}

	authToken := fmt.Sprintf("%x", md5.Sum([]byte(c.username+fmt.Sprintf("%x", md5.Sum([]byte(c.password))))))
	params := map[string]string{
		"method":    "auth.getMobileSession",
		"api_key":   c.apiKey,
		"username":  c.username,
		"authToken": authToken,
	}

	resp, err := c.makeRequest(ctx, params, true)
	if err != nil {
		return "", fmt.Errorf("getting session key: %w", err)
	}

	var sessionResp struct {
		Session struct {
			Key string `json:"key"`
		} `json:"session"`
		Error   int    `json:"error,omitempty"`
		Message string `json:"message,omitempty"`
	}
	if err := json.Unmarshal(resp, &sessionResp); err != nil {
		return "", fmt.Errorf("parsing session response: %w", err)
	}
	if sessionResp.Error != 0 {
		return "", fmt.Errorf("Last.fm error %d: %s", sessionResp.Error, sessionResp.Message)
	}

	c.sessionKey = sessionResp.Session.Key
	return c.sessionKey, nil
}

// makeRequest makes a request to the Last.fm API, signing it when required.
func (c *LastFMClient) makeRequest(ctx context.Context, params map[string]string, signed bool) ([]byte, error) {
	params["format"] = "json"
	if signed {
		params["api_sig"] = c.generateSignature(params)
	}

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", lastFMAPIURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "tremolod/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status: %d, body: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// generateSignature builds the md5 signature over the sorted parameters.
func (c *LastFMClient) generateSignature(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "format" && k != "callback" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var paramStr strings.Builder
	for _, k := range keys {
		paramStr.WriteString(k)
		paramStr.WriteString(params[k])
	}
	paramStr.WriteString(c.secret)
	return fmt.Sprintf("%x", md5.Sum([]byte(paramStr.String())))
}
