package scrobbling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const listenBrainzAPIURL = "https://api.listenbrainz.org"

// ListenBrainzClient handles submissions to ListenBrainz.
type ListenBrainzClient struct {
	token      string
	httpClient *http.Client
}

// NewListenBrainzClient creates a new ListenBrainz client.
func NewListenBrainzClient(token string) *ListenBrainzClient {
	return &ListenBrainzClient{
		token: token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *ListenBrainzClient) Name() string { return "listenbrainz" }

// listen represents a single listening event.
type listen struct {
	ListenedAt    int           `json:"listened_at,omitempty"`
	TrackMetadata trackMetadata `json:"track_metadata"`
}

type trackMetadata struct {
	ArtistName  string `json:"artist_name"`
	TrackName   string `json:"track_name"`
	ReleaseName string `json:"release_name,omitempty"`
}

type listenPayload struct {
	ListenType string   `json:"listen_type"`
	Listens    []listen `json:"listens"`
}

// Scrobble submits a single listen.
func (c *ListenBrainzClient) Scrobble(track Track) error {
	payload := listenPayload{
		ListenType: "single",
		Listens: []listen{{
			ListenedAt:    int(track.Timestamp),
			TrackMetadata: metadata(track),
		}},
	}
	return c.submitPayload(payload)
}

// UpdateNowPlaying submits a "playing now" notification.
func (c *ListenBrainzClient) UpdateNowPlaying(track Track) error {
	payload := listenPayload{
		ListenType: "playing_now",
		Listens:    []listen{{TrackMetadata: metadata(track)}},
	}
	return c.submitPayload(payload)
}

func metadata(track Track) trackMetadata {
	return trackMetadata{
		ArtistName:  track.Artist,
		TrackName:   track.Title,
		ReleaseName: track.Album,
	}
}

func (c *ListenBrainzClient) submitPayload(payload listenPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", listenBrainzAPIURL+"/1/submit-listens", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tremolod/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submission failed with status: %d", resp.StatusCode)
	}
	return nil
}

// ValidateToken checks the configured token against the API.
func (c *ListenBrainzClient) ValidateToken(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", listenBrainzAPIURL+"/1/validate-token", nil)
	if err != nil {
		return fmt.Errorf("creating validation request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("User-Agent", "tremolod/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token validation failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Message string `json:"message"`
		Valid   bool   `json:"valid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("parsing validation response: %w", err)
	}
	if !result.Valid {
		return fmt.Errorf("token is invalid: %s", result.Message)
	}
	return nil
}
