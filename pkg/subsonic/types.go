package subsonic

import "time"

// Error represents an error element in a Subsonic API response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BaseResponse contains the fields common to every response envelope.
type BaseResponse struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
}

// Song represents a track as reported by the server.
type Song struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Album       string     `json:"album"`
	Artist      string     `json:"artist"`
	Track       int        `json:"track,omitempty"`
	Year        int        `json:"year,omitempty"`
	Genre       string     `json:"genre,omitempty"`
	CoverArt    string     `json:"coverArt,omitempty"`
	Size        int64      `json:"size"`
	ContentType string     `json:"contentType"`
	Suffix      string     `json:"suffix"`
	Duration    int        `json:"duration"` // seconds
	BitRate     int        `json:"bitRate,omitempty"`
	AlbumID     string     `json:"albumId"`
	ArtistID    string     `json:"artistId"`
	PlayCount   int        `json:"playCount,omitempty"`
	Starred     *time.Time `json:"starred,omitempty"`
}

// Playlist represents a playlist, with entries when fetched individually.
type Playlist struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Comment   string    `json:"comment,omitempty"`
	Owner     string    `json:"owner"`
	Public    bool      `json:"public"`
	SongCount int       `json:"songCount"`
	Duration  int       `json:"duration"`
	Created   time.Time `json:"created"`
	Changed   time.Time `json:"changed"`
	CoverArt  string    `json:"coverArt,omitempty"`
	Entry     []Song    `json:"entry,omitempty"`
}

// PlaylistsList contains a list of playlists.
type PlaylistsList struct {
	Playlist []Playlist `json:"playlist"`
}

// SearchResult contains the song part of a search3 result.
type SearchResult struct {
	Song []Song `json:"song,omitempty"`
}

// pingResponse is the envelope of a ping call.
type pingResponse struct {
	SubsonicResponse struct {
		BaseResponse
	} `json:"subsonic-response"`
}

// PlaylistsResponse represents the response from getPlaylists.
type PlaylistsResponse struct {
	SubsonicResponse struct {
		BaseResponse
		Playlists PlaylistsList `json:"playlists"`
	} `json:"subsonic-response"`
}

// PlaylistResponse represents the response from getPlaylist.
type PlaylistResponse struct {
	SubsonicResponse struct {
		BaseResponse
		Playlist Playlist `json:"playlist"`
	} `json:"subsonic-response"`
}

// SongResponse represents the response from getSong.
type SongResponse struct {
	SubsonicResponse struct {
		BaseResponse
		Song Song `json:"song"`
	} `json:"subsonic-response"`
}

// SearchResponse represents the response from search3.
type SearchResponse struct {
	SubsonicResponse struct {
		BaseResponse
		SearchResult3 SearchResult `json:"searchResult3"`
	} `json:"subsonic-response"`
}
