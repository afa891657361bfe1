package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// artistRef is the artist shape embedded in track and album objects
type artistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type trackObject struct {
	ID      string      `json:"id"`
	URI     string      `json:"uri"`
	Name    string      `json:"name"`
	Artists []artistRef `json:"artists"`
}

func (t trackObject) subItem() SubItem {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return SubItem{ID: t.ID, URI: t.URI, Name: t.Name, Artists: names}
}

type albumPage struct {
	Items []CatalogItem `json:"items"`
	Next  *string       `json:"next"`
}

type trackPage struct {
	Items []trackObject `json:"items"`
	Next  *string       `json:"next"`
}

type playlistTrackPage struct {
	Items []struct {
		Track *trackObject `json:"track"`
	} `json:"items"`
	Next *string `json:"next"`
}

// PlaylistInfo is the subset of playlist metadata the extractor logs
type PlaylistInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SpotifyClient talks to the Spotify Web API with a fixed access token
type SpotifyClient struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewSpotifyClient creates a client. A nil limiter means no request spacing.
func NewSpotifyClient(baseURL, token string, client *http.Client, limiter *rate.Limiter) *SpotifyClient {
	if client == nil {
		client = &http.Client{}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &SpotifyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		limiter: limiter,
	}
}

// ArtistReleases returns the first page of an artist's releases in the given groups
func (c *SpotifyClient) ArtistReleases(ctx context.Context, artistID, groups string, limit int) ([]CatalogItem, error) {
	q := url.Values{}
	if groups != "" {
		q.Set("include_groups", groups)
	}
	q.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/artists/%s/albums?%s", c.baseURL, url.PathEscape(artistID), q.Encode())

	var page albumPage
	if err := c.getJSON(ctx, endpoint, &page); err != nil {
		return nil, fmt.Errorf("fetching releases for artist %s: %w", artistID, err)
	}
	return page.Items, nil
}

// ReleaseTracks returns every track of an album, following pagination
func (c *SpotifyClient) ReleaseTracks(ctx context.Context, albumID string) ([]SubItem, error) {
	endpoint := fmt.Sprintf("%s/albums/%s/tracks?limit=50", c.baseURL, url.PathEscape(albumID))

	var tracks []SubItem
	for endpoint != "" {
		var page trackPage
		if err := c.getJSON(ctx, endpoint, &page); err != nil {
			return nil, fmt.Errorf("fetching tracks for album %s: %w", albumID, err)
		}
		for _, t := range page.Items {
			tracks = append(tracks, t.subItem())
		}
		endpoint = nextURL(page.Next)
	}
	return tracks, nil
}

// AddTracks appends URIs to a playlist and returns the new snapshot ID
func (c *SpotifyClient) AddTracks(ctx context.Context, playlistID string, uris []string) (string, error) {
	body, err := json.Marshal(map[string][]string{"uris": uris})
	if err != nil {
		return "", fmt.Errorf("encoding playlist insert: %w", err)
	}
	endpoint := fmt.Sprintf("%s/playlists/%s/tracks", c.baseURL, url.PathEscape(playlistID))

	var out struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, endpoint, bytes.NewReader(body), &out); err != nil {
		return "", fmt.Errorf("adding %d tracks to playlist %s: %w", len(uris), playlistID, err)
	}
	return out.SnapshotID, nil
}

// Playlist returns playlist metadata
func (c *SpotifyClient) Playlist(ctx context.Context, playlistID string) (*PlaylistInfo, error) {
	endpoint := fmt.Sprintf("%s/playlists/%s?fields=id,name,description", c.baseURL, url.PathEscape(playlistID))

	var info PlaylistInfo
	if err := c.getJSON(ctx, endpoint, &info); err != nil {
		return nil, fmt.Errorf("fetching playlist %s: %w", playlistID, err)
	}
	return &info, nil
}

// PlaylistArtistIDs returns the IDs of every artist credited on a playlist's tracks
func (c *SpotifyClient) PlaylistArtistIDs(ctx context.Context, playlistID string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/playlists/%s/tracks?limit=100", c.baseURL, url.PathEscape(playlistID))

	var ids []string
	for endpoint != "" {
		var page playlistTrackPage
		if err := c.getJSON(ctx, endpoint, &page); err != nil {
			return nil, fmt.Errorf("fetching tracks for playlist %s: %w", playlistID, err)
		}
		for _, item := range page.Items {
			if item.Track == nil {
				continue // removed or local tracks
			}
			for _, a := range item.Track.Artists {
				if a.ID != "" {
					ids = append(ids, a.ID)
				}
			}
		}
		endpoint = nextURL(page.Next)
	}
	return ids, nil
}

func (c *SpotifyClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *SpotifyClient) doJSON(ctx context.Context, method, endpoint string, body io.Reader, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", endpoint, err)
	}
	return nil
}

func nextURL(next *string) string {
	if next == nil {
		return ""
	}
	return *next
}
