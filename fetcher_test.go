package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

// newSpotifyServer serves a small slice of the Web API, failing the test on unknown paths
func newSpotifyServer(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		key := r.Method + " " + r.URL.Path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}
		handler, ok := routes[key]
		if !ok {
			t.Errorf("unexpected request %s", key)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestArtistReleases(t *testing.T) {
	server := newSpotifyServer(t, map[string]http.HandlerFunc{
		"GET /artists/a1/albums?include_groups=album%2Csingle&limit=20": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]interface{}{
				"items": []map[string]string{
					{"id": "alb1", "name": "First", "album_type": "single", "release_date": "2025-01-09", "release_date_precision": "day"},
					{"id": "alb2", "name": "Second", "album_type": "album", "release_date": "2019", "release_date_precision": "year"},
				},
				"next": "ignored",
			})
		},
	})

	client := NewSpotifyClient(server.URL, "test-token", server.Client(), nil)
	items, err := client.ArtistReleases(context.Background(), "a1", "album,single", 20)
	if err != nil {
		t.Fatalf("ArtistReleases() error = %v", err)
	}
	want := []CatalogItem{
		{ID: "alb1", Name: "First", AlbumType: "single", ReleaseDate: "2025-01-09", ReleaseDatePrecision: PrecisionDay},
		{ID: "alb2", Name: "Second", AlbumType: "album", ReleaseDate: "2019", ReleaseDatePrecision: PrecisionYear},
	}
	if !reflect.DeepEqual(items, want) {
		t.Errorf("ArtistReleases() = %+v, want %+v", items, want)
	}
}

func TestReleaseTracksPaginates(t *testing.T) {
	var server *httptest.Server
	server = newSpotifyServer(t, map[string]http.HandlerFunc{
		"GET /albums/alb1/tracks?limit=50": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]interface{}{
				"items": []map[string]interface{}{
					{"id": "t1", "uri": "spotify:track:t1", "name": "One", "artists": []map[string]string{{"id": "a1", "name": "Artist One"}}},
				},
				"next": server.URL + "/albums/alb1/tracks?limit=50&offset=50",
			})
		},
		"GET /albums/alb1/tracks?limit=50&offset=50": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]interface{}{
				"items": []map[string]interface{}{
					{"id": "t2", "uri": "spotify:track:t2", "name": "Two", "artists": []map[string]string{{"id": "a1", "name": "Artist One"}, {"id": "a2", "name": "Artist Two"}}},
				},
				"next": nil,
			})
		},
	})

	client := NewSpotifyClient(server.URL+"/", "test-token", server.Client(), nil)
	tracks, err := client.ReleaseTracks(context.Background(), "alb1")
	if err != nil {
		t.Fatalf("ReleaseTracks() error = %v", err)
	}
	want := []SubItem{
		{ID: "t1", URI: "spotify:track:t1", Name: "One", Artists: []string{"Artist One"}},
		{ID: "t2", URI: "spotify:track:t2", Name: "Two", Artists: []string{"Artist One", "Artist Two"}},
	}
	if !reflect.DeepEqual(tracks, want) {
		t.Errorf("ReleaseTracks() = %+v, want %+v", tracks, want)
	}
}

func TestAddTracks(t *testing.T) {
	server := newSpotifyServer(t, map[string]http.HandlerFunc{
		"POST /playlists/p1/tracks": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
			}
			var body struct {
				URIs []string `json:"uris"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decoding body: %v", err)
				return
			}
			if !reflect.DeepEqual(body.URIs, []string{"spotify:track:t1", "spotify:track:t2"}) {
				t.Errorf("uris = %v", body.URIs)
			}
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, map[string]string{"snapshot_id": "snap-2"})
		},
	})

	client := NewSpotifyClient(server.URL, "test-token", server.Client(), nil)
	snapshot, err := client.AddTracks(context.Background(), "p1", []string{"spotify:track:t1", "spotify:track:t2"})
	if err != nil {
		t.Fatalf("AddTracks() error = %v", err)
	}
	if snapshot != "snap-2" {
		t.Errorf("AddTracks() = %q, want snap-2", snapshot)
	}
}

func TestClientRateLimitError(t *testing.T) {
	server := newSpotifyServer(t, map[string]http.HandlerFunc{
		"GET /albums/alb1/tracks?limit=50": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "4")
			w.WriteHeader(http.StatusTooManyRequests)
		},
	})

	client := NewSpotifyClient(server.URL, "test-token", server.Client(), nil)
	_, err := client.ReleaseTracks(context.Background(), "alb1")

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("ReleaseTracks() error = %v, want *RateLimitError", err)
	}
	if rl.RetryAfter != 4*time.Second {
		t.Errorf("RetryAfter = %v, want 4s", rl.RetryAfter)
	}
}

func TestPlaylistArtistIDs(t *testing.T) {
	var server *httptest.Server
	server = newSpotifyServer(t, map[string]http.HandlerFunc{
		"GET /playlists/src/tracks?limit=100": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]interface{}{
				"items": []map[string]interface{}{
					{"track": map[string]interface{}{"id": "t1", "artists": []map[string]string{{"id": "a1"}, {"id": "a2"}}}},
					{"track": nil},
				},
				"next": fmt.Sprintf("%s/playlists/src/tracks?limit=100&offset=100", server.URL),
			})
		},
		"GET /playlists/src/tracks?limit=100&offset=100": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]interface{}{
				"items": []map[string]interface{}{
					{"track": map[string]interface{}{"id": "t2", "artists": []map[string]string{{"id": "a2"}, {"id": ""}, {"id": "a3"}}}},
				},
			})
		},
		"GET /playlists/src?fields=id,name,description": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, PlaylistInfo{ID: "src", Name: "Source", Description: "<b>Best</b> of"})
		},
	})

	client := NewSpotifyClient(server.URL, "test-token", server.Client(), nil)
	ids, err := client.PlaylistArtistIDs(context.Background(), "src")
	if err != nil {
		t.Fatalf("PlaylistArtistIDs() error = %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"a1", "a2", "a2", "a3"}) {
		t.Errorf("PlaylistArtistIDs() = %v", ids)
	}

	info, err := client.Playlist(context.Background(), "src")
	if err != nil {
		t.Fatalf("Playlist() error = %v", err)
	}
	if info.Name != "Source" || info.Description != "<b>Best</b> of" {
		t.Errorf("Playlist() = %+v", info)
	}
}
