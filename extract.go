package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Collect artist IDs from the source playlists into the artists file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(debugMode)
		defer logger.Sync()

		cfg, err := LoadConfig(overridesFromFlags(cmd))
		if err != nil {
			return err
		}
		return runExtract(cmd.Context(), cfg, logger)
	},
}

// playlistSource is the catalog access the extractor needs
type playlistSource interface {
	Playlist(ctx context.Context, playlistID string) (*PlaylistInfo, error)
	PlaylistArtistIDs(ctx context.Context, playlistID string) ([]string, error)
}

// ProducerExtractor builds the tracked artist list from source playlists
type ProducerExtractor struct {
	source    playlistSource
	caller    *Caller
	converter *md.Converter
	logger    *zap.Logger
}

func NewProducerExtractor(source playlistSource, caller *Caller, logger *zap.Logger) *ProducerExtractor {
	return &ProducerExtractor{
		source:    source,
		caller:    caller,
		converter: md.NewConverter("", true, nil),
		logger:    logger,
	}
}

// Extract returns the unique artist IDs across the playlists in first-seen order
func (e *ProducerExtractor) Extract(ctx context.Context, playlists []string) ([]string, error) {
	seen := NewIDSet()
	var ids []string

	for _, ref := range playlists {
		playlistID := extractPlaylistID(ref)

		info, err := Call(ctx, e.caller, "playlist", func(ctx context.Context) (*PlaylistInfo, error) {
			return e.source.Playlist(ctx, playlistID)
		})
		if err != nil {
			return nil, err
		}
		e.logger.Info("Reading playlist",
			zap.String("playlist_id", playlistID),
			zap.String("name", info.Name),
			zap.String("description", e.describe(info.Description)))

		artists, err := Call(ctx, e.caller, "playlist_tracks", func(ctx context.Context) ([]string, error) {
			return e.source.PlaylistArtistIDs(ctx, playlistID)
		})
		if err != nil {
			return nil, err
		}

		before := len(ids)
		for _, id := range artists {
			if !seen.Has(id) {
				seen.Add(id)
				ids = append(ids, id)
			}
		}
		e.logger.Info("Collected artists",
			zap.String("playlist_id", playlistID),
			zap.Int("new", len(ids)-before),
			zap.Int("total", len(ids)))
	}
	return ids, nil
}

// describe renders a playlist description, which the API returns as HTML, as markdown
func (e *ProducerExtractor) describe(description string) string {
	if description == "" {
		return ""
	}
	text, err := e.converter.ConvertString(description)
	if err != nil {
		return description
	}
	return strings.TrimSpace(text)
}

// extractPlaylistID accepts a playlist URL, a spotify:playlist: URI or a bare ID
func extractPlaylistID(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.Index(ref, "playlist/"); i >= 0 {
		ref = ref[i+len("playlist/"):]
		if j := strings.IndexAny(ref, "?/#"); j >= 0 {
			ref = ref[:j]
		}
		return ref
	}
	return strings.TrimPrefix(ref, "spotify:playlist:")
}

func runExtract(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	if err := cfg.ValidateExtract(); err != nil {
		return err
	}

	client, err := NewAppSession(cfg, logger).Client(ctx)
	if err != nil {
		return fmt.Errorf("authorizing: %w", err)
	}

	extractor := NewProducerExtractor(client, NewCaller(cfg.Settings.Retry, nil, logger), logger)
	ids, err := extractor.Extract(ctx, cfg.Settings.SourcePlaylists)
	if err != nil {
		return fmt.Errorf("extracting artists: %w", err)
	}

	path := cfg.Settings.ArtistsFile
	if err := ensureDir(path); err != nil {
		return fmt.Errorf("creating artists directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(ids, ", ")), 0o644); err != nil {
		return fmt.Errorf("writing artists file: %w", err)
	}

	logger.Info("Saved artist IDs", zap.Int("artists", len(ids)), zap.String("path", path))
	return nil
}
