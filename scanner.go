package main

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ReleaseQuery selects which of a producer's releases to list
type ReleaseQuery struct {
	Groups string
	Limit  int
}

// Catalog is the read side of the remote API
type Catalog interface {
	ArtistReleases(ctx context.Context, artistID string, query ReleaseQuery) ([]CatalogItem, error)
	ReleaseTracks(ctx context.Context, itemID string) ([]SubItem, error)
}

// PlaylistWriter is the write side of the remote API
type PlaylistWriter interface {
	AddTracks(ctx context.Context, playlistID string, uris []string) (string, error)
}

// ClientProvider hands out authenticated clients, refreshing credentials as needed
type ClientProvider interface {
	Catalog(ctx context.Context) (Catalog, error)
	Playlists(ctx context.Context) (PlaylistWriter, error)
}

// ScanResult is the outcome of scanning every producer
type ScanResult struct {
	Releases  []Release
	NewIDs    IDSet
	Producers []ProducerResult
	Batches   int
}

// Failed counts producers that were skipped because of an error
func (r *ScanResult) Failed() int {
	n := 0
	for _, p := range r.Producers {
		if p.Status == StatusError {
			n++
		}
	}
	return n
}

// ReleaseScanner walks producers in batches and collects unseen tracks from recent releases
type ReleaseScanner struct {
	provider ClientProvider
	caller   *Caller
	settings ScanSettings
	sleep    Sleeper
	logger   *zap.Logger
}

func NewReleaseScanner(provider ClientProvider, caller *Caller, settings ScanSettings, sleep Sleeper, logger *zap.Logger) *ReleaseScanner {
	if sleep == nil {
		sleep = sleepContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReleaseScanner{
		provider: provider,
		caller:   caller,
		settings: settings,
		sleep:    sleep,
		logger:   logger,
	}
}

// Scan processes producers in order. A failing producer is logged and skipped;
// only cancellation or a failure to obtain a client stops the scan, in which case
// the partial result is returned with the error. The producer that hit the
// client failure is not part of the result.
func (s *ReleaseScanner) Scan(ctx context.Context, producers []string, window Window, exclude IDSet) (*ScanResult, error) {
	result := &ScanResult{NewIDs: NewIDSet()}

	if s.settings.MaxProducers > 0 && len(producers) > s.settings.MaxProducers {
		s.logger.Info("Capping producer list",
			zap.Int("total", len(producers)),
			zap.Int("max_producers", s.settings.MaxProducers))
		producers = producers[:s.settings.MaxProducers]
	}

	batches := splitBatches(producers, s.settings.BatchSize)
	for bi, batch := range batches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		s.logger.Info("Scanning batch",
			zap.Int("batch", bi+1),
			zap.Int("batches", len(batches)),
			zap.Int("producers", len(batch)))

		if err := s.scanBatch(ctx, batch, window, exclude, result); err != nil {
			return result, fmt.Errorf("batch %d: %w", bi+1, err)
		}
		result.Batches++

		if bi < len(batches)-1 {
			s.logger.Debug("Pausing between batches", zap.Duration("delay", s.settings.BatchDelay.Duration()))
			if err := s.sleep(ctx, s.settings.BatchDelay.Duration()); err != nil {
				return result, err
			}
		}
	}

	s.logger.Info("Scan complete",
		zap.Int("producers", len(result.Producers)),
		zap.Int("failed", result.Failed()),
		zap.Int("new_tracks", len(result.Releases)))
	return result, nil
}

func (s *ReleaseScanner) scanBatch(ctx context.Context, batch []string, window Window, exclude IDSet, result *ScanResult) error {
	ctx, span := tracer.Start(ctx, "scan.batch")
	defer span.End()
	span.SetAttributes(attribute.Int("producers", len(batch)))

	for i, producerID := range batch {
		pr := s.scanProducer(ctx, producerID, window, exclude, result)
		if err := ctx.Err(); err != nil {
			return err
		}
		var clientErr *clientError
		if errors.As(pr.Error, &clientErr) {
			span.RecordError(pr.Error)
			return pr.Error
		}
		result.Producers = append(result.Producers, pr)

		if pr.Status == StatusError {
			span.RecordError(pr.Error)
			s.logger.Warn("Skipping producer after error",
				zap.String("producer_id", producerID),
				zap.Error(pr.Error))
		} else if pr.Tracks > 0 {
			s.logger.Info("Found new tracks",
				zap.String("producer_id", producerID),
				zap.Int("tracks", pr.Tracks))
		}

		if i < len(batch)-1 {
			if err := s.sleep(ctx, s.settings.ProducerDelay.Duration()); err != nil {
				return err
			}
		}
	}

	if result.Failed() > 0 {
		span.SetStatus(codes.Error, "producer failures")
	}
	return nil
}

// scanProducer stages a producer's new tracks and merges them into result only
// when the whole producer succeeded.
func (s *ReleaseScanner) scanProducer(ctx context.Context, producerID string, window Window, exclude IDSet, result *ScanResult) ProducerResult {
	fail := func(err error) ProducerResult {
		return ProducerResult{ProducerID: producerID, Status: StatusError, Error: err}
	}

	query := ReleaseQuery{Groups: s.settings.IncludeGroups, Limit: s.settings.PageSize}
	items, err := Call(ctx, s.caller, "artist_releases", func(ctx context.Context) ([]CatalogItem, error) {
		catalog, err := s.catalog(ctx)
		if err != nil {
			return nil, err
		}
		return catalog.ArtistReleases(ctx, producerID, query)
	})
	if err != nil {
		return fail(err)
	}
	if err := s.sleep(ctx, s.settings.CallDelay.Duration()); err != nil {
		return fail(err)
	}

	var staged []Release
	stagedIDs := NewIDSet()

	for _, item := range items {
		releasedAt, err := NormalizeReleaseDate(item.ReleaseDate, item.ReleaseDatePrecision)
		if err != nil {
			return fail(fmt.Errorf("release %s: %w", item.ID, err))
		}
		if !window.Includes(releasedAt) {
			continue
		}

		itemID := item.ID
		tracks, err := Call(ctx, s.caller, "release_tracks", func(ctx context.Context) ([]SubItem, error) {
			catalog, err := s.catalog(ctx)
			if err != nil {
				return nil, err
			}
			return catalog.ReleaseTracks(ctx, itemID)
		})
		if err != nil {
			return fail(err)
		}
		if err := s.sleep(ctx, s.settings.CallDelay.Duration()); err != nil {
			return fail(err)
		}

		daysOld := AgeDays(window.Now, releasedAt)
		for _, track := range tracks {
			if track.ID == "" || exclude.Has(track.ID) || result.NewIDs.Has(track.ID) || stagedIDs.Has(track.ID) {
				continue
			}
			stagedIDs.Add(track.ID)
			staged = append(staged, Release{
				Track:       track,
				ProducerID:  producerID,
				ItemID:      item.ID,
				ReleaseDate: item.ReleaseDate,
				ReleasedAt:  releasedAt,
				DaysOld:     daysOld,
			})
		}
	}

	for _, r := range staged {
		result.NewIDs.Add(r.Track.ID)
	}
	result.Releases = append(result.Releases, staged...)

	status := StatusSuccess
	if len(staged) == 0 {
		status = StatusSkipped
	}
	return ProducerResult{ProducerID: producerID, Status: status, Tracks: len(staged)}
}

// catalog is requested for every attempt so a call made after a long backoff
// carries a token the provider has refreshed in the meantime
func (s *ReleaseScanner) catalog(ctx context.Context) (Catalog, error) {
	c, err := s.provider.Catalog(ctx)
	if err != nil {
		return nil, &clientError{err: err}
	}
	return c, nil
}

// clientError marks a failure to obtain an authenticated client; it stops the scan
type clientError struct {
	err error
}

func (e *clientError) Error() string { return "acquiring client: " + e.err.Error() }

func (e *clientError) Unwrap() error { return e.err }

func splitBatches(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var batches [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}
