package main

import (
	"context"

	"go.uber.org/zap"
)

// PublishReport summarizes a publish pass
type PublishReport struct {
	Published       []string
	Chunks          int
	FailedChunks    int
	UntrackedChunks int
}

// ChunkHook runs after each chunk is accepted upstream
type ChunkHook func(ctx context.Context, uris []string) error

// BatchPublisher adds URIs to a playlist in chunks no larger than the upstream limit
type BatchPublisher struct {
	provider   ClientProvider
	caller     *Caller
	chunkSize  int
	chunkDelay Duration
	sleep      Sleeper
	logger     *zap.Logger
}

func NewBatchPublisher(provider ClientProvider, caller *Caller, settings PublishSettings, sleep Sleeper, logger *zap.Logger) *BatchPublisher {
	size := settings.ChunkSize
	if size <= 0 || size > maxChunkSize {
		size = maxChunkSize
	}
	if sleep == nil {
		sleep = sleepContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchPublisher{
		provider:   provider,
		caller:     caller,
		chunkSize:  size,
		chunkDelay: settings.ChunkDelay,
		sleep:      sleep,
		logger:     logger,
	}
}

// Publish inserts uris in order. A failed chunk is logged and skipped and its
// URIs are left out of the report; onChunk, if set, runs after every chunk that
// succeeded. Only cancellation stops the pass early.
func (p *BatchPublisher) Publish(ctx context.Context, playlistID string, uris []string, onChunk ChunkHook) (*PublishReport, error) {
	report := &PublishReport{}
	if len(uris) == 0 {
		return report, nil
	}

	chunks := splitBatches(uris, p.chunkSize)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Chunks++

		if err := p.publishChunk(ctx, playlistID, chunk); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.FailedChunks++
			p.logger.Error("Failed to publish chunk",
				zap.Int("chunk", i+1),
				zap.Int("size", len(chunk)),
				zap.Error(err))
		} else {
			report.Published = append(report.Published, chunk...)
			if onChunk != nil {
				if err := onChunk(ctx, chunk); err != nil {
					// the chunk is in the playlist but untracked; a later run may add it again
					report.UntrackedChunks++
					p.logger.Error("Failed to record published chunk",
						zap.Int("chunk", i+1),
						zap.Error(err))
				}
			}
		}

		if i < len(chunks)-1 {
			if err := p.sleep(ctx, p.chunkDelay.Duration()); err != nil {
				return report, err
			}
		}
	}

	p.logger.Info("Published tracks",
		zap.String("playlist_id", playlistID),
		zap.Int("published", len(report.Published)),
		zap.Int("failed_chunks", report.FailedChunks))
	return report, nil
}

func (p *BatchPublisher) publishChunk(ctx context.Context, playlistID string, chunk []string) error {
	return Do(ctx, p.caller, "playlist_add", func(ctx context.Context) error {
		// re-acquired per attempt so a long backoff still uses a fresh token
		playlists, err := p.provider.Playlists(ctx)
		if err != nil {
			return err
		}
		_, err = playlists.AddTracks(ctx, playlistID, chunk)
		return err
	})
}
