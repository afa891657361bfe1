// processor.go
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// RunState is a step of the release run
type RunState string

const (
	StateInit       RunState = "init"
	StateLoading    RunState = "loading"
	StateScanning   RunState = "scanning"
	StatePublishing RunState = "publishing"
	StateRotating   RunState = "rotating"
	StateDone       RunState = "done"
)

// RunSummary reports what a run did
type RunSummary struct {
	RunID           string
	State           RunState
	Producers       int
	FailedProducers int
	Found           int
	Published       int
	FailedChunks    int
	Rotated         bool
	Duration        time.Duration
}

// ProcessorDeps are the collaborators of a run
type ProcessorDeps struct {
	RunID    string
	Provider ClientProvider
	Tracker  TrackingStore
	Notifier Notifier
	Sleep    Sleeper
	Now      func() time.Time
	Logger   *zap.Logger
}

// ReleaseProcessor sequences scan, publish and tracking rotation for one run
type ReleaseProcessor struct {
	runID       string
	playlistID  string
	artistsFile string
	tracker     TrackingStore
	scanner     *ReleaseScanner
	publisher   *BatchPublisher
	notifier    Notifier
	now         func() time.Time
	logger      *zap.Logger
	state       RunState
}

// NewReleaseProcessor wires the scanner and publisher around the given collaborators
func NewReleaseProcessor(settings *Settings, deps ProcessorDeps) *ReleaseProcessor {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run_id", deps.RunID))

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NoopNotifier{}
	}

	caller := NewCaller(settings.Retry, deps.Sleep, logger)
	return &ReleaseProcessor{
		runID:       deps.RunID,
		playlistID:  settings.TargetPlaylistID,
		artistsFile: settings.ArtistsFile,
		tracker:     deps.Tracker,
		scanner:     NewReleaseScanner(deps.Provider, caller, settings.Scan, deps.Sleep, logger),
		publisher:   NewBatchPublisher(deps.Provider, caller, settings.Publish, deps.Sleep, logger),
		notifier:    notifier,
		now:         now,
		logger:      logger,
		state:       StateInit,
	}
}

// State returns the step the run is in
func (p *ReleaseProcessor) State() RunState {
	return p.state
}

// Run executes one pass. It returns an error only for failures that make the
// run unusable (unreadable inputs, no client, tracking I/O, cancellation);
// per-producer and per-chunk failures are logged and counted in the summary.
func (p *ReleaseProcessor) Run(ctx context.Context) (*RunSummary, error) {
	ctx, span := tracer.Start(ctx, "release.run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", p.runID))

	started := p.now()
	summary := &RunSummary{RunID: p.runID}
	finish := func(err error) (*RunSummary, error) {
		summary.State = p.state
		summary.Duration = p.now().Sub(started)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return summary, err
	}

	p.transition(StateLoading)
	producers, err := LoadProducerIDs(p.artistsFile)
	if err != nil {
		return finish(fmt.Errorf("loading producer list: %w", err))
	}
	if len(producers) == 0 {
		p.logger.Warn("No producers to scan, run extract first", zap.String("artists_file", p.artistsFile))
		p.transition(StateDone)
		return finish(nil)
	}
	summary.Producers = len(producers)

	exclude, err := p.tracker.Load(ctx)
	if err != nil {
		return finish(fmt.Errorf("loading tracking records: %w", err))
	}

	p.transition(StateScanning)
	window := NewWindow(p.now())
	p.logger.Info("Scanning for new releases",
		zap.Int("producers", len(producers)),
		zap.Int("excluded", len(exclude)),
		zap.Time("window_start", window.Start))

	result, scanErr := p.scan(ctx, producers, window, exclude)
	if scanErr != nil {
		if ctx.Err() != nil {
			return finish(scanErr)
		}
		// keep what was found before the failure; it is still publishable
		p.logger.Error("Scan stopped early", zap.Error(scanErr))
	}
	summary.FailedProducers = result.Failed()
	summary.Found = len(result.Releases)

	p.transition(StatePublishing)
	if len(result.Releases) > 0 {
		report, err := p.publish(ctx, result.Releases)
		if report != nil {
			summary.Published = len(report.Published)
			summary.FailedChunks = report.FailedChunks
		}
		if err != nil {
			return finish(err)
		}
	} else {
		p.logger.Info("No new tracks found")
	}

	p.transition(StateRotating)
	if err := p.rotate(ctx); err != nil {
		return finish(err)
	}
	summary.Rotated = true

	p.transition(StateDone)
	if scanErr != nil {
		return finish(fmt.Errorf("scanning: %w", scanErr))
	}
	return finish(nil)
}

func (p *ReleaseProcessor) scan(ctx context.Context, producers []string, window Window, exclude IDSet) (*ScanResult, error) {
	ctx, span := tracer.Start(ctx, "release.scan")
	defer span.End()

	result, err := p.scanner.Scan(ctx, producers, window, exclude)
	span.SetAttributes(
		attribute.Int("batches", result.Batches),
		attribute.Int("new_tracks", len(result.Releases)),
		attribute.Int("failed_producers", result.Failed()))
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// publish inserts the releases and records each chunk as soon as it is accepted
func (p *ReleaseProcessor) publish(ctx context.Context, releases []Release) (*PublishReport, error) {
	ctx, span := tracer.Start(ctx, "release.publish")
	defer span.End()

	uris := make([]string, 0, len(releases))
	byURI := make(map[string]Release, len(releases))
	for _, r := range releases {
		uris = append(uris, r.Track.URI)
		byURI[r.Track.URI] = r
	}

	record := func(ctx context.Context, chunk []string) error {
		ids := make([]string, 0, len(chunk))
		for _, uri := range chunk {
			ids = append(ids, byURI[uri].Track.ID)
		}
		return p.tracker.RecordPublished(ctx, ids...)
	}

	report, err := p.publisher.Publish(ctx, p.playlistID, uris, record)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("publishing: %w", err)
	}
	span.SetAttributes(
		attribute.Int("published", len(report.Published)),
		attribute.Int("failed_chunks", report.FailedChunks))

	if len(report.Published) > 0 {
		p.logger.Info("Added new tracks to playlist", zap.Int("tracks", len(report.Published)))
		p.notify(ctx, report.Published, byURI)
	}
	return report, nil
}

func (p *ReleaseProcessor) notify(ctx context.Context, published []string, byURI map[string]Release) {
	notices := make([]ReleaseNotice, 0, len(published))
	for _, uri := range published {
		notices = append(notices, byURI[uri].Notice())
	}

	batch := NotificationBatch{RunID: p.runID, PlaylistID: p.playlistID, Notices: notices}
	if err := p.notifier.Notify(ctx, batch); err != nil {
		p.logger.Error("Failed to send notification", zap.Error(err))
	}
}

func (p *ReleaseProcessor) rotate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "release.rotate")
	defer span.End()

	if err := p.tracker.Rotate(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("rotating tracking records: %w", err)
	}
	return nil
}

func (p *ReleaseProcessor) transition(next RunState) {
	p.logger.Debug("Run state", zap.String("from", string(p.state)), zap.String("to", string(next)))
	p.state = next
}

// LoadProducerIDs reads a comma- or newline-separated list of IDs, dropping
// blanks and duplicates while keeping first-seen order. A missing file is an
// empty list.
func LoadProducerIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseProducerIDs(string(data)), nil
}

func parseProducerIDs(content string) []string {
	fields := strings.FieldsFunc(content, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})

	seen := NewIDSet()
	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		id := strings.TrimSpace(f)
		if id == "" || seen.Has(id) {
			continue
		}
		seen.Add(id)
		ids = append(ids, id)
	}
	return ids
}
