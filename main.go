package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	configFile    string
	debugMode     bool
	batchSize     int
	batchDelay    time.Duration
	producerDelay time.Duration
	maxProducers  int
)

var rootCmd = &cobra.Command{
	Use:           "release-radar",
	Short:         "Add new releases from tracked artists to a Spotify playlist",
	Long:          `Scans the tracked artist list for releases from the last day and appends tracks that were not added before to the target playlist.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(debugMode)
		defer logger.Sync()

		cfg, err := LoadConfig(overridesFromFlags(cmd))
		if err != nil {
			return err
		}
		return runReleases(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to settings file (default release-radar.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Artists per batch")
	rootCmd.Flags().DurationVar(&batchDelay, "batch-delay", 0, "Pause between batches")
	rootCmd.Flags().DurationVar(&producerDelay, "producer-delay", 0, "Pause between artists")
	rootCmd.Flags().IntVar(&maxProducers, "max-producers", 0, "Only scan the first N artists (0 = all)")
	rootCmd.AddCommand(extractCmd)
}

// overridesFromFlags only carries flags the user actually set
func overridesFromFlags(cmd *cobra.Command) *ConfigOverrides {
	overrides := &ConfigOverrides{}
	if configFile != "" {
		overrides.SettingsPath = &configFile
	}
	flags := cmd.Flags()
	if flags.Changed("batch-size") {
		overrides.BatchSize = &batchSize
	}
	if flags.Changed("batch-delay") {
		overrides.BatchDelay = &batchDelay
	}
	if flags.Changed("producer-delay") {
		overrides.ProducerDelay = &producerDelay
	}
	if flags.Changed("max-producers") {
		overrides.MaxProducers = &maxProducers
	}
	return overrides
}

func runReleases(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	if err := cfg.ValidateRun(); err != nil {
		return err
	}

	shutdown, err := SetupTracing(ctx, cfg.Credentials.OTLPEndpoint, cfg.Settings.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing unavailable", zap.Error(err))
	}
	defer shutdownTracing(shutdown, logger)

	tracker, err := newTracker(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating tracking store: %w", err)
	}

	notifier, closeNotifier := newNotifier(ctx, cfg, logger)
	defer closeNotifier()

	processor := NewReleaseProcessor(cfg.Settings, ProcessorDeps{
		RunID:    uuid.NewString(),
		Provider: NewUserSession(cfg, logger),
		Tracker:  tracker,
		Notifier: notifier,
		Logger:   logger,
	})

	summary, err := processor.Run(ctx)
	logger.Info("Run finished",
		zap.String("run_id", summary.RunID),
		zap.String("state", string(summary.State)),
		zap.Int("producers", summary.Producers),
		zap.Int("failed_producers", summary.FailedProducers),
		zap.Int("found", summary.Found),
		zap.Int("published", summary.Published),
		zap.Int("failed_chunks", summary.FailedChunks),
		zap.Bool("rotated", summary.Rotated),
		zap.Duration("duration", summary.Duration))
	if err != nil {
		announceFailure(notifier, summary, err, logger)
	}
	return err
}

// announceFailure sends a plain message to the sinks that take one.
// ctx of the run may already be done, so the message gets its own deadline.
func announceFailure(notifier Notifier, summary *RunSummary, runErr error, logger *zap.Logger) {
	messenger, ok := notifier.(Messenger)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), discordTimeout)
	defer cancel()

	text := fmt.Sprintf("⚠️ Release scan %s stopped while %s: %v", summary.RunID, summary.State, runErr)
	if err := messenger.Message(ctx, text); err != nil {
		logger.Warn("Failure message not sent", zap.Error(err))
	}
}

func newTracker(cfg *Config, logger *zap.Logger) (TrackingStore, error) {
	t := cfg.Settings.Tracking
	if t.Backend == "azblob" {
		return NewAzureTracker(cfg.Credentials.AzureConnection, t, logger)
	}
	return NewFileTracker(t.CurrentFile, t.PriorFile, logger), nil
}

// newNotifier builds the configured sinks; unconfigured sinks are skipped silently
func newNotifier(ctx context.Context, cfg *Config, logger *zap.Logger) (Notifier, func()) {
	var sinks MultiNotifier
	closeFn := func() {}

	if url := cfg.Credentials.DiscordWebhookURL; url != "" {
		var digest Digester
		if cfg.Settings.Notify.Digest.Enabled && cfg.Credentials.AnthropicAPIKey != "" {
			digest = NewLLMDigester(cfg.Credentials.AnthropicAPIKey, cfg.Settings.Notify.Digest, logger)
		}
		sinks = append(sinks, NewDiscordNotifier(url, cfg.Settings.Notify, digest, logger))
	} else {
		logger.Debug("DISCORD_WEBHOOK_URL not set, skipping Discord notifications")
	}

	if url := cfg.Credentials.NATSURL; url != "" {
		conn, err := ConnectNATS(ctx, url, logger)
		if err != nil {
			logger.Warn("NATS unavailable, skipping NATS notifications", zap.Error(err))
		} else {
			sinks = append(sinks, NewNATSNotifier(conn, cfg.Settings.Notify.NATSSubject, logger))
			closeFn = func() {
				if err := conn.Drain(); err != nil {
					conn.Close()
				}
			}
		}
	}

	if len(sinks) == 0 {
		return NoopNotifier{}, closeFn
	}
	return sinks, closeFn
}

func newLogger(debug bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		return zap.NewNop()
	}
	return logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
