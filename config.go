package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSettingsPath = "release-radar.yaml"

	// maxChunkSize is the upstream limit on URIs per playlist insert
	maxChunkSize = 100
)

// ErrMissingConfig is wrapped by every missing credential or setting error
var ErrMissingConfig = errors.New("missing configuration")

// Duration is a time.Duration that reads from YAML strings such as "30s"
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ConfigOverrides allows command-line flags to override file settings
type ConfigOverrides struct {
	SettingsPath  *string
	BatchSize     *int
	BatchDelay    *time.Duration
	ProducerDelay *time.Duration
	MaxProducers  *int
}

// ScanSettings controls producer batching and pacing
type ScanSettings struct {
	BatchSize     int      `yaml:"batch_size"`
	PageSize      int      `yaml:"page_size"`
	IncludeGroups string   `yaml:"include_groups"`
	MaxProducers  int      `yaml:"max_producers"`
	BatchDelay    Duration `yaml:"batch_delay"`
	ProducerDelay Duration `yaml:"producer_delay"`
	CallDelay     Duration `yaml:"call_delay"`
}

// PublishSettings controls playlist inserts
type PublishSettings struct {
	ChunkSize  int      `yaml:"chunk_size"`
	ChunkDelay Duration `yaml:"chunk_delay"`
}

// RetrySettings bounds the rate-limit retry loop
type RetrySettings struct {
	MaxAttempts int      `yaml:"max_attempts"`
	MaxWait     Duration `yaml:"max_wait"`
}

// TrackingSettings selects where published track IDs are persisted
type TrackingSettings struct {
	Backend     string `yaml:"backend"` // "file" or "azblob"
	CurrentFile string `yaml:"current_file"`
	PriorFile   string `yaml:"prior_file"`
	Container   string `yaml:"container"`
	CurrentBlob string `yaml:"current_blob"`
	PriorBlob   string `yaml:"prior_blob"`
}

// SpotifySettings configures the Web API client
type SpotifySettings struct {
	APIBaseURL        string   `yaml:"api_base_url"`
	AccountsURL       string   `yaml:"accounts_url"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	RefreshMargin     Duration `yaml:"refresh_margin"`
	Timeout           Duration `yaml:"timeout"`
}

// DigestSettings configures the optional LLM-written notification summary
type DigestSettings struct {
	Enabled     bool    `yaml:"enabled"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// NotifySettings configures notification sinks
type NotifySettings struct {
	Username    string         `yaml:"username"`
	MaxFields   int            `yaml:"max_fields"`
	NATSSubject string         `yaml:"nats_subject"`
	Digest      DigestSettings `yaml:"digest"`
}

// TracingSettings configures OpenTelemetry export
type TracingSettings struct {
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Settings represents the YAML configuration structure
type Settings struct {
	TargetPlaylistID string           `yaml:"target_playlist_id"`
	ArtistsFile      string           `yaml:"artists_file"`
	SourcePlaylists  []string         `yaml:"source_playlists"`
	Scan             ScanSettings     `yaml:"scan"`
	Publish          PublishSettings  `yaml:"publish"`
	Retry            RetrySettings    `yaml:"retry"`
	Tracking         TrackingSettings `yaml:"tracking"`
	Spotify          SpotifySettings  `yaml:"spotify"`
	Notify           NotifySettings   `yaml:"notify"`
	Tracing          TracingSettings  `yaml:"tracing"`
}

// Credentials are secrets read from the environment
type Credentials struct {
	ClientID          string
	ClientSecret      string
	RefreshToken      string
	DiscordWebhookURL string
	NATSURL           string
	AzureConnection   string
	AnthropicAPIKey   string
	OTLPEndpoint      string
}

// Config holds settings, credentials and overrides
type Config struct {
	Settings    *Settings
	Credentials Credentials
}

// DefaultSettings returns conservative values suited to a multi-hour run
func DefaultSettings() *Settings {
	return &Settings{
		ArtistsFile: "artists_id.txt",
		Scan: ScanSettings{
			BatchSize:     20,
			PageSize:      20,
			IncludeGroups: "album,single",
			BatchDelay:    Duration(60 * time.Second),
			ProducerDelay: Duration(2 * time.Second),
			CallDelay:     Duration(250 * time.Millisecond),
		},
		Publish: PublishSettings{
			ChunkSize:  maxChunkSize,
			ChunkDelay: Duration(time.Second),
		},
		Retry: RetrySettings{
			MaxAttempts: 50,
			MaxWait:     Duration(time.Hour),
		},
		Tracking: TrackingSettings{
			Backend:     "file",
			CurrentFile: "tracked_current.txt",
			PriorFile:   "tracked_prior.txt",
			Container:   "release-radar",
			CurrentBlob: "tracking/current.txt",
			PriorBlob:   "tracking/prior.txt",
		},
		Spotify: SpotifySettings{
			APIBaseURL:        "https://api.spotify.com/v1",
			AccountsURL:       "https://accounts.spotify.com/api/token",
			RequestsPerSecond: 2,
			Burst:             1,
			RefreshMargin:     Duration(5 * time.Minute),
			Timeout:           Duration(30 * time.Second),
		},
		Notify: NotifySettings{
			Username:    "Spotify Bot",
			MaxFields:   25,
			NATSSubject: "releases.new",
			Digest: DigestSettings{
				Model:       "claude-sonnet-4-20250514",
				MaxTokens:   400,
				Temperature: 0.3,
			},
		},
		Tracing: TracingSettings{
			ServiceName: "release-radar",
			Environment: "production",
			SampleRatio: 1.0,
		},
	}
}

// LoadConfig reads settings (falling back to defaults when the default file is
// missing), applies overrides and reads credentials from the environment.
func LoadConfig(overrides *ConfigOverrides) (*Config, error) {
	path := defaultSettingsPath
	required := false
	if overrides != nil && overrides.SettingsPath != nil && *overrides.SettingsPath != "" {
		path = *overrides.SettingsPath
		required = true
	}

	settings, err := loadSettings(path, required)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	settings.applyOverrides(overrides)
	settings.applyEnv()

	if err := settings.validate(); err != nil {
		return nil, err
	}

	return &Config{
		Settings:    settings,
		Credentials: credentialsFromEnv(),
	}, nil
}

// loadSettings loads settings from YAML on top of the defaults. A missing
// file is only an error when it was asked for explicitly.
func loadSettings(path string, required bool) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return settings, nil
		}
		return nil, fmt.Errorf("reading settings file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings YAML: %w", err)
	}
	return settings, nil
}

func (s *Settings) applyOverrides(o *ConfigOverrides) {
	if o == nil {
		return
	}
	if o.BatchSize != nil {
		s.Scan.BatchSize = *o.BatchSize
	}
	if o.BatchDelay != nil {
		s.Scan.BatchDelay = Duration(*o.BatchDelay)
	}
	if o.ProducerDelay != nil {
		s.Scan.ProducerDelay = Duration(*o.ProducerDelay)
	}
	if o.MaxProducers != nil {
		s.Scan.MaxProducers = *o.MaxProducers
	}
}

func (s *Settings) applyEnv() {
	if v := os.Getenv("TARGET_PLAYLIST_ID"); v != "" {
		s.TargetPlaylistID = v
	}
	if v := os.Getenv("ARTISTS_FILE"); v != "" {
		s.ArtistsFile = v
	}
}

func (s *Settings) validate() error {
	if s.Scan.BatchSize <= 0 {
		return fmt.Errorf("scan.batch_size must be positive, got %d", s.Scan.BatchSize)
	}
	if s.Scan.PageSize <= 0 || s.Scan.PageSize > 50 {
		return fmt.Errorf("scan.page_size must be between 1 and 50, got %d", s.Scan.PageSize)
	}
	if s.Scan.MaxProducers < 0 {
		return fmt.Errorf("scan.max_producers must not be negative, got %d", s.Scan.MaxProducers)
	}
	if s.Publish.ChunkSize <= 0 || s.Publish.ChunkSize > maxChunkSize {
		return fmt.Errorf("publish.chunk_size must be between 1 and %d, got %d", maxChunkSize, s.Publish.ChunkSize)
	}
	switch s.Tracking.Backend {
	case "file", "azblob":
	default:
		return fmt.Errorf("tracking.backend must be \"file\" or \"azblob\", got %q", s.Tracking.Backend)
	}
	return nil
}

func credentialsFromEnv() Credentials {
	return Credentials{
		ClientID:          os.Getenv("SPOTIFY_CLIENT_ID"),
		ClientSecret:      os.Getenv("SPOTIFY_CLIENT_SECRET"),
		RefreshToken:      os.Getenv("SPOTIFY_REFRESH_TOKEN"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		NATSURL:           os.Getenv("NATS_URL"),
		AzureConnection:   os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

// ValidateRun checks everything the recurring run needs before any API call
func (c *Config) ValidateRun() error {
	missing := c.missingClientCredentials()
	if c.Credentials.RefreshToken == "" {
		missing = append(missing, "SPOTIFY_REFRESH_TOKEN")
	}
	if c.Settings.TargetPlaylistID == "" {
		missing = append(missing, "TARGET_PLAYLIST_ID")
	}
	if c.Settings.Tracking.Backend == "azblob" && c.Credentials.AzureConnection == "" {
		missing = append(missing, "AZURE_STORAGE_CONNECTION_STRING")
	}
	return missingError(missing)
}

// ValidateExtract checks what the producer extraction job needs
func (c *Config) ValidateExtract() error {
	missing := c.missingClientCredentials()
	if len(c.Settings.SourcePlaylists) == 0 {
		missing = append(missing, "source_playlists")
	}
	return missingError(missing)
}

func (c *Config) missingClientCredentials() []string {
	var missing []string
	if c.Credentials.ClientID == "" {
		missing = append(missing, "SPOTIFY_CLIENT_ID")
	}
	if c.Credentials.ClientSecret == "" {
		missing = append(missing, "SPOTIFY_CLIENT_SECRET")
	}
	return missing
}

func missingError(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
}
