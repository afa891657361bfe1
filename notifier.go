package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	discordEmbedColor = 1947988
	discordFooter     = "Spotify Auto Playlist"
	discordTimeout    = 10 * time.Second
	natsFlushTimeout  = 5 * time.Second
)

// NotificationBatch is the set of tracks published by one run
type NotificationBatch struct {
	RunID      string          `json:"run_id"`
	PlaylistID string          `json:"playlist_id"`
	Notices    []ReleaseNotice `json:"tracks"`
}

// Notifier delivers new-release notifications. Failures are reported, never fatal.
type Notifier interface {
	Notify(ctx context.Context, batch NotificationBatch) error
}

// Messenger sends a free-form status line, such as a notice that a run stopped early
type Messenger interface {
	Message(ctx context.Context, text string) error
}

// NoopNotifier is used when no sink is configured
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, NotificationBatch) error { return nil }

func (NoopNotifier) Message(context.Context, string) error { return nil }

// MultiNotifier fans a batch out to several sinks and joins their errors
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, batch NotificationBatch) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Message goes to the sinks that accept plain messages; the rest are skipped
func (m MultiNotifier) Message(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		messenger, ok := n.(Messenger)
		if !ok {
			continue
		}
		if err := messenger.Message(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type discordPayload struct {
	Username string         `json:"username"`
	Content  string         `json:"content,omitempty"`
	Embeds   []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Color       int                 `json:"color"`
	Timestamp   string              `json:"timestamp"`
	Footer      discordEmbedFooter  `json:"footer"`
	Fields      []discordEmbedField `json:"fields"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordNotifier posts an embed to a Discord webhook
type DiscordNotifier struct {
	webhookURL string
	username   string
	maxFields  int
	client     *http.Client
	digest     Digester
	now        func() time.Time
	logger     *zap.Logger
}

// NewDiscordNotifier creates a webhook notifier. digest may be nil.
func NewDiscordNotifier(webhookURL string, settings NotifySettings, digest Digester, logger *zap.Logger) *DiscordNotifier {
	maxFields := settings.MaxFields
	if maxFields <= 0 || maxFields > 25 {
		maxFields = 25
	}
	return &DiscordNotifier{
		webhookURL: webhookURL,
		username:   settings.Username,
		maxFields:  maxFields,
		client:     &http.Client{Timeout: discordTimeout},
		digest:     digest,
		now:        time.Now,
		logger:     logger,
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, batch NotificationBatch) error {
	if len(batch.Notices) == 0 {
		d.logger.Debug("No tracks to notify about")
		return nil
	}

	if err := d.post(ctx, d.buildPayload(ctx, batch.Notices)); err != nil {
		return err
	}

	d.logger.Info("Discord notification sent", zap.Int("tracks", len(batch.Notices)))
	return nil
}

// Message posts text as a plain webhook message
func (d *DiscordNotifier) Message(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if err := d.post(ctx, discordPayload{Username: d.username, Content: text}); err != nil {
		return err
	}
	d.logger.Info("Discord message sent")
	return nil
}

func (d *DiscordNotifier) post(ctx context.Context, payload discordPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending discord notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		if err := checkResponse(resp); err != nil {
			return fmt.Errorf("discord webhook: %w", err)
		}
		return fmt.Errorf("discord webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (d *DiscordNotifier) buildPayload(ctx context.Context, notices []ReleaseNotice) discordPayload {
	count := len(notices)
	plural := ""
	if count != 1 {
		plural = "s"
	}

	description := fmt.Sprintf("Found %d new release%s from your followed artists.", count, plural)
	if d.digest != nil {
		summary, err := d.digest.Digest(ctx, notices)
		if err != nil {
			d.logger.Warn("Falling back to plain description", zap.Error(err))
		} else if summary != "" {
			description = summary
		}
	}

	embed := discordEmbed{
		Title:       fmt.Sprintf("🎵 %d New Track%s Added to Playlist!", count, plural),
		Description: description,
		Color:       discordEmbedColor,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
		Footer:      discordEmbedFooter{Text: discordFooter},
	}

	for i, n := range notices {
		if i == d.maxFields {
			break
		}
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:  fmt.Sprintf("%d. %s", i+1, n.Name),
			Value: fmt.Sprintf("**Artists:** %s\n**Released:** %s (%s)", n.Artists, n.ReleaseDate, daysText(n.DaysOld)),
		})
	}
	if count > d.maxFields {
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:  "➕ More tracks",
			Value: fmt.Sprintf("...and %d more tracks!", count-d.maxFields),
		})
	}

	return discordPayload{Username: d.username, Embeds: []discordEmbed{embed}}
}

func daysText(days int) string {
	if days == 0 {
		return "today"
	}
	return fmt.Sprintf("%dd ago", days)
}

// natsPublisher is the part of *nats.Conn the notifier uses
type natsPublisher interface {
	PublishMsg(m *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
}

// NATSNotifier publishes each batch as one JSON message
type NATSNotifier struct {
	conn    natsPublisher
	subject string
	logger  *zap.Logger
}

func NewNATSNotifier(conn natsPublisher, subject string, logger *zap.Logger) *NATSNotifier {
	return &NATSNotifier{conn: conn, subject: subject, logger: logger}
}

func (n *NATSNotifier) Notify(ctx context.Context, batch NotificationBatch) error {
	if len(batch.Notices) == 0 {
		return nil
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encoding release batch: %w", err)
	}

	msg := nats.NewMsg(n.subject)
	msg.Data = data
	// lets JetStream drop a batch re-sent by a retried run
	msg.Header.Set(nats.MsgIdHdr, batch.RunID)

	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", n.subject, err)
	}
	if err := n.conn.FlushTimeout(natsFlushTimeout); err != nil {
		return fmt.Errorf("flushing NATS connection: %w", err)
	}

	n.logger.Info("Release batch published",
		zap.String("subject", n.subject),
		zap.Int("tracks", len(batch.Notices)))
	return nil
}

// ConnectNATS dials the server, giving up when ctx is done
func ConnectNATS(ctx context.Context, url string, logger *zap.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, fmt.Errorf("NATS URL cannot be empty")
	}

	opts := []nats.Option{
		nats.Name("release-radar"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := connectWithContext(ctx, func() (*nats.Conn, error) {
		return nats.Connect(url, opts...)
	}, func(nc *nats.Conn) {
		logger.Debug("Closing NATS connection that completed after cancellation")
		nc.Close()
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connection cancelled: %w", err)
		}
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// connectWithContext runs dial in the background and returns when it finishes or ctx is done.
// A connection that arrives after ctx is done is passed to closeFn.
func connectWithContext[C any](ctx context.Context, dial func() (C, error), closeFn func(C)) (C, error) {
	type result struct {
		conn C
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		conn, err := dial()
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.conn, res.err
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.err == nil {
				closeFn(res.conn)
			}
		}()
		var zero C
		return zero, ctx.Err()
	}
}
