package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
	"go.uber.org/zap"
)

// maxDigestTracks caps how many tracks are listed in the digest prompt
const maxDigestTracks = 50

const digestSystemPrompt = `You write the short intro for a chat notification announcing new music.
Write two or three friendly sentences, plain text, no lists, no emoji, no markdown headings.
Mention the most notable artists by name. Do not invent facts beyond the given track list.`

// Digester writes a short summary paragraph for a notification
type Digester interface {
	Digest(ctx context.Context, notices []ReleaseNotice) (string, error)
}

// completeFunc sends a system and user prompt to a model and returns its text
type completeFunc func(systemPrompt, userPrompt string) (string, error)

// LLMDigester asks Claude for the notification summary
type LLMDigester struct {
	complete completeFunc
	logger   *zap.Logger
}

// NewLLMDigester creates a digester backed by the Anthropic API
func NewLLMDigester(apiKey string, settings DigestSettings, logger *zap.Logger) *LLMDigester {
	requestSettings := types.RequestSettings{
		Model:       settings.Model,
		MaxTokens:   settings.MaxTokens,
		Temperature: settings.Temperature,
	}
	complete := func(systemPrompt, userPrompt string) (string, error) {
		response, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, "", apiKey, requestSettings)
		if err != nil {
			return "", err
		}
		if len(response.Content) == 0 {
			return "", fmt.Errorf("no content in response")
		}
		return response.Content[0].Text, nil
	}
	return &LLMDigester{complete: complete, logger: logger}
}

// Digest summarizes the notices; an empty list yields an empty digest
func (d *LLMDigester) Digest(ctx context.Context, notices []ReleaseNotice) (string, error) {
	if len(notices) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.logger.Debug("Writing notification digest", zap.Int("tracks", len(notices)))
	text, err := d.complete(digestSystemPrompt, buildDigestPrompt(notices))
	if err != nil {
		return "", fmt.Errorf("digest agent failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func buildDigestPrompt(notices []ReleaseNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d new tracks were added to the playlist:\n", len(notices))

	shown := notices
	if len(shown) > maxDigestTracks {
		shown = shown[:maxDigestTracks]
	}
	for _, n := range shown {
		fmt.Fprintf(&b, "- %q by %s (released %s)\n", n.Name, n.Artists, n.ReleaseDate)
	}
	if rest := len(notices) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "...and %d more.\n", rest)
	}
	return b.String()
}
