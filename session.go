package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	grantRefreshToken      = "refresh_token"
	grantClientCredentials = "client_credentials"
)

// tokenSourceFunc adapts a function to oauth2.TokenSource
type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }

// ClientSession owns the access token and hands out API clients,
// refreshing the token lazily when it is close to expiry.
type ClientSession struct {
	mu sync.Mutex

	apiBaseURL string
	grant      string
	source     oauth2.TokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	client *SpotifyClient
}

// NewUserSession creates a session authorized through a stored refresh token,
// as needed to modify playlists.
func NewUserSession(cfg *Config, logger *zap.Logger) *ClientSession {
	s := newSession(cfg, logger)
	s.grant = grantRefreshToken

	conf := &oauth2.Config{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.Settings.Spotify.AccountsURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	refreshToken := cfg.Credentials.RefreshToken

	// the token endpoint may rotate the refresh token; the next exchange uses the new one
	s.useTokens(func(ctx context.Context) (*oauth2.Token, error) {
		tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return nil, err
		}
		if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
			s.logger.Debug("Refresh token rotated")
			refreshToken = tok.RefreshToken
		}
		return tok, nil
	}, cfg.Settings.Spotify.RefreshMargin.Duration())
	return s
}

// NewAppSession creates a session using the client-credentials grant (read-only catalog access)
func NewAppSession(cfg *Config, logger *zap.Logger) *ClientSession {
	s := newSession(cfg, logger)
	s.grant = grantClientCredentials

	conf := &clientcredentials.Config{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
		TokenURL:     cfg.Settings.Spotify.AccountsURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	s.useTokens(conf.Token, cfg.Settings.Spotify.RefreshMargin.Duration())
	return s
}

func newSession(cfg *Config, logger *zap.Logger) *ClientSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	sp := cfg.Settings.Spotify

	limit := rate.Inf
	if sp.RequestsPerSecond > 0 {
		limit = rate.Limit(sp.RequestsPerSecond)
	}
	burst := sp.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ClientSession{
		apiBaseURL: sp.APIBaseURL,
		httpClient: &http.Client{Timeout: sp.Timeout.Duration()},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// useTokens caches tokens from fetch until they are within margin of expiry
func (s *ClientSession) useTokens(fetch func(context.Context) (*oauth2.Token, error), margin time.Duration) {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.httpClient)
	s.source = oauth2.ReuseTokenSourceWithExpiry(nil, tokenSourceFunc(func() (*oauth2.Token, error) {
		return fetch(ctx)
	}), margin)
}

// Client returns an API client holding a token valid for at least the refresh margin
func (s *ClientSession) Client(ctx context.Context) (*SpotifyClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.source.Token()
	if err != nil {
		return nil, fmt.Errorf("requesting access token: %w", err)
	}

	if s.client == nil || s.client.token != tok.AccessToken {
		s.logger.Debug("Access token refreshed",
			zap.String("grant", s.grant),
			zap.Time("expires_at", tok.Expiry))
		s.client = NewSpotifyClient(s.apiBaseURL, tok.AccessToken, s.httpClient, s.limiter)
	}
	return s.client, nil
}

// Catalog satisfies ClientProvider
func (s *ClientSession) Catalog(ctx context.Context) (Catalog, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	return spotifyCatalog{c}, nil
}

// Playlists satisfies ClientProvider
func (s *ClientSession) Playlists(ctx context.Context) (PlaylistWriter, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// spotifyCatalog adapts SpotifyClient to the scanner's Catalog interface
type spotifyCatalog struct {
	client *SpotifyClient
}

func (c spotifyCatalog) ArtistReleases(ctx context.Context, artistID string, query ReleaseQuery) ([]CatalogItem, error) {
	return c.client.ArtistReleases(ctx, artistID, query.Groups, query.Limit)
}

func (c spotifyCatalog) ReleaseTracks(ctx context.Context, itemID string) ([]SubItem, error) {
	return c.client.ReleaseTracks(ctx, itemID)
}
