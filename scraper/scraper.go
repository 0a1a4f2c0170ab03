// Package scraper authenticates against the marketplace and walks its
// paginated order listings.
package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aluiziolira/go-order-export/config"
	"github.com/aluiziolira/go-order-export/models"
)

// Scraper ties an authenticator and a walker to one configuration.
type Scraper struct {
	cfg       *config.Config
	auth      Authenticator
	walker    *Walker
	transport http.RoundTripper
	Metrics   *Metrics
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithTransport replaces the HTTP transport used by every request.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Scraper) {
		s.transport = rt
	}
}

// WithMetrics shares an existing metrics registry.
func WithMetrics(m *Metrics) Option {
	return func(s *Scraper) {
		s.Metrics = m
	}
}

// WithAuthenticator overrides the strategy derived from the configuration.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Scraper) {
		s.auth = a
	}
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	s := &Scraper{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.Metrics == nil {
		s.Metrics = NewMetrics()
	}
	if s.transport == nil {
		s.transport = defaultTransport(cfg)
	}
	if s.auth == nil {
		auth, err := NewAuthenticator(cfg, s.transport, s.Metrics)
		if err != nil {
			return nil, fmt.Errorf("select authenticator: %w", err)
		}
		s.auth = auth
	}
	s.walker = NewWalker(cfg, s.Metrics)
	return s, nil
}

// Authenticate establishes a validated session. Failures are fatal for the run.
func (s *Scraper) Authenticate(ctx context.Context) (*Session, error) {
	return s.auth.Authenticate(ctx)
}

// Walk walks one listing with the shared session and known-id set.
func (s *Scraper) Walk(ctx context.Context, sess *Session, kind models.ListingKind, opts WalkOptions, known KnownIDs) *models.WalkResult {
	return s.walker.Walk(ctx, sess, kind, opts, known)
}

func defaultTransport(cfg *config.Config) http.RoundTripper {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}
