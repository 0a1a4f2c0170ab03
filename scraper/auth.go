package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/aluiziolira/go-order-export/config"
	"github.com/aluiziolira/go-order-export/parser"
	"github.com/go-resty/resty/v2"
)

// Authenticator produces a session proven to be logged in.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Session, error)
}

// NewAuthenticator picks the strategy matching the supplied credentials.
func NewAuthenticator(cfg *config.Config, transport http.RoundTripper, metrics *Metrics) (Authenticator, error) {
	switch cfg.AuthMode() {
	case config.AuthToken:
		return &TokenAuthenticator{cfg: cfg, transport: transport, metrics: metrics}, nil
	case config.AuthCredentials:
		return &CredentialAuthenticator{cfg: cfg, transport: transport, metrics: metrics}, nil
	default:
		return nil, fmt.Errorf("no credentials configured")
	}
}

// TokenAuthenticator reuses a cookie or session id copied from a browser.
type TokenAuthenticator struct {
	cfg       *config.Config
	transport http.RoundTripper
	metrics   *Metrics
}

// Authenticate loads the cookie and probes a protected page once.
func (a *TokenAuthenticator) Authenticate(ctx context.Context) (*Session, error) {
	sess, err := NewSession(a.cfg, a.transport)
	if err != nil {
		return nil, err
	}
	if err := sess.LoadCookies(a.cfg.CookieHeader()); err != nil {
		return nil, ErrUnauthenticated{Err: err}
	}

	client := newAuthClient(sess, a.metrics)
	if err := probe(ctx, client, a.cfg); err != nil {
		a.metrics.IncError(errorTypeLabel(err))
		return nil, err
	}

	sess.markValidated()
	slog.Info("session validated", slog.String("strategy", config.AuthToken))
	return sess, nil
}

// CredentialAuthenticator logs in through the marketplace's login form.
type CredentialAuthenticator struct {
	cfg       *config.Config
	transport http.RoundTripper
	metrics   *Metrics
}

// Authenticate fetches the login page, submits the discovered form and
// probes a protected page.
func (a *CredentialAuthenticator) Authenticate(ctx context.Context) (*Session, error) {
	sess, err := NewSession(a.cfg, a.transport)
	if err != nil {
		return nil, err
	}
	client := newAuthClient(sess, a.metrics)

	if err := a.login(ctx, client); err != nil {
		a.metrics.IncError(errorTypeLabel(err))
		return nil, err
	}
	if err := probe(ctx, client, a.cfg); err != nil {
		a.metrics.IncError(errorTypeLabel(err))
		return nil, err
	}

	sess.markValidated()
	slog.Info("session validated", slog.String("strategy", config.AuthCredentials))
	return sess, nil
}

func (a *CredentialAuthenticator) login(ctx context.Context, client *resty.Client) error {
	res, err := client.R().SetContext(ctx).Get(a.cfg.LoginPath)
	if err != nil {
		return fmt.Errorf("fetch login page: %w", classifyError(err, 0))
	}
	pageURL := finalURL(res)
	form, err := parser.DiscoverLoginForm(res.Body(), pageURL)
	if err != nil {
		dumpPage(a.cfg.DebugDumpPath, res.Body())
		if blocked := checkBlocked(res); blocked != nil {
			return blocked
		}
		if errors.Is(err, parser.ErrNoLoginForm) {
			return ErrLayoutChanged{Err: fmt.Errorf("%s: %w", pageURL, err)}
		}
		return fmt.Errorf("read login page: %w", err)
	}
	if err := classifyError(nil, res.StatusCode()); err != nil {
		return fmt.Errorf("fetch login page: %w", err)
	}

	values := form.Fill(a.cfg.Username, a.cfg.Password)
	req := client.R().SetContext(ctx)
	if form.Method == http.MethodGet {
		res, err = req.SetQueryParamsFromValues(values).Get(form.Action.String())
	} else {
		res, err = req.SetFormDataFromValues(values).Post(form.Action.String())
	}
	if err != nil {
		return fmt.Errorf("submit login form: %w", classifyError(err, 0))
	}
	if !parser.IsLoggedIn(res.Body()) {
		if err := checkBlocked(res); err != nil {
			dumpPage(a.cfg.DebugDumpPath, res.Body())
			return err
		}
	}

	slog.Debug("login form submitted",
		slog.String("action", form.Action.String()),
		slog.Int("status", res.StatusCode()),
	)
	return nil
}

func newAuthClient(sess *Session, metrics *Metrics) *resty.Client {
	client := resty.New()
	if sess.Transport != nil {
		client.SetTransport(sess.Transport)
	}
	client.SetBaseURL(sess.BaseURL.String())
	client.SetCookieJar(sess.Jar)
	client.SetHeaders(sess.Headers)
	if sess.UserAgent != "" {
		client.SetHeader("User-Agent", sess.UserAgent)
	}
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(sess.BaseURL.Hostname()))
	client.SetTimeout(sess.Timeout)

	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		metrics.IncRequest("auth")
		metrics.ObserveDuration(res.Time())
		return nil
	})
	return client
}

// probe fetches the protected page and applies the logged-in predicate.
// The HTTP status alone never proves authentication, and a page with a
// logout link is never reported as blocked.
func probe(ctx context.Context, client *resty.Client, cfg *config.Config) error {
	res, err := client.R().SetContext(ctx).Get(cfg.ProbePath)
	if err != nil {
		return fmt.Errorf("probe %s: %w", cfg.ProbePath, classifyError(err, 0))
	}
	if parser.IsLoggedIn(res.Body()) {
		return nil
	}
	dumpPage(cfg.DebugDumpPath, res.Body())
	if err := checkBlocked(res); err != nil {
		return err
	}
	return ErrUnauthenticated{Err: fmt.Errorf("probe %s returned status %d without a logout link", cfg.ProbePath, res.StatusCode())}
}

// checkBlocked turns challenge pages, rate limits and server errors into
// typed errors. Callers only use it on pages without a logout link.
func checkBlocked(res *resty.Response) error {
	status := res.StatusCode()
	if parser.IsChallenge(res.Body()) {
		return ErrBlocked{StatusCode: status, Err: fmt.Errorf("challenge page at %s", finalURL(res))}
	}
	return classifyError(nil, status)
}

func finalURL(res *resty.Response) *url.URL {
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		return res.RawResponse.Request.URL
	}
	u, _ := url.Parse(res.Request.URL)
	return u
}

// dumpPage writes a page that failed validation for later inspection.
func dumpPage(path string, body []byte) {
	if path == "" {
		return
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		slog.Warn("could not write diagnostics page", slog.String("path", path), slog.Any("error", err))
		return
	}
	slog.Info("diagnostics page saved", slog.String("path", path))
}
