package scraper

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-order-export/config"
)

// SessionState tracks whether a session is still known to be logged in.
type SessionState string

const (
	StateUnauthenticated SessionState = "unauthenticated"
	StateValidated       SessionState = "validated"
	StateValid           SessionState = "valid"
	StateLost            SessionState = "lost"
)

// Session is an authenticated handle shared by every request of a run. The
// cookie jar is shared between the auth client and the page collector.
type Session struct {
	BaseURL   *url.URL
	Jar       http.CookieJar
	Headers   map[string]string
	UserAgent string
	Transport http.RoundTripper
	Timeout   time.Duration

	pageParam string

	mu          sync.Mutex
	state       SessionState
	validatedAt time.Time
}

// NewSession prepares an unauthenticated session from cfg. A nil transport
// uses the default HTTP transport.
func NewSession(cfg *config.Config, transport http.RoundTripper) (*Session, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Session{
		BaseURL:   base,
		Jar:       jar,
		Headers:   headers,
		UserAgent: cfg.UserAgent,
		Transport: transport,
		Timeout:   cfg.Timeout,
		pageParam: cfg.PageParam,
		state:     StateUnauthenticated,
	}, nil
}

// LoadCookies parses a Cookie header value, as copied from a browser, and
// stores it for the base host. Pairs that are not valid cookies are skipped
// with a warning; at least one valid pair is required.
func (s *Session) LoadCookies(header string) error {
	var cookies []*http.Cookie
	skipped := 0
	for _, pair := range strings.Split(header, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parsed, err := http.ParseCookie(pair)
		if err != nil {
			name, _, _ := strings.Cut(pair, "=")
			slog.Warn("skipping unusable cookie", slog.String("name", name), slog.Any("error", err))
			skipped++
			continue
		}
		cookies = append(cookies, parsed...)
	}
	if len(cookies) == 0 {
		if skipped > 0 {
			return fmt.Errorf("no usable cookie in %d pairs", skipped)
		}
		return fmt.Errorf("empty cookie")
	}
	s.Jar.SetCookies(s.BaseURL, cookies)
	return nil
}

// Cookies returns the cookies that would be sent to the base URL.
func (s *Session) Cookies() []*http.Cookie {
	return s.Jar.Cookies(s.BaseURL)
}

// URL resolves path against the base URL.
func (s *Session) URL(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	return s.BaseURL.ResolveReference(ref), nil
}

// PageURL returns the URL of a 1-indexed listing page.
func (s *Session) PageURL(path string, page int) (string, error) {
	u, err := s.URL(path)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(s.pageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ValidatedAt returns when authentication succeeded.
func (s *Session) ValidatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validatedAt
}

// Lost reports whether a fetch has already failed the logged-in check.
func (s *Session) Lost() bool {
	return s.State() == StateLost
}

func (s *Session) markValidated() {
	s.mu.Lock()
	s.state = StateValidated
	s.validatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) markValid() {
	s.mu.Lock()
	if s.state != StateLost {
		s.state = StateValid
	}
	s.mu.Unlock()
}

func (s *Session) markLost() {
	s.mu.Lock()
	s.state = StateLost
	s.mu.Unlock()
}
