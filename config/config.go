package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-order-export/models"
)

// Stop policies for duplicate rows during a listing walk.
const (
	PolicyStrict   = "strict"
	PolicyTolerant = "tolerant"
)

// Config holds exporter configuration. It is built once per run and not
// mutated after Validate succeeds.
type Config struct {
	BaseURL       string
	PurchasesPath string
	SalesPath     string
	LoginPath     string
	ProbePath     string
	PageParam     string

	Cookie    string
	SessionID string
	UserAgent string
	Username  string
	Password  string
	Headers   map[string]string

	Timeout         time.Duration
	Delay           time.Duration
	RandomDelay     time.Duration
	MaxPages        int
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	RepeatGuardSize int

	Policy           string // strict or tolerant
	Year             int
	IncludePurchases bool
	IncludeSales     bool

	OutputFile    string
	OutputFormat  string // csv or dual
	DebugDumpPath string
	Verbose       bool
	MetricsAddr   string
}

// DefaultConfig returns conservative defaults for the marketplace.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         "https://www.cardmarket.com",
		PurchasesPath:   "/en/Magic/Orders/Received",
		SalesPath:       "/en/Magic/Sales/Sent",
		LoginPath:       "/en/Magic/Login",
		ProbePath:       "/en/Magic/Orders/Received",
		PageParam:       "site",
		Headers:         DefaultHeaders(),
		Timeout:         15 * time.Second,
		Delay:           2 * time.Second,
		RandomDelay:     0,
		MaxPages:        500,
		MaxRetries:      0,
		RetryBackoff:    time.Second,
		RetryBackoffMax: 10 * time.Second,
		RepeatGuardSize: 64,
		Policy:          PolicyTolerant,
		OutputFile:      "cardmarket_export.csv",
		OutputFormat:    "csv",
	}
}

// DefaultHeaders mirrors what a desktop browser sends on a top-level navigation.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.8",
		"DNT":                       "1",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.PurchasesPath == "" || c.SalesPath == "" {
		return fmt.Errorf("listing paths cannot be empty")
	}
	if c.ProbePath == "" {
		return fmt.Errorf("probe path cannot be empty")
	}
	if c.PageParam == "" {
		return fmt.Errorf("page parameter cannot be empty")
	}
	if !c.IncludePurchases && !c.IncludeSales {
		return fmt.Errorf("at least one of purchases or sales must be included")
	}

	switch c.AuthMode() {
	case AuthToken:
		if c.UserAgent == "" {
			return fmt.Errorf("user agent is required with a cookie or session id")
		}
	case AuthCredentials:
		if c.LoginPath == "" {
			return fmt.Errorf("login path cannot be empty")
		}
	default:
		return fmt.Errorf("no credentials: set a cookie, a session id, or a username and password")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RepeatGuardSize <= 0 {
		return fmt.Errorf("repeat guard size must be positive")
	}
	if c.Policy != PolicyStrict && c.Policy != PolicyTolerant {
		return fmt.Errorf("policy must be strict or tolerant")
	}
	if c.Year != 0 && (c.Year < 2000 || c.Year > 2099) {
		return fmt.Errorf("year %d out of range", c.Year)
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv or dual")
	}

	return nil
}

// Authentication modes derived from the supplied credentials.
const (
	AuthNone        = ""
	AuthToken       = "token"
	AuthCredentials = "credentials"
)

// AuthMode picks the authentication strategy. A cookie or session id wins
// over a username and password.
func (c *Config) AuthMode() string {
	if c.Cookie != "" || c.SessionID != "" {
		return AuthToken
	}
	if c.Username != "" && c.Password != "" {
		return AuthCredentials
	}
	return AuthNone
}

// CookieHeader returns the cookie string to present. The full cookie string
// is preferred; a bare session id is sent as PHPSESSID.
func (c *Config) CookieHeader() string {
	if cookie := strings.TrimSpace(c.Cookie); cookie != "" {
		return cookie
	}
	if c.SessionID == "" {
		return ""
	}
	return "PHPSESSID=" + strings.TrimSpace(c.SessionID)
}

// Cutoff returns January 1 of the configured year, if any.
func (c *Config) Cutoff() (time.Time, bool) {
	if c.Year == 0 {
		return time.Time{}, false
	}
	return time.Date(c.Year, time.January, 1, 0, 0, 0, 0, time.UTC), true
}

// Listings returns the enabled listings in processing order.
func (c *Config) Listings() []models.ListingKind {
	var kinds []models.ListingKind
	if c.IncludePurchases {
		kinds = append(kinds, models.Purchases)
	}
	if c.IncludeSales {
		kinds = append(kinds, models.Sales)
	}
	return kinds
}

// ListingPath returns the base path of a listing.
func (c *Config) ListingPath(kind models.ListingKind) string {
	if kind == models.Sales {
		return c.SalesPath
	}
	return c.PurchasesPath
}

// JSONMirrorPath is where the JSONL copy goes when OutputFormat is dual.
func (c *Config) JSONMirrorPath() string {
	return strings.TrimSuffix(c.OutputFile, ".csv") + ".jsonl"
}
