package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// fileConfig is the on-disk shape of a config file. Durations are strings
// such as "2s" so the file stays readable.
type fileConfig struct {
	BaseURL         string            `json:"base_url"`
	PurchasesPath   string            `json:"purchases_path"`
	SalesPath       string            `json:"sales_path"`
	LoginPath       string            `json:"login_path"`
	ProbePath       string            `json:"probe_path"`
	PageParam       string            `json:"page_param"`
	Cookie          string            `json:"cookie"`
	SessionID       string            `json:"session_id"`
	UserAgent       string            `json:"user_agent"`
	Username        string            `json:"username"`
	Password        string            `json:"password"`
	Headers         map[string]string `json:"headers"`
	Timeout         string            `json:"timeout"`
	Delay           string            `json:"delay"`
	RandomDelay     string            `json:"random_delay"`
	MaxPages        int               `json:"max_pages"`
	MaxRetries      int               `json:"max_retries"`
	RetryBackoff    string            `json:"retry_backoff"`
	RetryBackoffMax string            `json:"retry_backoff_max"`
	Policy          string            `json:"policy"`
	Year            int               `json:"year"`
	Purchases       bool              `json:"include_purchases"`
	Sales           bool              `json:"include_sales"`
	Output          string            `json:"output"`
	Format          string            `json:"format"`
	DebugDump       string            `json:"debug_dump"`
	MetricsAddr     string            `json:"metrics_addr"`
}

// LoadFile overlays a JSON5 config file onto c. Values from
// <name>.local.<ext> take priority over <name>.<ext>. Missing files are
// skipped; a named file that exists in neither form is an error.
func (c *Config) LoadFile(name string) error {
	dir := filepath.Dir(name)
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	local := filepath.Join(dir, strings.TrimSuffix(base, ext)+".local"+ext)

	found := false
	for _, path := range []string{name, local} {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read config %s: %w", path, err)
		}
		found = true

		var fc fileConfig
		if err := json5.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		overlay, err := fc.toConfig()
		if err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		if err := mergo.Merge(c, overlay, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge config %s: %w", path, err)
		}
	}
	if !found {
		return fmt.Errorf("config file %s not found", name)
	}
	return nil
}

func (fc fileConfig) toConfig() (*Config, error) {
	cfg := &Config{
		BaseURL:          fc.BaseURL,
		PurchasesPath:    fc.PurchasesPath,
		SalesPath:        fc.SalesPath,
		LoginPath:        fc.LoginPath,
		ProbePath:        fc.ProbePath,
		PageParam:        fc.PageParam,
		Cookie:           fc.Cookie,
		SessionID:        fc.SessionID,
		UserAgent:        fc.UserAgent,
		Username:         fc.Username,
		Password:         fc.Password,
		Headers:          fc.Headers,
		MaxPages:         fc.MaxPages,
		MaxRetries:       fc.MaxRetries,
		Policy:           fc.Policy,
		Year:             fc.Year,
		IncludePurchases: fc.Purchases,
		IncludeSales:     fc.Sales,
		OutputFile:       fc.Output,
		OutputFormat:     fc.Format,
		DebugDumpPath:    fc.DebugDump,
		MetricsAddr:      fc.MetricsAddr,
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{fc.Timeout, &cfg.Timeout},
		{fc.Delay, &cfg.Delay},
		{fc.RandomDelay, &cfg.RandomDelay},
		{fc.RetryBackoff, &cfg.RetryBackoff},
		{fc.RetryBackoffMax, &cfg.RetryBackoffMax},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		value, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", d.raw, err)
		}
		*d.dst = value
	}
	return cfg, nil
}
