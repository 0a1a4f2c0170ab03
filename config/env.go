package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ApplyEnv.
const (
	EnvCookie      = "EXPORT_COOKIE"
	EnvSessionID   = "EXPORT_SESSION_ID"
	EnvUserAgent   = "EXPORT_USER_AGENT"
	EnvUsername    = "EXPORT_USERNAME"
	EnvPassword    = "EXPORT_PASSWORD"
	EnvBaseURL     = "EXPORT_BASE_URL"
	EnvOutput      = "EXPORT_OUTPUT"
	EnvMetricsAddr = "EXPORT_METRICS_ADDR"
	EnvDelay       = "EXPORT_DELAY"
	EnvMaxPages    = "EXPORT_MAX_PAGES"
	EnvPolicy      = "EXPORT_POLICY"
	EnvVerbose     = "EXPORT_VERBOSE"
)

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key as a boolean.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a Go duration such as "1500ms".
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays EXPORT_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		EnvCookie:      &c.Cookie,
		EnvSessionID:   &c.SessionID,
		EnvUserAgent:   &c.UserAgent,
		EnvUsername:    &c.Username,
		EnvPassword:    &c.Password,
		EnvBaseURL:     &c.BaseURL,
		EnvOutput:      &c.OutputFile,
		EnvMetricsAddr: &c.MetricsAddr,
		EnvPolicy:      &c.Policy,
	}
	for key, dst := range strs {
		if value, ok := EnvString(key); ok {
			*dst = value
		}
	}

	if value, ok, err := EnvDuration(EnvDelay); err != nil {
		return err
	} else if ok {
		c.Delay = value
	}
	if value, ok, err := EnvInt(EnvMaxPages); err != nil {
		return err
	} else if ok {
		c.MaxPages = value
	}
	if value, ok, err := EnvBool(EnvVerbose); err != nil {
		return err
	} else if ok {
		c.Verbose = value
	}
	return nil
}

// LoadDotEnv loads environment variables from a .env-style file.
// Existing process environment variables are not overridden and a missing
// file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		value = unquote(strings.TrimSpace(value))
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return scanner.Err()
}

func unquote(value string) string {
	if len(value) < 2 {
		return value
	}
	first, last := value[0], value[len(value)-1]
	if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}
