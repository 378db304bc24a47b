// Package config loads application configuration from environment variables
// and the read-only data files describing release streams and fixed targets.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Change-management backends.
const (
	BackendOBS    = "obs"
	BackendGitHub = "github"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	Interval   time.Duration
	StaleAfter time.Duration
	DataDir    string
	DBPath     string // Empty disables the audit store.
	LogLevel   slog.Level
	DryRun     bool
	NoComment  bool

	Backend        string
	IncidentPrefix string
	ReviewGroup    string
	ReviewUser     string

	OBSAPIURL   string
	OBSUsername string
	OBSPassword string

	GitHubToken    string
	GitHubRepo     string
	GitHubReviewer string

	OpenQAURL    string
	OpenQAKey    string
	OpenQASecret string

	VendorRepoPrefix    string
	CommunityRepoPrefix string

	S3 S3Config
}

// S3Config configures the optional report archive.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string // Empty disables the archive.
	Prefix    string
	AccessKey string
	SecretKey string
}

// ArchiveEnabled reports whether reports should be written to object storage.
func (c *Config) ArchiveEnabled() bool {
	return c.S3.Bucket != ""
}

// AuditEnabled reports whether verdicts and builds should be recorded.
func (c *Config) AuditEnabled() bool {
	return c.DBPath != ""
}

// Load reads configuration from environment variables and returns a validated Config.
//
// Optional variables with defaults: QABOT_LISTEN_ADDR (127.0.0.1:8080),
// QABOT_INTERVAL (15m), QABOT_STALE_AFTER (3 intervals), QABOT_DATA_DIR (data),
// QABOT_DB_PATH (qabot.db, set empty to disable), QABOT_BACKEND (obs),
// QABOT_INCIDENT_PREFIX (SUSE:Maintenance:), QABOT_OBS_API_URL
// (https://api.suse.de), QABOT_OPENQA_URL (https://openqa.suse.de).
//
// The OBS backend needs QABOT_REVIEW_GROUP or QABOT_REVIEW_USER; the GitHub
// backend needs QABOT_GITHUB_TOKEN, QABOT_GITHUB_REPO and QABOT_GITHUB_REVIEWER.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:          envOr("QABOT_LISTEN_ADDR", "127.0.0.1:8080"),
		DataDir:             envOr("QABOT_DATA_DIR", "data"),
		DBPath:              envOr("QABOT_DB_PATH", "qabot.db"),
		Backend:             strings.ToLower(envOr("QABOT_BACKEND", BackendOBS)),
		IncidentPrefix:      envOr("QABOT_INCIDENT_PREFIX", "SUSE:Maintenance:"),
		ReviewGroup:         os.Getenv("QABOT_REVIEW_GROUP"),
		ReviewUser:          os.Getenv("QABOT_REVIEW_USER"),
		OBSAPIURL:           envOr("QABOT_OBS_API_URL", "https://api.suse.de"),
		OBSUsername:         os.Getenv("QABOT_OBS_USERNAME"),
		OBSPassword:         os.Getenv("QABOT_OBS_PASSWORD"),
		GitHubToken:         os.Getenv("QABOT_GITHUB_TOKEN"),
		GitHubRepo:          os.Getenv("QABOT_GITHUB_REPO"),
		GitHubReviewer:      os.Getenv("QABOT_GITHUB_REVIEWER"),
		OpenQAURL:           strings.TrimRight(envOr("QABOT_OPENQA_URL", "https://openqa.suse.de"), "/"),
		OpenQAKey:           os.Getenv("QABOT_OPENQA_KEY"),
		OpenQASecret:        os.Getenv("QABOT_OPENQA_SECRET"),
		VendorRepoPrefix:    envOr("QABOT_VENDOR_REPO_PREFIX", "http://download.suse.de/ibs"),
		CommunityRepoPrefix: envOr("QABOT_COMMUNITY_REPO_PREFIX", "http://download.opensuse.org/repositories"),
		S3: S3Config{
			Endpoint:  os.Getenv("QABOT_S3_ENDPOINT"),
			Region:    envOr("QABOT_S3_REGION", "us-east-1"),
			Bucket:    os.Getenv("QABOT_S3_BUCKET"),
			Prefix:    envOr("QABOT_S3_PREFIX", "reports"),
			AccessKey: os.Getenv("QABOT_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("QABOT_S3_SECRET_KEY"),
		},
	}

	var err error
	if cfg.Interval, err = durationEnv("QABOT_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = durationEnv("QABOT_STALE_AFTER", 3*cfg.Interval); err != nil {
		return nil, err
	}
	if cfg.DryRun, err = boolEnv("QABOT_DRY_RUN"); err != nil {
		return nil, err
	}
	if cfg.NoComment, err = boolEnv("QABOT_NO_COMMENT"); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv("QABOT_LOG_LEVEL"); ok && v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("QABOT_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("QABOT_INTERVAL must be positive, got %s", c.Interval)
	}
	if c.StaleAfter < 0 {
		return fmt.Errorf("QABOT_STALE_AFTER must not be negative, got %s", c.StaleAfter)
	}

	switch c.Backend {
	case BackendOBS:
		if c.ReviewGroup == "" && c.ReviewUser == "" {
			return fmt.Errorf("QABOT_REVIEW_GROUP or QABOT_REVIEW_USER is required for the %s backend", BackendOBS)
		}
	case BackendGitHub:
		var missing []string
		for key, v := range map[string]string{
			"QABOT_GITHUB_TOKEN":    c.GitHubToken,
			"QABOT_GITHUB_REPO":     c.GitHubRepo,
			"QABOT_GITHUB_REVIEWER": c.GitHubReviewer,
		} {
			if v == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return fmt.Errorf("missing required variables for the %s backend: %s", BackendGitHub, strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("QABOT_BACKEND must be %q or %q, got %q", BackendOBS, BackendGitHub, c.Backend)
	}

	if (c.OpenQAKey == "") != (c.OpenQASecret == "") {
		return errors.New("QABOT_OPENQA_KEY and QABOT_OPENQA_SECRET must be set together")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	return d, nil
}

func boolEnv(key string) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}
