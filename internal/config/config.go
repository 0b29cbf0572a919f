// Package config loads the server configuration from CFD_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string // CFD_DATABASE_URL (required unless the memory store is used)
	HTTPAddr    string // CFD_HTTP_ADDR (default ":8080")
	GRPCAddr    string // CFD_GRPC_ADDR (default ":9090")
	NATSURL     string // CFD_NATS_URL (optional, empty = polling only)

	ReaderTokens []string // CFD_READER_TOKENS (comma list, grant api_reader)
	WriterTokens []string // CFD_WRITER_TOKENS (comma list, grant api_writer)

	// Feed settings
	PollInterval      time.Duration  // CFD_POLL_INTERVAL (default 500ms)
	KeepaliveInterval time.Duration  // CFD_KEEPALIVE_INTERVAL (default 10s)
	WriteTimeout      time.Duration  // CFD_WRITE_TIMEOUT (default 30s)
	StallThreshold    time.Duration  // CFD_STALL_THRESHOLD (default 2m; 0 = never reap)
	Location          *time.Location // CFD_TIMEZONE (default "UTC")

	// Archive settings
	ArchiveInterval   time.Duration // CFD_ARCHIVE_INTERVAL (default 0 = disabled)
	ArchiveS3Bucket   string        // CFD_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        // CFD_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // CFD_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix   string        // CFD_ARCHIVE_S3_PREFIX (default "contestfeed")
	ArchiveGitRepo    string        // CFD_ARCHIVE_GIT_REPO (enables git when set; path to clone)
	ArchiveGitDir     string        // CFD_ARCHIVE_GIT_DIR (default "contests")
	ArchiveGitBranch  string        // CFD_ARCHIVE_GIT_BRANCH (default "main")
}

// Load reads the environment. requireDatabase is false when the server
// runs on the in-memory store.
func Load(requireDatabase bool) (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("CFD_DATABASE_URL"),
		HTTPAddr:          envOrDefault("CFD_HTTP_ADDR", ":8080"),
		GRPCAddr:          envOrDefault("CFD_GRPC_ADDR", ":9090"),
		NATSURL:           os.Getenv("CFD_NATS_URL"),
		ReaderTokens:      splitList(os.Getenv("CFD_READER_TOKENS")),
		WriterTokens:      splitList(os.Getenv("CFD_WRITER_TOKENS")),
		ArchiveS3Bucket:   os.Getenv("CFD_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("CFD_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("CFD_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Prefix:   envOrDefault("CFD_ARCHIVE_S3_PREFIX", "contestfeed"),
		ArchiveGitRepo:    os.Getenv("CFD_ARCHIVE_GIT_REPO"),
		ArchiveGitDir:     envOrDefault("CFD_ARCHIVE_GIT_DIR", "contests"),
		ArchiveGitBranch:  envOrDefault("CFD_ARCHIVE_GIT_BRANCH", "main"),
	}
	if requireDatabase && c.DatabaseURL == "" {
		return nil, fmt.Errorf("CFD_DATABASE_URL is required")
	}

	for _, d := range []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"CFD_POLL_INTERVAL", "500ms", &c.PollInterval},
		{"CFD_KEEPALIVE_INTERVAL", "10s", &c.KeepaliveInterval},
		{"CFD_WRITE_TIMEOUT", "30s", &c.WriteTimeout},
		{"CFD_STALL_THRESHOLD", "2m", &c.StallThreshold},
		{"CFD_ARCHIVE_INTERVAL", "0", &c.ArchiveInterval},
	} {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s: must not be negative", d.key)
		}
		*d.dst = v
	}
	if c.PollInterval == 0 || c.KeepaliveInterval == 0 {
		return nil, fmt.Errorf("CFD_POLL_INTERVAL and CFD_KEEPALIVE_INTERVAL must be positive")
	}

	loc, err := time.LoadLocation(envOrDefault("CFD_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("CFD_TIMEZONE: %w", err)
	}
	c.Location = loc

	return c, nil
}

// ArchiveEnabled reports whether any archive destination is configured
// and the interval is set.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveInterval > 0 && (c.ArchiveS3Bucket != "" || c.ArchiveGitRepo != "")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
