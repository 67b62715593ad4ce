// Package config reads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreS3     = "s3"
)

type Config struct {
	Addr       string
	DataDir    string
	Store      string
	S3Bucket   string
	S3Prefix   string
	AWSRegion  string
	SQSQueue   string // queue URL; empty disables telemetry
	TuningPath string
	TickEvery  time.Duration
	JWTIssuer  string
	LogLevel   string
	LogFormat  string
}

// Load reads the given env files (default .env) without overriding variables
// that are already set, then builds the Config. Missing files are fine.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, e.g. os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	c := Config{
		Addr:       get("GEOQUEST_ADDR", ":8080"),
		DataDir:    get("GEOQUEST_DATA_DIR", "data"),
		Store:      strings.ToLower(get("GEOQUEST_STORE", StoreFile)),
		S3Bucket:   get("GEOQUEST_S3_BUCKET", ""),
		S3Prefix:   get("GEOQUEST_S3_PREFIX", "players"),
		AWSRegion:  get("AWS_REGION", ""),
		SQSQueue:   get("GEOQUEST_SQS_QUEUE", ""),
		TuningPath: get("GEOQUEST_TUNING", ""),
		JWTIssuer:  get("GEOQUEST_JWT_ISSUER", "geoquest"),
		LogLevel:   get("LOG_LEVEL", "info"),
		LogFormat:  get("LOG_FORMAT", "json"),
	}

	secs, err := strconv.Atoi(get("GEOQUEST_TICK_SECONDS", "10"))
	if err != nil || secs <= 0 {
		return Config{}, fmt.Errorf("config: GEOQUEST_TICK_SECONDS must be a positive integer")
	}
	c.TickEvery = time.Duration(secs) * time.Second

	switch c.Store {
	case StoreFile, StoreMemory:
	case StoreS3:
		if c.S3Bucket == "" {
			return Config{}, fmt.Errorf("config: GEOQUEST_S3_BUCKET is required when GEOQUEST_STORE=s3")
		}
	default:
		return Config{}, fmt.Errorf("config: unknown GEOQUEST_STORE %q", c.Store)
	}
	return c, nil
}

// NeedsAWS reports whether any configured backend talks to AWS.
func (c Config) NeedsAWS() bool {
	return c.Store == StoreS3 || c.SQSQueue != ""
}
