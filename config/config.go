// Package config loads the run configuration for the assessment tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// TokenEnvVar holds the bearer access token of the calling identity.
const TokenEnvVar = "GCP_BEARER_ACCESS_TOKEN"

const (
	defaultKeysDir       = "SA_private_keys"
	defaultResultsDir    = "results"
	defaultMaxRetries    = 5
	defaultBackoffFactor = 2.0
	defaultHTTPTimeout   = 30 * time.Second
)

// ErrMissingCredentials is returned when neither a bearer token nor a key file was supplied.
var ErrMissingCredentials = errors.New(TokenEnvVar + " is not set; run 'gcloud auth print-access-token' " +
	"for an identity holding iam.serviceAccountKeys.create, or pass --key-file")

// ErrInvalidConfig wraps every rejected environment value.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the single run configuration handed to every component.
type Config struct {
	BearerToken   string
	KeysDir       string
	ResultsDir    string
	ScopesFile    string
	MaxRetries    int
	BackoffFactor float64
	ProbeQPS      float64
	HTTPTimeout   time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("loading .env: %w", err)
		}
	}

	cfg := Config{
		BearerToken: strings.TrimSpace(os.Getenv(TokenEnvVar)),
		KeysDir:     getenvDefault("DWD_KEYS_DIR", defaultKeysDir),
		ResultsDir:  getenvDefault("DWD_RESULTS_DIR", defaultResultsDir),
		ScopesFile:  os.Getenv("DWD_SCOPES_FILE"),
		HTTPTimeout: defaultHTTPTimeout,
	}

	var err error
	if cfg.MaxRetries, err = getenvInt("DWD_MAX_API_RETRIES", defaultMaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.BackoffFactor, err = getenvFloat("DWD_BACKOFF_FACTOR", defaultBackoffFactor); err != nil {
		return Config{}, err
	}
	if cfg.ProbeQPS, err = getenvFloat("DWD_PROBE_QPS", 0); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("DWD_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: DWD_HTTP_TIMEOUT must be a positive duration, got %q", ErrInvalidConfig, v)
		}
		cfg.HTTPTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the numeric knobs.
func (c Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("%w: DWD_MAX_API_RETRIES must be at least 1, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("%w: DWD_BACKOFF_FACTOR must be at least 1, got %v", ErrInvalidConfig, c.BackoffFactor)
	}
	if c.ProbeQPS < 0 {
		return fmt.Errorf("%w: DWD_PROBE_QPS must not be negative, got %v", ErrInvalidConfig, c.ProbeQPS)
	}
	if c.KeysDir == "" {
		return fmt.Errorf("%w: DWD_KEYS_DIR must not be empty", ErrInvalidConfig)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfig, key, v)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidConfig, key, v)
	}
	return f, nil
}
