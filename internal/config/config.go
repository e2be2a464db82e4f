package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envNodeAddresses      = "BH_NODE_ADDRESSES"
	envNodeAddressPrefix  = "BH_NODE_ADDRESS_"
	envMaxNodes           = "BH_MAX_NODES"
	envRegistryFile       = "BH_REGISTRY_FILE"
	envNodePort           = "BH_NODE_PORT"
	envNodeTimeout        = "BH_NODE_TIMEOUT"
	envNodeRetries        = "BH_NODE_RETRIES"
	envWorkers            = "BH_WORKERS"
	envPollInterval       = "BH_POLL_INTERVAL"
	envOnlineThreshold    = "BH_ONLINE_THRESHOLD"
	envCallPause          = "BH_CALL_PAUSE"
	envDisableCallPause   = "BH_DISABLE_CALL_PAUSE"
	envBatchPause         = "BH_BATCH_PAUSE"
	envSnapshotFile       = "BH_SNAPSHOT_FILE"
	envRedisURL           = "BH_REDIS_URL"
	envHTTPPort           = "BH_HTTP_PORT"
	envMetricsPort        = "BH_METRICS_PORT"
	envAPIKeys            = "BH_API_KEYS"
	envAPIKey             = "BH_API_KEY"
	envAllowedOrigins     = "BH_ALLOWED_ORIGINS"
	envRateLimitPerMinute = "BH_RATE_LIMIT_PER_MINUTE"
	envSlackWebhookURL    = "BH_SLACK_WEBHOOK_URL"
	envWebhookURL         = "BH_WEBHOOK_URL"
	envWebhookTemplate    = "BH_WEBHOOK_TEMPLATE"
	envNotifyDryRun       = "BH_NOTIFY_DRY_RUN"
	envExplorerBaseURL    = "BH_EXPLORER_BASE_URL"
	envLogLevel           = "BH_LOG_LEVEL"
	envLogFormat          = "BH_LOG_FORMAT"
)

const (
	defaultMaxNodes           = 20
	defaultRegistryFile       = "config/pillars.yaml"
	defaultNodePort           = 55000
	defaultNodeTimeout        = 5 * time.Second
	defaultNodeRetries        = 3
	defaultWorkers            = 10
	defaultPollInterval       = 60 * time.Second
	defaultOnlineThreshold    = 16
	defaultCallPause          = 100 * time.Millisecond
	defaultBatchPause         = 200 * time.Millisecond
	defaultSnapshotFile       = "data/orchestrator_status.json"
	defaultHTTPPort           = 5001
	defaultRateLimitPerMinute = 60
	defaultExplorerBaseURL    = "https://zenonhub.io"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
)

// ErrNoAddresses is returned when no valid node address is configured.
var ErrNoAddresses = errors.New("no valid node addresses configured")

// Config describes runtime configuration loaded from the environment.
type Config struct {
	NodeAddresses []string
	// InvalidAddresses holds configured values that were not IP addresses.
	// They are skipped rather than rejected.
	InvalidAddresses []string

	RegistryFile    string
	NodePort        int
	NodeTimeout     time.Duration
	NodeRetries     int
	Workers         int
	PollInterval    time.Duration
	OnlineThreshold int
	CallPause       time.Duration
	BatchPause      time.Duration

	SnapshotFile string
	RedisURL     string

	HTTPPort           int
	MetricsPort        int
	APIKeys            []string
	AllowedOrigins     []string
	RateLimitPerMinute int

	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	NotifyDryRun    bool
	ExplorerBaseURL string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored.
func LoadFile(dotenvPath string) (Config, error) {
	values, err := readDotEnvIfPresent(dotenvPath)
	if err != nil {
		return Config{}, err
	}
	env := environment{dotenv: values}

	cfg := Config{
		RegistryFile:       defaultRegistryFile,
		NodePort:           defaultNodePort,
		NodeTimeout:        defaultNodeTimeout,
		NodeRetries:        defaultNodeRetries,
		Workers:            defaultWorkers,
		PollInterval:       defaultPollInterval,
		OnlineThreshold:    defaultOnlineThreshold,
		CallPause:          defaultCallPause,
		BatchPause:         defaultBatchPause,
		SnapshotFile:       defaultSnapshotFile,
		HTTPPort:           defaultHTTPPort,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: defaultRateLimitPerMinute,
		ExplorerBaseURL:    defaultExplorerBaseURL,
		LogLevel:           defaultLogLevel,
		LogFormat:          defaultLogFormat,
	}

	maxNodes := defaultMaxNodes
	steps := []func() error{
		func() error { return env.positiveInt(envMaxNodes, &maxNodes) },
		func() error { return env.positiveInt(envNodePort, &cfg.NodePort) },
		func() error { return env.positiveDuration(envNodeTimeout, &cfg.NodeTimeout) },
		func() error { return env.nonNegativeInt(envNodeRetries, &cfg.NodeRetries) },
		func() error { return env.positiveInt(envWorkers, &cfg.Workers) },
		func() error { return env.positiveDuration(envPollInterval, &cfg.PollInterval) },
		func() error { return env.nonNegativeInt(envOnlineThreshold, &cfg.OnlineThreshold) },
		func() error { return env.nonNegativeDuration(envCallPause, &cfg.CallPause) },
		func() error { return env.nonNegativeDuration(envBatchPause, &cfg.BatchPause) },
		func() error { return env.nonNegativeInt(envHTTPPort, &cfg.HTTPPort) },
		func() error { return env.nonNegativeInt(envMetricsPort, &cfg.MetricsPort) },
		func() error { return env.positiveInt(envRateLimitPerMinute, &cfg.RateLimitPerMinute) },
		func() error { return env.boolean(envNotifyDryRun, &cfg.NotifyDryRun) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	var disablePause bool
	if err := env.boolean(envDisableCallPause, &disablePause); err != nil {
		return Config{}, err
	}
	if disablePause {
		cfg.CallPause = 0
	}

	env.str(envRegistryFile, &cfg.RegistryFile)
	env.str(envSnapshotFile, &cfg.SnapshotFile)
	env.str(envRedisURL, &cfg.RedisURL)
	env.str(envSlackWebhookURL, &cfg.SlackWebhookURL)
	env.str(envWebhookURL, &cfg.WebhookURL)
	env.str(envWebhookTemplate, &cfg.WebhookTemplate)
	env.str(envExplorerBaseURL, &cfg.ExplorerBaseURL)
	env.str(envLogLevel, &cfg.LogLevel)
	env.str(envLogFormat, &cfg.LogFormat)

	if value, ok := env.lookup(envAPIKeys); ok && value != "" {
		cfg.APIKeys = splitList(value)
	} else if value, ok := env.lookup(envAPIKey); ok && value != "" {
		cfg.APIKeys = []string{value}
	}
	if value, ok := env.lookup(envAllowedOrigins); ok && value != "" {
		cfg.AllowedOrigins = splitList(value)
	}

	cfg.NodeAddresses, cfg.InvalidAddresses = env.addresses(maxNodes)
	if len(cfg.NodeAddresses) == 0 {
		return Config{}, ErrNoAddresses
	}

	if cfg.SnapshotFile == "" {
		return Config{}, fmt.Errorf("%s must not be empty", envSnapshotFile)
	}
	if cfg.HTTPPort > 65535 || cfg.MetricsPort > 65535 || cfg.NodePort > 65535 {
		return Config{}, errors.New("ports must be at most 65535")
	}

	urls := []struct {
		name  string
		value string
	}{
		{envSlackWebhookURL, cfg.SlackWebhookURL},
		{envWebhookURL, cfg.WebhookURL},
		{envRedisURL, cfg.RedisURL},
		{envExplorerBaseURL, cfg.ExplorerBaseURL},
	}
	for _, u := range urls {
		if u.value == "" {
			continue
		}
		if err := validateURL(u.value, u.name); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// environment resolves keys from the process environment first, then from
// values read out of a dotenv file.
type environment struct {
	dotenv map[string]string
}

func (e environment) lookup(key string) (string, bool) {
	if value, ok := lookupTrimmed(key); ok {
		return value, true
	}
	value, ok := e.dotenv[key]
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func (e environment) str(key string, dst *string) {
	if value, ok := e.lookup(key); ok {
		*dst = value
	}
}

func (e environment) boolean(key string, dst *bool) error {
	value, ok := e.lookup(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func (e environment) integer(key string, dst *int, min int) error {
	value, ok := e.lookup(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < min {
		return fmt.Errorf("%s must be at least %d", key, min)
	}
	*dst = parsed
	return nil
}

func (e environment) positiveInt(key string, dst *int) error {
	return e.integer(key, dst, 1)
}

func (e environment) nonNegativeInt(key string, dst *int) error {
	return e.integer(key, dst, 0)
}

func (e environment) duration(key string, dst *time.Duration, allowZero bool) error {
	value, ok := e.lookup(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := parseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < 0 || (parsed == 0 && !allowZero) {
		return fmt.Errorf("%s must be greater than zero", key)
	}
	*dst = parsed
	return nil
}

func (e environment) positiveDuration(key string, dst *time.Duration) error {
	return e.duration(key, dst, false)
}

func (e environment) nonNegativeDuration(key string, dst *time.Duration) error {
	return e.duration(key, dst, true)
}

// addresses collects node addresses from the list variable, or from the
// numbered variables when the list is unset. Duplicates are dropped.
func (e environment) addresses(maxNodes int) (valid, invalid []string) {
	var raw []string
	if value, ok := e.lookup(envNodeAddresses); ok && value != "" {
		raw = splitList(value)
	} else {
		for i := 1; i <= maxNodes; i++ {
			if value, ok := e.lookup(envNodeAddressPrefix + strconv.Itoa(i)); ok && value != "" {
				raw = append(raw, value)
			}
		}
	}

	seen := make(map[string]struct{}, len(raw))
	for _, address := range raw {
		if net.ParseIP(address) == nil {
			invalid = append(invalid, address)
			continue
		}
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}
		valid = append(valid, address)
	}
	return valid, invalid
}

// parseDuration accepts Go durations and bare integers as seconds.
func parseDuration(value string) (time.Duration, error) {
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(value)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func readDotEnvIfPresent(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err == nil {
		return values, nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil, nil
	}

	return nil, err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
