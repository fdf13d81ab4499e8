package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/events"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/logger"
)

const (
	envConfigPath = "SYNC_EXPORTER_CONFIG"
	defaultWSPort = 5001
)

// Config holds configuration values
type Config struct {
	StatusAPIURL string `yaml:"status_api_url"`
	// derived from StatusAPIURL when empty
	StatusWSURL string `yaml:"status_ws_url"`

	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	FallbackPollInterval time.Duration `yaml:"fallback_poll_interval"`
	MaxBufferPoints      int           `yaml:"max_buffer_points"`
	HistoryDays          int           `yaml:"history_days"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	CommandTimeout       time.Duration `yaml:"command_timeout"`
	HistoryCacheTTL      time.Duration `yaml:"history_cache_ttl"`

	ListenPort       int    `yaml:"listen_port"`
	EnablePrometheus bool   `yaml:"enable_prometheus"`
	EnableOTLP       bool   `yaml:"enable_otlp"`
	OTLPEndpoint     string `yaml:"otlp_endpoint"`
	OTLPInsecure     bool   `yaml:"otlp_insecure"`
	OTLPInterval     int    `yaml:"otlp_interval"`
	Alias            string `yaml:"alias"`
	Network          string `yaml:"network"`

	LogLevel      string `yaml:"log_level"`
	LogColors     bool   `yaml:"log_colors"`
	LogStatsEvery int    `yaml:"log_stats_every"`

	Events events.Rules `yaml:"events"`
}

func Default() Config {
	return Config{
		StatusAPIURL:         "http://localhost:5000",
		MaxReconnectAttempts: 5,
		ReconnectDelay:       3 * time.Second,
		FallbackPollInterval: 5 * time.Second,
		MaxBufferPoints:      50,
		HistoryDays:          1,
		RequestTimeout:       10 * time.Second,
		CommandTimeout:       5 * time.Minute,
		HistoryCacheTTL:      time.Minute,
		ListenPort:           8086,
		EnablePrometheus:     true,
		OTLPInterval:         5,
		Network:              "ephemery",
		LogLevel:             "info",
		LogColors:            true,
		LogStatsEvery:        12,
		Events:               events.DefaultRules(),
	}
}

// Flags are the command-line overrides. Only flags given on the command line override
// the file and the environment.
type Flags struct {
	fs *flag.FlagSet

	ConfigPath           string
	StatusAPIURL         string
	StatusWSURL          string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	FallbackPollInterval time.Duration
	MaxBufferPoints      int
	HistoryDays          int
	RequestTimeout       time.Duration
	CommandTimeout       time.Duration
	ListenPort           int
	DisablePrometheus    bool
	EnableOTLP           bool
	OTLPEndpoint         string
	OTLPInsecure         bool
	Alias                string
	Network              string
	LogLevel             string
	NoColor              bool
}

// RegisterFlags binds the override flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigPath, "config", "", "YAML config file (env "+envConfigPath+")")
	fs.StringVar(&f.StatusAPIURL, "status-url", d.StatusAPIURL, "Status API base URL")
	fs.StringVar(&f.StatusWSURL, "ws-url", "", "Push stream URL (default: derived from --status-url)")
	fs.IntVar(&f.MaxReconnectAttempts, "max-reconnect-attempts", d.MaxReconnectAttempts, "Reconnect attempts before falling back to polling")
	fs.DurationVar(&f.ReconnectDelay, "reconnect-delay", d.ReconnectDelay, "Delay between reconnect attempts")
	fs.DurationVar(&f.FallbackPollInterval, "poll-interval", d.FallbackPollInterval, "Polling interval once the push stream is given up")
	fs.IntVar(&f.MaxBufferPoints, "max-points", d.MaxBufferPoints, "Samples kept in the live window")
	fs.IntVar(&f.HistoryDays, "history-days", d.HistoryDays, "Days of history requested on connect")
	fs.DurationVar(&f.RequestTimeout, "request-timeout", d.RequestTimeout, "Timeout for status and history requests")
	fs.DurationVar(&f.CommandTimeout, "command-timeout", d.CommandTimeout, "Timeout for remote commands")
	fs.IntVar(&f.ListenPort, "port", d.ListenPort, "Port for /metrics and the view API")
	fs.BoolVar(&f.DisablePrometheus, "disable-prom", false, "Disable the Prometheus endpoint")
	fs.BoolVar(&f.EnableOTLP, "otlp", false, "Enable OTLP export")
	fs.StringVar(&f.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint (required when OTLP is enabled)")
	fs.BoolVar(&f.OTLPInsecure, "otlp-insecure", false, "Use insecure connection for OTLP")
	fs.StringVar(&f.Alias, "alias", "", "Node alias (required when OTLP is enabled)")
	fs.StringVar(&f.Network, "network", d.Network, "Network name used in metric labels")
	fs.StringVar(&f.LogLevel, "log-level", d.LogLevel, "Log level (debug, info, warning, error)")
	fs.BoolVar(&f.NoColor, "no-color", false, "Disable ANSI colors in log output")
	return f
}

// LoadConfig layers defaults, the YAML file, the environment and the flags, in that order.
// flags may be nil.
func LoadConfig(flags *Flags) (Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.DebugComponent("config", "No .env file found, using process environment")
	}

	cfg := Default()

	path := os.Getenv(envConfigPath)
	if flags != nil && flags.ConfigPath != "" {
		path = flags.ConfigPath
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
		logger.InfoComponent("config", "Loaded config file %s", path)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if flags != nil {
		flags.apply(&cfg)
	}

	if cfg.StatusWSURL == "" {
		ws, err := DeriveWSURL(cfg.StatusAPIURL)
		if err != nil {
			return cfg, err
		}
		cfg.StatusWSURL = ws
	}

	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	// an empty file decodes to io.EOF and keeps the defaults
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("STATUS_API_URL", &cfg.StatusAPIURL)
	str("STATUS_WS_URL", &cfg.StatusWSURL)
	num("MAX_RECONNECT_ATTEMPTS", &cfg.MaxReconnectAttempts)
	dur("RECONNECT_DELAY", &cfg.ReconnectDelay)
	dur("FALLBACK_POLL_INTERVAL", &cfg.FallbackPollInterval)
	num("MAX_BUFFER_POINTS", &cfg.MaxBufferPoints)
	num("HISTORY_DAYS", &cfg.HistoryDays)
	dur("REQUEST_TIMEOUT", &cfg.RequestTimeout)
	dur("COMMAND_TIMEOUT", &cfg.CommandTimeout)
	num("LISTEN_PORT", &cfg.ListenPort)
	boolean("ENABLE_OTLP", &cfg.EnableOTLP)
	str("OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	boolean("OTLP_INSECURE", &cfg.OTLPInsecure)
	str("ALIAS", &cfg.Alias)
	str("NETWORK", &cfg.Network)
	str("LOG_LEVEL", &cfg.LogLevel)
	boolean("LOG_COLORS", &cfg.LogColors)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

func (f *Flags) apply(cfg *Config) {
	set := make(map[string]bool)
	if f.fs != nil {
		f.fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	}

	if set["status-url"] {
		cfg.StatusAPIURL = f.StatusAPIURL
	}
	if set["ws-url"] {
		cfg.StatusWSURL = f.StatusWSURL
	}
	if set["max-reconnect-attempts"] {
		cfg.MaxReconnectAttempts = f.MaxReconnectAttempts
	}
	if set["reconnect-delay"] {
		cfg.ReconnectDelay = f.ReconnectDelay
	}
	if set["poll-interval"] {
		cfg.FallbackPollInterval = f.FallbackPollInterval
	}
	if set["max-points"] {
		cfg.MaxBufferPoints = f.MaxBufferPoints
	}
	if set["history-days"] {
		cfg.HistoryDays = f.HistoryDays
	}
	if set["request-timeout"] {
		cfg.RequestTimeout = f.RequestTimeout
	}
	if set["command-timeout"] {
		cfg.CommandTimeout = f.CommandTimeout
	}
	if set["port"] {
		cfg.ListenPort = f.ListenPort
	}
	if set["disable-prom"] {
		cfg.EnablePrometheus = !f.DisablePrometheus
	}
	if set["otlp"] {
		cfg.EnableOTLP = f.EnableOTLP
	}
	if set["otlp-endpoint"] {
		cfg.OTLPEndpoint = f.OTLPEndpoint
	}
	if set["otlp-insecure"] {
		cfg.OTLPInsecure = f.OTLPInsecure
	}
	if set["alias"] {
		cfg.Alias = f.Alias
	}
	if set["network"] {
		cfg.Network = strings.ToLower(f.Network)
	}
	if set["log-level"] {
		cfg.LogLevel = f.LogLevel
	}
	if set["no-color"] {
		cfg.LogColors = !f.NoColor
	}
}

// DeriveWSURL maps http(s)://host:port to ws(s)://host:5001/, where the status
// source serves its push stream.
func DeriveWSURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid status API URL %q: %w", apiURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid status API URL %q: scheme must be http or https", apiURL)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid status API URL %q: missing host", apiURL)
	}
	u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(defaultWSPort))
	u.Path = "/"
	u.RawQuery = ""
	return u.String(), nil
}

// Validate rejects non-positive limits and incomplete OTLP settings. A zero
// max_reconnect_attempts is allowed and means fall back after the first failed dial.
func (c Config) Validate() error {
	var errs []error
	if c.StatusAPIURL == "" {
		errs = append(errs, errors.New("status_api_url is required"))
	}
	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("max_reconnect_attempts must not be negative"))
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"reconnect_delay", c.ReconnectDelay},
		{"fallback_poll_interval", c.FallbackPollInterval},
		{"request_timeout", c.RequestTimeout},
		{"command_timeout", c.CommandTimeout},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.MaxBufferPoints <= 0 {
		errs = append(errs, errors.New("max_buffer_points must be positive"))
	}
	if c.HistoryDays <= 0 {
		errs = append(errs, errors.New("history_days must be positive"))
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("listen_port %d out of range", c.ListenPort))
	}
	if c.EnableOTLP {
		if c.Alias == "" {
			errs = append(errs, errors.New("alias is required when OTLP is enabled"))
		}
		if c.OTLPEndpoint == "" {
			errs = append(errs, errors.New("otlp_endpoint is required when OTLP is enabled"))
		}
	}
	if c.Events.RapidWindow <= 0 || c.Events.StallWindow <= 0 {
		errs = append(errs, errors.New("events windows must be positive"))
	}
	return errors.Join(errs...)
}
