package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config is the complete scanner configuration
type Config struct {
	DeviceID      string         `mapstructure:"device_id"`
	SubjectPrefix string         `mapstructure:"subject_prefix"`
	Scan          ScanConfig     `mapstructure:"scan"`
	Feeds         FeedsConfig    `mapstructure:"feeds"`
	Report        ReportConfig   `mapstructure:"report"`
	Store         StoreConfig    `mapstructure:"store"`
	Metrics       MetricsConfig  `mapstructure:"metrics"`
	Schedule      ScheduleConfig `mapstructure:"schedule"`
	Commands      CommandsConfig `mapstructure:"commands"`
	NATS          NATSConfig     `mapstructure:"nats"`
	Logging       LoggingConfig  `mapstructure:"logging"`
}

// ScanConfig controls the port scanner
type ScanConfig struct {
	Target  string        `mapstructure:"target"`
	Ports   []int         `mapstructure:"ports"`
	Timeout time.Duration `mapstructure:"timeout"`
	Workers int           `mapstructure:"workers"`
	Method  string        `mapstructure:"method"` // "syn" or "connect"
}

// FeedsConfig controls the vulnerability feeds and matching
type FeedsConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	MatchMode string        `mapstructure:"match_mode"` // "substring" or "exact"
	Sources   []FeedSource  `mapstructure:"sources"`
}

// FeedSource is a single advisory feed endpoint
type FeedSource struct {
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// ReportConfig controls where the report goes
type ReportConfig struct {
	Output         string `mapstructure:"output"`
	Print          bool   `mapstructure:"print"`
	Document       string `mapstructure:"document"`
	DocumentFormat string `mapstructure:"document_format"` // "json" or "yaml"
}

// StoreConfig controls the local scan history database
type StoreConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Path         string `mapstructure:"path"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// MetricsConfig controls the Prometheus textfile export
type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TextfilePath string `mapstructure:"textfile_path"`
}

// ScheduleConfig controls periodic scans in agent mode
type ScheduleConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Interval          time.Duration `mapstructure:"interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"` // only used with NATS
}

// CommandsConfig controls platform command execution
type CommandsConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URLs          []string      `mapstructure:"urls"`
	Auth          AuthConfig    `mapstructure:"auth"`
	TLS           TLSConfig     `mapstructure:"tls"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
}

// AuthConfig holds NATS authentication settings
type AuthConfig struct {
	Type      string `mapstructure:"type"` // "creds", "token", "userpass", "none"
	CredsFile string `mapstructure:"creds_file"`
	Token     string `mapstructure:"token"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig holds TLS settings for the NATS connection
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Per-port probe timeout bounds
const (
	MinScanTimeout = 100 * time.Millisecond
	MaxScanTimeout = 30 * time.Second
)

// CheckScanTimeout reports whether d is an acceptable per-port timeout
func CheckScanTimeout(d time.Duration) error {
	if d < MinScanTimeout {
		return fmt.Errorf("must be at least %v", MinScanTimeout)
	}
	if d > MaxScanTimeout {
		return fmt.Errorf("must not exceed %v", MaxScanTimeout)
	}
	return nil
}

// Known feed names
const (
	FeedCISAKEV    = "cisa-kev"
	FeedNVD        = "nvd"
	FeedCVEDetails = "cvedetails"
)

// DefaultFeedSources are the advisory feeds consulted when none are configured
var DefaultFeedSources = []FeedSource{
	{Name: FeedCISAKEV, URL: "https://www.cisa.gov/known-exploited-vulnerabilities-catalog.json", Enabled: true},
	{Name: FeedNVD, URL: "https://services.nvd.nist.gov/rest/json/cves/1.0", Enabled: true},
	{Name: FeedCVEDetails, URL: "https://www.cvedetails.com/json-feed.php", Enabled: true},
}

var (
	deviceIDPattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	subjectTokenRegexp = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Load reads the configuration file (if any), applies env overrides and validates
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads the configuration and calls onChange with every valid
// configuration written to the file afterwards. Invalid edits are reported
// through onError and otherwise ignored.
func Watch(path string, onChange func(*Config), onError func(error)) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		updated, err := decode(v)
		if err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}
		onChange(updated)
	})
	v.WatchConfig()

	return cfg, nil
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HOSTSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		return v, nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Feeds.Sources) == 0 {
		cfg.Feeds.Sources = append([]FeedSource(nil), DefaultFeedSources...)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	hostname, _ := os.Hostname()
	v.SetDefault("device_id", sanitizeDeviceID(hostname))
	v.SetDefault("subject_prefix", "hostscan")

	v.SetDefault("scan.target", "127.0.0.1")
	v.SetDefault("scan.ports", []int{22, 80, 443})
	v.SetDefault("scan.timeout", 1*time.Second)
	v.SetDefault("scan.workers", 64)
	v.SetDefault("scan.method", "syn")

	v.SetDefault("feeds.enabled", true)
	v.SetDefault("feeds.timeout", 30*time.Second)
	v.SetDefault("feeds.cache_ttl", 6*time.Hour)
	v.SetDefault("feeds.match_mode", "substring")

	v.SetDefault("report.output", "device_scan_report.txt")
	v.SetDefault("report.print", true)
	v.SetDefault("report.document_format", "json")

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.history_limit", 100)

	v.SetDefault("metrics.enabled", false)

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.interval", 24*time.Hour)
	v.SetDefault("schedule.heartbeat_interval", time.Minute)

	v.SetDefault("commands.timeout", 30*time.Second)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.urls", []string{"nats://localhost:4222"})
	v.SetDefault("nats.auth.type", "none")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.drain_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)

	UpdateConfigDefaults(v)
}

// sanitizeDeviceID turns a hostname into a valid device ID
func sanitizeDeviceID(hostname string) string {
	var b strings.Builder
	for _, r := range hostname {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "localhost"
	}
	return b.String()
}

// Validate checks the configuration after it has been modified in code,
// for example by command line overrides
func (c *Config) Validate() error {
	return validate(c)
}

func validate(cfg *Config) error {
	if cfg.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if !deviceIDPattern.MatchString(cfg.DeviceID) {
		return fmt.Errorf("device_id must contain only alphanumeric characters, dashes, and underscores")
	}

	if cfg.SubjectPrefix == "" {
		return fmt.Errorf("subject_prefix is required")
	}
	if len(cfg.SubjectPrefix) > 50 {
		return fmt.Errorf("subject_prefix must not exceed 50 characters")
	}
	if err := validateSubjectPrefix(cfg.SubjectPrefix); err != nil {
		return err
	}

	if err := validateScan(&cfg.Scan); err != nil {
		return err
	}
	if err := validateFeeds(&cfg.Feeds); err != nil {
		return err
	}
	if err := validateReport(&cfg.Report); err != nil {
		return err
	}

	if cfg.Store.Enabled && cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}
	if cfg.Store.HistoryLimit < 0 {
		return fmt.Errorf("store.history_limit must not be negative")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.TextfilePath == "" {
			return fmt.Errorf("metrics.textfile_path is required when metrics are enabled")
		}
		if !strings.HasSuffix(cfg.Metrics.TextfilePath, ".prom") {
			return fmt.Errorf("metrics.textfile_path must end in .prom")
		}
	}

	if cfg.Schedule.Enabled && cfg.Schedule.Interval < time.Minute {
		return fmt.Errorf("schedule interval must be at least 1 minute")
	}

	if cfg.Commands.Timeout < 5*time.Second {
		return fmt.Errorf("commands.timeout must be at least 5 seconds")
	}
	if cfg.Commands.Timeout > 5*time.Minute {
		return fmt.Errorf("commands.timeout must not exceed 5 minutes")
	}

	if cfg.NATS.Enabled {
		if err := validateNATS(&cfg.NATS); err != nil {
			return err
		}
		if cfg.Schedule.HeartbeatInterval < 10*time.Second {
			return fmt.Errorf("schedule.heartbeat_interval must be at least 10 seconds")
		}
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("logging.max_size_mb must be positive")
	}

	return nil
}

// validateSubjectPrefix checks that the prefix is a valid sequence of NATS subject tokens
func validateSubjectPrefix(prefix string) error {
	if strings.HasPrefix(prefix, ".") || strings.HasSuffix(prefix, ".") {
		return fmt.Errorf("subject_prefix cannot start or end with a dot")
	}
	if strings.Contains(prefix, "..") {
		return fmt.Errorf("subject_prefix has consecutive dots not allowed")
	}
	for _, token := range strings.Split(prefix, ".") {
		if !subjectTokenRegexp.MatchString(token) {
			return fmt.Errorf("subject_prefix token %q contains invalid characters", token)
		}
	}
	return nil
}

func validateScan(cfg *ScanConfig) error {
	if cfg.Target == "" {
		return fmt.Errorf("scan.target is required")
	}
	if ip := net.ParseIP(cfg.Target); ip != nil && ip.To4() == nil {
		return fmt.Errorf("scan.target must be an IPv4 address or hostname")
	}
	for _, p := range cfg.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("scan.ports: port %d out of range 1-65535", p)
		}
	}
	if err := CheckScanTimeout(cfg.Timeout); err != nil {
		return fmt.Errorf("scan.timeout %w", err)
	}
	if cfg.Workers < 1 || cfg.Workers > 1024 {
		return fmt.Errorf("scan.workers must be between 1 and 1024")
	}
	switch cfg.Method {
	case "syn", "connect":
	default:
		return fmt.Errorf("invalid scan.method %q (must be syn or connect)", cfg.Method)
	}
	return nil
}

func validateFeeds(cfg *FeedsConfig) error {
	switch cfg.MatchMode {
	case "substring", "exact":
	default:
		return fmt.Errorf("invalid feeds.match_mode %q (must be substring or exact)", cfg.MatchMode)
	}
	if !cfg.Enabled {
		return nil
	}
	if cfg.Timeout < time.Second {
		return fmt.Errorf("feeds.timeout must be at least 1 second")
	}
	if cfg.CacheTTL < 0 {
		return fmt.Errorf("feeds.cache_ttl must not be negative")
	}

	seen := make(map[string]bool)
	for _, src := range cfg.Sources {
		switch src.Name {
		case FeedCISAKEV, FeedNVD, FeedCVEDetails:
		default:
			return fmt.Errorf("unknown feed %q", src.Name)
		}
		if seen[src.Name] {
			return fmt.Errorf("feed %q configured more than once", src.Name)
		}
		seen[src.Name] = true

		if !src.Enabled {
			continue
		}
		u, err := url.Parse(src.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("feed %q has invalid url %q", src.Name, src.URL)
		}
	}
	return nil
}

func validateReport(cfg *ReportConfig) error {
	if cfg.Output == "" && !cfg.Print {
		return fmt.Errorf("report.output is required when report.print is disabled")
	}
	if cfg.Document != "" {
		switch cfg.DocumentFormat {
		case "json", "yaml":
		default:
			return fmt.Errorf("invalid report.document_format %q (must be json or yaml)", cfg.DocumentFormat)
		}
	}
	return nil
}

func validateNATS(cfg *NATSConfig) error {
	if len(cfg.URLs) == 0 {
		return fmt.Errorf("at least one NATS URL is required")
	}

	switch cfg.Auth.Type {
	case "none":
	case "creds":
		if cfg.Auth.CredsFile == "" {
			return fmt.Errorf("creds_file is required for creds auth")
		}
	case "token":
		if cfg.Auth.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
	case "userpass":
		if cfg.Auth.Username == "" || cfg.Auth.Password == "" {
			return fmt.Errorf("username and password are required for userpass auth")
		}
	default:
		return fmt.Errorf("invalid auth type: %s", cfg.Auth.Type)
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile == "" {
			return fmt.Errorf("key_file is required when cert_file is set")
		}
		if cfg.TLS.KeyFile != "" && cfg.TLS.CertFile == "" {
			return fmt.Errorf("cert_file is required when key_file is set")
		}
		if cfg.TLS.CertFile != "" {
			if _, err := os.Stat(cfg.TLS.CertFile); err != nil {
				return fmt.Errorf("certificate file not found: %s", cfg.TLS.CertFile)
			}
			if _, err := os.Stat(cfg.TLS.KeyFile); err != nil {
				return fmt.Errorf("key file not found: %s", cfg.TLS.KeyFile)
			}
		}
		if cfg.TLS.CAFile != "" {
			if _, err := os.Stat(cfg.TLS.CAFile); err != nil {
				return fmt.Errorf("CA file not found: %s", cfg.TLS.CAFile)
			}
		}
	}

	if cfg.DrainTimeout <= 0 {
		return fmt.Errorf("nats.drain_timeout must be positive")
	}
	return nil
}
