package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// validConfig returns a configuration that passes validation
func validConfig() *Config {
	return &Config{
		DeviceID:      "test-device",
		SubjectPrefix: "hostscan",
		Scan: ScanConfig{
			Target:  "127.0.0.1",
			Ports:   []int{22, 80, 443},
			Timeout: 1 * time.Second,
			Workers: 64,
			Method:  "syn",
		},
		Feeds: FeedsConfig{
			Enabled:   true,
			Timeout:   30 * time.Second,
			CacheTTL:  time.Hour,
			MatchMode: "substring",
			Sources:   append([]FeedSource(nil), DefaultFeedSources...),
		},
		Report: ReportConfig{
			Output: "device_scan_report.txt",
			Print:  true,
		},
		Schedule: ScheduleConfig{Enabled: true, Interval: 24 * time.Hour, HeartbeatInterval: time.Minute},
		Commands: CommandsConfig{
			Timeout: 30 * time.Second,
		},
		NATS: NATSConfig{
			URLs:         []string{"nats://localhost:4222"},
			Auth:         AuthConfig{Type: "none"},
			DrainTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "test.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

func checkErr(t *testing.T, err error, wantErr bool, errText string) {
	t.Helper()
	if (err != nil) != wantErr {
		t.Errorf("validate() error = %v, wantErr %v", err, wantErr)
		return
	}
	if wantErr && errText != "" && err != nil {
		if indexOf(err.Error(), errText) < 0 {
			t.Errorf("validate() error = %v, want error containing %q", err, errText)
		}
	}
}

// TestValidateDeviceID tests device ID validation
func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		wantErr  bool
		errText  string
	}{
		// Valid device IDs
		{name: "alphanumeric", deviceID: "device123"},
		{name: "with dashes", deviceID: "device-123-abc"},
		{name: "with underscores", deviceID: "device_123_abc"},
		{name: "UUID format", deviceID: "550e8400-e29b-41d4-a716-446655440000"},

		// Invalid device IDs
		{name: "empty", deviceID: "", wantErr: true, errText: "device_id is required"},
		{name: "with spaces", deviceID: "device 123", wantErr: true, errText: "must contain only alphanumeric"},
		{name: "with dots", deviceID: "device.123", wantErr: true, errText: "must contain only alphanumeric"},
		{name: "with slash", deviceID: "device/123", wantErr: true, errText: "must contain only alphanumeric"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.DeviceID = tt.deviceID
			checkErr(t, validate(cfg), tt.wantErr, tt.errText)
		})
	}
}

// TestValidateSubjectPrefix tests subject prefix validation
func TestValidateSubjectPrefix(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		wantErr bool
		errText string
	}{
		{name: "simple prefix", prefix: "hostscan"},
		{name: "with dash", prefix: "host-scan"},
		{name: "hierarchical", prefix: "us-east-1.production.hostscan"},

		{name: "leading dot", prefix: ".hostscan", wantErr: true, errText: "cannot start or end with a dot"},
		{name: "trailing dot", prefix: "hostscan.", wantErr: true, errText: "cannot start or end with a dot"},
		{name: "only dot", prefix: ".", wantErr: true, errText: "cannot start or end with a dot"},
		{name: "consecutive dots", prefix: "region..hostscan", wantErr: true, errText: "consecutive dots not allowed"},
		{name: "spaces", prefix: "my region.hostscan", wantErr: true, errText: "contains invalid characters"},
		{name: "wildcard", prefix: "region.*.hostscan", wantErr: true, errText: "contains invalid characters"},
		{name: "full wildcard", prefix: "region.>", wantErr: true, errText: "contains invalid characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSubjectPrefix(tt.prefix)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSubjectPrefix() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && indexOf(err.Error(), tt.errText) < 0 {
				t.Errorf("validateSubjectPrefix() error = %v, want error containing %q", err, tt.errText)
			}
		})
	}
}

// TestValidateSubjectPrefixInConfig tests subject prefix validation through full config validation
func TestValidateSubjectPrefixInConfig(t *testing.T) {
	tests := []struct {
		name          string
		subjectPrefix string
		wantErr       bool
		errText       string
	}{
		{name: "default prefix", subjectPrefix: "hostscan"},
		{
			name:          "too long",
			subjectPrefix: "this-is-a-very-long-prefix-that-exceeds-the-maximum-allowed-length-of-fifty-characters",
			wantErr:       true,
			errText:       "must not exceed 50 characters",
		},
		{name: "empty prefix", subjectPrefix: "", wantErr: true, errText: "subject_prefix is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.SubjectPrefix = tt.subjectPrefix
			checkErr(t, validate(cfg), tt.wantErr, tt.errText)
		})
	}
}

// TestValidateScan tests port scanner settings
func TestValidateScan(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*ScanConfig)
		wantErr bool
		errText string
	}{
		{name: "defaults", modify: func(*ScanConfig) {}},
		{name: "hostname target", modify: func(s *ScanConfig) { s.Target = "scanme.example.com" }},
		{name: "connect method", modify: func(s *ScanConfig) { s.Method = "connect" }},
		{name: "no ports", modify: func(s *ScanConfig) { s.Ports = nil }},

		{name: "empty target", modify: func(s *ScanConfig) { s.Target = "" }, wantErr: true, errText: "scan.target is required"},
		{name: "ipv6 target", modify: func(s *ScanConfig) { s.Target = "::1" }, wantErr: true, errText: "IPv4"},
		{name: "port zero", modify: func(s *ScanConfig) { s.Ports = []int{0} }, wantErr: true, errText: "out of range"},
		{name: "port too large", modify: func(s *ScanConfig) { s.Ports = []int{22, 70000} }, wantErr: true, errText: "out of range"},
		{name: "timeout too short", modify: func(s *ScanConfig) { s.Timeout = 10 * time.Millisecond }, wantErr: true, errText: "at least 100ms"},
		{name: "timeout too long", modify: func(s *ScanConfig) { s.Timeout = time.Minute }, wantErr: true, errText: "must not exceed 30s"},
		{name: "zero workers", modify: func(s *ScanConfig) { s.Workers = 0 }, wantErr: true, errText: "scan.workers"},
		{name: "unknown method", modify: func(s *ScanConfig) { s.Method = "udp" }, wantErr: true, errText: "invalid scan.method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg.Scan)
			checkErr(t, validate(cfg), tt.wantErr, tt.errText)
		})
	}
}

// TestValidateFeeds tests feed and match mode settings
func TestValidateFeeds(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*FeedsConfig)
		wantErr bool
		errText string
	}{
		{name: "defaults", modify: func(*FeedsConfig) {}},
		{name: "exact match mode", modify: func(f *FeedsConfig) { f.MatchMode = "exact" }},
		{
			name: "disabled feeds skip url checks",
			modify: func(f *FeedsConfig) {
				f.Enabled = false
				f.Sources = []FeedSource{{Name: FeedNVD, URL: "not a url", Enabled: true}}
			},
		},
		{
			name:   "disabled source with empty url",
			modify: func(f *FeedsConfig) { f.Sources = []FeedSource{{Name: FeedNVD, Enabled: false}} },
		},

		{name: "bad match mode", modify: func(f *FeedsConfig) { f.MatchMode = "fuzzy" }, wantErr: true, errText: "invalid feeds.match_mode"},
		{name: "short timeout", modify: func(f *FeedsConfig) { f.Timeout = 100 * time.Millisecond }, wantErr: true, errText: "feeds.timeout"},
		{
			name:    "unknown feed",
			modify:  func(f *FeedsConfig) { f.Sources = []FeedSource{{Name: "osv", URL: "https://api.osv.dev", Enabled: true}} },
			wantErr: true,
			errText: "unknown feed",
		},
		{
			name: "duplicate feed",
			modify: func(f *FeedsConfig) {
				f.Sources = []FeedSource{
					{Name: FeedNVD, URL: "https://a.example.com", Enabled: true},
					{Name: FeedNVD, URL: "https://b.example.com", Enabled: true},
				}
			},
			wantErr: true,
			errText: "more than once",
		},
		{
			name:    "non-http url",
			modify:  func(f *FeedsConfig) { f.Sources = []FeedSource{{Name: FeedCVEDetails, URL: "ftp://example.com/feed", Enabled: true}} },
			wantErr: true,
			errText: "invalid url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg.Feeds)
			checkErr(t, validate(cfg), tt.wantErr, tt.errText)
		})
	}
}

// TestValidateOutputs tests report, store and metrics settings
func TestValidateOutputs(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errText string
	}{
		{name: "yaml document", modify: func(c *Config) { c.Report.Document = "scan.yaml"; c.Report.DocumentFormat = "yaml" }},
		{name: "store enabled", modify: func(c *Config) { c.Store = StoreConfig{Enabled: true, Path: "scan.db"} }},
		{name: "metrics enabled", modify: func(c *Config) { c.Metrics = MetricsConfig{Enabled: true, TextfilePath: "/tmp/hostscan.prom"} }},

		{
			name:    "no output and no print",
			modify:  func(c *Config) { c.Report.Output = ""; c.Report.Print = false },
			wantErr: true,
			errText: "report.output is required",
		},
		{
			name:    "bad document format",
			modify:  func(c *Config) { c.Report.Document = "scan.xml"; c.Report.DocumentFormat = "xml" },
			wantErr: true,
			errText: "invalid report.document_format",
		},
		{name: "store without path", modify: func(c *Config) { c.Store.Enabled = true }, wantErr: true, errText: "store.path is required"},
		{
			name:    "metrics wrong extension",
			modify:  func(c *Config) { c.Metrics = MetricsConfig{Enabled: true, TextfilePath: "/tmp/hostscan.txt"} },
			wantErr: true,
			errText: "must end in .prom",
		},
		{
			name:    "schedule too frequent",
			modify:  func(c *Config) { c.Schedule.Interval = 30 * time.Second },
			wantErr: true,
			errText: "at least 1 minute",
		},
		{
			name: "heartbeat too frequent with nats",
			modify: func(c *Config) {
				c.NATS.Enabled = true
				c.Schedule.HeartbeatInterval = time.Second
			},
			wantErr: true,
			errText: "heartbeat_interval",
		},
		{
			name:   "heartbeat ignored without nats",
			modify: func(c *Config) { c.Schedule.HeartbeatInterval = 0 },
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
			errText: "invalid logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			checkErr(t, validate(cfg), tt.wantErr, tt.errText)
		})
	}
}

// TestValidateNATSAuth tests NATS authentication validation
func TestValidateNATSAuth(t *testing.T) {
	tests := []struct {
		name    string
		auth    AuthConfig
		wantErr bool
		errText string
	}{
		{name: "none auth", auth: AuthConfig{Type: "none"}},
		{name: "token auth", auth: AuthConfig{Type: "token", Token: "secret"}},
		{name: "userpass auth", auth: AuthConfig{Type: "userpass", Username: "u", Password: "p"}},

		{name: "invalid type", auth: AuthConfig{Type: "oauth"}, wantErr: true, errText: "invalid auth type"},
		{name: "token missing", auth: AuthConfig{Type: "token"}, wantErr: true, errText: "token is required"},
		{name: "password missing", auth: AuthConfig{Type: "userpass", Username: "u"}, wantErr: true, errText: "username and password are required"},
		{name: "creds missing", auth: AuthConfig{Type: "creds"}, wantErr: true, errText: "creds_file is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.NATS.Enabled = true
			cfg.NATS.Auth = tt.auth
			checkErr(t, validate(cfg), tt.wantErr, tt.errText)
		})
	}
}

// TestValidateNATSDisabled tests that NATS settings are ignored when NATS is off
func TestValidateNATSDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.Enabled = false
	cfg.NATS.Auth = AuthConfig{Type: "bogus"}
	if err := validate(cfg); err != nil {
		t.Errorf("validate() error = %v, want nil", err)
	}
}

// TestValidateTLS tests TLS file validation
func TestValidateTLS(t *testing.T) {
	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "cert.pem")
	keyFile := filepath.Join(tmpDir, "key.pem")
	caFile := filepath.Join(tmpDir, "ca.pem")

	os.WriteFile(certFile, []byte("cert"), 0644)
	os.WriteFile(keyFile, []byte("key"), 0644)
	os.WriteFile(caFile, []byte("ca"), 0644)

	tests := []struct {
		name    string
		tls     TLSConfig
		wantErr bool
		errText string
	}{
		{name: "TLS disabled", tls: TLSConfig{Enabled: false}},
		{name: "TLS enabled with no files", tls: TLSConfig{Enabled: true}},
		{name: "TLS with all files", tls: TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, CAFile: caFile}},

		{name: "cert without key", tls: TLSConfig{Enabled: true, CertFile: certFile}, wantErr: true, errText: "key_file is required"},
		{name: "key without cert", tls: TLSConfig{Enabled: true, KeyFile: keyFile}, wantErr: true, errText: "cert_file is required"},
		{
			name:    "cert file not found",
			tls:     TLSConfig{Enabled: true, CertFile: "/nonexistent/cert.pem", KeyFile: keyFile},
			wantErr: true,
			errText: "certificate file not found",
		},
		{
			name:    "key file not found",
			tls:     TLSConfig{Enabled: true, CertFile: certFile, KeyFile: "/nonexistent/key.pem"},
			wantErr: true,
			errText: "key file not found",
		},
		{name: "CA file not found", tls: TLSConfig{Enabled: true, CAFile: "/nonexistent/ca.pem"}, wantErr: true, errText: "CA file not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.NATS.Enabled = true
			cfg.NATS.TLS = tt.tls
			checkErr(t, validate(cfg), tt.wantErr, tt.errText)
		})
	}
}

// TestValidateCommandTimeout tests command timeout bounds
func TestValidateCommandTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		wantErr bool
		errText string
	}{
		{name: "minimum", timeout: 5 * time.Second},
		{name: "maximum", timeout: 5 * time.Minute},
		{name: "too short", timeout: 1 * time.Second, wantErr: true, errText: "at least 5 seconds"},
		{name: "too long", timeout: 10 * time.Minute, wantErr: true, errText: "must not exceed 5 minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Commands.Timeout = tt.timeout
			checkErr(t, validate(cfg), tt.wantErr, tt.errText)
		})
	}
}

// TestLoad tests loading a YAML file with defaults filled in
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
device_id: lab-host-01
scan:
  target: 10.0.0.5
  ports: [22, 8080]
  method: connect
feeds:
  match_mode: exact
  sources:
    - name: nvd
      url: http://127.0.0.1:9999/nvd.json
      enabled: true
logging:
  file: test.log
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DeviceID != "lab-host-01" {
		t.Errorf("DeviceID = %q, want lab-host-01", cfg.DeviceID)
	}
	if cfg.Scan.Target != "10.0.0.5" || cfg.Scan.Method != "connect" {
		t.Errorf("Scan = %+v", cfg.Scan)
	}
	if len(cfg.Scan.Ports) != 2 || cfg.Scan.Ports[1] != 8080 {
		t.Errorf("Scan.Ports = %v, want [22 8080]", cfg.Scan.Ports)
	}
	if cfg.Scan.Timeout != time.Second {
		t.Errorf("Scan.Timeout = %v, want default 1s", cfg.Scan.Timeout)
	}
	if cfg.Feeds.MatchMode != "exact" {
		t.Errorf("Feeds.MatchMode = %q, want exact", cfg.Feeds.MatchMode)
	}
	if len(cfg.Feeds.Sources) != 1 || cfg.Feeds.Sources[0].Name != FeedNVD {
		t.Errorf("Feeds.Sources = %+v, want only nvd", cfg.Feeds.Sources)
	}
	if cfg.Report.Output != "device_scan_report.txt" {
		t.Errorf("Report.Output = %q, want default", cfg.Report.Output)
	}
}

// TestLoadWithoutFile tests that defaults alone form a valid configuration
func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Feeds.Sources) != len(DefaultFeedSources) {
		t.Errorf("got %d feed sources, want %d", len(cfg.Feeds.Sources), len(DefaultFeedSources))
	}
	if len(cfg.Scan.Ports) != 3 {
		t.Errorf("Scan.Ports = %v, want [22 80 443]", cfg.Scan.Ports)
	}
}

// TestLoadInvalidFile tests that a bad file is rejected
func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("scan:\n  method: udp\n"), 0644)

	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid scan method")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

// TestSanitizeDeviceID tests hostname to device ID conversion
func TestSanitizeDeviceID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"web01", "web01"},
		{"web01.example.com", "web01-example-com"},
		{"", "localhost"},
		{"host_name-1", "host_name-1"},
	}
	for _, tt := range tests {
		if got := sanitizeDeviceID(tt.in); got != tt.want {
			t.Errorf("sanitizeDeviceID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestPlatformDefaults tests that every platform has complete defaults
func TestPlatformDefaults(t *testing.T) {
	for _, goos := range []string{"linux", "windows", "darwin", "freebsd", "plan9"} {
		d := platformDefaults(goos)
		if d.LogFile == "" || d.ConfigPath == "" || d.StorePath == "" || d.TextfilePath == "" {
			t.Errorf("platformDefaults(%q) has empty fields: %+v", goos, d)
		}
	}
}

// Helper function
func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
