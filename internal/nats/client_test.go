package nats

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/hostscan/internal/config"
	"go.uber.org/zap"
)

func applyOptions(t *testing.T, opts ...nats.Option) nats.Options {
	t.Helper()
	var o nats.Options
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			t.Fatalf("option error = %v", err)
		}
	}
	return o
}

func TestAuthOption(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.AuthConfig
		wantNil bool
		wantErr bool
		check   func(nats.Options) bool
	}{
		{name: "none", cfg: config.AuthConfig{Type: "none"}, wantNil: true},
		{name: "token", cfg: config.AuthConfig{Type: "token", Token: "s3cret"},
			check: func(o nats.Options) bool { return o.Token == "s3cret" }},
		{name: "userpass", cfg: config.AuthConfig{Type: "userpass", Username: "scanner", Password: "pw"},
			check: func(o nats.Options) bool { return o.User == "scanner" && o.Password == "pw" }},
		{name: "creds", cfg: config.AuthConfig{Type: "creds", CredsFile: "/etc/hostscan/device.creds"},
			check: func(o nats.Options) bool { return o.UserJWT != nil }},
		{name: "unknown", cfg: config.AuthConfig{Type: "kerberos"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := authOption(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("authOption() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (opt == nil) != tt.wantNil {
				t.Fatalf("authOption() = %v, wantNil %v", opt, tt.wantNil)
			}
			if tt.check != nil && !tt.check(applyOptions(t, opt)) {
				t.Errorf("option for %s not applied", tt.cfg.Type)
			}
		})
	}
}

func TestCreateTLSConfig(t *testing.T) {
	dir := t.TempDir()
	badCA := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(badCA, []byte("not a certificate"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := createTLSConfig(&config.TLSConfig{Enabled: true, InsecureSkipVerify: true}, zap.NewNop())
	if err != nil {
		t.Fatalf("createTLSConfig() error = %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 || !cfg.InsecureSkipVerify || cfg.RootCAs != nil {
		t.Errorf("createTLSConfig() = %+v", cfg)
	}

	for _, tc := range []config.TLSConfig{
		{Enabled: true, CAFile: filepath.Join(dir, "missing.pem")},
		{Enabled: true, CAFile: badCA},
		{Enabled: true, CertFile: filepath.Join(dir, "client.pem"), KeyFile: filepath.Join(dir, "client.key")},
	} {
		if _, err := createTLSConfig(&tc, zap.NewNop()); err == nil {
			t.Errorf("createTLSConfig(%+v) succeeded, want error", tc)
		}
	}
}

func TestConnectionOptions(t *testing.T) {
	cfg := &config.NATSConfig{
		MaxReconnects: 5,
		ReconnectWait: 2 * time.Second,
		Auth:          config.AuthConfig{Type: "token", Token: "t"},
	}
	closedCalls := 0
	opts, err := connectionOptions(cfg, zap.NewNop(), func() { closedCalls++ })
	if err != nil {
		t.Fatalf("connectionOptions() error = %v", err)
	}

	o := applyOptions(t, opts...)
	if o.Name != "hostscan" || o.MaxReconnect != 5 || o.ReconnectWait != 2*time.Second || o.Token != "t" {
		t.Errorf("options = name %q, reconnects %d, wait %v, token %q", o.Name, o.MaxReconnect, o.ReconnectWait, o.Token)
	}
	if o.Secure {
		t.Error("TLS enabled without tls.enabled")
	}
	o.ClosedCB(nil)
	if closedCalls != 1 {
		t.Errorf("closed callback ran %d times, want 1", closedCalls)
	}

	cfg.Auth.Type = "bogus"
	if _, err := connectionOptions(cfg, zap.NewNop(), nil); err == nil {
		t.Error("connectionOptions() accepted an invalid auth type")
	}
}
