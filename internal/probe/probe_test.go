package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeRunner answers commands from a table keyed by the command name
type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return "", err
	}
	if out, ok := f.outputs[name]; ok {
		return out, nil
	}
	return "", fmt.Errorf("%w: %s", ErrCommandNotFound, name)
}

func TestNewSelectsVariant(t *testing.T) {
	tests := []struct {
		goos string
		want string
	}{
		{"linux", "linux"},
		{"windows", "windows"},
		{"darwin", "darwin"},
		{"freebsd", "freebsd"},
		{"Linux", "linux"},
		{"plan9", "unsupported (plan9)"},
	}
	for _, tt := range tests {
		p := New(tt.goos, &fakeRunner{}, zap.NewNop())
		if p.Name() != tt.want {
			t.Errorf("New(%q).Name() = %q, want %q", tt.goos, p.Name(), tt.want)
		}
	}
}

func TestUnsupportedProbe(t *testing.T) {
	ctx := context.Background()
	p := New("plan9", &fakeRunner{}, zap.NewNop())

	if sw := p.InstalledSoftware(ctx); sw == nil || len(sw) != 0 {
		t.Errorf("InstalledSoftware() = %#v, want empty", sw)
	}
	if users := p.UserAccounts(ctx); users == nil || len(users) != 0 {
		t.Errorf("UserAccounts() = %#v, want empty", users)
	}
	posture := Posture(ctx, p)
	if posture.Firewall != StatusUnknown || posture.Antivirus != StatusUnknown {
		t.Errorf("Posture() = %+v, want Unknown/Unknown", posture)
	}
}

func TestLinuxProbeDpkg(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"dpkg-query": "openssl\t1.0.1\nbash\t5.1\n",
		"ufw":        "Status: active\n",
		"systemctl":  "ActiveState=active\nSubState=running\nLoadState=loaded\n",
	}}
	p := newLinuxProbe(runner, zap.NewNop())
	p.readFile = func(string) ([]byte, error) { return []byte("root:x:0:0::/root:/bin/sh\nbob:x:1000:1000::/home/bob:/bin/sh\n"), nil }
	ctx := context.Background()

	sw := p.InstalledSoftware(ctx)
	if len(sw) != 2 || sw[0].Name != "openssl" || sw[0].Source != SourceDpkg {
		t.Errorf("InstalledSoftware() = %+v", sw)
	}
	if got := p.FirewallStatus(ctx); got != StatusEnabled {
		t.Errorf("FirewallStatus() = %s, want Enabled", got)
	}
	if got := p.AntivirusStatus(ctx); got != StatusEnabled {
		t.Errorf("AntivirusStatus() = %s, want Enabled", got)
	}
	users := p.UserAccounts(ctx)
	if !reflect.DeepEqual(users, []UserAccount{{Name: "root"}, {Name: "bob"}}) {
		t.Errorf("UserAccounts() = %+v", users)
	}
}

func TestLinuxProbeFallbacks(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{
			"rpm":       "openssl\t1.1.1k\n",
			"systemctl": "ActiveState=inactive\nSubState=dead\nLoadState=loaded\n",
		},
		errs: map[string]error{
			"ufw": errors.New("ufw exited with code 1: ERROR: You need to be root"),
		},
	}
	p := newLinuxProbe(runner, zap.NewNop())
	p.readFile = func(string) ([]byte, error) { return nil, os.ErrPermission }
	ctx := context.Background()

	sw := p.InstalledSoftware(ctx)
	if len(sw) != 1 || sw[0].Source != SourceRPM || sw[0].Version != "1.1.1k" {
		t.Errorf("InstalledSoftware() = %+v, want rpm fallback", sw)
	}
	if got := p.FirewallStatus(ctx); got != StatusDisabled {
		t.Errorf("FirewallStatus() = %s, want Disabled from firewalld", got)
	}
	if users := p.UserAccounts(ctx); len(users) != 0 {
		t.Errorf("UserAccounts() = %+v, want empty on read failure", users)
	}
}

func TestLinuxProbeDpkgFailureDoesNotFallBack(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"rpm": "x\t1\n"},
		errs:    map[string]error{"dpkg-query": errors.New("dpkg-query timed out after 30s")},
	}
	p := newLinuxProbe(runner, zap.NewNop())

	if sw := p.InstalledSoftware(context.Background()); len(sw) != 0 {
		t.Errorf("InstalledSoftware() = %+v, want empty", sw)
	}
	for _, c := range runner.calls {
		if c == "rpm" {
			t.Error("rpm should not be queried when dpkg exists but fails")
		}
	}
}

func TestLinuxProbeNothingInstalled(t *testing.T) {
	p := newLinuxProbe(&fakeRunner{}, zap.NewNop())
	ctx := context.Background()

	if sw := p.InstalledSoftware(ctx); sw == nil || len(sw) != 0 {
		t.Errorf("InstalledSoftware() = %#v, want empty", sw)
	}
	if got := p.FirewallStatus(ctx); got != StatusUnknown {
		t.Errorf("FirewallStatus() = %s, want Unknown", got)
	}
	if got := p.AntivirusStatus(ctx); got != StatusUnknown {
		t.Errorf("AntivirusStatus() = %s, want Unknown", got)
	}
}

func TestWindowsProbe(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"powershell": `{"DisplayName":"OpenSSL","DisplayVersion":"1.0.1"}`,
		"netsh":      "Domain Profile Settings:\r\nState    ON\r\n",
		"net":        "-----\r\nAdministrator  Guest\r\nThe command completed successfully.\r\n",
	}}
	p := newWindowsProbe(runner, zap.NewNop())
	ctx := context.Background()

	sw := p.InstalledSoftware(ctx)
	if !reflect.DeepEqual(sw, []Software{{Name: "OpenSSL", Version: "1.0.1", Source: SourceRegistry}}) {
		t.Errorf("InstalledSoftware() = %+v", sw)
	}
	if got := p.FirewallStatus(ctx); got != StatusEnabled {
		t.Errorf("FirewallStatus() = %s, want Enabled", got)
	}
	// The fake returns registry JSON for every powershell call, which has no Defender fields
	if got := p.AntivirusStatus(ctx); got != StatusUnknown {
		t.Errorf("AntivirusStatus() = %s, want Unknown", got)
	}
	if users := p.UserAccounts(ctx); len(users) != 2 {
		t.Errorf("UserAccounts() = %+v, want 2 accounts", users)
	}
}

func TestWindowsProbeWmicFallback(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"wmic": "Name     Version\r\nOpenSSL  1.0.1\r\n"},
		errs:    map[string]error{"powershell": errors.New("powershell exited with code 1: blocked")},
	}
	p := newWindowsProbe(runner, zap.NewNop())

	sw := p.InstalledSoftware(context.Background())
	if !reflect.DeepEqual(sw, []Software{{Name: "OpenSSL", Version: "1.0.1", Source: SourceWMIC}}) {
		t.Errorf("InstalledSoftware() = %+v", sw)
	}
	p.serviceStatus = func(string) (Status, error) { return StatusUnknown, errors.New("access denied") }
	if got := p.AntivirusStatus(context.Background()); got != StatusUnknown {
		t.Errorf("AntivirusStatus() = %s, want Unknown", got)
	}

	var queried string
	p.serviceStatus = func(name string) (Status, error) {
		queried = name
		return StatusEnabled, nil
	}
	if got := p.AntivirusStatus(context.Background()); got != StatusEnabled {
		t.Errorf("AntivirusStatus() via service manager = %s, want Enabled", got)
	}
	if queried != "WinDefend" {
		t.Errorf("queried service %q, want WinDefend", queried)
	}
}

func TestDarwinProbe(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"brew":         "openssl@3 3.2.0\n",
		socketFilterFW: "Firewall is disabled. (State = 0)\n",
		"dscl":         "_www\nroot\ncarol\n",
	}}
	p := newDarwinProbe(runner, zap.NewNop())
	ctx := context.Background()

	if sw := p.InstalledSoftware(ctx); len(sw) != 1 || sw[0].Version != "3.2.0" {
		t.Errorf("InstalledSoftware() = %+v", sw)
	}
	if got := p.FirewallStatus(ctx); got != StatusDisabled {
		t.Errorf("FirewallStatus() = %s, want Disabled", got)
	}
	if got := p.AntivirusStatus(ctx); got != StatusUnknown {
		t.Errorf("AntivirusStatus() = %s, want Unknown", got)
	}
	if users := p.UserAccounts(ctx); len(users) != 2 {
		t.Errorf("UserAccounts() = %+v, want root and carol", users)
	}
}

func TestFreeBSDProbe(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"pkg":   "curl\t8.5.0\n",
		"pfctl": "Status: Enabled for 3 days 04:05:06\n",
	}}
	p := newFreeBSDProbe(runner, zap.NewNop())
	p.readFile = func(string) ([]byte, error) { return []byte("# $FreeBSD$\nroot:*:0:0::0:0:Charlie &:/root:/bin/sh\n"), nil }
	ctx := context.Background()

	if sw := p.InstalledSoftware(ctx); len(sw) != 1 || sw[0].Source != SourcePkg {
		t.Errorf("InstalledSoftware() = %+v", sw)
	}
	if got := p.FirewallStatus(ctx); got != StatusEnabled {
		t.Errorf("FirewallStatus() = %s, want Enabled", got)
	}
	if users := p.UserAccounts(ctx); len(users) != 1 || users[0].Name != "root" {
		t.Errorf("UserAccounts() = %+v", users)
	}
}

func TestCommandRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
	ctx := context.Background()
	r := NewCommandRunner(2 * time.Second)

	out, err := r.Run(ctx, "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("Run() = %q, want hello", out)
	}

	if _, err := r.Run(ctx, "sh", "-c", "exit 3"); err == nil || !strings.Contains(err.Error(), "code 3") {
		t.Errorf("Run(exit 3) error = %v, want exit code error", err)
	}

	if _, err := r.Run(ctx, "hostscan-no-such-tool"); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("Run(missing) error = %v, want ErrCommandNotFound", err)
	}

	short := NewCommandRunner(100 * time.Millisecond)
	if _, err := short.Run(ctx, "sleep", "5"); err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Run(sleep) error = %v, want timeout", err)
	}
}
