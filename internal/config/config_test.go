package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/meetsfu/internal/app"
	"github.com/spf13/pflag"
)

// chdir moves into a scratch dir so no real config file is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 || cfg.PingPeriod != 54*time.Second || cfg.PongWait != 60*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LinkTTL != 24*time.Hour || cfg.ReapInterval != 10*time.Minute {
		t.Fatalf("link defaults: ttl=%s reap=%s", cfg.LinkTTL, cfg.ReapInterval)
	}
	if cfg.BackpressurePolicy != "kick" {
		t.Fatalf("backpressure_policy = %q, want kick", cfg.BackpressurePolicy)
	}
	if !cfg.Media.ICELite || cfg.Media.UDPPortMin != 40000 || cfg.Media.UDPPortMax != 49999 {
		t.Fatalf("media defaults: %+v", cfg.Media)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := chdir(t)
	t.Setenv("CONFIG_ENV", "test")
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := "port: 9000\nmode: debug\nmedia:\n  announced_ip: 203.0.113.7\n  udp_port: 40100\n"
	if err := os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEETSFU_MODE", "release")
	t.Setenv("MEETSFU_MEDIA_ANNOUNCED_IP", "198.51.100.1")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	if err := flags.Parse([]string{"--port", "9100"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("port = %d, want flag value 9100", cfg.Port)
	}
	if cfg.Mode != "release" {
		t.Errorf("mode = %s, want env value release", cfg.Mode)
	}
	if cfg.Media.AnnouncedIP != "198.51.100.1" {
		t.Errorf("announced_ip = %s, want env value", cfg.Media.AnnouncedIP)
	}
	if cfg.Media.UDPPort != 40100 {
		t.Errorf("udp_port = %d, want file value 40100", cfg.Media.UDPPort)
	}
}

func TestValidate(t *testing.T) {
	base := Config{Port: 8080, PingPeriod: time.Second, PongWait: 2 * time.Second, SendBuffer: 1}
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"bad port", func(c *Config) { c.Port = 0 }, false},
		{"pong before ping", func(c *Config) { c.PongWait = c.PingPeriod }, false},
		{"no buffer", func(c *Config) { c.SendBuffer = 0 }, false},
		{"inverted range", func(c *Config) { c.Media.UDPPortMin, c.Media.UDPPortMax = 50000, 40000 }, false},
		{"drop policy", func(c *Config) { c.BackpressurePolicy = "drop" }, true},
		{"unknown policy", func(c *Config) { c.BackpressurePolicy = "ignore" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			if err := c.Validate(); (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestAdapterOptions(t *testing.T) {
	cfg := Config{
		ReadLimit:  1024,
		PingPeriod: time.Second,
		PongWait:   2 * time.Second,
		SendBuffer: 8,
		Media:      Media{AnnouncedIP: "203.0.113.7", UDPPort: 40100, ICELite: true},
	}
	so := cfg.SignalOptions()
	if so.ReadLimit != 1024 || so.SendBuffer != 8 || so.PongWait != 2*time.Second {
		t.Fatalf("signal options = %+v", so)
	}
	ec := cfg.EngineConfig()
	if ec.AnnouncedIP != "203.0.113.7" || ec.UDPPort != 40100 || !ec.ICELite {
		t.Fatalf("engine config = %+v", ec)
	}
}

func TestPolicySelection(t *testing.T) {
	cases := []struct {
		name string
		want app.Policy
	}{
		{"", app.SimplePolicy{}},
		{"kick", app.SimplePolicy{}},
		{"drop", app.LenientPolicy{}},
	}
	for _, tc := range cases {
		cfg := Config{BackpressurePolicy: tc.name}
		if got := cfg.Policy(); got != tc.want {
			t.Errorf("Policy(%q) = %T, want %T", tc.name, got, tc.want)
		}
	}
}
