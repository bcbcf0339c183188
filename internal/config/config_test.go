package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880
cors_allow_origins = ["https://app.example.com"]

[upstream]
timeout_seconds = 60
idle_connections = 50
max_body_bytes = 1048576
max_redirects = 3
user_agent = "embed-proxy-test"
deny_private_networks = true

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if len(cfg.Server.CORSAllowOrigins) != 1 || cfg.Server.CORSAllowOrigins[0] != "https://app.example.com" {
		t.Errorf("Server.CORSAllowOrigins = %v, want [https://app.example.com]", cfg.Server.CORSAllowOrigins)
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Upstream.MaxBodyBytes != 1048576 {
		t.Errorf("Upstream.MaxBodyBytes = %d, want %d", cfg.Upstream.MaxBodyBytes, 1048576)
	}
	if cfg.Upstream.MaxRedirects != 3 {
		t.Errorf("Upstream.MaxRedirects = %d, want %d", cfg.Upstream.MaxRedirects, 3)
	}
	if cfg.Upstream.UserAgent != "embed-proxy-test" {
		t.Errorf("Upstream.UserAgent = %q, want %q", cfg.Upstream.UserAgent, "embed-proxy-test")
	}
	if !cfg.Upstream.DenyPrivateNetworks {
		t.Error("Upstream.DenyPrivateNetworks = false, want true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	path := writeConfig(t, `
[log]
format = "xml"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log format, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if len(cfg.Server.CORSAllowOrigins) != 1 || cfg.Server.CORSAllowOrigins[0] != "*" {
		t.Errorf("default Server.CORSAllowOrigins = %v, want [*]", cfg.Server.CORSAllowOrigins)
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 30)
	}
	if cfg.Upstream.IdleConnections != 100 {
		t.Errorf("default Upstream.IdleConnections = %d, want %d", cfg.Upstream.IdleConnections, 100)
	}
	if cfg.Upstream.MaxBodyBytes != 20*1024*1024 {
		t.Errorf("default Upstream.MaxBodyBytes = %d, want %d", cfg.Upstream.MaxBodyBytes, 20*1024*1024)
	}
	if cfg.Upstream.MaxRedirects != 10 {
		t.Errorf("default Upstream.MaxRedirects = %d, want %d", cfg.Upstream.MaxRedirects, 10)
	}
	if cfg.Upstream.DenyPrivateNetworks {
		t.Error("default Upstream.DenyPrivateNetworks = true, want false")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	orig := configSearchPaths
	configSearchPaths = []string{"/nonexistent/a.toml", "/nonexistent/b.toml"}
	t.Cleanup(func() { configSearchPaths = orig })

	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v; a missing config file should fall back to defaults", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:3000" {
		t.Errorf("Addr() = %q, want %q", cfg.Server.Addr(), "0.0.0.0:3000")
	}
	if cfg.FilePath() != "" {
		t.Errorf("FilePath() = %q, want empty", cfg.FilePath())
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeConfig(t, "[server\nport = ")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for malformed TOML, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
timeout_seconds = 30

[log]
level = "info"
`)

	cli := &CLI{
		Config:   path,
		Host:     "127.0.0.1",
		Port:     4000,
		LogLevel: "debug",
		Timeout:  5,
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 4000)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
	if cfg.Upstream.TimeoutSeconds != 5 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d (CLI override)", cfg.Upstream.TimeoutSeconds, 5)
	}
}

func TestLoad_NegativeValues(t *testing.T) {
	tests := []struct {
		name string
		data string
		key  string
	}{
		{"port", "[server]\nport = -1\n", "server.port"},
		{"port too large", "[server]\nport = 70000\n", "server.port"},
		{"body max bytes", "[server]\nbody_max_bytes = -1\n", "server.body_max_bytes"},
		{"timeout", "[upstream]\ntimeout_seconds = -5\n", "upstream.timeout_seconds"},
		{"idle connections", "[upstream]\nidle_connections = -1\n", "upstream.idle_connections"},
		{"max body bytes", "[upstream]\nmax_body_bytes = -1\n", "upstream.max_body_bytes"},
		{"max redirects", "[upstream]\nmax_redirects = -1\n", "upstream.max_redirects"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatalf("Load() expected error for %s, got nil", tt.key)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error = %q, want mention of %s", err, tt.key)
			}
		})
	}
}

func TestLoad_EmptyCORSOrigin(t *testing.T) {
	path := writeConfig(t, `
[server]
cors_allow_origins = ["https://a.example", " "]
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for empty CORS origin, got nil")
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}
	// Chmod after write so the process umask cannot strip the group write bit.
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "writable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0644 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	cfg := &Config{}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning without a config file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "[server]\nport = 3000\n")

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "[server]\nport = 3001\n")
	path2 := writeConfig(t, "[server]\nport = 3002\n")

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"website exact", "/website"},
		{"website sub", "/website/metrics"},
		{"fetch", "/fetch"},
		{"healthz", "/healthz"},
		{"proxy/status", "/proxy/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsPathValid(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
path = "/custom-metrics"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "bad-no-slash"
`)

	_, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
