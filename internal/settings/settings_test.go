package settings

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"configcenter/internal/logging"
	"configcenter/internal/watcher"
)

func writeSettingsFile(t *testing.T, name, payload string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	settings, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Store.Encoding != "UTF-8" {
		t.Fatalf("expected UTF-8, got %q", settings.Store.Encoding)
	}
	if settings.Store.WatchMode != watcher.ModeAuto {
		t.Fatalf("expected auto watch mode, got %q", settings.Store.WatchMode)
	}
	if settings.Store.PollInterval != 2*time.Second {
		t.Fatalf("expected 2s poll interval, got %s", settings.Store.PollInterval)
	}
	if settings.Store.ThreadPoolSize != 1 {
		t.Fatalf("expected one callback worker, got %d", settings.Store.ThreadPoolSize)
	}
	if settings.Server.Listen != "127.0.0.1:8848" {
		t.Fatalf("unexpected listen address %q", settings.Server.Listen)
	}
	if settings.Log.Level != logging.LevelInfo {
		t.Fatalf("expected info level, got %q", settings.Log.Level)
	}
	if settings.Path != "" {
		t.Fatalf("expected no settings file, got %q", settings.Path)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeSettingsFile(t, "configcenter.yaml", `
store:
  root: /srv/config
  watch_mode: polling
  poll-interval: 500ms
  thread-pool-size: 4
server:
  allowed-origins:
    - http://localhost:3000
    - http://example.test
log:
  level: debug
`)
	settings, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Store.Root != "/srv/config" || settings.Store.WatchMode != watcher.ModePolling {
		t.Fatalf("unexpected store settings %+v", settings.Store)
	}
	if settings.Store.PollInterval != 500*time.Millisecond || settings.Store.ThreadPoolSize != 4 {
		t.Fatalf("unexpected store settings %+v", settings.Store)
	}
	if !reflect.DeepEqual(settings.Server.AllowedOrigins, []string{"http://localhost:3000", "http://example.test"}) {
		t.Fatalf("unexpected origins %v", settings.Server.AllowedOrigins)
	}
	if settings.Log.Level != logging.LevelDebug {
		t.Fatalf("expected debug level, got %q", settings.Log.Level)
	}
	if settings.Path != path {
		t.Fatalf("expected path to be recorded, got %q", settings.Path)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := writeSettingsFile(t, "configcenter.toml", "[store]\nencoding = \"ISO-8859-1\"\npoll-interval = 5\n")
	settings, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Store.Encoding != "ISO-8859-1" {
		t.Fatalf("expected file encoding, got %q", settings.Store.Encoding)
	}
	if settings.Store.PollInterval != 5*time.Second {
		t.Fatalf("expected seconds to be accepted, got %s", settings.Store.PollInterval)
	}
}

func TestLoadOverridesWin(t *testing.T) {
	path := writeSettingsFile(t, "configcenter.toml", "[store]\nthread-pool-size = 2\n")
	settings, err := Load(path, map[string]any{"store.thread_pool_size": int64(8)})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Store.ThreadPoolSize != 8 {
		t.Fatalf("expected override to win, got %d", settings.Store.ThreadPoolSize)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Path != "" || settings.Store.Encoding != "UTF-8" {
		t.Fatalf("expected defaults, got %+v", settings)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]any{
		"watch mode":    {"store.watch-mode": "telepathy"},
		"poll interval": {"store.poll-interval": "soon"},
		"log level":     {"log.level": "loud"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load("", overrides); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeSettingsFile(t, "configcenter.ini", "root=/tmp\n")
	if _, err := Load(path, nil); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported file error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	overrides := EnvOverrides([]string{
		"CONFIGCENTER_STORE_WATCH_MODE=native",
		"CONFIGCENTER_STORE_THREAD_POOL_SIZE=3",
		"CONFIGCENTER_SERVER_ALLOWED_ORIGINS=http://a, http://b",
		"CONFIGCENTER_CONFIG=/etc/configcenter.yaml",
		"CONFIGCENTER_BROKEN=1",
		"HOME=/root",
	})
	want := map[string]any{
		"store.watch-mode":       "native",
		"store.thread-pool-size": int64(3),
		"server.allowed-origins": "http://a, http://b",
	}
	if !reflect.DeepEqual(overrides, want) {
		t.Fatalf("unexpected overrides %#v", overrides)
	}

	settings, err := Load("", overrides)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(settings.Server.AllowedOrigins, []string{"http://a", "http://b"}) {
		t.Fatalf("unexpected origins %v", settings.Server.AllowedOrigins)
	}
	if settings.Store.WatchMode != watcher.ModeNative || settings.Store.ThreadPoolSize != 3 {
		t.Fatalf("unexpected store settings %+v", settings.Store)
	}
}

func TestParseOverrides(t *testing.T) {
	overrides, err := ParseOverrides([]string{"Store.Encoding=GBK", "server.publish-burst=10", "log.level = debug"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := map[string]any{
		"store.encoding":       "GBK",
		"server.publish-burst": int64(10),
		"log.level":            "debug",
	}
	if !reflect.DeepEqual(overrides, want) {
		t.Fatalf("unexpected overrides %#v", overrides)
	}
	for _, bad := range []string{"", "novalue", "=x"} {
		if _, err := ParseOverrides([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPrefix+"CONFIG", "")
	if got := ResolvePath("", dir); got != "" {
		t.Fatalf("expected no settings file, got %q", got)
	}
	tomlPath := filepath.Join(dir, "configcenter.toml")
	if err := os.WriteFile(tomlPath, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := ResolvePath("", dir); got != tomlPath {
		t.Fatalf("expected %q, got %q", tomlPath, got)
	}
	yamlPath := filepath.Join(dir, "configcenter.yaml")
	if err := os.WriteFile(yamlPath, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := ResolvePath("", dir); got != yamlPath {
		t.Fatalf("expected yaml to take precedence, got %q", got)
	}
	t.Setenv(EnvPrefix+"CONFIG", "/from/env.toml")
	if got := ResolvePath("", dir); got != "/from/env.toml" {
		t.Fatalf("expected env path, got %q", got)
	}
	if got := ResolvePath("/explicit.yaml", dir); got != "/explicit.yaml" {
		t.Fatalf("expected explicit path, got %q", got)
	}
}
