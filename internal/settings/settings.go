// Package settings loads the configcenter settings file and layers the
// environment and command-line overrides on top of the embedded defaults.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"configcenter"
	"configcenter/internal/logging"
	"configcenter/internal/watcher"
)

const defaultsPath = "config/configcenter.toml"

// SearchNames are tried in order in the working directory when no settings
// file is given explicitly.
var SearchNames = []string{"configcenter.yaml", "configcenter.yml", "configcenter.toml"}

type Settings struct {
	Store  StoreSettings
	Server ServerSettings
	Log    LogSettings
	// Path is the settings file that was read, empty when none was found.
	Path string
}

type StoreSettings struct {
	Root           string
	Encoding       string
	WatchMode      watcher.Mode
	PollInterval   time.Duration
	ThreadPoolSize int
}

type ServerSettings struct {
	Listen         string
	AllowedOrigins []string
	PublishRate    float64
	PublishBurst   int
	EventHistory   int
}

type LogSettings struct {
	Level logging.Level
}

// DefaultsPayload returns the embedded default settings document.
func DefaultsPayload() ([]byte, error) {
	return fs.ReadFile(configcenter.EmbeddedConfigFS, defaultsPath)
}

// ResolvePath returns explicit when set, then $CONFIGCENTER_CONFIG, then the
// first SearchNames entry present in dir. An empty result means no file.
func ResolvePath(explicit, dir string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG")); env != "" {
		return env
	}
	for _, name := range SearchNames {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate
		}
	}
	return ""
}

// Load merges, in increasing precedence, the embedded defaults, the file at
// path (skipped when empty or missing), and overrides.
func Load(path string, overrides map[string]any) (Settings, error) {
	defaultsPayload, err := DefaultsPayload()
	if err != nil {
		return Settings{}, fmt.Errorf("read default settings: %w", err)
	}
	return LoadWithDefaults(path, defaultsPayload, overrides)
}

func LoadWithDefaults(path string, defaultsPayload []byte, overrides map[string]any) (Settings, error) {
	defaultsStore, err := Decode(defaultsPayload, "toml")
	if err != nil {
		return Settings{}, err
	}
	defaults := defaultsStore.Flat()
	values := defaultsStore.Flat()

	settings := Settings{}
	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Settings{}, err
			}
		} else {
			format, err := FormatForPath(path)
			if err != nil {
				return Settings{}, err
			}
			store, err := Decode(payload, format)
			if err != nil {
				return Settings{}, fmt.Errorf("%s: %w", path, err)
			}
			for key, value := range store.Flat() {
				values[key] = value
			}
			settings.Path = path
		}
	}

	for key, value := range overrides {
		normalized := NormalizeKey(key)
		if normalized == "" {
			continue
		}
		values[normalized] = value
	}

	settings.Store.Root = stringSetting(values, "store.root", "")
	settings.Store.Encoding = stringSetting(values, "store.encoding", "")
	settings.Store.ThreadPoolSize = int(intSetting(values, "store.thread-pool-size", 0))
	settings.Server.Listen = stringSetting(values, "server.listen", "")
	settings.Server.AllowedOrigins = stringListSetting(values, "server.allowed-origins")
	settings.Server.PublishRate = floatSetting(values, "server.publish-rate", 0)
	settings.Server.PublishBurst = int(intSetting(values, "server.publish-burst", 0))
	settings.Server.EventHistory = int(intSetting(values, "server.event-history", 0))

	mode, err := watcher.ParseMode(stringSetting(values, "store.watch-mode", ""))
	if err != nil {
		return Settings{}, fmt.Errorf("store.watch-mode: %w", err)
	}
	settings.Store.WatchMode = mode

	interval, err := durationSetting(values, "store.poll-interval")
	if err != nil {
		return Settings{}, err
	}
	settings.Store.PollInterval = interval

	rawLevel := stringSetting(values, "log.level", "")
	level, ok := logging.ParseLevel(rawLevel)
	if !ok && rawLevel != "" {
		return Settings{}, fmt.Errorf("log.level: unknown level %q", rawLevel)
	}
	settings.Log.Level = level

	return normalizeSettings(settings, defaults), nil
}

func normalizeSettings(settings Settings, defaults map[string]any) Settings {
	if settings.Store.Encoding == "" {
		settings.Store.Encoding = stringSetting(defaults, "store.encoding", "UTF-8")
	}
	if settings.Store.ThreadPoolSize <= 0 {
		settings.Store.ThreadPoolSize = int(intSetting(defaults, "store.thread-pool-size", 1))
	}
	if settings.Store.PollInterval <= 0 {
		settings.Store.PollInterval = watcher.DefaultPollingInterval
	}
	if settings.Server.Listen == "" {
		settings.Server.Listen = stringSetting(defaults, "server.listen", "")
	}
	if settings.Server.PublishRate <= 0 {
		settings.Server.PublishRate = floatSetting(defaults, "server.publish-rate", 0)
	}
	if settings.Server.PublishBurst <= 0 {
		settings.Server.PublishBurst = int(intSetting(defaults, "server.publish-burst", 1))
	}
	if settings.Server.EventHistory <= 0 {
		settings.Server.EventHistory = int(intSetting(defaults, "server.event-history", 0))
	}
	if settings.Log.Level == "" {
		settings.Log.Level = logging.LevelInfo
	}
	return settings
}

func intSetting(values map[string]any, key string, fallback int64) int64 {
	value, ok := values[NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := asInt64(value); ok {
		return parsed
	}
	return fallback
}

func floatSetting(values map[string]any, key string, fallback float64) float64 {
	value, ok := values[NormalizeKey(key)]
	if !ok {
		return fallback
	}
	switch typed := value.(type) {
	case float64:
		return typed
	case float32:
		return float64(typed)
	}
	if parsed, ok := asInt64(value); ok {
		return float64(parsed)
	}
	return fallback
}

func stringSetting(values map[string]any, key string, fallback string) string {
	value, ok := values[NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := value.(string); ok {
		return strings.TrimSpace(parsed)
	}
	return fallback
}

// stringListSetting accepts a list or a comma-separated string, the form
// environment variables take.
func stringListSetting(values map[string]any, key string) []string {
	value, ok := values[NormalizeKey(key)]
	if !ok {
		return nil
	}
	var items []string
	switch typed := value.(type) {
	case string:
		items = strings.Split(typed, ",")
	case []string:
		items = typed
	case []any:
		for _, item := range typed {
			if text, ok := item.(string); ok {
				items = append(items, text)
			}
		}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// durationSetting accepts a Go duration string or a number of seconds.
func durationSetting(values map[string]any, key string) (time.Duration, error) {
	value, ok := values[NormalizeKey(key)]
	if !ok {
		return 0, nil
	}
	if seconds, ok := asInt64(value); ok {
		return time.Duration(seconds) * time.Second, nil
	}
	text, ok := value.(string)
	if !ok {
		return 0, fmt.Errorf("%s: expected a duration, got %T", key, value)
	}
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func asInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	}
	return 0, false
}
