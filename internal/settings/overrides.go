package settings

import (
	"fmt"
	"strconv"
	"strings"
)

const EnvPrefix = "CONFIGCENTER_"

// ParseOverrides turns key=value entries, as given to --set, into settings
// overrides.
func ParseOverrides(entries []string) (map[string]any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	overrides := make(map[string]any)
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			return nil, fmt.Errorf("settings override cannot be empty")
		}
		parts := strings.SplitN(trimmed, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("settings override must be key=value: %q", entry)
		}
		key := NormalizeKey(parts[0])
		if key == "" {
			return nil, fmt.Errorf("settings override key cannot be empty")
		}
		overrides[key] = parseOverrideValue(strings.TrimSpace(parts[1]))
	}
	return overrides, nil
}

// EnvOverrides maps CONFIGCENTER_<SECTION>_<NAME>=value entries of environ
// onto "<section>.<name>" keys. CONFIGCENTER_CONFIG names the settings file
// and is not an override.
func EnvOverrides(environ []string) map[string]any {
	overrides := make(map[string]any)
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		rest := strings.TrimPrefix(name, EnvPrefix)
		if rest == "CONFIG" {
			continue
		}
		section, setting, ok := strings.Cut(rest, "_")
		if !ok || section == "" || setting == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		overrides[NormalizeKey(section+"."+setting)] = parseOverrideValue(value)
	}
	return overrides
}

func parseOverrideValue(value string) any {
	if strings.EqualFold(value, "true") {
		return true
	}
	if strings.EqualFold(value, "false") {
		return false
	}
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed
	}
	return value
}
