package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	settingsFileName    = "settings.json"
	maxSettingsFileSize = 1024 * 1024 // 1MB
	envPrefix           = "AXON_"
)

// ErrInvalidSettings indicates a settings document that fails validation.
var ErrInvalidSettings = errors.New("invalid settings")

// Root returns the axon configuration root. AXON_HOME overrides the
// platform config directory.
func Root() (string, error) {
	if home := os.Getenv("AXON_HOME"); home != "" {
		return home, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(base, "axon"), nil
}

// Manager loads and persists effective settings. Reads are cached by file
// mtime; writes are atomic temp-file renames with 0600 permissions.
type Manager struct {
	root string

	mu      sync.Mutex
	cached  *Settings
	modTime time.Time
}

// NewManager creates a settings manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{root: dir}
}

// Dir returns the configuration root directory.
func (m *Manager) Dir() string {
	return m.root
}

// Path returns the settings file path.
func (m *Manager) Path() string {
	return filepath.Join(m.root, settingsFileName)
}

// Effective returns the fully populated settings: on-disk user settings
// deep-merged over built-in defaults, with AXON_* environment overrides on
// top. A corrupted file is moved aside and replaced with defaults.
func (m *Manager) Effective() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.Path()
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m.merge(nil)
		}
		return Settings{}, fmt.Errorf("stat settings: %w", err)
	}

	if m.cached != nil && info.ModTime().Equal(m.modTime) {
		return *m.cached, nil
	}

	if info.Size() > maxSettingsFileSize {
		return Settings{}, fmt.Errorf("%w: settings file too large: %d bytes", ErrInvalidSettings, info.Size())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings: %w", err)
	}

	if err := validateStrict(raw); err != nil {
		if backupErr := m.quarantine(path); backupErr != nil {
			return Settings{}, fmt.Errorf("quarantining corrupt settings: %w", backupErr)
		}
		defaults := Defaults()
		if writeErr := m.writeAtomic(defaults); writeErr != nil {
			return Settings{}, fmt.Errorf("restoring default settings: %w", writeErr)
		}
		return m.merge(nil)
	}

	settings, err := m.merge(raw)
	if err != nil {
		return Settings{}, err
	}
	m.cached = &settings
	m.modTime = info.ModTime()
	return settings, nil
}

// Save merges a partial settings document over the current on-disk settings
// and persists the result. The merge is one level deep: known nested sections
// merge key-by-key, scalars and arrays replace wholesale.
func (m *Manager) Save(partial map[string]any) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := map[string]any{}
	if raw, err := os.ReadFile(m.Path()); err == nil {
		if err := json.Unmarshal(raw, &current); err != nil {
			return Settings{}, fmt.Errorf("%w: existing file: %v", ErrInvalidSettings, err)
		}
	}

	merged := mergeOneLevel(current, partial)
	merged["settingsVersion"] = CurrentSettingsVersion

	raw, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return Settings{}, fmt.Errorf("marshaling settings: %w", err)
	}
	if err := validateStrict(raw); err != nil {
		return Settings{}, err
	}

	if err := m.writeRaw(raw); err != nil {
		return Settings{}, err
	}
	m.cached = nil

	return m.merge(raw)
}

// merge layers raw user settings (may be nil) over defaults, then applies
// AXON_* environment overrides, and unmarshals into a Settings value.
func (m *Manager) merge(userRaw []byte) (Settings, error) {
	k := koanf.New(".")

	defaultsRaw, err := json.Marshal(Defaults())
	if err != nil {
		return Settings{}, fmt.Errorf("marshaling defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(defaultsRaw), koanfjson.Parser()); err != nil {
		return Settings{}, fmt.Errorf("loading defaults: %w", err)
	}

	if len(userRaw) > 0 {
		if err := k.Load(rawbytes.Provider(userRaw), koanfjson.Parser()); err != nil {
			return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	}

	// AXON_HTTP_TIMEOUT_MS -> http.timeoutMs
	if err := k.Load(env.Provider(envPrefix, ".", envKeyToPath), nil); err != nil {
		return Settings{}, fmt.Errorf("loading environment overrides: %w", err)
	}

	var settings Settings
	if err := k.Unmarshal("", &settings); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return settings, nil
}

// envKeyToPath maps AXON_SECTION_FIELD_NAME to section.fieldName.
func envKeyToPath(s string) string {
	trimmed := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	if trimmed == "home" {
		// AXON_HOME selects the root, it is not a settings key.
		return ""
	}
	parts := strings.SplitN(trimmed, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + snakeToCamel(parts[1])
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// validateStrict rejects documents with unknown keys or mismatched shapes.
func validateStrict(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var s Settings
	if err := dec.Decode(&s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// mergeOneLevel merges partial over current one level deep. Nested maps merge
// key-by-key; everything else (scalars, arrays) replaces.
func mergeOneLevel(current, partial map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(partial))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range partial {
		existing, ok := out[k].(map[string]any)
		incoming, incomingIsMap := v.(map[string]any)
		if ok && incomingIsMap {
			section := make(map[string]any, len(existing)+len(incoming))
			for sk, sv := range existing {
				section[sk] = sv
			}
			for sk, sv := range incoming {
				section[sk] = sv
			}
			out[k] = section
			continue
		}
		out[k] = v
	}
	return out
}

func (m *Manager) quarantine(path string) error {
	backup := fmt.Sprintf("%s.invalid-backup-%d", path, time.Now().Unix())
	return os.Rename(path, backup)
}

func (m *Manager) writeAtomic(s Settings) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	return m.writeRaw(raw)
}

func (m *Manager) writeRaw(raw []byte) error {
	if err := os.MkdirAll(m.root, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp, err := os.CreateTemp(m.root, settingsFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing settings file: %w", err)
	}
	if err := os.Rename(tmpPath, m.Path()); err != nil {
		return fmt.Errorf("renaming settings file: %w", err)
	}
	return nil
}
