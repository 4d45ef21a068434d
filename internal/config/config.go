// Package config loads and persists tracker settings.
//
// Settings live in <home>/config.yaml and may be overridden by TRACKER_*
// environment variables (TRACKER_API_BASE, TRACKER_STAFF_ID, ...) and by
// command line flags. Settings are re-read on every Load so a change made by
// another process applies to the next operation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Setting keys.
const (
	KeyAPIBase       = "api_base"
	KeyStaffID       = "staff_id"
	KeyProbeURL      = "probe_url"
	KeyProbeInterval = "probe_interval"
	KeyCoalesce      = "sync.coalesce"
	KeyAutoRefresh   = "sync.auto_refresh"
	KeyLogFile       = "log.file"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "TRACKER"

// DefaultProbeInterval is how often connectivity is probed.
const DefaultProbeInterval = 15 * time.Second

// FileName is the settings file name inside the tracker home.
const FileName = "config.yaml"

// Settings is one consistent read of the configuration.
type Settings struct {
	APIBase       string
	StaffID       string
	ProbeURL      string
	ProbeInterval time.Duration
	Coalesce      bool
	AutoRefresh   bool
	LogFile       string
}

// Probe returns the URL used for reachability checks.
func (s *Settings) Probe() string {
	if s.ProbeURL != "" {
		return s.ProbeURL
	}
	return s.APIBase
}

// YAML renders the settings the way they are stored: dotted keys become
// nested maps, so "sync.coalesce" is shown under "sync:" as "coalesce:".
func (s *Settings) YAML() (string, error) {
	flat := map[string]interface{}{
		KeyAPIBase:       s.APIBase,
		KeyStaffID:       s.StaffID,
		KeyProbeURL:      s.ProbeURL,
		KeyProbeInterval: s.ProbeInterval.String(),
		KeyCoalesce:      s.Coalesce,
		KeyAutoRefresh:   s.AutoRefresh,
		KeyLogFile:       s.LogFile,
	}
	nested := make(map[string]interface{})
	for key, value := range flat {
		section, name, ok := strings.Cut(key, ".")
		if !ok {
			nested[key] = value
			continue
		}
		sub, _ := nested[section].(map[string]interface{})
		if sub == nil {
			sub = make(map[string]interface{})
			nested[section] = sub
		}
		sub[name] = value
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(nested); err != nil {
		return "", fmt.Errorf("failed to render settings: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render settings: %w", err)
	}
	return buf.String(), nil
}

// Source supplies settings. Implementations must return a fresh read on every
// call.
type Source interface {
	Load() (*Settings, error)
}

// Static is a fixed settings source.
type Static Settings

// Load implements Source.
func (s Static) Load() (*Settings, error) {
	copied := Settings(s)
	return &copied, nil
}

// Keys lists every key accepted by Set.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var defaults = map[string]interface{}{
	KeyAPIBase:       "",
	KeyStaffID:       "",
	KeyProbeURL:      "",
	KeyProbeInterval: DefaultProbeInterval.String(),
	KeyCoalesce:      false,
	KeyAutoRefresh:   true,
	KeyLogFile:       "",
}

// Store is a file-backed settings source.
type Store struct {
	path string

	mu        sync.Mutex
	overrides map[string]interface{}
}

// NewStore returns a store for the settings file at path.
func NewStore(path string) *Store {
	return &Store{path: path, overrides: make(map[string]interface{})}
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Override forces key to value for this process without persisting it.
func (s *Store) Override(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[key] = value
}

// Load reads the settings file, environment and overrides.
func (s *Store) Load() (*Settings, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readFile(v, s.path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	for k, val := range s.overrides {
		v.Set(k, val)
	}
	s.mu.Unlock()

	interval, err := parseInterval(v.GetString(KeyProbeInterval))
	if err != nil {
		return nil, err
	}

	return &Settings{
		APIBase:       strings.TrimSpace(v.GetString(KeyAPIBase)),
		StaffID:       strings.TrimSpace(v.GetString(KeyStaffID)),
		ProbeURL:      strings.TrimSpace(v.GetString(KeyProbeURL)),
		ProbeInterval: interval,
		Coalesce:      v.GetBool(KeyCoalesce),
		AutoRefresh:   v.GetBool(KeyAutoRefresh),
		LogFile:       v.GetString(KeyLogFile),
	}, nil
}

// Get returns the effective value of key as a string.
func (s *Store) Get(key string) (string, error) {
	if _, ok := defaults[key]; !ok {
		return "", fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	st, err := s.Load()
	if err != nil {
		return "", err
	}
	switch key {
	case KeyAPIBase:
		return st.APIBase, nil
	case KeyStaffID:
		return st.StaffID, nil
	case KeyProbeURL:
		return st.ProbeURL, nil
	case KeyProbeInterval:
		return st.ProbeInterval.String(), nil
	case KeyCoalesce:
		return strconv.FormatBool(st.Coalesce), nil
	case KeyAutoRefresh:
		return strconv.FormatBool(st.AutoRefresh), nil
	default:
		return st.LogFile, nil
	}
}

// Set validates value and persists it under key in the settings file.
// Values are trimmed; environment variables and defaults are not written.
func (s *Store) Set(key, value string) error {
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	value = strings.TrimSpace(value)

	var typed interface{} = value
	switch key {
	case KeyProbeInterval:
		if _, err := parseInterval(value); err != nil {
			return err
		}
	case KeyCoalesce, KeyAutoRefresh:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be true or false: %w", key, err)
		}
		typed = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v := viper.New()
	if err := readFile(v, s.path); err != nil {
		return err
	}
	v.Set(key, typed)

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func readFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

func parseInterval(s string) (time.Duration, error) {
	if s == "" {
		return DefaultProbeInterval, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid probe_interval %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("probe_interval must be positive, got %s", d)
	}
	return d, nil
}
