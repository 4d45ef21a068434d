package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), FileName))
}

func TestLoad_Defaults(t *testing.T) {
	s := newTestStore(t)
	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if st.APIBase != "" || st.StaffID != "" {
		t.Errorf("expected empty endpoint and staff id, got %+v", st)
	}
	if st.ProbeInterval != DefaultProbeInterval {
		t.Errorf("ProbeInterval = %s, want %s", st.ProbeInterval, DefaultProbeInterval)
	}
	if st.Coalesce || !st.AutoRefresh {
		t.Errorf("unexpected sync defaults: %+v", st)
	}
}

func TestSet_PersistsAndRereads(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set(KeyStaffID, "  STAFF-9 "); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Set(KeyAPIBase, "https://example.com/exec"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	// A second store sees the change, like another process would.
	st, err := NewStore(s.Path()).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if st.StaffID != "STAFF-9" {
		t.Errorf("StaffID = %q", st.StaffID)
	}
	if st.APIBase != "https://example.com/exec" {
		t.Errorf("APIBase = %q", st.APIBase)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if strings.Contains(string(data), "probe_interval") {
		t.Errorf("defaults were written to the file:\n%s", data)
	}
}

func TestSet_Validation(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{KeyProbeInterval, "30s", false},
		{KeyProbeInterval, "soon", true},
		{KeyProbeInterval, "-1s", true},
		{KeyCoalesce, "true", false},
		{KeyCoalesce, "maybe", true},
		{"nope", "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := s.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Set(%s, %s) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
			}
		})
	}

	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if st.ProbeInterval != 30*time.Second || !st.Coalesce {
		t.Errorf("valid values not applied: %+v", st)
	}
}

func TestLoad_EnvAndOverride(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set(KeyStaffID, "from-file"); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TRACKER_STAFF_ID", "from-env")
	st, _ := s.Load()
	if st.StaffID != "from-env" {
		t.Errorf("env override not applied: %q", st.StaffID)
	}

	s.Override(KeyStaffID, "from-flag")
	st, _ = s.Load()
	if st.StaffID != "from-flag" {
		t.Errorf("flag override not applied: %q", st.StaffID)
	}

	if v, _ := s.Get(KeyStaffID); v != "from-flag" {
		t.Errorf("Get() = %q", v)
	}
}

func TestSettings_ProbeAndYAML(t *testing.T) {
	st := &Settings{APIBase: "https://a.example/exec", StaffID: "S"}
	if st.Probe() != st.APIBase {
		t.Errorf("Probe() should fall back to the endpoint")
	}
	st.ProbeURL = "https://probe.example"
	if st.Probe() != "https://probe.example" {
		t.Errorf("Probe() = %q", st.Probe())
	}

	out, err := st.YAML()
	if err != nil {
		t.Fatalf("YAML() error: %v", err)
	}
	if !strings.Contains(out, "staff_id: S") {
		t.Errorf("YAML output missing staff_id:\n%s", out)
	}
}

func TestSettings_YAMLUsesSettingKeys(t *testing.T) {
	want := &Settings{
		APIBase:       "https://a.example/exec",
		StaffID:       "S-9",
		ProbeURL:      "https://probe.example",
		ProbeInterval: 45 * time.Second,
		Coalesce:      true,
		AutoRefresh:   false,
		LogFile:       "/tmp/tracker.log",
	}
	out, err := want.YAML()
	if err != nil {
		t.Fatalf("YAML() error: %v", err)
	}
	for _, line := range []string{"sync:", "  coalesce: true", "  auto_refresh: false", "log:", "  file: /tmp/tracker.log"} {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("YAML output missing %q:\n%s", line, out)
		}
	}

	// The rendered settings read back as the same values.
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if *got != *want {
		t.Errorf("Load() = %+v, want %+v", *got, *want)
	}
	for _, key := range Keys() {
		if _, err := s.Get(key); err != nil {
			t.Errorf("Get(%q) error: %v", key, err)
		}
	}
	if v, _ := s.Get(KeyCoalesce); v != "true" {
		t.Errorf("Get(%s) = %q, want true", KeyCoalesce, v)
	}
}
