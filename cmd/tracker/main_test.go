package main

import (
	"path/filepath"
	"testing"

	"github.com/cdlta/tracker/internal/config"
)

func TestCommandsGrouped(t *testing.T) {
	groups := make(map[string]bool)
	for _, g := range rootCmd.Groups() {
		groups[g.ID] = true
	}
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			continue
		}
		if cmd.GroupID == "" {
			t.Errorf("command %q has no group", cmd.Name())
			continue
		}
		if !groups[cmd.GroupID] {
			t.Errorf("command %q uses unknown group %q", cmd.Name(), cmd.GroupID)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"record", "queue", "students", "sync", "refresh", "status", "daemon", "config", "shell", "devremote", "loadtest"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestServerAnnotation(t *testing.T) {
	for _, args := range [][]string{{"daemon"}, {"shell", "serve"}, {"devremote"}} {
		cmd, _, err := rootCmd.Find(args)
		if err != nil {
			t.Fatalf("Find(%v) failed: %v", args, err)
		}
		if _, ok := cmd.Annotations[annotationServer]; !ok {
			t.Errorf("%v should be annotated as a server command", args)
		}
	}
}

func TestHomeAndConfigPath(t *testing.T) {
	dir := t.TempDir()
	flags.Set("home", dir)
	t.Cleanup(func() {
		flags.Set("home", "")
		flags.Set("config", "")
	})

	home, err := homeDir()
	if err != nil {
		t.Fatalf("homeDir failed: %v", err)
	}
	if home != dir {
		t.Errorf("homeDir = %q, want %q", home, dir)
	}

	path, err := configPath()
	if err != nil {
		t.Fatalf("configPath failed: %v", err)
	}
	if want := filepath.Join(dir, config.FileName); path != want {
		t.Errorf("configPath = %q, want %q", path, want)
	}

	custom := filepath.Join(dir, "elsewhere.yaml")
	flags.Set("config", custom)
	path, err = configPath()
	if err != nil {
		t.Fatalf("configPath failed: %v", err)
	}
	if path != custom {
		t.Errorf("configPath = %q, want %q", path, custom)
	}
}
