package ui

import (
	"errors"
	"os"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func TestShouldUseColor(t *testing.T) {
	t.Setenv("CLICOLOR_FORCE", "")
	t.Setenv("NO_COLOR", "1")
	if ShouldUseColor() {
		t.Error("NO_COLOR should disable color")
	}

	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	if !ShouldUseColor() {
		t.Error("CLICOLOR_FORCE should enable color")
	}
}

func TestRenderPlainProfile(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	tests := []struct {
		name   string
		render func(string) string
	}{
		{"pass", RenderPass},
		{"warn", RenderWarn},
		{"fail", RenderFail},
		{"accent", RenderAccent},
		{"muted", RenderMuted},
	}
	for _, tt := range tests {
		if got := tt.render("✓ done"); got != "✓ done" {
			t.Errorf("%s: got %q with ascii profile", tt.name, got)
		}
	}
}

func TestConfirm(t *testing.T) {
	ok, err := Confirm("Purge?", "", true)
	if err != nil || !ok {
		t.Errorf("Confirm(assumeYes) = %v, %v", ok, err)
	}

	// go test does not attach stdin to a terminal.
	if IsTerminal(os.Stdin) {
		t.Skip("stdin is a terminal")
	}
	if _, err := Confirm("Purge?", "", false); !errors.Is(err, ErrNotInteractive) {
		t.Errorf("Confirm() without a terminal = %v, want ErrNotInteractive", err)
	}
}
