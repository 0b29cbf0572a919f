package ui

import (
	"os"
	"strings"
	"testing"
)

func TestShouldUseColor(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	for _, tc := range []struct {
		name                     string
		noColor, force, clicolor string
		want                     bool
	}{
		{"NotATerminal", "", "", "", false},
		{"Forced", "", "1", "", true},
		{"NoColorWins", "1", "1", "", false},
		{"CliColorOff", "", "", "0", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tc.noColor)
			t.Setenv("CLICOLOR_FORCE", tc.force)
			t.Setenv("CLICOLOR", tc.clicolor)
			if got := ShouldUseColor(f); got != tc.want {
				t.Errorf("ShouldUseColor = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFormatRecord(t *testing.T) {
	noColor = true
	t.Cleanup(func() { noColor = false })

	line := FormatRecord("12", "submissions", "create", "2026-03-01T10:00:00.000Z", []byte(`{"id":"s1"}`))
	for _, want := range []string{"12", "submissions", "create", "2026-03-01T10:00:00.000Z", `{"id":"s1"}`} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.Contains(FormatRecord("1", "state", "update", "", []byte(`{}`)), " - ") {
		t.Error("missing time should render as -")
	}
}

func TestForceNoColor(t *testing.T) {
	t.Cleanup(func() { noColor = false })
	if got := RenderOp("delete"); got == "delete" {
		t.Errorf("RenderOp = %q, want color codes", got)
	}
	ForceNoColor()
	if got := RenderOp("delete"); got != "delete" {
		t.Errorf("RenderOp = %q, want plain text", got)
	}
	if got := RenderAccent("x"); got != "x" {
		t.Errorf("RenderAccent = %q, want plain text", got)
	}
}
