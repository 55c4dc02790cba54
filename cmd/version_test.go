package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")

	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "parley version 1.2.3") {
		t.Errorf("version output = %q, want it to contain %q", out, "parley version 1.2.3")
	}
}

func TestGetVersion(t *testing.T) {
	SetVersion("9.9.9")
	if got := GetVersion(); got != "9.9.9" {
		t.Errorf("GetVersion() = %q, want %q", got, "9.9.9")
	}
}
