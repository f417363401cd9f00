package main

import (
	"bytes"
	"strings"
	"testing"
)

func runWithArgs(args []string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, out, _ := runWithArgs([]string{"tabremote"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage output, got %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"tabremote", "nope"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Unknown command") {
		t.Fatalf("expected unknown command output, got %q", out)
	}
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runWithArgs([]string{"tabremote", "version"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "tabremote") {
		t.Fatalf("expected version output, got %q", out)
	}
}

func TestRunTokenMissingSubcommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"tabremote", "token"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Usage: tabremote token") {
		t.Fatalf("expected token usage, got %q", out)
	}
}

func TestRunSessionMissingSubcommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"tabremote", "session"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Usage: tabremote session") {
		t.Fatalf("expected session usage, got %q", out)
	}
}

func TestStartHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runStart([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: tabremote start") {
		t.Fatalf("expected start usage, got %q", stderr.String())
	}
}

func TestStartInvalidFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runStart([]string{"--no-such-flag"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected error output for invalid flag")
	}
}

func TestTokenRevokeMissingID(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runTokenRevoke(nil, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: tabremote token revoke") {
		t.Fatalf("expected revoke usage, got %q", stderr.String())
	}
}

func TestSessionLogMissingID(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runSessionLog(nil, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: tabremote session log") {
		t.Fatalf("expected session log usage, got %q", stderr.String())
	}
}
