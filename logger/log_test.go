package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelLogger(t *testing.T) {
	b := &bytes.Buffer{}
	printer := &TextPrinter{Writer: b, Colors: false}
	l := NewConsoleLogger(printer, func(int) {})
	l.SetLevel(INFO)

	l.Debug("Debug %q", "peers")
	l.Info("Info %q", "peers")
	l.Warn("Warn %q", "peers")
	l.Error("Error %q", "peers")

	lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")

	if len(lines) != 3 {
		t.Fatalf("bad number of lines, got %d: %q", len(lines), lines)
	}

	if !strings.HasSuffix(lines[0], `Info "peers"`) {
		t.Fatalf("line 0 bad, got %q", lines[0])
	}

	if !strings.HasSuffix(lines[1], `Warn "peers"`) {
		t.Fatalf("line 1 bad, got %q", lines[1])
	}

	if !strings.HasSuffix(lines[2], `Error "peers"`) {
		t.Fatalf("line 2 bad, got %q", lines[2])
	}
}

func TestWithFields(t *testing.T) {
	b := &bytes.Buffer{}
	printer := &TextPrinter{Writer: b, Colors: false}
	l := NewConsoleLogger(printer, func(int) {})

	l.WithFields(StringField("task_id", "17"), IntField("sent", 3)).Notice("probing")

	line := strings.TrimRight(b.String(), "\n")
	if !strings.Contains(line, "task_id=17") || !strings.Contains(line, "sent=3") {
		t.Fatalf("expected fields in output, got %q", line)
	}
}
