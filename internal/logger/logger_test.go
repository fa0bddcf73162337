package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDefaultLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "test.log")

	l, err := NewDefaultLogger(&Config{
		LogFilePath: logPath,
		MaxFileSize: 1024,
		MaxBackups:  3,
		Level:       LevelDebug,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("Log file was not created")
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelWarn)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("entries below WARN should be filtered: %s", out)
	}
	if !strings.Contains(out, "[WARN] warn message") {
		t.Errorf("missing warn entry: %s", out)
	}
	if !strings.Contains(out, "[ERROR] error message error=boom") {
		t.Errorf("missing error entry: %s", out)
	}

	buf.Reset()
	l.SetLevel(LevelDebug)
	l.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("SetLevel did not lower the threshold")
	}
}

func TestFieldFormatting(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelDebug)

	l.Info("region laid out",
		String("text", "HELLO WORLD"),
		Int("size", 24),
		Float64("ratio", 0.5),
		Bool("overflow", false),
		Duration("took", 1500*time.Millisecond),
		Any("meta", map[string]interface{}{"b": 2, "a": 1}),
	)

	out := buf.String()
	for _, want := range []string{
		`text="HELLO WORLD"`, "size=24", "ratio=0.5", "overflow=false", "took=1.5s", "meta={a:1,b:2}",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestWithCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriterLogger(&buf, LevelInfo)
	page := base.With(String("page", "p001"))
	region := page.With(Int("region", 3))

	region.Warn("geometry skipped")
	base.Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "page=p001 region=3") {
		t.Errorf("scoped fields missing: %s", lines[0])
	}
	if strings.Contains(lines[1], "page=") {
		t.Errorf("parent logger must not inherit child fields: %s", lines[1])
	}
}

func TestLogRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")
	l, err := NewDefaultLogger(&Config{
		LogFilePath: logPath,
		MaxFileSize: 200,
		MaxBackups:  2,
		Level:       LevelInfo,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := 0; i < 30; i++ {
		l.Info("rotating entry with some padding text", Int("i", i))
	}

	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("expected first backup: %v", err)
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Errorf("backups beyond MaxBackups should not exist")
	}
}

func TestErrorStackTraceToggle(t *testing.T) {
	dir := t.TempDir()
	for _, stacks := range []bool{true, false} {
		path := filepath.Join(dir, "stack.log")
		os.Remove(path)
		l, err := NewDefaultLogger(&Config{LogFilePath: path, MaxFileSize: 1 << 20, Level: LevelDebug, StackTraces: stacks})
		if err != nil {
			t.Fatal(err)
		}
		l.Error("failed", errors.New("x"))
		l.Close()

		data, _ := os.ReadFile(path)
		if got := strings.Contains(string(data), "Stack trace:"); got != stacks {
			t.Errorf("StackTraces=%v but stack present=%v", stacks, got)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	Close()
	defer Close()

	Info("dropped before init")

	var buf bytes.Buffer
	SetGlobalLogger(NewWriterLogger(&buf, LevelDebug))
	Info("global info", String("k", "v"))
	With(String("job", "j1")).Warn("scoped")

	out := buf.String()
	if !strings.Contains(out, "global info k=v") {
		t.Errorf("missing global entry: %s", out)
	}
	if !strings.Contains(out, "scoped job=j1") {
		t.Errorf("missing scoped entry: %s", out)
	}
	if strings.Contains(out, "dropped before init") {
		t.Error("entries before init should be discarded")
	}
}

func TestNoopLogger(t *testing.T) {
	var l Logger = noopLogger{}
	l.Debug("x")
	l.Error("x", errors.New("y"))
	if l.With(String("a", "b")) == nil {
		t.Error("With on noop logger returned nil")
	}
	if err := l.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelString(t *testing.T) {
	if LevelDebug.String() != "DEBUG" || LevelError.String() != "ERROR" || Level(99).String() != "UNKNOWN" {
		t.Error("unexpected level names")
	}
}

func TestErrFieldWithNil(t *testing.T) {
	f := Err(nil)
	if f.Key != "error" || f.Value != nil {
		t.Errorf("unexpected field %+v", f)
	}
}
