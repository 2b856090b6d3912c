package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tis24dev/pgsave/internal/types"
)

func TestNew(t *testing.T) {
	logger := New(types.LogLevelInfo, true)

	if logger.level != types.LogLevelInfo {
		t.Errorf("Expected level %v, got %v", types.LogLevelInfo, logger.level)
	}

	if !logger.useColor {
		t.Error("Expected useColor to be true")
	}

	if logger.output == nil {
		t.Error("Expected output to be set")
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelWarning, false)
	logger.SetOutput(&buf)

	// These should not appear (below warning level)
	logger.Debug("debug message")
	logger.Info("info message")

	// These should appear
	logger.Warning("warning message")
	logger.Error("error message")

	output := buf.String()

	if strings.Contains(output, "debug message") {
		t.Error("Debug message should not appear when level is WARNING")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should not appear when level is WARNING")
	}
	if !strings.Contains(output, "warning message") {
		t.Error("Warning message should appear when level is WARNING")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should appear when level is WARNING")
	}
}

func TestWarningAndErrorCounters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelDebug, false)
	logger.SetOutput(&buf)

	logger.Warning("w1")
	logger.Warning("w2")
	logger.Error("e1")
	logger.Critical("c1")

	if got := logger.WarningCount(); got != 2 {
		t.Errorf("Expected 2 warnings, got %d", got)
	}
	if got := logger.ErrorCount(); got != 2 {
		t.Errorf("Expected 2 errors (error+critical), got %d", got)
	}
	if !logger.HasErrors() {
		t.Error("Expected HasErrors to be true")
	}
}

func TestOpenLogFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "stanza.log")

	var buf bytes.Buffer
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&buf)

	if err := logger.OpenLogFile(logPath); err != nil {
		t.Fatalf("OpenLogFile failed: %v", err)
	}
	logger.Info("file sink message")
	if err := logger.CloseLogFile(); err != nil {
		t.Fatalf("CloseLogFile failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "file sink message") {
		t.Error("Log file should contain the logged message")
	}
	if logger.GetLogFilePath() != "" {
		t.Error("Expected empty log file path after close")
	}
}

func TestFatalUsesExitFunc(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&buf)

	exitCode := -1
	logger.SetExitFunc(func(code int) { exitCode = code })

	logger.Fatal(types.ExitConfigError, "bad config")

	if exitCode != types.ExitConfigError.Int() {
		t.Errorf("Expected exit code %d, got %d", types.ExitConfigError.Int(), exitCode)
	}
	if !strings.Contains(buf.String(), "bad config") {
		t.Error("Fatal should log the message before exiting")
	}
}

func TestSessionBannerAndOutcome(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelDebug, false)
	logger.SetOutput(&buf)

	s := StartSession(logger, "backup", "main")
	if s.RunID() == "" {
		t.Fatal("Expected a non-empty run ID")
	}
	s.End(nil)

	out := buf.String()
	if !strings.Contains(out, "backup started (stanza=main)") {
		t.Errorf("Expected session banner, got: %q", out)
	}
	if !strings.Contains(out, "backup completed") {
		t.Errorf("Expected completion line, got: %q", out)
	}

	buf.Reset()
	s = StartSession(logger, "expire", "main")
	s.End(errors.New("boom"))
	if !strings.Contains(buf.String(), "expire failed") {
		t.Errorf("Expected failure line, got: %q", buf.String())
	}
}
