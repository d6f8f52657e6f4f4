package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInit_FileSinkJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tacmap.log")
	l := Init(Options{Level: "debug", Format: "json", File: path, MaxSizeMB: 1, Quiet: true})
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %v", l.GetLevel())
	}
	For("test").WithField("cells", 3).Info("fog flushed")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"component":"test"`) || !strings.Contains(line, `"cells":3`) {
		t.Fatalf("expected structured fields in %q", line)
	}
}

func TestInit_BadLevelFallsBack(t *testing.T) {
	l := Init(Options{Level: "shouting", Quiet: true})
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %v", l.GetLevel())
	}
}
