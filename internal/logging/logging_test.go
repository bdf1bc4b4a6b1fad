package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/swrcache/config"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "chatty"}); err == nil {
		t.Fatalf("expected level error")
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "probe.log")
	l, err := New(config.LogConfig{Level: "debug", FilePath: path, MaxSize: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level=%v", l.GetLevel())
	}
	l.WithField("key", "swr:/devices").Info("cache hit")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(b, &line); err != nil {
		t.Fatalf("not a JSON line: %q: %v", b, err)
	}
	if line["msg"] != "cache hit" || line["key"] != "swr:/devices" {
		t.Fatalf("line=%v", line)
	}
}
