package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/swrcache"
)

func TestLogrusLogger(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Info("loaded", swrcache.Fields{"loaded": 3})
	l.Error("gen bump error", swrcache.Fields{"key": "k", "err": errors.New("redis down")})

	if len(hook.Entries) != 2 {
		t.Fatalf("entries=%d", len(hook.Entries))
	}
	first := hook.Entries[0]
	if first.Level != logrus.InfoLevel || first.Data["loaded"] != 3 || first.Data["component"] != "swrcache" {
		t.Fatalf("first=%+v", first.Data)
	}
	last := hook.LastEntry()
	if last.Level != logrus.ErrorLevel || last.Message != "gen bump error" {
		t.Fatalf("last=%+v", last)
	}
	if err, ok := last.Data[logrus.ErrorKey].(error); !ok || err.Error() != "redis down" {
		t.Fatalf("error field=%v", last.Data)
	}
	if last.Data["key"] != "k" {
		t.Fatalf("key field=%v", last.Data)
	}
}

func TestLogrusLevelFiltering(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.WarnLevel)
	l := New(base)

	l.Debug("noise", nil)
	l.Info("noise", nil)
	l.Warn("kept", nil)
	if len(hook.Entries) != 1 || hook.LastEntry().Message != "kept" {
		t.Fatalf("entries=%+v", hook.Entries)
	}
}
