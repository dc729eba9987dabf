package klog

import (
	"bytes"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestParseLevel(t *testing.T) {
	specs := []struct {
		input    string
		expLevel log.Level
		expOK    bool
	}{
		{"TRACE", log.TraceLevel, true},
		{"debug", log.DebugLevel, true},
		{"INFO", log.InfoLevel, true},
		{"WARN", log.WarnLevel, true},
		{"ERROR", log.ErrorLevel, true},
		{"", log.InfoLevel, false},
		{"chatty", log.InfoLevel, false},
	}

	for specIndex, spec := range specs {
		level, ok := ParseLevel(spec.input)
		if level != spec.expLevel || ok != spec.expOK {
			t.Errorf("[spec %d] expected (%v, %t); got (%v, %t)", specIndex, spec.expLevel, spec.expOK, level, ok)
		}
	}
}

func TestInit(t *testing.T) {
	defer log.SetOutput(log.StandardLogger().Out)

	var buf bytes.Buffer
	Init("WARN", &buf)

	log.Info("hidden")
	log.WithField("pid", 3).Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected info message to be filtered; got %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "pid=3") {
		t.Errorf("expected warning with fields; got %q", out)
	}

	buf.Reset()
	Init("bogus", &buf)
	if log.GetLevel() != log.InfoLevel {
		t.Errorf("expected fallback to info level; got %v", log.GetLevel())
	}
	if !strings.Contains(buf.String(), "level=bogus") {
		t.Errorf("expected a warning about the unknown level; got %q", buf.String())
	}
}
