package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(Config{Level: "warn", Output: buf})

	l.Info("should not appear")
	l.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("expected info to be suppressed at warn level, got: %s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("expected warn message in output, got: %s", out)
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(Config{Level: "debug", Format: "json", Output: buf}).With("test")

	l.Error("boom %d", 42)

	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) || !strings.Contains(out, `"component":"test"`) {
		t.Fatalf("expected json fields in output, got: %s", out)
	}
}

func TestWithNestsComponentNames(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(Config{Level: "debug", Output: buf}).With("outer").With("inner")

	l.Info("hello")

	if !strings.Contains(buf.String(), "[outer.inner]") {
		t.Fatalf("expected nested component name, got: %s", buf.String())
	}
}

func TestIsNilDetectsTypedNilPointer(t *testing.T) {
	var l *logger
	var asInterface Logger = l
	if !IsNil(asInterface) {
		t.Fatalf("expected typed nil *logger to be detected as nil")
	}
	if IsNil(Nop) {
		t.Fatalf("Nop must never be reported as nil")
	}
}

func TestOrNopReturnsUsableLoggerForNil(t *testing.T) {
	safe := OrNop(nil)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("must not panic")
}
