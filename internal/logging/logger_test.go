package logging

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"smsrelay/internal/observability"
	"smsrelay/internal/utils/id"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.add(format, args...) }
func (r *recordingLogger) Info(format string, args ...any)  { r.add(format, args...) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.add(format, args...) }
func (r *recordingLogger) Error(format string, args ...any) { r.add(format, args...) }

func (r *recordingLogger) add(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestOrNopHandlesTypedNilPointers(t *testing.T) {
	var rec *recordingLogger
	var logger Logger = rec
	if !IsNil(logger) {
		t.Fatalf("expected typed nil pointer to be detected")
	}
	safe := OrNop(logger)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("hello %s", "world")
}

func TestFromObservabilityFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	base := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text", Output: buf})

	logger := FromObservabilityWithComponent(base, "relay")
	logger.Info("hello %s", "world")

	if want := "hello world"; !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Fatalf("expected %q in output, got %q", want, buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("component=relay")) {
		t.Fatalf("expected component field, got %q", buf.String())
	}
}

func TestFromContextTagsLogID(t *testing.T) {
	rec := &recordingLogger{}
	ctx := id.WithLogID(context.Background(), "log-123")
	FromContext(ctx, rec).Warn("sent %d", 1)
	if len(rec.lines) != 1 || rec.lines[0] != "logid=log-123 sent 1" {
		t.Fatalf("unexpected lines: %v", rec.lines)
	}

	buf := &bytes.Buffer{}
	structured := FromObservabilityWithComponent(observability.NewLogger(observability.LogConfig{Output: buf}), "")
	FromContext(ctx, structured).Info("ok")
	if !bytes.Contains(buf.Bytes(), []byte("log_id=log-123")) {
		t.Fatalf("expected structured log id, got %q", buf.String())
	}
}
