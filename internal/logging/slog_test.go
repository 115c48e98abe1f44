package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSlogLogger_LevelsAndAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "text")
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.With("transfer_id", "t-1").Error(ctx, "upload failed", "reason", "boom")

	out := buf.String()
	for _, want := range []string{"level=DEBUG", "msg=dbg", "a=1", "level=ERROR", "transfer_id=t-1", "reason=boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSlogLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "json")
	ctx := context.Background()

	log.Info(ctx, "hidden")
	log.Warn(ctx, "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level:\n%s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("expected json warn line, got:\n%s", out)
	}
}

func TestNop_DoesNotPanic(t *testing.T) {
	l := Nop()
	l.Info(context.TODO(), "ok")
	l.With("k", "v").Error(context.TODO(), "ok")
}
