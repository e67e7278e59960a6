package tracing

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestToWriterExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := ToWriter(&buf, "test")
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	_, span := p.Tracer("t").Start(context.Background(), "sample.create")
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), `"sample.create"`) || !strings.Contains(buf.String(), ServiceName) {
		t.Fatalf("span not exported: %s", buf.String())
	}
}

func TestToFile(t *testing.T) {
	p, err := ToFile("", "test")
	if err != nil || p.Shutdown(context.Background()) != nil {
		t.Fatalf("empty path should disable tracing: %v", err)
	}
	path := filepath.Join(t.TempDir(), "spans.json")
	p, err = ToFile(path, "test")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, span := p.Tracer("t").Start(context.Background(), "migrate")
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(raw), `"migrate"`) {
		t.Fatalf("trace file: %v %s", err, raw)
	}
	if _, err := ToFile(filepath.Join(t.TempDir(), "missing", "x.json"), "test"); err == nil {
		t.Fatalf("expected open error")
	}
}
