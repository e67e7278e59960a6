package core

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"freezercore/pkg/domain"
)

// JSONTraceEntry represents a serialized trace span emitted by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	Code       string    `json:"code,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes spans as JSON lines and retains them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
	now     func() time.Time
}

// NewJSONTracer constructs a tracer writing to w. A nil w only retains spans.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{now: func() time.Time { return time.Now().UTC() }}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: t.now()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
	once      sync.Once
}

func (s *jsonTraceSpan) End(err error) {
	s.once.Do(func() { s.tracer.emit(s, err) })
}

func (t *JSONTraceTracer) emit(s *jsonTraceSpan, err error) {
	ended := t.now()
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Status:     string(AuditStatusSuccess),
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	if err != nil {
		entry.Status = string(AuditStatusError)
		entry.Error = err.Error()
		entry.Code = domain.Code(err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if t.enc != nil {
		_ = t.enc.Encode(entry)
	}
}

// JSONAuditRecorder writes audit entries as JSON lines.
type JSONAuditRecorder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONAuditRecorder returns a recorder writing to w.
func NewJSONAuditRecorder(w io.Writer) *JSONAuditRecorder {
	return &JSONAuditRecorder{enc: json.NewEncoder(w)}
}

type auditLine struct {
	Operation  string      `json:"operation"`
	Entity     EntityType  `json:"entity"`
	Action     Action      `json:"action"`
	EntityID   int64       `json:"entity_id,omitempty"`
	Status     AuditStatus `json:"status"`
	Code       string      `json:"code,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMS float64     `json:"duration_ms"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Record implements AuditRecorder.
func (r *JSONAuditRecorder) Record(_ context.Context, e AuditEntry) {
	line := auditLine{
		Operation:  e.Operation,
		Entity:     e.Entity,
		Action:     e.Action,
		EntityID:   e.EntityID,
		Status:     e.Status,
		Code:       e.Code,
		Error:      e.Error,
		DurationMS: float64(e.Duration) / float64(time.Millisecond),
		Timestamp:  e.Timestamp,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(line)
}
