package core

import (
	"context"
	"fmt"
	"time"

	"freezercore/internal/infra/persistence/memory"
	"freezercore/pkg/catalog"
	"freezercore/pkg/domain"
)

// Logger is the structured logging surface the service writes to. Arguments
// after the message are alternating keys and values.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// TraceSpan is ended exactly once with the operation's error.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopSpan) End(error) {}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

// AuditStatus is the outcome recorded for an audited operation.
type AuditStatus string

// Audit outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one service call for operator-facing audit sinks. The
// per-entity version log is kept by the store; this records who-did-what at
// the operation level.
type AuditEntry struct {
	Operation string
	Entity    EntityType
	Action    Action
	EntityID  int64
	Status    AuditStatus
	Error     string
	Code      string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

// Clock supplies the current time for defaulted dates.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type serviceOptions struct {
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	clock   Clock
}

// Option customises a Service.
type Option func(*serviceOptions)

// WithLogger routes service logs to logger.
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder installs an operation metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder installs an audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithClock overrides the clock used for defaulted event and execution dates.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Service exposes the transactional placement, volume, lineage and process
// operations. All validation happens inside the transaction before any write,
// so a failed call leaves no partial state behind.
type Service struct {
	store   PersistentStore
	catalog *catalog.Catalog
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	clock   Clock
}

// NewService constructs a service backed by the supplied store and catalog.
// A nil catalog selects the built-in one.
func NewService(store PersistentStore, cat *catalog.Catalog, opts ...Option) *Service {
	if cat == nil {
		cat = catalog.Default()
	}
	o := serviceOptions{
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		audit:   noopAudit{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		store:   store,
		catalog: cat,
		logger:  o.logger,
		metrics: o.metrics,
		tracer:  o.tracer,
		audit:   o.audit,
		clock:   o.clock,
	}
}

// NewInMemoryService creates a service over a fresh in-memory store with the default rules.
func NewInMemoryService(cat *catalog.Catalog, opts ...Option) *Service {
	if cat == nil {
		cat = catalog.Default()
	}
	return NewService(memory.NewStore(NewDefaultRulesEngine(cat)), cat, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Catalog returns the injected catalog.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

func (s *Service) now() time.Time { return s.clock.Now().UTC() }

type operation struct {
	name   string
	entity EntityType
	action Action
}

// run executes fn in a store transaction and reports the outcome to the
// tracer, metrics, audit and logger sinks. fn returns the id of the entity it
// acted on for audit purposes.
func (s *Service) run(ctx context.Context, op operation, fn func(tx Transaction) (int64, error)) (Result, error) {
	if s.store == nil {
		return Result{}, fmt.Errorf("%s: service has no store", op.name)
	}
	ctx, span := s.tracer.Start(ctx, op.name)
	started := time.Now()
	var entityID int64
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		id, err := fn(tx)
		entityID = id
		return err
	})
	elapsed := time.Since(started)
	s.metrics.Observe(ctx, op.name, err == nil, elapsed)
	span.End(err)
	entry := AuditEntry{
		Operation: op.name,
		Entity:    op.entity,
		Action:    op.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  elapsed,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		entry.Code = domain.Code(err)
		s.logger.Warn("operation failed", "op", op.name, "entity", op.entity, "id", entityID, "code", entry.Code, "error", err)
	} else {
		s.logger.Debug("operation committed", "op", op.name, "entity", op.entity, "id", entityID, "duration", elapsed)
	}
	for _, v := range res.Violations {
		if v.Severity != domain.SeverityBlock {
			s.logger.Info("rule violation", "rule", v.Rule, "severity", v.Severity, "entity", v.Entity, "id", v.EntityID, "message", v.Message)
		}
	}
	s.audit.Record(ctx, entry)
	return res, err
}

// view runs fn against a consistent read-only snapshot.
func (s *Service) view(ctx context.Context, fn func(TransactionView) error) error {
	if s.store == nil {
		return fmt.Errorf("service has no store")
	}
	return s.store.View(ctx, fn)
}
