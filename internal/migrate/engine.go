// Package migrate upgrades persisted freezercore state between schema
// versions. Each step rewrites live rows and every historical snapshot in the
// version log, runs against a private copy of the state and is committed
// through the backend in a single transaction, so a failed step leaves the
// previous version untouched and can simply be re-run.
package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"freezercore/internal/blob"
	"freezercore/pkg/catalog"
	"freezercore/pkg/domain"
)

// LatestVersion is the schema version the built-in steps migrate to.
const LatestVersion = domain.CurrentSchemaVersion

// ArchivePrefix is the blob key prefix pre-migration snapshots are written under.
const ArchivePrefix = "migrations/"

// Backend loads and atomically replaces persisted state.
type Backend interface {
	LoadState(ctx context.Context) (State, error)
	ReplaceState(ctx context.Context, st State) error
}

// Env carries what steps may depend on besides the state itself.
type Env struct {
	Catalog *catalog.Catalog
	Now     time.Time
	Logger  Logger
}

func (e Env) logger() Logger {
	if e.Logger == nil {
		return nopLogger{}
	}
	return e.Logger
}

// Step upgrades state from Version-1 to Version.
type Step struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, st *State, env Env) error
}

// Logger is the subset of the platform logger the engine writes to.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

// Report summarises a run.
type Report struct {
	From    int
	To      int
	Applied []string
	Archive string
	DryRun  bool
}

// Engine applies pending steps in strict version order.
type Engine struct {
	backend Backend
	steps   []Step
	catalog *catalog.Catalog
	archive blob.Store
	logger  Logger
	metrics *Metrics
	now     func() time.Time
	dryRun  bool
}

// Option customises an Engine.
type Option func(*Engine)

// WithSteps replaces the built-in steps.
func WithSteps(steps ...Step) Option {
	return func(e *Engine) { e.steps = slices.Clone(steps) }
}

// WithCatalog sets the catalog steps resolve sample kinds against.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(e *Engine) {
		if cat != nil {
			e.catalog = cat
		}
	}
}

// WithArchive archives the pre-migration state into store before the first step runs.
func WithArchive(store blob.Store) Option {
	return func(e *Engine) { e.archive = store }
}

// WithLogger routes engine logs to logger.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records step outcomes.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source used for archive keys and synthesized rows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDryRun applies steps to a copy without committing anything.
func WithDryRun(dry bool) Option {
	return func(e *Engine) { e.dryRun = dry }
}

// NewEngine constructs an engine over backend using the built-in steps.
func NewEngine(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: backend,
		steps:   DefaultSteps(),
		catalog: catalog.Default(),
		logger:  nopLogger{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Latest is the version the configured steps end at.
func (e *Engine) Latest() int {
	if len(e.steps) == 0 {
		return 0
	}
	return e.steps[len(e.steps)-1].Version
}

func (e *Engine) checkSteps() error {
	for i, s := range e.steps {
		if s.Version != i+1 {
			return fmt.Errorf("migration step %q has version %d, expected %d", s.Name, s.Version, i+1)
		}
		if s.Apply == nil {
			return fmt.Errorf("migration step %q has no body", s.Name)
		}
	}
	return nil
}

// Pending lists the steps that would run against the backend's current state.
func (e *Engine) Pending(ctx context.Context) ([]Step, int, error) {
	if err := e.checkSteps(); err != nil {
		return nil, 0, err
	}
	st, err := e.backend.LoadState(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load state: %w", err)
	}
	return e.pendingFor(st.Version), st.Version, nil
}

func (e *Engine) pendingFor(version int) []Step {
	var out []Step
	for _, s := range e.steps {
		if s.Version > version {
			out = append(out, s)
		}
	}
	return out
}

// Run applies every pending step. Each committed step is durable on its own;
// a failure stops the run with ErrMigrationStepFailed and the backend keeps
// the last successfully committed version.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	if err := e.checkSteps(); err != nil {
		return Report{}, err
	}
	st, err := e.backend.LoadState(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load state: %w", err)
	}
	report := Report{From: st.Version, To: st.Version, DryRun: e.dryRun}
	if st.Version > e.Latest() {
		return report, fmt.Errorf("state is at schema version %d, this build knows up to %d", st.Version, e.Latest())
	}
	pending := e.pendingFor(st.Version)
	if len(pending) == 0 {
		e.logger.Info("schema up to date", "version", st.Version)
		return report, nil
	}
	now := e.now()
	if e.archive != nil && !e.dryRun {
		key, err := e.archiveState(ctx, st, pending[len(pending)-1].Version, now)
		if err != nil {
			return report, err
		}
		report.Archive = key
	}
	env := Env{Catalog: e.catalog, Now: now, Logger: e.logger}
	for _, step := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		started := time.Now()
		working := st.Clone()
		if err := step.Apply(ctx, &working, env); err != nil {
			e.observe(step, false, time.Since(started))
			e.logger.Warn("migration step failed", "step", step.Name, "version", step.Version, "error", err)
			return report, fmt.Errorf("step %d (%s): %w: %w", step.Version, step.Name, domain.ErrMigrationStepFailed, err)
		}
		working.Version = step.Version
		if !e.dryRun {
			if err := e.backend.ReplaceState(ctx, working); err != nil {
				e.observe(step, false, time.Since(started))
				return report, fmt.Errorf("step %d (%s) commit: %w: %w", step.Version, step.Name, domain.ErrMigrationStepFailed, err)
			}
		}
		e.observe(step, true, time.Since(started))
		e.logger.Info("migration step applied", "step", step.Name, "version", step.Version, "dry_run", e.dryRun)
		st = working
		report.To = step.Version
		report.Applied = append(report.Applied, step.Name)
	}
	return report, nil
}

func (e *Engine) observe(step Step, ok bool, d time.Duration) {
	if e.metrics != nil {
		e.metrics.observe(step.Name, ok, d)
	}
}

// archiveState writes the untouched state as JSON. A failure aborts the run
// before any step changes anything.
func (e *Engine) archiveState(ctx context.Context, st State, to int, now time.Time) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return "", fmt.Errorf("encode archive: %w", err)
	}
	key := fmt.Sprintf("%s%d-%d-%s.json", ArchivePrefix, st.Version, to, now.Format("20060102T150405Z"))
	if _, err := e.archive.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"from-version": fmt.Sprint(st.Version),
			"to-version":   fmt.Sprint(to),
		},
	}); err != nil {
		return "", fmt.Errorf("archive pre-migration state: %w", err)
	}
	e.logger.Info("pre-migration state archived", "key", key)
	return key, nil
}

// DefaultSteps returns the built-in steps in version order.
func DefaultSteps() []Step {
	return []Step{
		ContainerIntegerIDs(),
		SampleKindForeignKey(),
		SampleLineageEdges(),
	}
}

// LoadArchive decodes an archived state, for restoring after a bad run.
func LoadArchive(ctx context.Context, store blob.Store, key string) (State, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return State{}, fmt.Errorf("open archive %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	dec := json.NewDecoder(rc)
	dec.UseNumber()
	var st State
	if err := dec.Decode(&st); err != nil {
		return State{}, fmt.Errorf("decode archive %s: %w", key, err)
	}
	return st, nil
}
