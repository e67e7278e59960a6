// Package memory provides an in-memory implementation of the core persistence
// store used for tests, ephemeral environments and as the working set of the
// durable sqlite and postgres stores.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"freezercore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Container aliases domain.Container for in-memory persistence operations.
	Container = domain.Container
	// Sample aliases domain.Sample.
	Sample = domain.Sample
	// SampleKind aliases domain.SampleKind.
	SampleKind = domain.SampleKind
	// SampleLineage aliases domain.SampleLineage.
	SampleLineage = domain.SampleLineage
	// Individual aliases domain.Individual.
	Individual = domain.Individual
	// Protocol aliases domain.Protocol.
	Protocol = domain.Protocol
	// Process aliases domain.Process.
	Process = domain.Process
	// ProcessBySample aliases domain.ProcessBySample.
	ProcessBySample = domain.ProcessBySample
	// Version aliases domain.Version, one audit log row.
	Version = domain.Version
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// versionSequence keys the audit log id counter inside Sequences.
const versionSequence domain.EntityType = "version"

type memoryState struct {
	containers      map[int64]Container
	samples         map[int64]Sample
	sampleKinds     map[int64]SampleKind
	lineage         map[int64]SampleLineage
	individuals     map[int64]Individual
	protocols       map[int64]Protocol
	processes       map[int64]Process
	processBySample map[int64]ProcessBySample
	sequences       map[domain.EntityType]int64
	versions        []Version
	schemaVersion   int
}

// Snapshot captures a point-in-time clone of the store state. Bucket names
// match the persisted table names used by the migration engine.
type Snapshot struct {
	Containers      map[int64]Container         `json:"container"`
	Samples         map[int64]Sample            `json:"sample"`
	SampleKinds     map[int64]SampleKind        `json:"sample_kind"`
	Lineage         map[int64]SampleLineage     `json:"sample_lineage"`
	Individuals     map[int64]Individual        `json:"individual"`
	Protocols       map[int64]Protocol          `json:"protocol"`
	Processes       map[int64]Process           `json:"process"`
	ProcessBySample map[int64]ProcessBySample   `json:"process_by_sample"`
	Sequences       map[domain.EntityType]int64 `json:"sequences"`
	Versions        []Version                   `json:"-"`
	SchemaVersion   int                         `json:"schema_version"`
}

func newMemoryState() memoryState {
	return memoryState{
		containers:      make(map[int64]Container),
		samples:         make(map[int64]Sample),
		sampleKinds:     make(map[int64]SampleKind),
		lineage:         make(map[int64]SampleLineage),
		individuals:     make(map[int64]Individual),
		protocols:       make(map[int64]Protocol),
		processes:       make(map[int64]Process),
		processBySample: make(map[int64]ProcessBySample),
		sequences:       make(map[domain.EntityType]int64),
		schemaVersion:   domain.CurrentSchemaVersion,
	}
}

func cloneMap[V any](in map[int64]V, cloneFn func(V) V) map[int64]V {
	out := make(map[int64]V, len(in))
	for k, v := range in {
		out[k] = cloneFn(v)
	}
	return out
}

func identity[V any](v V) V { return v }

func (s memoryState) clone() memoryState {
	return memoryState{
		containers:      cloneMap(s.containers, cloneContainer),
		samples:         cloneMap(s.samples, cloneSample),
		sampleKinds:     cloneMap(s.sampleKinds, identity[SampleKind]),
		lineage:         cloneMap(s.lineage, cloneLineage),
		individuals:     cloneMap(s.individuals, cloneIndividual),
		protocols:       cloneMap(s.protocols, identity[Protocol]),
		processes:       cloneMap(s.processes, identity[Process]),
		processBySample: cloneMap(s.processBySample, cloneProcessBySample),
		sequences:       maps.Clone(s.sequences),
		// appends inside a transaction must never write into the committed backing array
		versions:      s.versions[:len(s.versions):len(s.versions)],
		schemaVersion: s.schemaVersion,
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Containers:      c.containers,
		Samples:         c.samples,
		SampleKinds:     c.sampleKinds,
		Lineage:         c.lineage,
		Individuals:     c.individuals,
		Protocols:       c.protocols,
		Processes:       c.processes,
		ProcessBySample: c.processBySample,
		Sequences:       c.sequences,
		Versions:        slices.Clone(c.versions),
		SchemaVersion:   c.schemaVersion,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Containers {
		state.containers[k] = cloneContainer(v)
	}
	for k, v := range s.Samples {
		state.samples[k] = cloneSample(v)
	}
	maps.Copy(state.sampleKinds, s.SampleKinds)
	for k, v := range s.Lineage {
		state.lineage[k] = cloneLineage(v)
	}
	for k, v := range s.Individuals {
		state.individuals[k] = cloneIndividual(v)
	}
	maps.Copy(state.protocols, s.Protocols)
	maps.Copy(state.processes, s.Processes)
	for k, v := range s.ProcessBySample {
		state.processBySample[k] = cloneProcessBySample(v)
	}
	maps.Copy(state.sequences, s.Sequences)
	state.versions = slices.Clone(s.Versions)
	if s.SchemaVersion != 0 {
		state.schemaVersion = s.SchemaVersion
	}
	normalizeSequences(&state)
	return state
}

// normalizeSequences raises every sequence to at least the largest id in use
// so snapshots written without sequences still allocate fresh ids.
func normalizeSequences(state *memoryState) {
	raise := func(entity domain.EntityType, id int64) {
		if id > state.sequences[entity] {
			state.sequences[entity] = id
		}
	}
	for id := range state.containers {
		raise(domain.EntityContainer, id)
	}
	for id := range state.samples {
		raise(domain.EntitySample, id)
	}
	for id := range state.sampleKinds {
		raise(domain.EntitySampleKind, id)
	}
	for id := range state.lineage {
		raise(domain.EntitySampleLineage, id)
	}
	for id := range state.individuals {
		raise(domain.EntityIndividual, id)
	}
	for id := range state.protocols {
		raise(domain.EntityProtocol, id)
	}
	for id := range state.processes {
		raise(domain.EntityProcess, id)
	}
	for id := range state.processBySample {
		raise(domain.EntityProcessBySample, id)
	}
	for _, v := range state.versions {
		raise(versionSequence, v.ID)
	}
}

func cloneInt64Ptr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneContainer(c Container) Container {
	c.LocationID = cloneInt64Ptr(c.LocationID)
	return c
}

func cloneSample(s Sample) Sample {
	s.IndividualID = cloneInt64Ptr(s.IndividualID)
	if s.VolumeHistory != nil {
		history := make([]domain.VolumeEvent, len(s.VolumeHistory))
		for i, e := range s.VolumeHistory {
			e.ProcessBySampleID = cloneInt64Ptr(e.ProcessBySampleID)
			history[i] = e
		}
		s.VolumeHistory = history
	}
	if s.Concentration != nil {
		v := *s.Concentration
		s.Concentration = &v
	}
	s.ExperimentalGroup = slices.Clone(s.ExperimentalGroup)
	return s
}

func cloneLineage(l SampleLineage) SampleLineage {
	l.ProcessBySampleID = cloneInt64Ptr(l.ProcessBySampleID)
	return l
}

func cloneIndividual(i Individual) Individual {
	i.MotherID = cloneInt64Ptr(i.MotherID)
	i.FatherID = cloneInt64Ptr(i.FatherID)
	return i
}

func cloneProcessBySample(p ProcessBySample) ProcessBySample {
	if p.VolumeUsed != nil {
		v := *p.VolumeUsed
		p.VolumeUsed = &v
	}
	return p
}

// CommitHook is invoked with the post-transaction state and the version rows
// appended by that transaction, while the store lock is held and before the
// new state becomes visible. A non-nil error rolls the transaction back.
type CommitHook func(ctx context.Context, state Snapshot, appended []Version) error

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	hook   CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc replaces the time provider; used by tests that need stable timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// SetCommitHook installs the hook durable backends use to write through.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// SchemaVersion reports the layout version of the held state.
func (s *Store) SchemaVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.schemaVersion
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The mutex serialises writers, so checks performed inside fn cannot be
// invalidated by a concurrent commit before this one lands.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	committed := len(s.state.versions)
	tx := newTransaction(s)

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if s.hook != nil && len(tx.changes) > 0 {
		appended := slices.Clone(tx.state.versions[committed:])
		if err := s.hook(ctx, snapshotFromMemoryState(tx.state), appended); err != nil {
			return Result{}, fmt.Errorf("persist transaction: %w", err)
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// GetContainer returns a committed container.
func (s *Store) GetContainer(id int64) (Container, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.containers[id]
	return cloneContainer(c), ok
}

// GetSample returns a committed sample.
func (s *Store) GetSample(id int64) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.samples[id]
	return cloneSample(v), ok
}

// ListContainers returns committed containers ordered by id.
func (s *Store) ListContainers() []Container {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.containers, cloneContainer)
}

// ListSamples returns committed samples ordered by id.
func (s *Store) ListSamples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.samples, cloneSample)
}

// Versions returns the committed audit log, oldest first.
func (s *Store) Versions() []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.versions)
}

func sortedValues[V any](m map[int64]V, cloneFn func(V) V) []V {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]V, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneFn(m[id]))
	}
	return out
}
