package memory

import (
	"fmt"
	"strings"
	"time"

	"freezercore/pkg/domain"
)

// transaction represents a mutation set applied to the store state. Its
// embedded view reads the transaction's own working copy.
type transaction struct {
	transactionView
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

var _ Transaction = (*transaction)(nil)

func newTransaction(s *Store) *transaction {
	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	tx.transactionView = transactionView{state: &tx.state}
	return tx
}

func (tx *transaction) view() transactionView { return tx.transactionView }

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// nextID allocates from the entity sequence, honouring explicit ids.
func (tx *transaction) nextID(entity domain.EntityType, requested int64) int64 {
	if requested > 0 {
		if requested > tx.state.sequences[entity] {
			tx.state.sequences[entity] = requested
		}
		return requested
	}
	tx.state.sequences[entity]++
	return tx.state.sequences[entity]
}

// recordChange appends the change and its audit version row.
func (tx *transaction) recordChange(change Change) error {
	tx.changes = append(tx.changes, change)
	payload := change.After
	if change.Action == domain.ActionDelete {
		payload = change.Before
	}
	id, ok := entityID(payload)
	if !ok {
		return fmt.Errorf("record %s change: unsupported payload %T", change.Entity, payload)
	}
	data, err := domain.EncodeSnapshot(change.Entity, id, payload)
	if err != nil {
		return err
	}
	tx.state.versions = append(tx.state.versions, Version{
		ID:             tx.nextID(versionSequence, 0),
		Entity:         change.Entity,
		ObjectID:       domain.ObjectKey(id),
		Action:         change.Action,
		RecordedAt:     tx.now,
		SerializedData: data,
	})
	return nil
}

func entityID(v any) (int64, bool) {
	switch e := v.(type) {
	case Container:
		return e.ID, true
	case Sample:
		return e.ID, true
	case SampleKind:
		return e.ID, true
	case SampleLineage:
		return e.ID, true
	case Individual:
		return e.ID, true
	case Protocol:
		return e.ID, true
	case Process:
		return e.ID, true
	case ProcessBySample:
		return e.ID, true
	}
	return 0, false
}

func (tx *transaction) stamp(b *domain.Base, entity domain.EntityType) {
	b.ID = tx.nextID(entity, b.ID)
	b.CreatedAt = tx.now
	b.UpdatedAt = tx.now
}

func (tx *transaction) checkContainerRefs(c Container) error {
	if strings.TrimSpace(c.Barcode) == "" {
		return fmt.Errorf("container barcode is required")
	}
	if other, ok := tx.view().FindContainerByBarcode(c.Barcode); ok && other.ID != c.ID {
		return fmt.Errorf("container barcode %q: %w", c.Barcode, domain.ErrDuplicate)
	}
	if c.LocationID != nil {
		if _, ok := tx.state.containers[*c.LocationID]; !ok {
			return domain.NotFound(domain.EntityContainer, *c.LocationID)
		}
	}
	return nil
}

// CreateContainer stores a new container within the transaction.
func (tx *transaction) CreateContainer(c Container) (Container, error) {
	if c.ID != 0 {
		if _, exists := tx.state.containers[c.ID]; exists {
			return Container{}, fmt.Errorf("container %d: %w", c.ID, domain.ErrDuplicate)
		}
	}
	if err := tx.checkContainerRefs(c); err != nil {
		return Container{}, err
	}
	tx.stamp(&c.Base, domain.EntityContainer)
	tx.state.containers[c.ID] = cloneContainer(c)
	if err := tx.recordChange(Change{Entity: domain.EntityContainer, Action: domain.ActionCreate, After: cloneContainer(c)}); err != nil {
		return Container{}, err
	}
	return cloneContainer(c), nil
}

// UpdateContainer mutates a container using the provided mutator function.
func (tx *transaction) UpdateContainer(id int64, mutator func(*Container) error) (Container, error) {
	current, ok := tx.state.containers[id]
	if !ok {
		return Container{}, domain.NotFound(domain.EntityContainer, id)
	}
	before := cloneContainer(current)
	current = cloneContainer(current)
	if err := mutator(&current); err != nil {
		return Container{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	if err := tx.checkContainerRefs(current); err != nil {
		return Container{}, err
	}
	tx.state.containers[id] = cloneContainer(current)
	if err := tx.recordChange(Change{Entity: domain.EntityContainer, Action: domain.ActionUpdate, Before: before, After: cloneContainer(current)}); err != nil {
		return Container{}, err
	}
	return cloneContainer(current), nil
}

// DeleteContainer removes an empty container from the transaction state.
func (tx *transaction) DeleteContainer(id int64) error {
	current, ok := tx.state.containers[id]
	if !ok {
		return domain.NotFound(domain.EntityContainer, id)
	}
	if n := len(tx.view().ContainerChildren(id)); n > 0 {
		return fmt.Errorf("container %d holds %d containers: %w", id, n, domain.ErrHasChildren)
	}
	if n := len(tx.view().ContainerSamples(id)); n > 0 {
		return fmt.Errorf("container %d holds %d samples: %w", id, n, domain.ErrHasChildren)
	}
	delete(tx.state.containers, id)
	return tx.recordChange(Change{Entity: domain.EntityContainer, Action: domain.ActionDelete, Before: cloneContainer(current)})
}

// CreateSampleKind registers a sample kind row.
func (tx *transaction) CreateSampleKind(k SampleKind) (SampleKind, error) {
	if strings.TrimSpace(k.Name) == "" {
		return SampleKind{}, fmt.Errorf("sample kind name is required")
	}
	if _, exists := tx.view().FindSampleKindByName(k.Name); exists {
		return SampleKind{}, fmt.Errorf("sample kind %q: %w", k.Name, domain.ErrDuplicate)
	}
	if _, exists := tx.state.sampleKinds[k.ID]; k.ID != 0 && exists {
		return SampleKind{}, fmt.Errorf("sample kind %d: %w", k.ID, domain.ErrDuplicate)
	}
	tx.stamp(&k.Base, domain.EntitySampleKind)
	tx.state.sampleKinds[k.ID] = k
	if err := tx.recordChange(Change{Entity: domain.EntitySampleKind, Action: domain.ActionCreate, After: k}); err != nil {
		return SampleKind{}, err
	}
	return k, nil
}

func (tx *transaction) checkSampleRefs(s *Sample) error {
	if _, ok := tx.state.containers[s.ContainerID]; !ok {
		return domain.NotFound(domain.EntityContainer, s.ContainerID)
	}
	if _, ok := tx.state.sampleKinds[s.SampleKindID]; !ok {
		return domain.NotFound(domain.EntitySampleKind, s.SampleKindID)
	}
	if s.IndividualID != nil {
		if _, ok := tx.state.individuals[*s.IndividualID]; !ok {
			return domain.NotFound(domain.EntityIndividual, *s.IndividualID)
		}
	}
	return s.RefreshDepleted()
}

// CreateSample stores a new sample within the transaction.
func (tx *transaction) CreateSample(s Sample) (Sample, error) {
	if s.ID != 0 {
		if _, exists := tx.state.samples[s.ID]; exists {
			return Sample{}, fmt.Errorf("sample %d: %w", s.ID, domain.ErrDuplicate)
		}
	}
	if err := tx.checkSampleRefs(&s); err != nil {
		return Sample{}, err
	}
	tx.stamp(&s.Base, domain.EntitySample)
	tx.state.samples[s.ID] = cloneSample(s)
	if err := tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionCreate, After: cloneSample(s)}); err != nil {
		return Sample{}, err
	}
	return cloneSample(s), nil
}

// UpdateSample mutates a sample using the provided mutator function.
func (tx *transaction) UpdateSample(id int64, mutator func(*Sample) error) (Sample, error) {
	current, ok := tx.state.samples[id]
	if !ok {
		return Sample{}, domain.NotFound(domain.EntitySample, id)
	}
	before := cloneSample(current)
	current = cloneSample(current)
	if err := mutator(&current); err != nil {
		return Sample{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	if err := tx.checkSampleRefs(&current); err != nil {
		return Sample{}, err
	}
	tx.state.samples[id] = cloneSample(current)
	if err := tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionUpdate, Before: before, After: cloneSample(current)}); err != nil {
		return Sample{}, err
	}
	return cloneSample(current), nil
}

// DeleteSample removes a sample that has no lineage children and was never
// consumed by a process. Edges to its parents go with it.
func (tx *transaction) DeleteSample(id int64) error {
	current, ok := tx.state.samples[id]
	if !ok {
		return domain.NotFound(domain.EntitySample, id)
	}
	if n := len(tx.view().ChildrenOf(id)); n > 0 {
		return fmt.Errorf("sample %d has %d derived samples: %w", id, n, domain.ErrHasChildren)
	}
	if n := len(tx.view().ProcessesForSample(id)); n > 0 {
		return fmt.Errorf("sample %d was used by %d processes: %w", id, n, domain.ErrHasChildren)
	}
	for _, edge := range tx.view().ParentsOf(id) {
		delete(tx.state.lineage, edge.ID)
		if err := tx.recordChange(Change{Entity: domain.EntitySampleLineage, Action: domain.ActionDelete, Before: edge}); err != nil {
			return err
		}
	}
	delete(tx.state.samples, id)
	return tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionDelete, Before: cloneSample(current)})
}

// CreateLineage stores a derivation edge. Cycle detection beyond self edges is
// the caller's concern.
func (tx *transaction) CreateLineage(l SampleLineage) (SampleLineage, error) {
	if l.ParentID == l.ChildID {
		return SampleLineage{}, fmt.Errorf("sample %d cannot derive from itself: %w", l.ChildID, domain.ErrCyclicLineage)
	}
	if _, ok := tx.state.samples[l.ParentID]; !ok {
		return SampleLineage{}, domain.NotFound(domain.EntitySample, l.ParentID)
	}
	if _, ok := tx.state.samples[l.ChildID]; !ok {
		return SampleLineage{}, domain.NotFound(domain.EntitySample, l.ChildID)
	}
	for _, existing := range tx.state.lineage {
		if existing.ParentID == l.ParentID && existing.ChildID == l.ChildID {
			return SampleLineage{}, fmt.Errorf("lineage %d -> %d: %w", l.ParentID, l.ChildID, domain.ErrDuplicate)
		}
	}
	if l.ProcessBySampleID != nil {
		if _, ok := tx.state.processBySample[*l.ProcessBySampleID]; !ok {
			return SampleLineage{}, domain.NotFound(domain.EntityProcessBySample, *l.ProcessBySampleID)
		}
	}
	tx.stamp(&l.Base, domain.EntitySampleLineage)
	tx.state.lineage[l.ID] = cloneLineage(l)
	if err := tx.recordChange(Change{Entity: domain.EntitySampleLineage, Action: domain.ActionCreate, After: cloneLineage(l)}); err != nil {
		return SampleLineage{}, err
	}
	return cloneLineage(l), nil
}

func (tx *transaction) checkIndividualRefs(i Individual) error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("individual name is required")
	}
	if other, ok := tx.view().FindIndividualByName(i.Name); ok && other.ID != i.ID {
		return fmt.Errorf("individual %q: %w", i.Name, domain.ErrDuplicate)
	}
	for _, parent := range []*int64{i.MotherID, i.FatherID} {
		if parent == nil {
			continue
		}
		if _, ok := tx.state.individuals[*parent]; !ok {
			return domain.NotFound(domain.EntityIndividual, *parent)
		}
	}
	return nil
}

// CreateIndividual stores a new individual.
func (tx *transaction) CreateIndividual(i Individual) (Individual, error) {
	if i.ID != 0 {
		if _, exists := tx.state.individuals[i.ID]; exists {
			return Individual{}, fmt.Errorf("individual %d: %w", i.ID, domain.ErrDuplicate)
		}
	}
	if err := tx.checkIndividualRefs(i); err != nil {
		return Individual{}, err
	}
	tx.stamp(&i.Base, domain.EntityIndividual)
	tx.state.individuals[i.ID] = cloneIndividual(i)
	if err := tx.recordChange(Change{Entity: domain.EntityIndividual, Action: domain.ActionCreate, After: cloneIndividual(i)}); err != nil {
		return Individual{}, err
	}
	return cloneIndividual(i), nil
}

// UpdateIndividual mutates an individual using the provided mutator function.
func (tx *transaction) UpdateIndividual(id int64, mutator func(*Individual) error) (Individual, error) {
	current, ok := tx.state.individuals[id]
	if !ok {
		return Individual{}, domain.NotFound(domain.EntityIndividual, id)
	}
	before := cloneIndividual(current)
	current = cloneIndividual(current)
	if err := mutator(&current); err != nil {
		return Individual{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	if err := tx.checkIndividualRefs(current); err != nil {
		return Individual{}, err
	}
	tx.state.individuals[id] = cloneIndividual(current)
	if err := tx.recordChange(Change{Entity: domain.EntityIndividual, Action: domain.ActionUpdate, Before: before, After: cloneIndividual(current)}); err != nil {
		return Individual{}, err
	}
	return cloneIndividual(current), nil
}

// CreateProtocol stores a protocol with a unique name.
func (tx *transaction) CreateProtocol(p Protocol) (Protocol, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Protocol{}, fmt.Errorf("protocol name is required")
	}
	if _, exists := tx.view().FindProtocolByName(p.Name); exists {
		return Protocol{}, fmt.Errorf("protocol %q: %w", p.Name, domain.ErrDuplicate)
	}
	tx.stamp(&p.Base, domain.EntityProtocol)
	tx.state.protocols[p.ID] = p
	if err := tx.recordChange(Change{Entity: domain.EntityProtocol, Action: domain.ActionCreate, After: p}); err != nil {
		return Protocol{}, err
	}
	return p, nil
}

// CreateProcess stores one execution of a protocol.
func (tx *transaction) CreateProcess(p Process) (Process, error) {
	if _, ok := tx.state.protocols[p.ProtocolID]; !ok {
		return Process{}, domain.NotFound(domain.EntityProtocol, p.ProtocolID)
	}
	tx.stamp(&p.Base, domain.EntityProcess)
	tx.state.processes[p.ID] = p
	if err := tx.recordChange(Change{Entity: domain.EntityProcess, Action: domain.ActionCreate, After: p}); err != nil {
		return Process{}, err
	}
	return p, nil
}

// CreateProcessBySample links a process to a consumed sample.
func (tx *transaction) CreateProcessBySample(p ProcessBySample) (ProcessBySample, error) {
	if _, ok := tx.state.processes[p.ProcessID]; !ok {
		return ProcessBySample{}, domain.NotFound(domain.EntityProcess, p.ProcessID)
	}
	if _, ok := tx.state.samples[p.SampleID]; !ok {
		return ProcessBySample{}, domain.NotFound(domain.EntitySample, p.SampleID)
	}
	if p.VolumeUsed != nil && p.VolumeUsed.IsNegative() {
		return ProcessBySample{}, fmt.Errorf("volume used %s: %w", p.VolumeUsed, domain.ErrInvalidVolume)
	}
	if p.ExecutionDate.IsZero() {
		p.ExecutionDate = tx.now
	}
	tx.stamp(&p.Base, domain.EntityProcessBySample)
	tx.state.processBySample[p.ID] = cloneProcessBySample(p)
	if err := tx.recordChange(Change{Entity: domain.EntityProcessBySample, Action: domain.ActionCreate, After: cloneProcessBySample(p)}); err != nil {
		return ProcessBySample{}, err
	}
	return cloneProcessBySample(p), nil
}
