package memory

import (
	"slices"
	"strings"

	"freezercore/pkg/domain"
)

// transactionView exposes a read-only snapshot of the transactional state to rules and queries.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListContainers returns all containers ordered by id.
func (v transactionView) ListContainers() []Container {
	return sortedValues(v.state.containers, cloneContainer)
}

// FindContainer looks a container up by id.
func (v transactionView) FindContainer(id int64) (Container, bool) {
	c, ok := v.state.containers[id]
	if !ok {
		return Container{}, false
	}
	return cloneContainer(c), true
}

// FindContainerByBarcode looks a container up by its unique barcode.
func (v transactionView) FindContainerByBarcode(barcode string) (Container, bool) {
	for _, c := range v.state.containers {
		if c.Barcode == barcode {
			return cloneContainer(c), true
		}
	}
	return Container{}, false
}

// ContainerChildren lists containers located directly in id.
func (v transactionView) ContainerChildren(id int64) []Container {
	var out []Container
	for _, c := range v.ListContainers() {
		if c.LocationID != nil && *c.LocationID == id {
			out = append(out, c)
		}
	}
	return out
}

// ContainerSamples lists samples placed directly in id.
func (v transactionView) ContainerSamples(id int64) []Sample {
	var out []Sample
	for _, s := range v.ListSamples() {
		if s.ContainerID == id {
			out = append(out, s)
		}
	}
	return out
}

func (v transactionView) ListSamples() []Sample {
	return sortedValues(v.state.samples, cloneSample)
}

func (v transactionView) FindSample(id int64) (Sample, bool) {
	s, ok := v.state.samples[id]
	if !ok {
		return Sample{}, false
	}
	return cloneSample(s), true
}

func (v transactionView) ListSampleKinds() []SampleKind {
	return sortedValues(v.state.sampleKinds, identity[SampleKind])
}

func (v transactionView) FindSampleKind(id int64) (SampleKind, bool) {
	k, ok := v.state.sampleKinds[id]
	return k, ok
}

func (v transactionView) FindSampleKindByName(name string) (SampleKind, bool) {
	for _, k := range v.state.sampleKinds {
		if k.Name == name {
			return k, true
		}
	}
	return SampleKind{}, false
}

// ListLineage returns every edge ordered by id.
func (v transactionView) ListLineage() []SampleLineage {
	return sortedValues(v.state.lineage, cloneLineage)
}

// ParentsOf returns the edges whose child is sampleID.
func (v transactionView) ParentsOf(sampleID int64) []SampleLineage {
	var out []SampleLineage
	for _, l := range v.ListLineage() {
		if l.ChildID == sampleID {
			out = append(out, l)
		}
	}
	return out
}

// ChildrenOf returns the edges whose parent is sampleID.
func (v transactionView) ChildrenOf(sampleID int64) []SampleLineage {
	var out []SampleLineage
	for _, l := range v.ListLineage() {
		if l.ParentID == sampleID {
			out = append(out, l)
		}
	}
	return out
}

func (v transactionView) ListIndividuals() []Individual {
	return sortedValues(v.state.individuals, cloneIndividual)
}

func (v transactionView) FindIndividual(id int64) (Individual, bool) {
	i, ok := v.state.individuals[id]
	if !ok {
		return Individual{}, false
	}
	return cloneIndividual(i), true
}

func (v transactionView) FindIndividualByName(name string) (Individual, bool) {
	for _, i := range v.state.individuals {
		if i.Name == name {
			return cloneIndividual(i), true
		}
	}
	return Individual{}, false
}

func (v transactionView) ListProtocols() []Protocol {
	return sortedValues(v.state.protocols, identity[Protocol])
}

func (v transactionView) FindProtocol(id int64) (Protocol, bool) {
	p, ok := v.state.protocols[id]
	return p, ok
}

// FindProtocolByName matches names case-insensitively.
func (v transactionView) FindProtocolByName(name string) (Protocol, bool) {
	for _, p := range v.state.protocols {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Protocol{}, false
}

func (v transactionView) FindProcess(id int64) (Process, bool) {
	p, ok := v.state.processes[id]
	return p, ok
}

func (v transactionView) ListProcessBySample() []ProcessBySample {
	return sortedValues(v.state.processBySample, cloneProcessBySample)
}

// ProcessesForSample lists the process rows that consumed sampleID.
func (v transactionView) ProcessesForSample(sampleID int64) []ProcessBySample {
	var out []ProcessBySample
	for _, p := range v.ListProcessBySample() {
		if p.SampleID == sampleID {
			out = append(out, p)
		}
	}
	return out
}

// Versions returns the audit rows for one entity, oldest first.
func (v transactionView) Versions(entity domain.EntityType, id int64) []Version {
	key := domain.ObjectKey(id)
	var out []Version
	for _, ver := range v.state.versions {
		if ver.Entity == entity && ver.ObjectID == key {
			ver.SerializedData = slices.Clone(ver.SerializedData)
			out = append(out, ver)
		}
	}
	return out
}
