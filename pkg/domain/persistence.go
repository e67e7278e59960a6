package domain

import "context"

// TransactionView provides read-only access to snapshot data for rules and queries.
type TransactionView interface {
	ListContainers() []Container
	FindContainer(id int64) (Container, bool)
	FindContainerByBarcode(barcode string) (Container, bool)
	ContainerChildren(id int64) []Container
	ContainerSamples(id int64) []Sample

	ListSamples() []Sample
	FindSample(id int64) (Sample, bool)
	ListSampleKinds() []SampleKind
	FindSampleKind(id int64) (SampleKind, bool)
	FindSampleKindByName(name string) (SampleKind, bool)

	ListLineage() []SampleLineage
	ParentsOf(sampleID int64) []SampleLineage
	ChildrenOf(sampleID int64) []SampleLineage

	ListIndividuals() []Individual
	FindIndividual(id int64) (Individual, bool)
	FindIndividualByName(name string) (Individual, bool)

	ListProtocols() []Protocol
	FindProtocol(id int64) (Protocol, bool)
	FindProtocolByName(name string) (Protocol, bool)
	FindProcess(id int64) (Process, bool)
	ListProcessBySample() []ProcessBySample
	ProcessesForSample(sampleID int64) []ProcessBySample

	Versions(entity EntityType, id int64) []Version
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Reads through the embedded view observe
// the transaction's own writes.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView

	CreateContainer(Container) (Container, error)
	UpdateContainer(id int64, mutator func(*Container) error) (Container, error)
	DeleteContainer(id int64) error

	CreateSampleKind(SampleKind) (SampleKind, error)
	CreateSample(Sample) (Sample, error)
	UpdateSample(id int64, mutator func(*Sample) error) (Sample, error)
	DeleteSample(id int64) error

	CreateLineage(SampleLineage) (SampleLineage, error)

	CreateIndividual(Individual) (Individual, error)
	UpdateIndividual(id int64, mutator func(*Individual) error) (Individual, error)

	CreateProtocol(Protocol) (Protocol, error)
	CreateProcess(Process) (Process, error)
	CreateProcessBySample(ProcessBySample) (ProcessBySample, error)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetContainer(id int64) (Container, bool)
	GetSample(id int64) (Sample, bool)
	ListContainers() []Container
	ListSamples() []Sample
}
