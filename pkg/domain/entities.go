// Package domain defines the persistent laboratory entities (containers,
// samples, lineage edges, individuals, processes), their typed errors, the
// audit version record and the rule evaluation primitives used by freezercore.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records, version rows and persistence buckets.
const (
	// EntityContainer identifies a physical container (room, freezer, rack, box, plate, tube).
	EntityContainer EntityType = "container"
	// EntitySample identifies a biological sample record.
	EntitySample EntityType = "sample"
	// EntitySampleKind identifies a sample kind row mirrored from the catalog.
	EntitySampleKind EntityType = "sample_kind"
	// EntitySampleLineage identifies a parent -> child derivation edge.
	EntitySampleLineage EntityType = "sample_lineage"
	// EntityIndividual identifies the organism a sample was collected from.
	EntityIndividual EntityType = "individual"
	// EntityProtocol identifies a named procedure.
	EntityProtocol EntityType = "protocol"
	// EntityProcess identifies one execution of a protocol.
	EntityProcess         EntityType = "process"
	EntityProcessBySample EntityType = "process_by_sample"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Container is a physical receptacle. A container without LocationID is a root.
type Container struct {
	Base
	Barcode     string `json:"barcode"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	LocationID  *int64 `json:"location"`
	Coordinates string `json:"coordinates"`
	Comment     string `json:"comment"`
}

// SampleKind mirrors a catalog sample kind so samples can reference it by key.
type SampleKind struct {
	Base
	Name                  string `json:"name"`
	MoleculeOntologyCURIE string `json:"molecule_ontology_curie,omitempty"`
}

// Sample is biological material placed in a container slot. Its volume is the
// fold of VolumeHistory; Depleted is derived and never set directly.
type Sample struct {
	Base
	Name              string           `json:"name"`
	Alias             string           `json:"alias"`
	SampleKindID      int64            `json:"sample_kind"`
	IndividualID      *int64           `json:"individual"`
	ContainerID       int64            `json:"container"`
	Coordinates       string           `json:"coordinates"`
	VolumeHistory     []VolumeEvent    `json:"volume_history"`
	Concentration     *decimal.Decimal `json:"concentration"`
	Depleted          bool             `json:"depleted"`
	ExperimentalGroup []string         `json:"experimental_group"`
	CollectionSite    string           `json:"collection_site"`
	TissueSource      string           `json:"tissue_source"`
	Phenotype         string           `json:"phenotype"`
	ReceptionDate     time.Time        `json:"reception_date"`
	Comment           string           `json:"comment"`
}

// SampleLineage is a directed derivation edge between two samples.
type SampleLineage struct {
	Base
	ParentID          int64  `json:"parent"`
	ChildID           int64  `json:"child"`
	ProcessBySampleID *int64 `json:"process_by_sample"`
}

// Sex enumerates the values accepted for Individual.Sex.
type Sex string

// Accepted sexes.
const (
	SexMale    Sex = "M"
	SexFemale  Sex = "F"
	SexUnknown Sex = "Unknown"
)

// Common taxa.
const (
	TaxonHomoSapiens = "Homo sapiens"
	TaxonMusMusculus = "Mus musculus"
	TaxonSarsCoV2    = "Sars-Cov-2"
)

// Individual is the organism samples are collected from.
type Individual struct {
	Base
	Name     string `json:"name"`
	Taxon    string `json:"taxon"`
	Sex      Sex    `json:"sex"`
	Pedigree string `json:"pedigree"`
	Cohort   string `json:"cohort"`
	MotherID *int64 `json:"mother"`
	FatherID *int64 `json:"father"`
}

// Protocol names a laboratory procedure.
type Protocol struct {
	Base
	Name string `json:"name"`
}

// Process is one execution of a protocol.
type Process struct {
	Base
	ProtocolID int64  `json:"protocol"`
	Comment    string `json:"comment"`
}

// ProcessBySample links a process to a sample it consumed.
type ProcessBySample struct {
	Base
	ProcessID     int64            `json:"process"`
	SampleID      int64            `json:"source_sample"`
	ExecutionDate time.Time        `json:"execution_date"`
	VolumeUsed    *decimal.Decimal `json:"volume_used"`
	Comment       string           `json:"comment"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Rule + ": " + v.Message
		}
	}
	return "transaction blocked by rules"
}

// Unwrap exposes the typed error of the first blocking violation whose rule
// maps to one, so callers can match rule failures with errors.Is.
func (e RuleViolationError) Unwrap() error {
	for _, v := range e.Result.Violations {
		if v.Severity != SeverityBlock {
			continue
		}
		if err, ok := ruleErrors[v.Rule]; ok {
			return err
		}
	}
	return nil
}
