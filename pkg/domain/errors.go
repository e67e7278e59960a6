package domain

import (
	"context"
	"errors"
	"fmt"

	"freezercore/pkg/catalog"
)

// Typed failures reported by the core. Every error returned by a core
// operation wraps exactly one of these, so callers match with errors.Is.
var (
	ErrInvalidCoordinate      = catalog.ErrInvalidCoordinate
	ErrUnknownKind            = catalog.ErrUnknownKind
	ErrIncompatibleKind       = errors.New("incompatible container kind")
	ErrIncompatibleSampleKind = errors.New("incompatible sample kind")
	ErrSlotOccupied           = errors.New("slot occupied")
	ErrCyclicContainment      = errors.New("cyclic containment")
	ErrCyclicLineage          = errors.New("cyclic lineage")
	ErrHasChildren            = errors.New("has children")
	ErrNegativeVolume         = errors.New("negative volume")
	ErrInvalidVolume          = errors.New("invalid volume event")
	ErrInvalidPedigree        = errors.New("invalid pedigree")
	ErrDuplicate              = errors.New("duplicate")
	ErrMigrationStepFailed    = errors.New("migration step failed")
	ErrMigrationRequired      = errors.New("schema migration required")
)

// ErrNotFound reports a missing entity.
type ErrNotFound struct {
	Entity EntityType
	ID     any
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// NotFound builds an ErrNotFound for entity and id.
func NotFound(entity EntityType, id any) error {
	return ErrNotFound{Entity: entity, ID: id}
}

// IsNotFound reports whether err wraps an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// Rule names whose blocking violations map to typed errors.
const (
	RuleSlotOccupancy      = "slot_occupancy"
	RuleContainmentAcyclic = "containment_acyclic"
	RuleLineageAcyclic     = "lineage_acyclic"
	RulePedigreeIntegrity  = "pedigree_integrity"
	RuleProcessVolume      = "process_volume"
)

var ruleErrors = map[string]error{
	RuleSlotOccupancy:      ErrSlotOccupied,
	RuleContainmentAcyclic: ErrCyclicContainment,
	RuleLineageAcyclic:     ErrCyclicLineage,
	RulePedigreeIntegrity:  ErrInvalidPedigree,
	RuleProcessVolume:      ErrNegativeVolume,
}

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidCoordinate, "invalid_coordinate"},
	{ErrUnknownKind, "unknown_kind"},
	{ErrIncompatibleKind, "incompatible_kind"},
	{ErrIncompatibleSampleKind, "incompatible_sample_kind"},
	{ErrSlotOccupied, "slot_occupied"},
	{ErrCyclicContainment, "cyclic_containment"},
	{ErrCyclicLineage, "cyclic_lineage"},
	{ErrHasChildren, "has_children"},
	{ErrNegativeVolume, "negative_volume"},
	{ErrInvalidVolume, "invalid_volume"},
	{ErrInvalidPedigree, "invalid_pedigree"},
	{ErrDuplicate, "duplicate"},
	{ErrMigrationStepFailed, "migration_step_failed"},
	{ErrMigrationRequired, "migration_required"},
	{context.Canceled, "cancelled"},
	{context.DeadlineExceeded, "cancelled"},
}

// Code returns a stable machine-readable code for err, "" for nil and
// "internal" for errors outside the typed set.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	if IsNotFound(err) {
		return "not_found"
	}
	var rv RuleViolationError
	if errors.As(err, &rv) {
		return "rule_violation"
	}
	return "internal"
}
