package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"freezercore/pkg/domain"

	"github.com/shopspring/decimal"
)

// ProtocolExtraction names the protocol Extract runs under.
const ProtocolExtraction = "Extraction"

// ProcessInput is one consumed sample of a process run.
type ProcessInput struct {
	SampleID   int64
	VolumeUsed *decimal.Decimal
	Comment    string
}

// ProcessOutput is one sample produced by a process run.
type ProcessOutput struct {
	SampleKind string
	Sample     Sample
}

// ProcessRequest describes a protocol execution. Every output derives from
// every input, so extraction, pooling and aliquoting are all expressed here.
type ProcessRequest struct {
	Protocol      string
	Comment       string
	ExecutionDate time.Time
	Inputs        []ProcessInput
	Outputs       []ProcessOutput
}

// ProcessOutcome lists what a process run wrote.
type ProcessOutcome struct {
	Process  Process
	Consumed []ProcessBySample
	Created  []Sample
	Edges    []SampleLineage
}

var errNoProcessInputs = errors.New("process has no input samples")

// RunProcess executes req in one transaction: it records the process and its
// per-input rows, removes the used volume from each input, creates the
// outputs and links every output to every input.
func (s *Service) RunProcess(ctx context.Context, req ProcessRequest) (ProcessOutcome, Result, error) {
	var out ProcessOutcome
	op := operation{name: "process.run", entity: EntityProcess, action: domain.ActionCreate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		var err error
		out, err = s.runProcess(tx, req)
		return out.Process.ID, err
	})
	return out, res, err
}

func (s *Service) runProcess(tx Transaction, req ProcessRequest) (ProcessOutcome, error) {
	if len(req.Inputs) == 0 {
		return ProcessOutcome{}, errNoProcessInputs
	}
	name := strings.TrimSpace(req.Protocol)
	if name == "" {
		return ProcessOutcome{}, fmt.Errorf("process protocol is required")
	}
	when := req.ExecutionDate
	if when.IsZero() {
		when = s.now()
	}
	protocol, ok := tx.FindProtocolByName(name)
	if !ok {
		var err error
		if protocol, err = tx.CreateProtocol(Protocol{Name: name}); err != nil {
			return ProcessOutcome{}, err
		}
	}
	process, err := tx.CreateProcess(Process{ProtocolID: protocol.ID, Comment: req.Comment})
	if err != nil {
		return ProcessOutcome{}, err
	}
	out := ProcessOutcome{Process: process}

	seen := make(map[int64]struct{}, len(req.Inputs))
	for _, in := range req.Inputs {
		if _, dup := seen[in.SampleID]; dup {
			return ProcessOutcome{}, fmt.Errorf("sample %d listed twice as process input: %w", in.SampleID, domain.ErrDuplicate)
		}
		seen[in.SampleID] = struct{}{}
		row, err := tx.CreateProcessBySample(ProcessBySample{
			ProcessID:     process.ID,
			SampleID:      in.SampleID,
			ExecutionDate: when,
			VolumeUsed:    in.VolumeUsed,
			Comment:       in.Comment,
		})
		if err != nil {
			return ProcessOutcome{}, err
		}
		if in.VolumeUsed != nil && in.VolumeUsed.IsPositive() {
			ev := domain.RemoveVolume(when, *in.VolumeUsed)
			ev.ProcessBySampleID = &row.ID
			if _, err := tx.UpdateSample(in.SampleID, func(smp *Sample) error {
				return smp.AppendVolume(ev)
			}); err != nil {
				return ProcessOutcome{}, fmt.Errorf("consume sample %d: %w", in.SampleID, err)
			}
		}
		out.Consumed = append(out.Consumed, row)
	}

	for _, o := range req.Outputs {
		created, err := s.createSample(tx, o.SampleKind, o.Sample)
		if err != nil {
			return ProcessOutcome{}, fmt.Errorf("output %q: %w", o.Sample.Name, err)
		}
		out.Created = append(out.Created, created)
		for _, row := range out.Consumed {
			edge, err := addEdge(tx, SampleLineage{ParentID: row.SampleID, ChildID: created.ID, ProcessBySampleID: &row.ID})
			if err != nil {
				return ProcessOutcome{}, err
			}
			out.Edges = append(out.Edges, edge)
		}
	}
	return out, nil
}

// Extract derives a molecule sample (DNA or RNA) from a biological parent
// sample, consuming volumeUsed of it.
func (s *Service) Extract(ctx context.Context, parentID int64, volumeUsed decimal.Decimal, child Sample, childKind string) (ProcessOutcome, Result, error) {
	kind, err := s.catalog.SampleKind(childKind)
	if err != nil {
		return ProcessOutcome{}, Result{}, err
	}
	if kind.MoleculeOntologyCURIE == "" {
		return ProcessOutcome{}, Result{}, fmt.Errorf("extraction yields molecules, %s is not one: %w", childKind, domain.ErrIncompatibleSampleKind)
	}
	var out ProcessOutcome
	op := operation{name: "process.extract", entity: EntityProcess, action: domain.ActionCreate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		parent, ok := tx.FindSample(parentID)
		if !ok {
			return 0, domain.NotFound(EntitySample, parentID)
		}
		if pk, ok := tx.FindSampleKind(parent.SampleKindID); ok && pk.MoleculeOntologyCURIE != "" {
			return 0, fmt.Errorf("cannot extract from %s sample %s: %w", pk.Name, parent.Name, domain.ErrIncompatibleSampleKind)
		}
		if child.IndividualID == nil {
			child.IndividualID = cloneID(parent.IndividualID)
		}
		used := volumeUsed
		var err error
		out, err = s.runProcess(tx, ProcessRequest{
			Protocol: ProtocolExtraction,
			Inputs:   []ProcessInput{{SampleID: parentID, VolumeUsed: &used}},
			Outputs:  []ProcessOutput{{SampleKind: childKind, Sample: child}},
		})
		return out.Process.ID, err
	})
	return out, res, err
}
