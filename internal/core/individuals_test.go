package core

import (
	"context"
	"errors"
	"testing"

	"freezercore/pkg/domain"
)

func TestIndividualPedigree(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	mother, _, err := svc.CreateIndividual(ctx, Individual{Name: "dam", Taxon: domain.TaxonMusMusculus, Sex: domain.SexFemale})
	if err != nil {
		t.Fatalf("mother: %v", err)
	}
	father, _, err := svc.CreateIndividual(ctx, Individual{Name: "sire", Taxon: domain.TaxonMusMusculus, Sex: domain.SexMale})
	if err != nil {
		t.Fatalf("father: %v", err)
	}
	human, _, err := svc.CreateIndividual(ctx, Individual{Name: " donor ", Taxon: domain.TaxonHomoSapiens})
	if err != nil {
		t.Fatalf("human: %v", err)
	}
	if human.Name != "donor" || human.Sex != domain.SexUnknown {
		t.Fatalf("individual not normalized: %+v", human)
	}

	pup, _, err := svc.CreateIndividual(ctx, Individual{Name: "pup", Taxon: domain.TaxonMusMusculus, MotherID: id(mother.ID), FatherID: id(father.ID)})
	if err != nil {
		t.Fatalf("pup: %v", err)
	}

	bad := []Individual{
		{Name: "same parents", Taxon: domain.TaxonMusMusculus, MotherID: id(mother.ID), FatherID: id(mother.ID)},
		{Name: "cross taxon", Taxon: domain.TaxonMusMusculus, MotherID: id(human.ID)},
		{Name: "odd sex", Taxon: domain.TaxonMusMusculus, Sex: "X"},
	}
	for _, ind := range bad {
		if _, _, err := svc.CreateIndividual(ctx, ind); !errors.Is(err, domain.ErrInvalidPedigree) {
			t.Fatalf("%s: expected invalid pedigree, got %v", ind.Name, err)
		}
	}

	_, _, err = svc.UpdateIndividual(ctx, mother.ID, func(ind *Individual) error {
		ind.MotherID = id(pup.ID)
		return nil
	})
	if !errors.Is(err, domain.ErrInvalidPedigree) {
		t.Fatalf("an individual cannot descend from itself, got %v", err)
	}
	updated, _, err := svc.UpdateIndividual(ctx, pup.ID, func(ind *Individual) error {
		ind.Cohort = "2024-A"
		return nil
	})
	if err != nil || updated.Cohort != "2024-A" || updated.ID != pup.ID {
		t.Fatalf("update: %+v %v", updated, err)
	}
}

func TestCreateProtocolTrimsName(t *testing.T) {
	svc := newTestService(t)
	p, _, err := svc.CreateProtocol(context.Background(), "  Aliquoting ")
	if err != nil || p.Name != "Aliquoting" {
		t.Fatalf("unexpected protocol %+v %v", p, err)
	}
	if _, _, err := svc.CreateProtocol(context.Background(), "Aliquoting"); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("expected duplicate protocol, got %v", err)
	}
}
