package core

import (
	"context"
	"fmt"
	"strings"

	"freezercore/pkg/domain"
)

// CreateIndividual registers the organism samples may be collected from.
func (s *Service) CreateIndividual(ctx context.Context, ind Individual) (Individual, Result, error) {
	var created Individual
	op := operation{name: "individual.create", entity: EntityIndividual, action: domain.ActionCreate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		if err := normalizeIndividual(&ind); err != nil {
			return 0, err
		}
		if err := checkPedigree(tx, ind); err != nil {
			return 0, err
		}
		var err error
		created, err = tx.CreateIndividual(ind)
		return created.ID, err
	})
	return created, res, err
}

// UpdateIndividual applies mutator and re-validates the pedigree.
func (s *Service) UpdateIndividual(ctx context.Context, id int64, mutator func(*Individual) error) (Individual, Result, error) {
	var updated Individual
	op := operation{name: "individual.update", entity: EntityIndividual, action: domain.ActionUpdate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		var err error
		updated, err = tx.UpdateIndividual(id, func(ind *Individual) error {
			if err := mutator(ind); err != nil {
				return err
			}
			ind.ID = id
			if err := normalizeIndividual(ind); err != nil {
				return err
			}
			return checkPedigree(tx, *ind)
		})
		return id, err
	})
	return updated, res, err
}

// CreateProtocol registers a named procedure.
func (s *Service) CreateProtocol(ctx context.Context, name string) (Protocol, Result, error) {
	var created Protocol
	op := operation{name: "protocol.create", entity: EntityProtocol, action: domain.ActionCreate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		var err error
		created, err = tx.CreateProtocol(Protocol{Name: strings.TrimSpace(name)})
		return created.ID, err
	})
	return created, res, err
}

func normalizeIndividual(ind *Individual) error {
	ind.Name = strings.TrimSpace(ind.Name)
	switch ind.Sex {
	case "":
		ind.Sex = domain.SexUnknown
	case domain.SexMale, domain.SexFemale, domain.SexUnknown:
	default:
		return fmt.Errorf("individual %s: unknown sex %q: %w", ind.Name, ind.Sex, domain.ErrInvalidPedigree)
	}
	return nil
}

// checkPedigree fails fast with ErrInvalidPedigree using the same checks as
// the pedigree_integrity rule.
func checkPedigree(view TransactionView, ind Individual) error {
	problems := pedigreeProblems(view, ind)
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidPedigree, strings.Join(problems, "; "))
}
