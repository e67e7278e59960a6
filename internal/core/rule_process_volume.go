package core

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"freezercore/pkg/domain"

	"github.com/shopspring/decimal"
)

// NewProcessVolumeRule returns the rule ensuring that no process consumed more
// of a sample than the sample held at the process's execution date.
func NewProcessVolumeRule() domain.Rule {
	return processVolumeRule{}
}

type processVolumeRule struct{}

func (processVolumeRule) Name() string { return domain.RuleProcessVolume }

func (processVolumeRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	samples := touched(changes, domain.EntitySample)
	for _, ch := range changes {
		if p, ok := ch.After.(ProcessBySample); ok && ch.Entity == domain.EntityProcessBySample {
			if !slices.Contains(samples, p.SampleID) {
				samples = append(samples, p.SampleID)
			}
		}
	}

	res := domain.Result{}
	for _, id := range samples {
		sample, ok := view.FindSample(id)
		if !ok {
			continue
		}
		rows := view.ProcessesForSample(id)
		slices.SortFunc(rows, func(a, b ProcessBySample) int {
			if c := a.ExecutionDate.Compare(b.ExecutionDate); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		for i, row := range rows {
			if row.VolumeUsed == nil {
				continue
			}
			available, err := availableBefore(sample, rows[i:])
			if err != nil {
				res.Violations = append(res.Violations, blocking(domain.RuleProcessVolume, domain.EntitySample, id,
					fmt.Sprintf("sample %s volume history: %v", sample.Name, err)))
				break
			}
			if row.VolumeUsed.GreaterThan(available) {
				res.Violations = append(res.Violations, blocking(domain.RuleProcessVolume, domain.EntityProcessBySample, row.ID,
					fmt.Sprintf("process %d used %s of sample %s but only %s was available on %s",
						row.ProcessID, row.VolumeUsed, sample.Name, available, row.ExecutionDate.Format("2006-01-02"))))
			}
		}
	}
	return res, nil
}

// availableBefore folds the events dated at or before the first row's
// execution, leaving out removals linked to that row or any later one.
func availableBefore(sample Sample, rows []ProcessBySample) (decimal.Decimal, error) {
	at := rows[0].ExecutionDate
	later := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		later[r.ID] = struct{}{}
	}
	var prefix []VolumeEvent
	for _, ev := range sample.VolumeHistory {
		if ev.Date.After(at) {
			continue
		}
		if ev.ProcessBySampleID != nil {
			if _, skip := later[*ev.ProcessBySampleID]; skip {
				continue
			}
		}
		prefix = append(prefix, ev)
	}
	return domain.FoldVolume(prefix)
}
