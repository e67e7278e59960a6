package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"freezercore/internal/core"
	"freezercore/pkg/domain"

	"github.com/shopspring/decimal"
)

// DateLayout is the accepted spelling of date columns.
const DateLayout = "2006-01-02"

// rowHandler is a Handler assembled from its required columns, an optional
// parse check and the write itself.
type rowHandler struct {
	required []string
	check    func(Row) error
	apply    func(ctx context.Context, svc *core.Service, row Row) (int64, error)
}

func (h rowHandler) Validate(row Row) error {
	var missing []string
	for _, col := range h.required {
		if row.Get(col) == "" {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRow, strings.Join(missing, ", "))
	}
	if h.check != nil {
		return h.check(row)
	}
	return nil
}

func (h rowHandler) Apply(ctx context.Context, svc *core.Service, row Row) (int64, error) {
	return h.apply(ctx, svc, row)
}

// DefaultHandlers returns the built-in handler for every row kind.
func DefaultHandlers() map[Kind]Handler {
	return map[Kind]Handler{
		KindContainer: rowHandler{
			required: []string{"barcode", "kind"},
			apply:    applyContainer,
		},
		KindContainerMove: rowHandler{
			required: []string{"barcode"},
			apply:    applyContainerMove,
		},
		KindIndividual: rowHandler{
			required: []string{"name", "taxon"},
			apply:    applyIndividual,
		},
		KindSample: rowHandler{
			required: []string{"name", "kind", "container", "volume"},
			check: func(r Row) error {
				return firstErr(
					checkDecimal(r, "volume", false),
					checkDecimal(r, "concentration", true),
					checkDate(r, "reception_date"),
				)
			},
			apply: applySample,
		},
		KindSampleUpdate: rowHandler{
			required: []string{"container"},
			check:    checkSampleUpdate,
			apply:    applySampleUpdate,
		},
		KindExtraction: rowHandler{
			required: []string{"source_container", "kind", "volume_used", "container", "volume"},
			check: func(r Row) error {
				return firstErr(checkDecimal(r, "volume_used", false), checkDecimal(r, "volume", false))
			},
			apply: applyExtraction,
		},
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func parseDecimal(r Row, col string) (decimal.Decimal, bool, error) {
	raw := r.Get(col)
	if raw == "" {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("%w: %s %q is not a number", ErrInvalidRow, col, raw)
	}
	return d, true, nil
}

// checkDecimal rejects unparsable and negative values. An optional column may be empty.
func checkDecimal(r Row, col string, optional bool) error {
	d, ok, err := parseDecimal(r, col)
	if err != nil {
		return err
	}
	if !ok {
		if optional {
			return nil
		}
		return fmt.Errorf("%w: missing %s", ErrInvalidRow, col)
	}
	if d.IsNegative() {
		return fmt.Errorf("%w: %s %s is negative", ErrInvalidRow, col, d)
	}
	return nil
}

func parseDate(r Row, col string) (time.Time, error) {
	raw := r.Get(col)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q is not a %s date", ErrInvalidRow, col, raw, DateLayout)
	}
	return t.UTC(), nil
}

func checkDate(r Row, col string) error {
	_, err := parseDate(r, col)
	return err
}

func resolveContainer(ctx context.Context, svc *core.Service, barcode string) (*int64, error) {
	if barcode == "" {
		return nil, nil
	}
	c, err := svc.ContainerByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	return &c.ID, nil
}

func resolveIndividual(ctx context.Context, svc *core.Service, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	ind, err := svc.IndividualByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return &ind.ID, nil
}

func applyContainer(ctx context.Context, svc *core.Service, r Row) (int64, error) {
	loc, err := resolveContainer(ctx, svc, r.Get("location"))
	if err != nil {
		return 0, err
	}
	name := r.Get("name")
	if name == "" {
		name = r.Get("barcode")
	}
	c, _, err := svc.CreateContainer(ctx, domain.Container{
		Barcode:     r.Get("barcode"),
		Name:        name,
		Kind:        r.Get("kind"),
		LocationID:  loc,
		Coordinates: r.Get("coordinates"),
		Comment:     r.Get("comment"),
	})
	return c.ID, err
}

// applyContainerMove treats an empty location as a move to the root.
func applyContainerMove(ctx context.Context, svc *core.Service, r Row) (int64, error) {
	c, err := svc.ContainerByBarcode(ctx, r.Get("barcode"))
	if err != nil {
		return 0, err
	}
	loc, err := resolveContainer(ctx, svc, r.Get("location"))
	if err != nil {
		return c.ID, err
	}
	moved, _, err := svc.MoveContainer(ctx, c.ID, loc, r.Get("coordinates"))
	if err != nil {
		return c.ID, err
	}
	return moved.ID, nil
}

func applyIndividual(ctx context.Context, svc *core.Service, r Row) (int64, error) {
	mother, err := resolveIndividual(ctx, svc, r.Get("mother"))
	if err != nil {
		return 0, err
	}
	father, err := resolveIndividual(ctx, svc, r.Get("father"))
	if err != nil {
		return 0, err
	}
	ind, _, err := svc.CreateIndividual(ctx, domain.Individual{
		Name:     r.Get("name"),
		Taxon:    r.Get("taxon"),
		Sex:      domain.Sex(r.Get("sex")),
		Pedigree: r.Get("pedigree"),
		Cohort:   r.Get("cohort"),
		MotherID: mother,
		FatherID: father,
	})
	return ind.ID, err
}

func applySample(ctx context.Context, svc *core.Service, r Row) (int64, error) {
	container, err := svc.ContainerByBarcode(ctx, r.Get("container"))
	if err != nil {
		return 0, err
	}
	individual, err := resolveIndividual(ctx, svc, r.Get("individual"))
	if err != nil {
		return 0, err
	}
	received, _ := parseDate(r, "reception_date")
	volume, _, _ := parseDecimal(r, "volume")
	smp := domain.Sample{
		Name:           r.Get("name"),
		Alias:          r.Get("alias"),
		IndividualID:   individual,
		ContainerID:    container.ID,
		Coordinates:    r.Get("coordinates"),
		CollectionSite: r.Get("collection_site"),
		TissueSource:   r.Get("tissue_source"),
		Phenotype:      r.Get("phenotype"),
		ReceptionDate:  received,
		Comment:        r.Get("comment"),
		VolumeHistory:  []domain.VolumeEvent{domain.SetVolume(received, volume)},
	}
	if c, ok, _ := parseDecimal(r, "concentration"); ok {
		smp.Concentration = &c
	}
	for _, g := range strings.Split(r.Get("experimental_group"), ",") {
		if g = strings.TrimSpace(g); g != "" {
			smp.ExperimentalGroup = append(smp.ExperimentalGroup, g)
		}
	}
	created, _, err := svc.CreateSample(ctx, r.Get("kind"), smp)
	return created.ID, err
}

// checkSampleUpdate requires at least one change. volume_delta is signed.
func checkSampleUpdate(r Row) error {
	if r.Get("volume_delta") == "" && r.Get("concentration") == "" && r.Get("depleted") == "" && r.Get("comment") == "" {
		return fmt.Errorf("%w: nothing to update", ErrInvalidRow)
	}
	if _, _, err := parseDecimal(r, "volume_delta"); err != nil {
		return err
	}
	if err := checkDecimal(r, "concentration", true); err != nil {
		return err
	}
	switch strings.ToLower(r.Get("depleted")) {
	case "", "yes", "no", "true", "false":
	default:
		return fmt.Errorf("%w: depleted %q is not yes or no", ErrInvalidRow, r.Get("depleted"))
	}
	return checkDate(r, "date")
}

func applySampleUpdate(ctx context.Context, svc *core.Service, r Row) (int64, error) {
	smp, err := svc.SampleAt(ctx, r.Get("container"), r.Get("coordinates"))
	if err != nil {
		return 0, err
	}
	when, _ := parseDate(r, "date")
	var patch core.SamplePatch
	if delta, ok, _ := parseDecimal(r, "volume_delta"); ok && !delta.IsZero() {
		if delta.IsNegative() {
			patch.VolumeEvents = append(patch.VolumeEvents, domain.RemoveVolume(when, delta.Neg()))
		} else {
			patch.VolumeEvents = append(patch.VolumeEvents, domain.AddVolume(when, delta))
		}
	}
	switch strings.ToLower(r.Get("depleted")) {
	case "yes", "true":
		patch.VolumeEvents = append(patch.VolumeEvents, domain.Deplete(when))
	}
	if c, ok, _ := parseDecimal(r, "concentration"); ok {
		patch.Concentration = &c
	}
	if c := r.Get("comment"); c != "" {
		patch.Comment = &c
	}
	updated, _, err := svc.UpdateSample(ctx, smp.ID, patch)
	if err != nil {
		return smp.ID, err
	}
	return updated.ID, nil
}

func applyExtraction(ctx context.Context, svc *core.Service, r Row) (int64, error) {
	parent, err := svc.SampleAt(ctx, r.Get("source_container"), r.Get("source_coordinates"))
	if err != nil {
		return 0, err
	}
	dest, err := svc.ContainerByBarcode(ctx, r.Get("container"))
	if err != nil {
		return 0, err
	}
	used, _, _ := parseDecimal(r, "volume_used")
	volume, _, _ := parseDecimal(r, "volume")
	name := r.Get("name")
	if name == "" {
		name = fmt.Sprintf("%s-%s", parent.Name, strings.ToLower(r.Get("kind")))
	}
	out, _, err := svc.Extract(ctx, parent.ID, used, domain.Sample{
		Name:          name,
		ContainerID:   dest.ID,
		Coordinates:   r.Get("coordinates"),
		Comment:       r.Get("comment"),
		VolumeHistory: []domain.VolumeEvent{{Type: domain.VolumeSet, Value: volume}},
	}, r.Get("kind"))
	if err != nil {
		return 0, err
	}
	return out.Created[0].ID, nil
}
