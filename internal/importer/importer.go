// Package importer applies tabular rows (typically read from a workbook) to
// the core service. Every row runs in its own transaction and a failing row
// is reported without aborting the rest of the batch.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"freezercore/internal/core"
	"freezercore/pkg/domain"

	"github.com/hashicorp/go-multierror"
)

// Kind tags what a row describes.
type Kind string

// Row kinds.
const (
	KindContainer     Kind = "container"
	KindContainerMove Kind = "container_move"
	KindIndividual    Kind = "individual"
	KindSample        Kind = "sample"
	KindSampleUpdate  Kind = "sample_update"
	KindExtraction    Kind = "extraction"
)

// ErrInvalidRow reports a row that is missing columns or holds unparsable values.
var ErrInvalidRow = errors.New("invalid row")

// Row is one input record. Values are keyed by normalized column name.
type Row struct {
	Number int
	Kind   Kind
	Values map[string]string
}

// Get returns the trimmed value of column.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r.Values[column])
}

// Handler serves one row kind.
type Handler interface {
	// Validate checks column presence and parsing without touching the store.
	Validate(row Row) error
	// Apply writes the row and returns the id of the entity it created or changed.
	Apply(ctx context.Context, svc *core.Service, row Row) (int64, error)
}

// Outcome is the result of one row.
type Outcome struct {
	Row      int
	Kind     Kind
	EntityID int64
	Err      error
	Code     string
}

// Outcomes is the per-row report of a batch.
type Outcomes []Outcome

// Failed counts rows that did not apply.
func (o Outcomes) Failed() int {
	n := 0
	for _, out := range o {
		if out.Err != nil {
			n++
		}
	}
	return n
}

// Err aggregates row failures, or returns nil when every row applied.
func (o Outcomes) Err() error {
	var errs *multierror.Error
	for _, out := range o {
		if out.Err != nil {
			errs = multierror.Append(errs, fmt.Errorf("row %d (%s): %w", out.Row, out.Kind, out.Err))
		}
	}
	return errs.ErrorOrNil()
}

// Logger is the subset of the platform logger the importer writes to.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

// Importer dispatches rows to handlers by kind.
type Importer struct {
	svc      *core.Service
	handlers map[Kind]Handler
	logger   Logger
}

// Option customises an Importer.
type Option func(*Importer)

// WithLogger routes per-row logs to logger.
func WithLogger(l Logger) Option {
	return func(i *Importer) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithHandler registers or replaces the handler for kind.
func WithHandler(kind Kind, h Handler) Option {
	return func(i *Importer) { i.handlers[kind] = h }
}

// New returns an importer over svc with the built-in handlers.
func New(svc *core.Service, opts ...Option) *Importer {
	i := &Importer{svc: svc, handlers: DefaultHandlers(), logger: nopLogger{}}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Apply runs rows in order. Once ctx is done the remaining rows are reported
// as cancelled rather than attempted.
func (i *Importer) Apply(ctx context.Context, rows []Row) Outcomes {
	out := make(Outcomes, 0, len(rows))
	for _, row := range rows {
		o := Outcome{Row: row.Number, Kind: row.Kind}
		if err := ctx.Err(); err != nil {
			o.Err = err
		} else {
			o.EntityID, o.Err = i.applyRow(ctx, row)
		}
		if o.Err != nil {
			o.Code = code(o.Err)
			i.logger.Warn("import row failed", "row", row.Number, "kind", row.Kind, "code", o.Code, "error", o.Err)
		}
		out = append(out, o)
	}
	i.logger.Info("import finished", "rows", len(rows), "failed", out.Failed())
	return out
}

func (i *Importer) applyRow(ctx context.Context, row Row) (int64, error) {
	h, ok := i.handlers[row.Kind]
	if !ok {
		return 0, fmt.Errorf("%w: unknown row kind %q", ErrInvalidRow, row.Kind)
	}
	if err := h.Validate(row); err != nil {
		return 0, err
	}
	return h.Apply(ctx, i.svc, row)
}

func code(err error) string {
	if errors.Is(err, ErrInvalidRow) {
		return "invalid_row"
	}
	return domain.Code(err)
}
