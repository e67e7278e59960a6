package importer

import (
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xuri/excelize/v2"
)

// KindColumn selects the row kind per row when ReadWorkbook is given no kind.
const KindColumn = "kind_of_row"

// ReadWorkbook converts one sheet of an .xlsx file into rows. The first
// non-empty row is the header; headers are lower-cased with spaces turned into
// underscores. An empty sheet name selects the first sheet. When kind is empty
// every row must name its kind in the KindColumn column.
func ReadWorkbook(path, sheet string, kind Kind) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return readSheet(f, sheet, kind)
}

// ReadWorkbookFrom is ReadWorkbook over an already open stream.
func ReadWorkbookFrom(r io.Reader, sheet string, kind Kind) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	return readSheet(f, sheet, kind)
}

func readSheet(f *excelize.File, sheet string, kind Kind) ([]Row, error) {
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	cells, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	var (
		header []string
		rows   []Row
		errs   *multierror.Error
	)
	for i, cols := range cells {
		if blank(cols) {
			continue
		}
		if header == nil {
			header = make([]string, len(cols))
			for j, h := range cols {
				header[j] = normalizeHeader(h)
			}
			continue
		}
		row := Row{Number: i + 1, Kind: kind, Values: make(map[string]string, len(header))}
		for j, name := range header {
			if name == "" || j >= len(cols) {
				continue
			}
			row.Values[name] = strings.TrimSpace(cols[j])
		}
		if kind == "" {
			row.Kind = Kind(strings.ToLower(row.Get(KindColumn)))
			if row.Kind == "" {
				errs = multierror.Append(errs, fmt.Errorf("sheet %q row %d: no %s", sheet, row.Number, KindColumn))
				continue
			}
		}
		rows = append(rows, row)
	}
	if header == nil {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}
	return rows, errs.ErrorOrNil()
}

func blank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Join(strings.Fields(h), "_")
}
