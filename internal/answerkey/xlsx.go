package answerkey

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrEmptyWorkbook      = errors.New("workbook has no sheets")
	ErrUnreadableWorkbook = errors.New("file is not a readable xlsx workbook")
)

// WriteWorkbook renders sheets as an xlsx file, one worksheet per sheet.
// Scores are written as numbers; everything else as text so that answers like
// "0012" keep their leading zeros.
func WriteWorkbook(sheets []Sheet) ([]byte, error) {
	if len(sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}
	names := make([]string, 0, len(sheets))
	for _, s := range sheets {
		names = append(names, s.Name)
	}
	if err := ValidateVariantCodes(names); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	withHints := false
	for _, s := range sheets {
		for _, r := range s.Rows {
			if r.Hint != "" {
				withHints = true
			}
		}
	}
	headers := SheetHeader
	if !withHints {
		headers = SheetHeader[:3]
	}

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), s.Name); err != nil {
				return nil, fmt.Errorf("rename sheet %s: %w", s.Name, err)
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", s.Name, err)
		}

		for col, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(col+1, 1)
			_ = f.SetCellStr(s.Name, cell, h)
		}
		for i, r := range s.Rows {
			row := i + 2
			a, _ := excelize.CoordinatesToCellName(1, row)
			b, _ := excelize.CoordinatesToCellName(2, row)
			c, _ := excelize.CoordinatesToCellName(3, row)
			_ = f.SetCellStr(s.Name, a, r.Key)
			_ = f.SetCellStr(s.Name, b, r.Answer)
			if r.Score != "" {
				if v, err := strconv.ParseFloat(r.Score, 64); err == nil {
					_ = f.SetCellFloat(s.Name, c, v, -1, 64)
				} else {
					_ = f.SetCellStr(s.Name, c, r.Score)
				}
			}
			if withHints {
				d, _ := excelize.CoordinatesToCellName(4, row)
				_ = f.SetCellStr(s.Name, d, r.Hint)
			}
		}
		_ = f.SetColWidth(s.Name, "A", "C", 14)
		if withHints {
			_ = f.SetColWidth(s.Name, "D", "D", 60)
		}
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadWorkbook reads every worksheet in workbook order. Row 1 is the header
// and column D is ignored.
func ReadWorkbook(r io.Reader) ([]Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableWorkbook, err)
	}
	defer func() { _ = f.Close() }()

	names := f.GetSheetList()
	if len(names) == 0 {
		return nil, ErrEmptyWorkbook
	}

	out := make([]Sheet, 0, len(names))
	for _, name := range names {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read rows of %s: %w", name, err)
		}
		sheet := Sheet{Name: name, Rows: make([]SheetRow, 0, len(rows))}
		for i := 1; i < len(rows); i++ {
			cells := rows[i]
			get := func(col int) string {
				if col >= len(cells) {
					return ""
				}
				return strings.TrimSpace(cells[col])
			}
			sheet.Rows = append(sheet.Rows, SheetRow{
				Line:   i + 1,
				Key:    get(0),
				Answer: get(1),
				Score:  get(2),
			})
		}
		out = append(out, sheet)
	}
	return out, nil
}
