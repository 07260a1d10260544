package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/kbsync/core"
	"github.com/xuri/excelize/v2"
)

// Sheet is one table of a source: a header row and its data rows.
type Sheet struct {
	Name   string
	File   string
	Header []string
	Rows   [][]string
}

// RowNumber converts a data row index into the 1-based spreadsheet row
// number, counting the header as row 1.
func (s *Sheet) RowNumber(i int) int {
	return i + 2
}

// Workbook is a parsed source file.
type Workbook struct {
	Path    string
	ModTime time.Time
	Sheets  []*Sheet
}

// Open reads a source. A path may be an .xlsx/.xlsm workbook, a single .csv
// file (one sheet named after the file), or a directory whose .csv files
// are the sheets.
func Open(path string) (*Workbook, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	wb := &Workbook{Path: path, ModTime: info.ModTime().UTC()}
	switch {
	case info.IsDir():
		wb.Sheets, err = readCSVDir(path)
	case isWorkbook(path):
		wb.Sheets, err = readXLSX(path)
	case strings.EqualFold(filepath.Ext(path), ".csv"):
		var sheet *Sheet
		sheet, err = readCSVFile(path)
		if sheet != nil {
			wb.Sheets = []*Sheet{sheet}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, err
	}
	return wb, nil
}

// InferDomain guesses the domain from a source file name such as
// "stress_kb.xlsx" or "ANX-export.csv".
func InferDomain(path string) (core.Domain, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tokens := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	for _, tok := range tokens {
		if d, err := core.ParseDomain(tok); err == nil {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: cannot infer from %q", core.ErrUnknownDomain, filepath.Base(path))
}

func isWorkbook(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".xlsx" || ext == ".xlsm"
}

func readXLSX(path string) ([]*Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	var sheets []*Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q of %s: %w", name, path, err)
		}
		sheets = append(sheets, newSheet(name, path, rows))
	}
	return sheets, nil
}

func readCSVDir(dir string) ([]*Sheet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var sheets []*Sheet
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		sheet, err := readCSVFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sheet)
	}
	slices.SortFunc(sheets, func(a, b *Sheet) int { return strings.Compare(a.Name, b.Name) })
	return sheets, nil
}

func readCSVFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rows = append(rows, rec)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return newSheet(name, path, rows), nil
}

func newSheet(name, file string, rows [][]string) *Sheet {
	s := &Sheet{Name: name, File: file}
	if len(rows) == 0 {
		return s
	}
	s.Header = make([]string, len(rows[0]))
	for i, h := range rows[0] {
		s.Header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	for _, row := range rows[1:] {
		if blankRow(row) {
			// Keep the slot so row numbers still match the spreadsheet
			s.Rows = append(s.Rows, nil)
			continue
		}
		s.Rows = append(s.Rows, row)
	}
	// Trailing blank rows carry no information
	for len(s.Rows) > 0 && s.Rows[len(s.Rows)-1] == nil {
		s.Rows = s.Rows[:len(s.Rows)-1]
	}
	return s
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
