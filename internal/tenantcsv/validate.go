// Package tenantcsv checks uploaded tenant files against the import schema.
package tenantcsv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
)

const (
	ColumnTenantName    = "tenant_name"
	ColumnEmail         = "email"
	ColumnContractStart = "contract_start"
)

// Required lists the mandatory columns in the order they are reported.
var Required = []string{ColumnTenantName, ColumnEmail, ColumnContractStart}

// ErrMalformedInput marks payloads that cannot be read as tabular data at all.
var ErrMalformedInput = errors.New("malformed input")

// ValidationError reports a readable file that lacks required columns.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required columns: " + strings.Join(e.Missing, ", ")
}

// Row is one tenant record.
type Row struct {
	TenantName    string    `json:"tenant_name"`
	Email         string    `json:"email"`
	ContractStart time.Time `json:"contract_start"`
}

// Dataset is the ordered set of rows from a valid upload.
type Dataset struct {
	Rows []Row `json:"rows"`
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Result is the outcome of Validate. Dataset is non-nil only when Valid.
// Err is a *ValidationError for missing columns or wraps ErrMalformedInput.
type Result struct {
	Valid   bool
	Missing []string
	Dataset *Dataset
	Err     error
}

// Malformed reports whether the payload failed structurally rather than on schema.
func (r Result) Malformed() bool {
	return errors.Is(r.Err, ErrMalformedInput)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Validate parses raw as a comma-delimited file with a header row, or as an XLSX
// workbook when raw carries the ZIP signature, and checks the required columns.
func Validate(raw []byte) Result {
	records, err := readRecords(raw)
	if err != nil {
		return malformed(err)
	}
	if len(records) == 0 || isBlank(records[0]) {
		return malformed(errors.New("no header row"))
	}

	index := headerIndex(records[0])
	var missing []string
	for _, col := range Required {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return Result{Missing: missing, Err: &ValidationError{Missing: missing}}
	}

	ds := &Dataset{Rows: make([]Row, 0, len(records)-1)}
	for i, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		rawDate := cell(rec, index[ColumnContractStart])
		start, err := ParseDate(rawDate)
		if err != nil {
			return malformed(fmt.Errorf("row %d: contract_start %q: %w", i+2, rawDate, err))
		}
		ds.Rows = append(ds.Rows, Row{
			TenantName:    cell(rec, index[ColumnTenantName]),
			Email:         strings.TrimSpace(cell(rec, index[ColumnEmail])),
			ContractStart: start,
		})
	}
	return Result{Valid: true, Dataset: ds}
}

// ParseDate accepts ISO-8601 and other common date layouts and returns the UTC calendar date.
func ParseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty date")
	}
	t, err := dateparse.ParseIn(v, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// FormatMissing renders column names the way the agent reports them, e.g. ['email'].
func FormatMissing(missing []string) string {
	quoted := make([]string, len(missing))
	for i, m := range missing {
		quoted[i] = "'" + m + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func readRecords(raw []byte) ([][]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty payload")
	}
	if isXLSX(raw) {
		return readXLSX(raw)
	}
	if !utf8.Valid(raw) {
		return nil, errors.New("payload is not valid UTF-8 text")
	}

	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, utf8BOM)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, string(utf8BOM)))
		if h == "" {
			continue
		}
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	return index
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func malformed(err error) Result {
	return Result{Err: fmt.Errorf("%w: %v", ErrMalformedInput, err)}
}
