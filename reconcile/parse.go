/*
parse.go - Upload row reading and structural validation

PURPOSE:
  Turns an uploaded byte stream into raw rows and validates each row's
  shape before any business rule runs. The column names are an external
  contract with the finance office: member identifier, amount, month,
  year, description (free-text loan type).

  Structural failures are per-row: a bad amount in row 7 rejects row 7,
  not the file. Only an unreadable file fails the upload as a whole.
*/
package reconcile

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/money"
)

// RawRow is one parsed file row, untyped. Number is 1-based and counts
// data rows, not the header.
type RawRow struct {
	Number      int
	MemberRef   string
	Amount      string
	Month       string
	Year        string
	Description string
}

// Row is a structurally valid upload row.
type Row struct {
	Number      int
	MemberRef   string
	Amount      money.Money
	Month       int
	Year        int
	Description string
}

// RowReader turns an uploaded byte stream into raw rows. The CSV reader
// is the stock implementation; spreadsheet adapters satisfy the same
// interface upstream.
type RowReader interface {
	Read(data []byte) ([]RawRow, error)
}

// =============================================================================
// CSV READER
// =============================================================================

// column name -> canonical field, case-insensitive. The finance office's
// exports have drifted over the years, so each field accepts the names
// seen in the wild.
var columnAliases = map[string]string{
	"member_id":   "member",
	"member":      "member",
	"member_ref":  "member",
	"erp_id":      "member",
	"amount":      "amount",
	"month":       "month",
	"year":        "year",
	"description": "description",
	"loan_type":   "description",
	"narration":   "description",
}

// CSVReader reads comma-separated uploads with a header row.
type CSVReader struct{}

func (CSVReader) Read(data []byte) ([]RawRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, models.Invalid("file", "unreadable csv: %v", err)
	}
	if len(records) == 0 {
		return nil, models.Invalid("file", "empty file")
	}

	cols, err := bindHeader(records[0])
	if err != nil {
		return nil, err
	}

	rows := make([]RawRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		get := func(field string) string {
			idx, ok := cols[field]
			if !ok || idx >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[idx])
		}
		rows = append(rows, RawRow{
			Number:      i + 1,
			MemberRef:   get("member"),
			Amount:      get("amount"),
			Month:       get("month"),
			Year:        get("year"),
			Description: get("description"),
		})
	}
	return rows, nil
}

// bindHeader maps canonical fields to column indexes. All five fields
// must be present.
func bindHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int, 5)
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if field, ok := columnAliases[name]; ok {
			if _, dup := cols[field]; !dup {
				cols[field] = i
			}
		}
	}
	for _, field := range []string{"member", "amount", "month", "year", "description"} {
		if _, ok := cols[field]; !ok {
			return nil, models.Invalid("file", "missing required column %q", field)
		}
	}
	return cols, nil
}

// =============================================================================
// STRUCTURAL VALIDATION
// =============================================================================

// memberRefPattern matches the ERP identifiers members carry: letters and
// digits with optional slash or dash separators, at least three characters.
var memberRefPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9/_-]{2,}$`)

// ValidateRow checks a raw row's shape. The returned error reads as the
// failed-row reason; no store access happens here.
func ValidateRow(raw RawRow, now int) (Row, error) {
	var row Row
	row.Number = raw.Number
	row.MemberRef = raw.MemberRef
	row.Description = raw.Description

	if !memberRefPattern.MatchString(raw.MemberRef) {
		return row, fmt.Errorf("invalid member identifier %q", raw.MemberRef)
	}

	amount, err := money.Parse(raw.Amount)
	if err != nil || !amount.IsPositive() {
		return row, fmt.Errorf("invalid amount %q", raw.Amount)
	}
	row.Amount = amount

	month, err := strconv.Atoi(raw.Month)
	if err != nil || month < 1 || month > 12 {
		return row, fmt.Errorf("invalid month %q", raw.Month)
	}
	row.Month = month

	year, err := strconv.Atoi(raw.Year)
	if err != nil || year < 2000 || year > now+1 {
		return row, fmt.Errorf("invalid year %q", raw.Year)
	}
	row.Year = year

	if strings.TrimSpace(raw.Description) == "" {
		return row, fmt.Errorf("missing loan type description")
	}
	return row, nil
}
