package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"portal-service/internal/models"
	"portal-service/internal/util"
)

const previewRows = 5

// Record is one parsed CSV row ready to be written. Row is 1-based and
// counts the header line.
type Record struct {
	Row      int
	Account  models.Account
	Phones   []string
	Warnings []string
}

type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type ParseResult struct {
	Headers []string
	Records []Record
	Errors  []RowError
}

type Preview struct {
	Headers []string   `json:"headers"`
	Mapping Mapping    `json:"mapping"`
	Rows    [][]string `json:"rows"`
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

func readHeaders(cr *csv.Reader) ([]string, error) {
	headers, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv file is empty")
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	return headers, nil
}

// PreviewFile returns the headers, a suggested mapping and the first rows.
func PreviewFile(r io.Reader) (*Preview, error) {
	cr := newReader(r)
	headers, err := readHeaders(cr)
	if err != nil {
		return nil, err
	}

	p := &Preview{Headers: headers, Mapping: SuggestMapping(headers), Rows: [][]string{}}
	for len(p.Rows) < previewRows {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		p.Rows = append(p.Rows, row)
	}
	return p, nil
}

// Parse reads every row under mapping. Rows without a debtor name become
// RowErrors; recoverable problems become per-record warnings.
func Parse(r io.Reader, mapping Mapping) (*ParseResult, error) {
	cr := newReader(r)
	headers, err := readHeaders(cr)
	if err != nil {
		return nil, err
	}
	if err := mapping.Validate(headers); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	result := &ParseResult{Headers: headers}
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			result.Errors = append(result.Errors, RowError{Row: line, Message: err.Error()})
			continue
		}
		if blankRow(row) {
			continue
		}

		cell := func(f Field) string {
			h, ok := mapping[f]
			if !ok {
				return ""
			}
			i, ok := index[h]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		rec, rowErr := buildRecord(line, cell)
		if rowErr != nil {
			result.Errors = append(result.Errors, *rowErr)
			continue
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func buildRecord(line int, cell func(Field) string) (Record, *RowError) {
	rec := Record{Row: line}
	warn := func(format string, args ...interface{}) {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf(format, args...))
	}
	text := func(f Field) string {
		v := util.NormalizeName(cell(f))
		if util.ContainsFormulaPrefix(v) {
			warn("%s: leading formula characters removed", f)
			v = strings.TrimLeft(v, "=+-@ ")
		}
		return v
	}

	name := text(FieldDebtorName)
	if name == "" {
		return rec, &RowError{Row: line, Message: "debtor_name is empty"}
	}

	a := &rec.Account
	a.DebtorName = name
	a.OriginalAccountNumber = text(FieldOriginalAccountNumber)
	a.OriginalCreditor = text(FieldOriginalCreditor)
	a.Email = strings.ToLower(text(FieldEmail))
	a.Address = text(FieldAddress)
	a.City = text(FieldCity)
	a.State = strings.ToUpper(text(FieldState))
	a.ZipCode = text(FieldZipCode)
	a.Status = "new"

	if raw := cell(FieldCurrentBalance); raw != "" {
		balance, err := ParseAmount(raw)
		switch {
		case err != nil:
			warn("current_balance %q is not a number", raw)
		case balance.IsNegative():
			warn("current_balance %q is negative", raw)
		default:
			a.CurrentBalance = &balance
		}
	}

	if raw := cell(FieldSSN); raw != "" {
		digits := util.DigitsOnly(raw)
		if len(digits) == 9 || len(digits) == 4 {
			a.SSNLast4 = digits[len(digits)-4:]
		} else {
			warn("ssn has %d digits, expected 9 or 4", len(digits))
		}
	}

	if raw := cell(FieldDateOfBirth); raw != "" {
		if dob, ok := parseDate(raw); ok {
			a.DateOfBirth = &dob
		} else {
			warn("date_of_birth %q not recognised", raw)
		}
	}

	if raw := cell(FieldPhoneNumber); raw != "" {
		if phone, ok := util.NormalizePhone(raw); ok {
			rec.Phones = append(rec.Phones, phone)
		} else {
			warn("phone_number %s is not a 10-digit number", util.MaskDigits(raw, 4))
		}
	}

	return rec, nil
}

// ParseAmount accepts values like "$1,630.00" or "1630".
func ParseAmount(raw string) (decimal.Decimal, error) {
	clean := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(raw))
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		clean = "-" + strings.Trim(clean, "()")
	}
	return decimal.NewFromString(clean)
}

var dateLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", "01-02-2006", "2006/01/02"}

func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
