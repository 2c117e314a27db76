// Package bulk turns an uploaded payroll CSV into one batch per network.
package bulk

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/congo-pay/payroll/internal/apperr"
)

// Row is one parsed CSV line. Amount and Token are kept as written; payouts
// always use the employee record.
type Row struct {
	Line       int
	EmployeeID string
	Amount     string
	Token      string
}

var employeeColumns = []string{"employeeid", "employee_id"}

// Parse reads a header row followed by data rows. Blank lines are skipped.
func Parse(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperr.New(apperr.Validation, apperr.ReasonEmptyFile, "CSV file is empty")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Validation, apperr.ReasonInvalidInput, "invalid CSV header: %v", err)
	}

	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	idCol := -1
	for _, name := range employeeColumns {
		if i, ok := cols[name]; ok {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return nil, apperr.New(apperr.Validation, apperr.ReasonInvalidInput, "CSV header must contain employeeId or employee_id")
	}
	amountCol, hasAmount := cols["amount"]
	tokenCol, hasToken := cols["token"]

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(err, apperr.Validation, apperr.ReasonInvalidInput, "invalid CSV: %v", err)
		}
		line, _ := reader.FieldPos(0)
		id := field(record, idCol)
		if id == "" {
			if blank(record) {
				continue
			}
			return nil, apperr.New(apperr.Validation, apperr.ReasonInvalidInput, "line %d: missing employee id", line)
		}
		row := Row{Line: line, EmployeeID: id}
		if hasAmount {
			row.Amount = field(record, amountCol)
		}
		if hasToken {
			row.Token = field(record, tokenCol)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

