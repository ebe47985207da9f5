// Package report exports class attendance as spreadsheets.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"classattend/internal/attendance"
)

// SheetName is the name of the attendance sheet.
const SheetName = "Asistencias"

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var header = []string{"Matrícula", "Nombre", "Apellido", "Estado", "Hora de Registro", "Ubicación"}

// Workbook renders one row per enrolled student. Students without a record
// are reported ABSENT with empty time and location.
func Workbook(rows []attendance.RosterRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("report: rename sheet: %w", err)
	}
	if err := setRow(f, 1, toAny(header)); err != nil {
		return nil, err
	}
	for i, r := range rows {
		values := []any{r.Student.Matricula, r.Student.FirstName, r.Student.LastName, string(attendance.StatusAbsent)}
		if r.Record != nil {
			values[3] = string(r.Record.Status)
			values = append(values, r.Record.Timestamp.UTC().Format(time.RFC3339), r.Record.Location)
		}
		if err := setRow(f, i+2, values); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("report: write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename returns the download name for a class export.
func Filename(className string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', ':', '*', '?', '<', '>', '|':
			return '-'
		}
		return r
	}, strings.TrimSpace(className))
	return fmt.Sprintf("asistencias-%s.xlsx", name)
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("report: cell name: %w", err)
	}
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("report: row %d: %w", row, err)
	}
	return nil
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
