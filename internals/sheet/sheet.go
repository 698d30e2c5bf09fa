package sheet

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
	"github.com/xuri/excelize/v2"
)

const (
	SheetName = "Patients"

	KeyColumn       = "key"
	MDATColumn      = "mdat"
	SurenessColumn  = "sureness"
	StatusColumn    = "status"
	PseudonymColumn = "pseudonym"
	TentativeColumn = "tentative"
)

// Row is one patient of a sheet. Months are written the way humans do
// (1 = January) and converted to the zero based value of the schema.
type Row struct {
	Key      models.Key
	IDAT     models.IDAT
	MDAT     string
	Sureness bool
}

// Read parses the first sheet of an xlsx file. The first row holds the
// column names: the IDAT field names of the schema plus optionally key, mdat
// and sureness. Unknown columns are ignored.
func Read(r io.Reader, schema models.Schema) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse xlsx file: %w", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("xlsx file has no sheets")
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := map[string]int{}
	for i, name := range rows[0] {
		header[strings.TrimSpace(name)] = i
	}
	cell := func(row []string, name string) string {
		i, ok := header[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	result := make([]Row, 0, len(rows)-1)
	for n, row := range rows[1:] {
		if isEmpty(row) {
			continue
		}
		r := Row{Key: cell(row, KeyColumn), IDAT: models.IDAT{}, MDAT: cell(row, MDATColumn)}
		if s := cell(row, SurenessColumn); s != "" {
			r.Sureness, err = strconv.ParseBool(strings.ToLower(s))
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid sureness \"%s\"", n+2, s)
			}
		}
		for _, field := range schema {
			value := cell(row, field.Name)
			if value == "" {
				continue
			}
			r.IDAT[field.Name] = fromCell(field, value)
		}
		result = append(result, r)
	}
	return result, nil
}

// fromCell keeps values that are no integer as string, the validation of
// the schema reports them with the field name.
func fromCell(field models.Field, value string) any {
	if field.Type != models.FieldTypeNumber {
		return value
	}
	number, err := strconv.Atoi(value)
	if err != nil {
		return value
	}
	if field.FixMonth {
		number--
	}
	return number
}

func toCell(field models.Field, value any) any {
	if number, ok := value.(int); ok && field.FixMonth {
		return number + 1
	}
	return value
}

func isEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// WritePatients writes the patients of the store with their state.
func WritePatients(w io.Writer, schema models.Schema, store *models.Store, keys []models.Key) error {
	header := []string{KeyColumn}
	header = append(header, schema.Names()...)
	header = append(header, MDATColumn, SurenessColumn, StatusColumn, PseudonymColumn, TentativeColumn)

	values := make([][]any, 0, len(keys))
	for _, key := range keys {
		patient, ok := store.Get(key)
		if !ok {
			continue
		}
		row := []any{key}
		for _, field := range schema {
			row = append(row, toCell(field, patient.IDAT[field.Name]))
		}
		row = append(row, patient.MDAT, patient.Sureness, patient.Status.String(), patient.Pseudonym, patient.Tentative)
		values = append(values, row)
	}
	return write(w, header, values)
}

// WriteDepseudonymized writes one row per depseudonymized pseudonym in the
// given order. Invalid pseudonyms get a row with an empty IDAT.
func WriteDepseudonymized(w io.Writer, schema models.Schema, pseudonyms []string, result *models.DepseudonymizationResult) error {
	header := []string{PseudonymColumn}
	header = append(header, schema.Names()...)
	header = append(header, TentativeColumn, "valid")

	values := make([][]any, 0, len(pseudonyms))
	for _, pseudonym := range pseudonyms {
		patient, ok := result.Depseudonymized[pseudonym]
		row := []any{pseudonym}
		for _, field := range schema {
			row = append(row, toCell(field, patient.IDAT[field.Name]))
		}
		row = append(row, patient.Tentative, ok)
		values = append(values, row)
	}
	return write(w, header, values)
}

func write(w io.Writer, header []string, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	for col, name := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, name); err != nil {
			return err
		}
		if err := f.SetCellStyle(SheetName, cell, cell, headerStyle); err != nil {
			return err
		}
	}

	for r, row := range rows {
		for col, value := range row {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(SheetName, cell, value); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}
