package sheet

import (
	"bytes"
	"testing"

	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
	"github.com/xuri/excelize/v2"
	"gotest.tools/v3/assert"
)

func TestWriteAndRead(t *testing.T) {
	schema := models.DefaultSchema()
	store := models.NewStore()
	a := models.NewPatient(models.IDAT{"vorname": "Max", "nachname": "Mustermann", "geburtstag": 1, "geburtsmonat": 0, "geburtsjahr": 1990}, "mdat a")
	a.Sureness = true
	b := models.NewPatient(models.IDAT{"vorname": "Erika", "nachname": "Musterfrau", "geburtstag": 24, "geburtsmonat": 11, "geburtsjahr": 1985, "ort": "Münster"}, "")
	store.Set("a", a)
	store.Set("b", b)

	var buf bytes.Buffer
	assert.NilError(t, WritePatients(&buf, schema, store, []models.Key{"b", "a", "missing"}))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	assert.NilError(t, err)
	assert.Equal(t, f.GetSheetName(0), SheetName)
	month, err := f.GetCellValue(SheetName, "E2")
	assert.NilError(t, err)
	assert.Equal(t, month, "12")
	status, err := f.GetCellValue(SheetName, "L2")
	assert.NilError(t, err)
	assert.Equal(t, status, "CREATED")
	assert.NilError(t, f.Close())

	rows, err := Read(bytes.NewReader(buf.Bytes()), schema)
	assert.NilError(t, err)
	assert.Equal(t, len(rows), 2)
	assert.DeepEqual(t, rows[0], Row{Key: "b", IDAT: b.IDAT, MDAT: ""})
	assert.DeepEqual(t, rows[1], Row{Key: "a", IDAT: a.IDAT, MDAT: "mdat a", Sureness: true})
}

func TestRead(t *testing.T) {
	f := excelize.NewFile()
	values := [][]any{
		{"nachname", "vorname", "geburtsjahr", "geburtsmonat", "geburtstag", "comment", "sureness"},
		{"Mustermann", " Max ", 1990, "3", 7, "ignored", "TRUE"},
		{},
		{"Musterfrau", "Erika", "neunzehn", "", "", "", ""},
	}
	for r, row := range values {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			assert.NilError(t, err)
			assert.NilError(t, f.SetCellValue("Sheet1", cell, value))
		}
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	assert.NilError(t, err)

	rows, err := Read(&buf, models.DefaultSchema())
	assert.NilError(t, err)
	assert.DeepEqual(t, rows, []Row{
		{IDAT: models.IDAT{"vorname": "Max", "nachname": "Mustermann", "geburtstag": 7, "geburtsmonat": 2, "geburtsjahr": 1990}, Sureness: true},
		{IDAT: models.IDAT{"vorname": "Erika", "nachname": "Musterfrau", "geburtsjahr": "neunzehn"}},
	})
}

func TestReadInvalidSureness(t *testing.T) {
	f := excelize.NewFile()
	assert.NilError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"vorname", "sureness"}))
	assert.NilError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Max", "maybe"}))
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	assert.NilError(t, err)

	_, err = Read(&buf, models.DefaultSchema())
	assert.Error(t, err, "row 2: invalid sureness \"maybe\"")
}

func TestWriteDepseudonymized(t *testing.T) {
	result := &models.DepseudonymizationResult{
		Depseudonymized: map[string]models.DepseudonymizedPatient{
			"000CU0WP": {IDAT: models.IDAT{"vorname": "Hans", "geburtsmonat": 6}, Tentative: true},
		},
		Invalid: []string{"Hello!"},
	}
	var buf bytes.Buffer
	assert.NilError(t, WriteDepseudonymized(&buf, models.DefaultSchema(), []string{"000CU0WP", "Hello!"}, result))

	f, err := excelize.OpenReader(&buf)
	assert.NilError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SheetName)
	assert.NilError(t, err)
	assert.DeepEqual(t, rows[0], []string{"pseudonym", "vorname", "nachname", "geburtstag", "geburtsmonat", "geburtsjahr", "geburtsname", "plz", "ort", "tentative", "valid"})
	assert.DeepEqual(t, rows[1], []string{"000CU0WP", "Hans", "", "", "7", "", "", "", "", "TRUE", "TRUE"})
	assert.DeepEqual(t, rows[2], []string{"Hello!", "", "", "", "", "", "", "", "", "FALSE", "FALSE"})
}
