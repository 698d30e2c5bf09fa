package models

import (
	"errors"
	"math"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func fixNow(t *testing.T, day time.Time) {
	t.Helper()
	previous := now
	now = func() time.Time { return day }
	t.Cleanup(func() { now = previous })
}

func validIDAT() IDAT {
	return IDAT{"vorname": "Max", "nachname": "Mustermann", "geburtstag": 1, "geburtsmonat": 0, "geburtsjahr": 1990}
}

func TestValidate(t *testing.T) {
	schema := DefaultSchema()
	idat := validIDAT()
	idat["vorname"] = "  Max "
	idat["geburtsjahr"] = 1990.0
	idat["plz"] = " "

	validated, err := schema.Validate(idat)
	assert.NilError(t, err)
	assert.DeepEqual(t, validated, validIDAT())
}

func TestValidateErrors(t *testing.T) {
	fixNow(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	schema := DefaultSchema()

	cases := []struct {
		name   string
		change IDAT
		reason ValidationReason
		msg    string
	}{
		{"missing", IDAT{"vorname": nil}, ReasonMissing, "Field with name 'vorname' is not present but required!"},
		{"blank", IDAT{"nachname": "  "}, ReasonMissing, "Field with name 'nachname' is not present but required!"},
		{"type", IDAT{"geburtstag": "1"}, ReasonType, "Field with name 'geburtstag' of the type 'string' must be of the type 'number'!"},
		{"bool", IDAT{"ort": true}, ReasonType, "Field with name 'ort' of the type 'boolean' must be of the type 'string'!"},
		{"unknown", IDAT{"email": "x"}, ReasonUnknown, "Field with name 'email' is not a valid idat field!"},
		{"fraction", IDAT{"geburtsjahr": 1990.5}, ReasonNotInteger, "Field with name 'geburtsjahr' must be an integer but is '1990.5'!"},
		{"overflow", IDAT{"geburtsjahr": uint64(math.MaxUint64)}, ReasonNotInteger, "Field with name 'geburtsjahr' must be an integer but is '18446744073709551615'!"},
		{"day", IDAT{"geburtstag": 32}, ReasonInvalidDate, "Field with name 'geburtstag' is not a valid part of a date: '32'!"},
		{"month", IDAT{"geburtsmonat": 12}, ReasonInvalidDate, "Field with name 'geburtsmonat' is not a valid part of a date: '12'!"},
		{"leap", IDAT{"geburtstag": 29, "geburtsmonat": 1, "geburtsjahr": 2023}, ReasonInvalidDate, "Field with name 'geburtstag' is not a valid part of a date: '29'!"},
		{"future", IDAT{"geburtstag": 11, "geburtsmonat": 2, "geburtsjahr": 2024}, ReasonFutureDate, "Field with name 'geburtsjahr' results in a birthdate in the future (2024-03-11)!"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			idat := validIDAT()
			for k, v := range c.change {
				idat[k] = v
			}
			_, err := schema.Validate(idat)
			assert.Error(t, err, c.msg)
			var validationErr *ValidationError
			assert.Assert(t, errors.As(err, &validationErr))
			assert.Equal(t, validationErr.Reason, c.reason)
		})
	}

	idat := validIDAT()
	idat["geburtstag"] = 29
	idat["geburtsmonat"] = 1
	idat["geburtsjahr"] = 2020
	_, err := schema.Validate(idat)
	assert.NilError(t, err)

	idat["geburtstag"] = 10
	idat["geburtsmonat"] = 2
	idat["geburtsjahr"] = 2024
	_, err = schema.Validate(idat)
	assert.NilError(t, err)
}

func TestSchemaCheck(t *testing.T) {
	assert.NilError(t, DefaultSchema().Check())
	assert.ErrorContains(t, Schema{}.Check(), "no fields")
	assert.ErrorContains(t, Schema{{Name: "a", Type: FieldTypeString}, {Name: "a", Type: FieldTypeString}}.Check(), "defined twice")
	assert.ErrorContains(t, Schema{{Name: "a", Type: "date"}}.Check(), "invalid type")
	assert.ErrorContains(t, Schema{
		{Name: "a", Type: FieldTypeNumber, Date: DatePartDay},
		{Name: "b", Type: FieldTypeNumber, Date: DatePartDay},
	}.Check(), "more than one")
}

func TestFormBody(t *testing.T) {
	schema := DefaultSchema()
	idat := validIDAT()
	idat["ort"] = "Bad Homburg v.d.H."

	body, err := schema.FormBody(idat, false)
	assert.NilError(t, err)
	assert.Equal(t, body, "vorname=Max&nachname=Mustermann&geburtstag=01&geburtsmonat=01&geburtsjahr=1990&geburtsname=&plz=&ort=Bad+Homburg+v.d.H.&sureness=false")

	idat["geburtstag"] = 24
	idat["geburtsmonat"] = 11
	body, err = schema.FormBody(idat, true)
	assert.NilError(t, err)
	assert.Equal(t, body, "vorname=Max&nachname=Mustermann&geburtstag=24&geburtsmonat=12&geburtsjahr=1990&geburtsname=&plz=&ort=Bad+Homburg+v.d.H.&sureness=true")
}

func TestFormBodyStringMonth(t *testing.T) {
	schema := Schema{{Name: "monat", Type: FieldTypeString, FixMonth: true, FixZero: true}}
	body, err := schema.FormBody(IDAT{"monat": "4"}, false)
	assert.NilError(t, err)
	assert.Equal(t, body, "monat=05&sureness=false")

	_, err = schema.FormBody(IDAT{"monat": "May"}, false)
	assert.ErrorContains(t, err, "must be an integer")

	idat, err := schema.FromWire(map[string]string{"monat": "05"})
	assert.NilError(t, err)
	assert.DeepEqual(t, idat, IDAT{"monat": "04"})
}

func TestFromWire(t *testing.T) {
	schema := DefaultSchema()
	idat, err := schema.FromWire(map[string]string{
		"vorname":      "Max",
		"nachname":     "Mustermann",
		"geburtstag":   "01",
		"geburtsmonat": "01",
		"geburtsjahr":  "1990",
		"geburtsname":  "",
		"plz":          " ",
		"ort":          "Münster",
	})
	assert.NilError(t, err)
	expected := validIDAT()
	expected["ort"] = "Münster"
	assert.DeepEqual(t, idat, expected)

	_, err = schema.FromWire(map[string]string{"geburtsjahr": "neunzehn"})
	assert.ErrorContains(t, err, "must be an integer")
	_, err = schema.FromWire(map[string]string{"email": "x"})
	assert.ErrorContains(t, err, "not a valid idat field")
}

func TestIDATEqual(t *testing.T) {
	a := validIDAT()
	b := a.Clone()
	assert.Assert(t, a.Equal(b))
	b["plz"] = "48149"
	assert.Assert(t, !a.Equal(b))
	assert.Equal(t, len(a), 5)
}
