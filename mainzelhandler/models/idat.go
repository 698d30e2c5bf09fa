package models

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeNumber FieldType = "number"
)

// DatePart marks a field as one component of the birthdate.
type DatePart string

const (
	DatePartNone  DatePart = ""
	DatePartDay   DatePart = "day"
	DatePartMonth DatePart = "month"
	DatePartYear  DatePart = "year"
)

// Field describes one IDAT field of the Mainzelliste.
//
// FixMonth means the local value is zero based (0 = January) and is shifted
// by one on the wire. FixZero pads single digit wire values with a leading
// zero, which the Mainzelliste expects for days and months.
type Field struct {
	Name     string    `json:"name" mapstructure:"name"`
	Type     FieldType `json:"type" mapstructure:"type"`
	Required bool      `json:"required" mapstructure:"required"`
	FixMonth bool      `json:"fixMonth" mapstructure:"fixMonth"`
	FixZero  bool      `json:"fixZero" mapstructure:"fixZero"`
	Date     DatePart  `json:"date,omitempty" mapstructure:"date"`
}

// Schema is the ordered list of IDAT fields. The order defines the position
// of the values passed to CreateIDAT and the layout of the form body.
type Schema []Field

// IDAT holds the identifying data of a patient. Values are either string or
// int, depending on the type of the field in the schema.
type IDAT map[string]any

// now is replaced in tests.
var now = time.Now

// DefaultSchema returns the field layout of a standard Mainzelliste setup.
func DefaultSchema() Schema {
	return Schema{
		{Name: "vorname", Type: FieldTypeString, Required: true},
		{Name: "nachname", Type: FieldTypeString, Required: true},
		{Name: "geburtstag", Type: FieldTypeNumber, Required: true, FixZero: true, Date: DatePartDay},
		{Name: "geburtsmonat", Type: FieldTypeNumber, Required: true, FixMonth: true, FixZero: true, Date: DatePartMonth},
		{Name: "geburtsjahr", Type: FieldTypeNumber, Required: true, Date: DatePartYear},
		{Name: "geburtsname", Type: FieldTypeString},
		{Name: "plz", Type: FieldTypeString},
		{Name: "ort", Type: FieldTypeString},
	}
}

func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Check validates the schema itself.
func (s Schema) Check() error {
	if len(s) == 0 {
		return fmt.Errorf("the idat schema has no fields")
	}
	seen := map[string]bool{}
	parts := map[DatePart]bool{}
	for _, f := range s {
		if f.Name == "" {
			return fmt.Errorf("the idat schema contains a field without a name")
		}
		if seen[f.Name] {
			return fmt.Errorf("the idat field \"%s\" is defined twice", f.Name)
		}
		seen[f.Name] = true
		if f.Type != FieldTypeString && f.Type != FieldTypeNumber {
			return fmt.Errorf("the idat field \"%s\" has the invalid type \"%s\"", f.Name, f.Type)
		}
		switch f.Date {
		case DatePartNone:
		case DatePartDay, DatePartMonth, DatePartYear:
			if parts[f.Date] {
				return fmt.Errorf("the date part \"%s\" is used by more than one idat field", f.Date)
			}
			parts[f.Date] = true
		default:
			return fmt.Errorf("the idat field \"%s\" has the invalid date part \"%s\"", f.Name, f.Date)
		}
	}
	return nil
}

func (idat IDAT) Clone() IDAT {
	clone := make(IDAT, len(idat))
	for k, v := range idat {
		clone[k] = v
	}
	return clone
}

// Equal compares two validated IDAT records.
func (idat IDAT) Equal(other IDAT) bool {
	if len(idat) != len(other) {
		return false
	}
	for k, v := range idat {
		o, ok := other[k]
		if !ok || o != v {
			return false
		}
	}
	return true
}

// Validate checks idat against the schema and returns a normalized copy:
// strings are trimmed, blank optional strings are dropped and numbers are
// converted to int.
func (s Schema) Validate(idat IDAT) (IDAT, error) {
	result := IDAT{}
	for _, field := range s {
		value, present := idat[field.Name]
		if !present || value == nil {
			if field.Required {
				return nil, &ValidationError{Field: field.Name, Reason: ReasonMissing}
			}
			continue
		}
		normalized, err := field.normalize(value)
		if err != nil {
			return nil, err
		}
		if normalized == nil {
			if field.Required {
				return nil, &ValidationError{Field: field.Name, Reason: ReasonMissing}
			}
			continue
		}
		result[field.Name] = normalized
	}

	unknown := []string{}
	for key := range idat {
		if _, ok := s.Field(key); !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ValidationError{Field: unknown[0], Reason: ReasonUnknown}
	}

	if err := s.validateBirthdate(result); err != nil {
		return nil, err
	}
	return result, nil
}

// Normalize validates a single value of the named field. A blank string is
// returned as nil, i.e. absent.
func (s Schema) Normalize(name string, value any) (any, error) {
	field, ok := s.Field(name)
	if !ok {
		return nil, &ValidationError{Field: name, Reason: ReasonUnknown}
	}
	if value == nil {
		return nil, nil
	}
	return field.normalize(value)
}

// normalize returns nil for a blank string.
func (f Field) normalize(value any) (any, error) {
	switch f.Type {
	case FieldTypeString:
		str, ok := value.(string)
		if !ok {
			return nil, &ValidationError{Field: f.Name, Reason: ReasonType, Got: typeName(value), Want: string(f.Type)}
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return nil, nil
		}
		return str, nil
	case FieldTypeNumber:
		number, isNumber, err := toInt(value)
		if !isNumber {
			return nil, &ValidationError{Field: f.Name, Reason: ReasonType, Got: typeName(value), Want: string(f.Type)}
		}
		if err != nil {
			return nil, &ValidationError{Field: f.Name, Reason: ReasonNotInteger, Got: fmt.Sprint(value)}
		}
		return number, nil
	}
	return nil, fmt.Errorf("the idat field \"%s\" has the invalid type \"%s\"", f.Name, f.Type)
}

func (s Schema) validateBirthdate(idat IDAT) error {
	var day, month, year int
	var dayField, monthField, yearField *Field
	for i := range s {
		f := &s[i]
		if f.Date == DatePartNone {
			continue
		}
		value, ok := idat[f.Name]
		if !ok {
			continue
		}
		number, err := datePartValue(value)
		if err != nil {
			return &ValidationError{Field: f.Name, Reason: ReasonInvalidDate, Got: fmt.Sprint(value)}
		}
		switch f.Date {
		case DatePartDay:
			if number < 1 || number > 31 {
				return &ValidationError{Field: f.Name, Reason: ReasonInvalidDate, Got: fmt.Sprint(value)}
			}
			day, dayField = number, f
		case DatePartMonth:
			if f.FixMonth {
				number++
			}
			if number < 1 || number > 12 {
				return &ValidationError{Field: f.Name, Reason: ReasonInvalidDate, Got: fmt.Sprint(value)}
			}
			month, monthField = number, f
		case DatePartYear:
			if number < 1 {
				return &ValidationError{Field: f.Name, Reason: ReasonInvalidDate, Got: fmt.Sprint(value)}
			}
			year, yearField = number, f
		}
	}
	if dayField == nil || monthField == nil || yearField == nil {
		return nil
	}

	birthdate := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if birthdate.Day() != day {
		return &ValidationError{Field: dayField.Name, Reason: ReasonInvalidDate, Got: fmt.Sprint(idat[dayField.Name])}
	}
	today := now()
	if birthdate.After(time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)) {
		return &ValidationError{Field: yearField.Name, Reason: ReasonFutureDate, Got: birthdate.Format("2006-01-02")}
	}
	return nil
}

func datePartValue(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case string:
		return strconv.Atoi(v)
	}
	return 0, fmt.Errorf("unexpected date value %v", value)
}

// FormBody builds the form encoded body of a reconciliation request. The
// layout is dictated by the Mainzelliste: every schema field in order, empty
// values for absent fields and the sureness flag at the end.
func (s Schema) FormBody(idat IDAT, sureness bool) (string, error) {
	var body strings.Builder
	for _, field := range s {
		body.WriteString(field.Name)
		body.WriteString("=")
		value, ok := idat[field.Name]
		if ok && value != nil {
			wire, err := field.wireValue(value)
			if err != nil {
				return "", err
			}
			body.WriteString(url.QueryEscape(wire))
		}
		body.WriteString("&")
	}
	body.WriteString("sureness=")
	body.WriteString(strconv.FormatBool(sureness))
	return body.String(), nil
}

func (f Field) wireValue(value any) (string, error) {
	var str string
	switch v := value.(type) {
	case int:
		if f.FixMonth {
			v++
		}
		str = strconv.Itoa(v)
	case string:
		str = v
		if f.FixMonth {
			number, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return "", &ValidationError{Field: f.Name, Reason: ReasonNotInteger, Got: v}
			}
			str = strconv.Itoa(number + 1)
		}
	default:
		return "", &ValidationError{Field: f.Name, Reason: ReasonType, Got: typeName(value), Want: string(f.Type)}
	}
	if f.FixZero && len(str) == 1 {
		str = "0" + str
	}
	return str, nil
}

// FromWire converts the fields returned by a depseudonymization back into
// local IDAT. It reverses the month shift applied by FormBody; empty values
// are treated as absent.
func (s Schema) FromWire(fields map[string]string) (IDAT, error) {
	idat := IDAT{}
	for name, raw := range fields {
		field, ok := s.Field(name)
		if !ok {
			return nil, &ValidationError{Field: name, Reason: ReasonUnknown}
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		switch {
		case field.Type == FieldTypeNumber:
			number, err := strconv.Atoi(raw)
			if err != nil {
				return nil, &ValidationError{Field: name, Reason: ReasonNotInteger, Got: raw}
			}
			if field.FixMonth {
				number--
			}
			idat[name] = number
		case field.FixMonth:
			number, err := strconv.Atoi(raw)
			if err != nil {
				return nil, &ValidationError{Field: name, Reason: ReasonNotInteger, Got: raw}
			}
			value := strconv.Itoa(number - 1)
			if len(value) == 1 {
				value = "0" + value
			}
			idat[name] = value
		default:
			idat[name] = raw
		}
	}
	return idat, nil
}

// toInt reports whether value is a number at all and, if so, whether it is
// an integer.
func toInt(value any) (int, bool, error) {
	switch v := value.(type) {
	case int:
		return v, true, nil
	case int8:
		return int(v), true, nil
	case int16:
		return int(v), true, nil
	case int32:
		return int(v), true, nil
	case int64:
		return int64ToInt(v)
	case uint:
		return uint64ToInt(uint64(v))
	case uint8:
		return int(v), true, nil
	case uint16:
		return int(v), true, nil
	case uint32:
		return uint64ToInt(uint64(v))
	case uint64:
		return uint64ToInt(v)
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int64ToInt(i)
		}
		f, err := v.Float64()
		if err != nil {
			return 0, true, err
		}
		return floatToInt(f)
	}
	return 0, false, nil
}

func int64ToInt(i int64) (int, bool, error) {
	if i > math.MaxInt || i < math.MinInt {
		return 0, true, fmt.Errorf("%d is out of range", i)
	}
	return int(i), true, nil
}

func uint64ToInt(u uint64) (int, bool, error) {
	if u > math.MaxInt {
		return 0, true, fmt.Errorf("%d is out of range", u)
	}
	return int(u), true, nil
}

func floatToInt(f float64) (int, bool, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, true, fmt.Errorf("%v is not an integer", f)
	}
	if f >= math.MaxInt || f < math.MinInt {
		return 0, true, fmt.Errorf("%v is out of range", f)
	}
	return int(f), true, nil
}

// typeName mirrors the type names used in the error messages of the
// javascript clients.
func typeName(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return "number"
	}
	return "object"
}
