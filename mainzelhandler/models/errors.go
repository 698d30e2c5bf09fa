package models

import (
	"errors"
	"fmt"

	mainzelHttp "github.com/GyroTools/mainzelhandler-connector-go/internals/http"
)

var ErrUnknownPatient = errors.New("unknown patient")

type ValidationReason int

const (
	ReasonMissing ValidationReason = iota
	ReasonType
	ReasonUnknown
	ReasonRequiredDelete
	ReasonNotInteger
	ReasonInvalidDate
	ReasonFutureDate
)

// ValidationError is returned for IDAT that does not fulfill the schema. It is
// raised before anything is sent over the network.
type ValidationError struct {
	Field  string
	Reason ValidationReason
	Got    string
	Want   string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonMissing:
		return fmt.Sprintf("Field with name '%s' is not present but required!", e.Field)
	case ReasonType:
		return fmt.Sprintf("Field with name '%s' of the type '%s' must be of the type '%s'!", e.Field, e.Got, e.Want)
	case ReasonUnknown:
		return fmt.Sprintf("Field with name '%s' is not a valid idat field!", e.Field)
	case ReasonRequiredDelete:
		return fmt.Sprintf("Field with name '%s' can not get deleted because it is required!", e.Field)
	case ReasonNotInteger:
		return fmt.Sprintf("Field with name '%s' must be an integer but is '%s'!", e.Field, e.Got)
	case ReasonInvalidDate:
		return fmt.Sprintf("Field with name '%s' is not a valid part of a date: '%s'!", e.Field, e.Got)
	case ReasonFutureDate:
		return fmt.Sprintf("Field with name '%s' results in a birthdate in the future (%s)!", e.Field, e.Got)
	}
	return fmt.Sprintf("Field with name '%s' is invalid!", e.Field)
}

// ProtocolError is returned when the backend or the Mainzelliste answers with
// an unexpected status code.
type ProtocolError = mainzelHttp.ProtocolError
