package models

import (
	"encoding/json"
	"fmt"

	mainzelHttp "github.com/GyroTools/mainzelhandler-connector-go/internals/http"
)

const (
	AddPatientTokenURL   = "tokens/addPatient"
	ReadPatientsTokenURL = "tokens/readPatients"
	CallbackURL          = "patients/send/pseudonyms"
	HealthURL            = mainzelHttp.HealthURL
)

type PseudonymizationURLRequest struct {
	Amount int `json:"amount"`
}

// PseudonymizationURLResponse carries one single use URL per requested
// patient. Each URL can be used for exactly one reconciliation.
type PseudonymizationURLResponse struct {
	UseCallback bool     `json:"useCallback"`
	URLTokens   []string `json:"urlTokens"`
}

type DepseudonymizationURLRequest struct {
	Pseudonyms   []string `json:"pseudonyms"`
	ResultFields []string `json:"resultFields"`
}

// DepseudonymizationURLResponse holds one URL to read all valid pseudonyms.
// URL is empty if none of the pseudonyms is known.
type DepseudonymizationURLResponse struct {
	URL               string   `json:"url"`
	InvalidPseudonyms []string `json:"invalidPseudonyms"`
}

// SendEntry is the body element of a send request to the backend.
type SendEntry struct {
	Pseudonym string `json:"pseudonym"`
	MDAT      string `json:"mdat"`
	Tentative bool   `json:"tentative"`
}

// SendResult maps every pseudonym to whether the backend processed it.
type SendResult map[string]bool

// RequestEntry is one patient returned by a request to the backend.
type RequestEntry struct {
	Pseudonym string `json:"pseudonym"`
	MDAT      string `json:"mdat"`
	Tentative bool   `json:"tentative,omitempty"`
}

// ID is one identifier in a Mainzelliste response.
type ID struct {
	IDType    string `json:"idType"`
	IDString  string `json:"idString"`
	Tentative bool   `json:"tentative"`
}

// ReadPatientsEntry is one element of the response to a readPatients token.
type ReadPatientsEntry struct {
	Fields map[string]string `json:"fields"`
	IDs    []ID              `json:"ids"`
}

// AddPatientResult is the body of a 201 response to a reconciliation.
// API version 1.0 returns {"newId": ..., "tentative": ...}, later versions
// return a list of ids.
type AddPatientResult struct {
	NewID     string
	IDs       []ID
	Tentative bool
}

func (r *AddPatientResult) UnmarshalJSON(data []byte) error {
	var ids []ID
	if err := json.Unmarshal(data, &ids); err == nil {
		r.IDs = ids
		if len(ids) > 0 {
			r.Tentative = ids[0].Tentative
		}
		return nil
	}
	var legacy struct {
		NewID     string `json:"newId"`
		Tentative bool   `json:"tentative"`
		IDs       []ID   `json:"ids"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("cannot parse the response of the Mainzelliste: %w", err)
	}
	r.NewID = legacy.NewID
	r.IDs = legacy.IDs
	r.Tentative = legacy.Tentative
	if len(legacy.IDs) > 0 && !legacy.Tentative {
		r.Tentative = legacy.IDs[0].Tentative
	}
	return nil
}

// Pseudonym picks the identifier according to the api version.
func (r *AddPatientResult) Pseudonym(apiVersion string) string {
	if apiVersion == "1.0" && r.NewID != "" {
		return r.NewID
	}
	if len(r.IDs) > 0 {
		return r.IDs[0].IDString
	}
	return r.NewID
}

// DepseudonymizedPatient is the IDAT found for one pseudonym.
type DepseudonymizedPatient struct {
	IDAT      IDAT `json:"idat"`
	Tentative bool `json:"tentative"`
}

type DepseudonymizationResult struct {
	Depseudonymized map[string]DepseudonymizedPatient `json:"depseudonymized"`
	Invalid         []string                          `json:"invalid"`
}

// PseudonymizationResult lists the keys that got a pseudonym and the ones
// that ended in a conflict, both in input order.
type PseudonymizationResult struct {
	Pseudonymized []Key `json:"pseudonymized"`
	Conflicts     []Key `json:"conflicts"`
}
