package models

import (
	"encoding/json"
	"fmt"
)

// Status is the pseudonymization state of a patient. The numeric values are
// the ones used by the javascript clients and the backend, so they must not
// be renumbered.
type Status int

const (
	StatusIDATConflict  Status = -3
	StatusTokenInvalid  Status = -2
	StatusIDATInvalid   Status = -1
	StatusCreated       Status = 0
	StatusPseudonymized Status = 1
	StatusProcessed     Status = 11
	StatusNotProcessed  Status = 12
	StatusFound         Status = 21
	StatusNotFound      Status = 22
)

var statusNames = map[Status]string{
	StatusIDATConflict:  "IDAT_CONFLICT",
	StatusTokenInvalid:  "TOKEN_INVALID",
	StatusIDATInvalid:   "IDAT_INVALID",
	StatusCreated:       "CREATED",
	StatusPseudonymized: "PSEUDONYMIZED",
	StatusProcessed:     "PROCESSED",
	StatusNotProcessed:  "NOT_PROCESSED",
	StatusFound:         "FOUND",
	StatusNotFound:      "NOT_FOUND",
}

// handledTransitions covers resending or re-requesting a handled patient.
// In callback mode the patient is pseudonymized again, so the conflict
// states are reachable as well.
var handledTransitions = []Status{
	StatusPseudonymized, StatusCreated,
	StatusProcessed, StatusNotProcessed, StatusFound, StatusNotFound,
	StatusIDATConflict, StatusIDATInvalid, StatusTokenInvalid,
}

// transitions lists every state a patient may move to from a given state.
// Transitions out of CREATED and the conflict states are triggered by a
// reconciliation response, the ones out of PSEUDONYMIZED by the backend.
// The resets back to CREATED/PSEUDONYMIZED come from local IDAT/MDAT edits.
var transitions = map[Status][]Status{
	StatusCreated:       {StatusPseudonymized, StatusIDATConflict, StatusIDATInvalid, StatusTokenInvalid},
	StatusIDATConflict:  {StatusPseudonymized, StatusIDATConflict, StatusIDATInvalid, StatusTokenInvalid},
	StatusIDATInvalid:   {StatusPseudonymized, StatusIDATConflict, StatusIDATInvalid, StatusTokenInvalid},
	StatusTokenInvalid:  {StatusPseudonymized, StatusIDATConflict, StatusIDATInvalid, StatusTokenInvalid},
	StatusPseudonymized: {StatusProcessed, StatusNotProcessed, StatusFound, StatusNotFound, StatusCreated},
	StatusProcessed:     handledTransitions,
	StatusNotProcessed:  handledTransitions,
	StatusFound:         handledTransitions,
	StatusNotFound:      handledTransitions,
}

// CanTransition reports whether a patient in state from may move to state to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsConflict is true for the three states that hold an unresolved
// reconciliation attempt.
func (s Status) IsConflict() bool {
	return s == StatusIDATConflict || s == StatusTokenInvalid || s == StatusIDATInvalid
}

// IsHandled is true once the backend has processed or searched the patient.
func (s Status) IsHandled() bool {
	return s == StatusProcessed || s == StatusNotProcessed || s == StatusFound || s == StatusNotFound
}

// HasPseudonym is true for every state in which the patient carries a pseudonym.
func (s Status) HasPseudonym() bool {
	return s == StatusPseudonymized || s.IsHandled()
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseStatus(name)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	var number int
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("invalid status %s", string(data))
	}
	if !Status(number).Valid() {
		return fmt.Errorf("invalid status %d", number)
	}
	*s = Status(number)
	return nil
}

// ParseStatus converts the symbolic name (e.g. "IDAT_CONFLICT") into a Status.
func ParseStatus(name string) (Status, error) {
	for status, statusName := range statusNames {
		if statusName == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown status \"%s\"", name)
}
