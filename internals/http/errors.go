package http

import "fmt"

// ProtocolError is returned when the backend or the Mainzelliste answers with
// an unexpected status code. It aborts the whole batch.
type ProtocolError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *ProtocolError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected response from %s: status code = %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("unexpected response from %s: status code = %d: %s", e.URL, e.StatusCode, e.Body)
}
