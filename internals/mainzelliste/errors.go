package mainzelliste

import "fmt"

// ConnectionError is returned if the Mainzelliste could not be reached.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("error while connecting to the Mainzelliste: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RuntimeError is returned if the Mainzelliste rejected a request.
type RuntimeError struct {
	StatusCode int
	Message    string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("error occured at the Mainzelliste (status code = %d): %s", e.StatusCode, e.Message)
}
