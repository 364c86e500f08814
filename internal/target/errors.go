package target

import "fmt"

// ConnectionError reports that a target could not be reached or refused the
// supplied credentials.
type ConnectionError struct {
	Dialect Dialect
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s database %s: %v", e.Dialect, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
