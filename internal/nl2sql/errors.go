package nl2sql

import "fmt"

const (
	StageSQL     = "sql"
	StageExplain = "explain"
)

// GenerationError reports that a model call failed, timed out or produced
// nothing usable.
type GenerationError struct {
	Stage string
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation with model %q failed: %v", e.Stage, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
