package mobie

import "fmt"

// DatasetNotFoundError is returned when a volume is added to a dataset that is not
// registered in the project catalog.
type DatasetNotFoundError struct {
	Root    string
	Dataset string
}

func (e *DatasetNotFoundError) Error() string {
	return fmt.Sprintf("dataset %q not found in %s", e.Dataset, e.Root)
}

// WorkflowError signals that an external workflow reported non-success or could not be run.
// Stage names the failing step, e.g., "downscaling" or "statistics".
type WorkflowError struct {
	Stage string
	Err   error
}

func (e *WorkflowError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s workflow failed", e.Stage)
	}
	return fmt.Sprintf("%s workflow failed: %v", e.Stage, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// AttributeIOError is a failure to open a container or to read or write dataset attributes.
type AttributeIOError struct {
	Op      string // "open", "get" or "set"
	Path    string
	Dataset string
	Err     error
}

func (e *AttributeIOError) Error() string {
	if e.Dataset == "" {
		return fmt.Sprintf("attribute %s on container %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("attribute %s on %s:%s: %v", e.Op, e.Path, e.Dataset, e.Err)
}

func (e *AttributeIOError) Unwrap() error {
	return e.Err
}
