package claims

import (
	"fmt"
	"strings"
)

// SchemaError reports that a required identifying column is missing.
type SchemaError struct {
	Sheet     string
	Column    string
	Available []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("sheet %q: missing column %q (available: %s)", e.Sheet, e.Column, strings.Join(e.Available, ", "))
}

// EmptyInputError reports that no usable rows remained after filtering.
type EmptyInputError struct {
	Sheet string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("sheet %q has no valid SO rows", e.Sheet)
}
