package graph

import (
	"errors"
	"strings"
)

var (
	// ErrMalformedDocument matches every *MalformedDocumentError.
	ErrMalformedDocument = errors.New("graph: malformed document")
	// ErrIdentityConflict is returned when two records of different types share an id.
	ErrIdentityConflict = errors.New("graph: identity conflict")
	// ErrCycle is returned when encoding reaches a record already being encoded.
	ErrCycle = errors.New("graph: cycle in owned records")
)

// MalformedDocumentError describes a record that cannot be decoded.
type MalformedDocumentError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MalformedDocumentError) Error() string {
	var b strings.Builder
	b.WriteString(ErrMalformedDocument.Error())
	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *MalformedDocumentError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMalformedDocument.
func (e *MalformedDocumentError) Is(target error) bool {
	return target == ErrMalformedDocument
}

func malformed(path, reason string, err error) error {
	return &MalformedDocumentError{Path: path, Reason: reason, Err: err}
}
