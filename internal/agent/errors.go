package agent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedDecision is returned when a decision lacks required fields or
	// the model output cannot be decoded.
	ErrMalformedDecision = errors.New("malformed decision")
	ErrUnknownKind       = errors.New("unknown decision kind")
	ErrEmptyResponse     = errors.New("model returned no choices")
)

// MissingFieldsError lists the fields absent from a decision.
type MissingFieldsError struct {
	Kind   Kind
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s decision missing %s", e.Kind, strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Unwrap() error { return ErrMalformedDecision }
