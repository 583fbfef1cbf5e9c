package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches any failure to get a reply from the model endpoint.
	ErrTransport = errors.New("conversation: transport failure")

	// ErrSchemaValidation matches any reply that is not a valid structured
	// reply.
	ErrSchemaValidation = errors.New("conversation: reply failed schema validation")
)

// TransportError wraps a provider failure. It matches ErrTransport.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("conversation: %s request failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// SchemaError describes why a reply was rejected. It matches
// ErrSchemaValidation.
type SchemaError struct {
	// Field is the offending property, or "" when the document itself is
	// malformed.
	Field string

	// Reason is a short description of the violation.
	Reason string

	// Err is the underlying decode error, if any.
	Err error
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "conversation: invalid reply: " + e.Reason
	}
	return fmt.Sprintf("conversation: invalid reply: field %q %s", e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Is reports whether target is ErrSchemaValidation.
func (e *SchemaError) Is(target error) bool { return target == ErrSchemaValidation }
