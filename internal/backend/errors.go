package backend

import "fmt"

// ConfigError indicates a backend is missing required configuration
// (connection strings, credentials, model names). It is never retried.
type ConfigError struct {
	Backend string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("backend %s: configuration error: %s", e.Backend, e.Reason)
}

func NewConfigError(backend, reason string) *ConfigError {
	return &ConfigError{Backend: backend, Reason: reason}
}

// BackendError wraps a failure surfaced by the underlying store (Neo4j,
// Qdrant, Redis, ...). The wrapped error carries the original cause.
type BackendError struct {
	Backend string
	Op      string
	Wrapped error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Op, e.Wrapped)
}

func (e *BackendError) Unwrap() error { return e.Wrapped }

func NewBackendError(backend, op string, wrapped error) *BackendError {
	return &BackendError{Backend: backend, Op: op, Wrapped: wrapped}
}

// TransientError indicates a retryable failure (timeout, connection reset,
// rate limiting). The pipeline's retry stage treats this distinctly from a
// BackendError, which it treats as terminal for the current item.
type TransientError struct {
	Backend string
	Wrapped error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("backend %s: transient failure: %v", e.Backend, e.Wrapped)
}

func (e *TransientError) Unwrap() error { return e.Wrapped }

func NewTransientError(backend string, wrapped error) *TransientError {
	return &TransientError{Backend: backend, Wrapped: wrapped}
}

// UnsupportedOperationError indicates a backend was asked to perform an
// operation its Capabilities declare it doesn't support.
type UnsupportedOperationError struct {
	Backend   string
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("backend %s: operation %q is not supported", e.Backend, e.Operation)
}

func NewUnsupportedOperationError(backend, operation string) *UnsupportedOperationError {
	return &UnsupportedOperationError{Backend: backend, Operation: operation}
}

// IDNotSupportedError indicates an identifier's shape doesn't match what the
// backend's declared id_type accepts (e.g. a UUID handed to a name-keyed
// backend).
type IDNotSupportedError struct {
	ID     string
	Reason string
}

func (e *IDNotSupportedError) Error() string {
	return fmt.Sprintf("id %q not supported: %s", e.ID, e.Reason)
}

func NewIDNotSupportedError(id, reason string) *IDNotSupportedError {
	return &IDNotSupportedError{ID: id, Reason: reason}
}
