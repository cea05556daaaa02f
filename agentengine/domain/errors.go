package domain

import (
	"errors"
	"fmt"
)

// ErrorKind clasifica fallos de proveedor para la política de reintentos del
// Orchestrator. Nunca cruzan la frontera HTTP directamente.
type ErrorKind string

const (
	ErrAuth        ErrorKind = "auth_error"
	ErrRateLimited ErrorKind = "rate_limited"
	ErrInvalid     ErrorKind = "invalid_request"
	ErrUnavailable ErrorKind = "provider_unavailable"
	ErrTimeout     ErrorKind = "timeout"
)

// ProviderError envuelve el error crudo del SDK con su clasificación
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindOf extrae la clasificación de un error. Errores que no son de proveedor
// se tratan como provider_unavailable.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrUnavailable
}
