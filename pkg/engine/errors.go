package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyAttached is returned by Attach when the engine already holds an
// installed subscription. A second attach is an explicit error, never
// undefined behavior.
var ErrAlreadyAttached = errors.New("engine already attached")

// FailureClass classifies an engine failure for containment policy.
type FailureClass string

const (
	// FailureTransformation is a plugin rewrite failure. Recovered
	// locally: the original unit loads.
	FailureTransformation FailureClass = "transformation"

	// FailureRegistration is a downstream registration failure.
	// Recovered locally: the context stays marked, no retry.
	FailureRegistration FailureClass = "registration"

	// FailureDiscovery is a plugin rule-construction failure at attach
	// time. That plugin's contribution is dropped; attach proceeds.
	FailureDiscovery FailureClass = "discovery"

	// FailureAttach is a host-level installation failure. Fatal to the
	// engine's operation; there is no partial-attach state.
	FailureAttach FailureClass = "attach"
)

// EngineError is a classified engine failure with subject context.
// nolint:revive // named to distinguish from standard errors
type EngineError struct {
	// Class determines the containment policy.
	Class FailureClass `json:"class"`

	// Message is the human-readable failure description.
	Message string `json:"message"`

	// Subject is the unit name, context name or plugin name involved.
	Subject string `json:"subject,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("[%s] %s (subject=%s): %v", e.Class, e.Message, e.Subject, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Class, e.Message, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error { return e.Err }

// NewTransformationError creates a contained rewrite failure.
func NewTransformationError(unitName string, err error) *EngineError {
	return &EngineError{Class: FailureTransformation, Message: "transformation failed", Subject: unitName, Err: err}
}

// NewRegistrationError creates a contained registration failure.
func NewRegistrationError(contextName string, err error) *EngineError {
	return &EngineError{Class: FailureRegistration, Message: "registration failed", Subject: contextName, Err: err}
}

// NewDiscoveryError creates a contained plugin-discovery failure.
func NewDiscoveryError(pluginName string, err error) *EngineError {
	return &EngineError{Class: FailureDiscovery, Message: "plugin discovery failed", Subject: pluginName, Err: err}
}

// NewAttachError creates a fatal attach failure.
func NewAttachError(err error) *EngineError {
	return &EngineError{Class: FailureAttach, Message: "host attach failed", Err: err}
}

// IsAttachFailure reports whether err is a fatal attach failure.
func IsAttachFailure(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == FailureAttach
	}
	return false
}

// IsContained reports whether err is recovered locally (anything but an
// attach failure).
func IsContained(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class != FailureAttach
	}
	return false
}
