package popdeploy

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors - one per failure class of a deployment run.
var (
	ErrConfiguration         = errors.New("popdeploy: configuration error")
	ErrCompile               = errors.New("popdeploy: compilation failed")
	ErrArtifactNotFound      = errors.New("popdeploy: artifact not found")
	ErrDeploymentTransaction = errors.New("popdeploy: deployment transaction failed")
	ErrConfirmation          = errors.New("popdeploy: confirmation failed")
)

// Sentinel errors - Details
var (
	ErrUnknownNetwork          = errors.New("popdeploy: unknown network")
	ErrMissingVariable         = errors.New("popdeploy: required variable is not set")
	ErrMissingSignerCredential = errors.New("popdeploy: no signer credential configured")
	ErrChainIDMismatch         = errors.New("popdeploy: chain id mismatch")
	ErrDeploymentReverted      = errors.New("popdeploy: deployment reverted")
)

// Process exit codes.
const (
	ExitOK                    = 0
	ExitFailure               = 1
	ExitConfiguration         = 2
	ExitCompile               = 3
	ExitArtifactNotFound      = 4
	ExitDeploymentTransaction = 5
	ExitConfirmation          = 6
)

// ConfigurationError represents missing or invalid profile or request input.
// It is always detected before any network call.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error: %s - %s", e.Field, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigurationError creates a new ConfigurationError with the given field and message.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{
		Field:   field,
		Message: message,
	}
}

// WrapConfigurationError wraps err with field context.
// Returns nil if the provided error is nil.
func WrapConfigurationError(field, message string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigurationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// CompileError is returned when the external compiler toolchain fails.
type CompileError struct {
	Tool   string
	Output string
	Err    error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	msg := fmt.Sprintf("compile with %s: %v", e.Tool, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *CompileError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrCompile.
func (e *CompileError) Is(target error) bool {
	return target == ErrCompile
}

// ArtifactNotFoundError is returned when no compiled artifact matches the identifier.
type ArtifactNotFoundError struct {
	Contract string
	Searched []string
	Err      error
}

// Error implements the error interface.
func (e *ArtifactNotFoundError) Error() string {
	msg := fmt.Sprintf("artifact %q not found", e.Contract)
	if len(e.Searched) > 0 {
		msg += " in " + strings.Join(e.Searched, ", ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *ArtifactNotFoundError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrArtifactNotFound.
func (e *ArtifactNotFoundError) Is(target error) bool {
	return target == ErrArtifactNotFound
}

// DeploymentTransactionError is returned when the deployment transaction cannot be
// built, signed or accepted by the network.
type DeploymentTransactionError struct {
	Network string
	Op      string
	Err     error
}

// Error implements the error interface.
func (e *DeploymentTransactionError) Error() string {
	return fmt.Sprintf("deployment transaction on %s: %s: %v", e.Network, e.Op, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *DeploymentTransactionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDeploymentTransaction.
func (e *DeploymentTransactionError) Is(target error) bool {
	return target == ErrDeploymentTransaction
}

// WrapTransactionError wraps err with network and operation context.
// Returns nil if the provided error is nil.
func WrapTransactionError(network, op string, err error) error {
	if err == nil {
		return nil
	}
	return &DeploymentTransactionError{
		Network: network,
		Op:      op,
		Err:     err,
	}
}

// ConfirmationError is returned when a submitted transaction is not confirmed.
type ConfirmationError struct {
	Network string
	TxHash  string
	Err     error
}

// Error implements the error interface.
func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("confirm transaction %s on %s: %v", e.TxHash, e.Network, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *ConfirmationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrConfirmation.
func (e *ConfirmationError) Is(target error) bool {
	return target == ErrConfirmation
}

// ExitCode maps an error returned by a run to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConfiguration):
		return ExitConfiguration
	case errors.Is(err, ErrCompile):
		return ExitCompile
	case errors.Is(err, ErrArtifactNotFound):
		return ExitArtifactNotFound
	case errors.Is(err, ErrDeploymentTransaction):
		return ExitDeploymentTransaction
	case errors.Is(err, ErrConfirmation):
		return ExitConfirmation
	default:
		return ExitFailure
	}
}
