// Package errors provides structured error handling for netsentry.
// Every error that crosses a package boundary carries an ErrorCode so callers
// (the scan service, the HTTP API, the CLI) can classify it without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Target and probing errors.
	CodeTargetInvalid  ErrorCode = "TARGET_INVALID"
	CodeProbeFailed    ErrorCode = "PROBE_FAILED"
	CodeHostProcessing ErrorCode = "HOST_PROCESSING"

	// Orchestration errors.
	CodeOrchestratorFatal ErrorCode = "ORCHESTRATOR_FATAL"
	CodeSupervisorStart   ErrorCode = "SUPERVISOR_START"
	CodeLeaseHeld         ErrorCode = "LEASE_HELD"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"
)

// ScanError represents an error raised while accepting or running a scan.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target: %s)", msg, e.Target)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithOperation records the operation that failed.
func (e *ScanError) WithOperation(op string) *ScanError {
	e.Operation = op
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	e := NewScanError(code, message)
	e.Target = target
	return e
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	e := NewScanError(code, message)
	e.Cause = err
	return e
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	e := WrapScanError(code, message, err)
	e.Target = target
	return e
}

// HostError is a failure confined to one host of a scan. The orchestrator
// records it on the host and keeps going.
type HostError struct {
	Code    ErrorCode
	Host    string
	Stage   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *HostError) Error() string {
	msg := fmt.Sprintf("[%s] %s (host: %s", e.Code, e.Message, e.Host)
	if e.Stage != "" {
		msg += ", stage: " + e.Stage
	}
	msg += ")"
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *HostError) Unwrap() error {
	return e.Cause
}

// NewHostError wraps a per-host failure.
func NewHostError(host, stage string, err error) *HostError {
	return &HostError{
		Code:    CodeHostProcessing,
		Host:    host,
		Stage:   stage,
		Message: "host processing failed",
		Cause:   err,
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	e := NewDatabaseError(code, message)
	e.Cause = err
	return e
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// GetCode extracts the outermost error code found in err's chain.
func GetCode(err error) ErrorCode {
	for err != nil {
		switch e := err.(type) {
		case *ScanError:
			return e.Code
		case *HostError:
			return e.Code
		case *DatabaseError:
			return e.Code
		case *ConfigError:
			return e.Code
		}
		err = stderrors.Unwrap(err)
	}
	return CodeUnknown
}

// IsCode reports whether any coded error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if c := GetCode(err); c == code {
			return true
		} else if c == CodeUnknown {
			return false
		}
		err = nextCoded(err)
	}
	return false
}

// nextCoded skips past the first coded error so IsCode can look deeper.
func nextCoded(err error) error {
	for err != nil {
		switch err.(type) {
		case *ScanError, *HostError, *DatabaseError, *ConfigError:
			return stderrors.Unwrap(err)
		}
		err = stderrors.Unwrap(err)
	}
	return nil
}

// IsNotFound reports whether err represents a missing record.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "invalid target specification", target)
}

// ErrScanNotFound creates an error for an unknown scan id.
func ErrScanNotFound(id string) *ScanError {
	return NewScanError(CodeNotFound, "scan not found").WithContext("scan_id", id)
}

// ErrSupervisorStart creates an error for a scan whose execution could not be started.
func ErrSupervisorStart(reason string, err error) *ScanError {
	return WrapScanError(CodeSupervisorStart, "failed to start scan execution: "+reason, err)
}

// ErrOrchestratorFatal creates an error that terminates a scan as failed.
func ErrOrchestratorFatal(stage string, err error) *ScanError {
	return WrapScanError(CodeOrchestratorFatal, "scan aborted during "+stage, err).WithOperation(stage)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "failed to connect to database", err)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "required configuration field missing", field, nil)
}
