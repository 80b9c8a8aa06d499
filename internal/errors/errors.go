// Package errors defines the error taxonomy shared by the bus, the kanban
// board, the coordination loop and the multi-team orchestrator.
//
// # Error Kinds
//
// Semantic errors describe what went wrong independent of the subsystem:
//   - NotFoundError: unknown participant, channel, card, team or agent
//   - AlreadyExistsError: duplicate registration or channel creation
//   - ValidationError: invalid input or configuration
//   - TimeoutError: a request/reply or step exceeded its deadline
//   - ResourceExhaustedError: a WIP-limited column is full
//
// TeamError is the one domain error. It wraps a failure that happened inside a
// single team's sprint so the orchestrator can log it with team context
// without aborting sibling teams.
//
// Every kind matches a sentinel through errors.Is, so callers can write
//
//	if errors.Is(err, errors.ErrNotRegistered) { ... }
//	var wip *errors.ResourceExhaustedError
//	if errors.As(err, &wip) { ... }
//
// Conditions that are expected during normal multi-team operation (no ready
// card, an unknown reply id, a borrow of an agent that already left) are not
// errors at all; the owning component reports them through return values.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-exported so callers only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are only interesting while debugging.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that degrade a cycle but not the experiment.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Message bus sentinels.
var (
	// ErrNotRegistered indicates a participant id has no inbox on the bus.
	ErrNotRegistered = New("participant not registered")
	// ErrAlreadyRegistered indicates a participant id already has an inbox.
	ErrAlreadyRegistered = New("participant already registered")
	// ErrChannelNotFound indicates an unknown channel name.
	ErrChannelNotFound = New("channel not found")
	// ErrChannelExists indicates a channel with the same name already exists.
	ErrChannelExists = New("channel already exists")
	// ErrRequestTimeout indicates no reply arrived before the request deadline.
	ErrRequestTimeout = New("request timed out")
	// ErrBusClosed indicates the bus has been closed.
	ErrBusClosed = New("message bus closed")
)

// Kanban sentinels.
var (
	// ErrCardNotFound indicates a card id is unknown to the card store.
	ErrCardNotFound = New("card not found")
	// ErrWIPLimitExceeded indicates a move into a full WIP-limited column.
	ErrWIPLimitExceeded = New("wip limit exceeded")
	// ErrInvalidStatus indicates an unknown card status.
	ErrInvalidStatus = New("invalid card status")
)

// Team sentinels.
var (
	// ErrTeamNotFound indicates an unknown team id.
	ErrTeamNotFound = New("team not found")
	// ErrAgentNotFound indicates an unknown agent id.
	ErrAgentNotFound = New("agent not found")
	// ErrSprintFailed indicates a team's sprint returned an error or panicked.
	ErrSprintFailed = New("sprint failed")
)

// General sentinels.
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrResourceExhausted indicates a bounded resource has no capacity left.
	ErrResourceExhausted = New("resource exhausted")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// FleetError is implemented by every error type in this package.
type FleetError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	sentinel  error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

// Is matches the configured sentinel first, then the cause chain.
func (e *baseError) Is(target error) bool {
	if e.sentinel != nil && target == e.sentinel {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Message returns the error message without context or cause.
func (e *baseError) Message() string { return e.message }

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool { return e.retryable }

// -----------------------------------------------------------------------------
// Domain Error
// -----------------------------------------------------------------------------

// TeamError wraps a failure inside a single team's unit of work.
//
// Example:
//
//	err := errors.NewTeamError("sprint runner failed", cause).WithTeamID("alpha").WithSprint(3)
//	fmt.Println(err) // "team error [team=alpha, sprint=3]: sprint runner failed: <cause>"
type TeamError struct {
	baseError
	TeamID  string
	AgentID string
	Sprint  int
}

// NewTeamError creates a new TeamError.
func NewTeamError(message string, cause error) *TeamError {
	return &TeamError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			sentinel: ErrSprintFailed,
			severity: SeverityError,
		},
	}
}

// WithTeamID sets the team the failure belongs to.
func (e *TeamError) WithTeamID(id string) *TeamError {
	e.TeamID = id
	return e
}

// WithAgentID sets the agent involved in the failure.
func (e *TeamError) WithAgentID(id string) *TeamError {
	e.AgentID = id
	return e
}

// WithSprint sets the sprint number.
func (e *TeamError) WithSprint(n int) *TeamError {
	e.Sprint = n
	return e
}

// WithSeverity overrides the severity.
func (e *TeamError) WithSeverity(s Severity) *TeamError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *TeamError) Error() string {
	var ctx []string
	if e.TeamID != "" {
		ctx = append(ctx, "team="+e.TeamID)
	}
	if e.AgentID != "" {
		ctx = append(ctx, "agent="+e.AgentID)
	}
	if e.Sprint > 0 {
		ctx = append(ctx, fmt.Sprintf("sprint=%d", e.Sprint))
	}

	prefix := "team error"
	if len(ctx) > 0 {
		prefix = fmt.Sprintf("team error [%s]", strings.Join(ctx, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *TeamError) Is(target error) bool {
	if _, ok := target.(*TeamError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("participant", "bob").WithSentinel(errors.ErrNotRegistered)
//	fmt.Println(err) // "participant "bob" not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithSentinel sets the sentinel this error matches under errors.Is.
func (e *NotFoundError) WithSentinel(sentinel error) *NotFoundError {
	e.sentinel = sentinel
	return e
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s %q not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s %q not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that already exists.
//
// Example:
//
//	err := errors.NewAlreadyExistsError("channel", "pair-1").WithSentinel(errors.ErrChannelExists)
//	fmt.Println(err) // "channel "pair-1" already exists"
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithSentinel sets the sentinel this error matches under errors.Is.
func (e *AlreadyExistsError) WithSentinel(sentinel error) *AlreadyExistsError {
	e.sentinel = sentinel
	return e
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("weights must sum to 1.0").WithField("overhead.weights").WithValue(0.9)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			sentinel: ErrInvalidInput,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithSentinel sets an additional sentinel this error matches.
func (e *ValidationError) WithSentinel(sentinel error) *ValidationError {
	e.cause = sentinel
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	if len(parts) > 0 {
		return fmt.Sprintf("validation error [%s]: %s", strings.Join(parts, ", "), e.message)
	}
	return "validation error: " + e.message
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that exceeded its deadline.
//
// Example:
//
//	err := errors.NewTimeoutError("request to bob", 2*time.Second)
//	fmt.Println(err) // "timeout error: request to bob (timeout: 2s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			sentinel:  ErrTimeout,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error, typically a more specific sentinel
// such as ErrRequestTimeout.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ResourceExhaustedError reports a bounded resource with no remaining capacity,
// such as a full WIP-limited kanban column.
//
// Example:
//
//	err := errors.NewResourceExhaustedError("in_progress", 3, 3)
//	fmt.Println(err) // "resource exhausted: in_progress at limit (3/3)"
type ResourceExhaustedError struct {
	baseError
	Resource string
	Current  int
	Limit    int
}

// NewResourceExhaustedError creates a new ResourceExhaustedError.
func NewResourceExhaustedError(resource string, current, limit int) *ResourceExhaustedError {
	return &ResourceExhaustedError{
		baseError: baseError{
			sentinel:  ErrResourceExhausted,
			severity:  SeverityInfo,
			retryable: true,
		},
		Resource: resource,
		Current:  current,
		Limit:    limit,
	}
}

// WithCause adds a cause to the error.
func (e *ResourceExhaustedError) WithCause(cause error) *ResourceExhaustedError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource exhausted: %s at limit (%d/%d)", e.Resource, e.Current, e.Limit)
}

// Is checks if this error matches the target.
func (e *ResourceExhaustedError) Is(target error) bool {
	if _, ok := target.(*ResourceExhaustedError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// such as a timeout or a full column.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fe FleetError
	if As(err, &fe) {
		return fe.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement FleetError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var fe FleetError
	if As(err, &fe) {
		return fe.Severity()
	}
	return SeverityError
}

// IsSemanticError returns true if the error is one of the semantic kinds.
func IsSemanticError(err error) bool {
	if err == nil {
		return false
	}

	var notFound *NotFoundError
	var alreadyExists *AlreadyExistsError
	var validation *ValidationError
	var timeout *TimeoutError
	var exhausted *ResourceExhaustedError

	return As(err, &notFound) || As(err, &alreadyExists) ||
		As(err, &validation) || As(err, &timeout) || As(err, &exhausted)
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
