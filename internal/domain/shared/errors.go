package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrUnauthorized        = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrForbidden           = NewDomainError("FORBIDDEN", "Access to this resource is forbidden")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)

// InvariantViolationCode marks data-integrity bugs: a condition that upstream
// validation must have prevented reached the domain layer. Never mapped to a
// caller-facing validation failure.
const InvariantViolationCode = "INVARIANT_VIOLATION"

// NewInvariantViolation creates an invariant-violation error
func NewInvariantViolation(message string) *DomainError {
	return &DomainError{
		Code:    InvariantViolationCode,
		Message: message,
	}
}

// IsInvariantViolation reports whether err is an invariant-violation domain error
func IsInvariantViolation(err error) bool {
	de, ok := err.(*DomainError)
	return ok && de.Code == InvariantViolationCode
}
