package authz

import "errors"

// Sentinel errors forming the request error taxonomy. Services wrap these
// with context via fmt.Errorf("...: %w", ...); the HTTP layer maps them to
// status codes. A denial for a resource the identity cannot see is reported
// as ErrNotFound so that out-of-scope data is never confirmed to exist.
var (
	// ErrNotFound means the referenced entity does not exist, or is outside
	// the requester's visibility scope.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the identity lacks the right for the requested
	// operation on an entity it can see.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated means no valid identity was resolved for the request.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrValidation means a field value is malformed or violates a
	// constraint, such as a duplicate tag name.
	ErrValidation = errors.New("validation failed")

	// ErrOperationFailed means a mutation could not be completed; any partial
	// work has been rolled back.
	ErrOperationFailed = errors.New("operation failed")
)

// DenyError maps a denial to the request error taxonomy. Read denials and
// denials on invisible resources surface as ErrNotFound so the response is
// indistinguishable from a genuinely missing row; write denials on a
// resource the identity can read surface as ErrForbidden.
func DenyError(d Decision, action Action) error {
	if d.Allowed {
		return nil
	}
	if action == ActionRead || !d.Visible {
		return ErrNotFound
	}
	return ErrForbidden
}

// IsNotFound returns true if err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsForbidden returns true if err is or wraps ErrForbidden.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsUnauthenticated returns true if err is or wraps ErrUnauthenticated.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsValidation returns true if err is or wraps ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
