package fileops

import "errors"

// Error kinds surfaced by the service. Handlers map each to a distinct
// status code; none of them carry filesystem paths.
var (
	// ErrNotFound: the id or path does not resolve to an existing entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a name collision on create or rename.
	ErrConflict = errors.New("already exists")
	// ErrForbidden: the ownership policy denied the mutation.
	ErrForbidden = errors.New("permission denied")
	// ErrValidation: a missing or malformed request field.
	ErrValidation = errors.New("invalid request")
	// ErrStorage: disk I/O failed after validation and authorization
	// passed. Details are logged, never surfaced.
	ErrStorage = errors.New("storage failure")
)
