package depot

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors raised by backend operations. The API layer maps these to
// status codes; inside the engine they are matched with errors.Is.
var (
	// ErrNotFound reports an absent path, node, version or block.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists reports a create on an existing path.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotEmpty reports removal of a container that still holds objects.
	ErrNotEmpty = errors.New("not empty")
	// ErrNotAllowed reports a permission failure for the acting principal.
	ErrNotAllowed = errors.New("not allowed")
	// ErrQuotaExceeded reports a size-increasing mutation that would breach
	// the container or account limit.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrInvalidPolicy reports a malformed quota or versioning value.
	ErrInvalidPolicy = errors.New("invalid policy")
)

// MissingBlocksError is raised when a caller-supplied hashmap references
// blocks not present in the store. It carries the missing hashes so the
// client can upload exactly those and retry.
type MissingBlocksError struct {
	Hashes []string
}

func (e *MissingBlocksError) Error() string {
	return fmt.Sprintf("missing blocks: %s", strings.Join(e.Hashes, ", "))
}
