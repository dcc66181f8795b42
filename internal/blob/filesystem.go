package blob

import (
	"stimkit/internal/infra/blob/fs"
)

// NewFilesystem constructs a filesystem-backed blob.Writer rooted at the provided
// path, creating it if needed. Returns the interface so call sites do not depend
// on the concrete implementation.
func NewFilesystem(root string) (Writer, error) {
	return fs.New(root)
}
