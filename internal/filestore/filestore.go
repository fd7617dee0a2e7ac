package filestore

import (
	"errors"
	"io"
)

var ErrInvalidHash = errors.New("invalid file hash")

// FileStore keeps blobs addressed by the hex sha256 of their content.
type FileStore interface {
	// Save stores the content under hash. Saving a hash that already
	// exists is a no-op.
	Save(r io.Reader, hash string) error

	// Get opens the content stored under hash. Unknown hashes yield
	// an error wrapping models.ErrNotFound.
	Get(hash string) (io.ReadCloser, error)
}
