// Package artifact stores synthesized audio under unique names so responses
// can link to it. Artifacts are written once and never modified or deleted by
// the service.
//
// Two backends exist: [FileStore] keeps artifacts in a local directory and
// [NATSStore] keeps them in a JetStream object store bucket, which lets several
// instances serve each other's output.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Open for unknown names.
var ErrNotFound = errors.New("artifact: not found")

// ErrInvalidName is returned for names that NewName could not have produced.
var ErrInvalidName = errors.New("artifact: invalid name")

// Artifact describes a stored audio file.
type Artifact struct {
	Name string
	Size int64
}

// Store persists and serves artifacts.
type Store interface {
	// Put stores data under name. Names come from NewName.
	Put(ctx context.Context, name string, data []byte) (Artifact, error)

	// Open returns a reader for the artifact. The caller must close it.
	// Unknown names yield ErrNotFound.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Ping reports whether the store is usable.
	Ping(ctx context.Context) error
}

// nameRE matches every name NewName produces and nothing that could escape
// the store's namespace.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+\.wav$`)

// suffixLen is the number of hex characters taken from the UUID.
const suffixLen = 12

// NewName returns a fresh artifact name "<prefix>_<12 hex chars>.wav".
// prefix must already be sanitized.
func NewName(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s_%s.wav", prefix, id[:suffixLen])
}

// ValidName reports whether name is safe to look up.
func ValidName(name string) bool {
	return nameRE.MatchString(name)
}
