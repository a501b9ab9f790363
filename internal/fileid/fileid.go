// Package fileid derives a stable document ID from a file path, so watched
// files can be re-ingested and deleted by path.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "file:"

// FileDocID returns a deterministic document ID for the given path. The same
// path always yields the same ID, so an updated file replaces its previous
// chunks instead of accumulating new documents.
func FileDocID(path string) string {
	normalized := filepath.Clean(path)
	sum := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(sum[:16])
}
