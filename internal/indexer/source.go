package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const fileSourcePrefix = "file-"

// FileSourceID returns a stable source id for a file path. Paths are cleaned first, so
// "/a/b", "/a/b/" and "/a/./b" share an id.
func FileSourceID(path string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(path)))
	return fileSourcePrefix + hex.EncodeToString(hash[:8])
}
