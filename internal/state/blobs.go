package state

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/sokinpui/fmod/internal/fs"
	"github.com/sokinpui/fmod/internal/textutil"
)

const blobsDirName = "blobs"

// blobStore keeps file contents addressed by their SHA-256 under
// <dir>/blobs/aa/bb/<hash>.
type blobStore struct {
	dir string
}

// save stores lines and returns their hash. Existing blobs are not rewritten.
func (b blobStore) save(lines []string) (string, error) {
	hash := fs.HashLines(lines)
	path := b.path(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := fs.WriteFileAtomic(path, []byte(textutil.JoinLines(lines)), 0o644); err != nil {
		return "", err
	}
	return hash, nil
}

func (b blobStore) read(hash string) ([]string, error) {
	if !isHex(hash) || len(hash) < 6 {
		return nil, errors.New("invalid hash for blob read")
	}
	data, err := os.ReadFile(b.path(hash))
	if err != nil {
		return nil, err
	}
	return textutil.SplitLines(string(data)), nil
}

func (b blobStore) path(hash string) string {
	h := strings.ToLower(hash)
	return filepath.Join(b.dir, blobsDirName, h[:2], h[2:4], h)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
