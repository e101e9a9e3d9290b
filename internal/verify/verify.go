package verify

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/minio/sha256-simd"

	"github.com/NamanBalaji/prepfetch/internal/errors"
)

const bufferSize = 1024 * 1024

// FileDigest streams the file through SHA-256 and returns the lowercase hex digest.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.NewIOError(err, path)
	}
	defer f.Close()

	h := sha256.New()

	if _, err := io.CopyBuffer(h, f, make([]byte, bufferSize)); err != nil {
		return "", errors.NewIOError(fmt.Errorf("failed to hash file: %w", err), path)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify compares the file's digest with expected, ignoring case.
// A mismatch returns false together with an integrity error.
func Verify(path, expected string) (bool, error) {
	actual, err := FileDigest(path)
	if err != nil {
		return false, err
	}

	expected = strings.TrimSpace(expected)
	if !strings.EqualFold(actual, expected) {
		return false, errors.NewIntegrityError(path, strings.ToLower(expected), actual)
	}

	return true, nil
}

// ValidDigest reports whether s looks like a hex SHA-256 digest.
func ValidDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}

	_, err := hex.DecodeString(s)

	return err == nil
}
