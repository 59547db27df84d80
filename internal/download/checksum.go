package download

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type ChecksumError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("md5 mismatch for %s: expected %s, got %s", filepath.Base(e.Path), e.Expected, e.Actual)
}

// VerifyMD5 compares the file's MD5 with expected, ignoring case. An empty
// expected sum always verifies.
func VerifyMD5(path, expected string) error {
	if expected == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return &ChecksumError{Path: path, Expected: strings.ToLower(expected), Actual: actual}
	}
	return nil
}
