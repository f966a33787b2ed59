package digester

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// String returns the SHA256 hex digest of s.
func String(s string) string {
	sum := sha256.Sum256([]byte(s))

	return hex.EncodeToString(sum[:])
}

// File computes the SHA256 hex digest of the file at path.
func File(path string) (result string, retErr error) {
	const errCtx = "calculating digest"

	fi, err := os.Open(path) //nolint:gosec // path is produced by the caller
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	defer func() {
		if closeErr := fi.Close(); closeErr != nil && retErr == nil {
			retErr = fmt.Errorf("%s: %w", errCtx, closeErr)
		}
	}()

	ha := sha256.New()

	if _, err := io.Copy(ha, fi); err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return hex.EncodeToString(ha.Sum(nil)), nil
}

// WriteFile writes content to path and verifies the written bytes digest to
// want.
func WriteFile(path, content, want string) error {
	const errCtx = "writing digested file"

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	got, err := File(path)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if got != want {
		return fmt.Errorf(
			"%s: digest mismatch for %s: got %s want %s",
			errCtx, path, got, want,
		)
	}

	return nil
}
