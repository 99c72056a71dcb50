// Package sha256 provides content digests for media artifacts.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the hex SHA-256 digest of data. Archive paths and upload
// filenames are keyed on it.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the first n characters of the digest, for compact filenames.
func Short(data []byte, n int) string {
	d := Digest(data)
	if n <= 0 || n >= len(d) {
		return d
	}
	return d[:n]
}
