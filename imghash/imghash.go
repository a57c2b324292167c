// Package imghash computes content digests for downloaded images.
// The digest is the sole dedup mechanism, so it depends on nothing but
// the raw bytes: no filenames, timestamps, or content-type headers.
package imghash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the SHA-256 digest of data as a lowercase hex string
func Sum(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}
