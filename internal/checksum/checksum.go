// Package checksum provides the content digests used for note identifiers and
// blob revisions.
package checksum

import (
	"crypto/sha1" //nolint:gosec // git object ids are sha1 by definition
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Short returns the first n lowercase hex characters of the SHA-256 digest
// of data. n is clamped to the digest length.
func Short(data []byte, n int) string {
	s := Sum(data)
	if n < 0 {
		n = 0
	}
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// GitBlob returns the git object id of data stored as a blob, which is the
// revision token a git-backed contents API reports for a file.
func GitBlob(data []byte) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte("blob " + strconv.Itoa(len(data))))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
