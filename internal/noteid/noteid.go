// Package noteid implements the versioned note handle "index:hash8": the
// note's position paired with a truncated content digest. It is a
// compare-and-verify token, not a primary key; 4 bytes of digest make it a
// conflict hint rather than a security boundary.
package noteid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/stash/internal/checksum"
)

// HashLen is the number of hex characters kept from the content digest.
const HashLen = 8

// ID pairs a note position with a digest of the content observed there.
type ID struct {
	Index int
	Hash  string
}

// Generate derives the identifier of content at index. The content is hashed
// exactly as given.
func Generate(index int, content string) ID {
	return ID{Index: index, Hash: checksum.Short([]byte(content), HashLen)}
}

// String renders the wire format "index:hash".
func (id ID) String() string {
	return strconv.Itoa(id.Index) + ":" + id.Hash
}

// Matches reports whether id was generated from content at index.
func (id ID) Matches(index int, content string) bool {
	return id.Index == index && id.Hash == Generate(index, content).Hash
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// FormatError describes a malformed identifier.
type FormatError struct {
	Token  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("noteid: invalid note id %q: %s", e.Token, e.Reason)
}

// Parse splits token into its index and hash parts. The index must be a
// plain non-negative decimal integer; the hash part is not checked here.
func Parse(token string) (ID, error) {
	if strings.TrimSpace(token) == "" {
		return ID{}, &FormatError{Token: token, Reason: "empty"}
	}
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return ID{}, &FormatError{Token: token, Reason: "expected index:hash"}
	}
	if !isDigits(parts[0]) {
		return ID{}, &FormatError{Token: token, Reason: "index is not a non-negative integer"}
	}
	index, err := strconv.Atoi(parts[0])
	if err != nil {
		return ID{}, &FormatError{Token: token, Reason: "index out of range"}
	}
	return ID{Index: index, Hash: parts[1]}, nil
}

// Verify reports whether token names expectedIndex and was generated from
// currentContent. Malformed tokens never verify.
func Verify(token, currentContent string, expectedIndex int) bool {
	id, err := Parse(token)
	if err != nil {
		return false
	}
	return id.Matches(expectedIndex, currentContent)
}

// IsValidCategoryID is the syntactic check applied to category ids before
// any lookup: non-blank and free of path traversal characters.
func IsValidCategoryID(id string) bool {
	return strings.TrimSpace(id) != "" &&
		!strings.Contains(id, "..") &&
		!strings.Contains(id, "/") &&
		!strings.Contains(id, `\`)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
