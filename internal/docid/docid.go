// Package docid validates document identifiers and classifies the
// public, anonymously-readable namespace described in spec §4.4.
package docid

import (
	"fmt"
	"strings"
)

const maxLength = 256

// Validate checks document-id syntax: non-empty, at most 256 bytes,
// matching [A-Za-z0-9_:-]+. It returns a descriptive reason on failure.
func Validate(id string) (bool, string) {
	if len(id) == 0 {
		return false, "document id must not be empty"
	}
	if len(id) > maxLength {
		return false, fmt.Sprintf("document id exceeds maximum length of %d", maxLength)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '_' || c == ':' || c == '-':
		default:
			return false, fmt.Sprintf("document id contains invalid character %q", c)
		}
	}
	return true, ""
}

// PublicNamespaceRules configures the playground id used in §4.4's
// first rule; everything else is fixed by the spec.
type PublicNamespaceRules struct {
	PlaygroundID string
}

// CanAccessDocument is a total function: it never throws, and returns
// whether the document id is publicly, anonymously readable under the
// rules of §4.4.
func (r PublicNamespaceRules) CanAccessDocument(id string) bool {
	if id == "" {
		return false
	}

	playground := r.PlaygroundID
	if playground == "" {
		playground = "playground"
	}
	if id == playground || strings.HasPrefix(id, playground+":") {
		return true
	}
	if id == "wordwall" || strings.HasPrefix(id, "wordwall:") {
		return true
	}
	if strings.HasPrefix(id, "room:") {
		return true
	}

	segment := id
	if idx := strings.IndexByte(id, ':'); idx >= 0 {
		segment = id[:idx]
	}
	if len(segment) >= 13 && allDigits(segment) {
		return true
	}

	return false
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
