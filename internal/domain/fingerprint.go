package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint identifies a logical message submission by (author, client
// timestamp, content hash). Two submissions with equal fingerprints are the
// same message, whichever delivery path they arrived on.
type Fingerprint struct {
	AuthorID    string
	Timestamp   string
	ContentHash string
}

// NewFingerprint builds a fingerprint. Content is trimmed and NFC-normalized
// before hashing so that visually identical retries collide.
func NewFingerprint(authorID, timestamp, content string) Fingerprint {
	return Fingerprint{
		AuthorID:    strings.TrimSpace(authorID),
		Timestamp:   strings.TrimSpace(timestamp),
		ContentHash: HashContent(content),
	}
}

// HashContent returns the hex SHA-256 of the normalized content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(strings.TrimSpace(content))))
	return hex.EncodeToString(sum[:])
}

// Key renders the fingerprint as a map key. Author and timestamp are length
// prefixed so a separator inside either field cannot shift the boundary.
func (f Fingerprint) Key() string {
	return strconv.Itoa(len(f.AuthorID)) + ":" + f.AuthorID + "|" +
		strconv.Itoa(len(f.Timestamp)) + ":" + f.Timestamp + "|" + f.ContentHash
}

// Empty reports whether the fingerprint lacks an author or timestamp; such
// submissions cannot be deduplicated.
func (f Fingerprint) Empty() bool {
	return f.AuthorID == "" || f.Timestamp == ""
}
