package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the hex SHA-256 of content, used to detect changed prompts
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ValidateContentHash reports whether content still matches a recorded hash
func ValidateContentHash(content, expected string) bool {
	return ContentHash(content) == expected
}

// ShortHash returns the first n hex characters of the content hash
func ShortHash(content string, n int) string {
	h := ContentHash(content)
	if n <= 0 || n > len(h) {
		return h
	}
	return h[:n]
}
