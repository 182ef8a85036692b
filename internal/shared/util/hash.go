package util

import (
	"crypto/sha256"
	"encoding/hex"
)

const userKeyNamespace = "translator-user:"

// HashUserKey maps a user ID (including guest IDs) to the 32-hex-char
// directory name used under the sources/ and artifacts/ prefixes.
func HashUserKey(userID string) string {
	sum := sha256.Sum256([]byte(userKeyNamespace + userID))
	return hex.EncodeToString(sum[:16])
}
