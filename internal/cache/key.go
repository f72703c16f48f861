package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DeriveKey builds the deterministic, user-scoped cache key for a request.
//
// The content is hashed first and the digest feeds the outer hash together
// with the user namespace and operation type, so raw content length or shape
// never leaks into the key. Identical logical requests from the same user
// always derive the same key; distinct users can never collide even for
// identical content.
func DeriveKey(userID, operationType string, content []byte) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty userId", ErrInvalidInput)
	}
	if operationType == "" {
		return "", fmt.Errorf("%w: empty operationType", ErrInvalidInput)
	}

	inner := sha256.Sum256(content)

	outer := sha256.New()
	outer.Write([]byte(userID))
	outer.Write([]byte(":"))
	outer.Write([]byte(operationType))
	outer.Write([]byte(":"))
	outer.Write([]byte(hex.EncodeToString(inner[:])))

	return hex.EncodeToString(outer.Sum(nil)), nil
}
