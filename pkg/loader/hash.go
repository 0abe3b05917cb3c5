package loader

import (
	"crypto/md5"
	"encoding/hex"
)

// ContentHash is the deduplication key of a document's text.
func ContentHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
