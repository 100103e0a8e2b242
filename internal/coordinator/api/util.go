package api

import (
	"crypto/sha256"
	"encoding/hex"
)

func sha256sum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
