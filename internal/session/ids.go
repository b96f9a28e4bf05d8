package session

import (
	"crypto/rand"
	"math/big"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newSessionID builds a "<prefix>_<12-char-suffix>" session identifier, the
// shape the bootstrapper mints fresh on every connection.
func newSessionID(prefix string) string {
	return prefix + "_" + randomSuffix(12)
}

func randomSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(idAlphabet))))
		if err != nil {
			// crypto/rand failing means the system RNG is broken; fall back
			// to a fixed character rather than panicking mid-connect.
			b[i] = idAlphabet[0]
			continue
		}
		b[i] = idAlphabet[idx.Int64()]
	}
	return string(b)
}
