package data

import (
	"crypto/rand"
	"fmt"
	"time"
)

// nonceAlphabet is the 2-character tie-break tag space (spec.md §3):
// uppercase letters and digits, matching the teacher's randID() use
// of a fixed alphabet over crypto/rand bytes.
const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const nonceLength = 2

// maxNonceRetries bounds the re-roll loop on a primary-key collision
// (spec.md I1). 36^2 = 1296 possible nonces per when_start_raw value
// makes exhaustion astronomically unlikely; this only guards against
// a pathological store.
const maxNonceRetries = 20

// generateNonce produces a random nonceLength-character tag, falling
// back to a time-seeded value if the system entropy source is
// unavailable — matching ami.randID()'s fallback to
// time.Now().UnixNano() on a crypto/rand failure.
func generateNonce() string {
	b := make([]byte, nonceLength)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%02d", time.Now().UnixNano()%100)
	}
	out := make([]byte, nonceLength)
	for i, v := range b {
		out[i] = nonceAlphabet[int(v)%len(nonceAlphabet)]
	}
	return string(out)
}
