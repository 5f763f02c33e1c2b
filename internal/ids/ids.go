// Package ids implements the dual-identifier subsystem: stable internal
// ULIDs and short, human-typeable display aliases, linked by a persisted
// mapping that is merged with the same discipline as any other synced state.
package ids

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropyMu serializes access to the shared monotonic entropy source so
// IDs generated within the same millisecond still sort in creation order.
var entropyMu sync.Mutex

var entropy = ulid.Monotonic(rand.Reader, 0)

// NewInternalID returns a fresh internal ID: a 26-character ULID.
//
// ULIDs are lexicographically time-sortable and globally unique without
// coordination; collisions are astronomically unlikely and not defended
// against.
func NewInternalID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// IsInternalID checks whether s parses as a ULID of canonical length.
func IsInternalID(s string) bool {
	if len(s) != ulid.EncodedSize {
		return false
	}

	_, err := ulid.ParseStrict(s)

	return err == nil
}

// shortIDThreshold is the mapping size at which short IDs grow from 4 to 5
// characters. Below it, 4 base-36 characters (~1.7M combinations) keep the
// collision retry rate negligible without over-allocating ID space.
const shortIDThreshold = 50_000

// maxShortIDAttempts bounds collision retries during generation.
const maxShortIDAttempts = 100

// base36 is the short ID alphabet. Generated IDs never start with '0'.
const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// OptimalLength returns the short ID length for a mapping of n entries.
func OptimalLength(n int) int {
	if n < shortIDThreshold {
		return 4
	}

	return 5
}

// NewShortID draws a random base-36 ID of OptimalLength(len(mapping))
// characters that is not yet present in mapping.
func NewShortID(mapping Mapping) (string, error) {
	length := OptimalLength(len(mapping))

	for attempt := 0; attempt < maxShortIDAttempts; attempt++ {
		candidate, err := randomBase36(length)
		if err != nil {
			return "", fmt.Errorf("generate short id: %w", err)
		}

		if _, taken := mapping[candidate]; !taken {
			return candidate, nil
		}
	}

	return "", ErrShortIDExhausted
}

func randomBase36(length int) (string, error) {
	buf := make([]byte, length)

	for i := range buf {
		alphabet := base36
		if i == 0 {
			alphabet = base36[1:] // no leading zero
		}

		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}

		buf[i] = alphabet[n.Int64()]
	}

	return string(buf), nil
}
