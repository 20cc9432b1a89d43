package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewBatchID returns a lexicographically sortable identifier for a promise
// batch. Ids minted by one process are strictly increasing.
func NewBatchID() string {
	return newULID(time.Now()).String()
}

// BatchTime extracts the mint time of a batch id.
func BatchTime(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}

// NewRequestID returns a random request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

func newULID(t time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}
