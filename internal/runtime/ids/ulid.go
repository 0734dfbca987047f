package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID returns a time-sortable ULID encoded as a 26-character string.
// IDs produced by the same process are strictly increasing.
func NewEventID() string {
	return NewEventIDAt(time.Now())
}

// NewEventIDAt is NewEventID with an explicit timestamp.
func NewEventIDAt(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(at), entropy)
	return id.String()
}

// EventTime extracts the millisecond timestamp encoded in an event id.
func EventTime(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}

// NewClientID returns a random identifier for a logical connection.
func NewClientID() string {
	return uuid.NewString()
}
