// Package ids generates identifiers that sort by creation time.
package ids

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

var (
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	m       sync.Mutex
)

// NewRunId returns a lower case ULID. Ids from one process are strictly increasing, so they can be
// used in container names and ordered without a separate timestamp.
func NewRunId() string {
	m.Lock()
	defer m.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}
