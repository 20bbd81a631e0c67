// Package identity generates the per-instance InstanceId: a sortable,
// time-ordered unique identifier prefixed by the instance's role.
package identity

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role is the instance role prefix baked into every InstanceId.
type Role string

const (
	RoleStreaming Role = "socket"
	RoleRequest   Role = "rest"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New generates a fresh, time-ordered InstanceId for the given role.
// Monotonic entropy guarantees strictly increasing, and therefore
// distinct, ids even when called repeatedly within the same
// millisecond — the uniqueness property testable property 4 requires.
func New(role Role) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return fmt.Sprintf("%s_%s", role, id.String())
}
