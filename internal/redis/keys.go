package redisx

import (
	"fmt"

	"github.com/google/uuid"
)

const ns = "clubtix:v1"

// KeyEventView caches the public view of an event under the identifier it
// was requested by (id or slug).
func KeyEventView(ref string) string {
	return fmt.Sprintf("%s:event:%s:view", ns, ref)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyIdemRegistration(eventID uuid.UUID, idemKey string) string {
	return fmt.Sprintf("%s:idem:register:%s:%s", ns, eventID, idemKey)
}

func ChannelOutbox() string {
	return ns + ":outbox:jobs"
}
