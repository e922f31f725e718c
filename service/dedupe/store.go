// Package dedupe suppresses repeated pushes of the same event to the same
// user inside a short window.
package dedupe

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"time"
)

// Store records a key for ttl. SeenOnce reports true when the key was
// already recorded and has not expired. Forget drops a key whose delivery
// failed so the next attempt is not suppressed.
type Store interface {
	SeenOnce(ctx context.Context, key string, ttl time.Duration) (seen bool, err error)
	Forget(ctx context.Context, key string) error
}

// Key is the fingerprint of one (event, user, payload) tuple.
func Key(event string, userID int64, payload []byte) string {
	sum := sha1.Sum(payload)
	return "dd:" + event + ":" + strconv.FormatInt(userID, 10) + ":" + hex.EncodeToString(sum[:8])
}
