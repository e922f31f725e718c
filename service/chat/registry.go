package chat

// Registry maps users to their live handles. ConnManager is the in-process
// implementation; tests substitute fakes.
type Registry interface {
	// Register adds or replaces h (keyed by h.ID()) and reports whether it
	// is the user's first live handle.
	Register(userID int64, h Handle) (first bool)
	// Unregister removes and closes every handle of the user.
	Unregister(userID int64) int
	// UnregisterConn removes one handle without closing it.
	UnregisterConn(userID int64, connID string) bool
	Handles(userID int64) []Handle
	Snapshot() []Handle
}
