// Package handlers holds the inbound websocket event handlers.
package handlers

import (
	"context"

	"PPresence/module/presence/model"
)

// PresenceReporter is the presence coordinator as seen from the socket.
type PresenceReporter interface {
	Heartbeat(ctx context.Context, userID int64, connID string) error
	Report(ctx context.Context, userID int64, connID string, status model.Status, force bool) error
}
