// Package presence tracks which users currently hold at least one open
// realtime connection. A user may have several (tabs, devices); they are
// online while the handle set is non-empty. This is the single owner of
// online/offline truth; the users table only caches it.
package presence

import "context"

// Tracker maps a user to their set of live connection handles.
//
// Connect reports whether the new handle is the user's first (the
// came-online edge); Disconnect reports whether it was the last (the
// went-offline edge). The caller reacts to the edges: persisting the
// cached flag, broadcasting user_online/user_offline, recomputing delivery.
type Tracker interface {
	Connect(ctx context.Context, userID int64) (handle string, first bool, err error)
	Disconnect(ctx context.Context, userID int64, handle string) (last bool, err error)
	IsOnline(ctx context.Context, userID int64) (bool, error)
	// OnlineAmong filters userIDs down to the currently online ones.
	OnlineAmong(ctx context.Context, userIDs []int64) ([]int64, error)
}
