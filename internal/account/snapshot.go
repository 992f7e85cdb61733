// Package account builds the per-user sync payload pushed to realtime
// clients.
package account

import (
	"context"
	"fmt"

	"github.com/saranga-ayurveda/backend/internal/database"
	"github.com/saranga-ayurveda/backend/internal/realtime"
)

const (
	userQuery = `SELECT u.id, u.name, u.email
FROM users u
WHERE u.id::text = $1`

	ordersQuery = `SELECT o.id, o.status, o.payment_status, o.created_at
FROM orders o
WHERE o.user_id::text = $1
ORDER BY o.created_at DESC
LIMIT $2`
)

// DefaultRecentOrders is the number of orders included in a snapshot.
const DefaultRecentOrders = 10

// Snapshot is the SYNC_DATA payload for one user.
type Snapshot struct {
	User   map[string]any   `json:"user"`
	Orders []map[string]any `json:"orders"`
}

// Snapshots loads user snapshots from the database.
type Snapshots struct {
	q            database.Querier
	recentOrders int
}

var _ realtime.SnapshotSource = (*Snapshots)(nil)

// NewSnapshots returns a source reading through q.
func NewSnapshots(q database.Querier) *Snapshots {
	return &Snapshots{q: q, recentOrders: DefaultRecentOrders}
}

// GetUserData returns the snapshot for userID, or nil if the user does not
// exist.
func (s *Snapshots) GetUserData(ctx context.Context, userID realtime.UserID) (any, error) {
	users, err := s.q.Query(ctx, userQuery, string(userID))
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if len(users.Rows) == 0 {
		return nil, nil
	}

	orders, err := s.q.Query(ctx, ordersQuery, string(userID), s.recentOrders)
	if err != nil {
		return nil, fmt.Errorf("load orders for user %s: %w", userID, err)
	}

	snap := &Snapshot{User: users.Rows[0], Orders: orders.Rows}
	if snap.Orders == nil {
		snap.Orders = []map[string]any{}
	}
	return snap, nil
}
