package state

import (
	"context"
	"time"

	"github.com/keenhq/keen/pkg/models"
)

// DefaultWriteTimeout bounds each mirrored write.
const DefaultWriteTimeout = 5 * time.Second

// Mirror records agent tree sessions in a DB. Each write runs under its
// own timeout so a locked database cannot stall the agent run. Sessions
// are stamped with the creating process as their owner.
type Mirror struct {
	db      *DB
	timeout time.Duration
	owner   Owner
}

// NewMirror returns a Mirror writing to db. A zero timeout selects
// DefaultWriteTimeout.
func NewMirror(db *DB, timeout time.Duration) *Mirror {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Mirror{db: db, timeout: timeout, owner: CurrentOwner()}
}

// CreateSession mirrors a newly registered agent.
func (m *Mirror) CreateSession(ctx context.Context, userID string, rec models.SessionRecord, user models.UserContext) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if userID == "" {
		userID = user.UserID
	}
	return m.db.CreateOwnedSession(ctx, userID, rec, user, m.owner)
}

// UpdateSession mirrors an agent's terminal transition.
func (m *Mirror) UpdateSession(ctx context.Context, sessionID string, upd models.SessionUpdate, user models.UserContext) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.db.UpdateSession(ctx, sessionID, upd, user)
}
