package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/keenhq/keen/pkg/models"
)

// ErrSessionNotFound is returned when an update targets an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// AgentSession is the persisted mirror of one agent tree node.
type AgentSession struct {
	ID               string                `json:"id"`
	UserID           string                `json:"user_id"`
	TenantID         string                `json:"tenant_id,omitempty"`
	ParentSessionID  string                `json:"parent_session_id,omitempty"`
	Depth            int                   `json:"depth"`
	GitBranch        string                `json:"git_branch"`
	Vision           string                `json:"vision,omitempty"`
	WorkingDirectory string                `json:"working_directory,omitempty"`
	Specialization   models.Specialization `json:"specialization"`
	MaxIterations    int                   `json:"max_iterations,omitempty"`
	CostBudget       float64               `json:"cost_budget,omitempty"`
	ExecutionStatus  models.NodeStatus     `json:"execution_status"`
	Success          *bool                 `json:"success,omitempty"`
	CompletionReport string                `json:"completion_report,omitempty"`
	StartedAt        time.Time             `json:"started_at"`
	EndTime          *time.Time            `json:"end_time,omitempty"`
	Owner            Owner                 `json:"owner"`
}

// Owner identifies the process that created a session.
// A zero PID means the owner is unknown.
type Owner struct {
	PID  int    `json:"pid,omitempty"`
	Host string `json:"host,omitempty"`
}

// CurrentOwner returns the Owner for this process.
func CurrentOwner() Owner {
	host, _ := os.Hostname()
	return Owner{PID: os.Getpid(), Host: host}
}

const sessionColumns = `id, user_id, tenant_id, COALESCE(parent_session_id, ''), depth, git_branch,
	COALESCE(vision, ''), COALESCE(working_directory, ''), specialization, max_iterations, cost_budget,
	execution_status, success, COALESCE(completion_report, ''), started_at, end_time, owner_pid, owner_host`

// CreateSession inserts a running session for rec with no recorded owner.
func (db *DB) CreateSession(ctx context.Context, userID string, rec models.SessionRecord, user models.UserContext) error {
	return db.CreateOwnedSession(ctx, userID, rec, user, Owner{})
}

// CreateOwnedSession inserts a running session for rec owned by owner.
func (db *DB) CreateOwnedSession(ctx context.Context, userID string, rec models.SessionRecord, user models.UserContext, owner Owner) error {
	var parent *string
	if rec.ParentSessionID != "" {
		parent = &rec.ParentSessionID
	}
	now := formatTime(time.Now())

	_, err := db.ExecContext(ctx, `
		INSERT INTO agent_sessions (id, user_id, tenant_id, parent_session_id, depth, git_branch, vision,
			working_directory, specialization, max_iterations, cost_budget, execution_status, started_at, updated_at,
			owner_pid, owner_host)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.SessionID, userID, user.TenantID, parent, rec.Depth, rec.GitBranch, rec.Vision,
		rec.WorkingDirectory, string(rec.AgentOptions.Specialization), rec.AgentOptions.MaxIterations,
		rec.AgentOptions.CostBudget, string(models.NodeRunning), now, now, owner.PID, owner.Host)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateSession records the outcome of a session. Only fields set in upd
// are written.
func (db *DB) UpdateSession(ctx context.Context, sessionID string, upd models.SessionUpdate, _ models.UserContext) error {
	var success *int
	if upd.Success != nil {
		v := 0
		if *upd.Success {
			v = 1
		}
		success = &v
	}
	var end *string
	if upd.EndTime != nil {
		s := formatTime(*upd.EndTime)
		end = &s
	}
	var status *string
	if upd.ExecutionStatus != "" {
		s := string(upd.ExecutionStatus)
		status = &s
	}

	result, err := db.ExecContext(ctx, `
		UPDATE agent_sessions SET
			execution_status = COALESCE(?, execution_status),
			success = COALESCE(?, success),
			completion_report = COALESCE(NULLIF(?, ''), completion_report),
			end_time = COALESCE(?, end_time),
			updated_at = ?
		WHERE id = ?
	`, status, success, upd.CompletionReport, end, formatTime(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update session %s: %w", sessionID, ErrSessionNotFound)
	}
	return nil
}

// GetSession retrieves a session by ID. It returns nil, nil when absent.
func (db *DB) GetSession(ctx context.Context, id string) (*AgentSession, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM agent_sessions WHERE id = ?`, id)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// DeleteSession deletes a session by ID.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM agent_sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSessions lists the sessions of userID, newest first. An empty userID
// lists every user's sessions.
func (db *DB) ListSessions(ctx context.Context, userID string) ([]AgentSession, error) {
	var rows *sql.Rows
	var err error

	if userID != "" {
		rows, err = db.QueryContext(ctx, `
			SELECT `+sessionColumns+` FROM agent_sessions
			WHERE user_id = ? ORDER BY started_at DESC, rowid DESC
		`, userID)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT `+sessionColumns+` FROM agent_sessions
			ORDER BY started_at DESC, rowid DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return collectSessions(rows)
}

// ListRoots lists root sessions (those without a parent), newest first.
func (db *DB) ListRoots(ctx context.Context) ([]AgentSession, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM agent_sessions
		WHERE parent_session_id IS NULL ORDER BY started_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}
	return collectSessions(rows)
}

// ListTree returns rootID and all of its descendants in depth-first order,
// siblings in insertion order.
func (db *DB) ListTree(ctx context.Context, rootID string) ([]AgentSession, error) {
	rows, err := db.QueryContext(ctx, `
		WITH RECURSIVE tree(node_id, path) AS (
			SELECT id, printf('%010d', rowid) FROM agent_sessions WHERE id = ?
			UNION ALL
			SELECT s.id, tree.path || '/' || printf('%010d', s.rowid)
			FROM agent_sessions s JOIN tree ON s.parent_session_id = tree.node_id
		)
		SELECT `+sessionColumns+`
		FROM tree JOIN agent_sessions ON agent_sessions.id = tree.node_id
		ORDER BY tree.path
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("list tree: %w", err)
	}
	return collectSessions(rows)
}

// ListRunning returns sessions still marked running, oldest first.
func (db *DB) ListRunning(ctx context.Context) ([]AgentSession, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM agent_sessions
		WHERE execution_status = ? ORDER BY started_at, rowid
	`, string(models.NodeRunning))
	if err != nil {
		return nil, fmt.Errorf("list running sessions: %w", err)
	}
	return collectSessions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*AgentSession, error) {
	var s AgentSession
	var spec, status, startedAt string
	var success sql.NullInt64
	var endTime sql.NullString

	err := row.Scan(&s.ID, &s.UserID, &s.TenantID, &s.ParentSessionID, &s.Depth, &s.GitBranch,
		&s.Vision, &s.WorkingDirectory, &spec, &s.MaxIterations, &s.CostBudget,
		&status, &success, &s.CompletionReport, &startedAt, &endTime, &s.Owner.PID, &s.Owner.Host)
	if err != nil {
		return nil, err
	}

	s.Specialization = models.Specialization(spec)
	s.ExecutionStatus = models.NodeStatus(status)
	if success.Valid {
		v := success.Int64 != 0
		s.Success = &v
	}
	s.StartedAt, _ = parseTime(startedAt)
	s.EndTime = parseNullableTime(endTime)
	return &s, nil
}

func collectSessions(rows *sql.Rows) ([]AgentSession, error) {
	defer rows.Close()

	var sessions []AgentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
