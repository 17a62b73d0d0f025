package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/johncui/socrate/pkg/session"
)

// Load reads one session state.
func (d *Database) Load(ctx context.Context, id string) (session.State, error) {
	var raw string
	err := d.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?;`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return session.State{}, session.ErrNotFound
	}
	if err != nil {
		return session.State{}, fmt.Errorf("load session: %w", err)
	}
	var st session.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return session.State{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return st, nil
}

// Save upserts a session state.
func (d *Database) Save(ctx context.Context, st session.State) error {
	if st.ID == "" {
		return fmt.Errorf("save session: id is required")
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", st.ID, err)
	}
	_, err = d.db.ExecContext(ctx, `
        INSERT INTO sessions(id, state, updated_at)
        VALUES(?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET state=excluded.state, updated_at=excluded.updated_at;
    `, st.ID, string(raw), st.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete removes a session.
func (d *Database) Delete(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Sweep removes sessions not updated since before.
func (d *Database) Sweep(ctx context.Context, before time.Time) (int, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?;`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return int(n), nil
}

// Count reports how many sessions are held.
func (d *Database) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

var _ session.Store = (*Database)(nil)
