package presence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"PPresence/module/presence/model"
	"PPresence/tools/clock"
	"PPresence/tools/errs"
)

// Store persists presence in the users table.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

func NewStore(db *sql.DB, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real
	}
	return &Store{db: db, clock: clk}
}

// SetStatus writes status unless it is already current. Online always
// stamps last_activity; Offline stamps it only when forced. changed is
// false when the row already held status and force was not set.
func (s *Store) SetStatus(ctx context.Context, userID int64, status model.Status, force bool) (bool, error) {
	var cur string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM users WHERE id = $1`, userID).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errs.ErrRecordNotFound.WrapMsg("user not found", "user_id", userID)
	}
	if err != nil {
		return false, errs.WrapMsg(err, "select user status", "user_id", userID)
	}
	if model.Status(cur) == status && !force {
		return false, nil
	}

	if status == model.StatusOnline || force {
		_, err = s.db.ExecContext(ctx,
			`UPDATE users SET status = $2, last_activity = $3 WHERE id = $1`,
			userID, string(status), s.clock.Now())
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE users SET status = $2 WHERE id = $1`,
			userID, string(status))
	}
	if err != nil {
		return false, errs.WrapMsg(err, "update user status", "user_id", userID, "status", status)
	}
	return true, nil
}

func (s *Store) TouchActivity(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_activity = $2 WHERE id = $1`, userID, s.clock.Now())
	if err != nil {
		return errs.WrapMsg(err, "touch activity", "user_id", userID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrRecordNotFound.WrapMsg("user not found", "user_id", userID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID int64) (model.UserPresence, error) {
	var (
		p      model.UserPresence
		status string
		last   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, last_activity FROM users WHERE id = $1`, userID).Scan(&p.UserID, &status, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return p, errs.ErrRecordNotFound.WrapMsg("user not found", "user_id", userID)
	}
	if err != nil {
		return p, errs.WrapMsg(err, "get presence", "user_id", userID)
	}
	p.Status = model.Status(status)
	if last.Valid {
		t := last.Time
		p.LastActivity = &t
	}
	return p, nil
}

// Exists is used by the lock service to reject unknown users.
func (s *Store) Exists(ctx context.Context, userID int64) error {
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&ok)
	if err != nil {
		return errs.WrapMsg(err, "check user", "user_id", userID)
	}
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("user not found", "user_id", userID)
	}
	return nil
}

// ListStatuses returns the presence of the given users; unknown ids are skipped.
func (s *Store) ListStatuses(ctx context.Context, userIDs []int64) ([]model.UserPresence, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	ph := make([]string, len(userIDs))
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		ph[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, last_activity FROM users WHERE id IN (`+strings.Join(ph, ", ")+`) ORDER BY id`, args...)
	if err != nil {
		return nil, errs.WrapMsg(err, "list statuses")
	}
	defer rows.Close()

	out := make([]model.UserPresence, 0, len(userIDs))
	for rows.Next() {
		var (
			p      model.UserPresence
			status string
			last   sql.NullTime
		)
		if err := rows.Scan(&p.UserID, &status, &last); err != nil {
			return nil, errs.WrapMsg(err, "scan presence")
		}
		p.Status = model.Status(status)
		if last.Valid {
			t := last.Time
			p.LastActivity = &t
		}
		out = append(out, p)
	}
	return out, errs.Wrap(rows.Err())
}

// SweepInactive marks Offline every Online user whose last activity is older
// than threshold (or missing). last_activity is left untouched.
func (s *Store) SweepInactive(ctx context.Context, now time.Time, threshold time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = 'offline'
		 WHERE status = 'online' AND (last_activity IS NULL OR last_activity < $1)`,
		now.Add(-threshold))
	if err != nil {
		return 0, errs.WrapMsg(err, "sweep inactive users")
	}
	n, err := res.RowsAffected()
	return n, errs.Wrap(err)
}
