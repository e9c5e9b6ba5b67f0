package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/simon/crabdash/internal/session"
)

// ErrNotFound is returned by operations that require an existing row.
var ErrNotFound = errors.New("session not found")

// Store persists sessions and their status history in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for every timestamp the store writes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open creates or opens the database at path and brings the schema up to date.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection serializes every write; transactions below rely on it.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Update is a partial write. Zero values leave the stored field alone, except
// where noted.
type Update struct {
	Project      string
	Status       session.Status
	StatusSource session.Source
	// AttentionReason is applied together with Status and cleared for any
	// status other than needs_attention.
	AttentionReason session.AttentionReason
	LastEvent       *string
	Metrics         session.Metrics
	WorktreePath    *string
	BranchName      *string
	// PreserveActivity keeps lastActivity as is. Corrective writes that are
	// not driven by the session itself set it.
	PreserveActivity bool
}

// UpsertResult tells callers whether the row was created and whether the
// write counted as a status change.
type UpsertResult struct {
	Session       session.Session
	Created       bool
	StatusChanged bool
}

// Upsert inserts or updates the session called name in one transaction. A
// status change is a different status, or a different attention reason under
// the same status; only then does lastStatusChange move and a history row
// get written.
func (s *Store) Upsert(ctx context.Context, name string, u Update) (UpsertResult, error) {
	var res UpsertResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getSession(ctx, tx, name)
		if err != nil {
			return err
		}

		now := s.now()
		next := applyUpdate(existing, name, u, now)
		res.Created = existing == nil
		res.StatusChanged = u.Status != "" && (existing == nil ||
			existing.Status != next.Status ||
			existing.AttentionReason != next.AttentionReason)
		if res.StatusChanged {
			next.LastStatusChange = &now
		}

		if err := writeSession(ctx, tx, next); err != nil {
			return err
		}
		if res.StatusChanged {
			if err := appendHistory(ctx, tx, next, now); err != nil {
				return err
			}
		}

		stored, err := getSession(ctx, tx, name)
		if err != nil {
			return err
		}
		res.Session = *stored
		return nil
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert %s: %w", name, err)
	}
	return res, nil
}

func applyUpdate(existing *session.Session, name string, u Update, now time.Time) session.Session {
	var next session.Session
	if existing != nil {
		next = *existing
	} else {
		next = session.Session{
			Name:         name,
			Project:      session.ProjectFromName(name),
			CreatedAt:    now,
			LastActivity: now,
		}
	}

	if u.Project != "" {
		next.Project = u.Project
	}
	if u.Status != "" {
		next.Status = u.Status
		next.StatusSource = u.StatusSource
		next.AttentionReason = session.ReasonNone
		if u.Status == session.StatusNeedsAttention {
			next.AttentionReason = u.AttentionReason
		}
	}
	if u.LastEvent != nil {
		next.LastEvent = *u.LastEvent
	}
	next.Metrics = next.Metrics.Merge(u.Metrics)
	if u.WorktreePath != nil {
		next.WorktreePath = u.WorktreePath
	}
	if u.BranchName != nil {
		next.BranchName = u.BranchName
	}
	if !u.PreserveActivity {
		next.LastActivity = now
	}
	next.UpdatedAt = now
	return next
}

// Get returns the session called name, or nil if there is none.
func (s *Store) Get(ctx context.Context, name string) (*session.Session, error) {
	return getSession(ctx, s.db, name)
}

// ListActive returns unarchived sessions, most recently active first.
func (s *Store) ListActive(ctx context.Context) ([]session.Session, error) {
	return s.list(ctx, `WHERE archived_at IS NULL ORDER BY last_activity DESC, name`)
}

// ListArchived returns archived sessions, most recently archived first.
func (s *Store) ListArchived(ctx context.Context) ([]session.Session, error) {
	return s.list(ctx, `WHERE archived_at IS NOT NULL ORDER BY archived_at DESC, name`)
}

func (s *Store) list(ctx context.Context, clause string) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx, selectSession+" "+clause)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sess)
	}
	return result, rows.Err()
}

// Archive sets archivedAt if it is not set yet. The bool reports whether this
// call archived the session; archiving twice returns the original row.
func (s *Store) Archive(ctx context.Context, name string) (*session.Session, bool, error) {
	var (
		result  *session.Session
		changed bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getSession(ctx, tx, name)
		if err != nil || existing == nil {
			return err
		}
		if existing.Archived() {
			result = existing
			return nil
		}
		now := toMs(s.now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET archived_at = ?, updated_at = ? WHERE name = ?`,
			now, now, name,
		); err != nil {
			return err
		}
		changed = true
		result, err = getSession(ctx, tx, name)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("archive %s: %w", name, err)
	}
	return result, changed, nil
}

// Unarchive returns an archived session to the active list. Its activity is
// refreshed so the retention sweep does not remove it straight away.
func (s *Store) Unarchive(ctx context.Context, name string) (*session.Session, error) {
	var result *session.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := toMs(s.now())
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET archived_at = NULL, last_activity = ?, updated_at = ?
			 WHERE name = ? AND archived_at IS NOT NULL`,
			now, now, name,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			existing, err := getSession(ctx, tx, name)
			if err != nil {
				return err
			}
			if existing == nil {
				return ErrNotFound
			}
			result = existing
			return nil
		}
		result, err = getSession(ctx, tx, name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unarchive %s: %w", name, err)
	}
	return result, nil
}

// ClearWorktree nulls the worktree fields and leaves status untouched.
func (s *Store) ClearWorktree(ctx context.Context, name string) (*session.Session, error) {
	var result *session.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET worktree_path = NULL, branch_name = NULL, updated_at = ? WHERE name = ?`,
			toMs(s.now()), name,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		result, err = getSession(ctx, tx, name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("clear worktree %s: %w", name, err)
	}
	return result, nil
}

// Delete removes the session row. History rows stay until they age out.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CleanupStale deletes active sessions idle longer than activeMaxAge and
// archived sessions archived longer than archivedMaxAge. It returns the
// names of the deleted sessions.
func (s *Store) CleanupStale(ctx context.Context, activeMaxAge, archivedMaxAge time.Duration) ([]string, error) {
	now := s.now()
	var deleted []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		names, err := deleteReturning(ctx, tx,
			`DELETE FROM sessions WHERE archived_at IS NULL AND last_activity < ? RETURNING name`,
			toMs(now.Add(-activeMaxAge)),
		)
		if err != nil {
			return err
		}
		deleted = append(deleted, names...)

		names, err = deleteReturning(ctx, tx,
			`DELETE FROM sessions WHERE archived_at IS NOT NULL AND archived_at < ? RETURNING name`,
			toMs(now.Add(-archivedMaxAge)),
		)
		if err != nil {
			return err
		}
		deleted = append(deleted, names...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup stale sessions: %w", err)
	}
	sort.Strings(deleted)
	return deleted, nil
}

func deleteReturning(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const selectSession = `
	SELECT name, project, status, status_source, attention_reason, last_event,
		last_activity, last_status_change, archived_at, created_at, updated_at,
		model, cost_usd, context_usage, lines_added, lines_removed,
		worktree_path, branch_name
	FROM sessions`

func getSession(ctx context.Context, q querier, name string) (*session.Session, error) {
	sess, err := scanSession(q.QueryRowContext(ctx, selectSession+" WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

func scanSession(row scanner) (*session.Session, error) {
	var (
		sess                             session.Session
		status, source, reason           sql.NullString
		lastActivity, createdAt, updated int64
		lastChange, archivedAt           sql.NullInt64
		model, worktree, branch          sql.NullString
		cost                             sql.NullFloat64
		contextUsage, linesAdd, linesDel sql.NullInt64
	)
	err := row.Scan(
		&sess.Name, &sess.Project, &status, &source, &reason, &sess.LastEvent,
		&lastActivity, &lastChange, &archivedAt, &createdAt, &updated,
		&model, &cost, &contextUsage, &linesAdd, &linesDel,
		&worktree, &branch,
	)
	if err != nil {
		return nil, err
	}

	sess.Status = session.Status(status.String)
	sess.StatusSource = session.Source(source.String)
	sess.AttentionReason = session.AttentionReason(reason.String)
	sess.LastActivity = fromMs(lastActivity)
	sess.LastStatusChange = nullTime(lastChange)
	sess.ArchivedAt = nullTime(archivedAt)
	sess.CreatedAt = fromMs(createdAt)
	sess.UpdatedAt = fromMs(updated)
	sess.Model = nullString(model)
	if cost.Valid {
		sess.CostUSD = &cost.Float64
	}
	sess.ContextUsage = nullInt(contextUsage)
	sess.LinesAdded = nullInt(linesAdd)
	sess.LinesRemoved = nullInt(linesDel)
	sess.WorktreePath = nullString(worktree)
	sess.BranchName = nullString(branch)
	return &sess, nil
}

func writeSession(ctx context.Context, tx *sql.Tx, s session.Session) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (
			name, project, status, status_source, attention_reason, last_event,
			last_activity, last_status_change, archived_at, created_at, updated_at,
			model, cost_usd, context_usage, lines_added, lines_removed,
			worktree_path, branch_name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			project = excluded.project,
			status = excluded.status,
			status_source = excluded.status_source,
			attention_reason = excluded.attention_reason,
			last_event = excluded.last_event,
			last_activity = excluded.last_activity,
			last_status_change = excluded.last_status_change,
			archived_at = excluded.archived_at,
			updated_at = excluded.updated_at,
			model = excluded.model,
			cost_usd = excluded.cost_usd,
			context_usage = excluded.context_usage,
			lines_added = excluded.lines_added,
			lines_removed = excluded.lines_removed,
			worktree_path = excluded.worktree_path,
			branch_name = excluded.branch_name
	`,
		s.Name, s.Project, emptyNull(string(s.Status)), emptyNull(string(s.StatusSource)),
		emptyNull(string(s.AttentionReason)), s.LastEvent,
		toMs(s.LastActivity), timeArg(s.LastStatusChange), timeArg(s.ArchivedAt),
		toMs(s.CreatedAt), toMs(s.UpdatedAt),
		ptrArg(s.Model), ptrArg(s.CostUSD), ptrArg(s.ContextUsage), ptrArg(s.LinesAdded), ptrArg(s.LinesRemoved),
		ptrArg(s.WorktreePath), ptrArg(s.BranchName),
	)
	return err
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func toMs(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMs(v.Int64)
	return &t
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func emptyNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMs(*t)
}

func ptrArg[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
