package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "autopost/pkg/logx"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; the queue serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := runMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SavePost(ctx context.Context, p PostRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("post id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(id, account_id, platform, template, scheduled_at, status, attempts, content,
		                   remote_id, url, last_error, error_kind, origin, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   account_id=excluded.account_id, platform=excluded.platform, template=excluded.template,
		   scheduled_at=excluded.scheduled_at, status=excluded.status, attempts=excluded.attempts,
		   content=excluded.content, remote_id=excluded.remote_id, url=excluded.url,
		   last_error=excluded.last_error, error_kind=excluded.error_kind, origin=excluded.origin,
		   updated_at=excluded.updated_at`,
		p.ID, p.AccountID, p.Platform, p.Template, p.ScheduledAt.UnixMilli(), p.Status, p.Attempts,
		nullBytes(p.Content), nullStr(p.RemoteID), nullStr(p.URL), nullStr(p.LastError), nullStr(p.ErrorKind),
		nullStr(p.Origin), p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) LoadPosts(ctx context.Context) ([]PostRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, platform, template, scheduled_at, status, attempts, content,
		        remote_id, url, last_error, error_kind, origin, created_at, updated_at
		   FROM posts ORDER BY scheduled_at, account_id, platform, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PostRecord
	for rows.Next() {
		var (
			p                                       PostRecord
			scheduled, created, updated             int64
			content                                 []byte
			remoteID, url, lastErr, errKind, origin sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Platform, &p.Template, &scheduled, &p.Status, &p.Attempts,
			&content, &remoteID, &url, &lastErr, &errKind, &origin, &created, &updated); err != nil {
			return nil, err
		}
		p.ScheduledAt = time.UnixMilli(scheduled).UTC()
		p.CreatedAt = time.UnixMilli(created).UTC()
		p.UpdatedAt = time.UnixMilli(updated).UTC()
		if len(content) > 0 {
			p.Content = content
		}
		p.RemoteID, p.URL = remoteID.String, url.String
		p.LastError, p.ErrorKind, p.Origin = lastErr.String, errKind.String, origin.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAttempt(ctx context.Context, a Attempt) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if a.At.IsZero() {
		a.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts(post_id, account_id, platform, number, at, outcome, remote_id, error_kind, err, retryable, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		a.PostID, a.AccountID, a.Platform, a.Number, a.At.UnixMilli(), a.Outcome,
		nullStr(a.RemoteID), nullStr(a.ErrorKind), nullStr(a.Error), a.Retryable, a.DurationMS,
	)
	return err
}

func (s *sqliteStore) ListAttempts(ctx context.Context, postID string, limit int) ([]Attempt, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, account_id, platform, number, at, outcome, remote_id, error_kind, err, retryable, took_ms
		   FROM (SELECT * FROM attempts WHERE (? = '' OR post_id = ?) ORDER BY seq DESC LIMIT ?)
		  ORDER BY seq`,
		postID, postID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a                       Attempt
			at                      int64
			remoteID, kind, errText sql.NullString
		)
		if err := rows.Scan(&a.PostID, &a.AccountID, &a.Platform, &a.Number, &at, &a.Outcome,
			&remoteID, &kind, &errText, &a.Retryable, &a.DurationMS); err != nil {
			return nil, err
		}
		a.At = time.UnixMilli(at).UTC()
		a.RemoteID, a.ErrorKind, a.Error = remoteID.String, kind.String, errText.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrClosed
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
