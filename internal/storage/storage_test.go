package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	logx "autopost/pkg/logx"
)

func openDriver(t *testing.T, driver string) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autopost.db")
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	return st, path
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v; want disabled", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "mysql"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must fail")
	}
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, path := openDriver(t, driver)

			at := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
			p := PostRecord{
				ID: "p1", AccountID: "bread", Platform: "twitter", Template: "tip",
				ScheduledAt: at, Status: "pending", CreatedAt: at, UpdatedAt: at,
			}
			if err := st.SavePost(ctx, p); err != nil {
				t.Fatalf("SavePost: %v", err)
			}
			p.Status = "posted"
			p.RemoteID = "123"
			p.Attempts = 1
			p.Content = []byte(`{"body":"hello"}`)
			if err := st.SavePost(ctx, p); err != nil {
				t.Fatalf("SavePost update: %v", err)
			}
			for i := 1; i <= 3; i++ {
				a := Attempt{PostID: "p1", AccountID: "bread", Platform: "twitter", Number: i, At: at, Outcome: "requeued"}
				if err := st.AppendAttempt(ctx, a); err != nil {
					t.Fatalf("AppendAttempt: %v", err)
				}
			}
			if err := st.AppendAttempt(ctx, Attempt{PostID: "p2", Number: 1, At: at, Outcome: "posted"}); err != nil {
				t.Fatal(err)
			}
			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "alert:x", until); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st.Close()

			posts, err := st.LoadPosts(ctx)
			if err != nil {
				t.Fatalf("LoadPosts: %v", err)
			}
			if len(posts) != 1 {
				t.Fatalf("posts = %d, want 1", len(posts))
			}
			got := posts[0]
			if got.Status != "posted" || got.RemoteID != "123" || got.Attempts != 1 || !got.ScheduledAt.Equal(at) {
				t.Fatalf("post = %+v", got)
			}
			if string(got.Content) != `{"body":"hello"}` {
				t.Fatalf("content = %s", got.Content)
			}

			attempts, err := st.ListAttempts(ctx, "p1", 2)
			if err != nil {
				t.Fatalf("ListAttempts: %v", err)
			}
			if len(attempts) != 2 || attempts[0].Number != 2 || attempts[1].Number != 3 {
				t.Fatalf("attempts = %+v, want the newest two oldest first", attempts)
			}
			all, err := st.ListAttempts(ctx, "", 0)
			if err != nil || len(all) != 4 {
				t.Fatalf("all attempts = %d, %v", len(all), err)
			}

			gotUntil, ok, err := st.GetDedup(ctx, "alert:x")
			if err != nil || !ok || !gotUntil.Equal(until) {
				t.Fatalf("GetDedup = %v, %v, %v", gotUntil, ok, err)
			}
			if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
				t.Fatal("missing key reported present")
			}
		})
	}
}

func TestFileStoreDropsExpiredDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, path := openDriver(t, "file")
	if err := st.PutDedup(ctx, "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, ok, _ := st.GetDedup(ctx, "old"); ok {
		t.Fatal("expired dedup entry survived reopen")
	}
}

func TestSQLiteMigrationsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for i := 0; i < 2; i++ {
		if err := runMigrations(ctx, db); err != nil {
			t.Fatalf("runMigrations #%d: %v", i+1, err)
		}
	}
	v, err := schemaVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != migrations[len(migrations)-1].version {
		t.Fatalf("schema version = %d", v)
	}
}

func TestSQLiteRejectsDuplicateKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openDriver(t, "sqlite")
	defer st.Close()
	at := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	base := PostRecord{AccountID: "a", Platform: "blog", Template: "t", ScheduledAt: at, Status: "pending", CreatedAt: at, UpdatedAt: at}
	first, second := base, base
	first.ID, second.ID = "one", "two"
	if err := st.SavePost(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := st.SavePost(ctx, second); err == nil {
		t.Fatal("second post with the same key must be rejected")
	}
}
