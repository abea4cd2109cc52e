package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "autopost/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.posts.snapshot.json / <prefix>.posts.journal.jsonl
//   - <prefix>.dedup.snapshot.json / <prefix>.dedup.journal.jsonl
//   - <prefix>.attempts.jsonl (append-only JSON Lines)
//
// Journals are periodically compacted into their snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	posts        *journal[PostRecord]
	dedup        *journal[int64] // unix milli
	attemptsPath string
	attemptsFile *os.File
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	posts, err := openJournal[PostRecord](prefix+".posts", nil)
	if err != nil {
		return nil, err
	}
	dedup, err := openJournal(prefix+".dedup", func(_ string, until int64) bool {
		return until < time.Now().UnixMilli()
	})
	if err != nil {
		_ = posts.close()
		return nil, err
	}
	attemptsPath := prefix + ".attempts.jsonl"
	af, err := os.OpenFile(attemptsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = posts.close()
		_ = dedup.close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("posts", len(posts.data)))

	return &fileStore{
		log:          log,
		posts:        posts,
		dedup:        dedup,
		attemptsPath: attemptsPath,
		attemptsFile: af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.posts != nil {
		errs = append(errs, s.posts.compact(), s.posts.close())
		s.posts = nil
	}
	if s.dedup != nil {
		errs = append(errs, s.dedup.close())
		s.dedup = nil
	}
	if s.attemptsFile != nil {
		errs = append(errs, s.attemptsFile.Close())
		s.attemptsFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) SavePost(ctx context.Context, p PostRecord) error {
	_ = ctx
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("post id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.posts == nil {
		return ErrClosed
	}
	if err := s.posts.put(p.ID, p); err != nil {
		return err
	}
	s.maybeCompact(s.posts, "posts")
	return nil
}

func (s *fileStore) LoadPosts(ctx context.Context) ([]PostRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.posts == nil {
		return nil, ErrClosed
	}
	out := make([]PostRecord, 0, len(s.posts.data))
	for _, p := range s.posts.data {
		out = append(out, p)
	}
	return out, nil
}

func (s *fileStore) AppendAttempt(ctx context.Context, a Attempt) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attemptsFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.attemptsFile).Encode(a)
}

func (s *fileStore) ListAttempts(ctx context.Context, postID string, limit int) ([]Attempt, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attemptsFile == nil {
		return nil, ErrClosed
	}
	f, err := os.Open(s.attemptsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Attempt
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var a Attempt
		if err := json.Unmarshal(sc.Bytes(), &a); err != nil {
			continue
		}
		if postID != "" && a.PostID != postID {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) > limit {
			out = out[1:]
		}
	}
	return out, sc.Err()
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedup == nil {
		return ErrClosed
	}
	if err := s.dedup.put(key, until.UnixMilli()); err != nil {
		return err
	}
	s.maybeCompact(s.dedup, "dedup")
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedup == nil {
		return time.Time{}, false, ErrClosed
	}
	ms, ok := s.dedup.data[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

type compactor interface {
	writeCount() int
	compact() error
}

func (s *fileStore) maybeCompact(j compactor, name string) {
	if j.writeCount()%compactEvery != 0 {
		return
	}
	if err := j.compact(); err != nil {
		s.log.Debug("journal compact failed", logx.String("journal", name), logx.Err(err))
	}
}

// journal is a keyed map persisted as snapshot + append-only journal.
// Replaying the journal over the snapshot rebuilds the latest value per key.
type journal[V any] struct {
	snapPath string
	f        *os.File
	data     map[string]V
	writes   int
	expired  func(key string, v V) bool
}

type journalRecord[V any] struct {
	Key   string `json:"key"`
	Value V      `json:"value"`
}

func openJournal[V any](prefix string, expired func(string, V) bool) (*journal[V], error) {
	j := &journal[V]{
		snapPath: prefix + ".snapshot.json",
		data:     map[string]V{},
		expired:  expired,
	}
	journalPath := prefix + ".journal.jsonl"
	_ = j.loadSnapshot()
	_ = j.replay(journalPath)
	j.prune()

	f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	j.f = f
	return j, nil
}

func (j *journal[V]) put(key string, v V) error {
	if j.f == nil {
		return ErrClosed
	}
	j.data[key] = v
	if err := json.NewEncoder(j.f).Encode(journalRecord[V]{Key: key, Value: v}); err != nil {
		return err
	}
	j.writes++
	return nil
}

func (j *journal[V]) writeCount() int { return j.writes }

func (j *journal[V]) prune() {
	if j.expired == nil {
		return
	}
	for k, v := range j.data {
		if j.expired(k, v) {
			delete(j.data, k)
		}
	}
}

func (j *journal[V]) compact() error {
	if j.f == nil {
		return nil
	}
	j.prune()

	tmp := j.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(j.data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, j.snapPath); err != nil {
		return err
	}
	if err := j.f.Truncate(0); err != nil {
		return err
	}
	_, err = j.f.Seek(0, 2)
	return err
}

func (j *journal[V]) close() error {
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

func (j *journal[V]) loadSnapshot() error {
	f, err := os.Open(j.snapPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]V
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		j.data[k] = v
	}
	return nil
}

func (j *journal[V]) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord[V]
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		j.data[r.Key] = r.Value
	}
	return sc.Err()
}
