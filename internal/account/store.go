package account

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"autopost/internal/config"
	"autopost/internal/failure"
	logx "autopost/pkg/logx"
)

// Store holds the loaded accounts. A directory-backed store can be reloaded
// and watched; an in-memory store (NewStore) cannot.
type Store struct {
	dir string
	log logx.Logger

	mu    sync.RWMutex
	byID  map[string]Account
	order []string
}

// NewStore builds an in-memory store.
func NewStore(accts ...Account) (*Store, error) {
	s := &Store{}
	if err := s.replace(accts); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads every account file in dir.
func Load(dir string, log logx.Logger) (*Store, error) {
	s := &Store{dir: dir, log: log}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

// Reload re-reads the directory. On any error the previous set is kept.
func (s *Store) Reload() error {
	if s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read accounts dir: %w", err)
	}
	var (
		accts []Account
		errs  []error
	)
	for _, e := range entries {
		if e.IsDir() || !IsAccountFile(e.Name()) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		f, err := ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a, err := f.Build(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		accts = append(accts, a)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if err := s.replace(accts); err != nil {
		return err
	}
	s.log.Info("accounts loaded", logx.String("dir", s.dir), logx.Int("count", len(accts)))
	return nil
}

func (s *Store) replace(accts []Account) error {
	byID := make(map[string]Account, len(accts))
	names := make(map[string]string, len(accts))
	order := make([]string, 0, len(accts))
	for _, a := range accts {
		if _, dup := byID[a.ID]; dup {
			return fmt.Errorf("duplicate account id %q", a.ID)
		}
		key := strings.ToLower(a.Name)
		if other, dup := names[key]; dup {
			return fmt.Errorf("accounts %q and %q share the name %q", other, a.ID, a.Name)
		}
		byID[a.ID] = a
		names[key] = a.ID
		order = append(order, a.ID)
	}
	sort.Strings(order)

	s.mu.Lock()
	s.byID = byID
	s.order = order
	s.mu.Unlock()
	return nil
}

// Get returns the account by id. A missing account is a permanent
// configuration error.
func (s *Store) Get(id string) (Account, error) {
	s.mu.RLock()
	a, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Account{}, failure.Config(failure.ReasonMissingAccount, "%w: %q", ErrNotFound, id)
	}
	return a, nil
}

// List returns all accounts ordered by id.
func (s *Store) List() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Resolve finds an account by id or (case-insensitive) display name.
func (s *Store) Resolve(ref string) (Account, error) {
	ref = strings.TrimSpace(ref)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.byID[ref]; ok {
		return a, nil
	}
	for _, id := range s.order {
		if strings.EqualFold(s.byID[id].Name, ref) {
			return s.byID[id], nil
		}
	}
	return Account{}, fmt.Errorf("%w: %q", ErrNotFound, ref)
}

// SetStatus changes an account status and rewrites its file.
func (s *Store) SetStatus(ref string, status Status) (Account, error) {
	a, err := s.Resolve(ref)
	if err != nil {
		return Account{}, err
	}
	if a.Path == "" {
		return Account{}, fmt.Errorf("account %s has no backing file", a.ID)
	}
	f, err := ReadFile(a.Path)
	if err != nil {
		return Account{}, err
	}
	f.Status = string(status)
	updated, err := f.Build(a.Path)
	if err != nil {
		return Account{}, err
	}
	if err := f.WriteFile(a.Path); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	s.byID[updated.ID] = updated
	s.mu.Unlock()
	return updated, nil
}

// AddSchedule appends a schedule to an account and rewrites its file.
func (s *Store) AddSchedule(ref string, sch Schedule) (Account, error) {
	a, err := s.Resolve(ref)
	if err != nil {
		return Account{}, err
	}
	if a.Path == "" {
		return Account{}, fmt.Errorf("account %s has no backing file", a.ID)
	}
	f, err := ReadFile(a.Path)
	if err != nil {
		return Account{}, err
	}
	f.Schedules = append(f.Schedules, sch)
	updated, err := f.Build(a.Path)
	if err != nil {
		return Account{}, err
	}
	if err := f.WriteFile(a.Path); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	s.byID[updated.ID] = updated
	s.mu.Unlock()
	return updated, nil
}

// Create writes a new account file (TOML) into the store directory.
func (s *Store) Create(f File) (Account, error) {
	if s.dir == "" {
		return Account{}, errors.New("account store has no directory")
	}
	f.ID = strings.TrimSpace(f.ID)
	path := filepath.Join(s.dir, f.ID+".toml")
	a, err := f.Build(path)
	if err != nil {
		return Account{}, err
	}
	if _, err := s.Resolve(a.ID); err == nil {
		return Account{}, fmt.Errorf("account %q already exists", a.ID)
	}
	if _, err := s.Resolve(a.Name); err == nil {
		return Account{}, fmt.Errorf("account name %q is already taken", a.Name)
	}
	if _, err := os.Stat(path); err == nil {
		return Account{}, fmt.Errorf("%s already exists", path)
	}
	if err := f.WriteFile(path); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	s.byID[a.ID] = a
	s.order = append(s.order, a.ID)
	sort.Strings(s.order)
	s.mu.Unlock()
	return a, nil
}

// Watch reloads the store when account files change. Blocks until ctx ends.
func (s *Store) Watch(ctx context.Context) error {
	if s.dir == "" {
		<-ctx.Done()
		return nil
	}
	return config.WatchDir(ctx, config.WatchOptions{
		Dir:   s.dir,
		Match: IsAccountFile,
		Log:   s.log,
		OnChange: func() {
			if err := s.Reload(); err != nil {
				s.log.Warn("account reload rejected; keeping previous set", logx.Err(err))
			}
		},
	})
}
