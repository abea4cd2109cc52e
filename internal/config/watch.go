package config

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "autopost/pkg/logx"
)

// WatchOptions configures WatchDir.
type WatchOptions struct {
	Dir      string
	Match    func(name string) bool // nil matches every file
	Debounce time.Duration
	OnChange func()
	Log      logx.Logger
}

const (
	watchBackoffBase = 250 * time.Millisecond
	watchBackoffMax  = 5 * time.Second
)

// WatchDir calls OnChange (debounced) whenever a matching file in Dir is
// written, created, renamed or removed. A broken fsnotify watcher is
// recreated with jittered backoff. Returns nil when ctx ends.
func WatchDir(ctx context.Context, opt WatchOptions) error {
	if opt.Debounce <= 0 {
		opt.Debounce = 250 * time.Millisecond
	}
	log := opt.Log
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := watchBackoffBase

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(opt.Debounce, func() {
			if ctx.Err() == nil && opt.OnChange != nil {
				opt.OnChange()
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	sleep := func(reason string, err error) bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		log.Warn(reason, logx.String("dir", opt.Dir), logx.Duration("backoff", wait), logx.Err(err))
		backoff = min(backoff*2, watchBackoffMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			if !sleep("watch init failed", err) {
				return nil
			}
			continue
		}
		if err := w.Add(opt.Dir); err != nil {
			_ = w.Close()
			if !sleep("watch add failed", err) {
				return nil
			}
			continue
		}
		backoff = watchBackoffBase
		log.Debug("watcher started", logx.String("dir", opt.Dir))

		broken := watchLoop(ctx, w, opt.Match, trigger, log)
		_ = w.Close()
		if !broken {
			return nil
		}
		if !sleep("watcher stopped; restarting", nil) {
			return nil
		}
	}
	return nil
}

// watchLoop returns true when the watcher broke and should be recreated.
func watchLoop(ctx context.Context, w *fsnotify.Watcher, match func(string) bool, trigger func(), log logx.Logger) bool {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-w.Events:
			if !ok {
				return true
			}
			if ev.Op&relevant == 0 {
				continue
			}
			if match == nil || match(ev.Name) {
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return true
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "overflow") {
				// Events may have been missed.
				log.Warn("watch overflow; forcing reload", logx.Err(err))
				trigger()
				continue
			}
			log.Warn("watch error", logx.Err(err))
			if strings.Contains(msg, "closed") {
				return true
			}
		}
	}
}
