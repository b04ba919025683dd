// Package fswatch watches a single file for changes and calls back after the
// writer has settled. Watching the parent directory keeps it working across
// editors and stores that replace the file with an atomic rename.
package fswatch

import (
	"context"
	"hash/fnv"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "schoolbell/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	DefaultDebounce = 250 * time.Millisecond

	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Options tunes Watch. The zero value is usable.
type Options struct {
	Debounce time.Duration
	Log      logx.Logger
}

// Hash is the content fingerprint used to tell self-writes and no-op saves
// from real edits.
func Hash(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Watch blocks until ctx is done, calling onChange (from a timer goroutine)
// once per burst of events touching path. A broken fsnotify watcher is
// recreated with jittered exponential backoff.
func Watch(ctx context.Context, path string, opt Options, onChange func()) error {
	dir := filepath.Dir(path)
	file := filepath.Base(path)
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	delay := opt.Debounce
	if delay <= 0 {
		delay = DefaultDebounce
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(delay, func() {
			if ctx.Err() != nil {
				return
			}
			onChange()
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sleep := func(reason string, err error) bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		log.Warn(reason, logx.Err(err), logx.String("dir", dir), logx.Duration("backoff", wait))
		if backoff < restartBackoffMax {
			backoff = min(backoff*2, restartBackoffMax)
		}
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
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			if !sleep("watch add failed", err) {
				return nil
			}
			continue
		}
		backoff = restartBackoffBase
		log.Debug("watcher started", logx.String("dir", dir), logx.String("file", file))

		err = pump(ctx, w, file, debounce, log)
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		if !sleep("watcher stopped; restarting", err) {
			return nil
		}
	}
	return nil
}

// pump forwards events until the watcher breaks or ctx ends.
func pump(ctx context.Context, w *fsnotify.Watcher, file string, debounce func(), log logx.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			// Overflow means events were dropped; treat it as a change.
			if strings.Contains(msg, "overflow") {
				log.Warn("watch overflow; forcing reload", logx.Err(err))
				debounce()
				continue
			}
			if strings.Contains(msg, "closed") {
				return err
			}
			log.Warn("watch error", logx.Err(err))
		}
	}
}
