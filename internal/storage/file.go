package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"schoolbell/internal/fswatch"
	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const documentVersion = "1"

// Activity entries are frequent and cheap to lose on a crash; they are
// flushed at most this often, with a deferred flush picking up the rest.
var (
	activityFlushEvery = 2 * time.Second
	activityFlushBurst = 5
)

// document is the on-disk layout of the file driver.
type document struct {
	Schedules schedule.Weekly `json:"schedules"`
	Logs      []ActivityEntry `json:"logs"`
	Metadata  metadata        `json:"metadata"`
}

type metadata struct {
	Version      string    `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

func newDocument(now time.Time) *document {
	return &document{
		Schedules: schedule.Weekly{}.Normalize(),
		Logs:      []ActivityEntry{},
		Metadata:  metadata{Version: documentVersion, CreatedAt: now, LastModified: now},
	}
}

// decodeDocument parses a document. Day keys are made canonical; unknown
// keys are dropped and returned so the caller can report them.
func decodeDocument(b []byte) (*document, []string, error) {
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, nil, err
	}
	if doc.Schedules == nil {
		return nil, nil, errors.New("document has no schedules")
	}
	var unknown []string
	doc.Schedules, unknown = doc.Schedules.Canonical()
	if doc.Logs == nil {
		doc.Logs = []ActivityEntry{}
	}
	return &doc, unknown, nil
}

// fileStore keeps the whole document in memory and rewrites it atomically.
// Several processes may open the same path (the daemon and the CLI): every
// write holds an advisory lock on <path>.lock and first adopts what other
// writers saved since this store last read or wrote the file.
//
// Files:
//   - <path>        current document
//   - <path>.backup previous document (written before each schedule change)
//   - <path>.lock   cross-process write lock
type fileStore struct {
	path       string
	backupPath string
	log        logx.Logger
	maxLogs    int
	lock       *flock.Flock

	mu       sync.Mutex
	doc      *document
	lastHash uint64
	closed   bool
	// external is set when a write adopted schedules saved by another
	// process; the watcher reports it even though the file now hashes
	// to our own write.
	external bool

	limiter    *rate.Limiter
	flushTimer *time.Timer
	dirty      bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{
		path:       path,
		backupPath: path + ".backup",
		log:        log,
		maxLogs:    maxLogs(cfg),
		lock:       flock.New(path + ".lock"),
		limiter:    rate.NewLimiter(rate.Every(activityFlushEvery), activityFlushBurst),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lockFile()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// lockFile takes the cross-process write lock.
func (s *fileStore) lockFile() (func(), error) {
	if err := s.lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", s.lock.Path(), err)
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("unlock failed", logx.String("path", s.lock.Path()), logx.Err(err))
		}
	}, nil
}

// beginWrite locks the file and brings the in-memory document up to date
// with the disk. Call with s.mu held; the returned func releases the lock.
func (s *fileStore) beginWrite() (func(), error) {
	unlock, err := s.lockFile()
	if err != nil {
		return nil, err
	}
	if err := s.syncLocked(); err != nil {
		s.log.Warn("data document on disk unreadable; overwriting it", logx.Err(err))
	}
	return unlock, nil
}

// syncLocked adopts the document on disk when another process changed it.
func (s *fileStore) syncLocked() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	changed, err := s.adoptLocked(b)
	if changed {
		s.external = true
	}
	return err
}

// adoptLocked takes the schedules from b and merges its activity log with
// the in-memory one. It reports false when b is what this store last saw.
func (s *fileStore) adoptLocked(b []byte) (bool, error) {
	h := fswatch.Hash(b)
	if h == s.lastHash {
		return false, nil
	}
	doc, unknown, err := decodeDocument(b)
	if err != nil {
		return false, err
	}
	if len(unknown) > 0 {
		s.log.Warn("ignoring unknown day keys in data document", logx.Any("keys", unknown))
	}
	s.doc.Schedules = doc.Schedules
	s.doc.Logs = mergeLogs(doc.Logs, s.doc.Logs, s.maxLogs)
	s.lastHash = h
	return true, nil
}

// mergeLogs unions two activity logs by id, oldest first, keeping the
// newest limit entries.
func mergeLogs(disk, mem []ActivityEntry, limit int) []ActivityEntry {
	seen := make(map[string]struct{}, len(disk)+len(mem))
	out := make([]ActivityEntry, 0, len(disk)+len(mem))
	for _, src := range [][]ActivityEntry{disk, mem} {
		for _, e := range src {
			if _, dup := seen[e.ID]; dup && e.ID != "" {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if over := len(out) - limit; over > 0 {
		out = append([]ActivityEntry(nil), out[over:]...)
	}
	return out
}

func (s *fileStore) loadLocked() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.doc = newDocument(time.Now())
		return s.writeLocked(false)
	}
	if err != nil {
		return err
	}
	doc, unknown, err := decodeDocument(b)
	if err == nil {
		if len(unknown) > 0 {
			s.log.Warn("ignoring unknown day keys in data document", logx.Any("keys", unknown))
		}
		s.doc = doc
		s.lastHash = fswatch.Hash(b)
		return nil
	}

	s.log.Error("data document unreadable; trying backup", logx.String("path", s.path), logx.Err(err))
	if bb, berr := os.ReadFile(s.backupPath); berr == nil {
		if bdoc, _, derr := decodeDocument(bb); derr == nil {
			s.doc = bdoc
			s.log.Warn("recovered data document from backup", logx.String("backup", s.backupPath))
			return s.writeLocked(false)
		}
	}

	aside := s.path + ".corrupt-" + time.Now().Format("20060102T150405")
	if rerr := os.Rename(s.path, aside); rerr != nil {
		return fmt.Errorf("data document corrupt and no usable backup: %w", err)
	}
	s.log.Error("no usable backup; starting with an empty schedule", logx.String("moved_to", aside))
	s.doc = newDocument(time.Now())
	return s.writeLocked(false)
}

// writeLocked saves the document via temp file + rename. With backup set the
// current file is copied aside first.
func (s *fileStore) writeLocked(backup bool) error {
	s.doc.Metadata.LastModified = time.Now()
	if s.doc.Metadata.Version == "" {
		s.doc.Metadata.Version = documentVersion
	}
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	if backup {
		if prev, err := os.ReadFile(s.path); err == nil {
			if err := os.WriteFile(s.backupPath, prev, 0o600); err != nil {
				s.log.Warn("backup write failed", logx.String("path", s.backupPath), logx.Err(err))
			}
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := renameWithRetry(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.lastHash = fswatch.Hash(b)
	s.dirty = false
	return nil
}

// renameWithRetry tolerates short-lived locks held by scanners or editors.
func renameWithRetry(from, to string) error {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		if err = os.Rename(from, to); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	if !s.dirty {
		return nil
	}
	unlock, err := s.beginWrite()
	if err != nil {
		return err
	}
	defer unlock()
	return s.writeLocked(false)
}

func (s *fileStore) GetAllSchedules(ctx context.Context) (schedule.Weekly, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.doc.Schedules.Clone().Normalize(), nil
}

func (s *fileStore) GetSchedule(ctx context.Context, day schedule.Day) ([]schedule.Event, error) {
	_ = ctx
	if !day.Valid() {
		return nil, fmt.Errorf("day %q: %w", day, ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	src := s.doc.Schedules[day]
	out := make([]schedule.Event, len(src))
	for i := range src {
		out[i] = src[i].Clone()
	}
	return out, nil
}

func (s *fileStore) AddEvent(ctx context.Context, day schedule.Day, ev schedule.Event) (schedule.Event, error) {
	_ = ctx
	if !day.Valid() {
		return schedule.Event{}, fmt.Errorf("day %q: %w", day, ErrNotFound)
	}
	if err := validateEvent(ev); err != nil {
		return schedule.Event{}, err
	}
	now := time.Now()
	ev = ev.Clone()
	ev.ID = uuid.NewString()
	ev.CreatedAt, ev.UpdatedAt = now, now

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return schedule.Event{}, ErrClosed
	}
	unlock, err := s.beginWrite()
	if err != nil {
		return schedule.Event{}, err
	}
	defer unlock()
	evs := append(s.doc.Schedules[day], ev)
	schedule.SortByTime(evs)
	s.doc.Schedules[day] = evs
	if err := s.writeLocked(true); err != nil {
		return schedule.Event{}, err
	}
	return ev.Clone(), nil
}

func (s *fileStore) UpdateEvent(ctx context.Context, day schedule.Day, id string, patch schedule.EventPatch) (schedule.Event, error) {
	_ = ctx
	if !day.Valid() {
		return schedule.Event{}, fmt.Errorf("day %q: %w", day, ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return schedule.Event{}, ErrClosed
	}
	unlock, err := s.beginWrite()
	if err != nil {
		return schedule.Event{}, err
	}
	defer unlock()
	evs := s.doc.Schedules[day]
	i := indexOf(evs, id)
	if i < 0 {
		return schedule.Event{}, fmt.Errorf("event %s on %s: %w", id, day, ErrNotFound)
	}
	next := patch.Apply(evs[i])
	if err := validateEvent(next); err != nil {
		return schedule.Event{}, err
	}
	next.UpdatedAt = time.Now()
	evs[i] = next
	schedule.SortByTime(evs)
	if err := s.writeLocked(true); err != nil {
		return schedule.Event{}, err
	}
	return next.Clone(), nil
}

func (s *fileStore) DeleteEvent(ctx context.Context, day schedule.Day, id string) error {
	_ = ctx
	if !day.Valid() {
		return fmt.Errorf("day %q: %w", day, ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	unlock, err := s.beginWrite()
	if err != nil {
		return err
	}
	defer unlock()
	evs := s.doc.Schedules[day]
	i := indexOf(evs, id)
	if i < 0 {
		return fmt.Errorf("event %s on %s: %w", id, day, ErrNotFound)
	}
	s.doc.Schedules[day] = append(evs[:i:i], evs[i+1:]...)
	return s.writeLocked(true)
}

func (s *fileStore) LogActivity(ctx context.Context, typ, message string, details map[string]any) error {
	_ = ctx
	e := ActivityEntry{ID: uuid.NewString(), At: time.Now(), Type: typ, Message: message, Details: details}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.doc.Logs = append(s.doc.Logs, e)
	if over := len(s.doc.Logs) - s.maxLogs; over > 0 {
		s.doc.Logs = append([]ActivityEntry(nil), s.doc.Logs[over:]...)
	}

	if s.limiter.Allow() {
		unlock, err := s.beginWrite()
		if err != nil {
			return err
		}
		defer unlock()
		return s.writeLocked(false)
	}
	s.dirty = true
	if s.flushTimer == nil {
		s.flushTimer = time.AfterFunc(activityFlushEvery, s.flushDeferred)
	}
	return nil
}

func (s *fileStore) flushDeferred() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushTimer = nil
	if s.closed || !s.dirty {
		return
	}
	unlock, err := s.beginWrite()
	if err != nil {
		s.log.Warn("deferred activity flush failed", logx.Err(err))
		return
	}
	defer unlock()
	if err := s.writeLocked(false); err != nil {
		s.log.Warn("deferred activity flush failed", logx.Err(err))
	}
}

func (s *fileStore) RecentActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	n := len(s.doc.Logs)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ActivityEntry, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.doc.Logs[i])
	}
	return out, nil
}

// Watch reports edits made to the document by other processes (the CLI, an
// operator with an editor). Writes made by this store are recognised by
// content hash and ignored, unless they carried an external edit along.
func (s *fileStore) Watch(ctx context.Context, onChange func()) error {
	return fswatch.Watch(ctx, s.path, fswatch.Options{Log: s.log}, func() {
		changed, err := s.reloadFromDisk()
		if err != nil {
			s.log.Warn("data document reload failed; keeping current schedule", logx.Err(err))
			return
		}
		if changed {
			s.log.Info("data document changed on disk", logx.String("path", s.path))
			onChange()
		}
	})
}

// reloadFromDisk adopts another writer's changes. It also reports changes
// that a write of this store already adopted.
func (s *fileStore) reloadFromDisk() (bool, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	changed, err := s.adoptLocked(b)
	if s.external {
		s.external = false
		changed = true
	}
	return changed, err
}

func indexOf(evs []schedule.Event, id string) int {
	for i := range evs {
		if evs[i].ID == id {
			return i
		}
	}
	return -1
}
