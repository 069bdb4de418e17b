package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/spf13/afero"

	"cloudplay/models"
)

var (
	ErrStorageDirRequired = errors.New("storage directory not provided")
	ErrIDRequired         = errors.New("id is required")

	// ErrSyncFailed means a remote history flush exhausted its retries. The
	// local copy stays authoritative for this device until the next window.
	ErrSyncFailed = errors.New("remote history sync failed")
)

const (
	localFileName = "watch_history.json"

	flushRetryAttempts = 3
	flushRetryDelay    = 2 * time.Second

	// completedSentinelDuration stands in for an unknown duration when
	// marking an item complete, so position == duration still reads as
	// finished.
	completedSentinelDuration = 1
)

type remoteStore interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Upload(ctx context.Context, path string, data []byte) error
}

type notifier interface {
	Publish(kind, message string)
}

// Service persists watch progress in two places: a remote whole-document copy
// (authoritative, shared across devices) and a local write-through copy that
// substitutes for it whenever the remote store is unreachable. The in-memory
// map is the single writer during a session; the two stores are sinks.
type Service struct {
	remote     remoteStore
	remotePath string
	fs         afero.Fs
	localPath  string
	notifier   notifier
	throttle   time.Duration

	mu      sync.RWMutex
	records models.WatchHistory
	dirty   bool

	kick   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewService creates the history service. The local copy lives at
// storageDir/watch_history.json on fs; remotePath is the fixed well-known
// document path in the remote store.
func NewService(remote remoteStore, remotePath string, fs afero.Fs, storageDir string, throttle time.Duration, n notifier) (*Service, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}
	if err := fs.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	if throttle <= 0 {
		throttle = 3 * time.Second
	}

	return &Service{
		remote:     remote,
		remotePath: remotePath,
		fs:         fs,
		localPath:  filepath.Join(storageDir, localFileName),
		notifier:   n,
		throttle:   throttle,
		records:    make(models.WatchHistory),
		kick:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Load populates the in-memory map: remote document first, local copy when
// the remote read fails for any reason (network, missing file, malformed
// JSON). Remote unavailability is recoverable and never raised to the caller.
// When both documents exist the remote one wins wholesale; the local copy is
// overwritten with it rather than merged per key.
func (s *Service) Load(ctx context.Context) {
	if doc, err := s.loadRemote(ctx); err == nil {
		s.mu.Lock()
		s.records = doc
		s.saveLocalLocked()
		s.mu.Unlock()
		log.Printf("[history] loaded %d record(s) from remote store", len(doc))
		return
	} else {
		log.Printf("[history] remote load failed, falling back to local copy: %v", err)
	}

	doc := s.loadLocal()
	s.mu.Lock()
	s.records = doc
	s.mu.Unlock()
	log.Printf("[history] loaded %d record(s) from local copy", len(doc))
}

func (s *Service) loadRemote(ctx context.Context) (models.WatchHistory, error) {
	data, err := s.remote.Download(ctx, s.remotePath)
	if err != nil {
		return nil, err
	}

	var doc models.WatchHistory
	if err := json.Unmarshal(data, &doc); err != nil {
		// A malformed document is treated as absence, not a crash.
		return nil, fmt.Errorf("malformed remote history document: %w", err)
	}
	if doc == nil {
		doc = make(models.WatchHistory)
	}
	return doc, nil
}

func (s *Service) loadLocal() models.WatchHistory {
	data, err := afero.ReadFile(s.fs, s.localPath)
	if err != nil {
		return make(models.WatchHistory)
	}

	var doc models.WatchHistory
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("[history] malformed local history document, starting empty: %v", err)
		return make(models.WatchHistory)
	}
	if doc == nil {
		doc = make(models.WatchHistory)
	}
	return doc
}

// Get returns the progress record for id, if any.
func (s *Service) Get(id string) (models.ProgressRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Snapshot returns a copy of the full in-memory history document.
func (s *Service) Snapshot() models.WatchHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Clone()
}

// Set records progress for id. Position is clamped into [0, duration], the
// timestamp never moves backwards, the local copy is written through
// immediately, and a remote flush is scheduled on the throttle.
func (s *Service) Set(id string, position, duration float64) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrIDRequired
	}

	if duration < 0 {
		duration = 0
	}
	if position < 0 {
		position = 0
	}
	if position > duration {
		position = duration
	}

	epoch := time.Now().Unix()

	s.mu.Lock()
	if prev, ok := s.records[id]; ok && prev.LastWatchedEpoch > epoch {
		epoch = prev.LastWatchedEpoch
	}
	s.records[id] = models.ProgressRecord{
		Position:         position,
		Duration:         duration,
		LastWatchedEpoch: epoch,
	}
	s.saveLocalLocked()
	s.dirty = true
	s.mu.Unlock()

	s.scheduleFlush()
	return nil
}

// MarkComplete sets position to the record's own duration, or to a sentinel
// duration when none is known yet. Idempotent aside from the timestamp.
func (s *Service) MarkComplete(id string) error {
	duration := float64(completedSentinelDuration)
	if rec, ok := s.Get(id); ok && rec.Duration > 0 {
		duration = rec.Duration
	}
	return s.Set(id, duration, duration)
}

// Remove deletes the key from memory and both stores.
func (s *Service) Remove(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrIDRequired
	}

	s.mu.Lock()
	if _, ok := s.records[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.records, id)
	s.saveLocalLocked()
	s.dirty = true
	s.mu.Unlock()

	s.scheduleFlush()
	return nil
}

// Start launches the throttled remote flusher. At most one remote write is in
// flight per throttle window; writes landing during a window coalesce into
// the next flush, which always uploads the latest in-memory state.
func (s *Service) Start() {
	s.once.Do(func() {
		go s.flushLoop()
	})
}

// Close stops the flusher and performs a final flush to both stores. Safe to
// call on every exit path; the final flush runs even if Start was never
// called.
func (s *Service) Close(ctx context.Context) {
	s.once.Do(func() { close(s.doneCh) }) // flusher never ran
	select {
	case <-s.doneCh:
	default:
		close(s.stopCh)
		<-s.doneCh
	}

	s.mu.Lock()
	s.saveLocalLocked()
	dirty := s.dirty
	s.dirty = false
	s.mu.Unlock()

	if dirty {
		if err := s.flushRemote(ctx); err != nil {
			log.Printf("[history] final remote flush failed: %v", err)
		}
	}
}

func (s *Service) scheduleFlush() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Service) flushLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.throttle)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.kick:
		case <-ticker.C:
		}

		s.mu.Lock()
		dirty := s.dirty
		s.dirty = false
		s.mu.Unlock()

		if !dirty {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.flushRemote(ctx)
		cancel()

		if err != nil {
			log.Printf("[history] %v", err)
			if s.notifier != nil {
				s.notifier.Publish("history", "could not sync watch progress to the cloud; will retry")
			}
			// Leave the door open for the next window, which will pick up
			// whatever the in-memory state is by then.
			s.mu.Lock()
			s.dirty = true
			s.mu.Unlock()
		}

		// One flush per window at most.
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// flushRemote uploads the whole document with a bounded, fixed-delay retry.
func (s *Service) flushRemote(ctx context.Context) error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.records, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	err = retry.Do(
		func() error { return s.remote.Upload(ctx, s.remotePath, data) },
		retry.Context(ctx),
		retry.Attempts(flushRetryAttempts),
		retry.Delay(flushRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return nil
}

// saveLocalLocked writes the local document through an atomic rename. Callers
// hold s.mu.
func (s *Service) saveLocalLocked() {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		log.Printf("[history] encode local history: %v", err)
		return
	}

	tmp := s.localPath + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		log.Printf("[history] write local history: %v", err)
		return
	}
	if err := s.fs.Rename(tmp, s.localPath); err != nil {
		log.Printf("[history] replace local history: %v", err)
	}
}
