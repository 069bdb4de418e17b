package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"cloudplay/models"
)

type fakeRemote struct {
	mu          sync.Mutex
	downloadDoc []byte
	downloadErr error
	uploadErr   error
	uploads     [][]byte
}

func (f *fakeRemote) Download(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.downloadDoc, nil
}

func (f *fakeRemote) Upload(ctx context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, append([]byte(nil), data...))
	return nil
}

func (f *fakeRemote) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeRemote) lastUpload() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.uploads) == 0 {
		return nil
	}
	return f.uploads[len(f.uploads)-1]
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []string
}

func (f *fakeNotifier) Publish(kind, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, kind)
}

func newTestService(t *testing.T, remote *fakeRemote) (*Service, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	svc, err := NewService(remote, "/.cloudplay/watch_history.json", fs, "cache", 10*time.Millisecond, &fakeNotifier{})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc, fs
}

func mustMarshal(t *testing.T, doc models.WatchHistory) []byte {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal history: %v", err)
	}
	return data
}

func readLocal(t *testing.T, fs afero.Fs) models.WatchHistory {
	t.Helper()
	data, err := afero.ReadFile(fs, "cache/watch_history.json")
	if err != nil {
		t.Fatalf("read local history: %v", err)
	}
	var doc models.WatchHistory
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse local history: %v", err)
	}
	return doc
}

func TestLoadRemoteWinsWholesale(t *testing.T) {
	remoteDoc := models.WatchHistory{
		"id:1": {Position: 30, Duration: 100, LastWatchedEpoch: 10},
	}
	remote := &fakeRemote{downloadDoc: mustMarshal(t, remoteDoc)}
	svc, fs := newTestService(t, remote)

	// A stale local copy with an extra key must be replaced, not merged.
	localDoc := models.WatchHistory{
		"id:1": {Position: 99, Duration: 100, LastWatchedEpoch: 20},
		"id:2": {Position: 5, Duration: 50, LastWatchedEpoch: 5},
	}
	if err := afero.WriteFile(fs, "cache/watch_history.json", mustMarshal(t, localDoc), 0o644); err != nil {
		t.Fatalf("seed local history: %v", err)
	}

	svc.Load(context.Background())

	rec, ok := svc.Get("id:1")
	if !ok || rec.Position != 30 {
		t.Fatalf("expected remote record to win, got %+v ok=%v", rec, ok)
	}
	if _, ok := svc.Get("id:2"); ok {
		t.Fatalf("local-only record must not survive a remote load")
	}
	if local := readLocal(t, fs); len(local) != 1 || local["id:1"].Position != 30 {
		t.Fatalf("local copy must be rewritten from remote, got %+v", local)
	}
}

func TestLoadFallsBackToLocalOnRemoteError(t *testing.T) {
	remote := &fakeRemote{downloadErr: errors.New("network down")}
	svc, fs := newTestService(t, remote)

	localDoc := models.WatchHistory{"id:1": {Position: 12, Duration: 40, LastWatchedEpoch: 3}}
	if err := afero.WriteFile(fs, "cache/watch_history.json", mustMarshal(t, localDoc), 0o644); err != nil {
		t.Fatalf("seed local history: %v", err)
	}

	svc.Load(context.Background())

	rec, ok := svc.Get("id:1")
	if !ok || rec.Position != 12 {
		t.Fatalf("expected local record after remote failure, got %+v ok=%v", rec, ok)
	}
}

func TestLoadMalformedRemoteFallsBackToLocal(t *testing.T) {
	remote := &fakeRemote{downloadDoc: []byte("{not json")}
	svc, fs := newTestService(t, remote)

	localDoc := models.WatchHistory{"id:1": {Position: 7, Duration: 40, LastWatchedEpoch: 3}}
	if err := afero.WriteFile(fs, "cache/watch_history.json", mustMarshal(t, localDoc), 0o644); err != nil {
		t.Fatalf("seed local history: %v", err)
	}

	svc.Load(context.Background())

	if rec, ok := svc.Get("id:1"); !ok || rec.Position != 7 {
		t.Fatalf("malformed remote document must behave like absence, got %+v ok=%v", rec, ok)
	}
}

func TestLoadBothMissingStartsEmpty(t *testing.T) {
	remote := &fakeRemote{downloadErr: errors.New("path not found")}
	svc, _ := newTestService(t, remote)

	svc.Load(context.Background())

	if doc := svc.Snapshot(); len(doc) != 0 {
		t.Fatalf("expected empty history, got %+v", doc)
	}
}

func TestSetClampsAndWritesThroughLocally(t *testing.T) {
	remote := &fakeRemote{}
	svc, fs := newTestService(t, remote)

	if err := svc.Set("id:1", 250, 100); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	rec, _ := svc.Get("id:1")
	if rec.Position != 100 {
		t.Fatalf("position must clamp to duration, got %v", rec.Position)
	}

	if err := svc.Set("id:1", -5, 100); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	rec, _ = svc.Get("id:1")
	if rec.Position != 0 {
		t.Fatalf("position must clamp to zero, got %v", rec.Position)
	}

	// The local copy is written synchronously, before any remote flush runs.
	if local := readLocal(t, fs); local["id:1"].Position != 0 {
		t.Fatalf("expected write-through local copy, got %+v", local)
	}
	if remote.uploadCount() != 0 {
		t.Fatalf("no remote flush should run before Start")
	}
}

func TestSetRejectsEmptyID(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{})
	if err := svc.Set("  ", 1, 2); !errors.Is(err, ErrIDRequired) {
		t.Fatalf("expected ErrIDRequired, got %v", err)
	}
}

func TestMarkCompleteUsesKnownDuration(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{})

	if err := svc.Set("id:1", 50, 120); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := svc.MarkComplete("id:1"); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	rec, _ := svc.Get("id:1")
	if rec.Position != 120 || rec.Duration != 120 {
		t.Fatalf("expected position == duration == 120, got %+v", rec)
	}

	// Completing again must not change the finished shape.
	if err := svc.MarkComplete("id:1"); err != nil {
		t.Fatalf("second MarkComplete failed: %v", err)
	}
	rec, _ = svc.Get("id:1")
	if rec.Position != rec.Duration {
		t.Fatalf("expected idempotent completion, got %+v", rec)
	}
}

func TestMarkCompleteUnknownDurationStillReadsFinished(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{})

	if err := svc.MarkComplete("id:new"); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}
	rec, ok := svc.Get("id:new")
	if !ok || rec.Position != rec.Duration || rec.Duration <= 0 {
		t.Fatalf("expected finished-looking record, got %+v ok=%v", rec, ok)
	}
}

func TestRemoveDeletesFromMemoryAndLocalCopy(t *testing.T) {
	svc, fs := newTestService(t, &fakeRemote{})

	if err := svc.Set("id:1", 10, 100); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := svc.Remove("id:1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, ok := svc.Get("id:1"); ok {
		t.Fatalf("record must be gone after Remove")
	}
	if local := readLocal(t, fs); len(local) != 0 {
		t.Fatalf("local copy must drop removed records, got %+v", local)
	}
}

func TestFlusherUploadsCoalescedState(t *testing.T) {
	remote := &fakeRemote{}
	svc, _ := newTestService(t, remote)
	svc.Start()

	if err := svc.Set("id:1", 10, 100); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := svc.Set("id:1", 20, 100); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for remote.uploadCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if remote.uploadCount() == 0 {
		t.Fatalf("expected a remote flush")
	}

	var doc models.WatchHistory
	if err := json.Unmarshal(remote.lastUpload(), &doc); err != nil {
		t.Fatalf("parse uploaded document: %v", err)
	}
	if doc["id:1"].Position != 20 {
		t.Fatalf("flush must carry the latest state, got %+v", doc)
	}

	svc.Close(context.Background())
}

func TestCloseFlushesPendingWrites(t *testing.T) {
	remote := &fakeRemote{}
	svc, _ := newTestService(t, remote)

	if err := svc.Set("id:1", 33, 100); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	svc.Close(context.Background())

	if remote.uploadCount() == 0 {
		t.Fatalf("Close must flush dirty state to the remote store")
	}
	var doc models.WatchHistory
	if err := json.Unmarshal(remote.lastUpload(), &doc); err != nil {
		t.Fatalf("parse uploaded document: %v", err)
	}
	if doc["id:1"].Position != 33 {
		t.Fatalf("unexpected final document %+v", doc)
	}
}

func TestRemoteFlushFailureKeepsLocalCopyAndRecords(t *testing.T) {
	remote := &fakeRemote{uploadErr: errors.New("upstream unavailable")}
	svc, fs := newTestService(t, remote)

	if err := svc.Set("id:1", 44, 100); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	svc.Close(context.Background())

	// The failed remote flush must not disturb memory or the local copy.
	if rec, ok := svc.Get("id:1"); !ok || rec.Position != 44 {
		t.Fatalf("expected in-memory record to survive, got %+v ok=%v", rec, ok)
	}
	if local := readLocal(t, fs); local["id:1"].Position != 44 {
		t.Fatalf("expected local copy to survive, got %+v", local)
	}
}
