// Package tracker implements nostrMQ's replay suppression: a watermark
// timestamp plus a bounded, insertion-ordered set of recently processed
// event ids, persisted to disk on a best-effort basis.
package tracker

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	defaultLookbackSeconds = 3600
	defaultTrackLimit      = 100
	defaultCacheDir        = ".nostrmq"

	minLookbackSeconds = 60
	minTrackLimit      = 10
	maxTrackLimit      = 1000

	timestampFile = "timestamp.json"
	snapshotFile  = "snapshot.json"
)

// Config configures a Tracker. Zero values are replaced with spec
// defaults by New.
type Config struct {
	LookbackSeconds   int
	TrackLimit        int
	CacheDir          string
	EnablePersistence bool
}

type timestampDoc struct {
	LastProcessed int64 `json:"lastProcessed"`
	UpdatedAt     int64 `json:"updatedAt"`
}

type snapshotDoc struct {
	EventIDs  []string `json:"eventIds"`
	CreatedAt int64    `json:"createdAt"`
	Count     int      `json:"count"`
}

// Tracker tracks which kind-30072 events have already been delivered, so
// the receive pipeline never invokes a caller's callback twice for the
// same event.
type Tracker struct {
	mu sync.Mutex

	logger *log.Logger
	now    func() time.Time

	lookbackSeconds int
	trackLimit      int
	cacheDir        string

	persistenceEnabled bool
	lastProcessed      int64
	recentEvents       []string // insertion order, oldest first
	recentSet          map[string]bool
}

// New builds and initializes a Tracker per spec.md's five-step init
// sequence: attempt cache_dir creation, load timestamp.json and
// snapshot.json if persistence is viable, and fall back to a fresh
// in-memory watermark on any failure.
func New(cfg Config, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	t := &Tracker{
		logger:             logger,
		now:                time.Now,
		lookbackSeconds:    clamp(cfg.LookbackSeconds, minLookbackSeconds, 0, defaultLookbackSeconds),
		trackLimit:         clamp(cfg.TrackLimit, minTrackLimit, maxTrackLimit, defaultTrackLimit),
		cacheDir:           cfg.CacheDir,
		persistenceEnabled: cfg.EnablePersistence,
		recentSet:          make(map[string]bool),
	}
	if t.cacheDir == "" {
		t.cacheDir = defaultCacheDir
	}

	t.init()
	return t
}

func clamp(v, min, max, def int) int {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

func (t *Tracker) init() {
	now := t.now().Unix()
	t.lastProcessed = now - int64(t.lookbackSeconds)

	if !t.persistenceEnabled {
		return
	}

	if err := os.MkdirAll(t.cacheDir, 0o755); err != nil {
		t.logger.Printf("[tracker] cannot create cache dir %s: %v, disabling persistence", t.cacheDir, err)
		t.persistenceEnabled = false
		return
	}

	if doc, ok := t.loadTimestamp(); ok && doc.LastProcessed > 0 {
		floor := now - 2*int64(t.lookbackSeconds)
		if doc.LastProcessed > floor {
			t.lastProcessed = doc.LastProcessed
		} else {
			t.lastProcessed = floor
		}
	}

	if ids, ok := t.loadSnapshot(); ok {
		if len(ids) > t.trackLimit {
			ids = ids[len(ids)-t.trackLimit:]
		}
		t.recentEvents = ids
		for _, id := range ids {
			t.recentSet[id] = true
		}
	}
}

func (t *Tracker) loadTimestamp() (timestampDoc, bool) {
	var doc timestampDoc
	path := filepath.Join(t.cacheDir, timestampFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, false
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, false
	}
	return doc, true
}

func (t *Tracker) loadSnapshot() ([]string, bool) {
	var doc snapshotDoc
	path := filepath.Join(t.cacheDir, snapshotFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	return doc.EventIDs, true
}

// SubscriptionSince returns the watermark to use as a relay filter's
// `since` field.
func (t *Tracker) SubscriptionSince() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastProcessed
}

// HasProcessed reports whether an event at (id, ts) has already been
// delivered: either its timestamp predates (or equals) the watermark, or
// its id is in the recent-events window.
func (t *Tracker) HasProcessed(id string, ts int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts <= t.lastProcessed {
		return true
	}
	return t.recentSet[id]
}

// MarkProcessed records that (id, ts) has been delivered, advancing the
// watermark if ts is newer, and evicting the oldest recent-events entries
// once the window exceeds track_limit. Persistence failures are logged
// and otherwise ignored.
func (t *Tracker) MarkProcessed(id string, ts int64) {
	t.mu.Lock()
	advanced := false
	if ts > t.lastProcessed {
		t.lastProcessed = ts
		advanced = true
	}

	if !t.recentSet[id] {
		t.recentEvents = append(t.recentEvents, id)
		t.recentSet[id] = true
	}

	evicted := false
	for len(t.recentEvents) > t.trackLimit {
		oldest := t.recentEvents[0]
		t.recentEvents = t.recentEvents[1:]
		delete(t.recentSet, oldest)
		evicted = true
	}

	persist := t.persistenceEnabled
	lastProcessed := t.lastProcessed
	snapshot := append([]string(nil), t.recentEvents...)
	t.mu.Unlock()

	if !persist {
		return
	}
	if advanced {
		t.persistTimestamp(lastProcessed)
	}
	if evicted || advanced {
		t.persistSnapshot(snapshot)
	}
}

// PersistenceEnabled reports whether the tracker's cache is currently
// backed by disk. It can only transition from true to false.
func (t *Tracker) PersistenceEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.persistenceEnabled
}

func (t *Tracker) persistTimestamp(lastProcessed int64) {
	doc := timestampDoc{LastProcessed: lastProcessed, UpdatedAt: t.now().Unix()}
	if err := t.writeJSON(timestampFile, doc); err != nil {
		t.logger.Printf("[tracker] persist timestamp failed: %v, disabling persistence", err)
		t.mu.Lock()
		t.persistenceEnabled = false
		t.mu.Unlock()
	}
}

func (t *Tracker) persistSnapshot(ids []string) {
	doc := snapshotDoc{EventIDs: ids, CreatedAt: t.now().Unix(), Count: len(ids)}
	if err := t.writeJSON(snapshotFile, doc); err != nil {
		t.logger.Printf("[tracker] persist snapshot failed: %v, disabling persistence", err)
		t.mu.Lock()
		t.persistenceEnabled = false
		t.mu.Unlock()
	}
}

func (t *Tracker) writeJSON(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	path := filepath.Join(t.cacheDir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
