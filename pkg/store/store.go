// Package store implements the transactional key-value layer beneath the
// conversation model: versioned records in Pebble, atomic multi-key
// compare-and-commit, atomic delete-sets and per-key change subscriptions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"chatspace/pkg/logger"
	"chatspace/pkg/telemetry"
)

var (
	// ErrNotFound is returned when a key has no stored record.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a commit precondition fails. The caller
	// must re-read and retry; nothing was written.
	ErrConflict = errors.New("version conflict")
	// ErrWatchClosed is returned from Subscription.Next once the
	// subscription (or the store) has been closed.
	ErrWatchClosed = errors.New("watch closed")
)

// envelope wraps every stored value with its version.
type envelope struct {
	Version uint64          `json:"v"`
	Data    json.RawMessage `json:"data"`
}

// Write is one key/value pair of a commit.
type Write struct {
	Key   string
	Value []byte
}

// Precondition pins a key to an expected version. Version 0 means the key
// must be absent.
type Precondition struct {
	Key     string
	Version uint64
}

// KV is one listed record.
type KV struct {
	Key     string
	Value   []byte
	Version uint64
}

// Event is one emission of a key subscription. Value is nil and Deleted is
// true when the key was removed.
type Event struct {
	Key     string
	Value   []byte
	Version uint64
	Deleted bool
}

// Store owns a Pebble database. Commits are serialized by a single writer
// mutex, which linearizes per-key versions and keeps change notifications
// in commit order. Constructed once at startup and passed explicitly.
type Store struct {
	db   *pebble.DB
	path string

	// mu serializes Commit/DeleteSet (check + batch + notify).
	mu sync.Mutex

	subMu  sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// Open opens (or creates) a Pebble database at the given path. cacheBytes,
// when positive, sizes the block cache.
func Open(path string, cacheBytes int64) (*Store, error) {
	logger.Info("opening_pebble_db", "path", path)
	opts := &pebble.Options{}
	if cacheBytes > 0 {
		c := pebble.NewCache(cacheBytes)
		defer c.Unref()
		opts.Cache = c
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &Store{db: db, path: path, subs: map[string]map[*Subscription]struct{}{}}, nil
}

// Close closes every open subscription and then the database.
func (s *Store) Close() error {
	s.subMu.Lock()
	s.closed = true
	for _, set := range s.subs {
		for sub := range set {
			sub.markClosed()
		}
	}
	s.subs = map[string]map[*Subscription]struct{}{}
	s.subMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("pebble_closed")
	return err
}

// Ready reports whether the store is opened and usable.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

// Path returns the database directory.
func (s *Store) Path() string { return s.path }

// handle returns the open database. The field is read under mu so a
// concurrent Close can never hand a reader a nil db.
func (s *Store) handle() (*pebble.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("store not opened")
	}
	return s.db, nil
}

// Get returns the stored value and version for key, or ErrNotFound.
func (s *Store) Get(key string) ([]byte, uint64, error) {
	db, err := s.handle()
	if err != nil {
		return nil, 0, err
	}
	raw, closer, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	defer closer.Close()
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, fmt.Errorf("corrupt record at %s: %w", key, err)
	}
	val := append([]byte(nil), env.Data...)
	return val, env.Version, nil
}

// ListPrefix returns all records whose key starts with prefix, in key order.
func (s *Store) ListPrefix(prefix string) ([]KV, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []KV
	for iter.First(); iter.Valid(); iter.Next() {
		var env envelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			return nil, fmt.Errorf("corrupt record at %s: %w", iter.Key(), err)
		}
		out = append(out, KV{
			Key:     string(append([]byte(nil), iter.Key()...)),
			Value:   append([]byte(nil), env.Data...),
			Version: env.Version,
		})
	}
	return out, iter.Error()
}

// CountPrefix returns the number of keys under prefix.
func (s *Store) CountPrefix(prefix string) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

// Commit applies every write atomically iff every precondition holds
// against the current versions. On any precondition failure nothing is
// written and ErrConflict is returned. Each written key's version is
// bumped by one (absent keys start at 1) and subscribers of that key are
// notified in commit order.
func (s *Store) Commit(writes []Write, preconds []Precondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("store not opened")
	}
	if err := s.checkLocked(preconds); err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	events := make([]Event, 0, len(writes))
	for _, w := range writes {
		ver := s.versionLocked(w.Key) + 1
		raw, err := json.Marshal(envelope{Version: ver, Data: w.Value})
		if err != nil {
			return fmt.Errorf("marshal envelope for %s: %w", w.Key, err)
		}
		if err := batch.Set([]byte(w.Key), raw, nil); err != nil {
			return err
		}
		events = append(events, Event{Key: w.Key, Value: w.Value, Version: ver})
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("commit_failed", "writes", len(writes), "error", err)
		return err
	}
	telemetry.CommitsTotal.Inc()
	s.notify(events)
	return nil
}

// DeleteSet removes every key atomically under the same precondition
// semantics as Commit. Used for cascade deletion; partial deletion is
// never observable.
func (s *Store) DeleteSet(keys []string, preconds []Precondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("store not opened")
	}
	if err := s.checkLocked(preconds); err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	events := make([]Event, 0, len(keys))
	for _, k := range keys {
		if err := batch.Delete([]byte(k), nil); err != nil {
			return err
		}
		events = append(events, Event{Key: k, Deleted: true})
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("delete_set_failed", "keys", len(keys), "error", err)
		return err
	}
	telemetry.DeletesTotal.Inc()
	s.notify(events)
	return nil
}

// checkLocked verifies preconditions against current versions.
func (s *Store) checkLocked(preconds []Precondition) error {
	for _, p := range preconds {
		if s.versionLocked(p.Key) != p.Version {
			telemetry.ConflictsTotal.Inc()
			logger.Debug("commit_conflict", "key", p.Key, "expected", p.Version)
			return ErrConflict
		}
	}
	return nil
}

// versionLocked returns the current version of key, 0 when absent.
func (s *Store) versionLocked(key string) uint64 {
	raw, closer, err := s.db.Get([]byte(key))
	if err != nil {
		return 0
	}
	defer closer.Close()
	var env envelope
	if json.Unmarshal(raw, &env) != nil {
		return 0
	}
	return env.Version
}

func (s *Store) notify(events []Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ev := range events {
		for sub := range s.subs[ev.Key] {
			sub.publish(ev)
		}
	}
}

// Subscribe opens a change feed for key. Each committed change to the key
// produces an emission in commit order; under a fast writer intermediate
// values may be coalesced to the latest, but emissions are never
// reordered. The subscription is infinite and non-restartable; callers
// must Close it.
func (s *Store) Subscribe(key string) *Subscription {
	sub := &Subscription{key: key, store: s, ready: make(chan struct{}, 1), done: make(chan struct{})}
	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		sub.markClosed()
		return sub
	}
	set := s.subs[key]
	if set == nil {
		set = map[*Subscription]struct{}{}
		s.subs[key] = set
	}
	set[sub] = struct{}{}
	s.subMu.Unlock()
	return sub
}

// Subscription is a lazy per-key change feed with a single latest-value
// slot (coalesce-to-latest under pressure).
type Subscription struct {
	key   string
	store *Store

	mu      sync.Mutex
	pending *Event

	ready chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Key returns the watched key.
func (sub *Subscription) Key() string { return sub.key }

func (sub *Subscription) publish(ev Event) {
	sub.mu.Lock()
	sub.pending = &ev
	sub.mu.Unlock()
	select {
	case sub.ready <- struct{}{}:
	default:
	}
}

// Next blocks until the next emission, the subscription closes
// (ErrWatchClosed), or ctx is done.
func (sub *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		sub.mu.Lock()
		if sub.pending != nil {
			ev := *sub.pending
			sub.pending = nil
			sub.mu.Unlock()
			return ev, nil
		}
		sub.mu.Unlock()

		select {
		case <-sub.ready:
		case <-sub.done:
			// drain a final pending emission before reporting closure
			sub.mu.Lock()
			if sub.pending != nil {
				ev := *sub.pending
				sub.pending = nil
				sub.mu.Unlock()
				return ev, nil
			}
			sub.mu.Unlock()
			return Event{}, ErrWatchClosed
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Close detaches the subscription from the store. Safe to call more than
// once and concurrently with Next.
func (sub *Subscription) Close() {
	sub.store.subMu.Lock()
	if set, ok := sub.store.subs[sub.key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(sub.store.subs, sub.key)
		}
	}
	sub.store.subMu.Unlock()
	sub.markClosed()
}

func (sub *Subscription) markClosed() {
	sub.once.Do(func() { close(sub.done) })
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
