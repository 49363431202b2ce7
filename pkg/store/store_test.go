package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCommitAndGet(t *testing.T) {
	st := newTestStore(t)

	err := st.Commit(
		[]Write{{Key: "a", Value: []byte(`{"x":1}`)}},
		[]Precondition{{Key: "a", Version: 0}},
	)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	val, ver, err := st.Get("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ver != 1 {
		t.Fatalf("expected version 1, got %d", ver)
	}
	if string(val) != `{"x":1}` {
		t.Fatalf("unexpected value: %s", val)
	}

	if err := st.Commit([]Write{{Key: "a", Value: []byte(`{"x":2}`)}}, nil); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	_, ver, _ = st.Get("a")
	if ver != 2 {
		t.Fatalf("expected version 2 after rewrite, got %d", ver)
	}
}

func TestGetMissing(t *testing.T) {
	st := newTestStore(t)
	if _, _, err := st.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitConflict(t *testing.T) {
	st := newTestStore(t)
	if err := st.Commit([]Write{{Key: "a", Value: []byte(`1`)}}, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// stale version
	err := st.Commit(
		[]Write{{Key: "a", Value: []byte(`2`)}},
		[]Precondition{{Key: "a", Version: 0}},
	)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	val, ver, _ := st.Get("a")
	if string(val) != `1` || ver != 1 {
		t.Fatalf("failed commit must not write, got %s v%d", val, ver)
	}
}

func TestCommitAllOrNothing(t *testing.T) {
	st := newTestStore(t)
	if err := st.Commit([]Write{{Key: "a", Value: []byte(`1`)}}, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := st.Commit(
		[]Write{
			{Key: "a", Value: []byte(`2`)},
			{Key: "b", Value: []byte(`1`)},
		},
		[]Precondition{
			{Key: "a", Version: 1},
			{Key: "b", Version: 7}, // wrong
		},
	)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, _, err := st.Get("b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("b must not exist after failed commit, got %v", err)
	}
	if val, _, _ := st.Get("a"); string(val) != `1` {
		t.Fatalf("a must be untouched, got %s", val)
	}
}

func TestDeleteSet(t *testing.T) {
	st := newTestStore(t)
	for _, k := range []string{"p:1", "p:2", "q:1"} {
		if err := st.Commit([]Write{{Key: k, Value: []byte(`1`)}}, nil); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	err := st.DeleteSet([]string{"p:1", "p:2"}, []Precondition{{Key: "p:1", Version: 1}})
	if err != nil {
		t.Fatalf("delete set: %v", err)
	}
	for _, k := range []string{"p:1", "p:2"} {
		if _, _, err := st.Get(k); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s should be gone, got %v", k, err)
		}
	}
	if _, _, err := st.Get("q:1"); err != nil {
		t.Fatalf("q:1 must survive: %v", err)
	}

	// conflicting precondition deletes nothing
	err = st.DeleteSet([]string{"q:1"}, []Precondition{{Key: "q:1", Version: 9}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, _, err := st.Get("q:1"); err != nil {
		t.Fatalf("q:1 must survive failed delete: %v", err)
	}
}

func TestListPrefix(t *testing.T) {
	st := newTestStore(t)
	for _, k := range []string{"ws:b", "ws:a", "head:a:1", "wsx"} {
		if err := st.Commit([]Write{{Key: k, Value: []byte(`"` + k + `"`)}}, nil); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
	kvs, err := st.ListPrefix("ws:")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(kvs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(kvs))
	}
	if kvs[0].Key != "ws:a" || kvs[1].Key != "ws:b" {
		t.Fatalf("expected key order ws:a, ws:b; got %s, %s", kvs[0].Key, kvs[1].Key)
	}

	n, err := st.CountPrefix("ws:")
	if err != nil || n != 2 {
		t.Fatalf("count prefix: n=%d err=%v", n, err)
	}
}

func TestSubscribeReceivesCommits(t *testing.T) {
	st := newTestStore(t)
	sub := st.Subscribe("a")
	defer sub.Close()

	if err := st.Commit([]Write{{Key: "a", Value: []byte(`1`)}}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Key != "a" || ev.Version != 1 || string(ev.Value) != `1` || ev.Deleted {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestSubscribeCoalescesToLatest(t *testing.T) {
	st := newTestStore(t)
	sub := st.Subscribe("a")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		if err := st.Commit([]Write{{Key: "a", Value: []byte{'0' + byte(i)}}}, nil); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	// a consumer that was not draining sees the latest value, never an
	// out-of-order older one after it
	if string(ev.Value) != "4" || ev.Version != 5 {
		t.Fatalf("expected coalesced latest (4, v5), got %s v%d", ev.Value, ev.Version)
	}
}

func TestSubscribeDelete(t *testing.T) {
	st := newTestStore(t)
	if err := st.Commit([]Write{{Key: "a", Value: []byte(`1`)}}, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	sub := st.Subscribe("a")
	defer sub.Close()

	if err := st.DeleteSet([]string{"a"}, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !ev.Deleted {
		t.Fatalf("expected deletion event, got %+v", ev)
	}
}

func TestSubscriptionClose(t *testing.T) {
	st := newTestStore(t)
	sub := st.Subscribe("a")
	sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, ErrWatchClosed) {
		t.Fatalf("expected ErrWatchClosed, got %v", err)
	}
}

func TestNextHonorsContext(t *testing.T) {
	st := newTestStore(t)
	sub := st.Subscribe("a")
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestStoreCloseEndsSubscriptions(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "db"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sub := st.Subscribe("a")
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, ErrWatchClosed) {
		t.Fatalf("expected ErrWatchClosed after store close, got %v", err)
	}
}

func TestReadsAfterClose(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "db"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = st.Commit(
		[]Write{{Key: "a", Value: []byte(`1`)}},
		[]Precondition{{Key: "a", Version: 0}},
	)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, _, err := st.Get("a"); err == nil {
		t.Fatalf("Get after close must fail")
	}
	if _, err := st.ListPrefix("a"); err == nil {
		t.Fatalf("ListPrefix after close must fail")
	}
	if _, err := st.CountPrefix("a"); err == nil {
		t.Fatalf("CountPrefix after close must fail")
	}
	if st.Ready() {
		t.Fatalf("closed store must not report ready")
	}
}
