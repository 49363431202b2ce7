package watch

import (
	"path/filepath"
	"testing"
	"time"

	"chatspace/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func recvEvent(t *testing.T, h *Handle) store.Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatalf("channel closed while expecting event")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return store.Event{}
}

func expectClosed(t *testing.T, h *Handle) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-h.Events():
			if !ok {
				return
			}
			// drain buffered events delivered before the close
		case <-deadline:
			t.Fatalf("timed out waiting for channel close")
		}
	}
}

func TestFanOutSameEvents(t *testing.T) {
	st := newTestStore(t)
	m := New(st, 16)
	defer m.Close()

	h1 := m.Register("a")
	h2 := m.Register("a")

	if err := st.Commit([]store.Write{{Key: "a", Value: []byte(`1`)}}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}

	e1 := recvEvent(t, h1)
	e2 := recvEvent(t, h2)
	if e1.Version != e2.Version || string(e1.Value) != string(e2.Value) {
		t.Fatalf("subscribers disagree: %+v vs %+v", e1, e2)
	}
	if string(e1.Value) != `1` {
		t.Fatalf("unexpected value: %s", e1.Value)
	}
}

func TestUnregisterIsolation(t *testing.T) {
	st := newTestStore(t)
	m := New(st, 16)
	defer m.Close()

	h1 := m.Register("a")
	h2 := m.Register("a")
	m.Unregister(h1)
	expectClosed(t, h1)

	if err := st.Commit([]store.Write{{Key: "a", Value: []byte(`2`)}}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	ev := recvEvent(t, h2)
	if string(ev.Value) != `2` {
		t.Fatalf("remaining subscriber missed the event: %+v", ev)
	}
}

func TestDistinctKeysAreIndependent(t *testing.T) {
	st := newTestStore(t)
	m := New(st, 16)
	defer m.Close()

	ha := m.Register("a")
	hb := m.Register("b")

	if err := st.Commit([]store.Write{{Key: "a", Value: []byte(`1`)}}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	ev := recvEvent(t, ha)
	if ev.Key != "a" {
		t.Fatalf("wrong key: %+v", ev)
	}
	select {
	case ev, ok := <-hb.Events():
		if ok {
			t.Fatalf("subscriber for b received event for a: %+v", ev)
		}
		t.Fatalf("subscriber for b closed unexpectedly")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSlowSubscriberDisconnected(t *testing.T) {
	st := newTestStore(t)
	m := New(st, 1)
	defer m.Close()

	slow := m.Register("a")
	fast := m.Register("a")

	// first commit fills slow's queue
	if err := st.Commit([]store.Write{{Key: "a", Value: []byte(`1`)}}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = recvEvent(t, fast)
	time.Sleep(100 * time.Millisecond)

	// second commit overflows it
	if err := st.Commit([]store.Write{{Key: "a", Value: []byte(`2`)}}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := recvEvent(t, fast); string(got.Value) != `2` {
		t.Fatalf("fast subscriber skewed by slow one: %+v", got)
	}

	expectClosed(t, slow)
	if !slow.Overflowed() {
		t.Fatalf("expected overflow disconnect to be flagged")
	}
	if fast.Overflowed() {
		t.Fatalf("fast subscriber must not be flagged")
	}
}

func TestLastUnregisterClosesUpstream(t *testing.T) {
	st := newTestStore(t)
	m := New(st, 16)
	defer m.Close()

	h := m.Register("a")
	m.Unregister(h)

	m.mu.Lock()
	_, present := m.keys["a"]
	m.mu.Unlock()
	if present {
		t.Fatalf("upstream entry should be gone after last unregister")
	}

	// a fresh registration works again
	h2 := m.Register("a")
	if err := st.Commit([]store.Write{{Key: "a", Value: []byte(`3`)}}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := recvEvent(t, h2); string(got.Value) != `3` {
		t.Fatalf("re-registered subscriber missed event: %+v", got)
	}
}

func TestMuxCloseClosesHandles(t *testing.T) {
	st := newTestStore(t)
	m := New(st, 16)
	h := m.Register("a")
	m.Close()
	expectClosed(t, h)
	if m.Register("a") != nil {
		t.Fatalf("register after close must return nil")
	}
}

func TestStoreCloseTearsDownHandles(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	m := New(st, 16)
	defer m.Close()
	h := m.Register("a")

	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
	expectClosed(t, h)
}
