package conv

import (
	"context"
	"errors"
	"fmt"

	"chatspace/pkg/models"
	"chatspace/pkg/store"
	"chatspace/pkg/utils"
	"chatspace/pkg/watch"
)

// HeadWatch is a live feed of a chat head. Every emission is a full
// ChatSnapshot; between emissions the watch caches completed message
// bodies and re-resolves only ids it has not seen or whose cached copy
// was still pending, so the pending-to-completed flip reaches viewers
// without refetching the whole chain.
type HeadWatch struct {
	c      *Conversations
	wsID   string
	chatID string
	handle *watch.Handle
	cache  map[string]models.Message
	primed bool
}

// WatchChat opens a head watch. The first Next returns the current
// snapshot; later calls block for commits to the head key.
func (c *Conversations) WatchChat(wsID, chatID string) (*HeadWatch, error) {
	if _, _, err := c.getHead(wsID, chatID); err != nil {
		return nil, err
	}
	h := c.mux.Register(headKey(wsID, chatID))
	if h == nil {
		return nil, store.ErrWatchClosed
	}
	return &HeadWatch{
		c:      c,
		wsID:   wsID,
		chatID: chatID,
		handle: h,
		cache:  map[string]models.Message{},
	}, nil
}

// Next blocks until the next snapshot. It returns store.ErrWatchClosed
// when the chat is deleted, the feed is torn down, or this subscriber
// fell behind and was disconnected; Overflowed tells the cases apart.
func (w *HeadWatch) Next(ctx context.Context) (ChatSnapshot, error) {
	if !w.primed {
		w.primed = true
		head, _, err := w.c.getHead(w.wsID, w.chatID)
		if err != nil {
			return ChatSnapshot{}, err
		}
		return w.resolve(head)
	}
	select {
	case <-ctx.Done():
		return ChatSnapshot{}, ctx.Err()
	case ev, ok := <-w.handle.Events():
		if !ok || ev.Deleted {
			return ChatSnapshot{}, store.ErrWatchClosed
		}
		var head models.ChatHead
		if err := utils.UnmarshalJSON(ev.Value, &head); err != nil {
			return ChatSnapshot{}, fmt.Errorf("decode head %s: %w", w.chatID, err)
		}
		return w.resolve(head)
	}
}

// Overflowed reports whether the watch ended because this subscriber's
// queue filled.
func (w *HeadWatch) Overflowed() bool { return w.handle.Overflowed() }

// Close unregisters the watch from the multiplexer.
func (w *HeadWatch) Close() { w.c.mux.Unregister(w.handle) }

func (w *HeadWatch) resolve(head models.ChatHead) (ChatSnapshot, error) {
	now := w.c.now()
	ids := head.MessageRefs()
	msgs := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		if cached, ok := w.cache[id]; ok && cached.Completed {
			msgs = append(msgs, cached)
			continue
		}
		raw, _, err := w.c.store.Get(msgKey(w.wsID, id))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return ChatSnapshot{}, err
		}
		var m models.Message
		if err := utils.UnmarshalJSON(raw, &m); err != nil {
			return ChatSnapshot{}, fmt.Errorf("decode message %s: %w", id, err)
		}
		m.Interrupted = m.InterruptedAt(now)
		w.cache[id] = m
		msgs = append(msgs, m)
	}
	return ChatSnapshot{Head: head, Messages: msgs}, nil
}

// WorkspaceWatch is a live feed of a workspace snapshot. Emissions fire
// on commits to the workspace key itself (create, rename, delete); each
// one re-denormalizes the head list.
type WorkspaceWatch struct {
	c      *Conversations
	wsID   string
	handle *watch.Handle
	primed bool
}

// WatchWorkspace opens a workspace watch; first Next returns the current
// snapshot.
func (c *Conversations) WatchWorkspace(wsID string) (*WorkspaceWatch, error) {
	if _, _, err := c.store.Get(wsKey(wsID)); err != nil {
		return nil, err
	}
	h := c.mux.Register(wsKey(wsID))
	if h == nil {
		return nil, store.ErrWatchClosed
	}
	return &WorkspaceWatch{c: c, wsID: wsID, handle: h}, nil
}

// Next blocks until the next workspace snapshot, with the same end
// conditions as HeadWatch.Next.
func (w *WorkspaceWatch) Next(ctx context.Context) (models.Workspace, error) {
	if !w.primed {
		w.primed = true
		return w.c.GetWorkspace(w.wsID)
	}
	select {
	case <-ctx.Done():
		return models.Workspace{}, ctx.Err()
	case ev, ok := <-w.handle.Events():
		if !ok || ev.Deleted {
			return models.Workspace{}, store.ErrWatchClosed
		}
		return w.c.GetWorkspace(w.wsID)
	}
}

// Overflowed reports whether the watch ended because this subscriber's
// queue filled.
func (w *WorkspaceWatch) Overflowed() bool { return w.handle.Overflowed() }

// Close unregisters the watch from the multiplexer.
func (w *WorkspaceWatch) Close() { w.c.mux.Unregister(w.handle) }
