// Package conv implements the conversation model over the versioned store:
// workspaces, chat heads, message chains with boundary markers, and the
// live watch feeds built on the multiplexer.
package conv

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"chatspace/pkg/backends"
	"chatspace/pkg/logger"
	"chatspace/pkg/models"
	"chatspace/pkg/render"
	"chatspace/pkg/store"
	"chatspace/pkg/utils"
	"chatspace/pkg/watch"
)

// ErrValidation marks a request rejected before touching storage.
var ErrValidation = errors.New("validation failed")

// retries under contention on a head key (user append racing the
// assistant reporter). Conflicts past this bubble up as ErrConflict.
const maxCommitRetries = 5

// Defaults seed newly created chat heads.
type Defaults struct {
	Title        string
	SystemPrompt string
}

// ChatSnapshot is a head with its message chain resolved, in chain order,
// boundary markers excluded. Interrupted flags are computed at resolution
// time.
type ChatSnapshot struct {
	Head     models.ChatHead  `json:"head"`
	Messages []models.Message `json:"messages"`
}

// HeadPatch carries the mutable head fields; nil means "leave unchanged".
type HeadPatch struct {
	Title        *string `json:"title"`
	SystemPrompt *string `json:"systemPrompt"`
	Backend      *string `json:"backend"`
}

// Conversations is the service layer. All mutations go through
// read-modify-commit with version preconditions; none of them block on
// subscribers.
type Conversations struct {
	store    *store.Store
	mux      *watch.Mux
	backends *backends.Registry
	render   render.Renderer
	defaults Defaults
	now      func() time.Time
}

// New wires the service. renderer may be nil, defaulting to the escaping
// renderer.
func New(st *store.Store, mx *watch.Mux, reg *backends.Registry, renderer render.Renderer, defaults Defaults) *Conversations {
	if renderer == nil {
		renderer = render.Escaping{}
	}
	return &Conversations{
		store:    st,
		mux:      mx,
		backends: reg,
		render:   renderer,
		defaults: defaults,
		now:      time.Now,
	}
}

// Backends returns the advertised backend names for embedding in frames.
func (c *Conversations) Backends() []string { return c.backends.Names() }

// CreateWorkspace creates an empty workspace. Name may be empty.
func (c *Conversations) CreateWorkspace(name string) (models.Workspace, error) {
	ws := models.Workspace{ID: utils.NewID(), Name: name, CreatedAt: c.now().UnixMilli()}
	raw, err := utils.MarshalJSON(ws.Stored())
	if err != nil {
		return models.Workspace{}, err
	}
	err = c.store.Commit(
		[]store.Write{{Key: wsKey(ws.ID), Value: raw}},
		[]store.Precondition{{Key: wsKey(ws.ID), Version: 0}},
	)
	if err != nil {
		return models.Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	logger.Info("workspace_created", "workspace", ws.ID)
	return ws, nil
}

// ListWorkspaces returns every workspace, oldest first (key order is
// creation order under ULID ids). Heads are not attached.
func (c *Conversations) ListWorkspaces() ([]models.Workspace, error) {
	kvs, err := c.store.ListPrefix(WorkspacePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.Workspace, 0, len(kvs))
	for _, kv := range kvs {
		var ws models.Workspace
		if err := utils.UnmarshalJSON(kv.Value, &ws); err != nil {
			return nil, fmt.Errorf("decode workspace %s: %w", kv.Key, err)
		}
		out = append(out, ws)
	}
	return out, nil
}

// GetWorkspace returns the workspace snapshot with its heads denormalized,
// most recent activity first and message lists stripped.
func (c *Conversations) GetWorkspace(wsID string) (models.Workspace, error) {
	raw, _, err := c.store.Get(wsKey(wsID))
	if err != nil {
		return models.Workspace{}, err
	}
	var ws models.Workspace
	if err := utils.UnmarshalJSON(raw, &ws); err != nil {
		return models.Workspace{}, fmt.Errorf("decode workspace %s: %w", wsID, err)
	}
	heads, err := c.listHeads(wsID)
	if err != nil {
		return models.Workspace{}, err
	}
	ws.Heads = make([]models.ChatHead, 0, len(heads))
	for _, h := range heads {
		ws.Heads = append(ws.Heads, h.Summary())
	}
	sort.SliceStable(ws.Heads, func(i, j int) bool {
		return ws.Heads[i].Timestamp > ws.Heads[j].Timestamp
	})
	return ws, nil
}

// RenameWorkspace sets the workspace name under a version precondition; a
// concurrent rename loses with ErrConflict rather than being silently
// overwritten.
func (c *Conversations) RenameWorkspace(wsID, name string) (models.Workspace, error) {
	if name == "" {
		return models.Workspace{}, fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	raw, ver, err := c.store.Get(wsKey(wsID))
	if err != nil {
		return models.Workspace{}, err
	}
	var ws models.Workspace
	if err := utils.UnmarshalJSON(raw, &ws); err != nil {
		return models.Workspace{}, err
	}
	return c.renameWorkspaceAt(ws, ver, name)
}

// renameWorkspaceAt commits the rename against the version the caller
// read. When another writer committed first the precondition fails and
// the rename returns ErrConflict without writing.
func (c *Conversations) renameWorkspaceAt(ws models.Workspace, ver uint64, name string) (models.Workspace, error) {
	ws.Name = name
	out, err := utils.MarshalJSON(ws.Stored())
	if err != nil {
		return models.Workspace{}, err
	}
	err = c.store.Commit(
		[]store.Write{{Key: wsKey(ws.ID), Value: out}},
		[]store.Precondition{{Key: wsKey(ws.ID), Version: ver}},
	)
	if err != nil {
		return models.Workspace{}, err
	}
	logger.Info("workspace_renamed", "workspace", ws.ID)
	return ws, nil
}

// DeleteWorkspace removes the workspace, every head under it and every
// message under it in one atomic delete-set. Readers never observe a
// partially deleted tree.
func (c *Conversations) DeleteWorkspace(wsID string) error {
	for attempt := 0; ; attempt++ {
		_, wsVer, err := c.store.Get(wsKey(wsID))
		if err != nil {
			return err
		}
		heads, err := c.store.ListPrefix(headPrefix(wsID))
		if err != nil {
			return err
		}
		msgs, err := c.store.ListPrefix(msgPrefix(wsID))
		if err != nil {
			return err
		}

		keys := make([]string, 0, 1+len(heads)+len(msgs))
		preconds := make([]store.Precondition, 0, 1+len(heads))
		keys = append(keys, wsKey(wsID))
		preconds = append(preconds, store.Precondition{Key: wsKey(wsID), Version: wsVer})
		for _, h := range heads {
			keys = append(keys, h.Key)
			preconds = append(preconds, store.Precondition{Key: h.Key, Version: h.Version})
		}
		for _, m := range msgs {
			keys = append(keys, m.Key)
		}

		err = c.store.DeleteSet(keys, preconds)
		if errors.Is(err, store.ErrConflict) && attempt < maxCommitRetries {
			continue
		}
		if err != nil {
			return err
		}
		logger.Info("workspace_deleted", "workspace", wsID, "heads", len(heads), "messages", len(msgs))
		return nil
	}
}

// CreateChatHead creates a fresh head in the workspace with the configured
// default title and system prompt and no backend selected.
func (c *Conversations) CreateChatHead(wsID string) (models.ChatHead, error) {
	if _, _, err := c.store.Get(wsKey(wsID)); err != nil {
		return models.ChatHead{}, err
	}
	head := models.ChatHead{
		ID:           utils.NewID(),
		Title:        c.defaults.Title,
		SystemPrompt: c.defaults.SystemPrompt,
		Timestamp:    c.now().UnixMilli(),
		MessageIDs:   []string{},
	}
	raw, err := utils.MarshalJSON(head)
	if err != nil {
		return models.ChatHead{}, err
	}
	key := headKey(wsID, head.ID)
	err = c.store.Commit(
		[]store.Write{{Key: key, Value: raw}},
		[]store.Precondition{{Key: key, Version: 0}},
	)
	if err != nil {
		return models.ChatHead{}, fmt.Errorf("create chat: %w", err)
	}
	logger.Info("chat_created", "workspace", wsID, "chat", head.ID)
	return head, nil
}

// GetChatHead returns the head with its message chain resolved.
func (c *Conversations) GetChatHead(wsID, chatID string) (ChatSnapshot, error) {
	head, _, err := c.getHead(wsID, chatID)
	if err != nil {
		return ChatSnapshot{}, err
	}
	msgs, err := c.resolveMessages(wsID, head.MessageRefs())
	if err != nil {
		return ChatSnapshot{}, err
	}
	return ChatSnapshot{Head: head, Messages: msgs}, nil
}

// PatchChatHead updates title, system prompt and/or backend. A non-empty
// backend must be one of the advertised set; empty resets the head to
// "unselected". Concurrent patches conflict under the version check.
func (c *Conversations) PatchChatHead(wsID, chatID string, patch HeadPatch) (models.ChatHead, error) {
	head, ver, err := c.getHead(wsID, chatID)
	if err != nil {
		return models.ChatHead{}, err
	}
	if patch.Title != nil {
		if *patch.Title == "" {
			return models.ChatHead{}, fmt.Errorf("%w: title must not be empty", ErrValidation)
		}
		head.Title = *patch.Title
	}
	if patch.SystemPrompt != nil {
		head.SystemPrompt = *patch.SystemPrompt
	}
	if patch.Backend != nil {
		if *patch.Backend != "" && !c.backends.Has(*patch.Backend) {
			return models.ChatHead{}, fmt.Errorf("%w: unknown backend %q", ErrValidation, *patch.Backend)
		}
		head.Backend = *patch.Backend
	}
	if err := c.commitHead(wsID, head, ver, nil); err != nil {
		return models.ChatHead{}, err
	}
	logger.Info("chat_patched", "workspace", wsID, "chat", chatID)
	return head, nil
}

// DeleteChatHead removes the head and every message it references in one
// atomic delete-set.
func (c *Conversations) DeleteChatHead(wsID, chatID string) error {
	for attempt := 0; ; attempt++ {
		head, ver, err := c.getHead(wsID, chatID)
		if err != nil {
			return err
		}
		keys := []string{headKey(wsID, chatID)}
		for _, id := range head.MessageRefs() {
			keys = append(keys, msgKey(wsID, id))
		}
		err = c.store.DeleteSet(keys, []store.Precondition{
			{Key: headKey(wsID, chatID), Version: ver},
		})
		if errors.Is(err, store.ErrConflict) && attempt < maxCommitRetries {
			continue
		}
		if err != nil {
			return err
		}
		logger.Info("chat_deleted", "workspace", wsID, "chat", chatID, "messages", len(keys)-1)
		return nil
	}
}

// AppendMessage appends a completed user message to the chain. When
// boundary is set a context boundary marker is inserted before the new
// message, so it starts a fresh model context. The head's last-activity
// timestamp moves in the same commit.
func (c *Conversations) AppendMessage(wsID, chatID, content string, boundary bool) (models.Message, error) {
	if content == "" {
		return models.Message{}, fmt.Errorf("%w: text must not be empty", ErrValidation)
	}
	html, err := c.render.Render(content)
	if err != nil {
		return models.Message{}, fmt.Errorf("render message: %w", err)
	}
	for attempt := 0; ; attempt++ {
		head, ver, err := c.getHead(wsID, chatID)
		if err != nil {
			return models.Message{}, err
		}
		msg := models.Message{
			ID:        utils.NewID(),
			Role:      models.RoleUser,
			Content:   content,
			HTML:      html,
			Timestamp: c.now().UnixMilli(),
			Completed: true,
		}
		if boundary {
			head.MessageIDs = append(head.MessageIDs, models.BoundaryMarker)
		}
		head.MessageIDs = append(head.MessageIDs, msg.ID)
		head.Timestamp = msg.Timestamp

		err = c.commitHead(wsID, head, ver, &msg)
		if errors.Is(err, store.ErrConflict) && attempt < maxCommitRetries {
			continue
		}
		if err != nil {
			return models.Message{}, err
		}
		logger.Debug("message_appended", "workspace", wsID, "chat", chatID, "message", msg.ID, "boundary", boundary)
		return msg, nil
	}
}

// AppendAssistantMessage appends a pending assistant row on behalf of the
// external inference collaborator. backend may be empty, inheriting the
// head's selection; a non-empty backend must be advertised.
func (c *Conversations) AppendAssistantMessage(wsID, chatID, backend string) (models.Message, error) {
	if backend != "" && !c.backends.Has(backend) {
		return models.Message{}, fmt.Errorf("%w: unknown backend %q", ErrValidation, backend)
	}
	for attempt := 0; ; attempt++ {
		head, ver, err := c.getHead(wsID, chatID)
		if err != nil {
			return models.Message{}, err
		}
		msg := models.Message{
			ID:        utils.NewID(),
			Role:      models.RoleAssistant,
			Backend:   backend,
			Timestamp: c.now().UnixMilli(),
			Completed: false,
		}
		if msg.Backend == "" {
			msg.Backend = head.Backend
		}
		head.MessageIDs = append(head.MessageIDs, msg.ID)
		head.Timestamp = msg.Timestamp

		err = c.commitHead(wsID, head, ver, &msg)
		if errors.Is(err, store.ErrConflict) && attempt < maxCommitRetries {
			continue
		}
		if err != nil {
			return models.Message{}, err
		}
		logger.Debug("assistant_pending_created", "workspace", wsID, "chat", chatID, "message", msg.ID, "backend", msg.Backend)
		return msg, nil
	}
}

// CompleteMessage flips a pending message to completed with its final
// content, bumping the head's last-activity timestamp in the same commit
// so head watchers observe the flip. Completing an already completed
// message is a no-op returning the stored row.
func (c *Conversations) CompleteMessage(wsID, chatID, msgID, content, html string) (models.Message, error) {
	for attempt := 0; ; attempt++ {
		raw, msgVer, err := c.store.Get(msgKey(wsID, msgID))
		if err != nil {
			return models.Message{}, err
		}
		var msg models.Message
		if err := utils.UnmarshalJSON(raw, &msg); err != nil {
			return models.Message{}, fmt.Errorf("decode message %s: %w", msgID, err)
		}
		if msg.Completed {
			return msg, nil
		}
		head, headVer, err := c.getHead(wsID, chatID)
		if err != nil {
			return models.Message{}, err
		}
		if !containsID(head.MessageRefs(), msgID) {
			return models.Message{}, store.ErrNotFound
		}

		if content != "" {
			msg.Content = content
		}
		switch {
		case html != "":
			msg.HTML = html
		case msg.Content != "":
			rendered, err := c.render.Render(msg.Content)
			if err != nil {
				return models.Message{}, fmt.Errorf("render message: %w", err)
			}
			msg.HTML = rendered
		}
		msg.Completed = true
		head.Timestamp = c.now().UnixMilli()

		headRaw, err := utils.MarshalJSON(head)
		if err != nil {
			return models.Message{}, err
		}
		msgRaw, err := utils.MarshalJSON(msg)
		if err != nil {
			return models.Message{}, err
		}
		err = c.store.Commit(
			[]store.Write{
				{Key: headKey(wsID, chatID), Value: headRaw},
				{Key: msgKey(wsID, msgID), Value: msgRaw},
			},
			[]store.Precondition{
				{Key: headKey(wsID, chatID), Version: headVer},
				{Key: msgKey(wsID, msgID), Version: msgVer},
			},
		)
		if errors.Is(err, store.ErrConflict) && attempt < maxCommitRetries {
			continue
		}
		if err != nil {
			return models.Message{}, err
		}
		logger.Debug("message_completed", "workspace", wsID, "chat", chatID, "message", msgID)
		return msg, nil
	}
}

// getHead loads a head with its current version.
func (c *Conversations) getHead(wsID, chatID string) (models.ChatHead, uint64, error) {
	raw, ver, err := c.store.Get(headKey(wsID, chatID))
	if err != nil {
		return models.ChatHead{}, 0, err
	}
	var head models.ChatHead
	if err := utils.UnmarshalJSON(raw, &head); err != nil {
		return models.ChatHead{}, 0, fmt.Errorf("decode head %s: %w", chatID, err)
	}
	return head, ver, nil
}

// commitHead writes the head (and optionally one message, as a fresh key)
// under the head's version precondition.
func (c *Conversations) commitHead(wsID string, head models.ChatHead, ver uint64, msg *models.Message) error {
	headRaw, err := utils.MarshalJSON(head)
	if err != nil {
		return err
	}
	writes := []store.Write{{Key: headKey(wsID, head.ID), Value: headRaw}}
	preconds := []store.Precondition{{Key: headKey(wsID, head.ID), Version: ver}}
	if msg != nil {
		msgRaw, err := utils.MarshalJSON(*msg)
		if err != nil {
			return err
		}
		writes = append(writes, store.Write{Key: msgKey(wsID, msg.ID), Value: msgRaw})
		preconds = append(preconds, store.Precondition{Key: msgKey(wsID, msg.ID), Version: 0})
	}
	return c.store.Commit(writes, preconds)
}

// listHeads loads every head under a workspace.
func (c *Conversations) listHeads(wsID string) ([]models.ChatHead, error) {
	kvs, err := c.store.ListPrefix(headPrefix(wsID))
	if err != nil {
		return nil, err
	}
	out := make([]models.ChatHead, 0, len(kvs))
	for _, kv := range kvs {
		var h models.ChatHead
		if err := utils.UnmarshalJSON(kv.Value, &h); err != nil {
			return nil, fmt.Errorf("decode head %s: %w", kv.Key, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// resolveMessages fetches the given message ids in order, computing the
// interrupted flag as of now. Ids whose row has vanished (a concurrent
// cascade delete) are skipped.
func (c *Conversations) resolveMessages(wsID string, ids []string) ([]models.Message, error) {
	now := c.now()
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		raw, _, err := c.store.Get(msgKey(wsID, id))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var m models.Message
		if err := utils.UnmarshalJSON(raw, &m); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", id, err)
		}
		m.Interrupted = m.InterruptedAt(now)
		out = append(out, m)
	}
	return out, nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
