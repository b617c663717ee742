// Package engine ties the pipeline together: history fetches, live events
// and optimistic echoes are normalized, merged into per-conversation
// timelines, cached, and reflected into the conversation list.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"fpchat/pkg/classify"
	"fpchat/pkg/config"
	"fpchat/pkg/history"
	"fpchat/pkg/matchkey"
	"fpchat/pkg/models"
	"fpchat/pkg/normalize"
	"fpchat/pkg/send"
	"fpchat/pkg/state"
	"fpchat/pkg/store"
	"fpchat/pkg/telemetry"
	"fpchat/pkg/timeline"
)

// TimelineView is what a selection or load-more returns to the caller.
type TimelineView struct {
	ConversationID string                    `json:"conversation_id"`
	Messages       []models.CanonicalMessage `json:"messages"`
	HasMore        bool                      `json:"has_more"`
	Fetching       bool                      `json:"fetching"`
}

// Engine owns the sessions, the upstream clients and the conversation list.
type Engine struct {
	userID  string
	mgr     *timeline.Manager
	history *history.Client
	sender  *send.Sender

	mu    sync.Mutex
	convs map[string]models.Conversation

	onCall  func(models.IncomingCall)
	echoSeq atomic.Int64

	useCache bool
}

// New builds an Engine from the effective config and collaborators.
func New(cfg *config.Config, hist *history.Client, primitive send.Primitive) *Engine {
	merger := timeline.NewMerger(matchkey.New(cfg.Windows()), cfg.Skew())
	e := &Engine{
		userID:   cfg.Chat.UserID,
		mgr:      timeline.NewManager(merger),
		history:  hist,
		sender:   send.NewSender(primitive),
		convs:    map[string]models.Conversation{},
		useCache: store.Ready(),
	}
	if e.useCache {
		if convs, err := store.ListConversations(); err == nil {
			for _, c := range convs {
				e.convs[c.ID] = c
			}
		}
	}
	return e
}

// SetCallHandler registers the call-UI hook for incoming call signals.
func (e *Engine) SetCallHandler(f func(models.IncomingCall)) { e.onCall = f }

func (e *Engine) ctxFor(convID string) normalize.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx := normalize.Context{UserID: e.userID, PeerID: convID}
	if c, ok := e.convs[convID]; ok {
		ctx.ContactAvatar = c.Avatar
	}
	return ctx
}

// SelectConversation makes convID active and returns its timeline. Cached
// records render immediately; the initial history fetch runs at most once
// per selection epoch, so repeated selection effects are no-ops.
func (e *Engine) SelectConversation(ctx context.Context, convID string) (TimelineView, error) {
	s := e.mgr.Select(convID)

	if e.useCache && s.Len() == 0 {
		if cached, err := store.LoadTimeline(convID); err == nil && len(cached) > 0 {
			s.Apply(convID, cached, timeline.Append)
			slog.Debug("timeline_cache_preload", "conversation", convID, "count", len(cached))
		}
	}

	var fetchErr error
	if !s.Pager().FetchedOnce() {
		fetchErr = e.fetchPage(ctx, s, convID, timeline.Append)
	}
	e.clearUnread(convID)
	return e.view(s, convID), fetchErr
}

// LoadMore fetches the next older page for convID. It reports false when no
// fetch was issued (one already in flight, or history exhausted).
func (e *Engine) LoadMore(ctx context.Context, convID string) (bool, error) {
	s := e.mgr.Get(convID)
	if !s.Pager().HasMore() {
		return false, nil
	}
	err := e.fetchPage(ctx, s, convID, timeline.Prepend)
	if err == errFetchInFlight {
		return false, nil
	}
	return err == nil, err
}

var errFetchInFlight = errors.New("fetch already in flight")

func (e *Engine) fetchPage(ctx context.Context, s *timeline.Session, convID string, dir timeline.InsertDirection) error {
	p := s.Pager()
	if !p.TryBeginFetch() {
		return errFetchInFlight
	}
	page, err := e.history.FetchPage(ctx, convID, p.Cursor())
	if err != nil {
		p.Fail()
		return err
	}

	nctx := e.ctxFor(convID)
	batch := make([]models.CanonicalMessage, 0, len(page.Messages))
	for _, row := range page.Messages {
		if m := normalize.History(row, nctx); m != nil {
			batch = append(batch, *m)
		}
	}
	// The response conversation is compared against the session identity;
	// a response landing after a switch-away is discarded by Apply.
	applied := s.Apply(convID, batch, dir)
	p.Advance(page.NextCursor, len(page.Messages) == 0)
	if applied {
		e.refreshPreview(convID, s)
		e.persist(convID, s)
	}
	return nil
}

// HandleLiveEvent routes one push event: call signals go to the call hook,
// everything renderable lands in its conversation's timeline.
func (e *Engine) HandleLiveEvent(ev models.LiveEvent) {
	convID := ev.From
	if convID == e.userID || convID == "" {
		convID = ev.To
	}
	if convID == "" {
		slog.Warn("live_event_unroutable", "type", ev.Type)
		return
	}

	msg, call := normalize.Live(ev, e.ctxFor(convID))
	if call != nil && e.onCall != nil {
		e.onCall(*call)
	}
	if msg == nil {
		return
	}

	s := e.mgr.Get(convID)
	if !s.Apply(convID, []models.CanonicalMessage{*msg}, timeline.Append) {
		return
	}
	e.bumpConversation(convID, *msg)
	e.persist(convID, s)
}

// Send delivers a draft and appends its optimistic echo. On failure the
// draft is persisted for restore and the error returned.
func (e *Engine) Send(ctx context.Context, convID string, d send.Draft) error {
	s := e.mgr.Get(convID)
	left, err := e.sender.Send(ctx, s, "user_"+convID, d)
	if err != nil {
		if serr := state.SaveDraft(convID, left); serr != nil {
			slog.Warn("draft_save_failed", "conversation", convID, "error", serr)
		}
		return err
	}
	_ = state.ClearDraft(convID)

	seq := e.echoSeq.Add(1)
	echo := normalize.Echo(models.LocalEcho{
		Sender:   e.userID,
		Raw:      d.Raw(),
		Seq:      int(seq),
		Outgoing: true,
		At:       time.Now(),
	}, e.ctxFor(convID))
	if echo == nil {
		return nil
	}
	if s.Apply(convID, []models.CanonicalMessage{*echo}, timeline.Append) {
		e.bumpConversation(convID, *echo)
		e.persist(convID, s)
	}
	return nil
}

// RestoreDraft returns a previously failed draft for convID, if any.
func (e *Engine) RestoreDraft(convID string) (send.Draft, bool) {
	var d send.Draft
	ok, err := state.LoadDraft(convID, &d)
	if err != nil {
		slog.Warn("draft_load_failed", "conversation", convID, "error", err)
		return send.Draft{}, false
	}
	return d, ok
}

// Timeline returns the current view without side effects.
func (e *Engine) Timeline(convID string) TimelineView {
	s := e.mgr.Get(convID)
	return e.view(s, convID)
}

// Conversations lists known conversations, most recent activity first.
func (e *Engine) Conversations() []models.Conversation {
	e.mu.Lock()
	out := make([]models.Conversation, 0, len(e.convs))
	for _, c := range e.convs {
		out = append(out, c)
	}
	e.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// UpsertConversation registers or updates a contact entry.
func (e *Engine) UpsertConversation(c models.Conversation) {
	e.mu.Lock()
	prev, ok := e.convs[c.ID]
	if ok {
		if c.Name == "" {
			c.Name = prev.Name
		}
		if c.Avatar == "" {
			c.Avatar = prev.Avatar
		}
		if c.LastMessage == "" {
			c.LastMessage = prev.LastMessage
			c.LastMessageFrom = prev.LastMessageFrom
			c.Timestamp = prev.Timestamp
		}
		c.UnreadCount = prev.UnreadCount
	}
	e.convs[c.ID] = c
	e.mu.Unlock()
	e.persistConversation(c)
}

// Active returns the currently selected conversation ID.
func (e *Engine) Active() string { return e.mgr.Active() }

// Deselect clears the active conversation.
func (e *Engine) Deselect() { e.mgr.Deselect() }

// DropConversation evicts a conversation from memory and cache.
func (e *Engine) DropConversation(convID string) {
	e.mgr.Drop(convID)
	e.mu.Lock()
	delete(e.convs, convID)
	e.mu.Unlock()
	if e.useCache {
		if err := store.DropConversation(convID); err != nil {
			slog.Warn("cache_drop_failed", "conversation", convID, "error", err)
		}
	}
}

func (e *Engine) view(s *timeline.Session, convID string) TimelineView {
	return TimelineView{
		ConversationID: convID,
		Messages:       s.Snapshot(),
		HasMore:        s.Pager().HasMore(),
		Fetching:       s.Pager().Fetching(),
	}
}

// bumpConversation updates the preview, stamp and unread count after a new
// record landed in convID.
func (e *Engine) bumpConversation(convID string, m models.CanonicalMessage) {
	e.mu.Lock()
	c := e.convs[convID]
	c.ID = convID
	if c.Name == "" {
		c.Name = convID
	}
	if m.Direction == models.Incoming && m.Avatar != "" {
		c.Avatar = m.Avatar
	}
	c.LastMessage = classify.MessagePreview(m)
	c.LastMessageFrom = m.Sender
	if !m.CreatedAt.IsZero() {
		c.Timestamp = m.CreatedAt
	}
	if m.Direction == models.Incoming && e.mgr.Active() != convID {
		c.UnreadCount++
	}
	e.convs[convID] = c
	e.mu.Unlock()
	e.persistConversation(c)
}

// refreshPreview recomputes the preview from the newest timeline record,
// used after history fetches where the last message may have changed.
func (e *Engine) refreshPreview(convID string, s *timeline.Session) {
	msgs := s.Snapshot()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	e.mu.Lock()
	c := e.convs[convID]
	c.ID = convID
	if c.Name == "" {
		c.Name = convID
	}
	c.LastMessage = classify.MessagePreview(last)
	c.LastMessageFrom = last.Sender
	if !last.CreatedAt.IsZero() {
		c.Timestamp = last.CreatedAt
	}
	e.convs[convID] = c
	e.mu.Unlock()
	e.persistConversation(c)
}

func (e *Engine) clearUnread(convID string) {
	e.mu.Lock()
	if c, ok := e.convs[convID]; ok && c.UnreadCount != 0 {
		c.UnreadCount = 0
		e.convs[convID] = c
	}
	e.mu.Unlock()
}

func (e *Engine) persist(convID string, s *timeline.Session) {
	if !e.useCache {
		return
	}
	if err := store.SaveTimeline(convID, s.Snapshot()); err != nil {
		slog.Warn("cache_write_failed", "conversation", convID, "error", err)
		return
	}
	telemetry.CacheDiskBytes.Set(float64(store.Stats().DiskUsageBytes))
}

func (e *Engine) persistConversation(c models.Conversation) {
	if !e.useCache {
		return
	}
	if err := store.SaveConversation(c); err != nil {
		slog.Warn("cache_conv_write_failed", "conversation", c.ID, "error", err)
	}
}
