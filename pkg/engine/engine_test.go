package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"fpchat/pkg/config"
	"fpchat/pkg/history"
	"fpchat/pkg/models"
	"fpchat/pkg/send"
	"fpchat/pkg/state"
)

type fakePrimitive struct {
	mu    sync.Mutex
	sent  []string
	exts  []map[string]interface{}
	err   error
}

func (f *fakePrimitive) SendText(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakePrimitive) SendCustom(ctx context.Context, to string, exts map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.exts = append(f.exts, exts)
	return nil
}

// historyBackend serves canned pages keyed by cursor and counts fetches.
type historyBackend struct {
	mu      sync.Mutex
	pages   map[string]models.HistoryPage
	fetches int
}

func (b *historyBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.fetches++
		page := b.pages[r.URL.Query().Get("cursor")]
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(page)
	}
}

func (b *historyBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches
}

func row(id, from, body string, ms int64) models.HistoryRow {
	return models.HistoryRow{
		MessageID:   id,
		FromUser:    from,
		Body:        json.RawMessage(`"` + body + `"`),
		CreatedAtMs: ms,
	}
}

func newTestEngine(t *testing.T, backend *historyBackend, prim send.Primitive) *Engine {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Chat.UserID = "me"
	cfg.Chat.HistoryURL = srv.URL
	if prim == nil {
		prim = &fakePrimitive{}
	}
	return New(cfg, history.NewClient(srv.URL, 20, 0, 0), prim)
}

func TestSelectFetchesOnce(t *testing.T) {
	backend := &historyBackend{pages: map[string]models.HistoryPage{
		"": {Messages: []models.HistoryRow{
			row("m1", "coach1", "hello", 1000),
			row("m2", "me", "hi back", 2000),
		}},
	}}
	e := newTestEngine(t, backend, nil)

	view, err := e.SelectConversation(context.Background(), "coach1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(view.Messages) != 2 {
		t.Fatalf("messages = %d", len(view.Messages))
	}
	if view.Messages[0].ID != "m1" || view.Messages[1].ID != "m2" {
		t.Fatalf("order: %s %s", view.Messages[0].ID, view.Messages[1].ID)
	}
	if view.Messages[0].Direction != models.Incoming || view.Messages[1].Direction != models.Outgoing {
		t.Fatalf("directions: %s %s", view.Messages[0].Direction, view.Messages[1].Direction)
	}
	if view.HasMore {
		t.Fatalf("no next cursor means exhausted")
	}

	// re-selecting the active conversation must not refetch
	if _, err := e.SelectConversation(context.Background(), "coach1"); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if backend.count() != 1 {
		t.Fatalf("fetches = %d, selection effects must be idempotent", backend.count())
	}
}

func TestSelectSurvivesFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Chat.UserID = "me"
	e := New(cfg, history.NewClient(srv.URL, 20, 0, 0), &fakePrimitive{})

	view, err := e.SelectConversation(context.Background(), "coach1")
	if err == nil {
		t.Fatalf("expected fetch error")
	}
	if view.ConversationID != "coach1" {
		t.Fatalf("view must still render: %+v", view)
	}
	// the failure must not burn the single fetch: retry on next select
	if view.HasMore != true {
		t.Fatalf("failed fetch must leave pagination open")
	}
}

func TestLoadMorePrependsOlderPage(t *testing.T) {
	backend := &historyBackend{pages: map[string]models.HistoryPage{
		"":      {Messages: []models.HistoryRow{row("new", "coach1", "newest", 5000)}, NextCursor: "older"},
		"older": {Messages: []models.HistoryRow{row("old", "coach1", "oldest", 1000)}},
	}}
	e := newTestEngine(t, backend, nil)

	view, err := e.SelectConversation(context.Background(), "coach1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !view.HasMore {
		t.Fatalf("cursor present, must have more")
	}

	fetched, err := e.LoadMore(context.Background(), "coach1")
	if err != nil || !fetched {
		t.Fatalf("load more: %v %v", fetched, err)
	}
	view = e.Timeline("coach1")
	if len(view.Messages) != 2 || view.Messages[0].ID != "old" || view.Messages[1].ID != "new" {
		t.Fatalf("older page must sort before: %+v", view.Messages)
	}
	if view.HasMore {
		t.Fatalf("no further cursor, must be exhausted")
	}

	// exhausted: no fetch issued
	fetched, err = e.LoadMore(context.Background(), "coach1")
	if err != nil || fetched {
		t.Fatalf("load more after exhaustion: %v %v", fetched, err)
	}
	if backend.count() != 2 {
		t.Fatalf("fetches = %d", backend.count())
	}
}

func TestHandleLiveEvent(t *testing.T) {
	backend := &historyBackend{pages: map[string]models.HistoryPage{}}
	e := newTestEngine(t, backend, nil)

	e.HandleLiveEvent(models.LiveEvent{From: "coach1", To: "me", Msg: "ping", TimeMs: 1000})

	view := e.Timeline("coach1")
	if len(view.Messages) != 1 || view.Messages[0].Provenance != models.ProvLocalLog {
		t.Fatalf("live record: %+v", view.Messages)
	}

	convs := e.Conversations()
	if len(convs) != 1 || convs[0].ID != "coach1" {
		t.Fatalf("conversations: %+v", convs)
	}
	if convs[0].LastMessage != "ping" {
		t.Fatalf("preview = %q", convs[0].LastMessage)
	}
	if convs[0].UnreadCount != 1 {
		t.Fatalf("inactive conversation must accrue unread, got %d", convs[0].UnreadCount)
	}

	// selecting clears the unread count
	_, _ = e.SelectConversation(context.Background(), "coach1")
	if got := e.Conversations()[0].UnreadCount; got != 0 {
		t.Fatalf("unread after select = %d", got)
	}
}

func TestHandleLiveEventOwnEchoRoutesToPeer(t *testing.T) {
	backend := &historyBackend{pages: map[string]models.HistoryPage{}}
	e := newTestEngine(t, backend, nil)

	// multi-device echo: From is the local user, so route by To
	e.HandleLiveEvent(models.LiveEvent{From: "me", To: "coach1", Msg: "from my phone", TimeMs: 1000})
	view := e.Timeline("coach1")
	if len(view.Messages) != 1 || view.Messages[0].Direction != models.Outgoing {
		t.Fatalf("own echo: %+v", view.Messages)
	}
}

func TestHandleLiveEventCallSignal(t *testing.T) {
	backend := &historyBackend{pages: map[string]models.HistoryPage{}}
	e := newTestEngine(t, backend, nil)

	var got *models.IncomingCall
	e.SetCallHandler(func(c models.IncomingCall) { got = &c })

	e.HandleLiveEvent(models.LiveEvent{
		From:       "coach1",
		CustomExts: map[string]interface{}{"type": "call", "action": "initiate", "channel": "ch1"},
	})
	if got == nil || got.Channel != "ch1" {
		t.Fatalf("call hook: %+v", got)
	}
	if e.Timeline("coach1").Messages != nil && len(e.Timeline("coach1").Messages) != 0 {
		t.Fatalf("initiate must not enter the timeline")
	}
}

func TestSendAppendsEcho(t *testing.T) {
	backend := &historyBackend{pages: map[string]models.HistoryPage{}}
	prim := &fakePrimitive{}
	e := newTestEngine(t, backend, prim)

	if err := e.Send(context.Background(), "coach1", send.Draft{Text: "sent"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(prim.sent) != 1 || prim.sent[0] != "sent" {
		t.Fatalf("primitive: %+v", prim.sent)
	}
	view := e.Timeline("coach1")
	if len(view.Messages) != 1 {
		t.Fatalf("echo missing: %+v", view.Messages)
	}
	m := view.Messages[0]
	if m.Direction != models.Outgoing || m.Provenance != models.ProvLocalLog || m.Body != "sent" {
		t.Fatalf("echo: %+v", m)
	}
}

func TestSendFailurePersistsDraft(t *testing.T) {
	if err := state.EnsureStateDirs(t.TempDir()); err != nil {
		t.Fatalf("state: %v", err)
	}
	backend := &historyBackend{pages: map[string]models.HistoryPage{}}
	prim := &fakePrimitive{err: errors.New("offline")}
	e := newTestEngine(t, backend, prim)

	if err := e.Send(context.Background(), "coach1", send.Draft{Text: "unsent"}); err == nil {
		t.Fatalf("expected send failure")
	}
	if len(e.Timeline("coach1").Messages) != 0 {
		t.Fatalf("failed send must not append an echo")
	}

	d, ok := e.RestoreDraft("coach1")
	if !ok || d.Text != "unsent" {
		t.Fatalf("draft restore: %v %+v", ok, d)
	}

	// a later successful send clears the draft
	prim.err = nil
	if err := e.Send(context.Background(), "coach1", send.Draft{Text: "unsent"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, ok := e.RestoreDraft("coach1"); ok {
		t.Fatalf("draft must be cleared after a successful send")
	}
}

func TestEchoSupersededByHistory(t *testing.T) {
	backend := &historyBackend{pages: map[string]models.HistoryPage{}}
	e := newTestEngine(t, backend, nil)

	if err := e.Send(context.Background(), "coach1", send.Draft{Text: "round trip"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	echoAt := e.Timeline("coach1").Messages[0].CreatedAt

	// the backend's authoritative row for the same message arrives
	backend.mu.Lock()
	backend.pages[""] = models.HistoryPage{Messages: []models.HistoryRow{
		{MessageID: "srv-77", FromUser: "me", Body: json.RawMessage(`"round trip"`), CreatedAtMs: echoAt.UnixMilli() + 1500},
	}}
	backend.mu.Unlock()

	view, err := e.SelectConversation(context.Background(), "coach1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(view.Messages) != 1 {
		t.Fatalf("echo and server row must collapse: %+v", view.Messages)
	}
	if view.Messages[0].ID != "srv-77" || !view.Messages[0].IsServer() {
		t.Fatalf("server row must win: %+v", view.Messages[0])
	}
}

func TestUpsertConversationMergesFields(t *testing.T) {
	backend := &historyBackend{pages: map[string]models.HistoryPage{}}
	e := newTestEngine(t, backend, nil)

	e.UpsertConversation(models.Conversation{ID: "coach1", Name: "Coach", Avatar: "a.png"})
	e.HandleLiveEvent(models.LiveEvent{From: "coach1", Msg: "hi", TimeMs: 1000})
	e.UpsertConversation(models.Conversation{ID: "coach1"})

	c := e.Conversations()[0]
	if c.Name != "Coach" || c.Avatar != "a.png" {
		t.Fatalf("blank upsert must keep known fields: %+v", c)
	}
	if c.LastMessage != "hi" {
		t.Fatalf("preview lost on upsert: %+v", c)
	}
}

func TestDropConversation(t *testing.T) {
	backend := &historyBackend{pages: map[string]models.HistoryPage{}}
	e := newTestEngine(t, backend, nil)

	e.HandleLiveEvent(models.LiveEvent{From: "coach1", Msg: "hi", TimeMs: 1000})
	e.DropConversation("coach1")
	if len(e.Conversations()) != 0 {
		t.Fatalf("conversation survived drop")
	}
	if len(e.Timeline("coach1").Messages) != 0 {
		t.Fatalf("timeline survived drop")
	}
}
