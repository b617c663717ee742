package normalize

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"fpchat/pkg/models"
)

var testCtx = Context{
	UserID:        "me",
	PeerID:        "coach1",
	ContactAvatar: "https://cdn/coach.png",
	SelfAvatar:    "https://cdn/me.png",
}

func historyRow(body string) models.HistoryRow {
	return models.HistoryRow{
		MessageID:      "srv-1",
		ConversationID: "user_coach1",
		FromUser:       "coach1",
		Body:           json.RawMessage(body),
		CreatedAtMs:    1_700_000_000_000,
	}
}

func TestHistoryBasics(t *testing.T) {
	m := History(historyRow(`"hello"`), testCtx)
	if m == nil {
		t.Fatal("expected a record")
	}
	if m.ID != "srv-1" {
		t.Fatalf("server IDs pass through, got %q", m.ID)
	}
	if m.Provenance != models.ProvServer {
		t.Fatalf("history rows are authoritative, got %s", m.Provenance)
	}
	if m.ConversationID != "coach1" {
		t.Fatalf("user_ prefix must be stripped, got %q", m.ConversationID)
	}
	if m.Direction != models.Incoming {
		t.Fatalf("peer row must be incoming, got %s", m.Direction)
	}
	if m.Avatar != testCtx.ContactAvatar {
		t.Fatalf("incoming avatar falls back to contact, got %q", m.Avatar)
	}
	if m.Kind != models.KindText || m.Body != "hello" {
		t.Fatalf("body: %s %q", m.Kind, m.Body)
	}
}

func TestHistoryOutgoing(t *testing.T) {
	row := historyRow(`"hi"`)
	row.FromUser = "me"
	m := History(row, testCtx)
	if m.Direction != models.Outgoing {
		t.Fatalf("own row must be outgoing, got %s", m.Direction)
	}
	if m.Avatar != testCtx.SelfAvatar {
		t.Fatalf("outgoing avatar falls back to self, got %q", m.Avatar)
	}
}

func TestHistorySynthesizedID(t *testing.T) {
	row := historyRow(`"no id here"`)
	row.MessageID = ""
	a := History(row, testCtx)
	b := History(row, testCtx)
	if a.ID == "" || !strings.HasPrefix(a.ID, "api-") {
		t.Fatalf("rows without a server ID get a synthesized one, got %q", a.ID)
	}
	if a.ID != b.ID {
		t.Fatalf("synthesized IDs must be deterministic: %q vs %q", a.ID, b.ID)
	}
}

func TestHistoryHiddenReturnsNil(t *testing.T) {
	row := historyRow(`{"type":"call","action":"initiate","channel":"c"}`)
	if m := History(row, testCtx); m != nil {
		t.Fatalf("hidden payloads must not produce records: %+v", m)
	}
}

func TestHistoryStructuredBody(t *testing.T) {
	m := History(historyRow(`{"type":"image","url":"https://cdn/p.jpg"}`), testCtx)
	if m == nil || m.Kind != models.KindImage {
		t.Fatalf("object body misclassified: %+v", m)
	}
	// JSON-encoded string body
	m = History(historyRow(`"{\"type\":\"image\",\"url\":\"https://cdn/p.jpg\"}"`), testCtx)
	if m == nil || m.Kind != models.KindImage {
		t.Fatalf("stringified body misclassified: %+v", m)
	}
}

func TestHistoryDataWrapperUnwrap(t *testing.T) {
	m := History(historyRow(`{"type":"image","data":"{\"url\":\"https://cdn/w.jpg\"}"}`), testCtx)
	if m == nil || m.Kind != models.KindImage || m.Image == nil || m.Image.URL != "https://cdn/w.jpg" {
		t.Fatalf("wrapper with outer type not unwrapped: %+v", m)
	}
}

func TestHistoryTimeForms(t *testing.T) {
	cases := []struct {
		name string
		row  models.HistoryRow
		want time.Time
	}{
		{"ms field", models.HistoryRow{CreatedAtMs: 1_700_000_000_000}, time.UnixMilli(1_700_000_000_000)},
		{"epoch seconds", models.HistoryRow{CreatedAt: json.RawMessage(`1700000000`)}, time.Unix(1_700_000_000, 0)},
		{"epoch millis", models.HistoryRow{CreatedAt: json.RawMessage(`1700000000000`)}, time.UnixMilli(1_700_000_000_000)},
		{"rfc3339", models.HistoryRow{CreatedAt: json.RawMessage(`"2023-11-14T22:13:20Z"`)}, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)},
		{"numeric string", models.HistoryRow{CreatedAt: json.RawMessage(`"1700000000"`)}, time.Unix(1_700_000_000, 0)},
		{"null", models.HistoryRow{CreatedAt: json.RawMessage(`null`)}, time.Time{}},
		{"absent", models.HistoryRow{}, time.Time{}},
	}
	for _, c := range cases {
		c.row.MessageID = "x"
		c.row.FromUser = "coach1"
		c.row.Body = json.RawMessage(`"t"`)
		m := History(c.row, testCtx)
		if !m.CreatedAt.Equal(c.want) {
			t.Fatalf("%s: got %v, want %v", c.name, m.CreatedAt, c.want)
		}
	}
}

func TestLiveEvent(t *testing.T) {
	ev := models.LiveEvent{
		From:   "coach1",
		To:     "me",
		TimeMs: 1_700_000_000_000,
		Type:   "txt",
		Msg:    "ping",
	}
	m, call := Live(ev, testCtx)
	if call != nil {
		t.Fatalf("text event must not raise a call signal")
	}
	if m == nil {
		t.Fatal("expected a record")
	}
	if m.Provenance != models.ProvLocalLog {
		t.Fatalf("live records are provisional, got %s", m.Provenance)
	}
	if !strings.HasPrefix(m.ID, "incoming-coach1-") {
		t.Fatalf("provisional ID prefix: %q", m.ID)
	}
	if !m.CreatedAt.Equal(time.UnixMilli(1_700_000_000_000)) {
		t.Fatalf("event time: %v", m.CreatedAt)
	}
}

func TestLiveCustomExts(t *testing.T) {
	ev := models.LiveEvent{
		From:       "coach1",
		Type:       "custom",
		CustomExts: map[string]interface{}{"type": "audio", "url": "https://cdn/v.m4a", "duration": float64(30)},
	}
	m, _ := Live(ev, testCtx)
	if m == nil || m.Kind != models.KindAudio || m.Audio == nil || m.Audio.DurationMs != 30_000 {
		t.Fatalf("customExts bag misread: %+v", m)
	}
}

func TestLiveExtNestedData(t *testing.T) {
	ev := models.LiveEvent{
		From: "coach1",
		Ext:  map[string]interface{}{"data": `{"type":"file","url":"https://cdn/d.pdf"}`},
	}
	m, _ := Live(ev, testCtx)
	if m == nil || m.Kind != models.KindFile {
		t.Fatalf("nested ext data misread: %+v", m)
	}
}

func TestLiveCallInitiateSignal(t *testing.T) {
	ev := models.LiveEvent{
		From:       "coach1",
		CustomExts: map[string]interface{}{"type": "call", "action": "initiate", "channel": "ch7", "callType": "audio"},
	}
	m, call := Live(ev, testCtx)
	if m != nil {
		t.Fatalf("call initiate must not enter the timeline: %+v", m)
	}
	if call == nil || call.Channel != "ch7" || call.From != "coach1" {
		t.Fatalf("call signal: %+v", call)
	}
}

func TestEcho(t *testing.T) {
	m := Echo(models.LocalEcho{Raw: "typed message", Seq: 3, Outgoing: true}, testCtx)
	if m == nil {
		t.Fatal("expected a record")
	}
	if m.Direction != models.Outgoing || m.Provenance != models.ProvLocalLog {
		t.Fatalf("echo record: %s %s", m.Direction, m.Provenance)
	}
	if m.Sender != "me" {
		t.Fatalf("outgoing echoes default to the local user, got %q", m.Sender)
	}
	if !strings.HasPrefix(m.ID, "outgoing-coach1-") || !strings.HasSuffix(m.ID, "-3") {
		t.Fatalf("echo ID: %q", m.ID)
	}
	if m.CreatedAt.IsZero() {
		t.Fatalf("zero At must resolve to now")
	}
}

func TestEchoDeterministicIDs(t *testing.T) {
	e := models.LocalEcho{Raw: "same", Seq: 7, Outgoing: true, At: time.UnixMilli(1000)}
	a := Echo(e, testCtx)
	b := Echo(e, testCtx)
	if a.ID != b.ID {
		t.Fatalf("replayed echoes must keep their IDs: %q vs %q", a.ID, b.ID)
	}
}
