// Package normalize converts the three source message shapes into canonical
// records: backend history rows, live SDK events, and optimistic local
// echoes. All classification is delegated to pkg/classify; a nil return
// means the payload classified as hidden and must not enter any timeline.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"fpchat/pkg/classify"
	"fpchat/pkg/models"
	"fpchat/pkg/utils"
)

// Context carries the identities needed to resolve direction and avatars.
type Context struct {
	UserID        string
	PeerID        string
	ContactAvatar string
	SelfAvatar    string
}

// History normalizes a backend history row. Row IDs pass through verbatim
// and the record is authoritative.
func History(row models.HistoryRow, ctx Context) *models.CanonicalMessage {
	payload := classifyHistoryBody(row.Body)
	if payload.Hidden() {
		return nil
	}

	sender := row.FromUser
	if sender == "" {
		sender = row.SenderName
	}
	dir := models.Incoming
	if sender == ctx.UserID {
		dir = models.Outgoing
	}

	created := historyTime(row)

	id := row.MessageID
	if id == "" {
		// Rows without a server ID still need a stable one.
		id = "api-" + utils.ContentHash(string(row.Body)) + "-" + strconv.FormatInt(created.UnixMilli(), 10)
	}

	m := build(payload, models.CanonicalMessage{
		ID:             id,
		ConversationID: conversationID(row.ConversationID, ctx.PeerID),
		Direction:      dir,
		Sender:         sender,
		Avatar:         avatar(row.SenderPhoto, dir, ctx),
		CreatedAt:      created,
		Provenance:     models.ProvServer,
	})
	return &m
}

// Live normalizes a push event from the messaging SDK. The SDK's transient
// event IDs are not the backend's message IDs, so live records stay
// provisional and are superseded by the matching history row when it
// arrives. The second return value carries an incoming-call signal when the
// (hidden) payload was a call initiation.
func Live(ev models.LiveEvent, ctx Context) (*models.CanonicalMessage, *models.IncomingCall) {
	payload := classifyLive(ev)
	if call := payload.IncomingCall; call != nil {
		if call.From == "" {
			call.From = ev.From
		}
	}
	if payload.Hidden() {
		return nil, payload.IncomingCall
	}

	dir := models.Incoming
	if ev.From == ctx.UserID {
		dir = models.Outgoing
	}

	created := time.Now()
	if ev.TimeMs > 0 {
		created = time.UnixMilli(ev.TimeMs)
	}

	seed := ev.Msg
	if seed == "" {
		seed = payload.Body
	}
	m := build(payload, models.CanonicalMessage{
		ID:             provisionalID(dir, ctx.PeerID, seed, created.UnixMilli()),
		ConversationID: ctx.PeerID,
		Direction:      dir,
		Sender:         ev.From,
		Avatar:         avatar(ev.SenderPhoto, dir, ctx),
		CreatedAt:      created,
		Provenance:     models.ProvLocalLog,
	})
	return &m, payload.IncomingCall
}

// Echo normalizes an optimistic local record for a just-sent message.
func Echo(e models.LocalEcho, ctx Context) *models.CanonicalMessage {
	payload := classify.Classify(e.Raw)
	if payload.Hidden() {
		return nil
	}

	dir := models.Incoming
	if e.Outgoing {
		dir = models.Outgoing
	}

	created := e.At
	if created.IsZero() {
		created = time.Now()
	}

	sender := e.Sender
	if sender == "" && e.Outgoing {
		sender = ctx.UserID
	}

	m := build(payload, models.CanonicalMessage{
		ID:             provisionalID(dir, ctx.PeerID, e.Raw, int64(e.Seq)),
		ConversationID: ctx.PeerID,
		Direction:      dir,
		Sender:         sender,
		Avatar:         avatar("", dir, ctx),
		CreatedAt:      created,
		Provenance:     models.ProvLocalLog,
	})
	return &m
}

// build copies the classified payload into the canonical skeleton.
func build(p classify.Payload, m models.CanonicalMessage) models.CanonicalMessage {
	m.Kind = p.Kind
	m.Body = p.Body
	m.Image = p.Image
	m.Audio = p.Audio
	m.File = p.File
	m.Products = p.Products
	m.RecommendedProducts = p.RecommendedProducts
	m.Call = p.Call
	m.System = p.System
	return m
}

// provisionalID synthesizes a deterministic client ID. The prefix
// distinguishes provisional IDs from server IDs by construction.
func provisionalID(dir models.Direction, peer, raw string, seq int64) string {
	prefix := "incoming"
	if dir == models.Outgoing {
		prefix = "outgoing"
	}
	return prefix + "-" + peer + "-" + utils.ContentHash(raw) + "-" + strconv.FormatInt(seq, 10)
}

func avatar(senderPhoto string, dir models.Direction, ctx Context) string {
	if senderPhoto != "" {
		return senderPhoto
	}
	if dir == models.Outgoing {
		return ctx.SelfAvatar
	}
	return ctx.ContactAvatar
}

func conversationID(raw, peer string) string {
	// The backend namespaces conversation IDs as "user_<peer>".
	if raw != "" {
		return strings.TrimPrefix(raw, "user_")
	}
	return peer
}

// classifyHistoryBody handles the backend's body texture: a plain string, a
// JSON-encoded string, or an object; wrapper objects carrying a "data" field
// that is itself a JSON string are unwrapped one level, preferring the
// nested type and falling back to the wrapper's.
func classifyHistoryBody(body json.RawMessage) classify.Payload {
	if len(body) == 0 {
		return classify.Payload{Kind: models.KindText}
	}

	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		// String body; may itself be JSON.
		return classify.Classify(s)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err == nil {
		return classify.ClassifyMap(unwrapNested(obj))
	}

	var arr []map[string]interface{}
	if err := json.Unmarshal(body, &arr); err == nil {
		return classify.Classify(string(body))
	}

	return classify.Payload{Kind: models.KindText, Body: strings.TrimSpace(string(body))}
}

func unwrapNested(obj map[string]interface{}) map[string]interface{} {
	data, ok := obj["data"].(string)
	if !ok || data == "" {
		return obj
	}
	var nested map[string]interface{}
	if err := json.Unmarshal([]byte(data), &nested); err != nil {
		return obj
	}
	if _, ok := nested["type"]; !ok {
		if outer, ok := obj["type"]; ok {
			nested["type"] = outer
		}
	}
	return nested
}

// classifyLive extracts the structured extension bag from whichever slot the
// SDK delivered it in, falling back to the plain text body.
func classifyLive(ev models.LiveEvent) classify.Payload {
	if bag := extBag(ev); bag != nil {
		return classify.ClassifyMap(bag)
	}
	return classify.Classify(ev.Msg)
}

func extBag(ev models.LiveEvent) map[string]interface{} {
	if hasType(ev.CustomExts) {
		return ev.CustomExts
	}
	if hasType(ev.V2CustomExts) {
		return ev.V2CustomExts
	}
	if len(ev.Ext) == 0 {
		return nil
	}
	// Media attachments are sometimes spread directly onto ext.
	if t, _ := ev.Ext["type"].(string); t == "image" || t == "file" || t == "audio" {
		return ev.Ext
	}
	switch data := ev.Ext["data"].(type) {
	case string:
		var nested map[string]interface{}
		if err := json.Unmarshal([]byte(data), &nested); err == nil && hasType(nested) {
			return nested
		}
	case map[string]interface{}:
		if hasType(data) {
			return data
		}
	}
	return nil
}

func hasType(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	_, ok := m["type"]
	return ok
}

// historyTime resolves the row timestamp: the millisecond field wins, then
// created_at as epoch number or RFC3339 string; absent stamps resolve to the
// zero time, which sorts lowest but is never dropped.
func historyTime(row models.HistoryRow) time.Time {
	if row.CreatedAtMs > 0 {
		return time.UnixMilli(row.CreatedAtMs)
	}
	raw := strings.TrimSpace(string(row.CreatedAt))
	if raw == "" || raw == "null" {
		return time.Time{}
	}
	var n float64
	if err := json.Unmarshal(row.CreatedAt, &n); err == nil {
		return epochTime(n)
	}
	var s string
	if err := json.Unmarshal(row.CreatedAt, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochTime(f)
		}
	}
	return time.Time{}
}

func epochTime(n float64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	// Heuristic: values past ~2001-09 in ms are epoch milliseconds.
	if n > 1e12 {
		return time.UnixMilli(int64(n))
	}
	return time.Unix(int64(n), 0)
}
