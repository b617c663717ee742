package send

import (
	"context"
	"errors"
	"testing"
)

type fakePrimitive struct {
	textTo, textBody string
	customTo         string
	customExts       map[string]interface{}
	err              error
}

func (f *fakePrimitive) SendText(ctx context.Context, to, body string) error {
	f.textTo, f.textBody = to, body
	return f.err
}

func (f *fakePrimitive) SendCustom(ctx context.Context, to string, exts map[string]interface{}) error {
	f.customTo, f.customExts = to, exts
	return f.err
}

type fakeGuard struct {
	busy  bool
	ended bool
}

func (g *fakeGuard) TryBeginSend() bool { return !g.busy }
func (g *fakeGuard) EndSend()           { g.ended = true }

func TestSendText(t *testing.T) {
	p := &fakePrimitive{}
	s := NewSender(p)
	g := &fakeGuard{}

	left, err := s.Send(context.Background(), g, "user_coach1", Draft{Text: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if p.textTo != "user_coach1" || p.textBody != "hi" {
		t.Fatalf("primitive got %q %q", p.textTo, p.textBody)
	}
	if left.Text != "" || left.Payload != nil {
		t.Fatalf("successful send must return the zero draft: %+v", left)
	}
	if !g.ended {
		t.Fatalf("guard must be released")
	}
}

func TestSendCustom(t *testing.T) {
	p := &fakePrimitive{}
	s := NewSender(p)

	d := Draft{Payload: map[string]interface{}{"type": "image", "url": "https://cdn/x.jpg"}}
	if _, err := s.Send(context.Background(), &fakeGuard{}, "user_c", d); err != nil {
		t.Fatalf("send: %v", err)
	}
	if p.customExts == nil || p.customExts["type"] != "image" || p.customExts["url"] != "https://cdn/x.jpg" {
		t.Fatalf("exts: %+v", p.customExts)
	}
}

func TestSendInFlight(t *testing.T) {
	p := &fakePrimitive{}
	s := NewSender(p)
	d := Draft{Text: "queued"}

	left, err := s.Send(context.Background(), &fakeGuard{busy: true}, "user_c", d)
	if !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("err = %v", err)
	}
	if left.Text != "queued" {
		t.Fatalf("refused send must hand the draft back: %+v", left)
	}
	if p.textBody != "" {
		t.Fatalf("primitive must not be reached")
	}
}

func TestSendFailureReturnsDraft(t *testing.T) {
	p := &fakePrimitive{err: errors.New("network down")}
	s := NewSender(p)
	g := &fakeGuard{}

	d := Draft{Text: "keep me"}
	left, err := s.Send(context.Background(), g, "user_c", d)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if left.Text != "keep me" {
		t.Fatalf("failed send must return the draft for restore: %+v", left)
	}
	if !g.ended {
		t.Fatalf("guard must be released on failure")
	}
}

func TestSendPayloadWithoutType(t *testing.T) {
	s := NewSender(&fakePrimitive{})
	d := Draft{Payload: map[string]interface{}{"url": "https://cdn/x"}}
	if _, err := s.Send(context.Background(), &fakeGuard{}, "user_c", d); err == nil {
		t.Fatalf("typeless payload must be rejected")
	}
}

func TestDraftRaw(t *testing.T) {
	if got := (Draft{Text: "plain"}).Raw(); got != "plain" {
		t.Fatalf("text raw = %q", got)
	}
	raw := (Draft{Payload: map[string]interface{}{"type": "meal_plan_updated"}}).Raw()
	if raw != `{"type":"meal_plan_updated"}` {
		t.Fatalf("payload raw = %q", raw)
	}
}

func TestBuildCustomExtsAudio(t *testing.T) {
	exts := BuildCustomExts(map[string]interface{}{
		"type":     "audio",
		"url":      "https://cdn/v.m4a",
		"duration": float64(42), // seconds from the composer
	})
	if exts["duration"] != "42" {
		t.Fatalf("wire duration must be stringified seconds, got %v", exts["duration"])
	}
	if exts["transcription"] != "" {
		t.Fatalf("missing transcription must default empty, got %v", exts["transcription"])
	}
}

func TestBuildCustomExtsFileDefaults(t *testing.T) {
	exts := BuildCustomExts(map[string]interface{}{"type": "file", "url": "https://cdn/d"})
	if exts["mimeType"] != "application/octet-stream" || exts["size"] != "0" {
		t.Fatalf("file defaults: %+v", exts)
	}
}

func TestBuildCustomExtsCall(t *testing.T) {
	exts := BuildCustomExts(map[string]interface{}{"type": "call", "channel": "ch1", "duration": float64(90), "action": "end"})
	if exts["action"] != "end" || exts["callType"] != "video" || exts["duration"] != "90" {
		t.Fatalf("call exts: %+v", exts)
	}
}

func TestBuildCustomExtsUnknownPassthrough(t *testing.T) {
	in := map[string]interface{}{"type": "carousel", "items": []interface{}{"a"}}
	exts := BuildCustomExts(in)
	if exts["type"] != "carousel" {
		t.Fatalf("unknown types pass through: %+v", exts)
	}
}

func TestBuildCustomExtsNoType(t *testing.T) {
	if BuildCustomExts(map[string]interface{}{"url": "x"}) != nil {
		t.Fatalf("typeless payload must build nil")
	}
	if BuildCustomExts(nil) != nil {
		t.Fatalf("nil payload must build nil")
	}
}
