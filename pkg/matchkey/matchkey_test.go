package matchkey

import (
	"testing"
	"time"

	"fpchat/pkg/models"
)

func at(ms int64) time.Time { return time.UnixMilli(ms) }

func TestTextKeyBucketing(t *testing.T) {
	g := New(Windows{})
	base := models.CanonicalMessage{Kind: models.KindText, Body: "hello", Sender: "alice", CreatedAt: at(10_000)}

	same := base
	same.CreatedAt = at(10_400)
	if g.Key(base) != g.Key(same) {
		t.Fatalf("texts 400ms apart in the same second must share a key")
	}

	far := base
	far.CreatedAt = at(11_100)
	if g.Key(base) == g.Key(far) {
		t.Fatalf("texts 1.1s apart must not share a key")
	}
}

func TestTextKeyNormalizesJSONBody(t *testing.T) {
	g := New(Windows{})
	a := models.CanonicalMessage{Kind: models.KindText, Body: `{"a":1,"b":2}`, Sender: "s", CreatedAt: at(1000)}
	b := models.CanonicalMessage{Kind: models.KindText, Body: ` {"b": 2, "a": 1} `, Sender: "s", CreatedAt: at(1200)}
	if g.Key(a) != g.Key(b) {
		t.Fatalf("JSON bodies differing only in key order and whitespace must match")
	}
}

func TestCallKeyWindow(t *testing.T) {
	g := New(Windows{})
	call := func(ms int64) models.CanonicalMessage {
		return models.CanonicalMessage{
			Kind:      models.KindCall,
			CreatedAt: at(ms),
			Call:      &models.CallContent{Type: "video", Action: "end", DurationSeconds: 42, Channel: "ch1"},
		}
	}
	if g.Key(call(100_000)) != g.Key(call(101_500)) {
		t.Fatalf("call-end echoes 1.5s apart must share a key")
	}
	if g.Key(call(100_000)) == g.Key(call(104_000)) {
		t.Fatalf("calls 4s apart must not share a key")
	}

	short := call(100_000)
	short.Call = &models.CallContent{Type: "video", Action: "end", DurationSeconds: 10, Channel: "ch1"}
	if g.Key(call(100_000)) == g.Key(short) {
		t.Fatalf("different durations are different calls")
	}
}

func TestMediaKeyUsesURL(t *testing.T) {
	g := New(Windows{})
	img := func(ms int64, url string) models.CanonicalMessage {
		return models.CanonicalMessage{
			Kind:      models.KindImage,
			Sender:    "alice",
			CreatedAt: at(ms),
			Image:     &models.ImageContent{URL: url},
		}
	}
	// 4 minutes of skew, same upload
	if g.Key(img(0, "https://cdn/x.jpg")) != g.Key(img(4*60*1000, "https://cdn/x.jpg")) {
		t.Fatalf("same URL within the media window must match")
	}
	if g.Key(img(0, "https://cdn/x.jpg")) == g.Key(img(0, "https://cdn/y.jpg")) {
		t.Fatalf("different URLs are different uploads")
	}
}

func TestProductsKeyUnbucketed(t *testing.T) {
	g := New(Windows{})
	p := func(ms int64) models.CanonicalMessage {
		return models.CanonicalMessage{
			Kind:      models.KindProducts,
			Sender:    "coach",
			CreatedAt: at(ms),
			Products:  []models.Product{{ID: "sku-1"}, {ID: "sku-2"}},
		}
	}
	if g.Key(p(0)) != g.Key(p(3600_000)) {
		t.Fatalf("product keys must match across arbitrary skew")
	}
}

func TestSystemKeyUsesTag(t *testing.T) {
	g := New(Windows{})
	a := models.CanonicalMessage{
		Kind: models.KindSystem, Sender: "svc", CreatedAt: at(5000),
		System: &models.SystemContent{Subtype: "meal_plan_updated"},
	}
	b := a
	b.System = &models.SystemContent{ActionType: "coach_assigned"}
	if g.Key(a) == g.Key(b) {
		t.Fatalf("different system tags must not collide")
	}
}

func TestContentKeyIgnoresTime(t *testing.T) {
	g := New(Windows{})
	a := models.CanonicalMessage{Kind: models.KindText, Body: "hi", Sender: "s", CreatedAt: at(0)}
	b := a
	b.CreatedAt = at(9_000_000)
	if g.Key(a) == g.Key(b) {
		t.Fatalf("bucketed keys should differ across hours")
	}
	if g.ContentKey(a) != g.ContentKey(b) {
		t.Fatalf("content keys must be time independent")
	}
}

func TestZeroTimeBucket(t *testing.T) {
	g := New(Windows{})
	a := models.CanonicalMessage{Kind: models.KindText, Body: "x", Sender: "s"}
	b := a
	if g.Key(a) != g.Key(b) {
		t.Fatalf("zero timestamps must bucket identically")
	}
}

func TestWindowsDefaults(t *testing.T) {
	w := Windows{Call: 10 * time.Second}.orDefault()
	if w.Call != 10*time.Second {
		t.Fatalf("explicit window overridden: %v", w.Call)
	}
	d := Default()
	if w.Media != d.Media || w.System != d.System || w.Text != d.Text {
		t.Fatalf("zero windows must fall back to defaults: %+v", w)
	}
}

func TestNormalizeContent(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"  plain  ", "plain"},
		{`{"b":1,"a":"x"}`, `{"a":"x","b":1}`},
		{"{not json", "{not json"},
		{`[1,2,3]`, `[1,2,3]`},
	}
	for _, c := range cases {
		if got := NormalizeContent(c.in); got != c.want {
			t.Fatalf("NormalizeContent(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
