// Package matchkey computes content-derived deduplication keys.
//
// Live-echo and server records for the same logical event never share an ID,
// so equality is inferred from content with per-kind rules and time
// bucketing. Keys are used only for cross-source deduplication, never as the
// primary identifier.
package matchkey

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"fpchat/pkg/models"
)

// Windows holds the per-kind time-bucket widths. The defaults are empirical
// tuning inherited from production: call-end events are echoed
// near-simultaneously by the log and the server push, so a 2s bucket matches
// those without conflating distinct same-minute calls; media uploads can
// carry minutes of clock skew between the optimistic stamp and the server
// stamp, so media gets 5m; system and text use a deliberately narrow 1s
// bucket so that legitimate repeats minutes apart stay distinct.
type Windows struct {
	Call   time.Duration `yaml:"call"`
	Media  time.Duration `yaml:"media"`
	System time.Duration `yaml:"system"`
	Text   time.Duration `yaml:"text"`
}

// Default returns the production bucket widths.
func Default() Windows {
	return Windows{
		Call:   2 * time.Second,
		Media:  5 * time.Minute,
		System: time.Second,
		Text:   time.Second,
	}
}

func (w Windows) orDefault() Windows {
	d := Default()
	if w.Call <= 0 {
		w.Call = d.Call
	}
	if w.Media <= 0 {
		w.Media = d.Media
	}
	if w.System <= 0 {
		w.System = d.System
	}
	if w.Text <= 0 {
		w.Text = d.Text
	}
	return w
}

// Generator computes match keys with a fixed set of bucket widths.
type Generator struct {
	w Windows
}

// New returns a Generator; zero-valued window fields fall back to defaults.
func New(w Windows) Generator {
	return Generator{w: w.orDefault()}
}

// Key returns the deduplication key for a record.
func (g Generator) Key(m models.CanonicalMessage) string {
	return g.key(m, true)
}

// ContentKey returns the key without its time bucket. Two records with equal
// content keys are candidates for log/server supersession even when clock
// skew pushes them into different buckets.
func (g Generator) ContentKey(m models.CanonicalMessage) string {
	return g.key(m, false)
}

func (g Generator) key(m models.CanonicalMessage, bucketed bool) string {
	switch m.Kind {
	case models.KindCall:
		var c models.CallContent
		if m.Call != nil {
			c = *m.Call
		}
		parts := []string{
			"call", c.Type, c.Channel, c.Action,
			strconv.FormatFloat(c.DurationSeconds, 'f', -1, 64),
		}
		if bucketed {
			parts = append(parts, bucket(m.CreatedAt, g.w.Call))
		}
		return strings.Join(parts, "|")
	case models.KindImage, models.KindAudio, models.KindFile:
		// URL is the authoritative identity once an upload completes.
		parts := []string{string(m.Kind), mediaURL(m), m.Sender}
		if bucketed {
			parts = append(parts, bucket(m.CreatedAt, g.w.Media))
		}
		return strings.Join(parts, "|")
	case models.KindProducts:
		// First product ID as identity proxy, no time bucket: product
		// messages are rare and must match across large skews.
		first := ""
		if len(m.Products) > 0 {
			first = m.Products[0].ID
		}
		return strings.Join([]string{"products", first, m.Sender}, "|")
	case models.KindSystem, models.KindRecommendedProducts:
		tag := m.System.Tag()
		if m.Kind == models.KindRecommendedProducts {
			tag = "recommended_products"
		}
		parts := []string{string(m.Kind), tag, m.Sender}
		if bucketed {
			parts = append(parts, bucket(m.CreatedAt, g.w.System))
		}
		return strings.Join(parts, "|")
	default:
		parts := []string{NormalizeContent(m.Body), m.Sender}
		if bucketed {
			parts = append(parts, bucket(m.CreatedAt, g.w.Text))
		}
		return strings.Join(parts, "|")
	}
}

func mediaURL(m models.CanonicalMessage) string {
	switch {
	case m.Image != nil:
		return m.Image.URL
	case m.Audio != nil:
		return m.Audio.URL
	case m.File != nil:
		return m.File.URL
	}
	return m.Body
}

func bucket(t time.Time, w time.Duration) string {
	if t.IsZero() {
		return "0"
	}
	ms := w.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return strconv.FormatInt(t.UnixMilli()/ms, 10)
}

// NormalizeContent absorbs whitespace and key-order differences by decoding
// and re-encoding JSON content; non-JSON content is trimmed raw text.
// Go's JSON encoder emits object keys sorted, so two encodings of the same
// object always normalize identically.
func NormalizeContent(content string) string {
	if content == "" {
		return ""
	}
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			if b, err := json.Marshal(v); err == nil {
				return string(b)
			}
		}
	}
	return trimmed
}
