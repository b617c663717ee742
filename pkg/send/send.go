// Package send builds outgoing payloads and drives the transport send
// primitive with a per-conversation single-flight guard. A failed send hands
// the draft back to the caller so the input box can be restored.
package send

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"log/slog"

	"github.com/google/uuid"

	"fpchat/pkg/telemetry"
)

// ErrSendInFlight is returned while a previous send for the same
// conversation has not settled; rapid repeated submits become no-ops.
var ErrSendInFlight = errors.New("send already in flight for conversation")

// Primitive is the transport's send operation (external collaborator).
type Primitive interface {
	SendText(ctx context.Context, to, body string) error
	SendCustom(ctx context.Context, to string, exts map[string]interface{}) error
}

// Draft is what the user composed: plain text, or a structured payload for
// attachments, calls and system notices.
type Draft struct {
	Text    string                 `json:"text,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Raw returns the draft's wire representation, which also seeds the
// optimistic echo record.
func (d Draft) Raw() string {
	if d.Payload != nil {
		if exts := BuildCustomExts(d.Payload); exts != nil {
			b, err := json.Marshal(exts)
			if err == nil {
				return string(b)
			}
		}
	}
	return d.Text
}

// guard is the per-conversation single-flight gate; satisfied by
// timeline.Session.
type guard interface {
	TryBeginSend() bool
	EndSend()
}

// Sender sends drafts over the primitive.
type Sender struct {
	primitive Primitive
}

func NewSender(p Primitive) *Sender {
	return &Sender{primitive: p}
}

// Send delivers a draft to a peer. On failure the returned Draft is the
// caller's to restore; on success it is the zero Draft.
func (s *Sender) Send(ctx context.Context, g guard, to string, d Draft) (Draft, error) {
	if !g.TryBeginSend() {
		telemetry.Sends.WithLabelValues("in_flight").Inc()
		return d, ErrSendInFlight
	}
	defer g.EndSend()

	reqID := uuid.NewString()
	var err error
	if d.Payload != nil {
		exts := BuildCustomExts(d.Payload)
		if exts == nil {
			return d, fmt.Errorf("payload missing type")
		}
		err = s.primitive.SendCustom(ctx, to, exts)
	} else {
		err = s.primitive.SendText(ctx, to, d.Text)
	}
	if err != nil {
		telemetry.Sends.WithLabelValues("failed").Inc()
		slog.Warn("send_failed", "request", reqID, "to", to, "error", err)
		return d, fmt.Errorf("send: %w", err)
	}
	telemetry.Sends.WithLabelValues("ok").Inc()
	slog.Info("send_ok", "request", reqID, "to", to, "custom", d.Payload != nil)
	return Draft{}, nil
}
