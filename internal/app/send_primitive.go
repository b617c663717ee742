package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"fpchat/pkg/config"
	"fpchat/pkg/send"
)

// httpPrimitive delivers outgoing messages to the backend send endpoint.
// fasthttp keeps the hot send path allocation-light.
type httpPrimitive struct {
	url    string
	token  string
	client *fasthttp.Client
}

func newSendPrimitive(cfg *config.Config) send.Primitive {
	return &httpPrimitive{
		url:   cfg.Chat.SendURL,
		token: cfg.Chat.Token,
		client: &fasthttp.Client{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

type sendBody struct {
	To   string                 `json:"to"`
	Text string                 `json:"text,omitempty"`
	Exts map[string]interface{} `json:"customExts,omitempty"`
}

func (p *httpPrimitive) SendText(ctx context.Context, to, body string) error {
	return p.post(ctx, sendBody{To: to, Text: body})
}

func (p *httpPrimitive) SendCustom(ctx context.Context, to string, exts map[string]interface{}) error {
	return p.post(ctx, sendBody{To: to, Exts: exts})
}

func (p *httpPrimitive) post(ctx context.Context, body sendBody) error {
	if p.url == "" {
		return fmt.Errorf("no send endpoint configured")
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.SetRequestURI(p.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	req.SetBody(b)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	if err := p.client.DoDeadline(req, res, deadline); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if sc := res.StatusCode(); sc < 200 || sc > 299 {
		return fmt.Errorf("send request: status %d", sc)
	}
	return nil
}
