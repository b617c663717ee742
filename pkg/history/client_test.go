package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fpchat/pkg/models"
)

func TestFetchPage(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"conversationId": q.Get("conversationId"),
			"limit":          q.Get("limit"),
			"cursor":         q.Get("cursor"),
		}
		_ = json.NewEncoder(w).Encode(models.HistoryPage{
			Messages: []models.HistoryRow{
				{MessageID: "m1", FromUser: "coach1", Body: json.RawMessage(`"hello"`), CreatedAtMs: 1000},
			},
			NextCursor: "cur-2",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 25, 0, 0)
	page, err := c.FetchPage(context.Background(), "coach1", "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotQuery["conversationId"] != "user_coach1" {
		t.Fatalf("conversation must be namespaced, got %q", gotQuery["conversationId"])
	}
	if gotQuery["limit"] != "25" {
		t.Fatalf("limit = %q", gotQuery["limit"])
	}
	if gotQuery["cursor"] != "" {
		t.Fatalf("first page must omit the cursor, got %q", gotQuery["cursor"])
	}
	if len(page.Messages) != 1 || page.Messages[0].MessageID != "m1" {
		t.Fatalf("page: %+v", page)
	}
	if page.NextCursor != "cur-2" {
		t.Fatalf("next cursor = %q", page.NextCursor)
	}

	// older page carries the cursor; an already-namespaced ID stays as-is
	if _, err := c.FetchPage(context.Background(), "user_coach1", "cur-2"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotQuery["conversationId"] != "user_coach1" || gotQuery["cursor"] != "cur-2" {
		t.Fatalf("second fetch query: %+v", gotQuery)
	}
}

func TestFetchPageRequiresConversation(t *testing.T) {
	c := NewClient("http://unused", 0, 0, 0)
	if _, err := c.FetchPage(context.Background(), "", ""); err == nil {
		t.Fatalf("empty conversation must error")
	}
}

func TestFetchPageStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, 0, 0)
	if _, err := c.FetchPage(context.Background(), "x", ""); err == nil {
		t.Fatalf("non-200 must error")
	}
}

func TestFetchPageDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{broken"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, 0, 0)
	if _, err := c.FetchPage(context.Background(), "x", ""); err == nil {
		t.Fatalf("bad body must error")
	}
}

func TestFetchPageRateLimitCancel(t *testing.T) {
	c := NewClient("http://unused", 0, 0.0001, 1)
	ctx, cancel := context.WithCancel(context.Background())
	// burn the burst token, then cancel while waiting for the next
	_, _ = c.FetchPage(ctx, "x", "")
	cancel()
	if _, err := c.FetchPage(ctx, "x", ""); err == nil {
		t.Fatalf("cancelled wait must error")
	}
}
