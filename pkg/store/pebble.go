package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"fpchat/pkg/models"
)

// Pebble-backed cache of merged timelines so a reselected conversation
// renders instantly while fresh pages are fetched.
var db *pebble.DB

var ready atomic.Bool

// Open opens (creating if necessary) the cache at path.
func Open(path string) error {
	d, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		slog.Error("store_open_failed", "error", err, "path", path)
		return err
	}
	db = d
	ready.Store(true)
	return nil
}

// Ready reports whether the cache has been opened.
func Ready() bool { return ready.Load() }

func Close() error {
	if db == nil {
		return nil
	}
	ready.Store(false)
	err := db.Close()
	db = nil
	return err
}

func timelinePrefix(convID string) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:", convID))
}

func timelineKey(convID string, ts int64, seq int) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:%020d-%06d", convID, ts, seq))
}

func metaKey(convID string) []byte {
	return []byte("convmeta:" + convID)
}

func touchKey(convID string) []byte {
	return []byte("convtouch:" + convID)
}

func systemKey(k string) []byte {
	return []byte("system:" + k)
}

// GetKey returns the value of a system key; empty string when absent.
func GetKey(k string) (string, error) {
	v, closer, err := db.Get(systemKey(k))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// SaveKey sets a system key.
func SaveKey(k string, v []byte) error {
	return db.Set(systemKey(k), v, pebble.Sync)
}

// DeleteKey removes a system key.
func DeleteKey(k string) error {
	return db.Delete(systemKey(k), pebble.Sync)
}

type convMeta struct {
	Conversation models.Conversation `json:"conversation"`
}

// SaveTimeline replaces the cached timeline for convID with msgs. The
// whole range is rewritten because a merge can rewrite records in place
// (a server row superseding a provisional one), so appending alone would
// leave stale entries behind.
func SaveTimeline(convID string, msgs []models.CanonicalMessage) error {
	if db == nil {
		return fmt.Errorf("store not open")
	}
	prefix := timelinePrefix(convID)
	b := db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
		return err
	}
	for i, m := range msgs {
		v, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if err := b.Set(timelineKey(convID, m.CreatedAt.UnixMilli(), i), v, nil); err != nil {
			return err
		}
	}
	stamp := []byte(fmt.Sprintf("%d", time.Now().UnixMilli()))
	if err := b.Set(touchKey(convID), stamp, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// LoadTimeline returns the cached timeline for convID in chronological
// order, or an empty slice when nothing is cached.
func LoadTimeline(convID string) ([]models.CanonicalMessage, error) {
	if db == nil {
		return nil, fmt.Errorf("store not open")
	}
	prefix := timelinePrefix(convID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := []models.CanonicalMessage{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.CanonicalMessage
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			slog.Warn("store_corrupt_record", "conversation", convID, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// SaveConversation upserts the conversation-list entry for c.
func SaveConversation(c models.Conversation) error {
	if db == nil {
		return fmt.Errorf("store not open")
	}
	v, err := json.Marshal(convMeta{Conversation: c})
	if err != nil {
		return err
	}
	return db.Set(metaKey(c.ID), v, pebble.Sync)
}

// ListConversations returns every cached conversation-list entry.
func ListConversations() ([]models.Conversation, error) {
	if db == nil {
		return nil, fmt.Errorf("store not open")
	}
	prefix := []byte("convmeta:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := []models.Conversation{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var cm convMeta
		if err := json.Unmarshal(iter.Value(), &cm); err != nil {
			continue
		}
		out = append(out, cm.Conversation)
	}
	return out, iter.Error()
}

// StaleConversations lists conversation IDs whose timelines were last
// written before cutoff. Used by the retention sweep.
func StaleConversations(cutoff time.Time) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("store not open")
	}
	prefix := []byte("convtouch:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := []string{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var ms int64
		if _, err := fmt.Sscanf(string(iter.Value()), "%d", &ms); err != nil {
			continue
		}
		if time.UnixMilli(ms).Before(cutoff) {
			out = append(out, string(bytes.TrimPrefix(iter.Key(), prefix)))
		}
	}
	return out, iter.Error()
}

// DropConversation removes the cached timeline and metadata for convID.
func DropConversation(convID string) error {
	if db == nil {
		return fmt.Errorf("store not open")
	}
	prefix := timelinePrefix(convID)
	b := db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
		return err
	}
	if err := b.Delete(metaKey(convID), nil); err != nil {
		return err
	}
	if err := b.Delete(touchKey(convID), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// upperBound returns the smallest key strictly greater than every key
// that starts with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
