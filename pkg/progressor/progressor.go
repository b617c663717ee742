package progressor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fpchat/pkg/classify"
	"fpchat/pkg/logger"
	"fpchat/pkg/models"
	"fpchat/pkg/store"
)

const (
	systemVersionKey    = "version"
	systemInProgressKey = "migration_in_progress"
)

// Sync performs upgrade work between versions. Edit in-place for migration logic.
func Sync(ctx context.Context, from, to string) error {
	logger.Info("progressor_sync_start", "from", from, "to", to)

	// Migration: rebuild conversation previews and timestamps from cached
	// timelines. Older caches stored previews computed before hidden-kind
	// filtering, so derived metadata can be stale. Idempotent and safe to
	// run multiple times.
	convs, err := store.ListConversations()
	if err != nil {
		logger.Error("progressor_list_conversations_failed", "error", err)
		return err
	}
	for _, c := range convs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgs, err := store.LoadTimeline(c.ID)
		if err != nil {
			logger.Error("progressor_load_timeline_failed", "conversation", c.ID, "error", err)
			continue
		}
		last, ok := lastVisible(msgs)
		if !ok {
			continue
		}
		c.LastMessage = classify.MessagePreview(last)
		c.LastMessageFrom = last.Sender
		if last.CreatedAt.After(c.Timestamp) {
			c.Timestamp = last.CreatedAt
		}
		if err := store.SaveConversation(c); err != nil {
			logger.Error("progressor_save_conversation_failed", "conversation", c.ID, "error", err)
			continue
		}
		logger.Info("progressor_preview_rebuilt", "conversation", c.ID)
	}

	logger.Info("progressor_sync_done", "from", from, "to", to)
	return nil
}

func lastVisible(msgs []models.CanonicalMessage) (models.CanonicalMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind != models.KindHidden {
			return msgs[i], true
		}
	}
	return models.CanonicalMessage{}, false
}

// Run checks for a version change and runs Sync if needed.
// Returns (invoked, error): invoked is true if Sync ran.
func Run(ctx context.Context, newVersion string) (bool, error) {
	stored, err := store.GetKey(systemVersionKey)
	if err != nil {
		logger.Error("progressor_read_version_failed", "error", err)
	}
	logger.Info("progressor_version_check", "stored", stored, "running", newVersion)
	if stored == newVersion {
		logger.Info("progressor_noop", "version", newVersion)
		return false, nil
	}

	marker := map[string]string{
		"from":       stored,
		"to":         newVersion,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}
	mb, _ := json.Marshal(marker)
	if err := store.SaveKey(systemInProgressKey, mb); err != nil {
		logger.Error("progressor_write_inprogress_failed", "error", err)
		return true, fmt.Errorf("failed to write in-progress marker: %w", err)
	}

	logger.Info("progressor_start_sync", "from", stored, "to", newVersion)
	if err := Sync(ctx, stored, newVersion); err != nil {
		logger.Error("progressor_sync_failed", "from", stored, "to", newVersion, "error", err)
		return true, err
	}

	if err := store.SaveKey(systemVersionKey, []byte(newVersion)); err != nil {
		logger.Error("progressor_persist_version_failed", "version", newVersion, "error", err)
		return true, fmt.Errorf("failed to persist new version: %w", err)
	}
	if err := store.DeleteKey(systemInProgressKey); err != nil {
		logger.Error("progressor_delete_inprogress_failed", "error", err)
	}

	logger.Info("progressor_version_persisted", "version", newVersion)
	return true, nil
}
