package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Failed sends leave the composed draft behind so the input box can be
// restored after a restart. One JSON file per conversation.

func draftFile(convID string) string {
	d := Dirs()
	if d.Drafts == "" {
		return ""
	}
	// conversation IDs are caller-controlled; keep the filename flat
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, convID)
	return filepath.Join(d.Drafts, name+".json")
}

// SaveDraft persists a draft for a conversation.
func SaveDraft(convID string, draft interface{}) error {
	fn := draftFile(convID)
	if fn == "" {
		return fmt.Errorf("state dirs not initialized")
	}
	b, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, fn)
}

// LoadDraft reads a persisted draft into out; ok is false when none exists.
func LoadDraft(convID string, out interface{}) (bool, error) {
	fn := draftFile(convID)
	if fn == "" {
		return false, fmt.Errorf("state dirs not initialized")
	}
	b, err := os.ReadFile(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, err
	}
	return true, nil
}

// ClearDraft removes any persisted draft for a conversation.
func ClearDraft(convID string) error {
	fn := draftFile(convID)
	if fn == "" {
		return nil
	}
	err := os.Remove(fn)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
