package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureStateDirs(t *testing.T) {
	root := t.TempDir()
	if err := EnsureStateDirs(root); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	d := Dirs()
	for _, dir := range []string{d.Store, d.Drafts, d.Retention, d.Tmp} {
		fi, err := os.Stat(dir)
		if err != nil || !fi.IsDir() {
			t.Fatalf("missing dir %s: %v", dir, err)
		}
	}
	if d.Store != filepath.Join(root, "store") {
		t.Fatalf("store path = %s", d.Store)
	}
}

func TestEnsureStateDirsRejectsSymlink(t *testing.T) {
	root := t.TempDir()
	target := t.TempDir()
	if err := os.Symlink(target, filepath.Join(root, "store")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := EnsureStateDirs(root); err == nil {
		t.Fatalf("symlinked store dir must be rejected")
	}
}

func TestEnsureStateDirsRejectsPermissiveMode(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "store")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(dir, 0o777); err != nil {
		t.Fatal(err)
	}
	if err := EnsureStateDirs(root); err == nil {
		t.Fatalf("group/other-writable dir must be rejected")
	}
}

func TestDraftRoundTrip(t *testing.T) {
	if err := EnsureStateDirs(t.TempDir()); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	type draft struct {
		Text string `json:"text"`
	}
	if err := SaveDraft("coach1", draft{Text: "unsent"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var got draft
	ok, err := LoadDraft("coach1", &got)
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if got.Text != "unsent" {
		t.Fatalf("draft = %+v", got)
	}

	if err := ClearDraft("coach1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ok, err := LoadDraft("coach1", &got); err != nil || ok {
		t.Fatalf("cleared draft must be gone: %v %v", ok, err)
	}
	// clearing twice is fine
	if err := ClearDraft("coach1"); err != nil {
		t.Fatalf("double clear: %v", err)
	}
}

func TestDraftFilenameSanitized(t *testing.T) {
	if err := EnsureStateDirs(t.TempDir()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := SaveDraft("../../etc/passwd", map[string]string{"text": "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(Dirs().Drafts)
	if err != nil || len(entries) != 1 {
		t.Fatalf("drafts dir: %v %d", err, len(entries))
	}
	if entries[0].Name() != "______etc_passwd.json" {
		t.Fatalf("unsafe conversation ID must flatten, got %q", entries[0].Name())
	}
}
