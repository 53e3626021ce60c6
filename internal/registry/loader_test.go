package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("{}"), 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
}

func TestLoadDir(t *testing.T) {
	root := t.TempDir()
	full := []string{"config.json", "generation_config.json", "tokenizer_config.json", "processor.yaml"}
	touch(t, filepath.Join(root, "org", "full"), full...)
	touch(t, filepath.Join(root, "org", "partial"), "config.json")
	touch(t, filepath.Join(root, "flat"), full...)
	touch(t, filepath.Join(root, "notes"), "README.md")
	// Nested below an artifact: not scanned.
	touch(t, filepath.Join(root, "flat", "sub"), full...)
	// Beyond the depth limit.
	touch(t, filepath.Join(root, "a", "b", "c", "d"), full...)

	got, err := LoadDir(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []Artifact{
		{ID: "flat", Path: filepath.Join(root, "flat"), Complete: true},
		{ID: "org/full", Path: filepath.Join(root, "org", "full"), Complete: true},
		{ID: "org/partial", Path: filepath.Join(root, "org", "partial"), Complete: false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("artifacts (-want +got):\n%s", diff)
	}

	if a, ok := Find(got, "/org/full/"); !ok || !a.Complete {
		t.Fatalf("Find org/full = %+v %v", a, ok)
	}
	if _, ok := Find(got, "org/missing"); ok {
		t.Fatalf("found missing artifact")
	}
}

func TestLoadDir_Missing(t *testing.T) {
	got, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil || got != nil {
		t.Fatalf("missing dir = %v, %v", got, err)
	}
}
