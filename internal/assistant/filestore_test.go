package assistant

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiskFileStore_SaveAndSearch(t *testing.T) {
	dir := t.TempDir()
	store := NewDiskFileStore(dir, "/files")
	ctx := context.Background()
	meta := FileMeta{AssistantID: "asst-1", ThreadID: "thread-1", Name: "report.csv"}

	url, err := store.Save(ctx, "report.csv", []byte("a,b"), meta)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !strings.HasPrefix(url, "/files/") || !strings.HasSuffix(url, "-report.csv") {
		t.Errorf("url = %q", url)
	}

	data, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, "/files/")))
	if err != nil {
		t.Fatalf("stored file unreadable: %v", err)
	}
	if string(data) != "a,b" {
		t.Errorf("stored data = %q", data)
	}

	found, err := store.Search(ctx, meta)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if found != url {
		t.Errorf("Search() = %q, want %q", found, url)
	}

	// A different thread does not see the file.
	other := meta
	other.ThreadID = "thread-2"
	found, err = store.Search(ctx, other)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if found != "" {
		t.Errorf("Search() = %q, want no match across threads", found)
	}
}

func TestDiskFileStore_SearchEmptyDir(t *testing.T) {
	store := NewDiskFileStore(filepath.Join(t.TempDir(), "missing"), "/files")

	found, err := store.Search(context.Background(), FileMeta{Name: "x"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if found != "" {
		t.Errorf("Search() = %q, want empty", found)
	}
}

func TestDiskFileStore_UniqueNames(t *testing.T) {
	store := NewDiskFileStore(t.TempDir(), "/files")
	ctx := context.Background()

	first, err := store.Save(ctx, "same.txt", []byte("one"), FileMeta{})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	second, err := store.Save(ctx, "same.txt", []byte("two"), FileMeta{})
	if err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	if first == second {
		t.Errorf("two saves produced the same url %q", first)
	}
}
