package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DiskFileStore writes extracted files to a local directory served under a
// public base URL. Names are prefixed with a fresh id so two runs producing
// the same sandbox file name cannot overwrite each other. Each file carries
// a JSON sidecar with the run metadata, so later runs on the same thread can
// find it again.
type DiskFileStore struct {
	Dir     string
	BaseURL string
}

// NewDiskFileStore creates a DiskFileStore rooted at dir.
func NewDiskFileStore(dir, baseURL string) *DiskFileStore {
	return &DiskFileStore{Dir: dir, BaseURL: baseURL}
}

const metaSuffix = ".meta.json"

type fileMetaRecord struct {
	Name        string `json:"name"`
	AssistantID string `json:"assistantId"`
	ThreadID    string `json:"threadId"`
	URL         string `json:"url"`
}

// Save writes data under a unique name and returns its public URL.
func (s *DiskFileStore) Save(_ context.Context, name string, data []byte, meta FileMeta) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create file store directory: %w", err)
	}
	unique := uuid.New().String() + "-" + filepath.Base(name)
	if err := os.WriteFile(filepath.Join(s.Dir, unique), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	url := s.BaseURL + "/" + unique

	record := fileMetaRecord{
		Name:        filepath.Base(name),
		AssistantID: meta.AssistantID,
		ThreadID:    meta.ThreadID,
		URL:         url,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode file metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, unique+metaSuffix), encoded, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file metadata: %w", err)
	}
	return url, nil
}

// Search scans the stored metadata for a file matching the assistant,
// thread and sandbox name. Returns "" when nothing matches.
func (s *DiskFileStore) Search(_ context.Context, meta FileMeta) (string, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read file store directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		encoded, err := os.ReadFile(filepath.Join(s.Dir, entry.Name()))
		if err != nil {
			continue
		}
		var record fileMetaRecord
		if err := json.Unmarshal(encoded, &record); err != nil {
			continue
		}
		if record.AssistantID == meta.AssistantID &&
			record.ThreadID == meta.ThreadID &&
			record.Name == meta.Name {
			return record.URL, nil
		}
	}
	return "", nil
}
