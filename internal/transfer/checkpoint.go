package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nicliuqi/test-opengauss-meetings/internal/storage"
)

// Checkpoint is the persisted progress of one multipart upload
type Checkpoint struct {
	Bucket    string                  `json:"bucket"`
	Key       string                  `json:"key"`
	UploadID  string                  `json:"upload_id"`
	FileSize  int64                   `json:"file_size"`
	SHA256    string                  `json:"sha256"`
	PartSize  int64                   `json:"part_size"`
	Parts     []storage.CompletedPart `json:"parts"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Matches reports whether the checkpoint still describes the local file.
// Content is compared by digest so a file downloaded again by a later sweep
// still resumes.
func (c *Checkpoint) Matches(size int64, digest string, partSize int64) bool {
	return c.UploadID != "" &&
		c.FileSize == size &&
		c.SHA256 != "" && c.SHA256 == digest &&
		c.PartSize == partSize
}

// FileDigest returns the hex sha256 of r
func FileDigest(r io.ReaderAt, size int64) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(r, 0, size)); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Completed returns the set of part numbers already uploaded
func (c *Checkpoint) Completed() map[int]storage.CompletedPart {
	done := make(map[int]storage.CompletedPart, len(c.Parts))
	for _, part := range c.Parts {
		done[part.Number] = part
	}
	return done
}

// CheckpointStore persists checkpoints as JSON files in a directory
type CheckpointStore struct {
	dir   string
	mutex sync.Mutex
}

// NewCheckpointStore creates the checkpoint directory if needed
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

// Path returns the checkpoint file for bucket/key
func (s *CheckpointStore) Path(bucket, key string) string {
	sum := sha256.Sum256([]byte(bucket + "/" + key))
	return filepath.Join(s.dir, fmt.Sprintf("%x.json", sum))
}

// Load returns the checkpoint for bucket/key, or nil when none exists.
// A corrupted file is treated as absent.
func (s *CheckpointStore) Load(bucket, key string) (*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.Path(bucket, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, nil
	}
	return &cp, nil
}

// Save writes the checkpoint through a temporary file and rename
func (s *CheckpointStore) Save(cp *Checkpoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sort.Slice(cp.Parts, func(i, j int) bool { return cp.Parts[i].Number < cp.Parts[j].Number })
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	path := s.Path(cp.Bucket, cp.Key)
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary checkpoint: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}
	return nil
}

// Remove deletes the checkpoint for bucket/key
func (s *CheckpointStore) Remove(bucket, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.Remove(s.Path(bucket, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}
