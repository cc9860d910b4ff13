package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process ObjectStore used by tests
type MemoryStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]*memoryObject
	uploads map[string]*memoryUpload
	nextID  int
	calls   map[string]int

	// FailPart, when set, is consulted before each part is stored
	FailPart func(number int) error
	// FailSetMetadata, when set, is returned by SetObjectMetadata
	FailSetMetadata error
}

type memoryObject struct {
	data     []byte
	metadata map[string]string
}

type memoryUpload struct {
	key      string
	metadata map[string]string
	parts    map[int][]byte
	etags    map[int]string
}

// NewMemoryStore creates an empty in-memory bucket
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]*memoryObject),
		uploads: make(map[string]*memoryUpload),
		calls:   make(map[string]int),
	}
}

func (m *MemoryStore) record(op string) {
	m.calls[op]++
}

// Calls returns how many times op was invoked
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of mutating and transfer calls made
func (m *MemoryStore) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for op, n := range m.calls {
		if op != "ListObjects" {
			total += n
		}
	}
	return total
}

// Seed stores an object directly
func (m *MemoryStore) Seed(key string, data []byte, metadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = &memoryObject{data: data, metadata: copyMap(metadata)}
}

// Object returns the stored bytes and metadata for key
func (m *MemoryStore) Object(key string) ([]byte, map[string]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, nil, false
	}
	return obj.data, copyMap(obj.metadata), true
}

// PendingUploads returns the number of unfinished multipart uploads
func (m *MemoryStore) PendingUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

// Bucket returns the bucket name
func (m *MemoryStore) Bucket() string {
	return m.bucket
}

// ListObjects returns all objects sorted by key
func (m *MemoryStore) ListObjects(ctx context.Context) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListObjects")

	objects := make([]ObjectInfo, 0, len(m.objects))
	for key, obj := range m.objects {
		objects = append(objects, ObjectInfo{Key: key, Size: int64(len(obj.data))})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// PutFile stores a local file
func (m *MemoryStore) PutFile(ctx context.Context, key, localPath, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", localPath, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("PutFile")
	m.objects[key] = &memoryObject{data: data, metadata: map[string]string{}}
	return nil
}

// DownloadFile writes a stored object to localPath
func (m *MemoryStore) DownloadFile(ctx context.Context, key, localPath string) error {
	m.mu.Lock()
	m.record("DownloadFile")
	obj, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("object %s not found", key)
	}
	return os.WriteFile(localPath, obj.data, 0644)
}

// GetObjectMetadata returns metadata with canonicalized header-style keys
func (m *MemoryStore) GetObjectMetadata(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetObjectMetadata")
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	canonical := make(map[string]string, len(obj.metadata))
	for k, v := range obj.metadata {
		canonical[strings.ToUpper(k[:1])+k[1:]] = v
	}
	return canonical, nil
}

// SetObjectMetadata replaces the metadata of an existing object
func (m *MemoryStore) SetObjectMetadata(ctx context.Context, key string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetObjectMetadata")
	if m.FailSetMetadata != nil {
		return m.FailSetMetadata
	}
	obj, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("object %s not found", key)
	}
	obj.metadata = copyMap(metadata)
	return nil
}

// CreateMultipartUpload starts an upload
func (m *MemoryStore) CreateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateMultipartUpload")
	m.nextID++
	id := fmt.Sprintf("upload-%d", m.nextID)
	m.uploads[id] = &memoryUpload{
		key:      key,
		metadata: copyMap(metadata),
		parts:    make(map[int][]byte),
		etags:    make(map[int]string),
	}
	return id, nil
}

// UploadPart stores one part
func (m *MemoryStore) UploadPart(ctx context.Context, key, uploadID string, number int, body io.ReadSeeker, size int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UploadPart")
	if m.FailPart != nil {
		if err := m.FailPart(number); err != nil {
			return "", err
		}
	}
	upload, ok := m.uploads[uploadID]
	if !ok || upload.key != key {
		return "", fmt.Errorf("no such upload %s", uploadID)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("part %d: read %d bytes, expected %d", number, len(data), size)
	}
	etag := fmt.Sprintf("\"etag-%d-%d\"", number, len(data))
	upload.parts[number] = data
	upload.etags[number] = etag
	return etag, nil
}

// CompleteMultipartUpload assembles the parts into an object
func (m *MemoryStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CompleteMultipartUpload")
	upload, ok := m.uploads[uploadID]
	if !ok {
		return fmt.Errorf("no such upload %s", uploadID)
	}

	var data []byte
	for i, part := range parts {
		if part.Number != i+1 {
			return fmt.Errorf("parts out of order at %d", part.Number)
		}
		if upload.etags[part.Number] != part.ETag {
			return fmt.Errorf("etag mismatch for part %d", part.Number)
		}
		data = append(data, upload.parts[part.Number]...)
	}
	m.objects[key] = &memoryObject{data: data, metadata: upload.metadata}
	delete(m.uploads, uploadID)
	return nil
}

// AbortMultipartUpload discards an upload
func (m *MemoryStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AbortMultipartUpload")
	delete(m.uploads, uploadID)
	return nil
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
