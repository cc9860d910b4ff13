package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a/b/123.mp4": "video/mp4",
		"a/b/123.PNG": "image/png",
		"index.html":  "text/html",
		"blob":        "application/octet-stream",
	}
	for key, expected := range tests {
		if got := ContentType(key); got != expected {
			t.Errorf("ContentType(%s) = %s, want %s", key, got, expected)
		}
	}
}

func TestEndpointHelpers(t *testing.T) {
	if got := endpointURL("obs.example.com", false); got != "https://obs.example.com" {
		t.Errorf("Unexpected secure endpoint %s", got)
	}
	if got := endpointURL("localhost:9000", true); got != "http://localhost:9000" {
		t.Errorf("Unexpected insecure endpoint %s", got)
	}
	if got := endpointURL("http://already", false); got != "http://already" {
		t.Errorf("Scheme should be preserved, got %s", got)
	}
	if got := endpointHost("https://obs.example.com"); got != "obs.example.com" {
		t.Errorf("Unexpected host %s", got)
	}
}

func TestCopySourceEscapesSegments(t *testing.T) {
	got := copySource("meetings", "opengauss/sig infra/mar/1/1.mp4")
	expected := "meetings/opengauss/sig%20infra/mar/1/1.mp4"
	if got != expected {
		t.Errorf("Expected %s, got %s", expected, got)
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Driver: "s3", Bucket: "b"})
	if !recording.IsConfigurationError(err) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
}

func TestNewMinioStore(t *testing.T) {
	store, err := New(context.Background(), config.StorageConfig{
		Driver:          "minio",
		Endpoint:        "https://localhost:9000",
		Bucket:          "meetings",
		AccessKeyID:     "ak",
		SecretAccessKey: "sk",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if store.Bucket() != "meetings" {
		t.Errorf("Expected bucket meetings, got %s", store.Bucket())
	}
}

func TestMemoryStoreMultipart(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("meetings")

	id, err := store.CreateMultipartUpload(ctx, "k.mp4", "video/mp4", map[string]string{"meeting_id": "1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	e1, err := store.UploadPart(ctx, "k.mp4", id, 1, bytes.NewReader([]byte("abc")), 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	e2, err := store.UploadPart(ctx, "k.mp4", id, 2, bytes.NewReader([]byte("de")), 2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := store.CompleteMultipartUpload(ctx, "k.mp4", id, []CompletedPart{{Number: 1, ETag: e1}, {Number: 2, ETag: e2}}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	data, metadata, ok := store.Object("k.mp4")
	if !ok || string(data) != "abcde" || metadata["meeting_id"] != "1" {
		t.Errorf("Unexpected object %q %v %v", data, metadata, ok)
	}
	if store.PendingUploads() != 0 {
		t.Error("Expected upload to be closed")
	}

	local := filepath.Join(t.TempDir(), "out.mp4")
	if err := store.DownloadFile(ctx, "k.mp4", local); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got, _ := os.ReadFile(local); string(got) != "abcde" {
		t.Errorf("Unexpected download %q", got)
	}

	raw, err := store.GetObjectMetadata(ctx, "k.mp4")
	if err != nil || raw["Meeting_id"] != "1" {
		t.Errorf("Expected canonicalized metadata key, got %v (%v)", raw, err)
	}
}
