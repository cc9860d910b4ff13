package tracking

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const expectedHeader = "sweep_id,meeting_id,platform,key,state,bytes,finished_at,duration_seconds,error\n"

func TestNewCSVTracker(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "ledger", "jobs.csv")

	tracker, err := NewCSVTracker(csvPath)
	if err != nil {
		t.Fatalf("NewCSVTracker failed: %v", err)
	}
	if tracker == nil {
		t.Fatal("Expected tracker to be non-nil")
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("Failed to read CSV file: %v", err)
	}
	if string(data) != expectedHeader {
		t.Errorf("Expected header %q, got %q", expectedHeader, string(data))
	}
}

func TestCSVTracker_Track(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "jobs.csv")

	tracker, err := NewCSVTracker(csvPath)
	if err != nil {
		t.Fatalf("NewCSVTracker failed: %v", err)
	}

	entry := Entry{
		SweepID:    "sweep-1",
		MeetingID:  "123",
		Platform:   "zoom",
		Key:        "opengauss/infra/mar/123/123.mp4",
		State:      "UPLOAD_FAILED",
		Bytes:      1048576,
		FinishedAt: time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC),
		Duration:   90 * time.Second,
		Error:      "unexpected acknowledgement, empty etag",
	}
	if err := tracker.Track(entry); err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("Failed to read CSV file: %v", err)
	}
	expected := expectedHeader +
		`sweep-1,123,zoom,opengauss/infra/mar/123/123.mp4,UPLOAD_FAILED,1048576,2024-01-15T15:00:00Z,90,"unexpected acknowledgement, empty etag"` + "\n"
	if string(data) != expected {
		t.Errorf("Expected content:\n%s\nGot:\n%s", expected, string(data))
	}
}

func TestCSVTracker_ExistingFileKeepsEntries(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "jobs.csv")

	first, err := NewCSVTracker(csvPath)
	if err != nil {
		t.Fatalf("NewCSVTracker failed: %v", err)
	}
	if err := first.Track(Entry{SweepID: "a", MeetingID: "1", State: "PERSISTED"}); err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	second, err := NewCSVTracker(csvPath)
	if err != nil {
		t.Fatalf("NewCSVTracker failed: %v", err)
	}
	if err := second.Track(Entry{SweepID: "b", MeetingID: "2", State: "UP_TO_DATE"}); err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	data, _ := os.ReadFile(csvPath)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header and two entries, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[1], "a,1,") || !strings.HasPrefix(lines[2], "b,2,") {
		t.Errorf("Unexpected lines %v", lines)
	}
}

func TestCSVTracker_ConcurrentTracking(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "jobs.csv")

	tracker, err := NewCSVTracker(csvPath)
	if err != nil {
		t.Fatalf("NewCSVTracker failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.Track(Entry{SweepID: "s", MeetingID: "m", State: "PERSISTED"}); err != nil {
				t.Errorf("Track failed: %v", err)
			}
		}()
	}
	wg.Wait()

	data, _ := os.ReadFile(csvPath)
	if lines := strings.Count(string(data), "\n"); lines != 11 {
		t.Errorf("Expected 11 lines, got %d", lines)
	}
}

func TestNopTracker(t *testing.T) {
	var tracker Tracker = NopTracker{}
	if err := tracker.Track(Entry{}); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}
