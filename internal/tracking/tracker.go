// Package tracking appends job outcomes to a CSV ledger
package tracking

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var header = []string{"sweep_id", "meeting_id", "platform", "key", "state", "bytes", "finished_at", "duration_seconds", "error"}

// Entry represents one job or publish outcome
type Entry struct {
	SweepID    string
	MeetingID  string
	Platform   string
	Key        string
	State      string
	Bytes      int64
	FinishedAt time.Time
	Duration   time.Duration
	Error      string
}

// Tracker records outcomes
type Tracker interface {
	Track(entry Entry) error
}

// CSVTracker appends entries to a CSV file shared by every sweep
type CSVTracker struct {
	filePath string
	mu       sync.Mutex
}

// NewCSVTracker creates a tracker, writing the header if the file doesn't exist
func NewCSVTracker(filePath string) (*CSVTracker, error) {
	tracker := &CSVTracker{
		filePath: filePath,
	}

	_, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := tracker.writeHeader(); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to check file: %w", err)
	}

	return tracker, nil
}

// Track appends an entry
func (t *CSVTracker) Track(entry Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.OpenFile(t.filePath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file for append: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	record := []string{
		entry.SweepID,
		entry.MeetingID,
		entry.Platform,
		entry.Key,
		entry.State,
		strconv.FormatInt(entry.Bytes, 10),
		entry.FinishedAt.UTC().Format(time.RFC3339),
		strconv.FormatInt(int64(entry.Duration.Seconds()), 10),
		entry.Error,
	}
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	return writer.Error()
}

func (t *CSVTracker) writeHeader() error {
	file, err := os.Create(t.filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return writer.Error()
}

// NopTracker discards entries
type NopTracker struct{}

// Track does nothing
func (NopTracker) Track(Entry) error { return nil }
