package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository used by tests and dry runs
type MemoryRepository struct {
	mu       sync.Mutex
	meetings map[string]Meeting
	videos   map[string]Video
	records  map[string]Record

	// FailWrites makes every write return this error when set
	FailWrites error
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		meetings: make(map[string]Meeting),
		videos:   make(map[string]Video),
		records:  make(map[string]Record),
	}
}

func recordKey(meetingID, platform string) string {
	return meetingID + "/" + platform
}

// AddMeeting stores a meeting row
func (m *MemoryRepository) AddMeeting(meeting Meeting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meetings[meeting.MID] = meeting
}

// AddVideo stores a video row, flagging the meeting for recording
func (m *MemoryRepository) AddVideo(video Video) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[video.MID] = video
}

// Record returns the (mid, platform) row
func (m *MemoryRepository) Record(meetingID, platform string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(meetingID, platform)]
	return rec, ok
}

// RecordCount returns the number of record rows
func (m *MemoryRepository) RecordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// EligibleMeetingIDs returns flagged, non-deleted meetings dated in (now-lookbackDays, now]
func (m *MemoryRepository) EligibleMeetingIDs(ctx context.Context, now time.Time, lookbackDays int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	after, until := EligibleWindow(now, lookbackDays)
	var ids []string
	for mid, meeting := range m.meetings {
		if _, flagged := m.videos[mid]; !flagged {
			continue
		}
		if meeting.IsDelete != 0 || meeting.Date <= after || meeting.Date > until {
			continue
		}
		ids = append(ids, mid)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetMeeting returns the meeting row for meetingID
func (m *MemoryRepository) GetMeeting(ctx context.Context, meetingID string) (*Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meeting, ok := m.meetings[meetingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &meeting, nil
}

// GetVideo returns the video row for meetingID
func (m *MemoryRepository) GetVideo(ctx context.Context, meetingID string) (*Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	video, ok := m.videos[meetingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &video, nil
}

// UpsertVideo writes the recording facts, creating the row from the meeting when missing
func (m *MemoryRepository) UpsertVideo(ctx context.Context, update VideoUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}

	video, ok := m.videos[update.MeetingID]
	if !ok {
		meeting, found := m.meetings[update.MeetingID]
		if !found {
			return fmt.Errorf("failed to load meeting for new video row: %w", ErrNotFound)
		}
		m.videos[update.MeetingID] = newVideo(&meeting, update)
		return nil
	}
	video.Start = update.Start
	video.End = update.End
	video.TotalSize = update.TotalSize
	video.Attenders = update.Attenders
	video.DownloadURL = update.DownloadURL
	m.videos[update.MeetingID] = video
	return nil
}

// UpsertRecord creates or updates the (mid, platform) row in place
func (m *MemoryRepository) UpsertRecord(ctx context.Context, meetingID, platform, url, thumbnail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	key := recordKey(meetingID, platform)
	rec := m.records[key]
	rec.MID, rec.Platform, rec.URL, rec.Thumbnail = meetingID, platform, url, thumbnail
	m.records[key] = rec
	return nil
}

// EnsureRecord creates an empty (mid, platform) row unless one exists
func (m *MemoryRepository) EnsureRecord(ctx context.Context, meetingID, platform string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	key := recordKey(meetingID, platform)
	if _, ok := m.records[key]; !ok {
		m.records[key] = Record{MID: meetingID, Platform: platform}
	}
	return nil
}
