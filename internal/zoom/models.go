package zoom

import (
	"fmt"
	"time"
)

// RecordingFile represents a single recording file within a meeting recording
type RecordingFile struct {
	ID             string    `json:"id"`
	MeetingID      string    `json:"meeting_id"`
	RecordingStart time.Time `json:"recording_start"`
	RecordingEnd   time.Time `json:"recording_end"`
	FileType       string    `json:"file_type"`
	FileExtension  string    `json:"file_extension,omitempty"`
	FileSize       int64     `json:"file_size"`
	DownloadURL    string    `json:"download_url"`
	Status         string    `json:"status"`
	RecordingType  string    `json:"recording_type,omitempty"`
}

// Recording represents a meeting with its recording files
type Recording struct {
	UUID           string          `json:"uuid"`
	ID             int64           `json:"id"`
	HostID         string          `json:"host_id"`
	Topic          string          `json:"topic"`
	StartTime      time.Time       `json:"start_time"`
	Duration       int             `json:"duration"`
	TotalSize      int64           `json:"total_size"`
	RecordingCount int             `json:"recording_count"`
	RecordingFiles []RecordingFile `json:"recording_files"`
}

// ListRecordingsResponse represents one page of GET /users/{id}/recordings
type ListRecordingsResponse struct {
	From          string      `json:"from"`
	To            string      `json:"to"`
	PageSize      int         `json:"page_size"`
	TotalRecords  int         `json:"total_records"`
	NextPageToken string      `json:"next_page_token,omitempty"`
	Meetings      []Recording `json:"meetings"`
}

// Participant represents one attendee entry of a past meeting
type Participant struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Name      string    `json:"name"`
	UserEmail string    `json:"user_email,omitempty"`
	JoinTime  time.Time `json:"join_time"`
	LeaveTime time.Time `json:"leave_time"`
	Duration  int       `json:"duration"`
}

// ParticipantsResponse represents one page of GET /past_meetings/{id}/participants
type ParticipantsResponse struct {
	PageCount     int           `json:"page_count"`
	PageSize      int           `json:"page_size"`
	TotalRecords  int           `json:"total_records"`
	NextPageToken string        `json:"next_page_token,omitempty"`
	Participants  []Participant `json:"participants"`
}

// APIError represents a Zoom API error body
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoom API error %d: %s", e.Code, e.Message)
}
