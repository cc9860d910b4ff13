// Package recording defines the domain types shared by the recording ingestion pipeline
package recording

import (
	"context"
	"time"
)

// Platform identifies the conferencing platform a meeting was scheduled on
type Platform string

const (
	PlatformZoom   Platform = "zoom"
	PlatformWeLink Platform = "welink"
)

// File types reported by the platforms
const (
	FileTypeMP4 = "MP4"
	FileTypeHD  = "Hd"
)

// Recording file statuses
const (
	StatusCompleted = "completed"
	StatusRecording = "processing"
)

// Window is the time range in which a recording is expected
type Window struct {
	Start time.Time
	End   time.Time
	// MeetingID, when set, lets an adapter skip other meetings of the host
	MeetingID string
}

// Contains reports whether t lies in the window, bounds included
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Overlaps reports whether [start, end] intersects the window
func (w Window) Overlaps(start, end time.Time) bool {
	return !end.Before(w.Start) && !start.After(w.End)
}

// Job is one unit of dispatcher work; it is never persisted
type Job struct {
	MeetingID string
	Platform  Platform
	HostID    string
	Window    Window
}

// DownloadHandle locates the binary for a candidate
type DownloadHandle struct {
	URL string
	// Token is sent verbatim in the Authorization header when set
	Token string
}

// Candidate is a recording asset reported by a platform adapter
type Candidate struct {
	ExternalID string
	MeetingID  string
	// Part is 0 for single recordings and 1..N for ordered multi-part recordings
	Part      int
	StartTime time.Time
	EndTime   time.Time
	// SizeBytes is <= 0 when the platform does not report a size
	SizeBytes int64
	FileType  string
	Status    string
	Handle    DownloadHandle
}

// SizeKnown reports whether the platform supplied a size
func (c Candidate) SizeKnown() bool {
	return c.SizeBytes > 0
}

// Participant is an attendee of a past meeting
type Participant struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Email     string    `json:"user_email,omitempty"`
	JoinTime  time.Time `json:"join_time,omitempty"`
	LeaveTime time.Time `json:"leave_time,omitempty"`
	Duration  int       `json:"duration,omitempty"`
}

// Adapter provides uniform access to a conferencing platform
type Adapter interface {
	Platform() Platform
	ListRecordings(ctx context.Context, hostID string, window Window) ([]Candidate, error)
	GetParticipants(ctx context.Context, meetingID string) ([]Participant, error)
	ResolveDownload(ctx context.Context, candidate Candidate) (DownloadHandle, error)
}
