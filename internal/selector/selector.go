// Package selector picks the canonical recording asset(s) for a meeting
package selector

import (
	"sort"
	"strings"

	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

// DefaultMinSize is the smallest recording worth storing (10 MiB)
const DefaultMinSize int64 = 10 * 1024 * 1024

// Outcome classifies a selection
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeInProgress
	OutcomeTooSmall
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeInProgress:
		return "in_progress"
	case OutcomeTooSmall:
		return "too_small"
	default:
		return "unknown"
	}
}

// State maps the outcome onto the job state machine
func (o Outcome) State() recording.State {
	switch o {
	case OutcomeInProgress:
		return recording.StateInProgress
	case OutcomeTooSmall:
		return recording.StateTooSmall
	default:
		return recording.StateFound
	}
}

// Selection is the result of picking candidates for one meeting
type Selection struct {
	Outcome Outcome
	// Parts holds one candidate, or the ordered parts of a multi-part recording
	Parts []recording.Candidate
}

// TotalSize sums the reported part sizes; it returns -1 if any size is unknown
func (s Selection) TotalSize() int64 {
	var total int64
	for _, part := range s.Parts {
		if !part.SizeKnown() {
			return -1
		}
		total += part.SizeBytes
	}
	return total
}

// Selector filters and ranks recording candidates
type Selector struct {
	minSize int64
}

// New creates a Selector; minSize <= 0 uses DefaultMinSize
func New(minSize int64) *Selector {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	return &Selector{minSize: minSize}
}

// MinSize returns the configured threshold
func (s *Selector) MinSize() int64 {
	return s.minSize
}

// Select picks the canonical candidate(s) for meetingID
func (s *Selector) Select(meetingID string, candidates []recording.Candidate) Selection {
	finished := make([]recording.Candidate, 0, len(candidates))
	multiPart := false
	for _, c := range candidates {
		if c.MeetingID != meetingID || !isVideo(c) || !isFinished(c) {
			continue
		}
		if c.Part > 0 {
			multiPart = true
		}
		finished = append(finished, c)
	}

	if len(finished) == 0 {
		return Selection{Outcome: OutcomeInProgress}
	}

	var selection Selection
	if multiPart {
		parts := make([]recording.Candidate, 0, len(finished))
		for _, c := range finished {
			if c.Part > 0 {
				parts = append(parts, c)
			}
		}
		sort.SliceStable(parts, func(i, j int) bool { return parts[i].Part < parts[j].Part })
		selection = Selection{Parts: parts}
	} else {
		selection = Selection{Parts: []recording.Candidate{largest(finished)}}
	}

	if total := selection.TotalSize(); total >= 0 && total < s.minSize {
		selection.Outcome = OutcomeTooSmall
		return selection
	}
	selection.Outcome = OutcomeFound
	return selection
}

// CheckSize classifies a size learned after download
func (s *Selector) CheckSize(size int64) Outcome {
	if size < s.minSize {
		return OutcomeTooSmall
	}
	return OutcomeFound
}

// largest returns the maximum-size candidate; ties keep the first encountered
func largest(candidates []recording.Candidate) recording.Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.SizeBytes > best.SizeBytes {
			best = c
		}
	}
	return best
}

func isVideo(c recording.Candidate) bool {
	switch {
	case strings.EqualFold(c.FileType, recording.FileTypeMP4):
		return true
	case c.FileType == recording.FileTypeHD:
		return true
	}
	return false
}

func isFinished(c recording.Candidate) bool {
	return c.Status == "" || strings.EqualFold(c.Status, recording.StatusCompleted)
}
