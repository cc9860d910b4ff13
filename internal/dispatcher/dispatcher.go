// Package dispatcher selects eligible meetings and runs their jobs on a bounded pool
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
	"github.com/nicliuqi/test-opengauss-meetings/internal/logging"
	"github.com/nicliuqi/test-opengauss-meetings/internal/pipeline"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
	"github.com/nicliuqi/test-opengauss-meetings/internal/store"
	"github.com/nicliuqi/test-opengauss-meetings/internal/tracking"
	"github.com/nicliuqi/test-opengauss-meetings/internal/welink"
)

// slotLayout parses the meeting row date and times
const slotLayout = "2006-01-02 15:04"

// JobProcessor runs one job
type JobProcessor interface {
	Process(ctx context.Context, job recording.Job) (*pipeline.JobResult, error)
}

// Config holds dispatcher settings
type Config struct {
	Concurrency  int
	JobTimeout   time.Duration
	LookbackDays int
	// Storage and Database are checked before any job starts
	Storage  config.StorageConfig
	Database config.DatabaseConfig
}

// Outcome is the result of one job
type Outcome struct {
	MeetingID string
	Platform  recording.Platform
	State     recording.State
	Parts     []pipeline.PartResult
	Duration  time.Duration
	Err       error
}

// Report summarizes a sweep
type Report struct {
	SweepID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
	Counts     map[recording.State]int
}

// Failed returns the number of jobs that ended in error
func (r *Report) Failed() int {
	failed := 0
	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			failed++
		}
	}
	return failed
}

// Summary renders the state counts, e.g. "PERSISTED=2 UP_TO_DATE=1"
func (r *Report) Summary() string {
	parts := make([]string, 0, len(r.Counts))
	for state, n := range r.Counts {
		parts = append(parts, fmt.Sprintf("%s=%d", state, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// Dispatcher runs sweeps
type Dispatcher struct {
	repo      store.Repository
	processor JobProcessor
	tracker   tracking.Tracker
	config    Config
	now       func() time.Time
	logger    logging.Logger
}

// New creates a Dispatcher. A nil tracker discards outcomes.
func New(repo store.Repository, processor JobProcessor, tracker tracking.Tracker, cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if tracker == nil {
		tracker = tracking.NopTracker{}
	}
	return &Dispatcher{
		repo:      repo,
		processor: processor,
		tracker:   tracker,
		config:    cfg,
		now:       time.Now,
		logger:    logging.GetDefaultLogger(),
	}
}

// Preflight returns a ConfigurationError when storage or database settings are missing
func Preflight(storageCfg config.StorageConfig, databaseCfg config.DatabaseConfig) error {
	if err := storageCfg.Validate(); err != nil {
		return err
	}
	return databaseCfg.Validate()
}

// Sweep processes every eligible meeting. Job failures are reported, never returned;
// the error is for failures that prevent the sweep from starting.
func (d *Dispatcher) Sweep(ctx context.Context) (*Report, error) {
	if err := Preflight(d.config.Storage, d.config.Database); err != nil {
		return nil, err
	}

	report := &Report{
		SweepID:   uuid.NewString(),
		StartedAt: d.now(),
		Counts:    make(map[recording.State]int),
	}
	ctx = logging.WithRequestID(ctx, report.SweepID)
	logger := d.logger.WithFields(logging.Fields{"sweep_id": report.SweepID})

	ids, err := d.repo.EligibleMeetingIDs(ctx, report.StartedAt, d.config.LookbackDays)
	if err != nil {
		return nil, fmt.Errorf("failed to select eligible meetings: %w", err)
	}
	logger.Info("Sweep found %d eligible meetings", len(ids))

	outcomes := make([]Outcome, len(ids))
	var g errgroup.Group
	g.SetLimit(d.config.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			outcomes[i] = d.runJob(ctx, report.SweepID, id)
			return nil
		})
	}
	_ = g.Wait()

	report.Outcomes = outcomes
	for _, outcome := range outcomes {
		report.Counts[outcome.State]++
	}
	report.FinishedAt = d.now()

	logger.Info("Sweep finished in %v: %d jobs, %d failed (%s)",
		report.FinishedAt.Sub(report.StartedAt), len(outcomes), report.Failed(), report.Summary())
	return report, nil
}

// runJob runs one meeting and never lets a failure escape
func (d *Dispatcher) runJob(ctx context.Context, sweepID, meetingID string) (outcome Outcome) {
	start := time.Now()
	outcome = Outcome{MeetingID: meetingID, State: recording.StatePending}

	defer func() {
		if r := recover(); r != nil {
			outcome.State = recording.StateDiscoveryFailed
			outcome.Err = fmt.Errorf("job panicked: %v", r)
		}
		outcome.Duration = time.Since(start)
		if outcome.Err != nil {
			d.logger.Error("Meeting %s failed with %s: %v", meetingID, outcome.State, outcome.Err)
		}
		d.track(sweepID, outcome)
	}()

	meeting, err := d.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		outcome.State = recording.StateDiscoveryFailed
		outcome.Err = fmt.Errorf("failed to load meeting: %w", err)
		return outcome
	}
	job, err := JobForMeeting(meeting, d.now(), d.config.LookbackDays)
	if err != nil {
		outcome.State = recording.StateDiscoveryFailed
		outcome.Err = err
		return outcome
	}
	outcome.Platform = job.Platform

	jobCtx := ctx
	if d.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, d.config.JobTimeout)
		defer cancel()
	}

	result, err := d.processor.Process(jobCtx, job)
	if result != nil {
		outcome.State = result.State
		outcome.Parts = result.Parts
	}
	outcome.Err = err
	return outcome
}

func (d *Dispatcher) track(sweepID string, outcome Outcome) {
	entry := tracking.Entry{
		SweepID:    sweepID,
		MeetingID:  outcome.MeetingID,
		Platform:   string(outcome.Platform),
		State:      outcome.State.String(),
		FinishedAt: d.now(),
		Duration:   outcome.Duration,
	}
	if outcome.Err != nil {
		entry.Error = outcome.Err.Error()
	}

	entries := []tracking.Entry{entry}
	if len(outcome.Parts) > 0 {
		entries = entries[:0]
		for _, part := range outcome.Parts {
			e := entry
			e.Key, e.State, e.Bytes = part.Key, part.State.String(), part.Bytes
			if part.Err != nil {
				e.Error = part.Err.Error()
			} else {
				e.Error = ""
			}
			entries = append(entries, e)
		}
	}

	for _, e := range entries {
		if err := d.tracker.Track(e); err != nil {
			d.logger.Warn("Failed to track outcome for meeting %s: %v", outcome.MeetingID, err)
		}
	}
}

// JobForMeeting builds the job for a meeting row. Zoom recordings are searched over
// the lookback period; WeLink recordings must overlap the scheduled slot.
func JobForMeeting(meeting *store.Meeting, now time.Time, lookbackDays int) (recording.Job, error) {
	platform := recording.Platform(strings.ToLower(strings.TrimSpace(meeting.MPlatform)))
	if platform == "" {
		platform = recording.PlatformZoom
	}

	job := recording.Job{MeetingID: meeting.MID, Platform: platform, HostID: meeting.HostID}
	switch platform {
	case recording.PlatformZoom:
		job.Window = recording.Window{Start: now.AddDate(0, 0, -lookbackDays), End: now}
	case recording.PlatformWeLink:
		start, err := time.ParseInLocation(slotLayout, meeting.Date+" "+meeting.Start, welink.Local)
		if err != nil {
			return job, fmt.Errorf("invalid meeting start for %s: %w", meeting.MID, err)
		}
		end, err := time.ParseInLocation(slotLayout, meeting.Date+" "+meeting.End, welink.Local)
		if err != nil {
			return job, fmt.Errorf("invalid meeting end for %s: %w", meeting.MID, err)
		}
		job.Window = recording.Window{Start: start, End: end}
	default:
		return job, &recording.ConfigurationError{Field: "mplatform", Reason: fmt.Sprintf("%q is not supported", meeting.MPlatform)}
	}
	return job, nil
}
