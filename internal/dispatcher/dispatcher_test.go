package dispatcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
	"github.com/nicliuqi/test-opengauss-meetings/internal/pipeline"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
	"github.com/nicliuqi/test-opengauss-meetings/internal/store"
	"github.com/nicliuqi/test-opengauss-meetings/internal/tracking"
	"github.com/nicliuqi/test-opengauss-meetings/internal/welink"
)

var sweepTime = time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)

func validConfig() Config {
	return Config{
		Concurrency:  2,
		JobTimeout:   time.Minute,
		LookbackDays: 7,
		Storage: config.StorageConfig{
			Driver: "s3", Endpoint: "obs.example.com", Bucket: "records",
			AccessKeyID: "ak", SecretAccessKey: "sk",
		},
		Database: config.DatabaseConfig{DSN: "user:pass@tcp(db:3306)/meetings"},
	}
}

type mockProcessor struct {
	mu       sync.Mutex
	jobs     []recording.Job
	active   int32
	peak     int32
	delay    time.Duration
	failures map[string]error
	panics   map[string]bool
}

func (m *mockProcessor) Process(ctx context.Context, job recording.Job) (*pipeline.JobResult, error) {
	current := atomic.AddInt32(&m.active, 1)
	defer atomic.AddInt32(&m.active, -1)
	for {
		peak := atomic.LoadInt32(&m.peak)
		if current <= peak || atomic.CompareAndSwapInt32(&m.peak, peak, current) {
			break
		}
	}

	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("expected a job deadline")
	}
	time.Sleep(m.delay)

	if m.panics[job.MeetingID] {
		panic("boom")
	}
	if err := m.failures[job.MeetingID]; err != nil {
		return &pipeline.JobResult{MeetingID: job.MeetingID, State: recording.StateUploadFailed,
			Parts: []pipeline.PartResult{{Key: "k/" + job.MeetingID + ".mp4", State: recording.StateUploadFailed, Err: err}}}, err
	}
	return &pipeline.JobResult{MeetingID: job.MeetingID, State: recording.StatePersisted,
		Parts: []pipeline.PartResult{{Key: "k/" + job.MeetingID + ".mp4", State: recording.StatePersisted, Bytes: 42}}}, nil
}

func seedRepository(mids ...string) *store.MemoryRepository {
	repo := store.NewMemoryRepository()
	for _, mid := range mids {
		repo.AddMeeting(store.Meeting{MID: mid, Date: "2024-03-07", HostID: "host", MPlatform: "zoom"})
		repo.AddVideo(store.Video{MID: mid})
	}
	return repo
}

func newTestDispatcher(repo store.Repository, processor JobProcessor, tracker tracking.Tracker, cfg Config) *Dispatcher {
	d := New(repo, processor, tracker, cfg)
	d.now = func() time.Time { return sweepTime }
	return d
}

func TestSweepRunsEveryEligibleMeeting(t *testing.T) {
	repo := seedRepository("1", "2", "3", "4", "5")
	processor := &mockProcessor{delay: 20 * time.Millisecond}

	report, err := newTestDispatcher(repo, processor, nil, validConfig()).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(report.Outcomes) != 5 || report.Counts[recording.StatePersisted] != 5 {
		t.Errorf("Expected 5 persisted jobs, got %+v", report.Counts)
	}
	if report.SweepID == "" {
		t.Error("Expected a sweep id")
	}
	if peak := atomic.LoadInt32(&processor.peak); peak > 2 {
		t.Errorf("Expected at most 2 concurrent jobs, saw %d", peak)
	}
	if report.Summary() != "PERSISTED=5" {
		t.Errorf("Unexpected summary %q", report.Summary())
	}
}

func TestSweepIsolatesFailures(t *testing.T) {
	repo := seedRepository("1", "2", "3")
	processor := &mockProcessor{
		failures: map[string]error{"1": errors.New("upload rejected")},
		panics:   map[string]bool{"2": true},
	}
	ledger := filepath.Join(t.TempDir(), "jobs.csv")
	tracker, err := tracking.NewCSVTracker(ledger)
	if err != nil {
		t.Fatal(err)
	}

	report, err := newTestDispatcher(repo, processor, tracker, validConfig()).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if report.Failed() != 2 {
		t.Errorf("Expected 2 failed jobs, got %d", report.Failed())
	}
	states := map[string]recording.State{}
	for _, outcome := range report.Outcomes {
		states[outcome.MeetingID] = outcome.State
	}
	if states["1"] != recording.StateUploadFailed || states["2"] != recording.StateDiscoveryFailed || states["3"] != recording.StatePersisted {
		t.Errorf("Unexpected states %v", states)
	}

	data, _ := os.ReadFile(ledger)
	content := string(data)
	for _, want := range []string{",1,zoom,k/1.mp4,UPLOAD_FAILED,", "upload rejected", ",3,zoom,k/3.mp4,PERSISTED,42,", "job panicked"} {
		if !strings.Contains(content, want) {
			t.Errorf("Expected ledger to contain %q:\n%s", want, content)
		}
	}
}

func TestSweepRejectsMissingConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing bucket", func(c *Config) { c.Storage.Bucket = "" }},
		{"missing credentials", func(c *Config) { c.Storage.SecretAccessKey = "" }},
		{"missing database", func(c *Config) { c.Database = config.DatabaseConfig{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			processor := &mockProcessor{}

			_, err := newTestDispatcher(seedRepository("1"), processor, nil, cfg).Sweep(context.Background())
			if !recording.IsConfigurationError(err) {
				t.Errorf("Expected ConfigurationError, got %v", err)
			}
			if len(processor.jobs) != 0 {
				t.Error("No job may start with an invalid configuration")
			}
		})
	}
}

func TestSweepUnknownPlatform(t *testing.T) {
	repo := store.NewMemoryRepository()
	repo.AddMeeting(store.Meeting{MID: "9", Date: "2024-03-07", MPlatform: "tencent"})
	repo.AddVideo(store.Video{MID: "9"})
	processor := &mockProcessor{}

	report, err := newTestDispatcher(repo, processor, nil, validConfig()).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if report.Counts[recording.StateDiscoveryFailed] != 1 || len(processor.jobs) != 0 {
		t.Errorf("Expected the meeting to fail discovery without running, got %+v", report.Counts)
	}
}

func TestJobForMeeting(t *testing.T) {
	zoomJob, err := JobForMeeting(&store.Meeting{MID: "1", HostID: "h"}, sweepTime, 7)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if zoomJob.Platform != recording.PlatformZoom || zoomJob.HostID != "h" {
		t.Errorf("Expected default zoom job, got %+v", zoomJob)
	}
	if !zoomJob.Window.Start.Equal(sweepTime.AddDate(0, 0, -7)) || !zoomJob.Window.End.Equal(sweepTime) {
		t.Errorf("Unexpected zoom window %+v", zoomJob.Window)
	}

	welinkJob, err := JobForMeeting(&store.Meeting{MID: "2", MPlatform: "welink", Date: "2024-03-07", Start: "10:00", End: "11:30"}, sweepTime, 7)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	wantStart := time.Date(2024, 3, 7, 10, 0, 0, 0, welink.Local)
	wantEnd := time.Date(2024, 3, 7, 11, 30, 0, 0, welink.Local)
	if !welinkJob.Window.Start.Equal(wantStart) || !welinkJob.Window.End.Equal(wantEnd) {
		t.Errorf("Unexpected welink window %+v", welinkJob.Window)
	}

	if _, err := JobForMeeting(&store.Meeting{MID: "3", MPlatform: "welink", Date: "bad"}, sweepTime, 7); err == nil {
		t.Error("Expected error for malformed slot")
	}
}
