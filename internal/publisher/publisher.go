// Package publisher republishes stored recordings to the secondary video platform
package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nicliuqi/test-opengauss-meetings/internal/bilibili"
	"github.com/nicliuqi/test-opengauss-meetings/internal/filename"
	"github.com/nicliuqi/test-opengauss-meetings/internal/logging"
	"github.com/nicliuqi/test-opengauss-meetings/internal/metadata"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
	"github.com/nicliuqi/test-opengauss-meetings/internal/storage"
	"github.com/nicliuqi/test-opengauss-meetings/internal/store"
	"github.com/nicliuqi/test-opengauss-meetings/internal/tracking"
)

const (
	// DefaultTID is the platform category for community recordings
	DefaultTID = 124

	recordTimeLayout = "2006-01-02T15:04:05Z"
	titleDateLayout  = "2006-01-02"
	localOffset      = 8 * time.Hour
)

// Status is the result of one object in a publish sweep
type Status string

const (
	StatusPublished Status = "PUBLISHED"
	StatusSkipped   Status = "SKIPPED"
	StatusFailed    Status = "PUBLISH_FAILED"
)

// Platform is the secondary video platform
type Platform interface {
	UploadVideo(ctx context.Context, videoPath string) (bilibili.VideoHandle, error)
	UploadCover(ctx context.Context, coverPath string) (string, error)
	Submit(ctx context.Context, sub bilibili.Submission) (*bilibili.Result, error)
}

// ObjectStore is the part of the bucket the publisher reads and marks
type ObjectStore interface {
	ListObjects(ctx context.Context) ([]storage.ObjectInfo, error)
	DownloadFile(ctx context.Context, key, localPath string) error
	GetObjectMetadata(ctx context.Context, key string) (map[string]string, error)
	SetObjectMetadata(ctx context.Context, key string, metadata map[string]string) error
}

// Config holds publisher settings
type Config struct {
	StagingDir string
	// Delay separates consecutive publish attempts
	Delay time.Duration
	TID   int
}

// Outcome is the result for one stored video
type Outcome struct {
	Key       string
	MeetingID string
	Status    Status
	BVID      string
	Duration  time.Duration
	Err       error
}

// Report summarizes a publish sweep. Failed counts every outcome with an error,
// including submissions whose marking step failed.
type Report struct {
	SweepID   string
	Outcomes  []Outcome
	Published int
	Skipped   int
	Failed    int
}

// Publisher runs publish sweeps
type Publisher struct {
	store    ObjectStore
	platform Platform
	repo     store.Repository
	tracker  tracking.Tracker
	config   Config
	sleep    func(ctx context.Context, d time.Duration) error
	logger   logging.Logger
}

// New creates a Publisher. A nil tracker discards outcomes.
func New(objects ObjectStore, platform Platform, repo store.Repository, tracker tracking.Tracker, cfg Config) *Publisher {
	if cfg.TID == 0 {
		cfg.TID = DefaultTID
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}
	if tracker == nil {
		tracker = tracking.NopTracker{}
	}
	return &Publisher{
		store:    objects,
		platform: platform,
		repo:     repo,
		tracker:  tracker,
		config:   cfg,
		sleep:    sleepContext,
		logger:   logging.GetDefaultLogger(),
	}
}

// Sweep publishes every stored video without a publish marker, one at a time.
// Per-object failures are reported and the sweep continues.
func (p *Publisher) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{SweepID: uuid.NewString()}
	logger := p.logger.WithFields(logging.Fields{"sweep_id": report.SweepID, "platform": store.PlatformBilibili})

	objects, err := p.store.ListObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	if len(objects) == 0 {
		logger.Info("Bucket has no objects")
		return report, nil
	}

	attempted := false
	for _, obj := range objects {
		if !filename.IsVideoKey(obj.Key) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		raw, err := p.store.GetObjectMetadata(ctx, obj.Key)
		if err != nil {
			p.record(report, Outcome{Key: obj.Key, Status: StatusFailed, Err: err})
			continue
		}
		doc := metadata.Decode(raw)
		if metadata.HasBeenPublished(doc) {
			logger.Debug("%s already published as %s, skipping", obj.Key, doc.PublishID)
			p.record(report, Outcome{Key: obj.Key, MeetingID: doc.MeetingID, Status: StatusSkipped, BVID: doc.PublishID})
			continue
		}

		if attempted && p.config.Delay > 0 {
			if err := p.sleep(ctx, p.config.Delay); err != nil {
				return report, err
			}
		}
		attempted = true

		start := time.Now()
		bvid, err := p.publish(ctx, obj.Key, doc)
		outcome := Outcome{Key: obj.Key, MeetingID: doc.MeetingID, BVID: bvid, Duration: time.Since(start), Err: err}
		switch {
		case err != nil && bvid == "":
			outcome.Status = StatusFailed
			logger.Error("Failed to publish %s: %v", obj.Key, err)
		case err != nil:
			outcome.Status = StatusPublished
			logger.Error("Published %s as %s with errors: %v", obj.Key, bvid, err)
		default:
			outcome.Status = StatusPublished
			logger.Info("Published meeting %s as %s", doc.MeetingID, bvid)
		}
		p.record(report, outcome)
	}

	logger.Info("Publish sweep finished: %d published, %d skipped, %d failed", report.Published, report.Skipped, report.Failed)
	return report, nil
}

// publish runs one object through download, upload, submission and marking.
// A non-empty id with an error means the submission happened but a later step failed.
func (p *Publisher) publish(ctx context.Context, key string, doc metadata.Document) (string, error) {
	sub, err := BuildSubmission(doc, p.config.TID)
	if err != nil {
		return "", err
	}

	videoPath := filepath.Join(p.config.StagingDir, path.Base(key))
	coverPath := filename.CoverPath(videoPath)
	removeStaged(videoPath, coverPath)
	defer removeStaged(videoPath, coverPath)

	if err := p.store.DownloadFile(ctx, key, videoPath); err != nil {
		return "", fmt.Errorf("failed to download video: %w", err)
	}
	if err := p.store.DownloadFile(ctx, filename.CoverKey(key), coverPath); err != nil {
		return "", fmt.Errorf("failed to download cover: %w", err)
	}

	handle, err := p.platform.UploadVideo(ctx, videoPath)
	if err != nil {
		return "", fmt.Errorf("failed to upload video: %w", err)
	}
	coverURL, err := p.platform.UploadCover(ctx, coverPath)
	if err != nil {
		return "", fmt.Errorf("failed to upload cover: %w", err)
	}
	sub.Cover = coverURL
	sub.Video = handle

	result, err := p.platform.Submit(ctx, sub)
	if err != nil {
		return "", fmt.Errorf("failed to submit: %w", err)
	}
	bvid := result.BVID

	// The record row is best effort; the metadata write below is what stops a second submission
	var errs []error
	if err := p.repo.EnsureRecord(ctx, doc.MeetingID, store.PlatformBilibili); err != nil {
		errs = append(errs, &recording.PersistenceError{Op: "ensure record", MeetingID: doc.MeetingID, Err: err})
	}
	if err := p.store.SetObjectMetadata(ctx, key, doc.WithPublishID(bvid).Encode()); err != nil {
		errs = append(errs, fmt.Errorf("failed to mark %s as published: %w", key, err))
	}
	return bvid, errors.Join(errs...)
}

func (p *Publisher) record(report *Report, outcome Outcome) {
	report.Outcomes = append(report.Outcomes, outcome)
	switch outcome.Status {
	case StatusPublished:
		report.Published++
	case StatusSkipped:
		report.Skipped++
		return
	}
	if outcome.Err != nil {
		report.Failed++
	}

	entry := tracking.Entry{
		SweepID:    report.SweepID,
		MeetingID:  outcome.MeetingID,
		Platform:   store.PlatformBilibili,
		Key:        outcome.Key,
		State:      string(outcome.Status),
		FinishedAt: time.Now(),
		Duration:   outcome.Duration,
	}
	if outcome.Err != nil {
		entry.Error = outcome.Err.Error()
	}
	if err := p.tracker.Track(entry); err != nil {
		p.logger.Warn("Failed to track publish outcome for %s: %v", outcome.Key, err)
	}
}

// BuildSubmission derives the title, description and tags from the stored document
func BuildSubmission(doc metadata.Document, tid int) (bilibili.Submission, error) {
	if doc.Topic == "" {
		return bilibili.Submission{}, fmt.Errorf("metadata of meeting %s has no topic", doc.MeetingID)
	}
	start, err := time.Parse(recordTimeLayout, doc.RecordStart)
	if err != nil {
		return bilibili.Submission{}, fmt.Errorf("invalid record_start %q: %w", doc.RecordStart, err)
	}
	if tid == 0 {
		tid = DefaultTID
	}
	return bilibili.Submission{
		Title:     doc.Topic + " (" + start.Add(localOffset).Format(titleDateLayout) + ")",
		Desc:      "community meeting recording for " + doc.Sig,
		Tag:       doc.Community + ", community, recordings, 会议录像",
		TID:       tid,
		Copyright: 1,
		NoReprint: 1,
	}, nil
}

func removeStaged(paths ...string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
