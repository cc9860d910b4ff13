// Package pipeline runs the ingestion state machine for one meeting
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nicliuqi/test-opengauss-meetings/internal/cover"
	"github.com/nicliuqi/test-opengauss-meetings/internal/filename"
	"github.com/nicliuqi/test-opengauss-meetings/internal/logging"
	"github.com/nicliuqi/test-opengauss-meetings/internal/metadata"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
	"github.com/nicliuqi/test-opengauss-meetings/internal/reconcile"
	"github.com/nicliuqi/test-opengauss-meetings/internal/selector"
	"github.com/nicliuqi/test-opengauss-meetings/internal/storage"
	"github.com/nicliuqi/test-opengauss-meetings/internal/store"
	"github.com/nicliuqi/test-opengauss-meetings/internal/transfer"
)

// recordTimeLayout is how record_start and record_end are written
const recordTimeLayout = "2006-01-02T15:04:05Z"

// Downloader fetches a recording into staging
type Downloader interface {
	Download(ctx context.Context, req transfer.DownloadRequest) (*transfer.DownloadResult, error)
}

// Uploader stores a staged video together with its metadata
type Uploader interface {
	Upload(ctx context.Context, key, localPath string, metadata map[string]string) (*transfer.UploadResult, error)
}

// CoverGenerator renders the cover next to a staged video
type CoverGenerator interface {
	Generate(ctx context.Context, in cover.Input, videoPath string) (string, error)
}

// ObjectStore is the part of the bucket the pipeline touches directly
type ObjectStore interface {
	reconcile.Lister
	PutFile(ctx context.Context, key, localPath, contentType string) error
}

// Dependencies are the collaborators of a Processor
type Dependencies struct {
	Adapters   []recording.Adapter
	Repository store.Repository
	Store      ObjectStore
	Downloader Downloader
	Uploader   Uploader
	Covers     CoverGenerator
	Namer      *filename.Namer
	Selector   *selector.Selector
}

// PartResult is the outcome of one stored file
type PartResult struct {
	Part  int
	Key   string
	State recording.State
	Bytes int64
	Err   error
}

// JobResult is the outcome of one meeting
type JobResult struct {
	MeetingID string
	Platform  recording.Platform
	State     recording.State
	Parts     []PartResult
	Duration  time.Duration
}

// Processor runs jobs; it is safe for concurrent use when its dependencies are
type Processor struct {
	adapters   map[recording.Platform]recording.Adapter
	repo       store.Repository
	store      ObjectStore
	reconciler *reconcile.Reconciler
	downloader Downloader
	uploader   Uploader
	covers     CoverGenerator
	namer      *filename.Namer
	selector   *selector.Selector
	logger     logging.Logger
}

// NewProcessor creates a Processor
func NewProcessor(deps Dependencies) *Processor {
	adapters := make(map[recording.Platform]recording.Adapter, len(deps.Adapters))
	for _, adapter := range deps.Adapters {
		adapters[adapter.Platform()] = adapter
	}
	sel := deps.Selector
	if sel == nil {
		sel = selector.New(selector.DefaultMinSize)
	}
	return &Processor{
		adapters:   adapters,
		repo:       deps.Repository,
		store:      deps.Store,
		reconciler: reconcile.New(deps.Store),
		downloader: deps.Downloader,
		uploader:   deps.Uploader,
		covers:     deps.Covers,
		namer:      deps.Namer,
		selector:   sel,
		logger:     logging.GetDefaultLogger(),
	}
}

// jobContext carries what every part of a job needs
type jobContext struct {
	job       recording.Job
	adapter   recording.Adapter
	meeting   *store.Meeting
	video     *store.Video
	inventory reconcile.Inventory
	attenders []string
	logger    logging.Logger
}

// Process runs the state machine for job. The result is always returned;
// the error is the first failure, if any.
func (p *Processor) Process(ctx context.Context, job recording.Job) (*JobResult, error) {
	start := time.Now()
	ctx = logging.WithMeetingID(ctx, job.MeetingID)
	logger := p.logger.WithFields(logging.Fields{"meeting_id": job.MeetingID, "platform": string(job.Platform)})

	result := &JobResult{MeetingID: job.MeetingID, Platform: job.Platform, State: recording.StatePending}
	finish := func(state recording.State, err error) (*JobResult, error) {
		p.transition(logger, result.State, state)
		result.State = state
		result.Duration = time.Since(start)
		if err != nil {
			logger.Error("Job ended %s: %v", state, err)
		} else {
			logger.Info("Job ended %s in %v", state, result.Duration)
		}
		return result, err
	}

	jc, candidates, err := p.discover(ctx, job, logger)
	if err != nil {
		return finish(recording.StateDiscoveryFailed, err)
	}
	if len(candidates) == 0 {
		logger.Info("No recordings yet")
		return finish(recording.StateInProgress, nil)
	}

	p.transition(logger, result.State, recording.StateFound)
	result.State = recording.StateFound

	selection := p.selector.Select(job.MeetingID, candidates)
	switch selection.Outcome {
	case selector.OutcomeInProgress:
		logger.Info("Recording is still in progress")
		return finish(recording.StateInProgress, nil)
	case selector.OutcomeTooSmall:
		logger.Info("Recording of %d bytes is below %d bytes, ignoring", selection.TotalSize(), p.selector.MinSize())
		return finish(recording.StateTooSmall, nil)
	}

	if err := p.loadRows(ctx, jc); err != nil {
		return finish(recording.StateDiscoveryFailed, err)
	}
	jc.inventory, err = p.reconciler.Inventory(ctx)
	if err != nil {
		return finish(recording.StateDiscoveryFailed, err)
	}

	if p.needsTransfer(jc, selection.Parts) {
		if jc.attenders, err = p.attenders(ctx, jc); err != nil {
			return finish(recording.StateDiscoveryFailed, err)
		}
	}

	var firstErr error
	for _, candidate := range selection.Parts {
		part := p.processPart(ctx, jc, candidate)
		result.Parts = append(result.Parts, part)
		if part.Err != nil && firstErr == nil {
			firstErr = part.Err
		}
	}

	result.State = aggregate(result.Parts)
	result.Duration = time.Since(start)
	logger.Info("Job ended %s in %v", result.State, result.Duration)
	return result, firstErr
}

// discover lists the platform recordings
func (p *Processor) discover(ctx context.Context, job recording.Job, logger logging.Logger) (*jobContext, []recording.Candidate, error) {
	adapter, ok := p.adapters[job.Platform]
	if !ok {
		return nil, nil, &recording.ConfigurationError{Field: "platform", Reason: fmt.Sprintf("%q has no configured adapter", job.Platform)}
	}

	window := job.Window
	window.MeetingID = job.MeetingID
	candidates, err := adapter.ListRecordings(ctx, job.HostID, window)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	logger.Debug("Platform returned %d recording files", len(candidates))

	return &jobContext{job: job, adapter: adapter, logger: logger}, candidates, nil
}

// loadRows reads the meeting and video rows the stored files are described from
func (p *Processor) loadRows(ctx context.Context, jc *jobContext) error {
	meeting, err := p.repo.GetMeeting(ctx, jc.job.MeetingID)
	if err != nil {
		return fmt.Errorf("failed to load meeting: %w", err)
	}
	video, err := p.repo.GetVideo(ctx, jc.job.MeetingID)
	if err != nil {
		return fmt.Errorf("failed to load video: %w", err)
	}
	jc.meeting, jc.video = meeting, video
	return nil
}

// needsTransfer reports whether any part may have to be uploaded
func (p *Processor) needsTransfer(jc *jobContext, parts []recording.Candidate) bool {
	for _, c := range parts {
		if !c.SizeKnown() {
			return true
		}
		start, _, _ := p.recordTimes(jc, c)
		if jc.inventory.Decide(p.objectKey(jc, c, start), c.SizeBytes).NeedsTransfer() {
			return true
		}
	}
	return false
}

func (p *Processor) attenders(ctx context.Context, jc *jobContext) ([]string, error) {
	participants, err := jc.adapter.GetParticipants(ctx, jc.job.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	names := make([]string, 0, len(participants))
	seen := make(map[string]bool, len(participants))
	for _, participant := range participants {
		if participant.Name == "" || seen[participant.Name] {
			continue
		}
		seen[participant.Name] = true
		names = append(names, participant.Name)
	}
	return names, nil
}

// processPart moves one candidate from FOUND to a terminal state
func (p *Processor) processPart(ctx context.Context, jc *jobContext, c recording.Candidate) PartResult {
	logger := jc.logger
	if c.Part > 0 {
		logger = logger.WithFields(logging.Fields{"part": c.Part})
	}

	start, end, err := p.recordTimes(jc, c)
	if err != nil {
		return PartResult{Part: c.Part, State: recording.StateDiscoveryFailed, Err: err}
	}
	key := p.objectKey(jc, c, start)
	part := PartResult{Part: c.Part, Key: key, State: recording.StateFound}
	move := func(next recording.State) {
		p.transition(logger, part.State, next)
		part.State = next
	}
	fail := func(next recording.State, err error) PartResult {
		move(classify(err, next))
		part.Err = err
		logger.Error("%s %s: %v", key, part.State, err)
		return part
	}

	if c.SizeKnown() {
		decision := jc.inventory.Decide(key, c.SizeBytes)
		if !decision.NeedsTransfer() {
			logger.Info("%s is up to date", key)
			move(recording.StateUpToDate)
			return part
		}
		logger.Info("%s: %s", key, decision)
	}

	move(recording.StateDownloading)
	handle, err := jc.adapter.ResolveDownload(ctx, c)
	if err != nil {
		return fail(recording.StateDownloadFailed, fmt.Errorf("failed to resolve download: %w", err))
	}
	videoPath := p.namer.StagingPath(jc.job.MeetingID, c.Part)
	downloaded, err := p.downloader.Download(ctx, transfer.DownloadRequest{
		MeetingID:    jc.job.MeetingID,
		Handle:       handle,
		Destination:  videoPath,
		ExpectedSize: c.SizeBytes,
	})
	if err != nil {
		return fail(recording.StateDownloadFailed, fmt.Errorf("failed to download recording: %w", err))
	}
	part.Bytes = downloaded.Bytes

	if !c.SizeKnown() {
		if p.selector.CheckSize(downloaded.Bytes) == selector.OutcomeTooSmall {
			logger.Info("%s: %d bytes is below %d bytes, ignoring", key, downloaded.Bytes, p.selector.MinSize())
			removeFiles(logger, videoPath)
			move(recording.StateTooSmall)
			return part
		}
		if decision := jc.inventory.Decide(key, downloaded.Bytes); !decision.NeedsTransfer() {
			logger.Info("%s is up to date", key)
			removeFiles(logger, videoPath)
			move(recording.StateUpToDate)
			return part
		}
	}

	move(recording.StateUploading)
	downloadURL := p.namer.DownloadURL(key)
	doc := metadata.Document{
		MeetingID:   jc.job.MeetingID,
		Topic:       p.topic(jc, c),
		Community:   jc.video.Community,
		Sig:         jc.video.GroupName,
		Agenda:      jc.video.Agenda,
		RecordStart: start,
		RecordEnd:   end,
		DownloadURL: downloadURL,
		TotalSize:   downloaded.Bytes,
		Attenders:   jc.attenders,
	}
	if _, err := p.uploader.Upload(ctx, key, videoPath, doc.Encode()); err != nil {
		return fail(recording.StateUploadFailed, fmt.Errorf("failed to upload video: %w", err))
	}
	logger.Info("Uploaded %s (%d bytes)", key, downloaded.Bytes)

	move(recording.StateCoverGenerating)
	coverPath, err := p.covers.Generate(ctx, p.coverInput(jc, c, doc.Topic), videoPath)
	if err != nil {
		return fail(recording.StateCoverFailed, err)
	}
	coverKey := filename.CoverKey(key)
	if err := p.store.PutFile(ctx, coverKey, coverPath, storage.ContentType(coverKey)); err != nil {
		return fail(recording.StateCoverFailed, fmt.Errorf("failed to upload cover: %w", err))
	}

	if c.Part <= 1 {
		if err := p.persist(ctx, jc, doc); err != nil {
			return fail(recording.StatePersistFailed, err)
		}
	}

	removeFiles(logger, videoPath, coverPath)
	move(recording.StatePersisted)
	return part
}

// persist writes the video and obs record rows
func (p *Processor) persist(ctx context.Context, jc *jobContext, doc metadata.Document) error {
	attenders, _ := json.Marshal(doc.Attenders)
	update := store.VideoUpdate{
		MeetingID:   doc.MeetingID,
		Start:       doc.RecordStart,
		End:         doc.RecordEnd,
		TotalSize:   doc.TotalSize,
		Attenders:   string(attenders),
		DownloadURL: doc.DownloadURL,
	}
	if err := p.repo.UpsertVideo(ctx, update); err != nil {
		return &recording.PersistenceError{Op: "upsert video", MeetingID: doc.MeetingID, Err: err}
	}

	url := filename.PlaybackURL(doc.DownloadURL)
	if err := p.repo.UpsertRecord(ctx, doc.MeetingID, store.PlatformOBS, url, filename.ThumbnailURL(url)); err != nil {
		return &recording.PersistenceError{Op: "upsert obs record", MeetingID: doc.MeetingID, Err: err}
	}
	jc.logger.Info("Updated video and record rows")
	return nil
}

// recordTimes returns record_start and record_end. WeLink recordings take the
// scheduled slot of the meeting row; Zoom recordings take the file bounds.
func (p *Processor) recordTimes(jc *jobContext, c recording.Candidate) (string, string, error) {
	if jc.job.Platform == recording.PlatformWeLink {
		start := jc.meeting.Date + "T" + jc.meeting.Start + ":00Z"
		end := jc.meeting.Date + "T" + jc.meeting.End + ":00Z"
		if _, err := time.Parse(recordTimeLayout, start); err != nil {
			return "", "", fmt.Errorf("invalid meeting slot %q: %w", start, err)
		}
		return start, end, nil
	}
	return c.StartTime.UTC().Format(recordTimeLayout), c.EndTime.UTC().Format(recordTimeLayout), nil
}

func (p *Processor) objectKey(jc *jobContext, c recording.Candidate, recordStart string) string {
	start, err := time.Parse(recordTimeLayout, recordStart)
	if err != nil {
		start = c.StartTime
	}
	return p.namer.ObjectKey(jc.video.GroupName, start, jc.job.MeetingID, c.Part)
}

// topic appends the part number for multi-part recordings
func (p *Processor) topic(jc *jobContext, c recording.Candidate) string {
	if c.Part > 0 {
		return jc.video.Topic + "-" + strconv.Itoa(c.Part)
	}
	return jc.video.Topic
}

func (p *Processor) coverInput(jc *jobContext, c recording.Candidate, topic string) cover.Input {
	if jc.job.Platform == recording.PlatformWeLink {
		return cover.Input{
			Topic:     topic,
			SIG:       jc.video.GroupName,
			Date:      jc.meeting.Date,
			StartTime: jc.meeting.Start,
			EndTime:   jc.meeting.End,
		}
	}
	return cover.InputFromRecording(topic, jc.video.GroupName, c.StartTime, c.EndTime)
}

func (p *Processor) transition(logger logging.Logger, from, to recording.State) {
	if !from.CanTransition(to) {
		logger.Warn("Unexpected transition %s -> %s", from, to)
		return
	}
	logger.Debug("State %s -> %s", from, to)
}

// classify maps typed errors onto terminal states, falling back to the stage's state
func classify(err error, fallback recording.State) recording.State {
	var sizeErr *recording.SizeMismatchError
	var persistErr *recording.PersistenceError
	switch {
	case errors.As(err, &sizeErr):
		return recording.StateDownloadFailed
	case errors.As(err, &persistErr):
		return recording.StatePersistFailed
	}
	return fallback
}

// aggregate folds part states into the job state: the first failure wins,
// then any persisted part, then the first part's state
func aggregate(parts []PartResult) recording.State {
	for _, part := range parts {
		if part.State.Failed() {
			return part.State
		}
	}
	for _, part := range parts {
		if part.State == recording.StatePersisted {
			return recording.StatePersisted
		}
	}
	if len(parts) == 0 {
		return recording.StateInProgress
	}
	return parts[0].State
}

func removeFiles(logger logging.Logger, paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove temporary file %s: %v", path, err)
			continue
		}
		logger.Debug("Removed temporary file %s", path)
	}
}
