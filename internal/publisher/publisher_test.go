package publisher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nicliuqi/test-opengauss-meetings/internal/bilibili"
	"github.com/nicliuqi/test-opengauss-meetings/internal/metadata"
	"github.com/nicliuqi/test-opengauss-meetings/internal/storage"
	"github.com/nicliuqi/test-opengauss-meetings/internal/store"
	"github.com/nicliuqi/test-opengauss-meetings/internal/tracking"
)

type mockPlatform struct {
	videos      []string
	covers      []string
	submissions []bilibili.Submission
	submitErr   error
	nextID      int
}

func (m *mockPlatform) UploadVideo(ctx context.Context, videoPath string) (bilibili.VideoHandle, error) {
	data, err := os.ReadFile(videoPath)
	if err != nil {
		return bilibili.VideoHandle{}, err
	}
	m.videos = append(m.videos, string(data))
	return bilibili.VideoHandle{Filename: "n" + filepath.Base(videoPath), BizID: 7}, nil
}

func (m *mockPlatform) UploadCover(ctx context.Context, coverPath string) (string, error) {
	data, err := os.ReadFile(coverPath)
	if err != nil {
		return "", err
	}
	m.covers = append(m.covers, string(data))
	return "https://covers.example.com/" + filepath.Base(coverPath), nil
}

func (m *mockPlatform) Submit(ctx context.Context, sub bilibili.Submission) (*bilibili.Result, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.submissions = append(m.submissions, sub)
	m.nextID++
	return &bilibili.Result{AID: int64(m.nextID), BVID: "BV" + strings.Repeat("x", m.nextID)}, nil
}

func storedDocument(mid string) metadata.Document {
	return metadata.Document{
		MeetingID:   mid,
		Topic:       "Infra weekly",
		Community:   "opengauss",
		Sig:         "infra",
		RecordStart: "2024-03-07T17:00:00Z",
		RecordEnd:   "2024-03-07T18:00:00Z",
		DownloadURL: "https://records.obs.example.com/opengauss/infra/mar/" + mid + "/" + mid + ".mp4?response-content-disposition=attachment",
		TotalSize:   5,
		Attenders:   []string{"alice"},
	}
}

func seedVideo(objects *storage.MemoryStore, mid string, doc metadata.Document) string {
	key := "opengauss/infra/mar/" + mid + "/" + mid + ".mp4"
	objects.Seed(key, []byte("video-"+mid), doc.Encode())
	objects.Seed(strings.TrimSuffix(key, ".mp4")+".png", []byte("cover-"+mid), nil)
	return key
}

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func newTestPublisher(t *testing.T, objects ObjectStore, platform Platform, repo store.Repository, tracker tracking.Tracker) (*Publisher, *sleepRecorder, string) {
	t.Helper()
	staging := t.TempDir()
	p := New(objects, platform, repo, tracker, Config{StagingDir: staging, Delay: time.Minute})
	recorder := &sleepRecorder{}
	p.sleep = recorder.sleep
	return p, recorder, staging
}

func TestSweepPublishesOnce(t *testing.T) {
	objects := storage.NewMemoryStore("records")
	key := seedVideo(objects, "123", storedDocument("123"))
	repo := store.NewMemoryRepository()
	platform := &mockPlatform{}

	p, _, staging := newTestPublisher(t, objects, platform, repo, nil)
	report, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Published != 1 || report.Failed != 0 {
		t.Fatalf("Unexpected report %+v", report)
	}

	if len(platform.submissions) != 1 {
		t.Fatalf("Expected one submission, got %d", len(platform.submissions))
	}
	sub := platform.submissions[0]
	if sub.Title != "Infra weekly (2024-03-08)" {
		t.Errorf("Unexpected title %q", sub.Title)
	}
	if sub.Desc != "community meeting recording for infra" || sub.Tag != "opengauss, community, recordings, 会议录像" {
		t.Errorf("Unexpected desc/tag %q / %q", sub.Desc, sub.Tag)
	}
	if sub.TID != 124 || sub.Copyright != 1 || sub.NoReprint != 1 {
		t.Errorf("Unexpected submission flags %+v", sub)
	}
	if sub.Cover != "https://covers.example.com/123.png" || sub.Video.Filename != "n123.mp4" {
		t.Errorf("Expected uploaded cover and video in the submission, got %+v", sub)
	}
	if platform.videos[0] != "video-123" || platform.covers[0] != "cover-123" {
		t.Errorf("Expected staged files from the bucket, got %v %v", platform.videos, platform.covers)
	}

	_, raw, _ := objects.Object(key)
	doc := metadata.Decode(raw)
	if doc.PublishID != "BVx" {
		t.Errorf("Expected publish id BVx in metadata, got %q", doc.PublishID)
	}
	if doc.Topic != "Infra weekly" || len(doc.Attenders) != 1 {
		t.Errorf("Expected the rest of the document to be kept, got %+v", doc)
	}
	if _, ok := repo.Record("123", store.PlatformBilibili); !ok {
		t.Error("Expected a bilibili record row")
	}
	if entries, _ := os.ReadDir(staging); len(entries) != 0 {
		t.Errorf("Expected staging to be empty, found %d files", len(entries))
	}

	second, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}
	if len(platform.submissions) != 1 {
		t.Errorf("Expected no new submission, got %d total", len(platform.submissions))
	}
	if second.Skipped != 1 || second.Published != 0 {
		t.Errorf("Unexpected second report %+v", second)
	}
}

func TestSweepDelaysBetweenAttempts(t *testing.T) {
	objects := storage.NewMemoryStore("records")
	seedVideo(objects, "1", storedDocument("1"))
	seedVideo(objects, "2", storedDocument("2"))
	seedVideo(objects, "3", storedDocument("3").WithPublishID("BVold"))
	platform := &mockPlatform{}

	p, recorder, _ := newTestPublisher(t, objects, platform, store.NewMemoryRepository(), nil)
	report, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Published != 2 || report.Skipped != 1 {
		t.Errorf("Unexpected report %+v", report)
	}
	if len(recorder.calls) != 1 || recorder.calls[0] != time.Minute {
		t.Errorf("Expected one delay between two attempts, got %v", recorder.calls)
	}
}

func TestSweepContinuesAfterFailure(t *testing.T) {
	objects := storage.NewMemoryStore("records")
	seedVideo(objects, "1", storedDocument("1"))
	broken := storedDocument("2")
	broken.RecordStart = ""
	seedVideo(objects, "2", broken)
	objects.Seed("opengauss/infra/mar/3/3.mp4", []byte("video-3"), storedDocument("3").Encode())

	ledger := filepath.Join(t.TempDir(), "publish.csv")
	tracker, err := tracking.NewCSVTracker(ledger)
	if err != nil {
		t.Fatal(err)
	}
	platform := &mockPlatform{}

	p, _, _ := newTestPublisher(t, objects, platform, store.NewMemoryRepository(), tracker)
	report, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Published != 1 || report.Failed != 2 {
		t.Errorf("Unexpected report %+v", report)
	}
	for _, outcome := range report.Outcomes {
		if outcome.MeetingID != "1" && outcome.Status != StatusFailed {
			t.Errorf("Expected %s to fail, got %s", outcome.Key, outcome.Status)
		}
	}
	_, raw, _ := objects.Object("opengauss/infra/mar/3/3.mp4")
	if metadata.HasBeenPublished(metadata.Decode(raw)) {
		t.Error("A video whose cover is missing must stay unpublished")
	}

	data, _ := os.ReadFile(ledger)
	if !strings.Contains(string(data), "PUBLISH_FAILED") || !strings.Contains(string(data), ",1,bilibili,") {
		t.Errorf("Unexpected ledger:\n%s", data)
	}
}

func TestSweepSubmitRejected(t *testing.T) {
	objects := storage.NewMemoryStore("records")
	key := seedVideo(objects, "1", storedDocument("1"))
	repo := store.NewMemoryRepository()
	platform := &mockPlatform{submitErr: errors.New("code 21070")}

	p, _, _ := newTestPublisher(t, objects, platform, repo, nil)
	report, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("Expected one failure, got %+v", report)
	}
	_, raw, _ := objects.Object(key)
	if metadata.HasBeenPublished(metadata.Decode(raw)) {
		t.Error("Metadata must not be marked after a rejected submission")
	}
	if repo.RecordCount() != 0 {
		t.Error("No record row may be created after a rejected submission")
	}
}

func TestSweepMarkFailureKeepsPublishID(t *testing.T) {
	objects := storage.NewMemoryStore("records")
	seedVideo(objects, "1", storedDocument("1"))
	objects.FailSetMetadata = errors.New("forbidden")
	platform := &mockPlatform{}

	p, _, _ := newTestPublisher(t, objects, platform, store.NewMemoryRepository(), nil)
	report, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Published != 1 || report.Failed != 1 {
		t.Errorf("Unexpected report %+v", report)
	}
	if report.Outcomes[0].BVID != "BVx" || report.Outcomes[0].Err == nil {
		t.Errorf("Expected the id and the marking error, got %+v", report.Outcomes[0])
	}
}

func TestBuildSubmission(t *testing.T) {
	tests := []struct {
		name      string
		start     string
		wantTitle string
		wantErr   bool
	}{
		{"same day", "2024-03-07T01:00:00Z", "Infra weekly (2024-03-07)", false},
		{"crosses midnight", "2024-03-07T16:30:00Z", "Infra weekly (2024-03-08)", false},
		{"missing start", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := storedDocument("1")
			doc.RecordStart = tt.start
			sub, err := BuildSubmission(doc, 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if sub.Title != tt.wantTitle {
				t.Errorf("Expected title %q, got %q", tt.wantTitle, sub.Title)
			}
			if !tt.wantErr && sub.TID != DefaultTID {
				t.Errorf("Expected default tid, got %d", sub.TID)
			}
		})
	}
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
