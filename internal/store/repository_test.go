package store

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
)

func seed(repo *MemoryRepository) {
	meetings := []Meeting{
		{MID: "today", Date: "2024-03-08", MPlatform: "zoom"},
		{MID: "edge-in", Date: "2024-03-02", MPlatform: "zoom"},
		{MID: "edge-out", Date: "2024-03-01", MPlatform: "zoom"},
		{MID: "future", Date: "2024-03-09", MPlatform: "zoom"},
		{MID: "deleted", Date: "2024-03-07", IsDelete: 1},
		{MID: "unflagged", Date: "2024-03-07"},
	}
	for _, m := range meetings {
		repo.AddMeeting(m)
		if m.MID != "unflagged" {
			repo.AddVideo(Video{MID: m.MID})
		}
	}
}

func TestEligibleWindow(t *testing.T) {
	after, until := EligibleWindow(time.Date(2024, 3, 8, 15, 0, 0, 0, time.UTC), 7)
	if after != "2024-03-01" || until != "2024-03-08" {
		t.Errorf("Expected (2024-03-01, 2024-03-08], got (%s, %s]", after, until)
	}
}

func TestMemoryEligibleMeetingIDs(t *testing.T) {
	repo := NewMemoryRepository()
	seed(repo)

	ids, err := repo.EligibleMeetingIDs(context.Background(), time.Date(2024, 3, 8, 15, 0, 0, 0, time.UTC), 7)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if want := []string{"edge-in", "today"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("Expected %v, got %v", want, ids)
	}
}

func TestMemoryUpsertVideo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	repo.AddMeeting(Meeting{MID: "1", Topic: "Infra", GroupName: "infra", Community: "opengauss"})

	update := VideoUpdate{MeetingID: "1", Start: "s", End: "e", TotalSize: 42, Attenders: `["a"]`, DownloadURL: "u"}
	if err := repo.UpsertVideo(ctx, update); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	video, err := repo.GetVideo(ctx, "1")
	if err != nil {
		t.Fatalf("Expected video created from meeting: %v", err)
	}
	if video.Topic != "Infra" || video.GroupName != "infra" || video.TotalSize != 42 {
		t.Errorf("Unexpected created video %+v", video)
	}

	update.TotalSize = 43
	if err := repo.UpsertVideo(ctx, update); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if video, _ := repo.GetVideo(ctx, "1"); video.TotalSize != 43 {
		t.Errorf("Expected update in place, got %+v", video)
	}

	if err := repo.UpsertVideo(ctx, VideoUpdate{MeetingID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRecords(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	if err := repo.UpsertRecord(ctx, "1", PlatformOBS, "u1", "t1"); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertRecord(ctx, "1", PlatformOBS, "u2", "t2"); err != nil {
		t.Fatal(err)
	}
	if rec, _ := repo.Record("1", PlatformOBS); rec.URL != "u2" || rec.Thumbnail != "t2" {
		t.Errorf("Expected update in place, got %+v", rec)
	}

	for i := 0; i < 2; i++ {
		if err := repo.EnsureRecord(ctx, "1", PlatformBilibili); err != nil {
			t.Fatal(err)
		}
	}
	if repo.RecordCount() != 2 {
		t.Errorf("Expected one row per (mid, platform), got %d", repo.RecordCount())
	}

	repo.FailWrites = errors.New("db down")
	if err := repo.EnsureRecord(ctx, "2", PlatformBilibili); err == nil {
		t.Error("Expected injected failure")
	}
}

func TestOpenRequiresAddress(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{}); err == nil {
		t.Error("Expected configuration error")
	}
}

// TestGormRepository runs against a real MySQL when MEETINGS_TEST_MYSQL_DSN is set
func TestGormRepository(t *testing.T) {
	dsn := os.Getenv("MEETINGS_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("MEETINGS_TEST_MYSQL_DSN not set")
	}

	db, err := Open(config.DatabaseConfig{DSN: dsn, MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Migrator().DropTable(&Meeting{}, &Video{}, &Record{}); err != nil {
		t.Fatalf("Failed to reset tables: %v", err)
	}
	if err := db.AutoMigrate(&Meeting{}, &Video{}, &Record{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	ctx := context.Background()
	repo := NewGormRepository(db)
	db.Create(&Meeting{MID: "100", Topic: "Infra", Date: "2024-03-08", MPlatform: "zoom"})
	db.Create(&Meeting{MID: "200", Topic: "Old", Date: "2024-02-01", MPlatform: "zoom"})
	db.Create(&Video{MID: "100"})
	db.Create(&Video{MID: "200"})

	ids, err := repo.EligibleMeetingIDs(ctx, time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC), 7)
	if err != nil || !reflect.DeepEqual(ids, []string{"100"}) {
		t.Fatalf("Expected [100], got %v (%v)", ids, err)
	}

	if err := repo.UpsertVideo(ctx, VideoUpdate{MeetingID: "100", TotalSize: 7, DownloadURL: "u"}); err != nil {
		t.Fatalf("UpsertVideo failed: %v", err)
	}
	if video, err := repo.GetVideo(ctx, "100"); err != nil || video.TotalSize != 7 {
		t.Errorf("Expected updated video, got %+v (%v)", video, err)
	}

	for _, url := range []string{"u1", "u2"} {
		if err := repo.UpsertRecord(ctx, "100", PlatformOBS, url, url+".png"); err != nil {
			t.Fatalf("UpsertRecord failed: %v", err)
		}
	}
	var records []Record
	db.Where("mid = ?", "100").Find(&records)
	if len(records) != 1 || records[0].URL != "u2" {
		t.Errorf("Expected one updated record, got %+v", records)
	}

	if _, err := repo.GetMeeting(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
