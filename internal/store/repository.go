package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
)

// ErrNotFound is returned when a meeting or video row does not exist
var ErrNotFound = errors.New("record not found")

// dateLayout is the format of Meeting.Date
const dateLayout = "2006-01-02"

// Repository is the relational collaborator of the pipeline and the publisher
type Repository interface {
	// EligibleMeetingIDs returns flagged, non-deleted meetings dated in (now-lookbackDays, now]
	EligibleMeetingIDs(ctx context.Context, now time.Time, lookbackDays int) ([]string, error)
	GetMeeting(ctx context.Context, meetingID string) (*Meeting, error)
	GetVideo(ctx context.Context, meetingID string) (*Video, error)
	// UpsertVideo writes the recording facts, creating the row from the meeting when missing
	UpsertVideo(ctx context.Context, update VideoUpdate) error
	// UpsertRecord creates or updates the (mid, platform) row in place
	UpsertRecord(ctx context.Context, meetingID, platform, url, thumbnail string) error
	// EnsureRecord creates an empty (mid, platform) row unless one exists
	EnsureRecord(ctx context.Context, meetingID, platform string) error
}

// Open connects to MySQL using cfg
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := gorm.Open(mysql.Open(cfg.DataSourceName()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// GormRepository implements Repository on gorm
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a repository backed by db
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// EligibleWindow returns the exclusive lower and inclusive upper meeting dates
func EligibleWindow(now time.Time, lookbackDays int) (string, string) {
	return now.AddDate(0, 0, -lookbackDays).Format(dateLayout), now.Format(dateLayout)
}

// EligibleMeetingIDs returns flagged, non-deleted meetings dated in (now-lookbackDays, now]
func (r *GormRepository) EligibleMeetingIDs(ctx context.Context, now time.Time, lookbackDays int) ([]string, error) {
	after, until := EligibleWindow(now, lookbackDays)
	flagged := r.db.Model(&Video{}).Select("mid")

	var ids []string
	err := r.db.WithContext(ctx).
		Model(&Meeting{}).
		Where("is_delete = ? AND date > ? AND date <= ? AND mid IN (?)", 0, after, until, flagged).
		Distinct("mid").
		Order("mid").
		Pluck("mid", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible meetings: %w", err)
	}
	return ids, nil
}

// GetMeeting returns the meeting row for meetingID
func (r *GormRepository) GetMeeting(ctx context.Context, meetingID string) (*Meeting, error) {
	var meeting Meeting
	err := r.db.WithContext(ctx).Where("mid = ?", meetingID).First(&meeting).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &meeting, nil
}

// GetVideo returns the video row for meetingID
func (r *GormRepository) GetVideo(ctx context.Context, meetingID string) (*Video, error) {
	var video Video
	err := r.db.WithContext(ctx).Where("mid = ?", meetingID).First(&video).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &video, nil
}

// UpsertVideo writes the recording facts, creating the row from the meeting when missing
func (r *GormRepository) UpsertVideo(ctx context.Context, update VideoUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var video Video
		err := tx.Where("mid = ?", update.MeetingID).First(&video).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			var meeting Meeting
			if err := tx.Where("mid = ?", update.MeetingID).First(&meeting).Error; err != nil {
				return fmt.Errorf("failed to load meeting for new video row: %w", notFound(err))
			}
			video = newVideo(&meeting, update)
			return tx.Create(&video).Error
		case err != nil:
			return err
		}

		return tx.Model(&Video{}).Where("mid = ?", update.MeetingID).Updates(map[string]interface{}{
			"start":        update.Start,
			"end":          update.End,
			"total_size":   update.TotalSize,
			"attenders":    update.Attenders,
			"download_url": update.DownloadURL,
		}).Error
	})
}

// UpsertRecord creates or updates the (mid, platform) row in place
func (r *GormRepository) UpsertRecord(ctx context.Context, meetingID, platform, url, thumbnail string) error {
	var record Record
	return r.db.WithContext(ctx).
		Where(Record{MID: meetingID, Platform: platform}).
		Assign(Record{URL: url, Thumbnail: thumbnail}).
		FirstOrCreate(&record).Error
}

// EnsureRecord creates an empty (mid, platform) row unless one exists
func (r *GormRepository) EnsureRecord(ctx context.Context, meetingID, platform string) error {
	var record Record
	return r.db.WithContext(ctx).
		Where(Record{MID: meetingID, Platform: platform}).
		FirstOrCreate(&record).Error
}

func newVideo(meeting *Meeting, update VideoUpdate) Video {
	return Video{
		MID:         meeting.MID,
		Topic:       meeting.Topic,
		Community:   meeting.Community,
		GroupName:   meeting.GroupName,
		Agenda:      meeting.Agenda,
		Attenders:   update.Attenders,
		Start:       update.Start,
		End:         update.End,
		TotalSize:   update.TotalSize,
		DownloadURL: update.DownloadURL,
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
