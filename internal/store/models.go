// Package store reads meetings and writes playback rows in the relational database
package store

import "time"

// Record platforms
const (
	PlatformOBS      = "obs"
	PlatformBilibili = "bilibili"
)

// Meeting is a scheduled meeting; the recorder only reads it
type Meeting struct {
	ID        uint   `gorm:"column:id;primaryKey"`
	MID       string `gorm:"column:mid;type:varchar(20);index"`
	Topic     string `gorm:"column:topic;type:varchar(128)"`
	Community string `gorm:"column:community;type:varchar(40)"`
	GroupName string `gorm:"column:group_name;type:varchar(40)"`
	Agenda    string `gorm:"column:agenda;type:text"`
	// Date is YYYY-MM-DD; Start and End are HH:MM in community local time
	Date      string `gorm:"column:date;type:varchar(30)"`
	Start     string `gorm:"column:start;type:varchar(30)"`
	End       string `gorm:"column:end;type:varchar(30)"`
	HostID    string `gorm:"column:host_id;type:varchar(254)"`
	IsDelete  int    `gorm:"column:is_delete;type:smallint;default:0"`
	MPlatform string `gorm:"column:mplatform;type:varchar(20);default:zoom"`
}

// TableName returns the table created by the scheduling service
func (Meeting) TableName() string {
	return "meetings_meeting"
}

// Video is the playback row of a recorded meeting; its presence flags the meeting for recording
type Video struct {
	ID          uint      `gorm:"column:id;primaryKey"`
	MID         string    `gorm:"column:mid;type:varchar(12);index"`
	Topic       string    `gorm:"column:topic;type:varchar(50)"`
	Community   string    `gorm:"column:community;type:varchar(40)"`
	GroupName   string    `gorm:"column:group_name;type:varchar(50)"`
	Agenda      string    `gorm:"column:agenda;type:text"`
	Attenders   string    `gorm:"column:attenders;type:text"`
	Start       string    `gorm:"column:start;type:varchar(30)"`
	End         string    `gorm:"column:end;type:varchar(30)"`
	TotalSize   int64     `gorm:"column:total_size"`
	DownloadURL string    `gorm:"column:download_url;type:varchar(255)"`
	ReplayURL   string    `gorm:"column:replay_url;type:varchar(255)"`
	CreateTime  time.Time `gorm:"column:create_time;autoCreateTime"`
}

// TableName returns the table created by the scheduling service
func (Video) TableName() string {
	return "meetings_video"
}

// Record is a playback location of a meeting on one platform
type Record struct {
	ID        uint   `gorm:"column:id;primaryKey"`
	MID       string `gorm:"column:mid;type:varchar(12);uniqueIndex:idx_record_mid_platform"`
	Platform  string `gorm:"column:platform;type:varchar(50);uniqueIndex:idx_record_mid_platform"`
	URL       string `gorm:"column:url;type:varchar(255)"`
	Thumbnail string `gorm:"column:thumbnail;type:varchar(255)"`
}

// TableName returns the table created by the scheduling service
func (Record) TableName() string {
	return "meetings_record"
}

// VideoUpdate carries the recording facts written back after a successful upload
type VideoUpdate struct {
	MeetingID   string
	Start       string
	End         string
	TotalSize   int64
	Attenders   string
	DownloadURL string
}
