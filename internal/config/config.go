// Package config provides configuration management for the meetings recorder
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

// ZoomConfig holds Zoom API authentication and connection settings
type ZoomConfig struct {
	AccountID    string `yaml:"account_id" json:"account_id"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	// APIKey and APISecret sign legacy JWT app tokens when no account id is configured
	APIKey    string `yaml:"api_key" json:"api_key"`
	APISecret string `yaml:"api_secret" json:"api_secret"`
	BaseURL   string `yaml:"base_url" json:"base_url"`
	AuthURL   string `yaml:"auth_url" json:"auth_url"`
}

// Enabled reports whether any Zoom credential is configured
func (z ZoomConfig) Enabled() bool {
	return z.AccountID != "" || z.APIKey != ""
}

// WeLinkConfig holds WeLink (HuaweiCloud Meeting) settings
type WeLinkConfig struct {
	BaseURL    string `yaml:"base_url" json:"base_url"`
	HostsFile  string `yaml:"hosts_file" json:"hosts_file"`
	WatchHosts bool   `yaml:"watch_hosts" json:"watch_hosts"`
}

// StorageConfig holds object storage settings
type StorageConfig struct {
	Driver          string `yaml:"driver" json:"driver"`
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Region          string `yaml:"region" json:"region"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	Namespace       string `yaml:"namespace" json:"namespace"`
	UsePathStyle    bool   `yaml:"use_path_style" json:"use_path_style"`
	Insecure        bool   `yaml:"insecure" json:"insecure"`
	PartSize        int64  `yaml:"part_size" json:"part_size"`
	ParallelParts   int    `yaml:"parallel_parts" json:"parallel_parts"`
	CheckpointDir   string `yaml:"checkpoint_dir" json:"checkpoint_dir"`
}

// Validate checks that the credentials needed to reach the bucket are present
func (s StorageConfig) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"storage.endpoint", s.Endpoint},
		{"storage.bucket", s.Bucket},
		{"storage.access_key_id", s.AccessKeyID},
		{"storage.secret_access_key", s.SecretAccessKey},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &recording.ConfigurationError{Field: r.field, Reason: "is required"}
		}
	}
	switch s.Driver {
	case "s3", "minio":
	default:
		return &recording.ConfigurationError{Field: "storage.driver", Reason: "must be one of: s3, minio"}
	}
	return nil
}

// DatabaseConfig holds relational store settings
type DatabaseConfig struct {
	DSN          string `yaml:"dsn" json:"dsn"`
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	User         string `yaml:"user" json:"user"`
	Password     string `yaml:"password" json:"password"`
	Name         string `yaml:"name" json:"name"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
}

// DataSourceName returns the MySQL DSN, built from parts when no DSN is given
func (d DatabaseConfig) DataSourceName() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// Validate checks that the database can be addressed
func (d DatabaseConfig) Validate() error {
	if d.DSN == "" && (d.Host == "" || d.Name == "") {
		return &recording.ConfigurationError{Field: "database", Reason: "requires dsn or host and name"}
	}
	return nil
}

// BilibiliConfig holds secondary video platform settings
type BilibiliConfig struct {
	MemberURL    string `yaml:"member_url" json:"member_url"`
	SESSDATA     string `yaml:"sessdata" json:"sessdata"`
	BiliJCT      string `yaml:"bili_jct" json:"bili_jct"`
	TID          int    `yaml:"tid" json:"tid"`
	DelaySeconds int    `yaml:"delay_seconds" json:"delay_seconds"`
}

// Delay returns the pause between consecutive publishes
func (b BilibiliConfig) Delay() time.Duration {
	return time.Duration(b.DelaySeconds) * time.Second
}

// Validate checks the publish credentials
func (b BilibiliConfig) Validate() error {
	if b.SESSDATA == "" || b.BiliJCT == "" {
		return &recording.ConfigurationError{Field: "bilibili.sessdata/bili_jct", Reason: "are required"}
	}
	return nil
}

// CoverConfig holds cover rendering settings
type CoverConfig struct {
	RendererPath   string `yaml:"renderer_path" json:"renderer_path"`
	BackgroundPath string `yaml:"background_path" json:"background_path"`
}

// PipelineConfig holds sweep behaviour settings
type PipelineConfig struct {
	StagingDir         string `yaml:"staging_dir" json:"staging_dir"`
	LookbackDays       int    `yaml:"lookback_days" json:"lookback_days"`
	MinSizeBytes       int64  `yaml:"min_size_bytes" json:"min_size_bytes"`
	Concurrency        int    `yaml:"concurrency" json:"concurrency"`
	JobTimeoutSeconds  int    `yaml:"job_timeout_seconds" json:"job_timeout_seconds"`
	HTTPTimeoutSeconds int    `yaml:"http_timeout_seconds" json:"http_timeout_seconds"`
	TrackingCSV        string `yaml:"tracking_csv" json:"tracking_csv"`
}

// JobTimeout returns the per-job deadline
func (p PipelineConfig) JobTimeout() time.Duration {
	return time.Duration(p.JobTimeoutSeconds) * time.Second
}

// HTTPTimeout returns the per-call timeout for outbound HTTP requests
func (p PipelineConfig) HTTPTimeout() time.Duration {
	return time.Duration(p.HTTPTimeoutSeconds) * time.Second
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	Console    bool   `yaml:"console" json:"console"`
	JSONFormat bool   `yaml:"json_format" json:"json_format"`
}

// ScheduleConfig holds the daemon recurrence rule
type ScheduleConfig struct {
	RRule string `yaml:"rrule" json:"rrule"`
}

// Config represents the complete application configuration
type Config struct {
	Zoom     ZoomConfig     `yaml:"zoom" json:"zoom"`
	WeLink   WeLinkConfig   `yaml:"welink" json:"welink"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Bilibili BilibiliConfig `yaml:"bilibili" json:"bilibili"`
	Cover    CoverConfig    `yaml:"cover" json:"cover"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
}

// LoadConfig loads configuration from a YAML file with defaults and environment variable overrides
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	if err := config.loadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}

	config.setDefaults()

	// A .env next to the working directory is optional
	_ = godotenv.Load()
	config.loadFromEnvironment()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func (c *Config) loadFromFile(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// setDefaults applies default values for missing configuration
func (c *Config) setDefaults() {
	if c.Zoom.BaseURL == "" {
		c.Zoom.BaseURL = "https://api.zoom.us/v2"
	}
	if c.Zoom.AuthURL == "" {
		c.Zoom.AuthURL = "https://zoom.us/oauth/token"
	}

	if c.WeLink.BaseURL == "" {
		c.WeLink.BaseURL = "https://api.meeting.huaweicloud.com"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "s3"
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = "opengauss"
	}
	if c.Storage.PartSize == 0 {
		c.Storage.PartSize = 10 * 1024 * 1024
	}
	if c.Storage.ParallelParts == 0 {
		c.Storage.ParallelParts = 10
	}
	if c.Storage.CheckpointDir == "" {
		c.Storage.CheckpointDir = "./checkpoints"
	}

	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}

	if c.Bilibili.MemberURL == "" {
		c.Bilibili.MemberURL = "https://member.bilibili.com"
	}
	if c.Bilibili.TID == 0 {
		c.Bilibili.TID = 124
	}
	if c.Bilibili.DelaySeconds == 0 {
		c.Bilibili.DelaySeconds = 60
	}

	if c.Cover.RendererPath == "" {
		c.Cover.RendererPath = "wkhtmltoimage"
	}
	if c.Cover.BackgroundPath == "" {
		c.Cover.BackgroundPath = "./assets/cover.png"
	}

	if c.Pipeline.StagingDir == "" {
		c.Pipeline.StagingDir = os.TempDir()
	}
	if c.Pipeline.LookbackDays == 0 {
		c.Pipeline.LookbackDays = 7
	}
	if c.Pipeline.MinSizeBytes == 0 {
		c.Pipeline.MinSizeBytes = 10 * 1024 * 1024
	}
	if c.Pipeline.Concurrency == 0 {
		c.Pipeline.Concurrency = 4
	}
	if c.Pipeline.JobTimeoutSeconds == 0 {
		c.Pipeline.JobTimeoutSeconds = 3600
	}
	if c.Pipeline.HTTPTimeoutSeconds == 0 {
		c.Pipeline.HTTPTimeoutSeconds = 60
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.File == "" {
		c.Logging.File = "./meetings-recorder.log"
	}
	// Console output is always on; disable it with MEETINGS_LOG_CONSOLE=false
	c.Logging.Console = true

	if c.Schedule.RRule == "" {
		c.Schedule.RRule = "FREQ=HOURLY;INTERVAL=1"
	}
}

// loadFromEnvironment overrides configuration with environment variables
func (c *Config) loadFromEnvironment() {
	setString := func(key string, target *string) {
		if val := os.Getenv(key); val != "" {
			*target = val
		}
	}
	setInt := func(key string, target *int) {
		if val := os.Getenv(key); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*target = n
			}
		}
	}

	setString("MEETINGS_ZOOM_ACCOUNT_ID", &c.Zoom.AccountID)
	setString("MEETINGS_ZOOM_CLIENT_ID", &c.Zoom.ClientID)
	setString("MEETINGS_ZOOM_CLIENT_SECRET", &c.Zoom.ClientSecret)
	setString("MEETINGS_ZOOM_API_KEY", &c.Zoom.APIKey)
	setString("MEETINGS_ZOOM_API_SECRET", &c.Zoom.APISecret)
	setString("MEETINGS_ZOOM_BASE_URL", &c.Zoom.BaseURL)

	setString("MEETINGS_WELINK_HOSTS_FILE", &c.WeLink.HostsFile)

	setString("MEETINGS_OBS_DRIVER", &c.Storage.Driver)
	setString("MEETINGS_OBS_ENDPOINT", &c.Storage.Endpoint)
	setString("MEETINGS_OBS_REGION", &c.Storage.Region)
	setString("MEETINGS_OBS_BUCKET", &c.Storage.Bucket)
	setString("MEETINGS_OBS_ACCESS_KEY_ID", &c.Storage.AccessKeyID)
	setString("MEETINGS_OBS_SECRET_ACCESS_KEY", &c.Storage.SecretAccessKey)

	setString("MEETINGS_DB_DSN", &c.Database.DSN)
	setString("MEETINGS_DB_HOST", &c.Database.Host)
	setInt("MEETINGS_DB_PORT", &c.Database.Port)
	setString("MEETINGS_DB_USER", &c.Database.User)
	setString("MEETINGS_DB_PASSWORD", &c.Database.Password)
	setString("MEETINGS_DB_NAME", &c.Database.Name)

	setString("MEETINGS_BILI_SESSDATA", &c.Bilibili.SESSDATA)
	setString("MEETINGS_BILI_JCT", &c.Bilibili.BiliJCT)
	setInt("MEETINGS_BILI_DELAY_SECONDS", &c.Bilibili.DelaySeconds)

	setString("MEETINGS_STAGING_DIR", &c.Pipeline.StagingDir)
	setInt("MEETINGS_CONCURRENCY", &c.Pipeline.Concurrency)

	setString("MEETINGS_LOG_LEVEL", &c.Logging.Level)
	if val := os.Getenv("MEETINGS_LOG_CONSOLE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Logging.Console = b
		}
	}
}

// Validate performs validation on the loaded configuration.
// Storage and database credentials are checked by the commands that need them.
func (c *Config) Validate() error {
	if c.Zoom.AccountID != "" && (c.Zoom.ClientID == "" || c.Zoom.ClientSecret == "") {
		return fmt.Errorf("zoom.client_id and zoom.client_secret are required with zoom.account_id")
	}
	if c.Zoom.APIKey != "" && c.Zoom.APISecret == "" {
		return fmt.Errorf("zoom.api_secret is required with zoom.api_key")
	}

	if c.Storage.PartSize < 5*1024*1024 {
		return fmt.Errorf("storage.part_size must be at least 5 MiB")
	}
	if c.Storage.ParallelParts <= 0 {
		return fmt.Errorf("storage.parallel_parts must be greater than 0")
	}

	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be greater than 0")
	}
	if c.Pipeline.LookbackDays <= 0 {
		return fmt.Errorf("pipeline.lookback_days must be greater than 0")
	}
	if c.Pipeline.JobTimeoutSeconds <= 0 || c.Pipeline.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline timeouts must be greater than 0")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	return nil
}
