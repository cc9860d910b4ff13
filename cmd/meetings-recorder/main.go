package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicliuqi/test-opengauss-meetings/internal/bilibili"
	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
	"github.com/nicliuqi/test-opengauss-meetings/internal/cover"
	"github.com/nicliuqi/test-opengauss-meetings/internal/dispatcher"
	"github.com/nicliuqi/test-opengauss-meetings/internal/filename"
	"github.com/nicliuqi/test-opengauss-meetings/internal/hosts"
	"github.com/nicliuqi/test-opengauss-meetings/internal/logging"
	"github.com/nicliuqi/test-opengauss-meetings/internal/pipeline"
	"github.com/nicliuqi/test-opengauss-meetings/internal/publisher"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
	"github.com/nicliuqi/test-opengauss-meetings/internal/schedule"
	"github.com/nicliuqi/test-opengauss-meetings/internal/selector"
	"github.com/nicliuqi/test-opengauss-meetings/internal/storage"
	"github.com/nicliuqi/test-opengauss-meetings/internal/store"
	"github.com/nicliuqi/test-opengauss-meetings/internal/tracking"
	"github.com/nicliuqi/test-opengauss-meetings/internal/transfer"
	"github.com/nicliuqi/test-opengauss-meetings/internal/welink"
	"github.com/nicliuqi/test-opengauss-meetings/internal/zoom"
)

var (
	// Version information - will be set during build
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile  string
	stagingDir  string
	verbose     bool
	concurrency int
	withPublish bool
)

// buildRootCommand creates and configures the root command
func buildRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "meetings-recorder",
		Short: "Archive community meeting recordings to object storage",
		Long: `meetings-recorder collects the cloud recordings of community meetings
from Zoom and WeLink and archives them in object storage.

Each sweep:
- Selects meetings of the last days that have a video row
- Finds the newest complete recording of every meeting
- Uploads it when the bucket holds no copy or a smaller one
- Renders a cover and updates the video and record rows

The publish command republishes archived recordings to Bilibili.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				showConfigIssue(cmd, err)
				return nil
			}
			return runSweep(cmd.Context(), cmd, cfg)
		},
	}

	rootCmd.AddCommand(createSweepCommand())
	rootCmd.AddCommand(createPublishCommand())
	rootCmd.AddCommand(createDaemonCommand())
	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file path (default: config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stagingDir, "staging-dir", "", "local staging directory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "max meetings processed at once (0 = use config)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if concurrency < 0 {
			return fmt.Errorf("concurrency must be a positive number or 0, got: %d", concurrency)
		}
		return nil
	}

	return rootCmd
}

func createSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one recording sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runSweep(cmd.Context(), cmd, cfg)
		},
	}
}

func createPublishCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish archived recordings to Bilibili",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runPublish(cmd.Context(), cmd, cfg)
		},
	}
}

func createDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run sweeps on the configured schedule",
		Long: `Run sweeps at every occurrence of schedule.rrule until interrupted.
With --publish, each sweep is followed by a publish sweep.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cmd, cfg)
		},
	}
	cmd.Flags().BoolVar(&withPublish, "publish", false, "publish to Bilibili after every sweep")
	return cmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version, commit, and build information for meetings-recorder",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("meetings-recorder version %s\n", version)
			cmd.Printf("Commit: %s\n", commit)
			cmd.Printf("Build date: %s\n", buildDate)
		},
	}
}

// createConfigCommand creates the config help subcommand
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show configuration file structure",
		Long:  "Display the configuration file structure and the environment variables that override it",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(configHelp)
		},
	}
}

const configHelp = `Configuration File Structure (config.yaml):

MEETING PLATFORMS:
=================
zoom:
  account_id: "your_zoom_account_id"       # Server-to-Server OAuth app
  client_id: "your_zoom_client_id"
  client_secret: "your_zoom_client_secret"
  api_key: ""                              # legacy JWT app, used when account_id is empty
  api_secret: ""
  base_url: "https://api.zoom.us/v2"

welink:
  base_url: "https://api.meeting.huaweicloud.com"
  hosts_file: "./hosts.yaml"               # host_id -> {account, pwd}
  watch_hosts: false                       # reload the hosts file when it changes

OBJECT STORAGE (Required):
=========================
storage:
  driver: "s3"                             # s3 or minio
  endpoint: "obs.cn-north-4.myhuaweicloud.com"
  region: ""
  bucket: "your_bucket"
  access_key_id: "your_access_key_id"
  secret_access_key: "your_secret_access_key"
  namespace: "opengauss"                   # first key segment
  part_size: 10485760                      # multipart part size in bytes (min 5 MiB)
  parallel_parts: 10
  checkpoint_dir: "./checkpoints"

DATABASE (Required):
===================
database:
  dsn: ""                                  # or host/port/user/password/name
  host: "127.0.0.1"
  port: 3306
  user: "meetings"
  password: ""
  name: "meetings"

PUBLISHING (publish command):
============================
bilibili:
  sessdata: ""
  bili_jct: ""
  tid: 124
  delay_seconds: 60                        # pause between consecutive publishes

COVERS:
======
cover:
  renderer_path: "wkhtmltoimage"
  background_path: "./assets/cover.png"

PIPELINE:
========
pipeline:
  staging_dir: "/tmp"
  lookback_days: 7
  min_size_bytes: 10485760                 # smaller recordings are never stored
  concurrency: 4
  job_timeout_seconds: 3600
  http_timeout_seconds: 60
  tracking_csv: ""                         # append job outcomes to this CSV file

LOGGING:
=======
logging:
  level: "info"                            # debug, info, warn, error
  file: "./meetings-recorder.log"
  console: true
  json_format: false

SCHEDULE (daemon command):
=========================
schedule:
  rrule: "FREQ=HOURLY;INTERVAL=1"

ENVIRONMENT VARIABLES:
=====================
  MEETINGS_ZOOM_ACCOUNT_ID, MEETINGS_ZOOM_CLIENT_ID, MEETINGS_ZOOM_CLIENT_SECRET
  MEETINGS_ZOOM_API_KEY, MEETINGS_ZOOM_API_SECRET, MEETINGS_ZOOM_BASE_URL
  MEETINGS_WELINK_HOSTS_FILE
  MEETINGS_OBS_DRIVER, MEETINGS_OBS_ENDPOINT, MEETINGS_OBS_REGION, MEETINGS_OBS_BUCKET
  MEETINGS_OBS_ACCESS_KEY_ID, MEETINGS_OBS_SECRET_ACCESS_KEY
  MEETINGS_DB_DSN, MEETINGS_DB_HOST, MEETINGS_DB_PORT, MEETINGS_DB_USER
  MEETINGS_DB_PASSWORD, MEETINGS_DB_NAME
  MEETINGS_BILI_SESSDATA, MEETINGS_BILI_JCT, MEETINGS_BILI_DELAY_SECONDS
  MEETINGS_STAGING_DIR, MEETINGS_CONCURRENCY
  MEETINGS_LOG_LEVEL, MEETINGS_LOG_CONSOLE

A .env file in the working directory is loaded before the environment is read.

EXAMPLE USAGE:
=============
  meetings-recorder sweep --config config.yaml
  meetings-recorder publish --config config.yaml
  meetings-recorder daemon --publish --verbose
`

// loadConfig reads the configuration and applies command line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath := "config.yaml"
	if configFile != "" {
		configPath = configFile
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if stagingDir != "" {
		cfg.Pipeline.StagingDir = stagingDir
	}
	if concurrency > 0 {
		cfg.Pipeline.Concurrency = concurrency
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func showConfigIssue(cmd *cobra.Command, err error) {
	cmd.Printf("⚠️  Configuration Issue Detected\n\n")
	if strings.Contains(err.Error(), "failed to read config file") {
		cmd.Printf("Configuration file not found.\n\n")
		cmd.Printf("To get started:\n")
		cmd.Printf("1. Run 'meetings-recorder config' to see configuration structure\n")
		cmd.Printf("2. Create config.yaml with your storage and database settings\n")
		cmd.Printf("3. Run 'meetings-recorder sweep'\n\n")
	} else {
		cmd.Printf("Configuration error: %v\n\n", err)
	}
	cmd.Printf("For detailed help: meetings-recorder config\n")
}

// recorder holds the collaborators shared by sweeps
type recorder struct {
	repo    store.Repository
	objects storage.ObjectStore
	tracker tracking.Tracker
	closers []func() error
}

func (r *recorder) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

// openRecorder checks storage and database settings, then connects to both
func openRecorder(ctx context.Context, cfg *config.Config) (*recorder, error) {
	if err := dispatcher.Preflight(cfg.Storage, cfg.Database); err != nil {
		return nil, err
	}
	if err := logging.InitializeLogging(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	r := &recorder{tracker: tracking.NopTracker{}}
	r.closers = append(r.closers, logging.GetDefaultLogger().Close)

	db, err := store.Open(cfg.Database)
	if err != nil {
		r.Close()
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		r.closers = append(r.closers, sqlDB.Close)
	}
	r.repo = store.NewGormRepository(db)

	r.objects, err = storage.New(ctx, cfg.Storage)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}

	if cfg.Pipeline.TrackingCSV != "" {
		tracker, err := tracking.NewCSVTracker(cfg.Pipeline.TrackingCSV)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to create tracker: %w", err)
		}
		r.tracker = tracker
	}
	return r, nil
}

// newDispatcher wires the platform adapters and the transfer pipeline
func (r *recorder) newDispatcher(ctx context.Context, cfg *config.Config) (*dispatcher.Dispatcher, error) {
	timeout := cfg.Pipeline.HTTPTimeout()

	var adapters []recording.Adapter
	if cfg.Zoom.Enabled() {
		adapter, err := zoom.NewAdapter(ctx, cfg.Zoom, timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create zoom adapter: %w", err)
		}
		adapters = append(adapters, adapter)
	}
	if cfg.WeLink.HostsFile != "" {
		registry, err := hosts.NewManager(hosts.Config{FilePath: cfg.WeLink.HostsFile, WatchFile: cfg.WeLink.WatchHosts})
		if err != nil {
			return nil, fmt.Errorf("failed to load welink hosts: %w", err)
		}
		r.closers = append(r.closers, registry.Close)
		adapters = append(adapters, welink.NewAdapter(cfg.WeLink, registry, timeout))
	}
	if len(adapters) == 0 {
		logging.Warn("No meeting platform is configured, every meeting will fail discovery")
	}

	checkpoints, err := transfer.NewCheckpointStore(cfg.Storage.CheckpointDir)
	if err != nil {
		return nil, err
	}

	downloadCfg := transfer.DefaultDownloadConfig()
	downloadCfg.Timeout = cfg.Pipeline.JobTimeout()

	renderer := cover.NewWkhtmltoimageRenderer(cfg.Cover)
	renderer.ScratchDir = cfg.Pipeline.StagingDir

	processor := pipeline.NewProcessor(pipeline.Dependencies{
		Adapters:   adapters,
		Repository: r.repo,
		Store:      r.objects,
		Downloader: transfer.NewDownloader(downloadCfg, nil),
		Uploader: transfer.NewUploader(r.objects, r.objects.Bucket(), checkpoints, transfer.UploadConfig{
			PartSize:      cfg.Storage.PartSize,
			ParallelParts: cfg.Storage.ParallelParts,
		}),
		Covers: cover.NewGenerator(renderer),
		Namer: filename.NewNamer(filename.NamerOptions{
			Namespace:  cfg.Storage.Namespace,
			StagingDir: cfg.Pipeline.StagingDir,
			Bucket:     cfg.Storage.Bucket,
			Endpoint:   cfg.Storage.Endpoint,
		}),
		Selector: selector.New(cfg.Pipeline.MinSizeBytes),
	})

	return dispatcher.New(r.repo, processor, r.tracker, dispatcher.Config{
		Concurrency:  cfg.Pipeline.Concurrency,
		JobTimeout:   cfg.Pipeline.JobTimeout(),
		LookbackDays: cfg.Pipeline.LookbackDays,
		Storage:      cfg.Storage,
		Database:     cfg.Database,
	}), nil
}

func (r *recorder) newPublisher(cfg *config.Config) (*publisher.Publisher, error) {
	client, err := bilibili.NewClient(cfg.Bilibili, cfg.Pipeline.HTTPTimeout())
	if err != nil {
		return nil, err
	}
	return publisher.New(r.objects, client, r.repo, r.tracker, publisher.Config{
		StagingDir: cfg.Pipeline.StagingDir,
		Delay:      cfg.Bilibili.Delay(),
		TID:        cfg.Bilibili.TID,
	}), nil
}

func runSweep(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	r, err := openRecorder(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	d, err := r.newDispatcher(ctx, cfg)
	if err != nil {
		return err
	}
	report, err := d.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	showSweepSummary(cmd, report)
	return nil
}

func runPublish(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	if err := cfg.Bilibili.Validate(); err != nil {
		return err
	}
	r, err := openRecorder(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	p, err := r.newPublisher(cfg)
	if err != nil {
		return err
	}
	report, err := p.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	showPublishSummary(cmd, report)
	return nil
}

func runDaemon(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	if withPublish {
		if err := cfg.Bilibili.Validate(); err != nil {
			return err
		}
	}
	scheduler, err := schedule.New(cfg.Schedule.RRule, time.Now())
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := openRecorder(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	d, err := r.newDispatcher(ctx, cfg)
	if err != nil {
		return err
	}
	var p *publisher.Publisher
	if withPublish {
		if p, err = r.newPublisher(cfg); err != nil {
			return err
		}
	}

	cmd.Printf("Daemon started with schedule %s\n", cfg.Schedule.RRule)
	err = scheduler.Run(ctx, func(ctx context.Context) error {
		report, err := d.Sweep(ctx)
		if err != nil {
			return err
		}
		showSweepSummary(cmd, report)
		if p == nil {
			return nil
		}
		published, err := p.Sweep(ctx)
		if err != nil {
			return err
		}
		showPublishSummary(cmd, published)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		cmd.Printf("Daemon stopped\n")
		return nil
	}
	return err
}

func showSweepSummary(cmd *cobra.Command, report *dispatcher.Report) {
	cmd.Printf("\n📊 Sweep %s\n", report.SweepID)
	cmd.Printf("   Meetings: %d\n", len(report.Outcomes))
	cmd.Printf("   Failed:   %d\n", report.Failed())
	if summary := report.Summary(); summary != "" {
		cmd.Printf("   States:   %s\n", summary)
	}
	for _, outcome := range report.Outcomes {
		if outcome.Err != nil {
			cmd.Printf("   ❌ %s (%s): %v\n", outcome.MeetingID, outcome.State, outcome.Err)
		}
	}
}

func showPublishSummary(cmd *cobra.Command, report *publisher.Report) {
	cmd.Printf("\n📺 Publish %s\n", report.SweepID)
	cmd.Printf("   Published: %d\n", report.Published)
	cmd.Printf("   Skipped:   %d\n", report.Skipped)
	cmd.Printf("   Failed:    %d\n", report.Failed)
	for _, outcome := range report.Outcomes {
		if outcome.Err != nil {
			cmd.Printf("   ❌ %s: %v\n", outcome.Key, outcome.Err)
		}
	}
}

func main() {
	rootCmd := buildRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
