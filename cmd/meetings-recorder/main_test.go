// Package main provides tests for the meetings-recorder CLI application
package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

// resetFlags clears package level flag values between runs
func resetFlags() {
	configFile = ""
	stagingDir = ""
	verbose = false
	concurrency = 0
	withPublish = false
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	cmd := buildRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedOutput string
	}{
		{
			name:           "help flag shows help",
			args:           []string{"--help"},
			expectedOutput: "meetings-recorder collects the cloud recordings",
		},
		{
			name:           "missing config shows configuration detection",
			args:           []string{"--config", filepath.Join(os.TempDir(), "does-not-exist", "config.yaml")},
			expectedOutput: "Configuration Issue Detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := executeCommand(t, tt.args...)
			if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
			if !strings.Contains(output, tt.expectedOutput) {
				t.Errorf("Expected output to contain %q, got %q", tt.expectedOutput, output)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	output, err := executeCommand(t, "version")
	if err != nil {
		t.Errorf("Expected no error but got: %v", err)
	}
	if !strings.Contains(output, "meetings-recorder version dev") {
		t.Errorf("Expected output to contain version info, got %q", output)
	}
}

func TestConfigCommand(t *testing.T) {
	output, err := executeCommand(t, "config")
	if err != nil {
		t.Errorf("Expected no error but got: %v", err)
	}

	expectedContent := []string{
		"Configuration File Structure",
		"zoom:",
		"welink:",
		"hosts_file:",
		"storage:",
		"bucket:",
		"database:",
		"bilibili:",
		"sessdata:",
		"pipeline:",
		"min_size_bytes:",
		"logging:",
		"schedule:",
		"rrule:",
		"ENVIRONMENT VARIABLES:",
		"MEETINGS_OBS_BUCKET",
		"MEETINGS_DB_DSN",
	}
	for _, content := range expectedContent {
		if !strings.Contains(output, content) {
			t.Errorf("Expected config output to contain %q", content)
		}
	}
}

func TestSubcommands(t *testing.T) {
	cmd := buildRootCommand()
	for _, name := range []string{"sweep", "publish", "daemon", "version", "config"} {
		found, _, err := cmd.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Errorf("Expected subcommand %q", name)
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := buildRootCommand()
	for _, flagName := range []string{"config", "staging-dir", "verbose", "concurrency"} {
		if cmd.PersistentFlags().Lookup(flagName) == nil {
			t.Errorf("Expected global flag %q to be defined", flagName)
		}
	}

	daemon, _, _ := cmd.Find([]string{"daemon"})
	if daemon.Flags().Lookup("publish") == nil {
		t.Error("Expected daemon --publish flag")
	}
}

func TestFlagValidation(t *testing.T) {
	_, err := executeCommand(t, "version", "--concurrency=-1")
	if err == nil || !strings.Contains(err.Error(), "concurrency") {
		t.Errorf("Expected concurrency validation error, got %v", err)
	}
}

func TestSweepRequiresStorageAndDatabase(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{
			name:   "no storage",
			config: "database:\n  dsn: \"u:p@tcp(127.0.0.1:3306)/meetings\"\n",
		},
		{
			name: "no database",
			config: `storage:
  endpoint: "obs.example.com"
  bucket: "records"
  access_key_id: "ak"
  secret_access_key: "sk"
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"MEETINGS_OBS_ENDPOINT", "MEETINGS_OBS_BUCKET", "MEETINGS_OBS_ACCESS_KEY_ID",
				"MEETINGS_OBS_SECRET_ACCESS_KEY", "MEETINGS_DB_DSN", "MEETINGS_DB_HOST", "MEETINGS_DB_NAME"} {
				t.Setenv(key, "")
			}
			path := writeConfig(t, tt.config)

			_, err := executeCommand(t, "sweep", "--config", path)
			if !recording.IsConfigurationError(err) {
				t.Errorf("Expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestPublishRequiresCredentials(t *testing.T) {
	t.Setenv("MEETINGS_BILI_SESSDATA", "")
	t.Setenv("MEETINGS_BILI_JCT", "")
	path := writeConfig(t, "pipeline:\n  concurrency: 2\n")

	_, err := executeCommand(t, "publish", "--config", path)
	if !recording.IsConfigurationError(err) {
		t.Errorf("Expected ConfigurationError, got %v", err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  concurrency: 2\n")
	resetFlags()
	t.Cleanup(resetFlags)
	configFile = path
	stagingDir = "/srv/staging"
	concurrency = 8
	verbose = true

	cfg, err := loadConfig(&cobra.Command{})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Pipeline.StagingDir != "/srv/staging" || cfg.Pipeline.Concurrency != 8 || cfg.Logging.Level != "debug" {
		t.Errorf("Expected flag overrides, got %+v %+v", cfg.Pipeline, cfg.Logging)
	}
}
