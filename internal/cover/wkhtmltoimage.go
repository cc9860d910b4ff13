package cover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
	"github.com/nicliuqi/test-opengauss-meetings/internal/logging"
)

// DefaultRendererPath is the wkhtmltoimage binary looked up on PATH
const DefaultRendererPath = "wkhtmltoimage"

// WkhtmltoimageRenderer renders HTML with the wkhtmltoimage binary.
// Each call works in its own scratch directory holding the page and its background.
type WkhtmltoimageRenderer struct {
	Path       string // binary path
	Background string // background image copied next to the page
	ScratchDir string // parent of the per-call scratch directories, os.TempDir when empty
	logger     logging.Logger
}

// NewWkhtmltoimageRenderer creates a renderer from configuration
func NewWkhtmltoimageRenderer(cfg config.CoverConfig) *WkhtmltoimageRenderer {
	path := cfg.RendererPath
	if path == "" {
		path = DefaultRendererPath
	}
	return &WkhtmltoimageRenderer{
		Path:       path,
		Background: cfg.BackgroundPath,
		logger:     logging.GetDefaultLogger(),
	}
}

// Render writes html to a scratch directory, runs the binary and returns the PNG bytes.
// The scratch directory is removed whatever the outcome.
func (r *WkhtmltoimageRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	scratch, err := os.MkdirTemp(r.ScratchDir, "cover-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	if r.Background != "" {
		if err := copyFile(r.Background, filepath.Join(scratch, BackgroundName)); err != nil {
			return nil, fmt.Errorf("failed to stage cover background: %w", err)
		}
	}

	input := filepath.Join(scratch, "in.html")
	output := filepath.Join(scratch, "out.png")
	if err := os.WriteFile(input, []byte(html), 0600); err != nil {
		return nil, fmt.Errorf("failed to write cover html: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Path, "--enable-local-file-access", input, output)
	cmd.Dir = scratch
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", r.Path, err, bytes.TrimSpace(stderr.Bytes()))
	}

	image, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered cover: %w", err)
	}
	if r.logger != nil {
		r.logger.Debug("Rendered cover of %d bytes", len(image))
	}
	return image, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
