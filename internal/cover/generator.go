// Package cover renders the cover image uploaded next to each recording
package cover

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/nicliuqi/test-opengauss-meetings/internal/filename"
)

// displayOffset shifts UTC recording times into the community's local time
const displayOffset = 8 * time.Hour

// BackgroundName is the file name the template expects the background under
const BackgroundName = "cover.png"

// Input is what the cover shows
type Input struct {
	Topic     string
	SIG       string
	Date      string // 2006-01-02
	StartTime string // 15:04
	EndTime   string // 15:04
}

// InputFromRecording builds an Input from UTC recording bounds
func InputFromRecording(topic, sig string, start, end time.Time) Input {
	localStart := start.UTC().Add(displayOffset)
	localEnd := end.UTC().Add(displayOffset)
	return Input{
		Topic:     topic,
		SIG:       sig,
		Date:      localStart.Format("2006-01-02"),
		StartTime: localStart.Format("15:04"),
		EndTime:   localEnd.Format("15:04"),
	}
}

// Renderer turns an HTML document into PNG bytes
type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// Generator renders covers through a Renderer
type Generator struct {
	renderer Renderer
	tmpl     *template.Template
}

// NewGenerator creates a generator using renderer
func NewGenerator(renderer Renderer) *Generator {
	return &Generator{
		renderer: renderer,
		tmpl:     template.Must(template.New("cover").Parse(coverTemplate)),
	}
}

// HTML renders the cover page for in
func (g *Generator) HTML(in Input) (string, error) {
	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("failed to render cover template: %w", err)
	}
	return buf.String(), nil
}

// Generate writes {mid}.html and {mid}.png next to videoPath and returns the PNG path.
// The HTML is removed once rasterization succeeds and kept otherwise.
func (g *Generator) Generate(ctx context.Context, in Input, videoPath string) (string, error) {
	html, err := g.HTML(in)
	if err != nil {
		return "", err
	}

	htmlPath := filename.HTMLPath(videoPath)
	if err := os.WriteFile(htmlPath, []byte(html), 0600); err != nil {
		return "", fmt.Errorf("failed to write cover html: %w", err)
	}

	image, err := g.renderer.Render(ctx, html)
	if err != nil {
		return "", fmt.Errorf("failed to render cover: %w", err)
	}
	if len(image) == 0 {
		return "", fmt.Errorf("failed to render cover: renderer returned no bytes")
	}
	if err := os.Remove(htmlPath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove cover html: %w", err)
	}

	pngPath := filename.CoverPath(videoPath)
	if err := os.WriteFile(pngPath, image, 0644); err != nil {
		return "", fmt.Errorf("failed to write cover image: %w", err)
	}
	return pngPath, nil
}

const coverTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { margin: 0; width: 1280px; height: 720px; font-family: "Noto Sans CJK SC", "Microsoft YaHei", sans-serif; }
  .cover { position: relative; width: 1280px; height: 720px; background: url("` + BackgroundName + `") no-repeat; background-size: cover; color: #ffffff; }
  .topic { position: absolute; top: 240px; left: 96px; right: 96px; font-size: 64px; font-weight: bold; line-height: 1.2; }
  .sig { position: absolute; top: 420px; left: 96px; font-size: 36px; }
  .time { position: absolute; top: 480px; left: 96px; font-size: 32px; }
</style>
</head>
<body>
<div class="cover">
  <div class="topic">{{.Topic}}</div>
  <div class="sig">SIG: {{.SIG}}</div>
  <div class="time">{{.Date}} {{.StartTime}}-{{.EndTime}}</div>
</div>
</body>
</html>
`
