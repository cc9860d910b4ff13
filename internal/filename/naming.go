// Package filename derives object keys, staging paths and public URLs for recordings
package filename

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Extensions used for stored artifacts
const (
	VideoExt = ".mp4"
	CoverExt = ".png"
	HTMLExt  = ".html"
)

// DownloadDisposition is appended to public download links
const DownloadDisposition = "response-content-disposition=attachment"

// NamerOptions contains configuration options for the namer
type NamerOptions struct {
	// Namespace is the first key segment (default: "opengauss")
	Namespace string
	// StagingDir is where downloaded artifacts are written
	StagingDir string
	// Bucket and Endpoint build public download URLs
	Bucket   string
	Endpoint string
	// DefaultSegment replaces empty key segments (default: "default")
	DefaultSegment string
}

// Namer builds deterministic names for one storage namespace
type Namer struct {
	namespace      string
	stagingDir     string
	bucket         string
	endpoint       string
	defaultSegment string
}

// NewNamer creates a Namer with defaults applied
func NewNamer(options NamerOptions) *Namer {
	namespace := options.Namespace
	if namespace == "" {
		namespace = "opengauss"
	}
	defaultSegment := options.DefaultSegment
	if defaultSegment == "" {
		defaultSegment = "default"
	}
	return &Namer{
		namespace:      namespace,
		stagingDir:     options.StagingDir,
		bucket:         options.Bucket,
		endpoint:       options.Endpoint,
		defaultSegment: defaultSegment,
	}
}

// BaseName returns "{mid}.mp4" or "{mid}-{part}.mp4"
func BaseName(meetingID string, part int) string {
	if part > 0 {
		return meetingID + "-" + strconv.Itoa(part) + VideoExt
	}
	return meetingID + VideoExt
}

// Month returns the lowercase three-letter month abbreviation, e.g. "jan"
func Month(t time.Time) string {
	return strings.ToLower(t.Format("Jan"))
}

// ObjectKey returns {namespace}/{sig}/{month}/{mid}/{mid}[-{part}].mp4
func (n *Namer) ObjectKey(sig string, start time.Time, meetingID string, part int) string {
	return strings.Join([]string{
		n.namespace,
		n.SanitizeSegment(sig),
		Month(start),
		n.SanitizeSegment(meetingID),
		BaseName(meetingID, part),
	}, "/")
}

// CoverKey returns the cover key that sits next to a video key
func CoverKey(videoKey string) string {
	return strings.TrimSuffix(videoKey, VideoExt) + CoverExt
}

// IsVideoKey reports whether the key names a stored video
func IsVideoKey(key string) bool {
	return strings.HasSuffix(key, VideoExt)
}

// SanitizeSegment normalizes a key segment so it cannot add or escape key levels
func (n *Namer) SanitizeSegment(segment string) string {
	normalized := norm.NFC.String(segment)

	var result strings.Builder
	for _, r := range normalized {
		switch {
		case r == '/' || r == '\\':
			result.WriteRune('-')
		case unicode.IsControl(r):
			// dropped
		default:
			result.WriteRune(r)
		}
	}

	cleaned := strings.TrimSpace(result.String())
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return n.defaultSegment
	}
	return cleaned
}

// StagingPath returns the local download path for a meeting part
func (n *Namer) StagingPath(meetingID string, part int) string {
	return filepath.Join(n.stagingDir, BaseName(meetingID, part))
}

// CoverPath returns the local cover image path for a staged video
func CoverPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, VideoExt) + CoverExt
}

// HTMLPath returns the local cover HTML path for a staged video
func HTMLPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, VideoExt) + HTMLExt
}

// DownloadURL returns https://{bucket}.{endpoint}/{key}?response-content-disposition=attachment
func (n *Namer) DownloadURL(key string) string {
	return "https://" + n.bucket + "." + n.endpoint + "/" + key + "?" + DownloadDisposition
}

// PlaybackURL strips the query string from a download URL
func PlaybackURL(downloadURL string) string {
	if idx := strings.Index(downloadURL, "?"); idx >= 0 {
		return downloadURL[:idx]
	}
	return downloadURL
}

// ThumbnailURL returns the cover URL for a video URL
func ThumbnailURL(videoURL string) string {
	return strings.Replace(videoURL, VideoExt, CoverExt, 1)
}
