package zoom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
	"github.com/nicliuqi/test-opengauss-meetings/internal/logging"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

const (
	// DefaultBaseURL is the Zoom REST API root
	DefaultBaseURL = "https://api.zoom.us/v2"

	recordingsPageSize   = 50
	participantsPageSize = 300
)

// Adapter implements recording.Adapter for Zoom
type Adapter struct {
	baseURL    string
	tokens     oauth2.TokenSource
	httpClient *http.Client
	noRedirect *http.Client
	logger     logging.Logger
}

var _ recording.Adapter = (*Adapter)(nil)

// NewAdapter creates a Zoom adapter that owns its token cache.
// ctx is kept by the token source for refreshes and should outlive the adapter.
func NewAdapter(ctx context.Context, cfg config.ZoomConfig, timeout time.Duration) (*Adapter, error) {
	httpClient := NewHTTPClient(HTTPClientConfig{Timeout: timeout, FollowRedirects: true})
	tokens, err := NewTokenSource(ctx, cfg, httpClient)
	if err != nil {
		return nil, err
	}
	return NewAdapterWithTokenSource(cfg.BaseURL, tokens, timeout), nil
}

// NewAdapterWithTokenSource creates an adapter over an existing token source
func NewAdapterWithTokenSource(baseURL string, tokens oauth2.TokenSource, timeout time.Duration) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		httpClient: NewHTTPClient(HTTPClientConfig{Timeout: timeout, FollowRedirects: true}),
		noRedirect: NewHTTPClient(HTTPClientConfig{Timeout: timeout, FollowRedirects: false}),
		logger:     logging.GetDefaultLogger(),
	}
}

// Platform returns recording.PlatformZoom
func (a *Adapter) Platform() recording.Platform {
	return recording.PlatformZoom
}

// ListRecordings returns every recording file of the host within the window
func (a *Adapter) ListRecordings(ctx context.Context, hostID string, window recording.Window) ([]recording.Candidate, error) {
	var candidates []recording.Candidate
	pageToken := ""

	for {
		query := url.Values{}
		query.Set("from", window.Start.UTC().Format("2006-01-02"))
		query.Set("to", window.End.UTC().Format("2006-01-02"))
		query.Set("page_size", strconv.Itoa(recordingsPageSize))
		if pageToken != "" {
			query.Set("next_page_token", pageToken)
		}
		endpoint := fmt.Sprintf("%s/users/%s/recordings?%s", a.baseURL, url.PathEscape(hostID), query.Encode())

		var page ListRecordingsResponse
		if err := a.getJSON(ctx, "list recordings", endpoint, &page); err != nil {
			return nil, err
		}
		for _, meeting := range page.Meetings {
			candidates = append(candidates, candidatesFromRecording(meeting)...)
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	a.logger.Debug("Zoom host %s has %d recording files", hostID, len(candidates))
	return candidates, nil
}

// GetParticipants returns the attendees of a past meeting across all pages
func (a *Adapter) GetParticipants(ctx context.Context, meetingID string) ([]recording.Participant, error) {
	var participants []recording.Participant
	pageToken := ""

	for {
		query := url.Values{}
		query.Set("page_size", strconv.Itoa(participantsPageSize))
		if pageToken != "" {
			query.Set("next_page_token", pageToken)
		}
		endpoint := fmt.Sprintf("%s/past_meetings/%s/participants?%s", a.baseURL, url.PathEscape(meetingID), query.Encode())

		var page ParticipantsResponse
		if err := a.getJSON(ctx, "get participants", endpoint, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Participants {
			participants = append(participants, recording.Participant{
				ID:        p.ID,
				Name:      p.Name,
				Email:     p.UserEmail,
				JoinTime:  p.JoinTime,
				LeaveTime: p.LeaveTime,
				Duration:  p.Duration,
			})
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return participants, nil
}

// ResolveDownload follows one redirect of the download URL and returns its target
func (a *Adapter) ResolveDownload(ctx context.Context, candidate recording.Candidate) (recording.DownloadHandle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate.Handle.URL, nil)
	if err != nil {
		return recording.DownloadHandle{}, fmt.Errorf("failed to create request: %w", err)
	}
	if err := a.authorize(req); err != nil {
		return recording.DownloadHandle{}, err
	}

	resp, err := a.noRedirect.Do(req)
	if err != nil {
		return recording.DownloadHandle{}, &recording.TransientNetworkError{Op: "resolve download", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode <= 399:
		location := resp.Header.Get("Location")
		if location == "" {
			return recording.DownloadHandle{}, &recording.TransientNetworkError{
				Op:         "resolve download",
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("redirect without location"),
			}
		}
		target, err := req.URL.Parse(location)
		if err != nil {
			return recording.DownloadHandle{}, fmt.Errorf("failed to parse redirect location: %w", err)
		}
		return recording.DownloadHandle{URL: target.String()}, nil
	case resp.StatusCode == http.StatusOK:
		return recording.DownloadHandle{URL: candidate.Handle.URL}, nil
	default:
		return recording.DownloadHandle{}, checkResponse("resolve download", resp)
	}
}

func (a *Adapter) authorize(req *http.Request) error {
	token, err := a.tokens.Token()
	if err != nil {
		return &AuthError{Type: "token", Reason: "failed to get access token", Err: err}
	}
	token.SetAuthHeader(req)
	return nil
}

func (a *Adapter) getJSON(ctx context.Context, op, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if err := a.authorize(req); err != nil {
		return err
	}

	start := time.Now()
	a.logger.LogAPIRequest(logging.APIRequest{
		Method:  req.Method,
		URL:     endpoint,
		Headers: map[string]string{"Authorization": req.Header.Get("Authorization")},
	})

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &recording.TransientNetworkError{Op: op, Err: err}
	}
	a.logger.LogAPIResponse(logging.APIResponse{
		StatusCode: resp.StatusCode,
		Duration:   time.Since(start),
		Success:    resp.StatusCode < 300,
	})
	if err := checkResponse(op, resp); err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// candidatesFromRecording flattens a meeting's files into candidates
func candidatesFromRecording(meeting Recording) []recording.Candidate {
	meetingID := strconv.FormatInt(meeting.ID, 10)
	candidates := make([]recording.Candidate, 0, len(meeting.RecordingFiles))
	for _, file := range meeting.RecordingFiles {
		fileType := file.FileType
		if fileType == "" {
			fileType = file.FileExtension
		}
		candidates = append(candidates, recording.Candidate{
			ExternalID: file.ID,
			MeetingID:  meetingID,
			StartTime:  file.RecordingStart,
			EndTime:    file.RecordingEnd,
			SizeBytes:  file.FileSize,
			FileType:   fileType,
			Status:     file.Status,
			Handle:     recording.DownloadHandle{URL: file.DownloadURL},
		})
	}
	return candidates
}
