// Package welink implements the recording adapter for WeLink (HuaweiCloud Meeting)
package welink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
	"github.com/nicliuqi/test-opengauss-meetings/internal/hosts"
	"github.com/nicliuqi/test-opengauss-meetings/internal/logging"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

const (
	// DefaultBaseURL is the HuaweiCloud Meeting API root
	DefaultBaseURL = "https://api.meeting.huaweicloud.com"

	// DefaultTokenTTL applies when the proxy token response has no usable expireTime
	DefaultTokenTTL = 30 * time.Minute

	recordLimit     = 100
	historyLimit    = 500
	historyLookback = 24 * time.Hour
	startTimeLayout = "2006-01-02 15:04"
	tokenMargin     = time.Minute
)

// Local is the zone meeting rows are scheduled in
var Local = time.FixedZone("CST", 8*60*60)

// Adapter implements recording.Adapter for WeLink
type Adapter struct {
	baseURL    string
	registry   hosts.Registry
	httpClient *http.Client
	tokens     *cache.Cache
	now        func() time.Time
	logger     logging.Logger

	// meetingHosts remembers which host listed a meeting so participants
	// can be fetched with the same proxy token
	meetingHosts sync.Map
}

var _ recording.Adapter = (*Adapter)(nil)

// NewAdapter creates a WeLink adapter that owns its proxy token cache
func NewAdapter(cfg config.WeLinkConfig, registry hosts.Registry, timeout time.Duration) *Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		registry:   registry,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     cache.New(DefaultTokenTTL, 10*time.Minute),
		now:        time.Now,
		logger:     logging.GetDefaultLogger(),
	}
}

// Platform returns recording.PlatformWeLink
func (a *Adapter) Platform() recording.Platform {
	return recording.PlatformWeLink
}

// ListRecordings returns the Hd streams of the host's recordings of the last day
// that overlap the window. Within one conference, streams are numbered 1..N in
// start order when there is more than one.
func (a *Adapter) ListRecordings(ctx context.Context, hostID string, window recording.Window) ([]recording.Candidate, error) {
	token, err := a.proxyToken(ctx, hostID)
	if err != nil {
		return nil, err
	}

	files, err := a.listRecordFiles(ctx, token)
	if err != nil {
		return nil, err
	}

	type row struct {
		file       RecordFile
		start, end time.Time
	}
	byConference := make(map[string][]row)
	var order []string
	for _, file := range files {
		if window.MeetingID != "" && file.ConfID != window.MeetingID {
			continue
		}
		start, err := ParseStartTime(file.StartTime)
		if err != nil {
			a.logger.Warn("Skipping recording %s with bad start time %q: %v", file.ConfUUID, file.StartTime, err)
			continue
		}
		end := start.Add(time.Duration(file.RcdTime) * time.Second)
		if !window.Overlaps(start, end) {
			continue
		}
		if _, ok := byConference[file.ConfID]; !ok {
			order = append(order, file.ConfID)
		}
		byConference[file.ConfID] = append(byConference[file.ConfID], row{file: file, start: start, end: end})
	}

	var candidates []recording.Candidate
	for _, confID := range order {
		rows := byConference[confID]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].start.Before(rows[j].start) })

		var conference []recording.Candidate
		for _, r := range rows {
			urls, err := a.downloadURLs(ctx, token, r.file.ConfUUID)
			if err != nil {
				return nil, err
			}
			for _, u := range urls {
				if u.FileType != recording.FileTypeHD {
					continue
				}
				conference = append(conference, recording.Candidate{
					ExternalID: r.file.ConfUUID,
					MeetingID:  confID,
					StartTime:  r.start,
					EndTime:    r.end,
					FileType:   recording.FileTypeHD,
					Status:     recording.StatusCompleted,
					Handle:     recording.DownloadHandle{URL: u.URL, Token: u.Token},
				})
			}
		}
		if len(conference) > 1 {
			for i := range conference {
				conference[i].Part = i + 1
			}
		}
		a.meetingHosts.Store(confID, hostID)
		candidates = append(candidates, conference...)
	}

	a.logger.Debug("WeLink host %s has %d Hd streams in window", hostID, len(candidates))
	return candidates, nil
}

// GetParticipants concatenates the attendee records of every past conference
// with this meeting id. The host is the one that last listed the meeting.
func (a *Adapter) GetParticipants(ctx context.Context, meetingID string) ([]recording.Participant, error) {
	value, ok := a.meetingHosts.Load(meetingID)
	if !ok {
		return nil, fmt.Errorf("no host known for meeting %s, list its recordings first", meetingID)
	}
	hostID := value.(string)

	token, err := a.proxyToken(ctx, hostID)
	if err != nil {
		return nil, err
	}

	query := a.dayRange()
	query.Set("limit", strconv.Itoa(historyLimit))
	var history historyResponse
	if err := a.getJSON(ctx, "list conference history", "/v1/mmc/management/conferences/history", query, token, &history); err != nil {
		return nil, err
	}

	var participants []recording.Participant
	for _, conf := range history.Data {
		if conf.ConferenceID != meetingID {
			continue
		}
		attendeeQuery := url.Values{}
		attendeeQuery.Set("confUUID", conf.ConfUUID)
		attendeeQuery.Set("limit", strconv.Itoa(historyLimit))

		var attendees attendeeResponse
		if err := a.getJSON(ctx, "list attendees", "/v1/mmc/management/conferences/history/confAttendeeRecord", attendeeQuery, token, &attendees); err != nil {
			return nil, err
		}
		for _, attendee := range attendees.Data {
			participants = append(participants, attendee.Participant())
		}
	}
	return participants, nil
}

// ResolveDownload returns the prefetched handle; the token travels in Authorization
func (a *Adapter) ResolveDownload(ctx context.Context, candidate recording.Candidate) (recording.DownloadHandle, error) {
	if candidate.Handle.URL == "" {
		return recording.DownloadHandle{}, fmt.Errorf("candidate %s has no download url", candidate.ExternalID)
	}
	return candidate.Handle, nil
}

// Participant converts an attendee record
func (at Attendee) Participant() recording.Participant {
	p := recording.Participant{ID: at.UserUUID, Name: at.Name}
	if at.JoinTime > 0 {
		p.JoinTime = time.UnixMilli(at.JoinTime).In(Local)
	}
	if at.LeaveTime > 0 {
		p.LeaveTime = time.UnixMilli(at.LeaveTime).In(Local)
	}
	if at.JoinTime > 0 && at.LeaveTime > at.JoinTime {
		p.Duration = int((at.LeaveTime - at.JoinTime) / 1000)
	}
	return p
}

// ParseStartTime reads a record startTime given in UTC and returns it in Local
func ParseStartTime(value string) (time.Time, error) {
	t, err := time.ParseInLocation(startTimeLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(Local), nil
}

func (a *Adapter) listRecordFiles(ctx context.Context, token string) ([]RecordFile, error) {
	query := a.dayRange()
	query.Set("limit", strconv.Itoa(recordLimit))

	var page recordFilesResponse
	if err := a.getJSON(ctx, "list record files", "/v1/mmc/management/record/files", query, token, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

func (a *Adapter) downloadURLs(ctx context.Context, token, confUUID string) ([]RecordURL, error) {
	query := url.Values{}
	query.Set("confUUID", confUUID)

	var resp downloadURLsResponse
	if err := a.getJSON(ctx, "get download urls", "/v1/mmc/management/record/downloadurls", query, token, &resp); err != nil {
		return nil, err
	}
	var urls []RecordURL
	for _, group := range resp.RecordURLs {
		urls = append(urls, group.URLs...)
	}
	return urls, nil
}

// dayRange returns startDate/endDate in milliseconds covering the last day
func (a *Adapter) dayRange() url.Values {
	now := a.now()
	query := url.Values{}
	query.Set("startDate", strconv.FormatInt(now.Add(-historyLookback).UnixMilli(), 10))
	query.Set("endDate", strconv.FormatInt(now.UnixMilli(), 10))
	return query
}

// proxyToken returns a cached proxy token for hostID, signing in when needed
func (a *Adapter) proxyToken(ctx context.Context, hostID string) (string, error) {
	if cached, ok := a.tokens.Get(hostID); ok {
		return cached.(string), nil
	}

	creds, ok := a.registry.Lookup(hostID)
	if !ok {
		return "", fmt.Errorf("failed to get proxy token: unknown host %s", hostID)
	}

	body, err := json.Marshal(proxyAuthRequest{
		AuthServerType: "workplace",
		AuthType:       "AccountAndPwd",
		ClientType:     72,
		Account:        creds.Account,
		Pwd:            creds.Password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode proxy auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/usg/acs/auth/proxy", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	var auth proxyAuthResponse
	if err := a.do(req, "proxy auth", &auth); err != nil {
		return "", fmt.Errorf("failed to get proxy token for host %s: %w", hostID, err)
	}
	if auth.AccessToken == "" {
		return "", &recording.UploadAcknowledgementError{Op: "proxy auth", Detail: "missing accessToken"}
	}

	a.tokens.Set(hostID, auth.AccessToken, a.tokenTTL(auth.ExpireTime))
	return auth.AccessToken, nil
}

// tokenTTL converts expireTime (seconds or milliseconds since epoch) into a cache lifetime
func (a *Adapter) tokenTTL(expireTime int64) time.Duration {
	if expireTime <= 0 {
		return DefaultTokenTTL
	}
	var expiry time.Time
	if expireTime > 1e12 {
		expiry = time.UnixMilli(expireTime)
	} else {
		expiry = time.Unix(expireTime, 0)
	}
	ttl := expiry.Sub(a.now()) - tokenMargin
	if ttl <= 0 {
		return DefaultTokenTTL
	}
	return ttl
}

func (a *Adapter) getJSON(ctx context.Context, op, path string, query url.Values, token string, out interface{}) error {
	endpoint := a.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Access-Token", token)
	return a.do(req, op, out)
}

func (a *Adapter) do(req *http.Request, op string, out interface{}) error {
	start := time.Now()
	a.logger.LogAPIRequest(logging.APIRequest{
		Method:  req.Method,
		URL:     req.URL.String(),
		Headers: map[string]string{"X-Access-Token": req.Header.Get("X-Access-Token")},
	})

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &recording.TransientNetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	a.logger.LogAPIResponse(logging.APIResponse{
		StatusCode: resp.StatusCode,
		Duration:   time.Since(start),
		Success:    resp.StatusCode == http.StatusOK,
	})

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var cause error = fmt.Errorf("HTTP error %d: %s", resp.StatusCode, resp.Status)
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && (apiErr.Code != "" || apiErr.Message != "") {
			cause = &apiErr
		}
		return &recording.TransientNetworkError{Op: op, StatusCode: resp.StatusCode, Err: cause}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
