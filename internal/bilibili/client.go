// Package bilibili publishes stored recordings to the Bilibili creator center
package bilibili

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
	"github.com/nicliuqi/test-opengauss-meetings/internal/logging"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

const (
	// DefaultMemberURL is the creator center root
	DefaultMemberURL = "https://member.bilibili.com"

	// DefaultChunkSize applies when preupload returns no chunk_size
	DefaultChunkSize = 4 * 1024 * 1024

	uposProfile = "ugcupos/bup"
)

// Client talks to the creator center using the account's cookies
type Client struct {
	memberURL  string
	sessdata   string
	csrf       string
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient creates a Client. SESSDATA and bili_jct are required.
func NewClient(cfg config.BilibiliConfig, timeout time.Duration) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	memberURL := cfg.MemberURL
	if memberURL == "" {
		memberURL = DefaultMemberURL
	}
	return &Client{
		memberURL:  strings.TrimSuffix(memberURL, "/"),
		sessdata:   cfg.SESSDATA,
		csrf:       cfg.BiliJCT,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.GetDefaultLogger(),
	}, nil
}

// UploadVideo sends the file through the upos chunked upload and returns
// the handle a submission refers to
func (c *Client) UploadVideo(ctx context.Context, videoPath string) (VideoHandle, error) {
	file, err := os.Open(videoPath)
	if err != nil {
		return VideoHandle{}, fmt.Errorf("failed to open video: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return VideoHandle{}, fmt.Errorf("failed to stat video: %w", err)
	}
	name := filepath.Base(videoPath)
	size := info.Size()

	query := url.Values{}
	query.Set("name", name)
	query.Set("size", strconv.FormatInt(size, 10))
	query.Set("r", "upos")
	query.Set("profile", uposProfile)

	var pre preuploadResponse
	if err := c.doJSON(ctx, "preupload", http.MethodGet, c.memberURL+"/preupload?"+query.Encode(), nil, "", nil, &pre); err != nil {
		return VideoHandle{}, err
	}
	if pre.OK != 1 || pre.UposURI == "" || pre.Endpoint == "" {
		return VideoHandle{}, &recording.UploadAcknowledgementError{Op: "preupload", Detail: "missing upos_uri or endpoint"}
	}
	uposURL := c.uposURL(pre.Endpoint, pre.UposURI)
	authHeader := map[string]string{"X-Upos-Auth": pre.Auth}

	var initResp initUploadResponse
	if err := c.doJSON(ctx, "init upload", http.MethodPost, uposURL+"?uploads&output=json", nil, "", authHeader, &initResp); err != nil {
		return VideoHandle{}, err
	}
	if initResp.UploadID == "" {
		return VideoHandle{}, &recording.UploadAcknowledgementError{Op: "init upload", Detail: "missing upload_id"}
	}

	chunkSize := pre.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunks := int((size + chunkSize - 1) / chunkSize)
	if chunks == 0 {
		chunks = 1
	}

	parts := make([]uploadedPart, 0, chunks)
	buf := make([]byte, chunkSize)
	var offset int64
	for i := 0; i < chunks; i++ {
		n, err := io.ReadFull(file, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return VideoHandle{}, fmt.Errorf("failed to read chunk %d: %w", i, err)
		}

		chunkQuery := url.Values{}
		chunkQuery.Set("partNumber", strconv.Itoa(i+1))
		chunkQuery.Set("uploadId", initResp.UploadID)
		chunkQuery.Set("chunk", strconv.Itoa(i))
		chunkQuery.Set("chunks", strconv.Itoa(chunks))
		chunkQuery.Set("size", strconv.Itoa(n))
		chunkQuery.Set("start", strconv.FormatInt(offset, 10))
		chunkQuery.Set("end", strconv.FormatInt(offset+int64(n), 10))
		chunkQuery.Set("total", strconv.FormatInt(size, 10))

		if err := c.doJSON(ctx, "upload chunk", http.MethodPut, uposURL+"?"+chunkQuery.Encode(),
			bytes.NewReader(buf[:n]), "application/octet-stream", authHeader, nil); err != nil {
			return VideoHandle{}, err
		}
		parts = append(parts, uploadedPart{PartNumber: i + 1, ETag: "etag"})
		offset += int64(n)
	}

	completeQuery := url.Values{}
	completeQuery.Set("output", "json")
	completeQuery.Set("name", name)
	completeQuery.Set("profile", uposProfile)
	completeQuery.Set("uploadId", initResp.UploadID)
	completeQuery.Set("biz_id", strconv.FormatInt(pre.BizID, 10))

	body, err := json.Marshal(completeUploadRequest{Parts: parts})
	if err != nil {
		return VideoHandle{}, fmt.Errorf("failed to encode parts: %w", err)
	}
	var complete completeUploadResponse
	if err := c.doJSON(ctx, "complete upload", http.MethodPost, uposURL+"?"+completeQuery.Encode(),
		bytes.NewReader(body), "application/json", authHeader, &complete); err != nil {
		return VideoHandle{}, err
	}
	if complete.OK != 1 {
		return VideoHandle{}, &recording.UploadAcknowledgementError{Op: "complete upload", Detail: fmt.Sprintf("OK=%d %s", complete.OK, complete.Message)}
	}

	filename := strings.TrimSuffix(path.Base(pre.UposURI), path.Ext(pre.UposURI))
	c.logger.Info("Uploaded %s (%d bytes, %d chunks) as %s", name, size, chunks, filename)
	return VideoHandle{Filename: filename, BizID: pre.BizID}, nil
}

// UploadCover uploads a png cover and returns its url
func (c *Client) UploadCover(ctx context.Context, coverPath string) (string, error) {
	data, err := os.ReadFile(coverPath)
	if err != nil {
		return "", fmt.Errorf("failed to read cover: %w", err)
	}

	form := url.Values{}
	form.Set("cover", "data:image/png;base64,"+base64.StdEncoding.EncodeToString(data))
	form.Set("csrf", c.csrf)

	var resp coverResponse
	if err := c.doJSON(ctx, "upload cover", http.MethodPost, c.memberURL+"/x/vu/web/cover/up",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil, &resp); err != nil {
		return "", err
	}
	if err := resp.check("upload cover"); err != nil {
		return "", err
	}
	if resp.Data.URL == "" {
		return "", &recording.UploadAcknowledgementError{Op: "upload cover", Detail: "missing data.url"}
	}
	return resp.Data.URL, nil
}

// Submit publishes the composition and returns its ids
func (c *Client) Submit(ctx context.Context, sub Submission) (*Result, error) {
	body, err := json.Marshal(submitRequest{
		Copyright: sub.Copyright,
		Cover:     sub.Cover,
		Desc:      sub.Desc,
		NoReprint: sub.NoReprint,
		Tag:       sub.Tag,
		TID:       sub.TID,
		Title:     sub.Title,
		Videos: []submitVideo{{
			Filename: sub.Video.Filename,
			Title:    sub.Title,
			Desc:     sub.Desc,
			CID:      sub.Video.BizID,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode submission: %w", err)
	}

	query := url.Values{}
	query.Set("csrf", c.csrf)
	var resp submitResponse
	if err := c.doJSON(ctx, "submit", http.MethodPost, c.memberURL+"/x/vu/web/add/v3?"+query.Encode(),
		bytes.NewReader(body), "application/json", nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.check("submit"); err != nil {
		return nil, err
	}
	if resp.Data.BVID == "" {
		return nil, &recording.UploadAcknowledgementError{Op: "submit", Detail: "missing data.bvid"}
	}
	return &Result{AID: resp.Data.AID, BVID: resp.Data.BVID}, nil
}

func (r apiResponse) check(op string) error {
	if r.Code != 0 {
		return &recording.UploadAcknowledgementError{Op: op, Detail: fmt.Sprintf("code %d: %s", r.Code, r.Message)}
	}
	return nil
}

// uposURL resolves the protocol-relative endpoint with the member scheme
func (c *Client) uposURL(endpoint, uposURI string) string {
	if strings.HasPrefix(endpoint, "//") {
		scheme := "https"
		if u, err := url.Parse(c.memberURL); err == nil && u.Scheme != "" {
			scheme = u.Scheme
		}
		endpoint = scheme + ":" + endpoint
	}
	return strings.TrimSuffix(endpoint, "/") + "/" + strings.TrimPrefix(uposURI, "upos://")
}

func (c *Client) doJSON(ctx context.Context, op, method, endpoint string, body io.Reader, contentType string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: c.sessdata})
	req.AddCookie(&http.Cookie{Name: "bili_jct", Value: c.csrf})

	start := time.Now()
	c.logger.LogAPIRequest(logging.APIRequest{Method: method, URL: req.URL.Redacted()})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &recording.TransientNetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.logger.LogAPIResponse(logging.APIResponse{
		StatusCode: resp.StatusCode,
		Duration:   time.Since(start),
		Success:    success,
	})

	if !success {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &recording.TransientNetworkError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &recording.UploadAcknowledgementError{Op: op, Detail: fmt.Sprintf("invalid response body: %v", err)}
	}
	return nil
}
