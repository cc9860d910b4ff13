package zoom

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

func staticAdapter(baseURL string) *Adapter {
	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token", TokenType: "Bearer"})
	return NewAdapterWithTokenSource(baseURL, tokens, 5*time.Second)
}

func TestNewTokenSourceValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  config.ZoomConfig
		wantErr bool
	}{
		{"account credentials", config.ZoomConfig{AccountID: "a", ClientID: "c", ClientSecret: "s"}, false},
		{"account without secret", config.ZoomConfig{AccountID: "a", ClientID: "c"}, true},
		{"legacy key", config.ZoomConfig{APIKey: "k", APISecret: "s"}, false},
		{"legacy key without secret", config.ZoomConfig{APIKey: "k"}, true},
		{"no credentials", config.ZoomConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenSource(context.Background(), tt.config, nil)
			if tt.wantErr {
				if !recording.IsConfigurationError(err) {
					t.Errorf("Expected ConfigurationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestServerToServerTokenSource(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if err := r.ParseForm(); err != nil {
			t.Errorf("Failed to parse form: %v", err)
			return
		}
		if got := r.PostForm.Get("grant_type"); got != "account_credentials" {
			t.Errorf("Expected grant_type account_credentials, got %s", got)
		}
		if got := r.PostForm.Get("account_id"); got != "acct" {
			t.Errorf("Expected account_id acct, got %s", got)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			t.Errorf("Expected basic auth with client credentials, got %s:%s", user, pass)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"s2s-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer server.Close()

	tokens, err := NewTokenSource(context.Background(), config.ZoomConfig{
		AccountID:    "acct",
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      server.URL,
	}, server.Client())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		token, err := tokens.Token()
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if token.AccessToken != "s2s-token" {
			t.Errorf("Expected s2s-token, got %s", token.AccessToken)
		}
	}
	if requests != 1 {
		t.Errorf("Expected cached token to be reused, got %d token requests", requests)
	}
}

func TestJWTTokenSource(t *testing.T) {
	now := time.Now()
	source := &jwtTokenSource{key: "api-key", secret: "api-secret", now: func() time.Time { return now }}

	token, err := source.Token()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !token.Expiry.Equal(now.Add(jwtLifetime)) {
		t.Errorf("Unexpected expiry %v", token.Expiry)
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token.AccessToken, claims, func(tok *jwt.Token) (interface{}, error) {
		return []byte("api-secret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("Expected valid token, got %v", err)
	}
	if claims.Issuer != "api-key" {
		t.Errorf("Expected issuer api-key, got %s", claims.Issuer)
	}
}

func TestListRecordings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/host-1/recordings" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Unexpected Authorization %q", got)
		}
		query := r.URL.Query()
		if query.Get("page_size") != "50" || query.Get("from") != "2024-03-01" || query.Get("to") != "2024-03-08" {
			t.Errorf("Unexpected query %v", query)
		}

		w.Header().Set("Content-Type", "application/json")
		if query.Get("next_page_token") == "" {
			w.Write([]byte(`{
				"next_page_token": "page2",
				"meetings": [{
					"id": 123456789,
					"recording_files": [
						{"id": "f1", "file_type": "MP4", "file_size": 52428800, "status": "completed",
						 "recording_start": "2024-03-05T02:00:00Z", "recording_end": "2024-03-05T03:00:00Z",
						 "download_url": "https://zoom.example/rec/f1"},
						{"id": "f2", "file_type": "M4A", "file_size": 1024, "status": "completed",
						 "download_url": "https://zoom.example/rec/f2"}
					]
				}]
			}`))
			return
		}
		w.Write([]byte(`{
			"meetings": [{
				"id": 987,
				"recording_files": [
					{"id": "f3", "file_type": "MP4", "file_size": 2048, "status": "processing",
					 "download_url": "https://zoom.example/rec/f3"}
				]
			}]
		}`))
	}))
	defer server.Close()

	window := recording.Window{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
	}
	candidates, err := staticAdapter(server.URL).ListRecordings(context.Background(), "host-1", window)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(candidates) != 3 {
		t.Fatalf("Expected 3 candidates across pages, got %d", len(candidates))
	}
	first := candidates[0]
	if first.MeetingID != "123456789" || first.FileType != "MP4" || first.SizeBytes != 52428800 {
		t.Errorf("Unexpected candidate %+v", first)
	}
	if first.Handle.URL != "https://zoom.example/rec/f1" || first.Part != 0 {
		t.Errorf("Unexpected handle or part %+v", first)
	}
	if candidates[2].MeetingID != "987" || candidates[2].Status != "processing" {
		t.Errorf("Unexpected second page candidate %+v", candidates[2])
	}
}

func TestListRecordingsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code": 124, "message": "Invalid access token."}`))
	}))
	defer server.Close()

	_, err := staticAdapter(server.URL).ListRecordings(context.Background(), "host", recording.Window{})

	var netErr *recording.TransientNetworkError
	if !errors.As(err, &netErr) || netErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected TransientNetworkError with 401, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 124 {
		t.Errorf("Expected wrapped APIError, got %v", err)
	}
}

func TestGetParticipants(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/past_meetings/123/participants" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("page_size") != "300" {
			t.Errorf("Expected page_size 300, got %s", r.URL.Query().Get("page_size"))
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("next_page_token") == "" {
			w.Write([]byte(`{"next_page_token": "n", "participants": [{"id": "u1", "name": "Alice", "user_email": "a@example.com", "duration": 60}]}`))
			return
		}
		w.Write([]byte(`{"participants": [{"id": "u2", "name": "Bob"}]}`))
	}))
	defer server.Close()

	participants, err := staticAdapter(server.URL).GetParticipants(context.Background(), "123")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("Expected 2 participants, got %d", len(participants))
	}
	if participants[0].Name != "Alice" || participants[0].Email != "a@example.com" || participants[0].Duration != 60 {
		t.Errorf("Unexpected participant %+v", participants[0])
	}
	if participants[1].Name != "Bob" {
		t.Errorf("Unexpected participant %+v", participants[1])
	}
}

func TestResolveDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Unexpected Authorization %q", got)
		}
		switch r.URL.Path {
		case "/rec/redirect":
			w.Header().Set("Location", "https://cdn.example/file.mp4?sig=1")
			w.WriteHeader(http.StatusFound)
		case "/rec/relative":
			w.Header().Set("Location", "/binary/file.mp4")
			w.WriteHeader(http.StatusFound)
		case "/rec/direct":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	adapter := staticAdapter(server.URL)
	tests := []struct {
		name     string
		path     string
		expected string
		wantErr  bool
	}{
		{"absolute redirect", "/rec/redirect", "https://cdn.example/file.mp4?sig=1", false},
		{"relative redirect", "/rec/relative", server.URL + "/binary/file.mp4", false},
		{"already final", "/rec/direct", server.URL + "/rec/direct", false},
		{"missing recording", "/rec/missing", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handle, err := adapter.ResolveDownload(context.Background(), recording.Candidate{
				Handle: recording.DownloadHandle{URL: server.URL + tt.path},
			})
			if tt.wantErr {
				var netErr *recording.TransientNetworkError
				if !errors.As(err, &netErr) {
					t.Errorf("Expected TransientNetworkError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if handle.URL != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, handle.URL)
			}
			if handle.Token != "" {
				t.Error("Zoom handles carry no token")
			}
		})
	}
}

func TestPlatform(t *testing.T) {
	if staticAdapter("").Platform() != recording.PlatformZoom {
		t.Error("Expected zoom platform")
	}
}
