package metadata

import (
	"reflect"
	"strings"
	"testing"
)

func sampleDocument() Document {
	return Document{
		MeetingID:   "123",
		Topic:       "Infra SIG 例会",
		Community:   "opengauss",
		Sig:         "infra",
		Agenda:      "release planning",
		RecordStart: "2024-03-05T02:00:00Z",
		RecordEnd:   "2024-03-05T03:00:00Z",
		DownloadURL: "https://meetings.obs.example.com/opengauss/infra/mar/123/123.mp4?response-content-disposition=attachment",
		TotalSize:   52428800,
		Attenders:   []string{"alice", "张三"},
	}
}

func TestEncodeUsesFixedFieldNames(t *testing.T) {
	encoded := sampleDocument().Encode()

	expected := []string{
		"meeting_id", "meeting_topic", "community", "sig", "agenda",
		"record_start", "record_end", "download_url", "total_size", "attenders",
	}
	for _, field := range expected {
		if _, ok := encoded[field]; !ok {
			t.Errorf("Expected field %s in encoded metadata", field)
		}
	}
	if _, ok := encoded["bvid"]; ok {
		t.Error("Unpublished document must not carry bvid")
	}
	for key, value := range encoded {
		for _, r := range value {
			if r > 127 {
				t.Errorf("Field %s is not ASCII: %q", key, value)
				break
			}
		}
	}
}

func TestDecodeRestoresDocument(t *testing.T) {
	doc := sampleDocument().WithPublishID("BV1xx411c7mD")

	// Object stores canonicalize header names
	raw := map[string]string{}
	for key, value := range doc.Encode() {
		raw["X-Amz-Meta-"+strings.ToUpper(key[:1])+key[1:]] = value
	}

	decoded := Decode(raw)
	if !reflect.DeepEqual(decoded, doc) {
		t.Errorf("Decoded document mismatch:\nexpected: %+v\ngot: %+v", doc, decoded)
	}
}

func TestHasBeenPublished(t *testing.T) {
	tests := []struct {
		name     string
		raw      map[string]string
		expected bool
	}{
		{"no marker", map[string]string{"meeting_id": "1"}, false},
		{"empty marker", map[string]string{"bvid": ""}, false},
		{"blank marker", map[string]string{"bvid": "%20"}, false},
		{"marker present", map[string]string{"bvid": "BV1"}, true},
		{"marker with prefix", map[string]string{"x-amz-meta-bvid": "BV1"}, true},
		{"marker with canonical case", map[string]string{"Bvid": "BV1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasBeenPublished(Decode(tt.raw)); got != tt.expected {
				t.Errorf("HasBeenPublished = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDecodeToleratesUnencodedValues(t *testing.T) {
	doc := Decode(map[string]string{
		"meeting_topic": "plain topic",
		"total_size":    "not-a-number",
		"attenders":     "[broken",
	})
	if doc.Topic != "plain topic" {
		t.Errorf("Expected raw value preserved, got %q", doc.Topic)
	}
	if doc.TotalSize != 0 {
		t.Errorf("Expected zero size for invalid value, got %d", doc.TotalSize)
	}
	if doc.Attenders != nil {
		t.Errorf("Expected nil attenders for invalid JSON, got %v", doc.Attenders)
	}
}
