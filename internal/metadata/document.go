// Package metadata builds the descriptive document stored with every video object
package metadata

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// Field names as they appear in object metadata
const (
	FieldMeetingID   = "meeting_id"
	FieldTopic       = "meeting_topic"
	FieldCommunity   = "community"
	FieldSig         = "sig"
	FieldAgenda      = "agenda"
	FieldRecordStart = "record_start"
	FieldRecordEnd   = "record_end"
	FieldDownloadURL = "download_url"
	FieldTotalSize   = "total_size"
	FieldAttenders   = "attenders"
	FieldPublishID   = "bvid"
)

// Document is the metadata attached to a stored video
type Document struct {
	MeetingID   string
	Topic       string
	Community   string
	Sig         string
	Agenda      string
	RecordStart string
	RecordEnd   string
	DownloadURL string
	TotalSize   int64
	Attenders   []string
	// PublishID is the secondary platform id; empty until published
	PublishID string
}

// PublishMarker is the idempotency marker for secondary publishing
type PublishMarker string

// Present reports whether the marker holds an id
func (m PublishMarker) Present() bool {
	return strings.TrimSpace(string(m)) != ""
}

// Marker returns the document's publish marker
func (d Document) Marker() PublishMarker {
	return PublishMarker(d.PublishID)
}

// HasBeenPublished reports whether the document records a completed publish
func HasBeenPublished(doc Document) bool {
	return doc.Marker().Present()
}

// WithPublishID returns a copy of the document carrying the publish id
func (d Document) WithPublishID(id string) Document {
	d.PublishID = id
	return d
}

// Encode renders the document as object-store user metadata.
// Values are percent-encoded so non-ASCII text survives HTTP headers.
func (d Document) Encode() map[string]string {
	attenders, _ := json.Marshal(nonNil(d.Attenders))
	fields := map[string]string{
		FieldMeetingID:   d.MeetingID,
		FieldTopic:       d.Topic,
		FieldCommunity:   d.Community,
		FieldSig:         d.Sig,
		FieldAgenda:      d.Agenda,
		FieldRecordStart: d.RecordStart,
		FieldRecordEnd:   d.RecordEnd,
		FieldDownloadURL: d.DownloadURL,
		FieldTotalSize:   strconv.FormatInt(d.TotalSize, 10),
		FieldAttenders:   string(attenders),
	}
	if d.PublishID != "" {
		fields[FieldPublishID] = d.PublishID
	}

	encoded := make(map[string]string, len(fields))
	for key, value := range fields {
		encoded[key] = url.QueryEscape(value)
	}
	return encoded
}

// Decode parses user metadata as returned by the object store.
// Keys are matched case-insensitively and may carry the x-amz-meta- prefix.
func Decode(raw map[string]string) Document {
	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		name := strings.ToLower(key)
		name = strings.TrimPrefix(name, "x-amz-meta-")
		name = strings.TrimPrefix(name, "x-obs-meta-")
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		fields[name] = value
	}

	doc := Document{
		MeetingID:   fields[FieldMeetingID],
		Topic:       fields[FieldTopic],
		Community:   fields[FieldCommunity],
		Sig:         fields[FieldSig],
		Agenda:      fields[FieldAgenda],
		RecordStart: fields[FieldRecordStart],
		RecordEnd:   fields[FieldRecordEnd],
		DownloadURL: fields[FieldDownloadURL],
		PublishID:   fields[FieldPublishID],
	}
	if size, err := strconv.ParseInt(fields[FieldTotalSize], 10, 64); err == nil {
		doc.TotalSize = size
	}
	if attenders := fields[FieldAttenders]; attenders != "" {
		var names []string
		if err := json.Unmarshal([]byte(attenders), &names); err == nil {
			doc.Attenders = names
		}
	}
	return doc
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
