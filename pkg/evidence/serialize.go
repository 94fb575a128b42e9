package evidence

import (
	"encoding/json"
	"fmt"
	"time"
)

// canonicalAttachment is the sidecar view of an attachment: everything except
// the payload bytes, which live out-of-band as separate blobs.
type canonicalAttachment struct {
	Filename       string `json:"filename"`
	ContentType    string `json:"content_type,omitempty"`
	SizeBytes      int64  `json:"size_bytes"`
	ChecksumSHA256 string `json:"checksum_sha256,omitempty"`
	FileCategory   string `json:"file_category,omitempty"`
	DataQuality    string `json:"data_quality,omitempty"`
	QualityDetails string `json:"quality_details,omitempty"`
	MD5            string `json:"md5,omitempty"`
	DetectedMIME   string `json:"detected_mime,omitempty"`
	IsProcessable  bool   `json:"is_processable"`
}

type canonicalEvent struct {
	Timestamp string            `json:"timestamp"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type canonicalDocument struct {
	DocumentID     string                `json:"document_id"`
	Source         string                `json:"source"`
	CollectedAt    string                `json:"collected_at"`
	Custodian      Custodian             `json:"custodian"`
	Subject        string                `json:"subject,omitempty"`
	BodyText       string                `json:"body_text,omitempty"`
	RawPath        string                `json:"raw_path,omitempty"`
	Metadata       map[string]string     `json:"metadata"`
	Attachments    []canonicalAttachment `json:"attachments"`
	ChainOfCustody []canonicalEvent      `json:"chain_of_custody"`
}

func canonicalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func canonicalEvents(events []CustodyEvent) []canonicalEvent {
	out := make([]canonicalEvent, 0, len(events))
	for _, e := range events {
		out = append(out, canonicalEvent{
			Timestamp: canonicalTime(e.Timestamp),
			Actor:     e.Actor,
			Action:    e.Action,
			Metadata:  e.Metadata,
		})
	}
	return out
}

// MarshalCanonical serializes the document into its canonical field-ordered
// JSON form, the representation written to metadata.json sidecar files.
// Timestamps are RFC 3339 UTC; attachment payloads are excluded.
func (d *Document) MarshalCanonical() ([]byte, error) {
	cd := canonicalDocument{
		DocumentID:     d.DocumentID,
		Source:         d.Source,
		CollectedAt:    canonicalTime(d.CollectedAt),
		Custodian:      d.Custodian,
		Subject:        d.Subject,
		BodyText:       d.BodyText,
		RawPath:        d.RawPath,
		Metadata:       d.Metadata,
		Attachments:    make([]canonicalAttachment, 0, len(d.Attachments)),
		ChainOfCustody: canonicalEvents(d.ChainOfCustody),
	}
	if cd.Metadata == nil {
		cd.Metadata = map[string]string{}
	}
	for _, a := range d.Attachments {
		cd.Attachments = append(cd.Attachments, canonicalAttachment{
			Filename:       a.Filename,
			ContentType:    a.ContentType,
			SizeBytes:      a.SizeBytes,
			ChecksumSHA256: a.ChecksumSHA256,
			FileCategory:   a.FileCategory,
			DataQuality:    a.DataQuality,
			QualityDetails: a.QualityDetails,
			MD5:            a.MD5,
			DetectedMIME:   a.DetectedMIME,
			IsProcessable:  a.IsProcessable,
		})
	}
	return json.MarshalIndent(cd, "", "  ")
}

// UnmarshalCanonical parses a canonical serialization back into a Document.
// Attachment payloads are not restored; they live out-of-band.
func UnmarshalCanonical(data []byte) (*Document, error) {
	var cd canonicalDocument
	if err := json.Unmarshal(data, &cd); err != nil {
		return nil, fmt.Errorf("parse canonical document: %w", err)
	}

	collectedAt, err := time.Parse(time.RFC3339Nano, cd.CollectedAt)
	if err != nil {
		return nil, fmt.Errorf("parse collected_at: %w", err)
	}

	doc := &Document{
		DocumentID:  cd.DocumentID,
		Source:      cd.Source,
		CollectedAt: collectedAt.UTC(),
		Custodian:   cd.Custodian,
		Subject:     cd.Subject,
		BodyText:    cd.BodyText,
		RawPath:     cd.RawPath,
		Metadata:    cd.Metadata,
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}
	for _, a := range cd.Attachments {
		doc.Attachments = append(doc.Attachments, Attachment{
			Filename:       a.Filename,
			ContentType:    a.ContentType,
			SizeBytes:      a.SizeBytes,
			ChecksumSHA256: a.ChecksumSHA256,
			FileCategory:   a.FileCategory,
			DataQuality:    a.DataQuality,
			QualityDetails: a.QualityDetails,
			MD5:            a.MD5,
			DetectedMIME:   a.DetectedMIME,
			IsProcessable:  a.IsProcessable,
		})
	}
	for _, e := range cd.ChainOfCustody {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse custody event timestamp: %w", err)
		}
		doc.ChainOfCustody = append(doc.ChainOfCustody, CustodyEvent{
			Timestamp: ts.UTC(),
			Actor:     e.Actor,
			Action:    e.Action,
			Metadata:  e.Metadata,
		})
	}
	return doc, nil
}

// MarshalCustodyChain serializes the chain of custody alone, the
// representation written to custody_chain.json at persist time.
func (d *Document) MarshalCustodyChain() ([]byte, error) {
	return json.MarshalIndent(canonicalEvents(d.ChainOfCustody), "", "  ")
}
