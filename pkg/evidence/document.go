// Package evidence provides the canonical domain model for the ingestion
// pipeline: documents, attachments, custodians, and chain-of-custody events.
//
// The serialization contract is fixed: timestamps serialize as RFC 3339 in
// UTC, and attachment payloads are never part of a document's own
// serialization. Payload bytes are written as separate blobs next to the
// metadata sidecar by the object store.
package evidence

import (
	"time"
)

// Custodian is the natural party responsible for an evidence item, typically
// a mailbox owner. Identified by a stable business key such as the email
// local-part.
type Custodian struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Attachment is a binary payload owned exclusively by one document. The
// payload is written once at ingestion and never mutated afterwards.
//
// FileCategory, DataQuality, QualityDetails, MD5, DetectedMIME, and
// IsProcessable are populated by the file-analysis processor.
type Attachment struct {
	Filename       string `json:"filename"`
	ContentType    string `json:"content_type,omitempty"`
	SizeBytes      int64  `json:"size_bytes"`
	Payload        []byte `json:"-"`
	ChecksumSHA256 string `json:"checksum_sha256,omitempty"`

	FileCategory   string `json:"file_category,omitempty"`
	DataQuality    string `json:"data_quality,omitempty"`
	QualityDetails string `json:"quality_details,omitempty"`
	MD5            string `json:"md5,omitempty"`
	DetectedMIME   string `json:"detected_mime,omitempty"`
	IsProcessable  bool   `json:"is_processable"`
}

// CustodyEvent records one custody-relevant operation on a document
// (collected, persisted, analyzed). The chain is append-only.
type CustodyEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Custody actions recorded by the pipeline.
const (
	ActionCollected = "collected"
	ActionPersisted = "persisted"
	ActionAnalyzed  = "analyzed"
)

// Document is the central evidence entity. DocumentID is immutable after
// creation; uniqueness is enforced by the metadata store.
type Document struct {
	DocumentID     string            `json:"document_id"`
	Source         string            `json:"source"`
	CollectedAt    time.Time         `json:"collected_at"`
	Custodian      Custodian         `json:"custodian"`
	Subject        string            `json:"subject,omitempty"`
	BodyText       string            `json:"body_text,omitempty"`
	RawPath        string            `json:"raw_path,omitempty"`
	Metadata       map[string]string `json:"metadata"`
	Attachments    []Attachment      `json:"attachments"`
	ChainOfCustody []CustodyEvent    `json:"chain_of_custody"`
}

// NewDocument creates a Document with initialized metadata and the collection
// timestamp normalized to UTC.
func NewDocument(documentID, source string, collectedAt time.Time, custodian Custodian) *Document {
	return &Document{
		DocumentID:  documentID,
		Source:      source,
		CollectedAt: collectedAt.UTC(),
		Custodian:   custodian,
		Metadata:    make(map[string]string),
	}
}

// AddCustodyEvent appends an event to the chain of custody. The timestamp is
// normalized to UTC. This is the only supported way to grow the chain.
func (d *Document) AddCustodyEvent(actor, action string, metadata map[string]string) {
	d.ChainOfCustody = append(d.ChainOfCustody, CustodyEvent{
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		Metadata:  metadata,
	})
}

// SetMetadata stores a metadata key, allocating the map if needed.
func (d *Document) SetMetadata(key, value string) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata[key] = value
}

// MatterID returns the case-level grouping key from metadata, or "default"
// when the document is not associated with a matter. Used as an object-store
// prefix segment.
func (d *Document) MatterID() string {
	if m := d.Metadata["matter_id"]; m != "" {
		return m
	}
	return "default"
}
