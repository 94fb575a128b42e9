package processors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidify/evidify-cli/config"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

func newDoc(id, subject, body string) *evidence.Document {
	doc := evidence.NewDocument(id, "test", time.Now(), evidence.Custodian{Identifier: "c1"})
	doc.Subject = subject
	doc.BodyText = body
	return doc
}

func TestDeduplicatorDropsLaterDuplicates(t *testing.T) {
	dedup := NewDeduplicator(logging.NewNopLogger())

	docs := []*evidence.Document{
		newDoc("a", "quarterly report", "numbers"),
		newDoc("b", "quarterly report", "numbers"),
		newDoc("c", "quarterly report", "different numbers"),
	}

	out, err := dedup.Process(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].DocumentID)
	assert.Equal(t, "c", out[1].DocumentID)
}

func TestDeduplicatorRecordsHash(t *testing.T) {
	dedup := NewDeduplicator(logging.NewNopLogger())

	docs := []*evidence.Document{newDoc("a", "s", "b")}
	out, err := dedup.Process(context.Background(), docs)
	require.NoError(t, err)

	hash := out[0].Metadata["hash_sha256"]
	require.Len(t, hash, 64)
	assert.Equal(t, ContentHash(out[0]), hash)
}

func TestContentHashIgnoresMetadata(t *testing.T) {
	a := newDoc("a", "subject", "body")
	b := newDoc("b", "subject", "body")
	b.SetMetadata("thread_id", "different")

	assert.Equal(t, ContentHash(a), ContentHash(b))
}

func TestFileAnalysisPopulatesAttachmentFields(t *testing.T) {
	proc := NewFileAnalysisProcessor(logging.NewNopLogger())

	doc := newDoc("a", "s", "b")
	doc.Attachments = []evidence.Attachment{
		{Filename: "report.pdf", Payload: []byte("%PDF-1.7\ncontent\n%%EOF")},
		{Filename: "remote.pdf"}, // metadata-only, no payload
	}

	out, err := proc.Process(context.Background(), []*evidence.Document{doc})
	require.NoError(t, err)
	require.Len(t, out, 1)

	analyzed := out[0].Attachments[0]
	assert.Equal(t, "application/pdf", analyzed.DetectedMIME)
	assert.Equal(t, "document", analyzed.FileCategory)
	assert.Equal(t, "valid", analyzed.DataQuality)
	assert.True(t, analyzed.IsProcessable)
	assert.Len(t, analyzed.MD5, 32)
	assert.Len(t, analyzed.ChecksumSHA256, 64)

	untouched := out[0].Attachments[1]
	assert.Empty(t, untouched.DataQuality)

	stats := proc.LastRunStats()
	assert.Equal(t, 1, stats.AttachmentsAnalyzed)
	assert.Equal(t, 1, stats.Valid)
}

func TestDeduplicatorSpansBatches(t *testing.T) {
	dedup := NewDeduplicator(logging.NewNopLogger())

	first, err := dedup.Process(context.Background(),
		[]*evidence.Document{newDoc("a", "subject", "body")})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The same content arriving from a later connector is a duplicate.
	second, err := dedup.Process(context.Background(),
		[]*evidence.Document{newDoc("b", "subject", "body")})
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestFileAnalysisDropsDocumentOnChecksumMismatch(t *testing.T) {
	proc := NewFileAnalysisProcessor(logging.NewNopLogger())

	bad := newDoc("tampered", "s", "b")
	bad.Attachments = []evidence.Attachment{{
		Filename:       "report.pdf",
		Payload:        []byte("%PDF-1.7\ncontent\n%%EOF"),
		ChecksumSHA256: strings.Repeat("0", 64),
	}}
	good := newDoc("clean", "s2", "b2")
	good.Attachments = []evidence.Attachment{{
		Filename: "note.pdf",
		Payload:  []byte("%PDF-1.7\nother\n%%EOF"),
	}}

	out, err := proc.Process(context.Background(), []*evidence.Document{bad, good})
	require.NoError(t, err, "a mismatch fails the document, not the batch")
	require.Len(t, out, 1)
	assert.Equal(t, "clean", out[0].DocumentID)
	assert.Equal(t, 1, proc.LastRunStats().IntegrityFailures)
}

func TestFileAnalysisAcceptsMatchingDeclaredChecksum(t *testing.T) {
	proc := NewFileAnalysisProcessor(logging.NewNopLogger())

	payload := []byte("%PDF-1.7\ncontent\n%%EOF")
	sum := sha256.Sum256(payload)

	doc := newDoc("a", "s", "b")
	doc.Attachments = []evidence.Attachment{{
		Filename:       "report.pdf",
		Payload:        payload,
		ChecksumSHA256: strings.ToUpper(hex.EncodeToString(sum[:])),
	}}

	out, err := proc.Process(context.Background(), []*evidence.Document{doc})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, hex.EncodeToString(sum[:]), out[0].Attachments[0].ChecksumSHA256,
		"verified checksum is stored in canonical form")
	assert.Equal(t, 0, proc.LastRunStats().IntegrityFailures)
}

func TestFileAnalysisCountsEncrypted(t *testing.T) {
	proc := NewFileAnalysisProcessor(logging.NewNopLogger())

	payload := append([]byte("%PDF-1.4\n"), []byte("/Encrypt 12 0 R\n%%EOF")...)
	doc := newDoc("a", "s", "b")
	doc.Attachments = []evidence.Attachment{{Filename: "secret.pdf", Payload: payload}}

	_, err := proc.Process(context.Background(), []*evidence.Document{doc})
	require.NoError(t, err)

	assert.Equal(t, "encrypted", doc.Attachments[0].DataQuality)
	assert.False(t, doc.Attachments[0].IsProcessable)
	assert.Equal(t, 1, proc.LastRunStats().Encrypted)
}

func TestBuildChainRespectsToggles(t *testing.T) {
	log := logging.NewNopLogger()

	all := BuildChain(config.ProcessingConfig{
		EnableDeduplication:      true,
		EnableOCR:                true,
		EnableEntityExtraction:   true,
		EnablePrivilegeDetection: true,
	}, log)
	require.Len(t, all, 5)
	assert.Equal(t, "deduplication", all[0].Name())
	assert.Equal(t, "file_analysis", all[1].Name())
	assert.Equal(t, "ocr", all[2].Name())
	assert.Equal(t, "entity_extraction", all[3].Name())
	assert.Equal(t, "privilege_detection", all[4].Name())

	minimal := BuildChain(config.ProcessingConfig{}, log)
	require.Len(t, minimal, 1)
	assert.Equal(t, "file_analysis", minimal[0].Name())
}

func TestPlaceholderProcessorsAnnotate(t *testing.T) {
	chain := BuildChain(config.ProcessingConfig{
		EnableOCR:                true,
		EnableEntityExtraction:   true,
		EnablePrivilegeDetection: true,
	}, logging.NewNopLogger())

	docs := []*evidence.Document{newDoc("a", "s", "b")}
	var err error
	for _, p := range chain {
		docs, err = p.Process(context.Background(), docs)
		require.NoError(t, err)
	}

	assert.Equal(t, "not_implemented", docs[0].Metadata["ocr_status"])
	assert.Equal(t, "[]", docs[0].Metadata["entities"])
	assert.Equal(t, "0.0", docs[0].Metadata["privilege_score"])
}
