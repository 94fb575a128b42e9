package analyzer

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"
)

func validPNG(width, height uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.WriteString("IHDR")
	binary.Write(&buf, binary.BigEndian, width)
	binary.Write(&buf, binary.BigEndian, height)
	buf.Write([]byte{8, 6, 0, 0, 0})
	buf.Write([]byte{0xde, 0xad, 0xbe, 0xef})
	buf.WriteString("\x00\x00\x00\x00IEND\xae\x42\x60\x82")
	return buf.Bytes()
}

func TestCorruptedPDFMissingEOF(t *testing.T) {
	a := New()
	result := a.AnalyzeBytes("report.pdf", []byte("%PDF-1.4\nsome content without terminator"))

	if result.Category != CategoryDocument {
		t.Errorf("category = %s, want document", result.Category)
	}
	if result.Quality != QualityCorrupted {
		t.Errorf("quality = %s, want corrupted", result.Quality)
	}
	if !strings.Contains(result.QualityDetails, "EOF") {
		t.Errorf("quality details should mention EOF, got %q", result.QualityDetails)
	}
	if result.IsProcessable {
		t.Error("corrupted PDF must not be processable")
	}
	if result.Metadata["pdf_version"] != "1.4" {
		t.Errorf("pdf_version = %q, want 1.4", result.Metadata["pdf_version"])
	}
}

func TestValidPDF(t *testing.T) {
	a := New()
	result := a.AnalyzeBytes("report.pdf", []byte("%PDF-1.7\ncontent\n%%EOF"))

	if result.Quality != QualityValid {
		t.Errorf("quality = %s (%s), want valid", result.Quality, result.QualityDetails)
	}
	if !result.IsProcessable {
		t.Error("valid PDF must be processable")
	}
	if result.DetectedMIME != "application/pdf" {
		t.Errorf("detected_mime = %q", result.DetectedMIME)
	}
}

func TestEncryptedOfficeFile(t *testing.T) {
	a := New()
	payload := append([]byte("PK\x03\x04\x00\x00\x00\x00"), []byte("word/document.xml EncryptedPackage padding")...)
	result := a.AnalyzeBytes("contract.docx", payload)

	if result.Quality != QualityEncrypted {
		t.Errorf("quality = %s (%s), want encrypted", result.Quality, result.QualityDetails)
	}
	if result.IsProcessable {
		t.Error("encrypted file must not be processable")
	}
}

func TestEncryptedZIPFlagBit(t *testing.T) {
	a := New()
	// General-purpose flag at offset 6 with bit 0 set.
	payload := []byte("PK\x03\x04\x14\x00\x01\x00")
	payload = append(payload, bytes.Repeat([]byte{0}, 30)...)
	result := a.AnalyzeBytes("secret.zip", payload)

	if result.Quality != QualityEncrypted {
		t.Errorf("quality = %s (%s), want encrypted", result.Quality, result.QualityDetails)
	}
}

func TestZeroByteFile(t *testing.T) {
	a := New()
	result := a.AnalyzeBytes("empty.txt", nil)

	if result.Quality != QualityCorrupted {
		t.Errorf("quality = %s, want corrupted", result.Quality)
	}
	if result.QualityDetails != "File is empty" {
		t.Errorf("quality details = %q", result.QualityDetails)
	}
	if result.IsProcessable {
		t.Error("empty file must not be processable")
	}
}

func TestMIMEMismatch(t *testing.T) {
	a := New()
	result := a.AnalyzeBytes("claims.pdf", validPNG(10, 10))

	if result.Quality != QualityInvalidFormat {
		t.Errorf("quality = %s (%s), want invalid_format", result.Quality, result.QualityDetails)
	}
	if !strings.Contains(result.QualityDetails, "image/png") {
		t.Errorf("details should name the detected type, got %q", result.QualityDetails)
	}
}

func TestSuspiciousPatternStillProcessable(t *testing.T) {
	a := New()
	result := a.AnalyzeBytes("notes.txt", []byte("hello <script>alert(1)</script> world"))

	if result.Quality != QualitySuspicious {
		t.Errorf("quality = %s, want suspicious", result.Quality)
	}
	if !result.IsProcessable {
		t.Error("suspicious files remain processable for review")
	}
}

func TestTruncatedPNG(t *testing.T) {
	a := New()
	png := validPNG(100, 50)
	result := a.AnalyzeBytes("scan.png", png[:len(png)-4])

	if result.Quality != QualityCorrupted {
		t.Errorf("quality = %s, want corrupted", result.Quality)
	}
	if !strings.Contains(result.QualityDetails, "IEND") {
		t.Errorf("details = %q", result.QualityDetails)
	}
}

func TestPNGDimensions(t *testing.T) {
	a := New()
	result := a.AnalyzeBytes("scan.png", validPNG(640, 480))

	if result.Quality != QualityValid {
		t.Fatalf("quality = %s (%s)", result.Quality, result.QualityDetails)
	}
	if result.Metadata["width"] != "640" || result.Metadata["height"] != "480" {
		t.Errorf("dimensions = %s x %s, want 640 x 480", result.Metadata["width"], result.Metadata["height"])
	}
	if !result.SupportsImagePreview {
		t.Error("valid image should support preview")
	}
}

func TestOfficeOpenXMLDetection(t *testing.T) {
	a := New()
	tests := []struct {
		name   string
		marker string
		want   FileCategory
	}{
		{"budget.xlsx", "xl/workbook.xml", CategorySpreadsheet},
		{"memo.docx", "word/document.xml", CategoryDocument},
		{"deck.pptx", "ppt/slides.xml", CategoryPresentation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := append([]byte("PK\x03\x04\x00\x00\x00\x00"), []byte(tt.marker)...)
			payload = append(payload, bytes.Repeat([]byte{0}, 30)...)
			result := a.AnalyzeBytes(tt.name, payload)
			if result.Category != tt.want {
				t.Errorf("category = %s, want %s", result.Category, tt.want)
			}
		})
	}
}

func TestHashes(t *testing.T) {
	a := New()
	data := []byte("deterministic evidence payload")
	result := a.AnalyzeBytes("note.txt", data)

	md5Sum := md5.Sum(data)
	sha := sha256.Sum256(data)
	if result.MD5Hash != hex.EncodeToString(md5Sum[:]) {
		t.Errorf("md5 = %s", result.MD5Hash)
	}
	if result.SHA256Hash != hex.EncodeToString(sha[:]) {
		t.Errorf("sha256 = %s", result.SHA256Hash)
	}
}

func TestDeterminism(t *testing.T) {
	a := New()
	payloads := [][]byte{
		[]byte("%PDF-1.4\nno eof"),
		validPNG(3, 3),
		[]byte("plain text"),
		nil,
	}
	for _, data := range payloads {
		first := a.AnalyzeBytes("f.bin", data)
		second := a.AnalyzeBytes("f.bin", data)
		first.AnalyzedAt = second.AnalyzedAt
		if first.Quality != second.Quality || first.Category != second.Category ||
			first.MD5Hash != second.MD5Hash || first.SHA256Hash != second.SHA256Hash ||
			first.QualityDetails != second.QualityDetails {
			t.Errorf("analysis not deterministic for %q", data)
		}
	}
}

func TestProcessableEquivalence(t *testing.T) {
	a := New()
	cases := []struct {
		name string
		data []byte
	}{
		{"valid.txt", []byte("ordinary text")},
		{"sus.txt", []byte("<script>")},
		{"empty.txt", nil},
		{"broken.pdf", []byte("%PDF-1.1\nx")},
	}
	for _, c := range cases {
		result := a.AnalyzeBytes(c.name, c.data)
		want := (result.Quality == QualityValid || result.Quality == QualitySuspicious) && result.FileSize > 0
		if result.IsProcessable != want {
			t.Errorf("%s: is_processable = %v, quality = %s, size = %d", c.name, result.IsProcessable, result.Quality, result.FileSize)
		}
	}
}

func TestAnalyzeMissingFileReturnsPlaceholder(t *testing.T) {
	a := New()
	result := a.AnalyzeFile("/nonexistent/path/file.pdf")

	if result.Quality != QualityCorrupted {
		t.Errorf("quality = %s, want corrupted", result.Quality)
	}
	if result.IsProcessable {
		t.Error("error placeholder must not be processable")
	}
	if !strings.Contains(result.QualityDetails, "Analysis failed") {
		t.Errorf("details = %q", result.QualityDetails)
	}
}
