// Package analyzer classifies evidence payloads by type and quality.
//
// Classification is deterministic: identical bytes always yield the same
// category, quality, and hashes. The analyzer never fails hard; any internal
// error produces a placeholder result marked corrupted and not processable.
package analyzer

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileCategory is the high-level eDiscovery class of a file.
type FileCategory string

const (
	CategoryEmail        FileCategory = "email"
	CategoryDocument     FileCategory = "document"
	CategorySpreadsheet  FileCategory = "spreadsheet"
	CategoryPresentation FileCategory = "presentation"
	CategoryImage        FileCategory = "image"
	CategoryVideo        FileCategory = "video"
	CategoryAudio        FileCategory = "audio"
	CategoryArchive      FileCategory = "archive"
	CategoryDatabase     FileCategory = "database"
	CategoryCode         FileCategory = "code"
	CategoryUnknown      FileCategory = "unknown"
)

// DataQuality is the integrity assessment of a payload.
type DataQuality string

const (
	// QualityValid means the file is intact and processable.
	QualityValid DataQuality = "valid"

	// QualityCorrupted means the header or structure is damaged.
	QualityCorrupted DataQuality = "corrupted"

	// QualityEncrypted means the file is password-protected.
	QualityEncrypted DataQuality = "encrypted"

	// QualityInvalidFormat means the extension does not match the content.
	QualityInvalidFormat DataQuality = "invalid_format"

	// QualitySuspicious means the payload matched a malware indicator.
	QualitySuspicious DataQuality = "suspicious"
)

// FileAnalysis is the complete analysis result for one payload.
type FileAnalysis struct {
	Filename  string
	FileSize  int64
	Extension string

	MIMEType     string
	DetectedMIME string
	Category     FileCategory

	Quality        DataQuality
	QualityDetails string
	IsProcessable  bool

	MD5Hash    string
	SHA256Hash string

	Metadata map[string]string

	SupportsTextExtraction bool
	SupportsImagePreview   bool
	SupportsThumbnail      bool

	AnalyzedAt time.Time
}

// signature maps a magic-byte prefix to a MIME type and category. Order
// matters: longer or more specific prefixes come first.
type signature struct {
	prefix   []byte
	mime     string
	category FileCategory
}

var fileSignatures = []signature{
	{[]byte("%PDF"), "application/pdf", CategoryDocument},
	{[]byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}, "application/msword", CategoryDocument},
	{[]byte("PK\x03\x04"), "application/zip", CategoryArchive},
	{[]byte{0xff, 0xd8, 0xff}, "image/jpeg", CategoryImage},
	{[]byte("\x89PNG\r\n\x1a\n"), "image/png", CategoryImage},
	{[]byte("GIF87a"), "image/gif", CategoryImage},
	{[]byte("GIF89a"), "image/gif", CategoryImage},
	{[]byte("BM"), "image/bmp", CategoryImage},
	{[]byte("II*\x00"), "image/tiff", CategoryImage},
	{[]byte("MM\x00*"), "image/tiff", CategoryImage},
	{[]byte("\x00\x00\x00\x18ftypmp42"), "video/mp4", CategoryVideo},
	{[]byte("\x00\x00\x00\x1cftypmp42"), "video/mp4", CategoryVideo},
	{[]byte("ID3"), "audio/mpeg", CategoryAudio},
	{[]byte{0xff, 0xfb}, "audio/mpeg", CategoryAudio},
	{[]byte("RIFF"), "audio/wav", CategoryAudio},
	{[]byte("fLaC"), "audio/flac", CategoryAudio},
	{[]byte{0x52, 0x61, 0x72, 0x21}, "application/x-rar-compressed", CategoryArchive},
	{[]byte{0x1f, 0x8b}, "application/gzip", CategoryArchive},
	{[]byte("7z\xbc\xaf\x27\x1c"), "application/x-7z-compressed", CategoryArchive},
	{[]byte("SQLite format 3"), "application/x-sqlite3", CategoryDatabase},
}

var mimeToCategory = map[string]FileCategory{
	"application/pdf":    CategoryDocument,
	"application/msword": CategoryDocument,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": CategoryDocument,
	"application/rtf": CategoryDocument,
	"text/plain":      CategoryDocument,
	"text/html":       CategoryDocument,

	"application/vnd.ms-excel": CategorySpreadsheet,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": CategorySpreadsheet,
	"text/csv": CategorySpreadsheet,

	"application/vnd.ms-powerpoint": CategoryPresentation,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": CategoryPresentation,

	"message/rfc822":             CategoryEmail,
	"application/vnd.ms-outlook": CategoryEmail,

	"image/jpeg":    CategoryImage,
	"image/png":     CategoryImage,
	"image/gif":     CategoryImage,
	"image/bmp":     CategoryImage,
	"image/tiff":    CategoryImage,
	"image/svg+xml": CategoryImage,
	"image/webp":    CategoryImage,

	"video/mp4":        CategoryVideo,
	"video/mpeg":       CategoryVideo,
	"video/quicktime":  CategoryVideo,
	"video/x-msvideo":  CategoryVideo,
	"video/x-matroska": CategoryVideo,

	"audio/mpeg": CategoryAudio,
	"audio/wav":  CategoryAudio,
	"audio/ogg":  CategoryAudio,
	"audio/flac": CategoryAudio,
	"audio/mp4":  CategoryAudio,

	"application/zip":              CategoryArchive,
	"application/x-rar-compressed": CategoryArchive,
	"application/gzip":             CategoryArchive,
	"application/x-7z-compressed":  CategoryArchive,
	"application/x-tar":            CategoryArchive,

	"application/x-sqlite3":     CategoryDatabase,
	"application/vnd.ms-access": CategoryDatabase,
}

// mimeByExtension is a fixed extension table so MIME guessing does not depend
// on host mime databases.
var mimeByExtension = map[string]string{
	".pdf":    "application/pdf",
	".doc":    "application/msword",
	".docx":   "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".rtf":    "application/rtf",
	".txt":    "text/plain",
	".html":   "text/html",
	".htm":    "text/html",
	".xls":    "application/vnd.ms-excel",
	".xlsx":   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".csv":    "text/csv",
	".ppt":    "application/vnd.ms-powerpoint",
	".pptx":   "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".eml":    "message/rfc822",
	".msg":    "application/vnd.ms-outlook",
	".jpg":    "image/jpeg",
	".jpeg":   "image/jpeg",
	".png":    "image/png",
	".gif":    "image/gif",
	".bmp":    "image/bmp",
	".tif":    "image/tiff",
	".tiff":   "image/tiff",
	".svg":    "image/svg+xml",
	".webp":   "image/webp",
	".mp4":    "video/mp4",
	".avi":    "video/x-msvideo",
	".mov":    "video/quicktime",
	".mkv":    "video/x-matroska",
	".mp3":    "audio/mpeg",
	".wav":    "audio/wav",
	".ogg":    "audio/ogg",
	".flac":   "audio/flac",
	".m4a":    "audio/mp4",
	".zip":    "application/zip",
	".rar":    "application/x-rar-compressed",
	".gz":     "application/gzip",
	".7z":     "application/x-7z-compressed",
	".tar":    "application/x-tar",
	".db":     "application/x-sqlite3",
	".sqlite": "application/x-sqlite3",
	".mdb":    "application/vnd.ms-access",
}

const octetStream = "application/octet-stream"

// Analyzer classifies files for type, quality, and processability. The zero
// value is ready to use and safe for concurrent use.
type Analyzer struct{}

// New returns a file analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// AnalyzeFile reads and analyzes a file from disk. Read errors produce a
// placeholder result rather than an error.
func (a *Analyzer) AnalyzeFile(path string) FileAnalysis {
	data, err := os.ReadFile(path)
	if err != nil {
		return errorAnalysis(filepath.Base(path), fmt.Sprintf("Analysis failed: %v", err))
	}
	return a.AnalyzeBytes(filepath.Base(path), data)
}

// AnalyzeBytes analyzes a payload without filesystem access.
func (a *Analyzer) AnalyzeBytes(filename string, data []byte) FileAnalysis {
	ext := strings.ToLower(filepath.Ext(filename))

	md5Sum := md5.Sum(data)
	sha256Sum := sha256.Sum256(data)

	mimeType := guessMIMEFromExtension(ext)
	detectedMIME := detectMIMEFromMagic(data)

	category := determineCategory(mimeType, detectedMIME, ext)
	quality, details := assessQuality(data, mimeType, detectedMIME)

	processable := (quality == QualityValid || quality == QualitySuspicious) && len(data) > 0

	return FileAnalysis{
		Filename:               filename,
		FileSize:               int64(len(data)),
		Extension:              ext,
		MIMEType:               mimeType,
		DetectedMIME:           detectedMIME,
		Category:               category,
		Quality:                quality,
		QualityDetails:         details,
		IsProcessable:          processable,
		MD5Hash:                hex.EncodeToString(md5Sum[:]),
		SHA256Hash:             hex.EncodeToString(sha256Sum[:]),
		Metadata:               extractMetadata(data, category),
		SupportsTextExtraction: supportsTextExtraction(category, quality),
		SupportsImagePreview:   supportsImagePreview(category, quality),
		SupportsThumbnail:      supportsThumbnail(category, quality),
		AnalyzedAt:             time.Now().UTC(),
	}
}

func guessMIMEFromExtension(ext string) string {
	if m, ok := mimeByExtension[ext]; ok {
		return m
	}
	return octetStream
}

func detectMIMEFromMagic(data []byte) string {
	// ZIP-based Office Open XML formats are probed before the generic
	// signature table so DOCX does not report as a plain archive.
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		head := data
		if len(head) > 4096 {
			head = head[:4096]
		}
		switch {
		case bytes.Contains(head, []byte("word/")):
			return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		case bytes.Contains(head, []byte("xl/")):
			return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		case bytes.Contains(head, []byte("ppt/")):
			return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
		}
		return "application/zip"
	}

	for _, sig := range fileSignatures {
		if bytes.HasPrefix(data, sig.prefix) {
			return sig.mime
		}
	}
	return ""
}

func determineCategory(mimeType, detectedMIME, ext string) FileCategory {
	if detectedMIME != "" {
		if c, ok := mimeToCategory[detectedMIME]; ok {
			return c
		}
	}
	if c, ok := mimeToCategory[mimeType]; ok {
		return c
	}
	return categoryFromExtension(ext)
}

func categoryFromExtension(ext string) FileCategory {
	switch ext {
	case ".doc", ".docx", ".pdf", ".txt", ".rtf", ".odt":
		return CategoryDocument
	case ".xls", ".xlsx", ".csv", ".ods":
		return CategorySpreadsheet
	case ".ppt", ".pptx", ".odp":
		return CategoryPresentation
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".svg", ".webp":
		return CategoryImage
	case ".mp4", ".avi", ".mov", ".mkv", ".wmv", ".flv":
		return CategoryVideo
	case ".mp3", ".wav", ".ogg", ".flac", ".m4a", ".wma":
		return CategoryAudio
	case ".zip", ".rar", ".7z", ".tar", ".gz", ".bz2":
		return CategoryArchive
	case ".eml", ".msg", ".mbox":
		return CategoryEmail
	case ".db", ".sqlite", ".mdb", ".accdb":
		return CategoryDatabase
	case ".py", ".java", ".cpp", ".js", ".go", ".rs":
		return CategoryCode
	}
	return CategoryUnknown
}

// assessQuality applies integrity checks in fixed order; the first match wins.
func assessQuality(data []byte, mimeType, detectedMIME string) (DataQuality, string) {
	if len(data) == 0 {
		return QualityCorrupted, "File is empty"
	}

	if detectedMIME != "" && mimeType != octetStream && !mimeTypesCompatible(mimeType, detectedMIME) {
		return QualityInvalidFormat, fmt.Sprintf("Extension suggests %s but content is %s", mimeType, detectedMIME)
	}

	if isEncrypted(data) {
		return QualityEncrypted, "File appears to be password-protected"
	}

	if detectedMIME != "" {
		if details := checkCorruption(data, detectedMIME); details != "" {
			return QualityCorrupted, details
		}
	}

	if isSuspicious(data) {
		return QualitySuspicious, "File contains suspicious patterns"
	}

	return QualityValid, "File appears intact"
}

func mimeTypesCompatible(mime1, mime2 string) bool {
	if mime1 == mime2 {
		return true
	}

	zips := map[string]bool{
		"application/zip":              true,
		"application/x-zip-compressed": true,
	}
	if zips[mime1] && zips[mime2] {
		return true
	}

	// Office binary vs Office Open XML variants of the same family.
	if strings.Contains(mime1, "officedocument") && strings.Contains(mime2, "ms-") {
		return true
	}
	if strings.Contains(mime2, "officedocument") && strings.Contains(mime1, "ms-") {
		return true
	}

	return false
}

func isEncrypted(data []byte) bool {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}

	if bytes.HasPrefix(data, []byte("%PDF")) && bytes.Contains(head, []byte("/Encrypt")) {
		return true
	}

	if bytes.Contains(head, []byte("EncryptedPackage")) {
		return true
	}

	// ZIP general-purpose flag bit 0 marks an encrypted entry.
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) && len(data) >= 8 && data[6]&0x01 != 0 {
		return true
	}

	return false
}

func checkCorruption(data []byte, mimeType string) string {
	if mimeType == "application/pdf" {
		if !bytes.HasSuffix(data, []byte("%%EOF\n")) && !bytes.HasSuffix(data, []byte("%%EOF")) {
			return "PDF missing EOF marker (possibly truncated)"
		}
	}

	if strings.Contains(strings.ToLower(mimeType), "zip") {
		// End-of-central-directory record alone is 22 bytes.
		if len(data) < 22 {
			return "ZIP file too small (corrupted)"
		}
	}

	if mimeType == "image/jpeg" {
		if !bytes.HasSuffix(data, []byte{0xff, 0xd9}) {
			return "JPEG missing EOI marker (possibly truncated)"
		}
	}

	if mimeType == "image/png" {
		if !bytes.HasSuffix(data, []byte("\x00\x00\x00\x00IEND\xae\x42\x60\x82")) {
			return "PNG missing IEND chunk (possibly truncated)"
		}
	}

	return ""
}

var suspiciousPatterns = [][]byte{
	[]byte("TVqQAAMAAAAEAAAA"), // PE executable in base64
	[]byte("This program cannot be run in DOS mode"),
	[]byte("<script"),
}

func isSuspicious(data []byte) bool {
	head := data
	if len(head) > 8192 {
		head = head[:8192]
	}
	for _, pattern := range suspiciousPatterns {
		if bytes.Contains(head, pattern) {
			return true
		}
	}
	return false
}

func extractMetadata(data []byte, category FileCategory) map[string]string {
	metadata := map[string]string{}

	if category == CategoryDocument && bytes.HasPrefix(data, []byte("%PDF")) {
		metadata["pdf_version"] = extractPDFVersion(data)
	}

	if category == CategoryImage {
		if w, h, ok := extractImageDimensions(data); ok {
			metadata["width"] = w
			metadata["height"] = h
		}
	}

	return metadata
}

func extractPDFVersion(data []byte) string {
	head := data
	if len(head) > 20 {
		head = head[:20]
	}
	if idx := bytes.Index(head, []byte("%PDF-")); idx >= 0 {
		rest := head[idx+len("%PDF-"):]
		if len(rest) > 3 {
			rest = rest[:3]
		}
		return string(rest)
	}
	return "unknown"
}

func extractImageDimensions(data []byte) (width, height string, ok bool) {
	// PNG IHDR: width and height are big-endian at offsets 16 and 20.
	if bytes.HasPrefix(data, []byte("\x89PNG")) && len(data) >= 24 {
		w := binary.BigEndian.Uint32(data[16:20])
		h := binary.BigEndian.Uint32(data[20:24])
		return fmt.Sprintf("%d", w), fmt.Sprintf("%d", h), true
	}
	return "", "", false
}

func supportsTextExtraction(category FileCategory, quality DataQuality) bool {
	if quality != QualityValid {
		return false
	}
	switch category {
	case CategoryDocument, CategoryEmail, CategorySpreadsheet, CategoryPresentation, CategoryCode:
		return true
	}
	return false
}

func supportsImagePreview(category FileCategory, quality DataQuality) bool {
	if quality != QualityValid {
		return false
	}
	return category == CategoryImage || category == CategoryVideo
}

func supportsThumbnail(category FileCategory, quality DataQuality) bool {
	if quality != QualityValid {
		return false
	}
	switch category {
	case CategoryImage, CategoryVideo, CategoryDocument, CategoryPresentation:
		return true
	}
	return false
}

func errorAnalysis(filename, details string) FileAnalysis {
	return FileAnalysis{
		Filename:       filename,
		Extension:      strings.ToLower(filepath.Ext(filename)),
		MIMEType:       octetStream,
		Category:       CategoryUnknown,
		Quality:        QualityCorrupted,
		QualityDetails: details,
		Metadata:       map[string]string{},
		AnalyzedAt:     time.Now().UTC(),
	}
}
