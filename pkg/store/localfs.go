package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// LocalFSStore writes evidence to the local filesystem under
// base/<source>/<matter>/<document_id>/. Each document directory holds
// body.txt (when the document has body text), metadata.json,
// custody_chain.json, and an attachments/ directory with the raw payloads.
// Files are written to a temp name and renamed so a crash never leaves a
// partially-written file at its final path.
type LocalFSStore struct {
	basePath string
	log      logging.Logger
}

// NewLocalFSStore creates the store and its base directory.
func NewLocalFSStore(basePath string, log logging.Logger) (*LocalFSStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("%w: local_fs store requires base_path", apperrors.ErrConfig)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating base path %s: %v", apperrors.ErrStorage, basePath, err)
	}
	return &LocalFSStore{basePath: basePath, log: log}, nil
}

// Name implements ObjectStore.
func (s *LocalFSStore) Name() string { return "local_fs" }

// Persist writes the full document layout and returns the document
// directory. The custody chain is extended with a persistence event and
// written last, so the stored chain records where the evidence landed.
func (s *LocalFSStore) Persist(ctx context.Context, doc *evidence.Document) (string, error) {
	dir := filepath.Join(s.basePath,
		sanitizeSegment(doc.Source),
		sanitizeSegment(doc.MatterID()),
		sanitizeSegment(doc.DocumentID))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating document directory: %v", apperrors.ErrStorage, err)
	}

	if doc.BodyText != "" {
		if err := s.writeFile(filepath.Join(dir, "body.txt"), []byte(doc.BodyText)); err != nil {
			return "", err
		}
	}

	metadata, err := doc.MarshalCanonical()
	if err != nil {
		return "", fmt.Errorf("%w: serializing metadata: %v", apperrors.ErrStorage, err)
	}
	if err := s.writeFile(filepath.Join(dir, "metadata.json"), metadata); err != nil {
		return "", err
	}

	if len(doc.Attachments) > 0 {
		attDir := filepath.Join(dir, "attachments")
		if err := os.MkdirAll(attDir, 0o755); err != nil {
			return "", fmt.Errorf("%w: creating attachments directory: %v", apperrors.ErrStorage, err)
		}
		for _, att := range doc.Attachments {
			if att.Payload == nil {
				continue
			}
			name := sanitizeSegment(att.Filename)
			if name == "" {
				name = "unnamed"
			}
			if err := s.writeFile(filepath.Join(attDir, name), att.Payload); err != nil {
				return "", err
			}
		}
	}

	doc.AddCustodyEvent(s.Name(), evidence.ActionPersisted, map[string]string{
		"location": dir,
	})
	chain, err := doc.MarshalCustodyChain()
	if err != nil {
		return "", fmt.Errorf("%w: serializing custody chain: %v", apperrors.ErrStorage, err)
	}
	if err := s.writeFile(filepath.Join(dir, "custody_chain.json"), chain); err != nil {
		return "", err
	}

	s.log.Debug("persisted document",
		logging.F("document_id", doc.DocumentID),
		logging.F("path", dir))
	return dir, nil
}

// writeFile writes atomically within the target directory: temp file, then
// rename.
func (s *LocalFSStore) writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file in %s: %v", apperrors.ErrStorage, dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing %s: %v", apperrors.ErrStorage, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing %s: %v", apperrors.ErrStorage, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: renaming into place %s: %v", apperrors.ErrStorage, path, err)
	}
	return nil
}

// sanitizeSegment makes a value safe as a single path component.
func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		"\x00", "",
	)
	return replacer.Replace(s)
}
