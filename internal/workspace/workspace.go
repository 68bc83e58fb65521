// ABOUTME: Per-connection workspace provisioning and upload handling
// ABOUTME: Creates uuid-named workspace directories and saves uploads with collision suffixing

package workspace

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// UploadDirName is the directory under each workspace that holds uploads
const UploadDirName = "uploads"

// Manager owns a single connection's workspace directory
type Manager struct {
	Root   string
	logger *slog.Logger
}

// Provision creates a fresh uuid-named workspace directory under root and
// returns a Manager for it along with the directory's ID.
func Provision(root string) (*Manager, string, error) {
	id := uuid.New().String()
	dir := filepath.Join(root, id)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, "", fmt.Errorf("creating workspace directory: %w", err)
	}

	m := &Manager{
		Root:   dir,
		logger: slog.Default().With("component", "workspace"),
	}
	return m, id, nil
}

// Open returns a Manager for an existing workspace directory.
// Used when handling uploads for a session provisioned earlier.
func Open(dir string) *Manager {
	return &Manager{
		Root:   dir,
		logger: slog.Default().With("component", "workspace"),
	}
}

// SaveUpload writes content to the workspace's upload directory and returns
// the saved path relative to that directory. Absolute paths are collapsed to
// their base name. On name collision a numeric suffix is appended before the
// extension (report.pdf, report_1.pdf, report_2.pdf, ...). Content in
// data-URL form ("data:...;base64,...") is base64-decoded and written as
// binary; anything else is written as text.
func (m *Manager) SaveUpload(relPath, content string) (string, error) {
	// Never let a client path escape the upload directory
	if filepath.IsAbs(relPath) {
		relPath = filepath.Base(relPath)
	}
	relPath = filepath.Clean(relPath)
	if relPath == "." || strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("invalid upload path %q", relPath)
	}

	uploadDir := filepath.Join(m.Root, UploadDirName)
	target := filepath.Join(uploadDir, relPath)

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}

	target, err := uniquePath(target)
	if err != nil {
		return "", err
	}

	data, err := decodeContent(content)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(target, data, 0644); err != nil {
		return "", fmt.Errorf("writing upload: %w", err)
	}

	saved, err := filepath.Rel(uploadDir, target)
	if err != nil {
		return "", fmt.Errorf("resolving saved path: %w", err)
	}

	m.logger.Debug("saved upload", "path", saved, "bytes", len(data))
	return saved, nil
}

// UploadPath returns the absolute path of a file previously saved under the
// upload directory.
func (m *Manager) UploadPath(saved string) string {
	return filepath.Join(m.Root, UploadDirName, saved)
}

// uniquePath appends _1, _2, ... before the extension until no file exists
// at the resulting path.
func uniquePath(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	} else if err != nil {
		return "", fmt.Errorf("checking upload path: %w", err)
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)

	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("checking upload path: %w", err)
		}
	}
}

// decodeContent returns the raw bytes for upload content, decoding base64
// data-URLs and passing plain text through.
func decodeContent(content string) ([]byte, error) {
	if !strings.HasPrefix(content, "data:") {
		return []byte(content), nil
	}

	idx := strings.Index(content, ";base64,")
	if idx < 0 {
		return []byte(content), nil
	}

	data, err := base64.StdEncoding.DecodeString(content[idx+len(";base64,"):])
	if err != nil {
		return nil, fmt.Errorf("decoding base64 content: %w", err)
	}
	return data, nil
}
