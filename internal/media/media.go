package media

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fieldsync/internal/fileutil"
	"fieldsync/internal/logging"
)

// Mover copies capture files into the app-owned durable root so a queue item
// never references a path that a camera cache or OS cleanup can reclaim.
type Mover struct {
	root   string
	logger *slog.Logger
}

// NewMover constructs a mover rooted at the durable media directory.
func NewMover(root string, logger *slog.Logger) *Mover {
	return &Mover{
		root:   root,
		logger: logging.NewComponentLogger(logger, "media"),
	}
}

// Root returns the durable media directory.
func (m *Mover) Root() string { return m.root }

// EnsureDurable copies source into the durable root and returns the new
// path. Paths already inside the root and synthetic test URIs are returned
// unchanged so repeated calls never duplicate a file. On copy failure the
// original path is returned with the error logged: referencing a possibly
// transient file beats discarding the capture.
func (m *Mover) EnsureDurable(source, suggestedName string) string {
	source = strings.TrimSpace(source)
	if source == "" || m.isDurable(source) || isSynthetic(source) {
		return source
	}

	if err := os.MkdirAll(m.root, 0o755); err != nil {
		m.logger.Warn("durable root unavailable, keeping original file reference",
			logging.String("source", source),
			logging.Error(err),
		)
		return source
	}

	name := suggestedName
	if strings.TrimSpace(name) == "" {
		name = filepath.Base(source)
	}
	target := filepath.Join(m.root, fmt.Sprintf("%d_%s", time.Now().UnixMilli(), sanitizeName(name)))

	if err := fileutil.CopyFileVerified(source, target); err != nil {
		m.logger.Warn("durable copy failed, keeping original file reference",
			logging.String("source", source),
			logging.String("target", target),
			logging.Error(err),
		)
		return source
	}
	m.logger.Info("media file made durable",
		logging.String("target", target),
		logging.Int64("bytes", fileutil.FileSize(target)),
	)
	return target
}

// Delete removes a durable file. Missing files count as success so item
// removal stays idempotent. Files outside the durable root are never touched.
func (m *Mover) Delete(path string) error {
	path = strings.TrimSpace(path)
	if path == "" || isSynthetic(path) || !m.isDurable(path) {
		return nil
	}
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("delete durable file %s: %w", path, err)
}

func (m *Mover) isDurable(path string) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// isSynthetic recognizes non-file references (test fixtures, remote URIs)
// that have no bytes to copy.
func isSynthetic(path string) bool {
	switch {
	case strings.HasPrefix(path, "test://"),
		strings.HasPrefix(path, "http://"),
		strings.HasPrefix(path, "https://"):
		return true
	default:
		return false
	}
}

func sanitizeName(name string) string {
	name = filepath.Base(name)
	replacer := strings.NewReplacer(" ", "_", string(filepath.Separator), "_")
	return replacer.Replace(name)
}
