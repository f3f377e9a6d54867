// Package media archives Telegram files to local storage.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/aulabot/internal/database"
)

const (
	downloadTimeout = 2 * time.Minute
	// Telegram bots cannot download files larger than this.
	maxFileSize = 20 << 20
)

// Linker resolves a Telegram file id to a download URL.
type Linker interface {
	FileLink(ctx context.Context, fileID string) (string, error)
}

// Archiver downloads media into <base_dir>/<kind>/.
type Archiver struct {
	linker  Linker
	baseDir string
	client  *http.Client
	logger  *slog.Logger
}

// NewArchiver creates an Archiver. A nil client uses http.DefaultClient.
func NewArchiver(linker Linker, baseDir string, client *http.Client, logger *slog.Logger) *Archiver {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Archiver{linker: linker, baseDir: baseDir, client: client, logger: logger.With("component", "media_archiver")}
}

// Archive downloads the file of a media item and records its local path in
// item.FilePath. Items without a file, or already archived, are left alone.
func (a *Archiver) Archive(ctx context.Context, item *database.ContentItem) error {
	if !item.Kind.IsMedia() || item.FileID == "" || item.FilePath != "" {
		return nil
	}
	log := a.logger.With("kind", item.Kind, "file_id", item.FileID)

	link, err := a.linker.FileLink(ctx, item.FileID)
	if err != nil {
		return err
	}

	dir := filepath.Join(a.baseDir, string(item.Kind))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}
	dest := filepath.Join(dir, uuid.NewString()+extension(link, item.MimeType))

	size, err := a.download(ctx, link, dest)
	if err != nil {
		if rmErr := os.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
			log.WarnContext(ctx, "Failed to remove partial download", "path", dest, "error", rmErr)
		}
		return err
	}

	item.FilePath = dest
	log.DebugContext(ctx, "Archived media", "path", dest, "bytes", size)
	return nil
}

func (a *Archiver) download(ctx context.Context, link, dest string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, fmt.Errorf("failed to create media file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxFileSize+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write media file: %w", err)
	}
	if n > maxFileSize {
		return n, fmt.Errorf("file exceeds %d bytes", maxFileSize)
	}
	return n, nil
}

// extension takes the extension from the download URL, falling back to the
// MIME type.
func extension(link, mimeType string) string {
	if u, err := url.Parse(link); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return ext
		}
	}
	if mimeType != "" {
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ""
}
