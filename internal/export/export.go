// Package export compiles logged group conversations into HTML files.
package export

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/errs"
)

//go:embed conversation.html.tmpl
var templateFS embed.FS

const (
	templateName = "conversation.html.tmpl"
	timeLayout   = "02/01/2006 15:04"
	fileLayout   = "20060102T1504"
)

var page = template.Must(template.New(templateName).Funcs(template.FuncMap{
	"fmtTime": func(t time.Time) string { return t.Local().Format(timeLayout) },
	"base":    filepath.Base,
}).ParseFS(templateFS, templateName))

// Messages reads the message log.
type Messages interface {
	CountGroupMessages(ctx context.Context, groupID int64, from, to time.Time) (int, error)
	ListGroupMessages(ctx context.Context, groupID int64, from, to time.Time, offset, limit int) ([]database.LoggedMessage, error)
}

type pageData struct {
	Group    database.Group
	From, To time.Time
	Part     int
	Parts    int
	Messages []database.LoggedMessage
}

// Compiler renders conversations into <dir>, at most partitionSize
// messages per file.
type Compiler struct {
	store         Messages
	dir           string
	partitionSize int
	logger        *slog.Logger
}

// NewCompiler creates a Compiler.
func NewCompiler(store Messages, dir string, partitionSize int, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Compiler{store: store, dir: dir, partitionSize: partitionSize, logger: logger.With("component", "export")}
}

// Count returns the number of messages logged in group within [from, to).
func (c *Compiler) Count(ctx context.Context, groupID int64, from, to time.Time) (int, error) {
	return c.store.CountGroupMessages(ctx, groupID, from, to)
}

// Compile writes the conversation of group within [from, to) and returns
// the file paths in order. No file is written for an empty range.
func (c *Compiler) Compile(ctx context.Context, group database.Group, from, to time.Time) ([]string, error) {
	if !from.Before(to) {
		return nil, errs.NewValidationError("export range start must precede its end", nil)
	}
	if c.partitionSize <= 0 {
		return nil, errs.NewValidationError(fmt.Sprintf("invalid partition size %d", c.partitionSize), nil)
	}

	total, err := c.store.CountGroupMessages(ctx, group.ID, from, to)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	parts := (total + c.partitionSize - 1) / c.partitionSize
	paths := make([]string, 0, parts)
	for part := 1; part <= parts; part++ {
		msgs, err := c.store.ListGroupMessages(ctx, group.ID, from, to, (part-1)*c.partitionSize, c.partitionSize)
		if err != nil {
			Remove(paths)
			return nil, err
		}
		if len(msgs) == 0 {
			break
		}

		path := filepath.Join(c.dir, fmt.Sprintf("%d_%s_%s_%d.html",
			group.ID, from.Local().Format(fileLayout), to.Local().Format(fileLayout), part))
		data := pageData{Group: group, From: from, To: to, Part: part, Parts: parts, Messages: msgs}
		if err := write(path, data); err != nil {
			Remove(paths)
			return nil, err
		}
		paths = append(paths, path)
	}

	c.logger.InfoContext(ctx, "Conversation compiled", "group_id", group.ID, "messages", total, "files", len(paths))
	return paths, nil
}

func write(path string, data pageData) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close export file: %w", closeErr)
		}
	}()
	if err := page.ExecuteTemplate(f, templateName, data); err != nil {
		return fmt.Errorf("failed to render export file: %w", err)
	}
	return nil
}

// Remove deletes compiled files, ignoring missing ones.
func Remove(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
