package reportstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/macrolens/mealreport/internal/domain"
	"github.com/macrolens/mealreport/internal/infrastructure/filestore"
	"go.uber.org/zap"
)

const recordExt = ".json"

// FilesystemBackend stores each report as <reportsDir>/<id>.json in the app data directory
type FilesystemBackend struct {
	dir        *filestore.DataDir
	reportsDir string
	logger     *zap.Logger
}

// NewFilesystemBackend creates a backend rooted at reportsDir inside dir
func NewFilesystemBackend(dir *filestore.DataDir, reportsDir string, logger *zap.Logger) *FilesystemBackend {
	if reportsDir == "" {
		reportsDir = "reports"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilesystemBackend{dir: dir, reportsDir: reportsDir, logger: logger}
}

// Name identifies the backend in logs and metrics
func (b *FilesystemBackend) Name() string { return "filesystem" }

// Probe ensures the reports directory exists
func (b *FilesystemBackend) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.dir.Mkdir(b.reportsDir, true)
}

func (b *FilesystemBackend) recordPath(id string) string {
	return path.Join(b.reportsDir, id+recordExt)
}

// Read returns the record for id
func (b *FilesystemBackend) Read(ctx context.Context, id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	data, err := b.dir.ReadFile(b.recordPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return "", domain.ErrReportNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read report file %s: %w", id, err)
	}
	return data, nil
}

// Write stores the record for id
func (b *FilesystemBackend) Write(ctx context.Context, id, record string) error {
	if err := validateID(id); err != nil {
		return err
	}
	return b.dir.WriteFile(b.recordPath(id), record)
}

// Delete removes the record for id
func (b *FilesystemBackend) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := b.dir.DeleteFile(b.recordPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete report file %s: %w", id, err)
	}
	return nil
}

// List reads every record file. Unreadable files are logged and skipped.
func (b *FilesystemBackend) List(ctx context.Context) ([]domain.RawRecord, error) {
	names, err := b.recordFiles()
	if err != nil {
		return nil, err
	}

	records := make([]domain.RawRecord, 0, len(names))
	for _, name := range names {
		data, err := b.dir.ReadFile(path.Join(b.reportsDir, name))
		if err != nil {
			b.logger.Warn("error reading report file", zap.String("file", name), zap.Error(err))
			continue
		}
		records = append(records, domain.RawRecord{ID: strings.TrimSuffix(name, recordExt), Value: data})
	}
	return records, nil
}

// DeleteAll removes every record file, continuing past individual failures
func (b *FilesystemBackend) DeleteAll(ctx context.Context) error {
	names, err := b.recordFiles()
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range names {
		if err := b.dir.DeleteFile(path.Join(b.reportsDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("delete report file %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (b *FilesystemBackend) recordFiles() ([]string, error) {
	names, err := b.dir.ReadDir(b.reportsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading reports directory: %w", err)
	}

	files := names[:0]
	for _, name := range names {
		if strings.HasSuffix(name, recordExt) && !strings.HasPrefix(name, ".") {
			files = append(files, name)
		}
	}
	return files, nil
}
