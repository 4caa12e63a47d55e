package filestore

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/google/uuid"
	"github.com/macrolens/mealreport/internal/domain"
	"github.com/spf13/afero"
)

// DataDir is the app-private data directory. All paths are relative to its root;
// paths escaping the root are rejected.
type DataDir struct {
	fs afero.Fs
}

// NewDataDir scopes fs to root
func NewDataDir(fs afero.Fs, root string) *DataDir {
	return &DataDir{fs: afero.NewBasePathFs(fs, root)}
}

// NewOsDataDir opens root on the host filesystem
func NewOsDataDir(root string) *DataDir {
	return NewDataDir(afero.NewOsFs(), root)
}

// Mkdir creates a directory. An existing directory is not an error.
func (d *DataDir) Mkdir(p string, recursive bool) error {
	var err error
	if recursive {
		err = d.fs.MkdirAll(p, 0o755)
	} else {
		err = d.fs.Mkdir(p, 0o755)
	}
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: mkdir %s: %v", domain.ErrBackendUnavailable, p, err)
	}
	return nil
}

// WriteFile writes text through a temporary file renamed into place,
// so readers never observe a partially written record.
func (d *DataDir) WriteFile(p string, text string) error {
	tmp := path.Join(path.Dir(p), "."+path.Base(p)+"."+uuid.NewString()+".tmp")
	if err := afero.WriteFile(d.fs, tmp, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := d.fs.Rename(tmp, p); err != nil {
		d.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", p, err)
	}
	return nil
}

// ReadFile returns the file content. A missing file wraps os.ErrNotExist.
func (d *DataDir) ReadFile(p string) (string, error) {
	data, err := afero.ReadFile(d.fs, p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadDir returns the names of the regular files in a directory, sorted
func (d *DataDir) ReadDir(p string) ([]string, error) {
	infos, err := afero.ReadDir(d.fs, p)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Mode().IsRegular() {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeleteFile removes a file. A missing file wraps os.ErrNotExist.
func (d *DataDir) DeleteFile(p string) error {
	return d.fs.Remove(p)
}
