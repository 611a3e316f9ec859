package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/WessleyAI/kitchensink/engine/record"
)

// Disk stores assets as files in a directory.
type Disk struct {
	root string
}

// NewDisk creates root if needed.
func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("asset: create %s: %w", root, err)
	}
	return &Disk{root: root}, nil
}

var _ Store = (*Disk)(nil)

// Root returns the directory assets are stored in.
func (d *Disk) Root() string { return d.root }

func (d *Disk) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (record.Asset, error) {
	key := NewKey(name)
	tmp, err := os.CreateTemp(d.root, ".upload-*")
	if err != nil {
		return record.Asset{}, fmt.Errorf("asset: put %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return record.Asset{}, fmt.Errorf("asset: put %s: %w", key, err)
	}
	if size >= 0 && n != size {
		return record.Asset{}, fmt.Errorf("asset: put %s: wrote %d of %d bytes", key, n, size)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.root, key)); err != nil {
		return record.Asset{}, fmt.Errorf("asset: put %s: %w", key, err)
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(key))
	}
	return record.Asset{Key: key, Size: n, ContentType: contentType}, nil
}

func (d *Disk) Open(ctx context.Context, key string) (io.ReadCloser, record.Asset, error) {
	if err := validKey(key); err != nil {
		return nil, record.Asset{}, err
	}
	f, err := os.Open(filepath.Join(d.root, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, record.Asset{}, fmt.Errorf("asset: open %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, record.Asset{}, fmt.Errorf("asset: open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, record.Asset{}, fmt.Errorf("asset: stat %s: %w", key, err)
	}
	return f, record.Asset{Key: key, Size: info.Size(), ContentType: mime.TypeByExtension(path.Ext(key))}, nil
}

func (d *Disk) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(d.root, key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("asset: delete %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("asset: delete %s: %w", key, err)
	}
	return nil
}
