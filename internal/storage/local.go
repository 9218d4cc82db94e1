package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Local is a filesystem Storage rooted at one directory. Writes go to a temp
// file that is renamed into place, so readers never observe partial objects.
// The os.Root keeps every key inside the directory.
type Local struct {
	root *os.Root
	dir  string
}

// NewLocal opens (creating if needed) dir as a local store.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("local storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open storage root: %w", err)
	}
	return &Local{root: root, dir: dir}, nil
}

var _ Storage = (*Local)(nil)

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Put atomically writes the object and returns its SHA256 etag.
func (l *Local) Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	tmpName := ".tmp-" + uuid.NewString()
	t, err := l.root.Create(tmpName)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		_ = t.Close()
		if !success {
			_ = l.root.Remove(tmpName)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(h, t), &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("copy contents: %w", err)
	}
	if err := t.Sync(); err != nil {
		return ObjectInfo{}, fmt.Errorf("sync file: %w", err)
	}

	if dir := filepath.Dir(key); dir != "." {
		if err := l.root.MkdirAll(dir, 0o750); err != nil {
			return ObjectInfo{}, fmt.Errorf("create directories: %w", err)
		}
	}
	if err := l.root.Rename(tmpName, key); err != nil {
		return ObjectInfo{}, fmt.Errorf("rename into place: %w", err)
	}
	success = true

	return ObjectInfo{
		Key:          key,
		Size:         n,
		ETag:         hex.EncodeToString(h.Sum(nil)),
		ContentType:  opt.ContentType,
		LastModified: time.Now(),
		Metadata:     opt.Metadata,
	}, nil
}

// Get opens the object for reading.
func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, ObjectInfo{}, err
	}
	f, err := l.root.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ObjectInfo{}, ErrNotFound
		}
		return nil, ObjectInfo{}, fmt.Errorf("open file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ObjectInfo{}, fmt.Errorf("stat file: %w", err)
	}
	return f, ObjectInfo{
		Key:          key,
		Size:         st.Size(),
		ContentType:  mime.TypeByExtension(filepath.Ext(key)),
		LastModified: st.ModTime(),
	}, nil
}

// Delete removes the object. Returns ErrNotFound if it does not exist.
func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.root.Remove(key); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// PresignGet is not supported for local files.
func (l *Local) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}

// Ping checks that the root directory is still accessible.
func (l *Local) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := l.root.Stat(".")
	return err
}

// Dir returns the directory backing the store.
func (l *Local) Dir() string { return l.dir }

// Close releases the root handle.
func (l *Local) Close() error {
	return l.root.Close()
}
