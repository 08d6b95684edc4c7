package evidence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	ErrTooLarge        = errors.New("evidence file too large")
	ErrUnsupportedType = errors.New("unsupported evidence content type")
	ErrEmpty           = errors.New("evidence file is empty")
	ErrNotStored       = errors.New("url does not name a stored evidence file")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// Store keeps evidence photos on an afero filesystem and hands out public URLs.
type Store struct {
	fs         afero.Fs
	dir        string
	publicPath string
	maxBytes   int64
}

func NewStore(fs afero.Fs, dir, publicPath string, maxBytes int64) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &Store{
		fs:         fs,
		dir:        dir,
		publicPath: "/" + strings.Trim(publicPath, "/"),
		maxBytes:   maxBytes,
	}, nil
}

// Check reports whether data could be saved, without writing anything.
func (s *Store) Check(contentType string, data []byte) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return ErrTooLarge
	}
	if _, ok := extensions[normalizeType(contentType, data)]; !ok {
		return ErrUnsupportedType
	}
	return nil
}

// Save writes data under prefix and returns the public URL of the stored file.
func (s *Store) Save(ctx context.Context, prefix, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.Check(contentType, data); err != nil {
		return "", err
	}

	name := uuid.NewString() + extensions[normalizeType(contentType, data)]
	rel := name
	if prefix != "" {
		rel = path.Join(prefix, name)
		if err := s.fs.MkdirAll(path.Join(s.dir, prefix), 0o755); err != nil {
			return "", fmt.Errorf("create evidence prefix: %w", err)
		}
	}

	if err := afero.WriteFile(s.fs, path.Join(s.dir, rel), data, 0o644); err != nil {
		return "", fmt.Errorf("write evidence: %w", err)
	}
	return path.Join(s.publicPath, rel), nil
}

// Remove deletes the file behind a URL returned by Save. A file that is
// already gone is not an error.
func (s *Store) Remove(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel := strings.TrimPrefix(url, s.publicPath+"/")
	if rel == url || rel == "" || path.Clean(rel) != rel || strings.HasPrefix(rel, "..") {
		return ErrNotStored
	}
	if err := s.fs.Remove(path.Join(s.dir, rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove evidence: %w", err)
	}
	return nil
}

// FileSystem exposes the stored files read-only for static serving.
func (s *Store) FileSystem() http.FileSystem {
	return afero.NewHttpFs(afero.NewReadOnlyFs(s.fs)).Dir(s.dir)
}

func (s *Store) PublicPath() string {
	return s.publicPath
}

func normalizeType(contentType string, data []byte) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ct == "" || ct == "application/octet-stream" {
		ct = strings.SplitN(http.DetectContentType(data), ";", 2)[0]
	}
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	return ct
}
