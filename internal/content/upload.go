package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"
)

// MaxUploadSize caps a single uploaded file.
const MaxUploadSize = 10 * 1024 * 1024

var ErrNotText = errors.New("file is not valid UTF-8 text")

// Upload is the result of reading one uploaded file.
type Upload struct {
	Name       string
	Content    string
	Size       int64
	ModifiedAt time.Time
}

// UploadSource is the file-read primitive used by uploads: the name is known
// up front, the content arrives asynchronously.
type UploadSource interface {
	Name() string
	Read(ctx context.Context) (Upload, error)
}

// BytesSource serves content already held in memory.
type BytesSource struct {
	FileName string
	Data     []byte
	ModTime  time.Time
}

func (s BytesSource) Name() string { return s.FileName }

func (s BytesSource) Read(ctx context.Context) (Upload, error) {
	if err := ctx.Err(); err != nil {
		return Upload{}, err
	}
	return toUpload(s.FileName, s.Data, s.ModTime)
}

// FileSource reads a file from the local filesystem.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return filepath.Base(s.Path) }

func (s FileSource) Read(ctx context.Context) (Upload, error) {
	if err := ctx.Err(); err != nil {
		return Upload{}, err
	}
	st, err := os.Stat(s.Path)
	if err != nil {
		return Upload{}, err
	}
	if st.Size() > MaxUploadSize {
		return Upload{}, fmt.Errorf("%s: %d bytes exceeds upload limit", s.Path, st.Size())
	}
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return Upload{}, err
	}
	return toUpload(s.Name(), b, st.ModTime())
}

// MultipartSource reads a file part of a multipart upload.
type MultipartSource struct {
	Header *multipart.FileHeader
}

func (s MultipartSource) Name() string { return filepath.Base(s.Header.Filename) }

func (s MultipartSource) Read(ctx context.Context) (Upload, error) {
	if err := ctx.Err(); err != nil {
		return Upload{}, err
	}
	if s.Header.Size > MaxUploadSize {
		return Upload{}, fmt.Errorf("%s: %d bytes exceeds upload limit", s.Name(), s.Header.Size)
	}
	f, err := s.Header.Open()
	if err != nil {
		return Upload{}, err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, MaxUploadSize+1))
	if err != nil {
		return Upload{}, err
	}
	return toUpload(s.Name(), b, time.Now())
}

func toUpload(name string, b []byte, mod time.Time) (Upload, error) {
	if !utf8.Valid(b) {
		return Upload{}, fmt.Errorf("%s: %w", name, ErrNotText)
	}
	if mod.IsZero() {
		mod = time.Now()
	}
	return Upload{Name: name, Content: string(b), Size: int64(len(b)), ModifiedAt: mod}, nil
}
