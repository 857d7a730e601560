package blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/baatchit/internal/logger"
)

// Блокируем только опасные расширения (исполняемые/скрипты). Остальные: разрешены.
var blockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

// DiskStore хранит файлы сжатыми (<dir>/<folder>/<uuid><ext>.gz), publicId = <folder>/<uuid><ext>.
type DiskStore struct {
	dir       string
	publicURL string
}

// NewDiskStore: publicURL задаёт префикс ссылок, например "/api/files".
func NewDiskStore(dir, publicURL string) *DiskStore {
	return &DiskStore{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}
}

func validFolder(folder string) bool {
	if folder == "" || len(folder) > 64 {
		return false
	}
	for _, r := range folder {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}

// cleanPublicID проверяет, что id имеет вид folder/name без выхода за пределы каталога.
func cleanPublicID(publicID string) (string, bool) {
	folder, name, ok := strings.Cut(publicID, "/")
	if !ok || !validFolder(folder) || name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", false
	}
	return path.Join(folder, name), true
}

func (s *DiskStore) Upload(ctx context.Context, folder, fileName string, r io.Reader) (Object, error) {
	defer logger.DeferLogDuration("blob.DiskStore.Upload", time.Now())()
	if !validFolder(folder) {
		return Object{}, ErrBadFolder
	}
	ext := strings.ToLower(filepath.Ext(strings.ReplaceAll(fileName, "+", " ")))
	if blockedExt[ext] {
		return Object{}, ErrBlockedExt
	}

	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(r, head, len(head))
	head = head[:n]
	if !matchMagic(ext, head) {
		return Object{}, ErrBlockedExt
	}

	if err := os.MkdirAll(filepath.Join(s.dir, folder), 0o755); err != nil {
		return Object{}, fmt.Errorf("blob mkdir: %w", err)
	}
	publicID := folder + "/" + uuid.New().String() + ext
	dstPath := filepath.Join(s.dir, filepath.FromSlash(publicID)) + ".gz"
	dst, err := os.Create(dstPath)
	if err != nil {
		return Object{}, fmt.Errorf("blob create: %w", err)
	}
	gz := gzip.NewWriter(dst)
	if err := writeAll(ctx, gz, io.MultiReader(bytes.NewReader(head), r)); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(dstPath)
		return Object{}, err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return Object{}, fmt.Errorf("blob gzip close: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return Object{}, fmt.Errorf("blob close: %w", err)
	}
	return Object{URL: s.publicURL + "/" + publicID, PublicID: publicID}, nil
}

// Open возвращает распакованное содержимое.
func (s *DiskStore) Open(publicID string) (io.ReadCloser, error) {
	id, ok := cleanPublicID(publicID)
	if !ok {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(id)) + ".gz")
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blob open: %w", err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blob gzip: %w", err)
	}
	return &gzipFile{Reader: gz, f: f}, nil
}

// Delete идемпотентен: отсутствующий файл не ошибка.
func (s *DiskStore) Delete(ctx context.Context, publicID string) error {
	id, ok := cleanPublicID(publicID)
	if !ok {
		return ErrNotFound
	}
	err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(id)) + ".gz")
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob delete: %w", err)
	}
	return nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	g.Reader.Close()
	return g.f.Close()
}

func writeAll(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upload cancelled: %w", err)
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".pdf":
		return len(head) >= 5 && bytes.Equal(head[:5], []byte("%PDF-"))
	}
	return true
}

func contentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".webm":
		return "audio/webm"
	case ".ogg":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
