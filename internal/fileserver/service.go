// Package fileserver хранит вложения чатов: на локальном диске (со сжатием
// gzip, раздача через Serve) или в Cloudinary.
package fileserver

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var (
	ErrBlockedType   = errors.New("file type not allowed")
	ErrContentType   = errors.New("file content does not match type")
	ErrEmptyFileName = errors.New("file name is required")
)

// blockedExt — запрещённые расширения (исполняемые файлы и скрипты).
var blockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

// Attachment описывает сохранённый файл.
type Attachment struct {
	URL         string `json:"url"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`
}

// Uploader сохраняет вложение и возвращает, откуда его можно получить.
type Uploader interface {
	Save(ctx context.Context, fileName string, size int64, r io.Reader) (*Attachment, error)
}

// inspect проверяет имя и первые байты r. Возвращённый reader снова отдаёт
// содержимое целиком.
func inspect(fileName string, r io.Reader) (ext, display string, full io.Reader, err error) {
	raw := strings.ReplaceAll(fileName, "+", " ")
	display = safeFilename(filepath.Base(raw))
	if display == "" || display == "." {
		return "", "", nil, ErrEmptyFileName
	}
	ext = strings.ToLower(filepath.Ext(raw))
	if blockedExt[ext] {
		return "", "", nil, ErrBlockedType
	}
	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(r, head, len(head))
	head = head[:n]
	if !matchMagic(ext, head) {
		return "", "", nil, ErrContentType
	}
	return ext, display, io.MultiReader(bytes.NewReader(head), r), nil
}

func kind(ext string) string {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic":
		return "image"
	}
	return "file"
}

// Local хранит вложения в Dir и раздаёт их по URLPrefix/<name>.
type Local struct {
	Dir       string
	URLPrefix string
}

func NewLocal(dir, urlPrefix string) *Local {
	return &Local{Dir: dir, URLPrefix: strings.TrimSuffix(urlPrefix, "/")}
}

func (s *Local) Save(ctx context.Context, fileName string, size int64, r io.Reader) (*Attachment, error) {
	ext, display, full, err := inspect(fileName, r)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	newName := uuid.New().String() + ext
	dstPath := filepath.Join(s.Dir, newName+".gz")
	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dstPath, err)
	}
	gz := gzip.NewWriter(dst)
	written, err := copyWithContext(ctx, gz, full)
	if err == nil {
		err = gz.Close()
	} else {
		gz.Close()
	}
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("save attachment: %w", err)
	}
	if size <= 0 {
		size = written
	}
	return &Attachment{
		URL:         s.URLPrefix + "/" + newName + "?name=" + url.QueryEscape(display),
		FileName:    display,
		FileSize:    size,
		ContentType: kind(ext),
	}, nil
}

// Serve отдаёт файл, распаковывая его. Query-параметр name становится
// именем файла при скачивании.
func (s *Local) Serve(w http.ResponseWriter, r *http.Request, filename string) {
	filename = filepath.Base(filename)
	f, err := os.Open(filepath.Join(s.Dir, filename+".gz"))
	if err != nil {
		http.Error(w, `{"error":"file not found"}`, http.StatusNotFound)
		return
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		http.Error(w, `{"error":"failed to read file"}`, http.StatusInternalServerError)
		return
	}
	defer gz.Close()

	if ct := contentTypeByExt(filepath.Ext(filename)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if orig := safeFilename(strings.ReplaceAll(r.URL.Query().Get("name"), "+", " ")); orig != "" {
		w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.QueryEscape(orig))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, gz)
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
	case ".docx":
		return len(head) >= 4 && head[0] == 0x50 && head[1] == 0x4B && (head[2] == 0x03 || head[2] == 0x05) && head[3] == 0x04
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
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	}
	return ""
}

// safeFilename убирает управляющие символы, кавычки и разделители пути.
func safeFilename(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("upload cancelled: %w", err)
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("write: %w", err)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("read: %w", readErr)
		}
	}
}
