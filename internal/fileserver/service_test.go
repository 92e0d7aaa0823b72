package fileserver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSaveAndServe(t *testing.T) {
	s := NewLocal(t.TempDir(), "/api/admin/files/")
	content := []byte("%PDF-1.4 contract draft")

	att, err := s.Save(context.Background(), "offer letter.pdf", 0, bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, "offer letter.pdf", att.FileName)
	assert.Equal(t, "file", att.ContentType)
	assert.Equal(t, int64(len(content)), att.FileSize)
	require.True(t, strings.HasPrefix(att.URL, "/api/admin/files/"))

	stored := strings.TrimPrefix(att.URL, "/api/admin/files/")
	name := stored[:strings.Index(stored, "?")]
	rec := httptest.NewRecorder()
	s.Serve(rec, httptest.NewRequest(http.MethodGet, "/x?name=offer.pdf", nil), name)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "offer.pdf")
	assert.Equal(t, content, rec.Body.Bytes())
}

func TestLocalSaveRejects(t *testing.T) {
	s := NewLocal(t.TempDir(), "/files")
	ctx := context.Background()

	_, err := s.Save(ctx, "run.sh", 0, strings.NewReader("echo"))
	assert.ErrorIs(t, err, ErrBlockedType)

	_, err = s.Save(ctx, "photo.png", 0, strings.NewReader("not a png"))
	assert.ErrorIs(t, err, ErrContentType)

	_, err = s.Save(ctx, "  ", 0, strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrEmptyFileName)
}

func TestServeMissing(t *testing.T) {
	s := NewLocal(t.TempDir(), "/files")
	rec := httptest.NewRecorder()
	s.Serve(rec, httptest.NewRequest(http.MethodGet, "/files/none", nil), "../none.txt")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
