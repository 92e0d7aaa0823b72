package handler

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/jobchat/internal/fileserver"
)

// FileHandler раздаёт вложения с локального диска.
type FileHandler struct {
	files *fileserver.Local
}

func NewFileHandler(files *fileserver.Local) *FileHandler {
	return &FileHandler{files: files}
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.files.Serve(w, r, filepath.Base(chi.URLParam(r, "filename")))
}
