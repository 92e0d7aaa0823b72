package handler

import (
	"errors"
	"net/http"

	"github.com/jobchat/internal/fileserver"
	"github.com/jobchat/internal/middleware"
	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/service"
)

type PostHandler struct {
	svc           *service.ChatService
	maxUploadSize int64
}

func NewPostHandler(svc *service.ChatService, maxUploadSize int64) *PostHandler {
	return &PostHandler{svc: svc, maxUploadSize: maxUploadSize}
}

type uploadResponse struct {
	Post       *model.Post            `json:"post"`
	Attachment *fileserver.Attachment `json:"attachment"`
}

func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r, "chatId", false)
	if !ok {
		return
	}
	posts, err := h.svc.ListPosts(r.Context(), chatID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if posts == nil {
		posts = []model.Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r, "chatId", false)
	if !ok {
		return
	}
	var req model.PostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.CreatePost(r.Context(), middleware.GetUserID(r.Context()), chatID, req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(w, r, "postId", false)
	if !ok {
		return
	}
	var req model.PostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.UpdatePost(r.Context(), middleware.GetUserID(r.Context()), postID, req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Upload принимает multipart-поле "file" и публикует сообщение со ссылкой.
func (h *PostHandler) Upload(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r, "chatId", false)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	p, att, err := h.svc.Attach(r.Context(), middleware.GetUserID(r.Context()), chatID, header.Filename, header.Size, file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{Post: p, Attachment: att})
}
