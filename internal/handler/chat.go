package handler

import (
	"net/http"

	"github.com/jobchat/internal/middleware"
	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/service"
)

type ChatHandler struct {
	svc *service.ChatService
}

func NewChatHandler(svc *service.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type markReadResponse struct {
	LastReadPostID *int64 `json:"lastReadPostId"`
}

type unreadResponse struct {
	NumberUnreadChats int `json:"numberUnreadChats"`
}

func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Create(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ChatHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	var req model.CreateChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.GetOrCreate(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	chats, err := h.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if chats == nil {
		chats = []model.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r, "chatId", false)
	if !ok {
		return
	}
	c, err := h.svc.Get(r.Context(), chatID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CandidateProspectChat отвечает null, если у кандидата ещё нет чата.
func (h *ChatHandler) CandidateProspectChat(w http.ResponseWriter, r *http.Request) {
	candidateID, ok := pathID(w, r, "candidateId", false)
	if !ok {
		return
	}
	c, err := h.svc.CandidateProspectChat(r.Context(), candidateID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// MarkAsRead — PUT /chat/{chatId}/post/{postId}/read; postId 0 означает
// последнее сообщение чата.
func (h *ChatHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r, "chatId", false)
	if !ok {
		return
	}
	postID, ok := pathID(w, r, "postId", true)
	if !ok {
		return
	}
	stored, err := h.svc.MarkAsReadUpto(r.Context(), chatID, middleware.GetUserID(r.Context()), postID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{LastReadPostID: stored})
}

func (h *ChatHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r, "chatId", false)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userId", false)
	if !ok {
		return
	}
	info, err := h.svc.UserInfo(r.Context(), chatID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *ChatHandler) CheckUnread(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.CheckUnread(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unreadResponse{NumberUnreadChats: n})
}
