package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sidehustle-chat/internal/apperr"
	myMiddleware "sidehustle-chat/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS layer and the token
	},
}

type Handler struct {
	service *Service
	hub     *Hub
	log     zerolog.Logger
}

func NewHandler(service *Service, hub *Hub, log zerolog.Logger) *Handler {
	return &Handler{service: service, hub: hub, log: log}
}

// Routes mounts the chat API. The caller applies authentication.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ws", h.ServeWs)

	r.Route("/api/conversations", func(r chi.Router) {
		r.Post("/", h.StartConversation)
		r.Get("/", h.ListConversations)
		r.Get("/{id}", h.LoadConversation)
		r.Get("/{id}/messages", h.ListMessages)
		r.Post("/{id}/read", h.MarkRead)
		r.Put("/{id}/archive", h.SetArchived)
		r.Get("/{id}/unread", h.UnreadCount)
	})
	r.Get("/api/unread", h.TotalUnread)

	r.Post("/api/messages", h.SendMessage)
	r.Patch("/api/messages/{id}", h.EditMessage)
	r.Delete("/api/messages/{id}", h.DeleteMessage)
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error maps err to its HTTP status and a message safe for callers.
func (h *Handler) Error(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("❌ request failed")
	}
	h.JSON(w, status, map[string]string{
		"error": apperr.PublicMessage(err),
		"code":  string(apperr.CodeOf(err)),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, r, apperr.InvalidArg("invalid request body"))
		return false
	}
	return true
}

func callerID(r *http.Request) (string, error) {
	id, ok := myMiddleware.UserIDFrom(r.Context())
	if !ok {
		return "", apperr.Unauthorized("unauthorized")
	}
	return id, nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.InvalidArg("invalid limit")
	}
	return n, nil
}

// ---------------------------------------------
// Conversations
// ---------------------------------------------

type startConversationRequest struct {
	RecipientID string `json:"recipient_id"`
}

func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req startConversationRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.service.ResolveOrCreateConversation(r.Context(), userID, req.RecipientID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"conversation_id": id})
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	page, err := h.service.ListConversations(r.Context(), userID, ListConversationsInput{
		Cursor:  r.URL.Query().Get("cursor"),
		Limit:   limit,
		Archive: ArchiveFilter(r.URL.Query().Get("archive")),
	})
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, page)
}

func (h *Handler) LoadConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	peek, _ := strconv.ParseBool(r.URL.Query().Get("peek"))

	view, err := h.service.LoadConversation(r.Context(), LoadInput{
		ConversationID: chi.URLParam(r, "id"),
		UserID:         userID,
		Cursor:         r.URL.Query().Get("cursor"),
		Limit:          limit,
		Peek:           peek,
	})
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, view)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	page, err := h.service.ListMessages(r.Context(), chi.URLParam(r, "id"), userID, Page{
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, page)
}

type markReadRequest struct {
	ThroughMessageID string `json:"through_message_id"`
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req markReadRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	unread, err := h.service.MarkRead(r.Context(), chi.URLParam(r, "id"), userID, req.ThroughMessageID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]int{"unread_count": unread})
}

type archiveRequest struct {
	Archived bool `json:"archived"`
}

func (h *Handler) SetArchived(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req archiveRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.SetArchived(r.Context(), chi.URLParam(r, "id"), userID, req.Archived); err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, req)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	n, err := h.service.GetUnreadCount(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]int{"unread_count": n})
}

func (h *Handler) TotalUnread(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	n, err := h.service.GetTotalUnread(r.Context(), userID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]int{"unread_count": n})
}

// ---------------------------------------------
// Messages
// ---------------------------------------------

type sendMessageRequest struct {
	RecipientID string  `json:"recipient_id"`
	Content     string  `json:"content"`
	MediaRef    *string `json:"media_ref"`
	ReplyToID   *string `json:"reply_to_id"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req sendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.SendMessage(r.Context(), SendInput{
		SenderID:    userID,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		MediaRef:    req.MediaRef,
		ReplyToID:   req.ReplyToID,
	})
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, res)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req editMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.service.EditMessage(r.Context(), chi.URLParam(r, "id"), userID, req.Content)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	if err := h.service.SoftDeleteMessage(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		h.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------
// Realtime
// ---------------------------------------------

// ServeWs upgrades the connection and subscribes it to the caller's user
// topic, which carries every event of every conversation they are in.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	sub, err := h.hub.Subscribe(r.Context(), UserTopic(userID))
	if err != nil {
		h.Error(w, r, apperr.Wrap(apperr.Internal("realtime unavailable"), err))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The pumps outlive this handler; keep the request's values, drop its
	// cancellation.
	ctx := context.WithoutCancel(r.Context())

	client := NewClient(h.service, sub, conn, userID, h.log)
	go client.WritePump()
	go client.ReadPump(ctx)
}
