// Chat HTTP handlers.
//
// This file exposes REST endpoints for chat resources:
//   - POST   /chats              (create)
//   - GET    /chats              (list, paginated, status filter, ETag support)
//   - GET    /chats/{id}         (fetch)
//   - PUT    /chats/{id}/title   (rename)
//   - POST   /chats/{id}/close   (close)
//   - DELETE /chats/{id}         (delete with messages)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/unisoflta/chatbot-back/internal/domain"
	"github.com/unisoflta/chatbot-back/internal/http/middleware"
	"github.com/unisoflta/chatbot-back/internal/notify"
	"github.com/unisoflta/chatbot-back/internal/repo"
	"github.com/unisoflta/chatbot-back/internal/services"
)

//
// Service contracts (context-aware)
//

// ChatService defines chat lifecycle operations consumed by HTTP handlers.
type ChatService interface {
	Create(ctx context.Context, userID, title string) (*domain.Chat, error)
	ListPage(ctx context.Context, userID string, status domain.ChatStatus, page, pageSize int) ([]domain.Chat, int64, error)
	Get(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	UpdateTitle(ctx context.Context, userID, chatID, title string) error
	Close(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	Delete(ctx context.Context, userID, chatID string) error
}

// MessageService defines message dispatch and retrieval operations.
type MessageService interface {
	// Send stores a user message and schedules the bot reply.
	Send(ctx context.Context, userID, chatID, text, idemKey string) (*services.SendResult, error)
	History(ctx context.Context, userID, chatID string, page, pageSize int) ([]domain.Message, int64, error)
	Search(ctx context.Context, userID string, f repo.MessageFilter, page, pageSize int) ([]domain.Message, int64, error)
	DeleteMessage(ctx context.Context, userID, messageID string) error
	RestoreMessage(ctx context.Context, userID, messageID string) (*domain.Message, error)
}

// Subscriber opens notification subscriptions for websocket clients.
type Subscriber interface {
	Subscribe(ctx context.Context, principal, userID, chatID string) (*notify.Subscription, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for chats, messages and their live channel.
type Handlers struct {
	chatSvc ChatService
	msgSvc  MessageService
	subs    Subscriber
}

// New constructs a Handlers instance bound to the given services. subs may
// be nil when the websocket endpoint is not mounted.
func New(chatSvc ChatService, msgSvc MessageService, subs Subscriber) *Handlers {
	return &Handlers{chatSvc: chatSvc, msgSvc: msgSvc, subs: subs}
}

// requireUser returns the caller principal or aborts with 401.
func requireUser(c *gin.Context) (string, bool) {
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user id")
		return "", false
	}
	return uid, true
}

// pathUUID validates the :name path parameter as a UUID.
func pathUUID(c *gin.Context, name, what string) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, what+" id must be a UUID")
		return "", false
	}
	return id, true
}

//
// DTOs
//

// CreateChatRequest is the JSON payload for creating a chat.
type CreateChatRequest struct {
	// Title optionally sets the chat title; a placeholder is used when empty
	// and replaced by the first message.
	Title string `json:"title" example:"Weekend trip"`
}

// UpdateChatTitleRequest is the JSON payload for updating a chat title.
type UpdateChatTitleRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255" example:"Weather in Madrid"`
}

// ListChatsResponse wraps a page of chats and pagination information.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

//
// Handlers
//

// CreateChat godoc
// @ID          createChat
// @Summary     Create a new chat
// @Description Creates a chat for the current user, registering the user on first use.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  true  "User ID"  example(user123)
// @Param       body       body    handlers.CreateChatRequest  false  "Create chat payload"
// @Success     201  {object}  domain.Chat
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing user"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	var req CreateChatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	ch, err := h.chatSvc.Create(c.Request.Context(), uid, strings.TrimSpace(req.Title))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, ch)
}

// ListChats godoc
// @ID          listChats
// @Summary     List chats (paginated)
// @Description Returns a page of the user's chats, most recently active first. Supports weak ETag via If-None-Match.
// @Tags        Chats
// @Produce     json
// @Param       X-User-ID      header  string  true   "User ID"  example(user123)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       status         query   string  false  "Filter by status"  Enums(active, closed)
// @Param       page           query   int     false  "Page number"       minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"    minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)
	status := domain.ChatStatus(strings.ToLower(strings.TrimSpace(c.Query("status"))))

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.chatSvc.(*services.ChatService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.ChatsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			etag := fmt.Sprintf(`W/"chats:%s:%s:%d:%d:%d:%d"`, uid, status, page, pageSize, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.chatSvc.ListPage(ctx, uid, status, page, pageSize)
	if err != nil {
		c.Header("ETag", "")
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListChatsResponse{Chats: items, Pagination: newPagination(page, pageSize, total)})
}

// GetChat godoc
// @ID          getChat
// @Summary     Fetch a chat
// @Tags        Chats
// @Produce     json
// @Param       X-User-ID  header  string  true  "User ID"         example(user123)
// @Param       id         path    string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Chat
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	chatID, okID := pathUUID(c, "id", "chat")
	if !okID {
		return
	}
	ch, err := h.chatSvc.Get(c.Request.Context(), uid, chatID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ch)
}

// UpdateChatTitle godoc
// @ID          updateChatTitle
// @Summary     Rename a chat
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  true  "User ID"         example(user123)
// @Param       id         path    string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body       body    handlers.UpdateChatTitleRequest  true  "New title"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/title [put]
func (h *Handlers) UpdateChatTitle(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	chatID, okID := pathUUID(c, "id", "chat")
	if !okID {
		return
	}

	var req UpdateChatTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1–255 chars)")
		return
	}

	if err := h.chatSvc.UpdateTitle(c.Request.Context(), uid, chatID, req.Title); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// CloseChat godoc
// @ID          closeChat
// @Summary     Close a chat
// @Description Closed chats keep their history but reject new messages.
// @Tags        Chats
// @Produce     json
// @Param       X-User-ID  header  string  true  "User ID"         example(user123)
// @Param       id         path    string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Chat
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/close [post]
func (h *Handlers) CloseChat(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	chatID, okID := pathUUID(c, "id", "chat")
	if !okID {
		return
	}
	ch, err := h.chatSvc.Close(c.Request.Context(), uid, chatID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ch)
}

// DeleteChat godoc
// @ID          deleteChat
// @Summary     Delete a chat and its messages
// @Tags        Chats
// @Param       X-User-ID  header  string  true  "User ID"         example(user123)
// @Param       id         path    string  true  "Chat ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [delete]
func (h *Handlers) DeleteChat(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	chatID, okID := pathUUID(c, "id", "chat")
	if !okID {
		return
	}
	if err := h.chatSvc.Delete(c.Request.Context(), uid, chatID); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
