// Message HTTP handlers.
//
// This file exposes REST endpoints for chat messages:
//   - POST   /chats/{id}/messages   (store a user message, reply arrives asynchronously)
//   - GET    /chats/{id}/messages   (paginated history)
//   - DELETE /messages/{id}         (soft delete)
//   - POST   /messages/{id}/restore (undo a soft delete)
//   - GET    /messages/search       (search across the user's chats)
//
// Sending never waits for the bot: the handler answers 202 with the stored
// user message and status "processing"; the reply is pushed on the chat's
// websocket channel.
//
// Idempotency: with an Idempotency-Key header, a repeated send returns the
// originally stored user message, sets `Idempotency-Replayed: true` and
// schedules nothing.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/unisoflta/chatbot-back/internal/domain"
	"github.com/unisoflta/chatbot-back/internal/http/middleware"
	"github.com/unisoflta/chatbot-back/internal/repo"
	"github.com/unisoflta/chatbot-back/internal/services"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a user message.
type PostMessageRequest struct {
	// Content is the user text (1–1000 characters after trimming).
	Content string `json:"content" binding:"required" example:"What's the weather in Madrid tomorrow?"`
}

// PostMessageResponse acknowledges a send.
type PostMessageResponse struct {
	// UserMessage is the stored user message.
	UserMessage *domain.Message `json:"user_message"`
	// Status is always "processing": the reply is delivered on the chat channel.
	Status string `json:"status" example:"processing"`
}

// ListMessagesResponse contains a page of chat messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent converts CRLF/CR to LF, collapses blank-line runs and
// trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message
// @Description Stores the user message and schedules the bot reply. The reply
// @Description is delivered as a response.ready event on the chat channel.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header  string  true   "User ID that owns the chat"  example(user123)
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       id               path    string  true   "Chat ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "User message payload"
// @Success     202  {object}  handlers.PostMessageResponse  "Accepted, reply pending"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse        "Chat not found"
// @Failure     409  {object}  handlers.ErrorResponse        "Chat closed"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /chats/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	chatID, okID := pathUUID(c, "id", "chat")
	if !okID {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	res, err := h.msgSvc.Send(c.Request.Context(), uid, chatID, sanitizeContent(req.Content), idemKey)
	if err != nil {
		failErr(c, err)
		return
	}
	if res.Replayed {
		c.Header("Idempotency-Replayed", "true")
	}
	ok(c, http.StatusAccepted, PostMessageResponse{UserMessage: res.UserMessage, Status: res.Status})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Description Returns a page of the chat history in chronological order. Supports weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID  header string  true  "User ID"         example(user123)
// @Param       id         path   string  true  "Chat ID (UUID)"  format(uuid)
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListMessagesResponse
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	chatID, okID := pathUUID(c, "id", "chat")
	if !okID {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// Ownership is checked by History before any ETag is exposed.
	items, total, err := h.msgSvc.History(ctx, uid, chatID, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}

	var db *gorm.DB
	if svc, ok := h.msgSvc.(*services.MessageService); ok {
		db = svc.DB
	}
	if db != nil {
		if count, maxTS, err := repo.MessagesStats(ctx, db, chatID); err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d:%d:%d"`, chatID, page, pageSize, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	ok(c, http.StatusOK, ListMessagesResponse{Messages: items, Pagination: newPagination(page, pageSize, total)})
}

// DeleteMessage godoc
// @ID          deleteMessage
// @Summary     Soft-delete a message
// @Tags        Messages
// @Param       X-User-ID  header  string  true  "User ID"            example(user123)
// @Param       id         path    string  true  "Message ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Router      /messages/{id} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	msgID, okID := pathUUID(c, "id", "message")
	if !okID {
		return
	}
	if err := h.msgSvc.DeleteMessage(c.Request.Context(), uid, msgID); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// RestoreMessage godoc
// @ID          restoreMessage
// @Summary     Restore a soft-deleted message
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID  header  string  true  "User ID"            example(user123)
// @Param       id         path    string  true  "Message ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Message
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Router      /messages/{id}/restore [post]
func (h *Handlers) RestoreMessage(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	msgID, okID := pathUUID(c, "id", "message")
	if !okID {
		return
	}
	m, err := h.msgSvc.RestoreMessage(c.Request.Context(), uid, msgID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// SearchMessages godoc
// @ID          searchMessages
// @Summary     Search messages
// @Description Case-insensitive substring search over the user's messages, newest first.
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID  header string  true  "User ID"  example(user123)
// @Param       q          query  string  true  "Text to look for"
// @Param       chat_id    query  string  false "Restrict to one chat"  format(uuid)
// @Param       sender     query  string  false "Restrict to a sender"  Enums(user, bot)
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /messages/search [get]
func (h *Handlers) SearchMessages(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query parameter q is required")
		return
	}
	sender := domain.Sender(strings.ToLower(c.Query("sender")))
	if sender != "" && !sender.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "sender must be user or bot")
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.msgSvc.Search(c.Request.Context(), uid, repo.MessageFilter{
		ChatID: strings.TrimSpace(c.Query("chat_id")),
		Sender: sender,
		Query:  q,
	}, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items, Pagination: newPagination(page, pageSize, total)})
}
