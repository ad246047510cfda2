// Websocket HTTP handler.
//
// GET /ws/chats/{id} upgrades to a websocket streaming the events of the
// private channel private-chat.<user>.<chat>. Authorization happens before
// the upgrade, so refusals are ordinary JSON errors. The channel owner is the
// caller unless ?owner= names someone else, which is always refused.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/unisoflta/chatbot-back/internal/http/middleware"
	"github.com/unisoflta/chatbot-back/internal/notify"
)

// AllowOrigin reports whether a websocket handshake from origin is accepted.
// Nil accepts every origin.
type AllowOrigin func(origin string) bool

// Upgrader builds the websocket upgrader used by Subscribe.
func Upgrader(allow AllowOrigin) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allow == nil || origin == "" {
				return true
			}
			return allow(origin)
		},
	}
}

// Subscribe godoc
// @ID          subscribeChat
// @Summary     Subscribe to chat events (websocket)
// @Description Streams {"event":"response.ready"|"error.occurred","data":{...}} frames for the chat.
// @Tags        Realtime
// @Param       X-User-ID  header  string  false "User ID (or user_id query on upgrade)"  example(user123)
// @Param       id         path    string  true  "Chat ID (UUID)"  format(uuid)
// @Success     101  {string} string "Switching Protocols"
// @Failure     403  {object} handlers.ErrorResponse "Foreign channel"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /ws/chats/{id} [get]
func (h *Handlers) Subscribe(up *websocket.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.subs == nil {
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "notifications disabled")
			return
		}
		principal, okUser := requireUser(c)
		if !okUser {
			return
		}
		chatID, okID := pathUUID(c, "id", "chat")
		if !okID {
			return
		}
		owner := strings.TrimSpace(c.DefaultQuery("owner", principal))

		// A hijacked connection is not bound to the request context; the
		// stream lives exactly as long as this handler.
		ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
		defer cancel()

		sub, err := h.subs.Subscribe(ctx, principal, owner, chatID)
		if err != nil {
			failErr(c, err)
			return
		}

		conn, err := up.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			sub.Close()
			middleware.LoggerFrom(c).Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		lg := middleware.LoggerFrom(c).With().Str("channel", sub.Channel()).Logger()
		lg.Info().Msg("websocket subscribed")
		notify.Stream(ctx, conn, sub, lg)
		lg.Info().Int64("dropped", sub.Dropped()).Msg("websocket closed")
	}
}
