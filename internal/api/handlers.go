package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"flightchat/internal/service/chat"
	"flightchat/internal/worker"
)

// Handler wires HTTP routes to the chat session registry so presentation
// clients can read state and trigger actions.
type Handler struct {
	chats *chat.Service
}

// NewHandler constructs a Handler instance.
func NewHandler(service *chat.Service) *Handler {
	return &Handler{chats: service}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api")
	api.GET("/chats", h.listChats)
	api.POST("/chats", h.createChat)
	api.GET("/chats/active", h.activeChat)
	api.POST("/chats/:id/activate", h.activateChat)
	api.PATCH("/chats/:id", h.renameChat)
	api.DELETE("/chats/:id", h.deleteChat)
	api.POST("/chat/msg", h.sendMessage)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "online", "agent": "ready"})
}

func (h *Handler) listChats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"chats":          h.chats.Chats(),
		"active_chat_id": h.chats.ActiveChatID(),
	})
}

func (h *Handler) createChat(c *gin.Context) {
	id := h.chats.CreateChat(c.Request.Context())
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) activeChat(c *gin.Context) {
	active, ok := h.chats.ActiveChat()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"chat": nil, "messages": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": active, "messages": active.Messages})
}

func (h *Handler) activateChat(c *gin.Context) {
	h.chats.SetActiveChat(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

type renameRequest struct {
	Title string `json:"title"`
}

func (h *Handler) renameChat(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	h.chats.RenameChat(c.Request.Context(), c.Param("id"), req.Title)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteChat(c *gin.Context) {
	h.chats.DeleteChat(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

type sendRequest struct {
	Content string `json:"content"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	events, err := h.chats.SendMessage(c.Request.Context(), req.Content)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrNoActiveChat):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, worker.ErrDispatcherBusy):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "client is busy, please retry"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	// SSE response construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{"content": req.Content}); err != nil {
		return
	}
	for msg := range events {
		if err := sendEvent("stream", msg); err != nil {
			return
		}
	}
	active, _ := h.chats.ActiveChat()
	_ = sendEvent("done", gin.H{"title": active.Title})
}
