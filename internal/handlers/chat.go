package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/bilirag-backend/internal/services"
)

type ChatHandler struct {
	chatService services.ChatService
}

func NewChatHandler(chatService services.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Ask answers a question against one folder's indexed content.
func (ch *ChatHandler) Ask(c *gin.Context) {
	mediaID, ok := mediaIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Question string `json:"question"`
		TopK     int    `json:"top_k"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	answer, err := ch.chatService.Ask(c.Request.Context(), mediaID, req.Question, req.TopK)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "chat_failed", err)
		return
	}
	RespondOK(c, answer)
}
