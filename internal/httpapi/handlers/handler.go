package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kaiwa-app/kaiwa/internal/chat"
	"github.com/kaiwa-app/kaiwa/internal/config"
	"github.com/kaiwa-app/kaiwa/internal/httpapi/middleware"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
}

func NewHandler(db *gorm.DB, cfg config.Config, chatSvc *chat.Service) *Handler {
	return &Handler{DB: db, Cfg: cfg, ChatSvc: chatSvc}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(200, gin.H{"message": "pong"})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
