package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kaiwa-app/kaiwa/internal/chat"
	"github.com/kaiwa-app/kaiwa/internal/common"
	"github.com/kaiwa-app/kaiwa/internal/config"
	"github.com/kaiwa-app/kaiwa/internal/httpapi/handlers"
	"github.com/kaiwa-app/kaiwa/internal/httpapi/middleware"
)

func NewRouter(db *gorm.DB, cfg config.Config, chatSvc *chat.Service) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, chatSvc)

	r.GET("/ping", h.Ping)

	// users
	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUserByID)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// chat rooms (JWT required)
	authGroup.POST("/chat/rooms", h.CreateChatRoom)
	authGroup.POST("/chat/rooms/:room_id/setup", h.RunRoomSetup)
	authGroup.POST("/chat/rooms/:room_id/messages", h.SendChatMessage)
	authGroup.GET("/chat/rooms/:room_id/messages", h.ListChatHistory)

	return r
}
