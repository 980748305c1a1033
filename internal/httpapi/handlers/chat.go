package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kaiwa-app/kaiwa/internal/chat"
	"github.com/kaiwa-app/kaiwa/internal/common"
)

type createRoomReq struct {
	Category string `json:"category" binding:"required"`
}

func (h *Handler) CreateChatRoom(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	category, err := chat.ParseCategory(req.Category)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10005, "invalid category")
		return
	}

	room, err := h.ChatSvc.CreateRoom(c.Request.Context(), uid, category)
	if err != nil {
		if errors.Is(err, chat.ErrMemberNotFound) {
			common.Fail(c, http.StatusNotFound, 40403, "member not found")
			return
		}
		log.Printf("[CreateChatRoom] failed uid=%d err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create room")
		return
	}

	common.OK(c, gin.H{
		"room_id":   room.RoomID,
		"member_id": room.MemberID,
		"category":  room.Category,
	})
}

// RunRoomSetup primes the room's conversation. Synchronous: the caller waits
// for the opening turn.
func (h *Handler) RunRoomSetup(c *gin.Context) {
	if _, okk := userIDFromContext(c); !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	roomID := c.Param("room_id")

	var req createRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	category, err := chat.ParseCategory(req.Category)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10005, "invalid category")
		return
	}

	conv, err := h.ChatSvc.RunSetup(c.Request.Context(), roomID, category)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrRoomNotFound):
			common.Fail(c, http.StatusNotFound, 40404, "room not found")
		case errors.Is(err, chat.ErrMalformedReply):
			common.Fail(c, http.StatusBadGateway, 50210, "setup failed: malformed model reply")
		default:
			log.Printf("[RunRoomSetup] failed room=%s err=%v", roomID, err)
			common.Fail(c, http.StatusBadGateway, 50211, "setup failed")
		}
		return
	}

	common.OK(c, gin.H{"opening": conv})
}

type sendMessageReq struct {
	Message string `json:"message" binding:"required"`
}

// SendChatMessage accepts a user turn. It returns once the message is durably
// recorded and broadcast; the bot reply arrives over the room topic.
func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	roomID := c.Param("room_id")

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.ChatSvc.SubmitUserTurn(c.Request.Context(), uid, roomID, req.Message); err != nil {
		switch {
		case errors.Is(err, chat.ErrMemberNotFound):
			common.Fail(c, http.StatusNotFound, 40403, "member not found")
		case errors.Is(err, chat.ErrRoomNotFound):
			common.Fail(c, http.StatusNotFound, 40404, "room not found")
		default:
			log.Printf("[SendChatMessage] failed uid=%d room=%s err=%v", uid, roomID, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "failed to send message")
		}
		return
	}

	common.OK(c, gin.H{"room_id": roomID, "accepted": true})
}

func (h *Handler) ListChatHistory(c *gin.Context) {
	_, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	roomID := c.Param("room_id")

	recs, err := h.ChatSvc.ListHistory(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			common.Fail(c, http.StatusNotFound, 40404, "room not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list history")
		return
	}

	common.OK(c, gin.H{"messages": recs})
}
