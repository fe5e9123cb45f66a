package roomhandler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"whiteboardgo/internal/services/chat"
	"whiteboardgo/internal/services/directory"
)

// PresenceSource reports who is currently connected to a room.
type PresenceSource interface {
	RoomUsers(roomID string) []int64
}

type Handler struct {
	directorySvc directory.IDirectoryService
	chatSvc      chat.IChatService
	presence     PresenceSource
}

func New(directorySvc directory.IDirectoryService, chatSvc chat.IChatService, presence PresenceSource) *Handler {
	return &Handler{directorySvc: directorySvc, chatSvc: chatSvc, presence: presence}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/rooms/:id/users", h.users)
	r.GET("/rooms/:id/messages", h.messages)
	r.POST("/rooms/:id/members", h.addMember)
}

// users returns the live presence set of a room.
func (h *Handler) users(c *gin.Context) {
	c.JSON(http.StatusOK, UserListResponse{Users: h.presence.RoomUsers(c.Param("id"))})
}

// messages returns persisted chat history, newest first.
func (h *Handler) messages(c *gin.Context) {
	var q ListMessagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	out, err := h.chatSvc.ListMessages(c.Request.Context(), c.Param("id"), q.Limit, q.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

// addMember grants a user access to a room, making later WS registrations
// for that pair pass the authorization gate.
func (h *Handler) addMember(c *gin.Context) {
	var body AddMemberBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.directorySvc.AddMember(c.Request.Context(), c.Param("id"), body.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}
