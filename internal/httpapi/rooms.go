package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voiceplane/pkg/db/pagination"
	"voiceplane/pkg/errutil"
	"voiceplane/services/auth"
	"voiceplane/services/room"
)

type RoomHandler struct {
	rooms *room.Service
}

func NewRoomHandler(rooms *room.Service) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

func (h *RoomHandler) Create(c *gin.Context) {
	principal := auth.PrincipalFromContext(c)

	r, err := h.rooms.Create(c.Request.Context(), principal.UserID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, r)
}

func (h *RoomHandler) List(c *gin.Context) {
	principal := auth.PrincipalFromContext(c)

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.BadRequest("invalid pagination", errutil.WithErr(err)))
		return
	}

	rooms, err := h.rooms.List(c.Request.Context(), principal.UserID, page)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *RoomHandler) Delete(c *gin.Context) {
	principal := auth.PrincipalFromContext(c)

	r, ok := h.ownedRoom(c, principal)
	if !ok {
		return
	}

	closed, err := h.rooms.Close(c.Request.Context(), r.ID)
	if err != nil {
		c.Error(err)
		return
	}
	if !closed {
		c.Error(errutil.BadRequest("room already closed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "room closed"})
}

// Token mints a LiveKit join token for the caller. The participant
// metadata carries request context only; the authorizing credential is
// never embedded in the token.
func (h *RoomHandler) Token(c *gin.Context) {
	principal := auth.PrincipalFromContext(c)

	r, ok := h.ownedRoom(c, principal)
	if !ok {
		return
	}

	metadata := map[string]any{
		"user_id": principal.UserID,
	}
	if principal.SessionID != "" {
		metadata["session_id"] = principal.SessionID
	}
	if principal.KeyID != "" {
		metadata["key_id"] = principal.KeyID
	}

	token, err := h.rooms.JoinToken(c.Request.Context(), r.ID, principal.UserID, metadata)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"room":  r.Name,
	})
}

// ownedRoom loads the room from the path and enforces ownership. Errors
// are already written to the context when ok is false.
func (h *RoomHandler) ownedRoom(c *gin.Context, principal *auth.Principal) (*room.Room, bool) {
	r, err := h.rooms.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return nil, false
	}
	if r == nil {
		c.Error(errutil.NotFound("room not found"))
		return nil, false
	}
	if r.OwnerID != principal.UserID {
		c.Error(errutil.Forbidden("not the room owner"))
		return nil, false
	}
	return r, true
}
