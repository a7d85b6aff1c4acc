package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/apperrors"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/requestdata"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/services"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/socket"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

type ChatHandler struct {
	log         *logger.Logger
	rooms       services.ChatRoomService
	messages    services.MessageService
	attachments services.AttachmentService
	gateway     *socket.Gateway
}

// NewChatHandler accepts a nil attachment service; uploads then answer 503.
func NewChatHandler(
	log *logger.Logger,
	rooms services.ChatRoomService,
	messages services.MessageService,
	attachments services.AttachmentService,
	gateway *socket.Gateway,
) *ChatHandler {
	return &ChatHandler{
		log:         log.With("handler", "ChatHandler"),
		rooms:       rooms,
		messages:    messages,
		attachments: attachments,
		gateway:     gateway,
	}
}

type createRoomRequest struct {
	BookingID   uuid.UUID         `json:"bookingId" binding:"required"`
	BookingType types.BookingType `json:"bookingType" binding:"required"`
}

type sendMessageRequest struct {
	Content         string            `json:"content"`
	MessageType     types.MessageType `json:"messageType"`
	Payload         json.RawMessage   `json:"payload"`
	ClientMessageID string            `json:"clientMessageId"`
}

func (ch *ChatHandler) ListRooms(c *gin.Context) {
	rooms, err := ch.rooms.ListRooms(c.Request.Context(), requestdata.IdentityFrom(c.Request.Context()))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// CreateRoom answers 409 with the existing room when the booking already
// has an active one, so the caller can use it.
func (ch *ChatHandler) CreateRoom(c *gin.Context) {
	ctx := c.Request.Context()
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.CodeInvalidRequest})
		return
	}
	room, err := ch.rooms.CreateRoomForBooking(ctx, requestdata.IdentityFrom(ctx), req.BookingID, req.BookingType)
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateActiveRoom) {
			if existing, gErr := ch.rooms.GetActiveRoomForBooking(ctx, req.BookingID); gErr == nil {
				c.JSON(http.StatusConflict, gin.H{
					"error": apperrors.PublicMessage(err),
					"code":  apperrors.Code(err),
					"room":  existing,
				})
				return
			}
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

func (ch *ChatHandler) GetRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	identity := requestdata.IdentityFrom(ctx)
	room, err := ch.rooms.Authorize(ctx, identity, roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	unread, err := ch.messages.CountUnread(ctx, room.ID, identity.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "unreadCount": unread})
}

// ListMessages returns one page of history, oldest first within the page.
// page=1 is the most recent page.
func (ch *ChatHandler) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	room, err := ch.rooms.Authorize(ctx, requestdata.IdentityFrom(ctx), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "pageSize", services.DefaultPageSize)
	if pageSize > services.MaxPageSize {
		pageSize = services.MaxPageSize
	}
	msgs, err := ch.messages.List(ctx, room.ID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": services.Chronological(msgs),
		"page":     page,
		"pageSize": pageSize,
	})
}

func (ch *ChatHandler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.CodeInvalidRequest})
		return
	}
	msg, err := ch.gateway.SendMessage(ctx, requestdata.IdentityFrom(ctx), socket.SendMessagePayload{
		ChatRoomID:      roomID,
		Content:         req.Content,
		MessageType:     req.MessageType,
		Payload:         req.Payload,
		ClientMessageID: req.ClientMessageID,
	}, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (ch *ChatHandler) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	n, err := ch.gateway.MarkRead(ctx, requestdata.IdentityFrom(ctx), roomID, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// UploadAttachment stores the multipart "file" and posts it to the room as
// an image or file message. "caption" becomes the message content.
func (ch *ChatHandler) UploadAttachment(c *gin.Context) {
	ctx := c.Request.Context()
	if ch.attachments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attachments are not configured", "code": apperrors.CodePersistence})
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	identity := requestdata.IdentityFrom(ctx)
	room, err := ch.rooms.Authorize(ctx, identity, roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required", "code": apperrors.CodeInvalidRequest})
		return
	}
	if fh.Size > services.MaxAttachmentSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large", "code": apperrors.CodeInvalidRequest})
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	att, msgType, err := ch.attachments.Store(ctx, room.ID, fh.Filename, f)
	if err != nil {
		respondError(c, err)
		return
	}
	payload, err := json.Marshal(att)
	if err != nil {
		respondError(c, err)
		return
	}
	msg, err := ch.gateway.SendMessage(ctx, identity, socket.SendMessagePayload{
		ChatRoomID:      room.ID,
		Content:         c.PostForm("caption"),
		MessageType:     msgType,
		Payload:         payload,
		ClientMessageID: c.PostForm("clientMessageId"),
	}, nil)
	if err != nil {
		ch.attachments.Discard(context.WithoutCancel(ctx), att)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (ch *ChatHandler) CloseRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	room, err := ch.rooms.CloseRoom(ctx, requestdata.IdentityFrom(ctx), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	ch.gateway.RoomChanged(ctx, room)
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (ch *ChatHandler) RepairRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	room, err := ch.rooms.GetRoom(ctx, roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	repaired, err := ch.rooms.RepairMembership(ctx, room)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": repaired})
}

func (ch *ChatHandler) DeleteRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	if err := ch.rooms.DeleteRoom(ctx, requestdata.IdentityFrom(ctx), roomID); err != nil {
		respondError(c, err)
		return
	}
	ch.gateway.RoomDeleted(ctx, roomID)
	c.Status(http.StatusNoContent)
}

func roomIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("roomId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id", "code": apperrors.CodeInvalidRequest})
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 1 {
		return def
	}
	return v
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(apperrors.HTTPStatus(err), gin.H{
		"error": apperrors.PublicMessage(err),
		"code":  apperrors.Code(err),
	})
}
