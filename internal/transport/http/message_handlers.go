package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/engly817chat/engly-client/internal/broker"
	"github.com/engly817chat/engly-client/internal/proto"
	"github.com/engly817chat/engly-client/internal/store"
)

const defaultPageSize = 20

// MessageHandlers serves message history and read receipts.
type MessageHandlers struct {
	store       store.Store
	maxPageSize int
	log         *zerolog.Logger
}

// NewMessageHandlers creates message handlers. Requested page sizes above
// maxPageSize are clamped and the applied size is echoed in the response.
func NewMessageHandlers(st store.Store, maxPageSize int, logger *zerolog.Logger) *MessageHandlers {
	if maxPageSize <= 0 {
		maxPageSize = 100
	}
	return &MessageHandlers{store: st, maxPageSize: maxPageSize, log: logger}
}

type pageQuery struct {
	Room string `form:"room" binding:"required"`
	Page int    `form:"page" binding:"min=0"`
	Size int    `form:"size" binding:"min=0"`
}

// ListPage returns one page of a room's history, oldest first.
// GET /messages?room=<id>&page=<n>&size=<n>
func (h *MessageHandlers) ListPage(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room is required and page/size must be non-negative"})
		return
	}
	size := q.Size
	if size == 0 {
		size = defaultPageSize
	}
	size = min(size, h.maxPageSize)

	ctx := c.Request.Context()
	total, err := h.store.CountMessages(ctx, q.Room)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", q.Room).Msg("failed to count messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	msgs, err := h.store.ListMessagesPage(ctx, q.Room, q.Page, size)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", q.Room).Int("page", q.Page).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	items := make([]proto.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, proto.MessageFromCore(broker.StoreMessageToCore(m)))
	}

	c.JSON(http.StatusOK, proto.PageResponse{
		Items:         items,
		PageIndex:     q.Page,
		IsFirst:       q.Page == 0,
		IsLast:        (q.Page+1)*size >= total,
		TotalElements: total,
		Size:          size,
	})
}

// Readers lists who has read a message.
// GET /messages/:id/readers
func (h *MessageHandlers) Readers(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.store.GetMessage(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
			return
		}
		h.log.Error().Err(err).Str("message_id", id).Msg("failed to load message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	readers, err := h.store.ListReaders(ctx, id)
	if err != nil {
		h.log.Error().Err(err).Str("message_id", id).Msg("failed to list readers")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := make([]proto.ReaderPayload, 0, len(readers))
	for _, r := range readers {
		resp = append(resp, proto.ReaderPayload{
			ID:       r.UserID,
			Username: r.Username,
			ReadAt:   proto.NewTimestamp(r.ReadAt),
		})
	}
	c.JSON(http.StatusOK, resp)
}
