package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-subs-api/internal/models"
	"github.com/noah-isme/sma-subs-api/pkg/response"
)

type notificationReader interface {
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
}

// NotificationHandler serves in-app notification history.
type NotificationHandler struct {
	notifications notificationReader
}

// NewNotificationHandler constructs handler.
func NewNotificationHandler(notifications notificationReader) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// RegisterRoutes mounts notification endpoints on the group.
func (h *NotificationHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/teachers/:id/notifications", h.ListForTeacher)
}

// ListForTeacher godoc
// @Summary Recent notifications for a teacher
// @Tags Notifications
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/notifications [get]
func (h *NotificationHandler) ListForTeacher(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	items, err := h.notifications.ListByRecipient(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
