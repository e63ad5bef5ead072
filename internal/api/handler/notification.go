package handler

import (
	"net/http"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/ingest"
	"github.com/gin-gonic/gin"
)

// NotificationHandler accepts upload notification batches and feeds them to
// the ingest trigger.
type NotificationHandler struct {
	trigger *ingest.Trigger
}

// NewNotificationHandler creates a new notification handler.
// Parameters:
//   - trigger: ingest trigger instance.
// Returns:
//   - *NotificationHandler: initialized handler.
func NewNotificationHandler(trigger *ingest.Trigger) *NotificationHandler {
	return &NotificationHandler{trigger: trigger}
}

// NotificationRequest is an S3-style upload event batch.
type NotificationRequest struct {
	Records []NotificationRecord `json:"records"`
}

// NotificationRecord is one upload event.
type NotificationRecord struct {
	Bucket     string `json:"bucket" binding:"required"`
	ObjectKey  string `json:"object_key" binding:"required"`
	ObjectSize int64  `json:"object_size"`
}

// Submit handles POST /api/v1/notifications.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *NotificationHandler) Submit(c *gin.Context) {
	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	notifications := make([]ingest.Notification, 0, len(req.Records))
	for _, r := range req.Records {
		notifications = append(notifications, ingest.Notification{
			Bucket:     r.Bucket,
			ObjectKey:  r.ObjectKey,
			ObjectSize: r.ObjectSize,
		})
	}

	result := h.trigger.Handle(c.Request.Context(), notifications)
	c.JSON(http.StatusOK, result)
}
