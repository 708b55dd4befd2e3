package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/request-service/internal/model"
	"github.com/psds-microservice/request-service/internal/service"
)

// QueueHandler — витрины очередей (read-only).
type QueueHandler struct {
	queue *service.QueueService
}

func NewQueueHandler(queue *service.QueueService) *QueueHandler {
	return &QueueHandler{queue: queue}
}

func (h *QueueHandler) Available(c *gin.Context) {
	views, err := h.queue.Available(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": views})
}

func (h *QueueHandler) AssignedTo(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}
	views, err := h.queue.AssignedTo(c.Request.Context(), userID, model.RequestStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": views})
}

func (h *QueueHandler) SubmittedBy(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}
	views, err := h.queue.SubmittedBy(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": views})
}

func (h *QueueHandler) SentBackTo(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}
	views, err := h.queue.SentBackTo(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": views})
}

func (h *QueueHandler) ByStatus(c *gin.Context) {
	status := model.RequestStatus(c.Param("status"))
	switch status {
	case model.StatusNew, model.StatusInProgress, model.StatusPendingInvestigation,
		model.StatusCompleted, model.StatusUnableToHandle, model.StatusSentBack:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	views, err := h.queue.ByStatus(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": views})
}
