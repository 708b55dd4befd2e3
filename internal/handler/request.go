package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/request-service/internal/errs"
	"github.com/psds-microservice/request-service/internal/model"
	"github.com/psds-microservice/request-service/internal/service"
)

// RequestHandler — HTTP-обвязка жизненного цикла заявки. Аутентификация — у
// внешнего шлюза: id вызывающего приходит в X-User-ID и принимается как есть.
type RequestHandler struct {
	svc   *service.RequestService
	queue *service.QueueService
}

func NewRequestHandler(svc *service.RequestService, queue *service.QueueService) *RequestHandler {
	return &RequestHandler{svc: svc, queue: queue}
}

type createRequestBody struct {
	ServiceType  string `json:"service_type" binding:"required"`
	Priority     string `json:"priority"`
	Details      string `json:"details" binding:"required"`
	ContactName  string `json:"contact_name"`
	ContactPhone string `json:"contact_phone"`
}

func (h *RequestHandler) Create(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	req, err := h.svc.Create(c.Request.Context(), service.CreateRequestInput{
		ServiceType:  model.ServiceType(body.ServiceType),
		CreatedBy:    actor,
		Priority:     body.Priority,
		Details:      body.Details,
		ContactName:  body.ContactName,
		ContactPhone: body.ContactPhone,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.queue.GetView(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *RequestHandler) List(c *gin.Context) {
	filter := make(map[string]interface{})
	if v := c.Query("status"); v != "" {
		filter["status = ?"] = v
	}
	if v := c.Query("service_type"); v != "" {
		filter["service_type = ?"] = v
	}
	if v := c.Query("created_by"); v != "" {
		filter["created_by = ?"] = v
	}
	if v := c.Query("assigned_to"); v != "" {
		filter["assigned_to = ?"] = v
	}

	limit := 0
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	items, total, err := h.svc.List(c.Request.Context(), filter, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list requests"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requests": items,
		"total":    total,
	})
}

type editRequestBody struct {
	Priority     *string `json:"priority,omitempty"`
	Details      *string `json:"details,omitempty"`
	ContactName  *string `json:"contact_name,omitempty"`
	ContactPhone *string `json:"contact_phone,omitempty"`
}

func (h *RequestHandler) Edit(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var body editRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	req, err := h.svc.Edit(c.Request.Context(), id, actor, service.EditRequestInput{
		Priority:     body.Priority,
		Details:      body.Details,
		ContactName:  body.ContactName,
		ContactPhone: body.ContactPhone,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type assignBody struct {
	UserID uint64 `json:"user_id" binding:"required"`
}

func (h *RequestHandler) Assign(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var body assignBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	req, err := h.svc.Assign(c.Request.Context(), id, body.UserID, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *RequestHandler) Claim(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, err := h.svc.Claim(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *RequestHandler) Complete(c *gin.Context) {
	h.simpleTransition(c, h.svc.Complete)
}

func (h *RequestHandler) Investigate(c *gin.Context) {
	h.simpleTransition(c, h.svc.Investigate)
}

func (h *RequestHandler) MarkUnable(c *gin.Context) {
	h.simpleTransition(c, h.svc.MarkUnable)
}

type sendBackBody struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *RequestHandler) SendBack(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var body sendBackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	req, err := h.svc.SendBack(c.Request.Context(), id, actor, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type commentBody struct {
	Comment string `json:"comment" binding:"required"`
}

func (h *RequestHandler) AddComment(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var body commentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "comment is required"})
		return
	}
	comment, err := h.svc.AddComment(c.Request.Context(), id, actor, body.Comment)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// simpleTransition — общий код переходов без тела запроса.
func (h *RequestHandler) simpleTransition(c *gin.Context, op func(ctx context.Context, id, actor uint64) (*model.ServiceRequest, error)) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, err := op(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// actorID читает id вызывающего из X-User-ID (его ставит внешний шлюз).
func actorID(c *gin.Context) (uint64, bool) {
	v := c.GetHeader("X-User-ID")
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid X-User-ID header"})
		return 0, false
	}
	return id, true
}

func pathID(c *gin.Context, param string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// respondError транслирует типовые ошибки ядра в HTTP-коды; текст ошибки
// отдаётся как есть, чтобы UI мог различать «не найдено», «нельзя» и
// «уже в этом статусе».
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrRequestNotFound),
		errors.Is(err, errs.ErrRuleNotFound),
		errors.Is(err, errs.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrInvalidTransition),
		errors.Is(err, errs.ErrInvalidHandler):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
