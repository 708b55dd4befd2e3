package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/request-service/internal/model"
	"github.com/psds-microservice/request-service/internal/service"
)

// RoutingHandler — администрирование правил маршрутизации.
type RoutingHandler struct {
	svc *service.RoutingService
}

func NewRoutingHandler(svc *service.RoutingService) *RoutingHandler {
	return &RoutingHandler{svc: svc}
}

func (h *RoutingHandler) List(c *gin.Context) {
	rules, err := h.svc.ListWithAssignedUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h *RoutingHandler) Get(c *gin.Context) {
	rule, err := h.svc.Get(c.Request.Context(), model.ServiceType(c.Param("serviceType")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

type upsertRuleBody struct {
	IsActive      bool     `json:"is_active"`
	AutoAssign    bool     `json:"auto_assign"`
	AssignedUsers []uint64 `json:"assigned_users"`
}

func (h *RoutingHandler) Upsert(c *gin.Context) {
	var body upsertRuleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	rule, err := h.svc.Upsert(c.Request.Context(),
		model.ServiceType(c.Param("serviceType")), body.IsActive, body.AutoAssign, body.AssignedUsers)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *RoutingHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), model.ServiceType(c.Param("serviceType"))); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
