package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consentgrid/backend/internal/middleware"
	"github.com/consentgrid/backend/internal/services"
)

// DeviceHandler serves push registration for the authenticated handle.
type DeviceHandler struct {
	devices *services.DeviceService
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(devices *services.DeviceService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

// Register handles POST /devices/register (session required)
func (h *DeviceHandler) Register(c *gin.Context) {
	var req services.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	d, err := h.devices.Register(c.Request.Context(), middleware.GetHandle(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
