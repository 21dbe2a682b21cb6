package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consentgrid/backend/internal/services"
	apperrors "github.com/consentgrid/backend/pkg/errors"
)

// ConsentHandler serves the consent request lifecycle endpoints.
type ConsentHandler struct {
	consent *services.ConsentService
}

// NewConsentHandler creates a new consent handler
func NewConsentHandler(consent *services.ConsentService) *ConsentHandler {
	return &ConsentHandler{consent: consent}
}

// Create handles POST /consent-requests
func (h *ConsentHandler) Create(c *gin.Context) {
	var req services.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	r, err := h.consent.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": r.ID, "status": r.Status})
}

// ListPending handles GET /consent-requests?handle=
func (h *ConsentHandler) ListPending(c *gin.Context) {
	handle := c.Query("handle")
	if handle == "" {
		respondError(c, apperrors.Validation(map[string]string{"handle": "query parameter is required"}))
		return
	}

	requests, err := h.consent.ListPending(c.Request.Context(), handle)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requests)
}

// Accept handles POST /consent-requests/:id/accept. The attestation body
// is optional; whatever is supplied is recorded verbatim.
func (h *ConsentHandler) Accept(c *gin.Context) {
	var proof services.AcceptorProof
	if err := c.ShouldBindJSON(&proof); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, bindError(err))
		return
	}

	r, err := h.consent.Accept(c.Request.Context(), c.Param("id"), proof)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": r.ID, "status": r.Status})
}

// Reject handles POST /consent-requests/:id/reject
func (h *ConsentHandler) Reject(c *gin.Context) {
	r, err := h.consent.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": r.Status})
}
