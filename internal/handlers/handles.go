package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consentgrid/backend/internal/middleware"
	"github.com/consentgrid/backend/internal/services"
)

// HandleHandler serves the handle registry and ownership verification
// endpoints.
type HandleHandler struct {
	handles   *services.HandleService
	ownership *services.OwnershipService
	jwtConfig middleware.JWTConfig
}

// NewHandleHandler creates a new handle handler
func NewHandleHandler(handles *services.HandleService, ownership *services.OwnershipService, jwtSecret string, tokenTTL time.Duration) *HandleHandler {
	return &HandleHandler{
		handles:   handles,
		ownership: ownership,
		jwtConfig: middleware.JWTConfig{
			Secret:     jwtSecret,
			Expiration: tokenTTL,
		},
	}
}

// Claim handles POST /handles/claim
func (h *HandleHandler) Claim(c *gin.Context) {
	var req services.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	handle, err := h.handles.Claim(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

// Resolve handles GET /handles/:handle
func (h *HandleHandler) Resolve(c *gin.Context) {
	handle, err := h.handles.Resolve(c.Request.Context(), c.Param("handle"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

// Challenge handles POST /handles/challenge
func (h *HandleHandler) Challenge(c *gin.Context) {
	var req services.ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	challenge, err := h.ownership.IssueChallenge(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}

// Verify handles POST /handles/verify. A failed signature check is a
// successful response with valid=false; a valid proof additionally mints
// a session token.
func (h *HandleHandler) Verify(c *gin.Context) {
	var req services.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	valid, err := h.ownership.Verify(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	if !valid {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}

	token, err := middleware.GenerateToken(services.CanonicalHandle(req.Handle), req.WalletAddress, h.jwtConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "token": token})
}
