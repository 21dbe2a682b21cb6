package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consentgrid/backend/internal/services"
)

// TransactionHandler serves the transaction reconciliation endpoint.
type TransactionHandler struct {
	transactions *services.TransactionService
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(transactions *services.TransactionService) *TransactionHandler {
	return &TransactionHandler{transactions: transactions}
}

// Monitor handles POST /transactions/monitor
func (h *TransactionHandler) Monitor(c *gin.Context) {
	var req services.MonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	result, err := h.transactions.Monitor(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
