package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/escrowd/internal/ledger"
	"github.com/mbd888/escrowd/internal/validation"
)

// Handler provides HTTP endpoints for settlement operations.
//
// The actor comes from the X-Actor-Id and X-Actor-Role headers, set by the
// platform's auth gateway upstream; this service trusts them as given.
type Handler struct {
	service *Service
}

// NewHandler creates a new settlement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the settlement routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.Initiate)
	r.GET("/escrows", h.List)
	r.GET("/escrows/:id", h.Get)
	r.GET("/escrows/:id/balances", h.Balances)
	r.POST("/escrows/:id/fund", h.SubmitFunding)
	r.POST("/escrows/:id/payment-sent", h.MarkPaymentSent)
	r.POST("/escrows/:id/release", h.Release)
	r.POST("/escrows/:id/dispute", h.Dispute)
	r.POST("/escrows/:id/cancel", h.Cancel)
	r.POST("/escrows/:id/resolve", h.Resolve)
	r.POST("/balances/:id/confirm", h.ConfirmBalance)
	r.POST("/balances/:id/correct", h.CorrectBalance)
}

func actorFrom(c *gin.Context) Actor {
	return Actor{
		ID:    c.GetHeader("X-Actor-Id"),
		Admin: c.GetHeader("X-Actor-Role") == "admin",
	}
}

// Initiate handles POST /v1/escrows
func (h *Handler) Initiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	e, err := h.service.Initiate(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"escrow": e})
}

// Get handles GET /v1/escrows/:id
func (h *Handler) Get(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// List handles GET /v1/escrows
func (h *Handler) List(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	escrows, err := h.service.List(c.Request.Context(), actorFrom(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"escrows": escrows,
		"count":   len(escrows),
	})
}

// Balances handles GET /v1/escrows/:id/balances
func (h *Handler) Balances(c *gin.Context) {
	balances, err := h.service.Balances(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balances": balances,
		"count":    len(balances),
	})
}

// SubmitFunding handles POST /v1/escrows/:id/fund
func (h *Handler) SubmitFunding(c *gin.Context) {
	var req FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "rail and amount are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	balance, err := h.service.SubmitFunding(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"balance": balance})
}

// MarkPaymentSent handles POST /v1/escrows/:id/payment-sent
func (h *Handler) MarkPaymentSent(c *gin.Context) {
	h.transition(c, func() (*Escrow, error) {
		return h.service.MarkPaymentSent(c.Request.Context(), actorFrom(c), c.Param("id"))
	})
}

// Release handles POST /v1/escrows/:id/release
func (h *Handler) Release(c *gin.Context) {
	h.transition(c, func() (*Escrow, error) {
		return h.service.Release(c.Request.Context(), actorFrom(c), c.Param("id"))
	})
}

// Dispute handles POST /v1/escrows/:id/dispute
func (h *Handler) Dispute(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	h.transition(c, func() (*Escrow, error) {
		return h.service.Dispute(c.Request.Context(), actorFrom(c), c.Param("id"), req.Reason)
	})
}

// Cancel handles POST /v1/escrows/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	h.transition(c, func() (*Escrow, error) {
		return h.service.Cancel(c.Request.Context(), actorFrom(c), c.Param("id"))
	})
}

// Resolve handles POST /v1/escrows/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req struct {
		Resolution string `json:"resolution" binding:"required"`
		Reason     string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "resolution is required (release_to_seller, refund_to_buyer, or split)",
		})
		return
	}

	h.transition(c, func() (*Escrow, error) {
		return h.service.Resolve(c.Request.Context(), actorFrom(c), c.Param("id"), req.Resolution, req.Reason)
	})
}

// ConfirmBalance handles POST /v1/balances/:id/confirm
func (h *Handler) ConfirmBalance(c *gin.Context) {
	e, err := h.service.ConfirmBalance(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// CorrectBalance handles POST /v1/balances/:id/correct
func (h *Handler) CorrectBalance(c *gin.Context) {
	var req struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required",
		})
		return
	}

	balance, err := h.service.CorrectBalance(c.Request.Context(), actorFrom(c), c.Param("id"), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// transition runs a state-changing call and renders the result. An
// idempotent redelivery (the escrow already absorbed an equivalent event)
// renders as success with the current state rather than an error.
func (h *Handler) transition(c *gin.Context, call func() (*Escrow, error)) {
	e, err := call()
	if err != nil {
		if IsNoOp(err) {
			current, gerr := h.service.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
			if gerr == nil {
				c.JSON(http.StatusOK, gin.H{"escrow": current, "unchanged": true})
				return
			}
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var rej *Rejection
	if errors.As(err, &rej) {
		status := http.StatusInternalServerError
		switch rej.Kind {
		case KindNotFound:
			status = http.StatusNotFound
		case KindUnauthorized:
			status = http.StatusForbidden
		case KindIllegalTransition, KindAlreadyTerminal, KindStaleWrite:
			status = http.StatusConflict
		case KindOverFunding:
			status = http.StatusUnprocessableEntity
		case KindConfigurationMismatch:
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error":   string(rej.Kind),
			"field":   rej.Field,
			"message": rej.Message,
		})
		return
	}

	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": verrs.Error(),
			"details": verrs,
		})
		return
	}

	switch {
	case errors.Is(err, ledger.ErrBalanceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ledger.ErrAlreadyConfirmed), errors.Is(err, ledger.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
