package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tipme/tipme-server/internal/mpesa"
	"github.com/tipme/tipme-server/internal/service"
	"go.uber.org/zap"
)

// Handlers bundles the reconciliation services behind the HTTP surface.
type Handlers struct {
	payments    *service.PaymentService
	withdrawals *service.WithdrawalService
	wallets     *service.WalletService
	log         *zap.SugaredLogger
}

func NewHandlers(p *service.PaymentService, wd *service.WithdrawalService, w *service.WalletService, log *zap.SugaredLogger) *Handlers {
	return &Handlers{payments: p, withdrawals: wd, wallets: w, log: log}
}

func RegisterHandlers(r *gin.Engine, h *Handlers) {
	api := r.Group("/api")
	{
		api.POST("/payments/stk-push", h.stkPush)
		api.POST("/payments/callback", h.stkCallback)
		api.POST("/b2c/withdraw", h.withdraw)
		api.POST("/b2c/b2c-callback", h.b2cCallback)
		api.POST("/b2c/b2c-timeout", h.b2cTimeout)
		api.GET("/wallets/:user_id", h.getWallet)
		api.GET("/wallets/:user_id/ledger", h.getLedger)
		api.GET("/wallets/get-balance/:user_id", h.getWallet)
		api.GET("/admin/withdrawals", h.adminWithdrawals)
		api.GET("/admin/ledger/:user_id", h.getLedger)
		api.GET("/admin/platform", h.adminPlatform)
	}
}

type stkPushReq struct {
	UserID uint64 `json:"user_id" binding:"required"`
	Phone  string `json:"phone" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

func (h *Handlers) stkPush(c *gin.Context) {
	var req stkPushReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	intent, resp, err := h.payments.CreateIntent(c.Request.Context(), req.UserID, req.Phone, amt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reference":           intent.Reference,
		"checkout_request_id": resp.CheckoutRequestID,
		"customer_message":    resp.CustomerMessage,
	})
}

// stkCallback receives the gateway's collection result. The ack is
// written first and unconditionally; internal failures are logged and
// dropped so the gateway does not retry forever against a dead letter.
func (h *Handlers) stkCallback(c *gin.Context) {
	var env mpesa.STKCallbackEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		h.log.Warnf("unreadable collection callback: %v", err)
		c.JSON(http.StatusOK, mpesa.Accepted)
		return
	}
	c.JSON(http.StatusOK, mpesa.Accepted)
	if err := h.payments.HandleCollectionResult(c.Request.Context(), &env.Body.STKCallback); err != nil {
		h.log.Errorf("reconcile collection %s: %v", env.Body.STKCallback.CheckoutRequestID, err)
	}
}

type withdrawReq struct {
	UserID uint64 `json:"user_id" binding:"required"`
	Phone  string `json:"phone" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

func (h *Handlers) withdraw(c *gin.Context) {
	var req withdrawReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	wd, err := h.withdrawals.Create(c.Request.Context(), req.UserID, amt, req.Phone)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "withdrawal processing",
		"withdrawal_id": wd.ID,
		"reference":     wd.Reference(),
		"status":        wd.Status,
	})
}

func (h *Handlers) b2cCallback(c *gin.Context) {
	var env mpesa.B2CResultEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		h.log.Warnf("unreadable payout callback: %v", err)
		c.JSON(http.StatusOK, mpesa.Accepted)
		return
	}
	c.JSON(http.StatusOK, mpesa.Accepted)
	if err := h.withdrawals.HandlePayoutResult(c.Request.Context(), &env.Result); err != nil {
		h.log.Errorf("reconcile payout %s: %v", env.Result.OriginatorConversationID, err)
	}
}

func (h *Handlers) b2cTimeout(c *gin.Context) {
	var env mpesa.B2CResultEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		h.log.Warnf("unreadable payout timeout: %v", err)
		c.JSON(http.StatusOK, mpesa.Accepted)
		return
	}
	c.JSON(http.StatusOK, mpesa.Accepted)
	if err := h.withdrawals.HandlePayoutTimeout(c.Request.Context(), env.Result.OriginatorConversationID); err != nil {
		h.log.Errorf("reconcile payout timeout %s: %v", env.Result.OriginatorConversationID, err)
	}
}

func (h *Handlers) getWallet(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	w, err := h.wallets.GetWallet(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":           w.UserID,
		"available_balance": w.AvailableBalance,
		"pending_balance":   w.PendingBalance,
		"locked_balance":    w.LockedBalance,
		"updated_at":        w.UpdatedAt,
	})
}

func (h *Handlers) getLedger(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.wallets.GetLedger(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handlers) adminWithdrawals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	ws, err := h.wallets.ListWithdrawals(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h *Handlers) adminPlatform(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	pw, entries, err := h.wallets.PlatformSummary(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": pw.Balance, "entries": entries})
}

// writeError maps service errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidPhone),
		errors.Is(err, service.ErrInsufficientFunds):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrGateway):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrLockConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
