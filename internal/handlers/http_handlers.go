package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Aastha0305/DigiPurse/internal/middleware"
	"github.com/Aastha0305/DigiPurse/internal/models"
	"github.com/Aastha0305/DigiPurse/internal/repository"
	"github.com/Aastha0305/DigiPurse/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=http_handlers.go -destination=../mocks/mock_wallet_service.go -package=mocks WalletService,HistoryService

type WalletService interface {
	Deposit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) (*models.Wallet, bool, error)
	Withdraw(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) (*models.Wallet, error)
	Transfer(ctx context.Context, fromUserID, toUserID uuid.UUID, currency string, amount decimal.Decimal) (*models.TransferResult, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
}

type HistoryService interface {
	GetHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.HistoryEntry, error)
}

type WalletHTTPHandler struct {
	service WalletService
	history HistoryService
	logger  *slog.Logger
}

func NewWalletHTTPHandler(service WalletService, history HistoryService, logger *slog.Logger) *WalletHTTPHandler {
	return &WalletHTTPHandler{service: service, history: history, logger: logger}
}

// RegisterRoutes mounts the wallet API. auth guards every wallet route,
// writes run only in front of the mutating ones.
func (h *WalletHTTPHandler) RegisterRoutes(r *gin.Engine, auth gin.HandlerFunc, writes ...gin.HandlerFunc) {
	r.GET("/health", h.HandleHealth)

	wallet := r.Group("/api/v1/wallet", auth)
	{
		wallet.GET("", h.HandleGetWallet)
		wallet.GET("/transactions", h.HandleGetHistory)

		mutating := wallet.Group("", writes...)
		mutating.POST("/deposit", h.HandleDeposit)
		mutating.POST("/withdraw", h.HandleWithdraw)
		mutating.POST("/transfer", h.HandleTransfer)
	}
}

func (h *WalletHTTPHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *WalletHTTPHandler) HandleDeposit(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req models.FundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	wallet, created, err := h.service.Deposit(c.Request.Context(), userID, req.Currency, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, wallet)
}

func (h *WalletHTTPHandler) HandleWithdraw(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req models.FundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	wallet, err := h.service.Withdraw(c.Request.Context(), userID, req.Currency, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (h *WalletHTTPHandler) HandleTransfer(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req models.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	res, err := h.service.Transfer(c.Request.Context(), userID, req.ToUserID, req.Currency, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *WalletHTTPHandler) HandleGetWallet(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	wallet, err := h.service.GetWallet(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (h *WalletHTTPHandler) HandleGetHistory(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := h.history.GetHistory(c.Request.Context(), userID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *WalletHTTPHandler) userID(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	}
	return userID, ok
}

func (h *WalletHTTPHandler) writeError(c *gin.Context, err error) {
	switch service.KindOf(err) {
	case service.KindValidation, service.KindBusiness:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case service.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrConflict.Error()})
	case service.KindUnavailable:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": service.ErrScopeTimeout.Error()})
	default:
		h.logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.Any("err", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
