package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tradebot-core/internal/engine"
	"tradebot-core/internal/errs"
	"tradebot-core/internal/order"
	"tradebot-core/internal/supervisor"
	"tradebot-core/pkg/db"
)

type listTradesQuery struct {
	Limit int `form:"limit"`
}

func (q *listTradesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = engine.DefaultTradeLimit
	}
	if q.Limit > engine.MaxTradeLimit {
		q.Limit = engine.MaxTradeLimit
	}
}

type placeOrderRequest struct {
	OrderType  string  `json:"order_type" binding:"required,min=1"`
	Symbol     string  `json:"symbol" binding:"required,min=1"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity" binding:"gt=0"`
	LimitPrice float64 `json:"limit_price"`
	StopPrice  float64 `json:"stop_price"`
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondServiceError maps the service error classes onto HTTP statuses.
func (s *Server) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, order.ErrOrderNotFound):
		respondError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, errs.ErrValidation), errors.Is(err, db.ErrTenantIDRequired):
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, supervisor.ErrStopTimeout), errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		s.Log.Error("request failed",
			zap.String("request_id", c.GetString("RequestID")),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		respondError(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// --- Tenant lifecycle ---

func (s *Server) startTenant(c *gin.Context) {
	id := c.Param("id")
	if err := s.Engine.StartTenant(c.Request.Context(), id); err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": id, "status": "running"})
}

func (s *Server) stopTenant(c *gin.Context) {
	id := c.Param("id")
	if err := s.Engine.StopTenant(c.Request.Context(), id); err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": id, "status": "stopped"})
}

func (s *Server) getSupervisor(c *gin.Context) {
	running := s.Engine.RunningTenants()
	if running == nil {
		running = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"running": running, "count": len(running)})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.SystemStatus(c.Request.Context()))
}

// --- Risk ---

func (s *Server) getRiskSnapshot(c *gin.Context) {
	snap, err := s.Engine.LatestRiskSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getRiskAssessment(c *gin.Context) {
	a, err := s.Engine.RiskAssessment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// --- Positions, trades and signals ---

func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.Engine.Positions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	if positions == nil {
		positions = []db.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) getTrades(c *gin.Context) {
	var q listTradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	q.normalize()

	trades, err := s.Engine.Trades(c.Request.Context(), c.Param("id"), q.Limit)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	if trades == nil {
		trades = []db.Trade{}
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) getSignal(c *gin.Context) {
	sig, err := s.Engine.LatestSignal(c.Request.Context(), c.Param("id"), c.Param("symbol"))
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

// --- Conditional orders ---

func (s *Server) getOrders(c *gin.Context) {
	orders, err := s.Engine.PendingOrders(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	if orders == nil {
		orders = []db.PendingOrder{}
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	o, err := s.Engine.PlaceOrder(c.Request.Context(), c.Param("id"), engine.OrderRequest{
		Type:       db.OrderType(req.OrderType),
		Symbol:     req.Symbol,
		Side:       db.Side(req.Side),
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
	})
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (s *Server) cancelOrder(c *gin.Context) {
	id := c.Param("orderID")
	if err := s.Engine.CancelOrder(c.Request.Context(), id); err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": db.StatusCancelled})
}
