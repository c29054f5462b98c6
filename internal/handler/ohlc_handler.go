package handler

import (
	"errors"
	"net/http"

	"github.com/GuoMonth/trading-view/internal/middleware"
	"github.com/GuoMonth/trading-view/internal/model"
	"github.com/GuoMonth/trading-view/internal/service"
	"github.com/GuoMonth/trading-view/internal/stream"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// BatchImportRequest is the body of a batch import
type BatchImportRequest struct {
	Bars []model.PriceBar `json:"bars" binding:"required"`
}

// OHLCHandler handles price bar HTTP requests
type OHLCHandler struct {
	ohlcService *service.OHLCService
	hub         *stream.Hub
	redisClient *redis.Client
	cachePrefix string
	logger      *zap.Logger
}

// NewOHLCHandler creates a new price bar handler. hub and redisClient may be nil.
func NewOHLCHandler(
	ohlcService *service.OHLCService,
	hub *stream.Hub,
	redisClient *redis.Client,
	cachePrefix string,
	logger *zap.Logger,
) *OHLCHandler {
	return &OHLCHandler{
		ohlcService: ohlcService,
		hub:         hub,
		redisClient: redisClient,
		cachePrefix: cachePrefix,
		logger:      logger,
	}
}

// GetAll handles retrieving every stored bar
// GET /api/ohlc
func (h *OHLCHandler) GetAll(c *gin.Context) {
	bars, err := h.ohlcService.ListAll(c.Request.Context())
	if err != nil {
		h.sendError(c, err)
		return
	}

	sendBars(c, bars)
}

// GetSymbols handles listing the symbols with stored bars
// GET /api/ohlc/symbols
func (h *OHLCHandler) GetSymbols(c *gin.Context) {
	symbols, err := h.ohlcService.Symbols(c.Request.Context())
	if err != nil {
		h.sendError(c, err)
		return
	}
	if symbols == nil {
		symbols = []string{}
	}

	c.JSON(http.StatusOK, model.Success(symbols))
}

// GetBySymbol handles retrieving the bars of one symbol
// GET /api/ohlc/:symbol
func (h *OHLCHandler) GetBySymbol(c *gin.Context) {
	bars, err := h.ohlcService.ListBySymbol(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		h.sendError(c, err)
		return
	}

	sendBars(c, bars)
}

// GetByDateRange handles retrieving the bars of one symbol inside an inclusive range
// GET /api/ohlc/:symbol/range?start=...&end=...
func (h *OHLCHandler) GetByDateRange(c *gin.Context) {
	var req model.OHLCDateRangeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		sendFailure(c, model.CodeBadRequest, "start and end query parameters are required")
		return
	}

	bars, err := h.ohlcService.ListByDateRange(c.Request.Context(), c.Param("symbol"), req)
	if err != nil {
		h.sendError(c, err)
		return
	}

	sendBars(c, bars)
}

// Stream handles websocket subscriptions to newly imported bars of a symbol
// GET /api/ohlc/:symbol/stream
func (h *OHLCHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		sendFailure(c, model.CodeNotFound, "Streaming is disabled")
		return
	}

	symbol := c.Param("symbol")
	if err := h.hub.Serve(c.Writer, c.Request, symbol); err != nil {
		// the upgrader has already replied to failed handshakes
		h.logger.Warn("Failed to open stream", zap.Error(err), zap.String("symbol", symbol))
	}
}

// BatchImport handles importing a batch of bars from another service
// POST /api/service/ohlc/batch
func (h *OHLCHandler) BatchImport(c *gin.Context) {
	var req BatchImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendFailure(c, model.CodeBadRequest, err.Error())
		return
	}

	result, err := h.ohlcService.Import(c.Request.Context(), req.Bars)
	if err != nil {
		h.sendError(c, err)
		return
	}

	if err := middleware.Invalidate(c.Request.Context(), h.redisClient, h.cachePrefix); err != nil {
		h.logger.Warn("Failed to invalidate response cache", zap.Error(err))
	}

	c.JSON(http.StatusOK, model.Success(*result))
}

func sendBars(c *gin.Context, bars []model.PriceBar) {
	c.JSON(http.StatusOK, model.Success(model.OHLCResponse{Data: bars}))
}

func sendFailure(c *gin.Context, code model.Code, message string) {
	c.JSON(code.HTTPStatus(), model.FailureWithMessage[any](code, message))
}

// sendError maps a service error onto a response code
func (h *OHLCHandler) sendError(c *gin.Context, err error) {
	code := codeFor(err)
	if code.HTTPStatus() >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err), zap.String("path", c.FullPath()))
		sendFailure(c, code, code.Message())
		return
	}
	sendFailure(c, code, err.Error())
}

func codeFor(err error) model.Code {
	switch {
	case errors.Is(err, service.ErrInvalidDateFormat):
		return model.CodeInvalidDateFormat
	case errors.Is(err, service.ErrInvalidSymbol),
		errors.Is(err, service.ErrInvalidRange),
		errors.Is(err, service.ErrNoBars),
		errors.Is(err, service.ErrInvalidBar):
		return model.CodeBadRequest
	case errors.Is(err, service.ErrDatabase):
		return model.CodeDatabaseError
	default:
		return model.CodeInternalServerError
	}
}
