// Package server exposes the answering stage over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"legisrag/internal/domain"
	"legisrag/internal/usecase"
)

// Answerer answers one query.
type Answerer interface {
	Answer(ctx context.Context, query, requestID string) (*domain.Answer, error)
}

type queryRequest struct {
	Query     string `json:"query" form:"query"`
	RequestID string `json:"request_id" form:"request_id"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// NewRouter registers the query endpoints.
func NewRouter(answerer Answerer, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(accessLog(logger))

	h := &handler{answerer: answerer, logger: logger}
	router.GET("/healthz", h.health)
	router.GET("/query", h.query)
	router.POST("/query", h.query)

	return router
}

// RequestID takes X-Request-Id from the request or assigns one, and echoes
// it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", reqID)
		c.Set("request_id", reqID)
		c.Next()
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}

type handler struct {
	answerer Answerer
	logger   *zap.Logger
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) query(c *gin.Context) {
	var req queryRequest
	var err error
	if c.Request.Method == http.MethodPost {
		err = c.ShouldBindJSON(&req)
	} else {
		err = c.ShouldBindQuery(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return
	}

	// an explicit request_id wins over the header
	if req.RequestID == "" {
		req.RequestID = c.GetString("request_id")
	}

	answer, err := h.answerer.Answer(c.Request.Context(), req.Query, req.RequestID)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("query failed", zap.String("request_id", req.RequestID), zap.Error(err))
		}
		c.JSON(status, errorResponse{Error: err.Error(), RequestID: req.RequestID})
		return
	}

	c.JSON(http.StatusOK, answer)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoPassages):
		return http.StatusNotFound
	case usecase.IsConfigError(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
