package ddnsrelay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes caps an update body; a real one is well under a kilobyte.
const maxBodyBytes = 64 << 10

// NewServer returns the relay's HTTP surface:
// POST path applies an update, other methods on it get 405,
// GET /healthz reports liveness and GET /metrics serves Prometheus metrics.
func NewServer(relay *Relay, path string, logger logrus.FieldLogger) http.Handler {
	if path == "" {
		path = "/"
	}
	if logger == nil {
		logger = discard
	}

	e := gin.New()
	e.HandleMethodNotAllowed = true
	e.Use(requestLogger(logger), gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, err any) {
		logger.WithField("request_id", c.GetString(requestIDKey)).Errorf("panic while handling request: %v", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, Response{Error: "internal error"})
	}))
	e.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
	})
	e.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, Response{Error: "not found"})
	})

	e.POST(path, updateHandler(relay))
	e.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return e
}

func updateHandler(relay *Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			res := ErrorResult(fmt.Errorf("%w: %s", ErrMalformedRequest, err))
			c.JSON(res.Status, res.Body)
			return
		}
		ctx := withRequestID(c.Request.Context(), c.GetString(requestIDKey))
		res := relay.Handle(ctx, c.GetHeader("Authorization"), body)
		c.JSON(res.Status, res.Body)
	}
}

const requestIDKey = "request_id"

func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-Id", id)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		httpRequestCount.WithLabelValues(c.Request.Method, strconv.Itoa(status)).Inc()
		logger.WithFields(logrus.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"client_ip":  c.ClientIP(),
			"duration":   time.Since(start).String(),
		}).Info("request handled")
	}
}

type requestIDContextKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
