package httpapi

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/metrics"
)

// observe пишет метрики запросов по шаблону маршрута.
func observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// accessLog пишет запросы в logrus.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("HTTP-запрос")
	}
}

// recovery отвечает 500 при панике в обработчике.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"component": "panic_recovery",
					"panic":     fmt.Sprintf("%v", r),
					"stack":     string(debug.Stack()),
				}).Error("ПАНИКА в HTTP-обработчике — восстановлено")
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
					Code:    "INTERNAL",
					Message: "что-то пошло не так, попробуйте позже",
				})
			}
		}()
		c.Next()
	}
}
