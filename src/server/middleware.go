package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// requestLogger tags every request with an id and logs it once it finishes.
// Query strings are left out: the return endpoint carries the provider hash.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()

		if s.Metrics != nil {
			s.Metrics.HTTPRequestDuration.
				WithLabelValues(route, c.Request.Method, strconv.Itoa(code)).
				Observe(elapsed.Seconds())
		}
		s.Log.Info("request",
			"request_id", id,
			"method", c.Request.Method,
			"route", route,
			"status", code,
			"bytes", c.Writer.Size(),
			"duration", elapsed.String(),
		)
	}
}

func requestID(c *gin.Context) string {
	return c.GetString("request_id")
}
