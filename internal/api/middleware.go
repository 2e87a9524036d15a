package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/logging"
	"github.com/Spok95/school-transport/internal/metrics"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/observability"
)

const requestIDHeader = "X-Request-ID"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(ctxutil.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		t0 := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		took := time.Since(t0)
		metrics.ObserveHTTP(route, code, took)

		l := logging.FromContext(c.Request.Context(), log)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", code),
			zap.Duration("took", took),
		}
		if code >= http.StatusInternalServerError {
			l.Error("request failed", fields...)
			return
		}
		l.Debug("request", fields...)
	}
}

// recovery: паника в обработчике валит только этот запрос.
func recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				observability.CapturePanic(r)
				metrics.HandlerErrors.Inc()
				logging.FromContext(c.Request.Context(), log).Error("panic in handler",
					zap.String("route", c.FullPath()), zap.Any("panic", r), zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		c.Next()
	}
}

// bearer: токен из Authorization; для websocket допускается ?token=.
func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if v, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return c.Query("token")
}

func authenticate(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c)
		if raw == "" || tokens == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "authorization required"})
			return
		}
		claims, err := tokens.Parse(raw)
		if err != nil {
			fail(c, err)
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithSession(c.Request.Context(), claims.Session()))
		c.Next()
	}
}

func requireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := ctxutil.SessionFrom(c.Request.Context())
		if !ok || sess.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: fmt.Sprintf("%s role required", role)})
			return
		}
		c.Next()
	}
}

func session(c *gin.Context) ctxutil.Session {
	s, _ := ctxutil.SessionFrom(c.Request.Context())
	return s
}

// uuidParams: :id в пути должен быть uuid, иначе 404 без похода в БД.
func uuidParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Param("id"); id != "" {
			if _, err := uuid.Parse(id); err != nil {
				c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: "not found"})
				return
			}
		}
		c.Next()
	}
}
