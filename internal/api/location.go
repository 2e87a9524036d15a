package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/eta"
	"github.com/Spok95/school-transport/internal/livelocation"
	"github.com/Spok95/school-transport/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var errNoBus = errors.New("no bus assigned to driver")

type positionBody struct {
	Lat      *float64 `json:"lat" binding:"required"`
	Lng      *float64 `json:"lng" binding:"required"`
	Accuracy float64  `json:"accuracy" binding:"gte=0"`
}

func (h *handler) busLocation(c *gin.Context) {
	l, err := h.Locations.Get(c.Request.Context(), c.Param("busID"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// ownBus: водитель пишет позицию только своего автобуса.
func ownBus(c *gin.Context) bool {
	sess := session(c)
	if sess.BusID == "" || sess.BusID != c.Param("busID") {
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: "bus is not assigned to you"})
		return false
	}
	return true
}

func (h *handler) updateLocation(c *gin.Context) {
	if !ownBus(c) {
		return
	}
	var in positionBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	l, err := h.Locations.Update(c.Request.Context(), c.Param("busID"), session(c).UserID, *in.Lat, *in.Lng, in.Accuracy)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *handler) stopTracking(c *gin.Context) {
	if !ownBus(c) {
		return
	}
	if err := h.Locations.Stop(c.Request.Context(), c.Param("busID")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func queryPoint(c *gin.Context) (eta.Point, error) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		return eta.Point{}, errors.New("lat: " + err.Error())
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		return eta.Point{}, errors.New("lng: " + err.Error())
	}
	if !livelocation.ValidCoords(lat, lng) {
		return eta.Point{}, livelocation.ErrBadCoords
	}
	return eta.Point{Lat: lat, Lng: lng}, nil
}

// busETA: ETA автобуса до точки ?lat=&lng=.
func (h *handler) busETA(c *gin.Context) {
	dest, err := queryPoint(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	l, err := h.Locations.Get(c.Request.Context(), c.Param("busID"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Estimator.Estimate(eta.Point{Lat: l.Lat, Lng: l.Lng}, dest))
}

type routeBody struct {
	Stops []eta.Stop `json:"stops" binding:"required,min=1,max=50"`
}

// busRouteETA: ETA по списку остановок с нарастающим итогом.
func (h *handler) busRouteETA(c *gin.Context) {
	var in routeBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	l, err := h.Locations.Get(c.Request.Context(), c.Param("busID"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Estimator.MultiStop(eta.Point{Lat: l.Lat, Lng: l.Lng}, in.Stops))
}

// watchClose читает кадры клиента (pong/close) и отменяет ctx, когда соединение закрыто.
func watchClose(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// streamBus: поток позиций автобуса: текущая позиция сразу, затем обновления из redis.
func (h *handler) streamBus(c *gin.Context) {
	busID := c.Param("busID")
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go watchClose(conn, cancel)

	log := logging.FromContext(ctx, h.log).With(zap.String("bus", busID))
	if l, err := h.Locations.Get(ctx, busID); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(l); err != nil {
			return
		}
	}

	updates := h.Locations.Subscribe(ctx, busID)
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case l, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(l); err != nil {
				log.Debug("bus stream closed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// driverFeed: водитель шлёт позиции по websocket; закрытие сокета останавливает трансляцию.
func (h *handler) driverFeed(c *gin.Context) {
	sess := session(c)
	if sess.BusID == "" {
		c.JSON(http.StatusConflict, errorBody{Error: errNoBus.Error()})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := c.Request.Context()
	log := logging.FromContext(ctx, h.log).With(zap.String("bus", sess.BusID))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := h.Locations.Stop(stopCtx, sess.BusID); err != nil {
			log.Warn("stop tracking failed", zap.Error(err))
		}
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	for {
		var p positionBody
		if err := conn.ReadJSON(&p); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if p.Lat == nil || p.Lng == nil {
			continue
		}
		if _, err := h.Locations.Update(ctx, sess.BusID, sess.UserID, *p.Lat, *p.Lng, p.Accuracy); err != nil {
			log.Warn("location update rejected", zap.Error(err))
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteJSON(errorBody{Error: err.Error()})
		}
	}
}

func (h *handler) streamNotifications(c *gin.Context) {
	if h.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "notification stream is disabled"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	h.Hub.Serve(c.Request.Context(), conn, session(c).UserID)
}
