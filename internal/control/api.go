// Package control exposes the inspector's command surface over HTTP and
// streams its events to observers as server-sent events.
package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andy6609/ws-inspector/internal/inspector"
)

// Inspector is the command surface driven by the API. *inspector.Server implements it.
type Inspector interface {
	CheckAddress(raw string) (netip.AddrPort, error)
	Start(raw string) (netip.AddrPort, error)
	Stop(ctx context.Context) error
	Status() (inspector.Status, netip.AddrPort)
	Clients() []inspector.Client
	SendText(id inspector.ConnectionID, text string) error
	SendBinary(id inspector.ConnectionID, data []byte) error
	CloseClient(id inspector.ConnectionID, code uint16, reason string) error
}

type api struct {
	insp        Inspector
	events      *Broadcaster
	logger      *slog.Logger
	stopTimeout time.Duration
}

// NewRouter builds the controller API. stopTimeout bounds the drain of a stop request.
func NewRouter(insp Inspector, events *Broadcaster, logger *slog.Logger, stopTimeout time.Duration) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{insp: insp, events: events, logger: logger, stopTimeout: stopTimeout}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	g := r.Group("/api")
	g.GET("/address/check", a.checkAddress)
	g.GET("/server/status", a.status)
	g.POST("/server/start", a.start)
	g.POST("/server/stop", a.stop)
	g.GET("/clients", a.clients)
	g.POST("/clients/:id/send", a.send)
	g.POST("/clients/:id/close", a.close)
	g.GET("/events", a.stream)
	return r
}

func (a *api) checkAddress(c *gin.Context) {
	ap, err := a.insp.CheckAddress(c.Query("address"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": ap.String()})
}

type statusResponse struct {
	Status  inspector.Status `json:"status"`
	Address string           `json:"address,omitempty"`
	Clients int              `json:"clients"`
}

func (a *api) status(c *gin.Context) {
	st, ap := a.insp.Status()
	resp := statusResponse{Status: st, Clients: len(a.insp.Clients())}
	if ap.IsValid() {
		resp.Address = ap.String()
	}
	c.JSON(http.StatusOK, resp)
}

type startRequest struct {
	Address string `json:"address" binding:"required"`
}

func (a *api) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ap, err := a.insp.Start(req.Address)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": ap.String()})
}

func (a *api) stop(c *gin.Context) {
	// The drain must finish even if the controller hangs up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), a.stopTimeout)
	defer cancel()
	if err := a.insp.Stop(ctx); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": inspector.StatusStopped})
}

func (a *api) clients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": a.insp.Clients()})
}

type sendRequest struct {
	Text   *string `json:"text"`
	Binary []byte  `json:"binary"` // base64 in JSON
}

func (a *api) send(c *gin.Context) {
	id, ok := clientID(c)
	if !ok {
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch {
	case req.Text != nil:
		err = a.insp.SendText(id, *req.Text)
	case req.Binary != nil:
		err = a.insp.SendBinary(id, req.Binary)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "one of text or binary is required"})
		return
	}
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

type closeRequest struct {
	Code   uint16 `json:"code" binding:"required"`
	Reason string `json:"reason"`
}

func (a *api) close(c *gin.Context) {
	id, ok := clientID(c)
	if !ok {
		return
	}
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.insp.CloseClient(id, req.Code, req.Reason); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// stream relays every event as a server-sent event named after the event.
func (a *api) stream(c *gin.Context) {
	events, cancel := a.events.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(ev.Name(), ev)
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func clientID(c *gin.Context) (inspector.ConnectionID, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
		return 0, false
	}
	return inspector.ConnectionID(n), true
}

func (a *api) fail(c *gin.Context, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		a.logger.Error("command failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func errorStatus(err error) int {
	var (
		addrErr   *inspector.AddressError
		closeErr  *inspector.CloseError
		statusErr *inspector.StatusError
		bindErr   *inspector.BindError
	)
	switch {
	case errors.As(err, &addrErr), errors.As(err, &closeErr):
		return http.StatusBadRequest
	case errors.Is(err, inspector.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &statusErr):
		return http.StatusConflict
	case errors.As(err, &bindErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("control request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
