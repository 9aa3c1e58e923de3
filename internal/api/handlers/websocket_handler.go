package handlers

import (
	"context"
	"net"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/insightsboard/backend/internal/dashboard"
	"github.com/insightsboard/backend/internal/metrics"
	"github.com/insightsboard/backend/internal/middleware/validation"
	"github.com/insightsboard/backend/pkg/logger"
)

// Limiter takes one token for key and reports whether the caller may proceed.
type Limiter interface {
	Allow(key string) bool
}

type WebSocketHandler struct {
	service *dashboard.Service
	limiter Limiter
}

func NewWebSocketHandler(service *dashboard.Service) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
	}
}

// WithRateLimit charges every generate message against the client's IP.
func (h *WebSocketHandler) WithRateLimit(l Limiter) *WebSocketHandler {
	h.limiter = l
	return h
}

type generateMessage struct {
	Type           string `json:"type"`
	APIKey         string `json:"api_key"`
	NumVisuals     int    `json:"num_visuals"`
	DatabaseURL    string `json:"database_url"`
	Table          string `json:"table"`
	Customizations string `json:"customizations"`
}

// HandleConnection serves dashboards built from a database table. Each
// "generate" message streams status updates, the insight text and every chart
// as soon as it is rendered, then a "complete" or "error" message.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	clientIP := remoteIP(c)
	logger.Info("WebSocket connection established", zap.String("ip", clientIP))
	metrics.WebSocketSessions.Inc()

	defer func() {
		c.Close()
		metrics.WebSocketSessions.Dec()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg generateMessage

		err := c.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "generate" {
			h.sendError(c, "Unsupported message type")
			continue
		}

		if h.limiter != nil && !h.limiter.Allow(clientIP) {
			logger.Warn("Rate limit exceeded", zap.String("ip", clientIP), zap.String("path", "/ws/dashboards"))
			if err := h.sendError(c, "Rate limit exceeded. Please try again later."); err != nil {
				break
			}
			continue
		}

		logger.Info("Processing WebSocket dashboard request", zap.String("table", msg.Table))

		err = h.streamDashboard(c, msg)
		if err != nil {
			logger.Error("Failed to stream dashboard", zap.Error(err))
			break
		}
	}
}

// streamDashboard returns an error only when the connection is unusable.
// Pipeline failures are reported to the client as "error" messages.
func (h *WebSocketHandler) streamDashboard(c *websocket.Conn, msg generateMessage) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := dashboard.Request{
		APIKey:         msg.APIKey,
		NumVisuals:     msg.NumVisuals,
		Customizations: validation.Sanitize(msg.Customizations),
		Source: dashboard.Source{
			Kind:        dashboard.SourceDatabase,
			DatabaseURL: validation.Sanitize(msg.DatabaseURL),
			Table:       validation.Sanitize(msg.Table),
		},
	}

	var writeErr error
	progress := func(e dashboard.Event) {
		if writeErr != nil {
			return
		}
		switch e.Type {
		case dashboard.EventStatus:
			writeErr = h.sendChunk(c, "status", e.Message)
		case dashboard.EventInsights:
			writeErr = h.sendChunk(c, "insights", e.Insights)
		case dashboard.EventChart:
			writeErr = c.WriteJSON(map[string]interface{}{
				"type":  "chart",
				"chart": toChartResponse(e.Chart),
			})
		}
		if writeErr != nil {
			cancel()
		}
	}

	result, err := h.service.GenerateWithProgress(ctx, req, progress)
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		_, userMsg := errorStatus(err)
		logger.Warn("WebSocket dashboard failed", zap.Error(err))
		return h.sendError(c, userMsg)
	}

	return h.sendComplete(c, result)
}

func remoteIP(c *websocket.Conn) string {
	addr := c.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, result *dashboard.Result) error {
	msg := map[string]interface{}{
		"type":           "complete",
		"id":             result.ID,
		"source":         result.Source,
		"rows":           result.Rows,
		"charts":         len(result.Charts),
		"cached":         result.Cached,
		"customizations": result.Customizations,
		"latency_ms":     result.LatencyMS,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	return c.WriteJSON(msg)
}
