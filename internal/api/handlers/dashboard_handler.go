package handlers

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/insightsboard/backend/internal/charts"
	"github.com/insightsboard/backend/internal/dashboard"
	"github.com/insightsboard/backend/internal/insights"
	"github.com/insightsboard/backend/internal/llm"
	"github.com/insightsboard/backend/internal/middleware/validation"
	"github.com/insightsboard/backend/internal/storage/sqlite"
	"github.com/insightsboard/backend/pkg/circuitbreaker"
	"github.com/insightsboard/backend/pkg/logger"
)

type DashboardHandler struct {
	service *dashboard.Service
}

func NewDashboardHandler(service *dashboard.Service) *DashboardHandler {
	return &DashboardHandler{
		service: service,
	}
}

// dashboardForm is the submission shared by the JSON API, the multipart API
// and the HTML form.
type dashboardForm struct {
	APIKey         string `json:"api_key" form:"api_key"`
	NumVisuals     int    `json:"num_visuals" form:"num_visuals"`
	Source         string `json:"source" form:"source"`
	DatabaseURL    string `json:"database_url" form:"database_url"`
	Table          string `json:"table" form:"table"`
	Customizations string `json:"customizations" form:"customizations"`
	// Filename and Data carry an inline upload in JSON requests.
	Filename string `json:"filename" form:"-"`
	Data     string `json:"data" form:"-"`
}

// parseDashboardForm reads a JSON or multipart submission. The uploaded file,
// if any, is read whole into the request.
func parseDashboardForm(c *fiber.Ctx) (dashboardForm, dashboard.Request, error) {
	var form dashboardForm
	if err := c.BodyParser(&form); err != nil {
		return form, dashboard.Request{}, fmt.Errorf("invalid request body: %w", err)
	}

	form.APIKey = strings.TrimSpace(form.APIKey)
	if form.APIKey == "" {
		form.APIKey = c.Get("X-API-Key")
	}
	form.DatabaseURL = validation.Sanitize(form.DatabaseURL)
	form.Table = validation.Sanitize(form.Table)
	form.Customizations = validation.Sanitize(form.Customizations)

	src := dashboard.Source{Kind: form.Source}

	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return form, dashboard.Request{}, fmt.Errorf("failed to open upload: %w", err)
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return form, dashboard.Request{}, fmt.Errorf("failed to read upload: %w", err)
		}
		src.Filename = fh.Filename
		src.Data = data
	} else if form.Data != "" {
		src.Filename = form.Filename
		src.Data = []byte(form.Data)
	}

	src.DatabaseURL = form.DatabaseURL
	src.Table = form.Table

	if src.Kind == "" {
		switch {
		case len(src.Data) > 0:
			src.Kind = dashboard.SourceUpload
		case src.DatabaseURL != "":
			src.Kind = dashboard.SourceDatabase
		}
		form.Source = src.Kind
	}

	return form, dashboard.Request{
		APIKey:         form.APIKey,
		NumVisuals:     form.NumVisuals,
		Customizations: form.Customizations,
		Source:         src,
	}, nil
}

// errorStatus maps pipeline errors to an HTTP status and a user-facing message.
func errorStatus(err error) (int, string) {
	var loadErr *dashboard.LoadError
	switch {
	case errors.Is(err, dashboard.ErrNoSource):
		return fiber.StatusBadRequest, dashboard.NoDataMessage
	case errors.As(err, &loadErr):
		return fiber.StatusUnprocessableEntity, loadErr.Error()
	case errors.Is(err, insights.ErrInvalidCount):
		return fiber.StatusBadRequest, fmt.Sprintf("Number of visualizations must be between %d and %d", insights.MinVisuals, insights.MaxVisuals)
	case errors.Is(err, llm.ErrMissingAPIKey):
		return fiber.StatusBadRequest, "An API key is required"
	case errors.Is(err, insights.ErrTooFewColumns):
		return fiber.StatusUnprocessableEntity, "The dataset needs at least two columns to chart"
	case errors.Is(err, insights.ErrNoInsights):
		return fiber.StatusBadGateway, "The model returned no insights"
	case errors.Is(err, charts.ErrNoNumericData):
		return fiber.StatusUnprocessableEntity, "The second column has no numeric values to chart"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return fiber.StatusServiceUnavailable, "The model endpoint is temporarily unavailable"
	case llm.StatusCode(err) == fiber.StatusUnauthorized || llm.StatusCode(err) == fiber.StatusForbidden:
		return fiber.StatusBadGateway, "The model endpoint rejected the API key"
	case llm.StatusCode(err) != 0:
		return fiber.StatusBadGateway, "The model endpoint returned an error"
	default:
		return fiber.StatusInternalServerError, "Failed to generate dashboard"
	}
}

type chartResponse struct {
	Index       int    `json:"index"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	X           string `json:"x"`
	Y           string `json:"y"`
	ContentType string `json:"content_type"`
	Image       string `json:"image"`
}

func toChartResponse(ch *charts.Chart) chartResponse {
	return chartResponse{
		Index:       ch.Index,
		Kind:        string(ch.Kind),
		Title:       ch.Title,
		X:           ch.X,
		Y:           ch.Y,
		ContentType: ch.ContentType,
		Image:       ch.DataURI(),
	}
}

func (h *DashboardHandler) CreateDashboard(c *fiber.Ctx) error {
	_, req, err := parseDashboardForm(c)
	if err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := h.service.Generate(c.UserContext(), req)
	if err != nil {
		status, msg := errorStatus(err)
		if status >= fiber.StatusInternalServerError {
			logger.Error("Failed to generate dashboard", zap.Error(err))
		} else {
			logger.Warn("Dashboard request rejected", zap.Int("status", status), zap.Error(err))
		}
		return c.Status(status).JSON(fiber.Map{
			"error": msg,
		})
	}

	chartList := make([]chartResponse, len(result.Charts))
	for i, ch := range result.Charts {
		chartList[i] = toChartResponse(ch)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":             result.ID,
		"source":         result.Source,
		"rows":           result.Rows,
		"columns":        result.Columns,
		"num_visuals":    result.NumVisuals,
		"insights":       result.Insights,
		"lines":          result.Lines,
		"charts":         chartList,
		"customizations": result.Customizations,
		"cached":         result.Cached,
		"latency_ms":     result.LatencyMS,
	})
}

func (h *DashboardHandler) ListDashboards(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	runs, err := h.service.History(c.UserContext(), limit)
	if errors.Is(err, dashboard.ErrHistoryDisabled) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "History is not enabled",
		})
	}
	if err != nil {
		logger.Error("Failed to list dashboards", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list dashboards",
		})
	}

	return c.JSON(fiber.Map{
		"history": runs,
	})
}

func (h *DashboardHandler) GetDashboard(c *fiber.Ctx) error {
	run, err := h.service.Run(c.UserContext(), c.Params("id"))
	switch {
	case errors.Is(err, sqlite.ErrRunNotFound), errors.Is(err, dashboard.ErrHistoryDisabled):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Dashboard not found",
		})
	case err != nil:
		logger.Error("Failed to get dashboard", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get dashboard",
		})
	}

	return c.JSON(run)
}
