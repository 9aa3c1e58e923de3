package handlers

import (
	"embed"
	"html/template"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/insightsboard/backend/internal/dashboard"
	"github.com/insightsboard/backend/internal/insights"
	"github.com/insightsboard/backend/pkg/logger"
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type PageHandler struct {
	service        *dashboard.Service
	defaultVisuals int
}

func NewPageHandler(service *dashboard.Service, defaultVisuals int) *PageHandler {
	return &PageHandler{
		service:        service,
		defaultVisuals: defaultVisuals,
	}
}

type pageChart struct {
	Src   template.URL
	Kind  string
	Title string
	X     string
	Y     string
}

type pageResult struct {
	Source   string
	Rows     int
	Insights string
	Cached   bool
	Charts   []pageChart
}

type pageData struct {
	Form       dashboardForm
	MinVisuals int
	MaxVisuals int
	Info       string
	Error      string
	Result     *pageResult
}

func (h *PageHandler) newPage() pageData {
	return pageData{
		Form:       dashboardForm{NumVisuals: h.defaultVisuals, Source: dashboard.SourceUpload},
		MinVisuals: insights.MinVisuals,
		MaxVisuals: insights.MaxVisuals,
		Info:       dashboard.NoDataMessage,
	}
}

func (h *PageHandler) render(c *fiber.Ctx, status int, data pageData) error {
	c.Status(status)
	c.Type("html", "utf-8")
	return pageTemplate.Execute(c, data)
}

func (h *PageHandler) Index(c *fiber.Ctx) error {
	return h.render(c, fiber.StatusOK, h.newPage())
}

// ValidationError renders a rejected form submission inline. It matches
// validation.ErrorHandler.
func (h *PageHandler) ValidationError(c *fiber.Ctx, status int, message string) error {
	data := h.newPage()
	var form dashboardForm
	if err := c.BodyParser(&form); err == nil {
		if form.NumVisuals < insights.MinVisuals || form.NumVisuals > insights.MaxVisuals {
			form.NumVisuals = h.defaultVisuals
		}
		if form.Source == "" {
			form.Source = dashboard.SourceUpload
		}
		data.Form = form
	}
	data.Info = ""
	data.Error = message
	return h.render(c, status, data)
}

// Submit handles the HTML form. Failures are rendered inline on the page
// rather than returned as JSON.
func (h *PageHandler) Submit(c *fiber.Ctx) error {
	data := h.newPage()

	form, req, err := parseDashboardForm(c)
	if err != nil {
		logger.Error("Failed to parse form", zap.Error(err))
		data.Error = "Invalid form submission"
		return h.render(c, fiber.StatusBadRequest, data)
	}
	if form.NumVisuals == 0 {
		form.NumVisuals = h.defaultVisuals
	}
	if form.Source == "" {
		form.Source = dashboard.SourceUpload
	}
	data.Form = form

	result, err := h.service.Generate(c.UserContext(), req)
	if err != nil {
		status, msg := errorStatus(err)
		if status == fiber.StatusBadRequest && msg == dashboard.NoDataMessage {
			return h.render(c, fiber.StatusOK, data)
		}
		logger.Warn("Dashboard form failed", zap.Int("status", status), zap.Error(err))
		data.Info = ""
		data.Error = msg
		return h.render(c, status, data)
	}

	data.Info = ""
	data.Result = &pageResult{
		Source:   result.Source,
		Rows:     result.Rows,
		Insights: result.Insights,
		Cached:   result.Cached,
	}
	for _, ch := range result.Charts {
		data.Result.Charts = append(data.Result.Charts, pageChart{
			Src:   template.URL(ch.DataURI()),
			Kind:  string(ch.Kind),
			Title: ch.Title,
			X:     ch.X,
			Y:     ch.Y,
		})
	}

	return h.render(c, fiber.StatusOK, data)
}
