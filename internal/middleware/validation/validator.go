package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/insightsboard/backend/internal/dataset"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

// ErrorHandler writes a rejected submission's response.
type ErrorHandler func(c *fiber.Ctx, status int, message string) error

type Config struct {
	MinVisuals          int
	MaxVisuals          int
	MaxTextLength       int
	AllowedContentTypes []string
	// CheckDatabaseURL rejects unrecognised database URL schemes up front.
	// Leave it off where load failures are reported to the user instead.
	CheckDatabaseURL    bool
	ErrorHandler        ErrorHandler
	Logger              *zap.Logger
}

func jsonError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// Middleware checks dashboard submissions before they reach the handler:
// content type, the visual count range, optionally the database URL scheme,
// and the size of the free-text fields. Absent fields are left to the
// handler's defaults. Customizations are free text and only length-checked.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MinVisuals == 0 {
		cfg.MinVisuals = 1
	}
	if cfg.MaxVisuals == 0 {
		cfg.MaxVisuals = 10
	}
	if cfg.MaxTextLength == 0 {
		cfg.MaxTextLength = 5000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data", "application/x-www-form-urlencoded"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = jsonError
	}
	reject := cfg.ErrorHandler

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" {
			allowed := false
			for _, allowedType := range cfg.AllowedContentTypes {
				if strings.Contains(contentType, allowedType) {
					allowed = true
					break
				}
			}
			if !allowed {
				return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
			}
		}

		lookup := c.FormValue
		if strings.Contains(contentType, "application/json") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
			}
			lookup = func(key string, _ ...string) string { return stringField(req, key) }
		}

		if raw := strings.TrimSpace(lookup("num_visuals")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < cfg.MinVisuals || n > cfg.MaxVisuals {
				return reject(c, fiber.StatusBadRequest,
					fmt.Sprintf("num_visuals must be an integer between %d and %d", cfg.MinVisuals, cfg.MaxVisuals))
			}
		}

		if raw := strings.TrimSpace(lookup("database_url")); cfg.CheckDatabaseURL && raw != "" {
			if _, err := dataset.ParseDatabaseURL(raw); err != nil {
				return reject(c, fiber.StatusBadRequest, "Unsupported database URL")
			}
		}

		for _, field := range []string{"customizations", "table"} {
			if len(lookup(field)) > cfg.MaxTextLength {
				return reject(c, fiber.StatusBadRequest, fmt.Sprintf("%s exceeds maximum length", field))
			}
		}

		if containsXSS(lookup("table")) {
			cfg.Logger.Warn("Potential XSS attempt",
				zap.String("ip", c.IP()),
				zap.String("field", "table"),
			)
			return reject(c, fiber.StatusBadRequest, "Invalid table content")
		}

		return c.Next()
	}
}

// stringField reads a JSON value as text; numbers are accepted for counts.
func stringField(req map[string]interface{}, key string) string {
	switch v := req[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

// Sanitize trims surrounding whitespace and drops NUL bytes.
func Sanitize(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
