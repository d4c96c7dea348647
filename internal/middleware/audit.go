package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"licenseops/internal/common"
	"licenseops/internal/models"

	"github.com/labstack/echo/v4"
)

type EventLogger interface {
	LogEvent(ctx context.Context, event models.SystemEvent)
}

// AuditMiddleware records mutating admin calls as system events
type AuditMiddleware struct {
	events EventLogger
}

func NewAuditMiddleware(events EventLogger) *AuditMiddleware {
	return &AuditMiddleware{events: events}
}

// AuditAdminActions logs every non-GET request after it completes, including
// failed ones.
func (m *AuditMiddleware) AuditAdminActions() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			method := c.Request().Method
			if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
				return err
			}

			ctx := c.Request().Context()
			actor, _ := common.GetActorFromContext(ctx)

			details := models.JSONB{
				"method":     method,
				"path":       c.Path(),
				"status":     m.status(c, err),
				"ip":         c.RealIP(),
				"user_agent": c.Request().UserAgent(),
				"headers":    m.sanitizeHeaders(c.Request().Header),
			}
			if job := c.Param("name"); job != "" {
				details["job"] = job
			}
			if err != nil {
				details["error"] = err.Error()
			}

			m.events.LogEvent(ctx, models.SystemEvent{
				Type:     models.EventAdminAction,
				UserID:   actor,
				Severity: models.SeverityMedium,
				Details:  details,
			})
			return err
		}
	}
}

func (m *AuditMiddleware) status(c echo.Context, err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if err != nil {
		return http.StatusInternalServerError
	}
	return c.Response().Status
}

// sanitizeHeaders removes sensitive headers before logging
func (m *AuditMiddleware) sanitizeHeaders(headers map[string][]string) map[string]any {
	sanitized := make(map[string]any)
	for key, values := range headers {
		if m.isSensitiveHeader(key) {
			sanitized[key] = "[REDACTED]"
			continue
		}
		sanitized[key] = values
	}
	return sanitized
}

// isSensitiveHeader checks if a header contains sensitive information
func (m *AuditMiddleware) isSensitiveHeader(header string) bool {
	sensitiveHeaders := []string{
		"authorization",
		"cookie",
		"x-api-key",
		"x-auth-token",
		"proxy-authorization",
	}
	for _, sensitive := range sensitiveHeaders {
		if strings.ToLower(header) == sensitive {
			return true
		}
	}
	return false
}
