package errors

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/lenahartl/fieldsync/internal/metrics"
)

// Middleware returns an Echo middleware that converts structured errors
// returned by handlers into JSON responses, logs them with request context,
// and records an error metric.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			// Echo's own HTTPErrors (404s, method not allowed) pass through
			// so the framework formats them.
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			structured := AsStructured(err)
			metrics.APIErrorsTotal.WithLabelValues(string(structured.Type)).Inc()
			logError(c, structured)

			if err := c.JSON(structured.HTTPStatus(), structured.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func logError(c echo.Context, err *Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}
	if err.Cause != nil {
		attrs = append(attrs, "cause", err.Cause.Error())
	}

	ctx := c.Request().Context()
	if err.Type == TypeValidation || err.Type == TypeNotFound {
		slog.WarnContext(ctx, "Request failed", attrs...)
		return
	}
	slog.ErrorContext(ctx, "Request failed", attrs...)
}
