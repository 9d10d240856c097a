package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/relay/internal/platform/correlation"
	apperrors "github.com/pscheid92/relay/internal/platform/errors"
)

// correlationMiddleware keeps a valid incoming X-Request-ID or assigns a new one,
// stores it on the request context and echoes it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromRequest(c.Request())
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			return HandleError(c, err)
		}
	}
}

// handleHTTPError renders errors that reach echo directly, such as unknown routes.
func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		err = WrapHTTPError(httpErr)
	}
	if writeErr := HandleError(c, err); writeErr != nil {
		slog.ErrorContext(c.Request().Context(), "Failed to write error response", "error", writeErr)
	}
}

func logError(c echo.Context, err *apperrors.Error) {
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

	ctx := c.Request().Context()
	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeForbidden, apperrors.TypeRateLimited, apperrors.TypeUnavailable:
		slog.WarnContext(ctx, "Request refused", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structuredErr := apperrors.AsStructuredError(err)
	logError(c, structuredErr)

	if c.Request().Method == http.MethodHead {
		if err := c.NoContent(structuredErr.HTTPStatus()); err != nil {
			return fmt.Errorf("failed to write error response: %w", err)
		}
		return nil
	}
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := ""
	if msg, ok := httpErr.Message.(string); ok {
		message = msg
	}

	err := apperrors.FromStatus(httpErr.Code, message)
	if httpErr.Internal != nil {
		err.Cause = httpErr.Internal
	}
	return err
}
