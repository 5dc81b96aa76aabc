package logger

import (
	"context"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type contextKey string

const loggerKey = "logger"

const ctxLoggerKey contextKey = "logger"

// FromContext retrieves the request logger from the Echo context
func FromContext(c echo.Context) *zap.Logger {
	if logger, ok := c.Get(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return GetLogger()
}

// FromCtx retrieves the logger from a standard context
func FromCtx(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return GetLogger()
	}
	logger, ok := ctx.Value(ctxLoggerKey).(*zap.Logger)
	if !ok {
		return GetLogger()
	}
	return logger
}

// WithContext adds the logger to the context
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey, logger)
}
