package observability

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/session-service/internal/config"
)

// NewLogger creates a structured zap.Logger configured via env settings.
// Unknown levels fall back to info.
func NewLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(strings.TrimSpace(cfg.Level))); err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			LevelKey:      "level",
			TimeKey:       "ts",
			NameKey:       "logger",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeLevel:   zapcore.LowercaseLevelEncoder,
			EncodeTime:    zapcore.ISO8601TimeEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// UnmatchedRoute labels requests that reached no registered route.
const UnmatchedRoute = "unmatched"

type unmatchedKey struct{}

// MarkUnmatched flags the request as not routed, so it is labelled with
// UnmatchedRoute whatever middleware matched last.
func MarkUnmatched(c *fiber.Ctx) {
	c.Locals(unmatchedKey{}, true)
}

// RouteLabel returns the route template for metric labels. The result never
// aliases fiber's request buffers, which are reused once the handler returns.
func RouteLabel(c *fiber.Ctx) string {
	if unmatched, _ := c.Locals(unmatchedKey{}).(bool); unmatched {
		return UnmatchedRoute
	}
	r := c.Route()
	if r == nil || r.Path == "" || r.Path == "/" {
		return UnmatchedRoute
	}
	return utils.CopyString(r.Path)
}

// MethodLabel returns a copy of the request method safe to retain.
func MethodLabel(c *fiber.Ctx) string {
	return utils.CopyString(c.Method())
}

// RequestLogger logs every request once the response status is final and
// feeds the request metrics. Routes are labelled by their template so path
// parameters and scanners do not explode cardinality.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
				if fe.Code == fiber.StatusNotFound || fe.Code == fiber.StatusMethodNotAllowed {
					MarkUnmatched(c)
				}
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		method := MethodLabel(c)
		metrics.RecordRequest(RouteLabel(c), method, status, latency)
		logger.Info("http request",
			zap.String("method", method),
			zap.String("path", utils.CopyString(c.Path())),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.IP()),
		)
		return err
	}
}
