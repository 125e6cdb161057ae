package logging

import (
	"io"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Config controls the process-wide logger.
type Config struct {
	Level  string // debug, info, warn, error
	JSON   bool
	Output io.Writer
}

var base = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
	ReportTimestamp: true,
	TimeFormat:      time.DateTime,
	Level:           charmlog.InfoLevel,
})

// Init replaces the default logger. Safe to skip; the default writes
// text at info level to stderr.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	lg := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           parseLevel(cfg.Level),
	})
	if cfg.JSON {
		lg.SetFormatter(charmlog.JSONFormatter)
	}
	base = lg
}

func parseLevel(s string) charmlog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// For returns a logger tagged with the component name.
func For(component string) *charmlog.Logger {
	return base.With("component", component)
}

// LogRequest logs an outgoing request to the feature service.
func LogRequest(component, method, url string, params map[string]interface{}) {
	kv := []interface{}{"method", method, "url", url}
	for k, v := range params {
		kv = append(kv, k, v)
	}
	For(component).Debug("request", kv...)
}

// LogResponse logs a response received from the feature service.
func LogResponse(component string, statusCode int, duration time.Duration, resultCount int) {
	For(component).Info("response",
		"status", statusCode, "duration_ms", duration.Milliseconds(), "results", resultCount)
}

// LogError logs an error from an operation.
func LogError(component, operation string, err error) {
	For(component).Error(operation+" failed", "err", err)
}

// LogTransform logs how many records survived a transformation step.
func LogTransform(component string, inputCount, outputCount int, duration time.Duration) {
	For(component).Info("transformed",
		"in", inputCount, "out", outputCount, "duration_ms", duration.Milliseconds())
}

// LogUpsert logs a database write.
func LogUpsert(component string, count int64, duration time.Duration) {
	For(component).Info("upserted",
		"rows", count, "duration_ms", duration.Milliseconds())
}
