package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// InstrumentationName names the otelslog bridge scope.
const InstrumentationName = "vpr-collector"

// Options configures SlogManager.Setup.
type Options struct {
	// Console receives human-readable output. Nil means os.Stdout unless a
	// File is given, in which case the console stays quiet.
	Console io.Writer
	File    io.Writer
	Level   string
	// Provider enables the OTel bridge when non-nil.
	Provider *sdklog.LoggerProvider
	// Context is evaluated for every record, see ContextHandler.
	Context ContextProvider
}

// SlogManager owns the process logger and its level.
type SlogManager struct {
	logger      *slog.Logger
	level       slog.LevelVar
	logProvider *sdklog.LoggerProvider
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func rfc3339UTC(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
		}
	}
	return a
}

// Setup builds the handler chain. It may be called again to replace it.
func (m *SlogManager) Setup(opts Options) {
	m.level.Set(parseLevel(opts.Level))
	m.logProvider = opts.Provider

	handlerOpts := &slog.HandlerOptions{
		Level:       &m.level,
		ReplaceAttr: rfc3339UTC,
	}

	var handlers []slog.Handler
	console := opts.Console
	if console == nil && opts.File == nil {
		console = os.Stdout
	}
	if console != nil {
		handlers = append(handlers, slog.NewTextHandler(console, handlerOpts))
	}
	if opts.File != nil {
		handlers = append(handlers, slog.NewJSONHandler(opts.File, handlerOpts))
	}
	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler(InstrumentationName, otelslog.WithLoggerProvider(opts.Provider)))
	}

	var h slog.Handler = NewMultiHandler(handlers...)
	if opts.Context != nil {
		h = NewContextHandler(h, opts.Context)
	}
	m.logger = slog.New(h)
	m.logger.Debug("Logging initialized", "level", m.level.Level().String())
}

// SetLevel changes the level of every handler built by Setup.
func (m *SlogManager) SetLevel(level string) {
	m.level.Set(parseLevel(level))
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
