package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the controller's field conventions:
// component, operation, load_balancer_id, amphora_id, <entity>_id, flow and run_id.
type Logger struct {
	zlog zerolog.Logger
}

type loggerContextKey struct{}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	writer, err := logWriter(cfg.Output)
	if err != nil {
		return nil, err
	}

	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	case "unixmicro":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	default:
		zerolog.TimeFieldFormat = time.RFC3339
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}

	zctx := zerolog.New(writer).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	zlog := zctx.Logger().Level(parseLogLevel(cfg.Level))

	if cfg.EnableSampling {
		zlog = zlog.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}

	return &Logger{zlog: zlog}, nil
}

// logWriter resolves stdout, stderr or a file path to append to.
func logWriter(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fn(l.zlog.With()).Logger()}
}

// NewComponentLogger creates a child logger for a specific component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

// WithContext adds the logger to the context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext returns the logger stored in ctx, or a stdout logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: zerolog.New(os.Stdout).With().Timestamp().Logger()}
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

// WithField returns a logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithEntity adds a "<kind>_id" field, e.g. pool_id or l7rule_id.
// Spaces in kind become underscores.
func (l *Logger) WithEntity(kind, id string) *Logger {
	key := []byte(kind)
	for i, b := range key {
		if b == ' ' {
			key[i] = '_'
		}
	}
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str(string(key)+"_id", id) })
}

// WithLoadBalancerID adds a load_balancer_id field.
func (l *Logger) WithLoadBalancerID(id string) *Logger {
	return l.WithEntity("load_balancer", id)
}

// WithAmphoraID adds an amphora_id field.
func (l *Logger) WithAmphoraID(id string) *Logger {
	return l.WithEntity("amphora", id)
}

// WithFlow adds the flow name and engine run ID.
func (l *Logger) WithFlow(flow, runID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		c = c.Str("flow", flow)
		if runID != "" {
			c = c.Str("run_id", runID)
		}
		return c
	})
}

// WithOperation adds an operation field.
func (l *Logger) WithOperation(operation string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("operation", operation) })
}

// WithError adds the error field.
func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

// Zerolog returns the underlying zerolog logger for components that take
// one directly.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

func (l *Logger) Trace(msg string) { l.zlog.Trace().Msg(msg) }
func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{}) { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{}) { l.zlog.Warn().Msgf(format, args...) }

// SetGlobalLevel changes the minimum level of every logger in the process.
// It is used when the configuration is reloaded.
func SetGlobalLevel(level string) {
	zerolog.SetGlobalLevel(parseLogLevel(level))
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
