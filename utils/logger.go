package utils

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CustomLogger is a logger type that embeds zap.Logger to provide logging functionalities with additional features.
type CustomLogger struct {
	zap.Logger // Embedding Logger (composition)
}

// defaultLogger is a pre-configured development logger using the zap library for structured logging.
var defaultLogger, _ = zap.NewDevelopment()

// Logger shared logger for the whole program.
// Packages keep a pointer to it (see Log) so that a later InitLogger call is observed everywhere.
var Logger = CustomLogger{*defaultLogger}

const (
	// LogTrace we need a more detailed log level to make DEBUG logs not so verbose.
	// DEBUG logs work on the level of whole files, and TRACE logs print every external command output.
	LogTrace zapcore.Level = -3
)

// LogOptions selects the output mode of the shared logger.
type LogOptions struct {
	// JSON production JSON-formatted logs
	JSON bool
	// Dev development formatting with time stamps and source files
	Dev bool
	// Verbose DEBUG level
	Verbose bool
	// Trace TRACE level, implies Verbose
	Trace bool
}

// Log returns the shared logger.
func Log() *CustomLogger {
	return &Logger
}

// Trace logs a message at trace level with optional structured fields.
func (l *CustomLogger) Trace(msg string, fields ...zap.Field) {
	l.Log(LogTrace, msg, fields...)
}

// init Clean the logger at the end
func init() {
	setupShutdownHook()
}

// setupShutdownHook ensures that the logger's buffer is flushed and resources are cleaned up
// before the application exits.
func setupShutdownHook() {
	defer func(logger *CustomLogger) {
		err := logger.Sync()
		if err != nil {
			// instead of fatal, we just log the error and continue
			log.Println("Expected error in unit tests while syncing the logger: ", err)
		}
	}(&Logger) // Flushes buffer, if any
}

// levelFor returns the minimal enabled level for the given options.
func levelFor(opts LogOptions) zap.AtomicLevel {
	switch {
	case opts.Trace:
		return zap.NewAtomicLevelAt(LogTrace)
	case opts.Verbose:
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}

// InitLogger initializes the global logger with given options for JSON formatting, development mode, and verbosity.
func InitLogger(opts LogOptions) {
	switch {
	case opts.JSON:
		config := zap.NewProductionConfig()
		config.Level = levelFor(opts)
		config.EncoderConfig.EncodeLevel = TraceLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.EpochTimeEncoder
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}
		defaultLogger, _ = config.Build()
	case opts.Dev:
		config := zap.NewDevelopmentConfig()
		config.Level = levelFor(opts)
		config.EncoderConfig.EncodeLevel = TraceLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		defaultLogger, _ = config.Build()
	default:
		// Disable timestamps by setting log flags to 0.
		// We use this logger for console error output.
		log.SetFlags(0)

		// constructs console-friendly output, not meant for development
		encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey:     "message",                     // Set the key for the log message
			LevelKey:       "level",                       // Leave blank to omit the log level
			TimeKey:        "",                            // Leave blank to omit the timestamp
			CallerKey:      "caller",                      // Key for caller information (optional)
			EncodeLevel:    IconLevelEncoder,              // instead of zapcore.CapitalLevelEncoder
			EncodeCaller:   zapcore.ShortCallerEncoder,    // Optional: Include short caller info
			EncodeDuration: zapcore.StringDurationEncoder, // Format for durations
		})

		core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), levelFor(opts))
		defaultLogger = zap.New(core, zap.WithCaller(false), zap.AddStacktrace(zapcore.FatalLevel))
	}
	Logger = CustomLogger{*defaultLogger}
	setupShutdownHook()
}

// IconLevelEncoder serializes a Level to an icon - only for more important levels.
func IconLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.ErrorLevel, zapcore.FatalLevel:
		enc.AppendString("❌")
	case zapcore.WarnLevel:
		enc.AppendString("⚠️")
	case zapcore.InfoLevel:
		enc.AppendString("ℹ️")
	case LogTrace:
		enc.AppendString("TRACE")
	}
}

// TraceLevelEncoder adds TRACE level serialization, otherwise it prints LEVEL(-3)
func TraceLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == LogTrace {
		enc.AppendString("TRACE")
	} else {
		enc.AppendString(l.CapitalString())
	}
}
