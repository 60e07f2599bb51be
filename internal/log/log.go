// Package log builds the zap logger used across fitload.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	flagLevel       = "log.level"
	flagFormat      = "log.format"
	flagOutputPaths = "log.output-paths"

	consoleFormat = "console"
	jsonFormat    = "json"
)

// Options configures the logger.
type Options struct {
	Level       string   `json:"level" yaml:"level"`
	Format      string   `json:"format" yaml:"format"`
	OutputPaths []string `json:"outputPaths,omitempty" yaml:"outputPaths,omitempty"`
}

// NewOptions returns the defaults: info level, console format, stderr.
// Stdout is left to the live console output.
func NewOptions() *Options {
	return &Options{
		Level:       zapcore.InfoLevel.String(),
		Format:      consoleFormat,
		OutputPaths: []string{"stderr"},
	}
}

// Validate checks the level and format.
func (o *Options) Validate() []error {
	var errs []error
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(o.Level)); err != nil {
		errs = append(errs, err)
	}

	format := strings.ToLower(o.Format)
	if format != consoleFormat && format != jsonFormat {
		errs = append(errs, fmt.Errorf("not a valid log format: %q", o.Format))
	}
	return errs
}

// AddFlags binds the options to a flag set.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Level, flagLevel, o.Level, "Minimum log output `LEVEL` (debug, info, warn, error).")
	fs.StringVar(&o.Format, flagFormat, o.Format, "Log output `FORMAT`, console or json.")
	fs.StringSliceVar(&o.OutputPaths, flagOutputPaths, o.OutputPaths, "Output paths of log (stdout, stderr or file paths).")
}

// New builds a logger from the options.
func New(opts *Options) (*zap.Logger, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: milliSecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var lvl zapcore.Level
	_ = lvl.UnmarshalText([]byte(opts.Level))

	var encoder zapcore.Encoder
	if strings.ToLower(opts.Format) == jsonFormat {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	paths := opts.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stderr"}
	}
	writers := make([]zapcore.WriteSyncer, 0, len(paths))
	for _, path := range paths {
		switch path {
		case "stdout":
			writers = append(writers, zapcore.AddSync(os.Stdout))
		case "stderr":
			writers = append(writers, zapcore.AddSync(os.Stderr))
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file: %w", err)
			}
			writers = append(writers, zapcore.AddSync(f))
		}
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), lvl)
	return zap.New(core, zap.AddCaller()), nil
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

func milliSecondsDurationEncoder(d time.Duration, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendFloat64(float64(d) / float64(time.Millisecond))
}
