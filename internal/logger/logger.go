// Package logger 提供全局的 zap sugared logger。
package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log = zap.NewNop().Sugar()

// Option for init logger option
type (
	Option struct {
		Writers []io.Writer
	}

	// OptionFunc func
	OptionFunc func(*Option)
)

// WithWriter 覆盖默认的 stdout 输出。
func WithWriter(w ...io.Writer) OptionFunc {
	return func(o *Option) {
		o.Writers = w
	}
}

// Init 初始化全局 logger, level 取值 debug/info/warn/error。
func Init(level string, opts ...OptionFunc) {
	opt := Option{Writers: []io.Writer{os.Stdout}}
	for _, o := range opts {
		o(&opt)
	}

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		MessageKey:   "message",
		LevelKey:     "level",
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		TimeKey:      "time",
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		CallerKey:    "caller",
		EncodeCaller: zapcore.ShortCallerEncoder,
	})

	lvl := parseLevel(level)
	cores := make([]zapcore.Core, 0, len(opt.Writers))
	for _, w := range opt.Writers {
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(w), lvl))
	}

	log = zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar()
}

// L 返回全局 logger。未调用 Init 时为 no-op logger。
func L() *zap.SugaredLogger {
	return log
}

// Sync flushes buffered entries.
func Sync() {
	_ = log.Sync()
}

func parseLevel(level string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
