package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.RWMutex
	globalLogger *zap.Logger
)

// 控制台格式下各等级的颜色
var levelColor = map[zapcore.Level]string{
	zapcore.DebugLevel:  "\x1b[35m",
	zapcore.InfoLevel:   "\x1b[34m",
	zapcore.WarnLevel:   "\x1b[33m",
	zapcore.ErrorLevel:  "\x1b[31m",
	zapcore.DPanicLevel: "\x1b[31;1m",
	zapcore.PanicLevel:  "\x1b[31;1m",
	zapcore.FatalLevel:  "\x1b[31;1m",
}

// colorLevelEncoder 等级固定 5 字符宽度并着色
func colorLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	s := fmt.Sprintf("%-5s", level.CapitalString())
	if c, ok := levelColor[level]; ok {
		s = c + s + "\x1b[0m"
	}
	enc.AppendString(s)
}

func callerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("%-24s", caller.TrimmedPath()))
}

// Init 初始化全局日志器，输出到 stderr
// level: debug, info, warn, error
// format: console, json
func Init(level, format string) error {
	return InitWithOutput(level, format, zapcore.Lock(os.Stderr))
}

// InitWithOutput 同 Init，可指定输出
func InitWithOutput(level, format string, out zapcore.WriteSyncer) error {
	l, err := build(level, format, out)
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger 替换全局日志器
func SetLogger(l *zap.Logger) {
	mu.Lock()
	globalLogger = l
	mu.Unlock()
}

func build(level, format string, out zapcore.WriteSyncer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("日志级别 %q 无效", level)
	}

	var enc zapcore.Encoder
	switch format {
	case "json":
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "time"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	case "console", "":
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = colorLevelEncoder
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("[2006-01-02 15:04:05.000]")
		cfg.EncodeCaller = callerEncoder
		cfg.ConsoleSeparator = " "
		enc = zapcore.NewConsoleEncoder(cfg)
	default:
		return nil, fmt.Errorf("日志格式 %q 无效", format)
	}

	core := zapcore.NewCore(enc, out, lvl)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Get 获取全局 Logger，未初始化时按 info/console 初始化
func Get() *zap.Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	if err := Init("info", "console"); err != nil {
		return zap.NewNop()
	}
	return Get()
}

// Sync 刷新日志缓冲，最多等 200ms
func Sync() {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_ = l.Sync()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
	}
}

// Error 用全局日志器记录错误
func Error(msg string, fields ...zap.Field) {
	Get().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

var (
	String   = zap.String
	Int      = zap.Int
	Bool     = zap.Bool
	Uint16   = zap.Uint16
	Stringer = zap.Stringer
	Err      = zap.Error
)

// Mac MAC 地址字段；零地址输出为空串
func Mac(key string, addr interface {
	fmt.Stringer
	IsZero() bool
}) zap.Field {
	if addr.IsZero() {
		return zap.String(key, "")
	}
	return zap.Stringer(key, addr)
}
