package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InfoLogger: операционный лог, FatalLogger, то же, но для фатальных ошибок,
// TradeLogger: журнал сделок, одна JSON-строка на исполнение.
var InfoLogger, FatalLogger, TradeLogger = zap.NewNop(), zap.NewNop(), zap.NewNop()

var (
	serviceName = "default"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

type Config struct {
	Level        string // debug|info|warn|error
	File         string // пусто, только консоль
	TradeLogFile string
}

// Init собирает логгеры. Возвращает функцию для Sync при остановке.
func Init(cfg Config) (func(), error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level),
	}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
	}
	InfoLogger = zap.New(zapcore.NewTee(cores...))
	FatalLogger = InfoLogger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))

	if cfg.TradeLogFile != "" {
		f, err := os.OpenFile(cfg.TradeLogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trade log: %w", err)
		}
		TradeLogger = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.InfoLevel))
	}

	return func() {
		_ = InfoLogger.Sync()
		_ = TradeLogger.Sync()
	}, nil
}

func Debug(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	InfoLogger.With(
		zap.String("service", serviceName),
	).Debug(msg)
}

func Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	InfoLogger.With(
		zap.String("service", serviceName),
	).Info(msg)
}

func Warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	InfoLogger.With(
		zap.String("service", serviceName),
	).Warn(msg)
}

func Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	InfoLogger.With(
		zap.String("service", serviceName),
	).Error(msg)
}

func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	FatalLogger.With(
		zap.String("service", serviceName),
	).Fatal(msg)
}

// Trade пишет одну строку журнала сделок.
func Trade(action, symbol string, price, qty float64, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("action", action),
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Float64("qty", qty),
	}
	TradeLogger.Info("fill", append(base, fields...)...)
}
