package logger

import (
	"net/http"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const fallbackService = "amocrm-adapter"

var (
	mu    sync.RWMutex
	base  *zap.Logger
	sugar *zap.SugaredLogger

	// level is shared by every logger Init builds so it can be changed at runtime.
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init builds the process logger. env "dev" selects the colored console
// encoder; "uat", "prod" and anything else get JSON. An unparsable level
// leaves the current one in place.
func Init(service, env, lvl string) {
	l, err := newConfig(service, env).Build(zap.AddCaller())
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	_ = SetLevel(lvl)

	mu.Lock()
	base = l
	sugar = l.Sugar()
	mu.Unlock()

	l.Info("logger initialized", zap.String("level", level.String()))
}

func newConfig(service, env string) zap.Config {
	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = level
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.InitialFields = map[string]any{"service": service, "env": env}
	return cfg
}

// SetLevel changes the level of every logger built by Init.
func SetLevel(lvl string) error {
	parsed, err := zapcore.ParseLevel(lvl)
	if err != nil {
		return err
	}
	level.SetLevel(parsed)
	return nil
}

// Level returns the current level name.
func Level() string { return level.String() }

// LevelHandler serves GET and PUT of the level as {"level":"debug"}.
func LevelHandler() http.Handler { return level }

// L returns the base structured logger. Components take it as a constructor
// argument rather than calling L() themselves.
func L() *zap.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l == nil {
		Init(fallbackService, "dev", Level())
		return L()
	}
	return l
}

// S returns the sugared logger, used by main for startup messages.
func S() *zap.SugaredLogger {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s == nil {
		return L().Sugar()
	}
	return s
}

// Sync flushes buffered entries; defer it in main.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
