// Package logging holds the process-global zap logger used by the regtest
// controllers and the regtestctl command.
package logging

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLogLevel overrides the level configured through SetLevel when set.
const EnvLogLevel = "LOG_LEVEL"

var (
	logger  *zap.Logger
	sugared *zap.SugaredLogger
	level   = zap.NewAtomicLevelAt(zapcore.WarnLevel)
)

func init() {
	DevelopmentMode()
	_ = ApplyEnv()
}

// SetLevel adjusts the level of the loggers.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// Level returns the current level of the loggers.
func Level() zapcore.Level {
	return level.Level()
}

// ApplyEnv applies the LOG_LEVEL environment variable, if present. It
// returns an error for unparseable levels and leaves the level untouched.
func ApplyEnv() error {
	v := os.Getenv(EnvLogLevel)
	if v == "" {
		return nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return err
	}
	SetLevel(l)
	return nil
}

// ConsoleMode switches logging output to TTY mode, with timestamps relative
// to the moment of the switch.
func ConsoleMode() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	cfg.DisableCaller = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func() zapcore.TimeEncoder {
		// close over the start time to protect it.
		start := time.Now()
		return func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			elapsed := t.Sub(start)
			enc.AppendString(strconv.FormatFloat(elapsed.Seconds(), 'f', 5, 64) + "s")
		}
	}()
	build(cfg)
}

// DevelopmentMode switches logging output to development mode.
func DevelopmentMode() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	build(cfg)
}

func build(cfg zap.Config) {
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	logger = l
	sugared = l.Sugar()
}

// L returns the global raw logger.
func L() *zap.Logger {
	return logger
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return sugared
}
