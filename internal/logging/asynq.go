package logging

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// AsynqLogger forwards asynq's internal logs to zerolog.
type AsynqLogger struct {
	log *zerolog.Logger
}

func NewAsynqLogger(base *zerolog.Logger) *AsynqLogger {
	return &AsynqLogger{log: Component(base, "asynq")}
}

func (l *AsynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l *AsynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l *AsynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l *AsynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l *AsynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }

// AsynqLevel maps the zerolog level onto asynq's log level.
func AsynqLevel(level zerolog.Level) asynq.LogLevel {
	switch {
	case level <= zerolog.DebugLevel:
		return asynq.DebugLevel
	case level == zerolog.WarnLevel:
		return asynq.WarnLevel
	case level >= zerolog.ErrorLevel:
		return asynq.ErrorLevel
	}
	return asynq.InfoLevel
}
