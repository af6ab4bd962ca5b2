package waclient

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// zeroLogger routes library logs into the global zerolog logger.
type zeroLogger struct {
	logger zerolog.Logger
}

var _ waLog.Logger = zeroLogger{}

// NewLogger returns a waLog.Logger tagged with module.
func NewLogger(module string) waLog.Logger {
	return zeroLogger{logger: log.With().Str("module", module).Logger()}
}

func (l zeroLogger) Warnf(msg string, args ...interface{}) {
	l.logger.Warn().Msg(fmt.Sprintf(msg, args...))
}

func (l zeroLogger) Errorf(msg string, args ...interface{}) {
	l.logger.Error().Msg(fmt.Sprintf(msg, args...))
}

func (l zeroLogger) Infof(msg string, args ...interface{}) {
	l.logger.Info().Msg(fmt.Sprintf(msg, args...))
}

func (l zeroLogger) Debugf(msg string, args ...interface{}) {
	l.logger.Debug().Msg(fmt.Sprintf(msg, args...))
}

func (l zeroLogger) Sub(module string) waLog.Logger {
	return zeroLogger{logger: l.logger.With().Str("submodule", module).Logger()}
}
