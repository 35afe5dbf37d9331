package kafka

import (
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// zerologAdapter bridges franz-go client logs into the service logger.
type zerologAdapter struct {
	log   zerolog.Logger
	level kgo.LogLevel
}

// NewLogger returns a kgo.Logger writing through zl. A nil logger drops everything.
func NewLogger(zl *zerolog.Logger) kgo.Logger {
	if zl == nil {
		return &zerologAdapter{log: zerolog.Nop(), level: kgo.LogLevelNone}
	}
	return &zerologAdapter{
		log:   zl.With().Str("component", "kafka").Logger(),
		level: levelFromZerolog(zl.GetLevel()),
	}
}

func (a *zerologAdapter) Level() kgo.LogLevel { return a.level }

func (a *zerologAdapter) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	var event *zerolog.Event
	switch level {
	case kgo.LogLevelError:
		event = a.log.Error()
	case kgo.LogLevelWarn:
		event = a.log.Warn()
	case kgo.LogLevelInfo:
		event = a.log.Info()
	case kgo.LogLevelDebug:
		event = a.log.Debug()
	default:
		return
	}
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, keyvals[i+1])
	}
	event.Msg(msg)
}

func levelFromZerolog(level zerolog.Level) kgo.LogLevel {
	switch {
	case level <= zerolog.DebugLevel:
		return kgo.LogLevelDebug
	case level == zerolog.InfoLevel:
		// client info logs are per-connection chatter; keep them out of the default stream
		return kgo.LogLevelWarn
	case level == zerolog.WarnLevel:
		return kgo.LogLevelWarn
	case level == zerolog.ErrorLevel:
		return kgo.LogLevelError
	default:
		return kgo.LogLevelNone
	}
}
