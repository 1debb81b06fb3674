package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogAdapter routes whatsmeow's internal logging through the process-wide
// slog default logger.
type slogAdapter struct {
	sessionID string
	module    string
}

func newLogger(sessionID, module string) waLog.Logger {
	return &slogAdapter{sessionID: sessionID, module: module}
}

func (l *slogAdapter) log(level slog.Level, msg string, args ...interface{}) {
	slog.Default().Log(context.Background(), level, fmt.Sprintf(msg, args...),
		"session_id", l.sessionID,
		"module", l.module,
	)
}

func (l *slogAdapter) Errorf(msg string, args ...interface{}) { l.log(slog.LevelError, msg, args...) }
func (l *slogAdapter) Warnf(msg string, args ...interface{})  { l.log(slog.LevelWarn, msg, args...) }
func (l *slogAdapter) Infof(msg string, args ...interface{})  { l.log(slog.LevelInfo, msg, args...) }
func (l *slogAdapter) Debugf(msg string, args ...interface{}) { l.log(slog.LevelDebug, msg, args...) }

func (l *slogAdapter) Sub(module string) waLog.Logger {
	return &slogAdapter{sessionID: l.sessionID, module: l.module + "/" + module}
}
