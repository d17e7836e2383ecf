package gorm

import (
	"fmt"
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// NewGormLogger returns a gorm logger writing through the tide logger.
// Unknown or empty levels are silent.
func NewGormLogger(level string) gormlogger.Interface {
	var gormLevel gormlogger.LogLevel
	switch strings.ToUpper(level) {
	case "ERROR":
		gormLevel = gormlogger.Error
	case "WARN":
		gormLevel = gormlogger.Warn
	case "INFO", "DEBUG":
		gormLevel = gormlogger.Info
	default:
		gormLevel = gormlogger.Silent
	}

	return gormlogger.New(
		&GormWriter{},
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter implements gormlogger.Writer. Statement traces go to DEBUG,
// everything else (slow queries, errors) to WARN.
type GormWriter struct{}

// Printf implements gormlogger.Writer.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if isStatementTrace(msg) {
		logger.Debugf("[GORM] %s", msg)
		return
	}
	logger.Warnf("[GORM] %s", msg)
}

func isStatementTrace(msg string) bool {
	if strings.Contains(msg, "SLOW SQL") || strings.Contains(msg, "Error") {
		return false
	}
	for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.Contains(msg, verb) {
			return true
		}
	}
	return false
}
