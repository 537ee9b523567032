package middleware

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/metrics"
)

// RecoverFromPanic гасит панику обработчика апдейта. Вызывать через defer.
func RecoverFromPanic(kind string) {
	if r := recover(); r != nil {
		metrics.BotPanics.WithLabelValues(kind).Inc()
		log.WithFields(log.Fields{
			"component": "panic_recovery",
			"update":    kind,
			"panic":     fmt.Sprintf("%v", r),
			"stack":     string(debug.Stack()),
		}).Error("ПАНИКА в обработчике — восстановлено")
	}
}
