// Package metrics объявляет счётчики Prometheus движка боксов.
// Метрики регистрируются в реестре по умолчанию и отдаются на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BoxesPurchased: купленные боксы по тиру и выпавшей редкости.
	BoxesPurchased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysterybox_boxes_purchased_total",
			Help: "Number of purchased boxes",
		},
		[]string{"tier", "rarity"},
	)

	// BoxesOpened: открытые боксы по редкости и типу награды.
	BoxesOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysterybox_boxes_opened_total",
			Help: "Number of opened boxes",
		},
		[]string{"rarity", "reward_type"},
	)

	// BoxesExpired: боксы, у которых истёк срок хранения.
	BoxesExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysterybox_boxes_expired_total",
			Help: "Number of expired boxes",
		},
		[]string{"source"}, // sweep | open
	)

	// OperationErrors: отказы операций по виду ошибки.
	OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysterybox_operation_errors_total",
			Help: "Rejected operations by kind",
		},
		[]string{"operation", "kind"},
	)

	// TxRetries: повторы транзакций после конфликтов PostgreSQL.
	TxRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysterybox_tx_retries_total",
			Help: "Transaction retries by SQLSTATE",
		},
		[]string{"sqlstate"},
	)

	// TxConflicts: транзакции, которые так и не удалось провести.
	TxConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mysterybox_tx_conflicts_total",
			Help: "Transactions that exhausted their retries",
		},
	)

	// LedgerReconciled: участники, у которых кэш баланса был исправлен.
	LedgerReconciled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mysterybox_ledger_reconciled_total",
			Help: "Members whose cached balance was corrected",
		},
	)

	// HTTPRequests: запросы HTTP API.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysterybox_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration: время ответа HTTP API.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mysterybox_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "path"},
	)

	// BotUpdates: апдейты Telegram по типу и итогу обработки.
	BotUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysterybox_bot_updates_total",
			Help: "Telegram updates by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// BotPanics: паники в обработчиках апдейтов.
	BotPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysterybox_bot_panics_total",
			Help: "Recovered panics in update handlers",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		BoxesPurchased,
		BoxesOpened,
		BoxesExpired,
		OperationErrors,
		TxRetries,
		TxConflicts,
		LedgerReconciled,
		HTTPRequests,
		HTTPDuration,
		BotUpdates,
		BotPanics,
	)
}

// ObserveError учитывает отказ операции, если ошибка имеет вид.
func ObserveError(operation, kind string) {
	if kind == "" {
		kind = "internal"
	}
	OperationErrors.WithLabelValues(operation, kind).Inc()
}
