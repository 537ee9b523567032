// Package postgres: tx.go выполняет атомарные единицы работы.
// Каждая единица: одна транзакция PostgreSQL с ограниченным временем
// ожидания блокировок. Конфликты сериализации, дедлоки и таймауты
// блокировок повторяются целиком, с паузой и джиттером.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/config"
	"serotonyl.ru/mystery-box/internal/metrics"
)

// SQLSTATE, после которых транзакцию можно повторить.
const (
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
)

// RetryableCode возвращает SQLSTATE ошибки, если её можно повторить.
func RetryableCode(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	switch pgErr.Code {
	case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable:
		return pgErr.Code, true
	}
	return "", false
}

// RetryPolicy: сколько раз и с какой паузой повторять.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Retry вызывает fn, повторяя её после временных ошибок PostgreSQL.
// Когда попытки кончились, возвращает common.ErrTransientConflict
// с исходной ошибкой внутри. Прочие ошибки возвращаются как есть.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		code, ok := RetryableCode(err)
		if !ok {
			return err
		}
		if attempt >= p.MaxRetries {
			metrics.TxConflicts.Inc()
			log.WithError(err).WithField("attempts", attempt+1).Warn("Транзакция не прошла после повторов")
			return common.ErrTransientConflict.Wrap(err)
		}

		metrics.TxRetries.WithLabelValues(code).Inc()
		log.WithFields(log.Fields{
			"sqlstate": code,
			"attempt":  attempt + 1,
		}).Debug("Повтор транзакции")

		if err := sleep(ctx, backoff(p.Backoff, attempt)); err != nil {
			return err
		}
	}
}

// backoff: base * 2^attempt плюс случайная добавка до base.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << min(attempt, 6)
	return d + time.Duration(rand.Int64N(int64(base)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TxManager открывает транзакции на пуле и повторяет их при конфликтах.
type TxManager struct {
	pool        *pgxpool.Pool
	policy      RetryPolicy
	lockTimeout time.Duration
}

// NewTxManager создаёт менеджер транзакций.
func NewTxManager(pool *pgxpool.Pool, cfg *config.Config) *TxManager {
	return &TxManager{
		pool: pool,
		policy: RetryPolicy{
			MaxRetries: cfg.TxMaxRetries,
			Backoff:    cfg.TxRetryBackoff,
		},
		lockTimeout: cfg.TxLockTimeout,
	}
}

// InTx выполняет fn в транзакции на чтение и запись.
func (m *TxManager) InTx(ctx context.Context, fn func(q Querier) error) error {
	return Retry(ctx, m.policy, func() error {
		return m.runOnce(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
	})
}

// ReadOnly выполняет fn в транзакции только на чтение.
func (m *TxManager) ReadOnly(ctx context.Context, fn func(q Querier) error) error {
	return Retry(ctx, m.policy, func() error {
		return m.runOnce(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}, fn)
	})
}

func (m *TxManager) runOnce(ctx context.Context, opts pgx.TxOptions, fn func(q Querier) error) error {
	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	// Откатываем транзакцию, если не дошли до Commit
	defer tx.Rollback(ctx)

	if m.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)",
			fmt.Sprintf("%dms", m.lockTimeout.Milliseconds()),
		); err != nil {
			return fmt.Errorf("ошибка установки lock_timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UnitOfWork связывает транзакцию с набором репозиториев фичи.
// bind строит этот набор поверх транзакции, fn работает только с ним.
type UnitOfWork[T any] struct {
	tm   *TxManager
	bind func(q Querier) T
}

// NewUnitOfWork создаёт единицу работы для фичи.
func NewUnitOfWork[T any](tm *TxManager, bind func(q Querier) T) *UnitOfWork[T] {
	return &UnitOfWork[T]{tm: tm, bind: bind}
}

// Do выполняет fn атомарно. При повторе fn вызывается заново целиком.
func (u *UnitOfWork[T]) Do(ctx context.Context, fn func(tx T) error) error {
	return u.tm.InTx(ctx, func(q Querier) error {
		return fn(u.bind(q))
	})
}

// View выполняет fn в транзакции только на чтение.
func (u *UnitOfWork[T]) View(ctx context.Context, fn func(tx T) error) error {
	return u.tm.ReadOnly(ctx, func(q Querier) error {
		return fn(u.bind(q))
	})
}
