// Package ledger: service.go проводит пополнения и корректировки, отдаёт историю и сверяет кэш.
package ledger

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/metrics"
)

// Tx: операции журнала внутри одной транзакции.
type Tx interface {
	Store
	Balance(ctx context.Context, tenantID, memberID int64) (int64, error)
	LatestBalance(ctx context.Context, tenantID, memberID int64) (int64, error)
	MemberBalances(ctx context.Context, afterID int64, limit int) ([]BalanceRef, error)
	List(ctx context.Context, f Filter) ([]*Entry, error)
}

// Transactor выполняет функцию в транзакции.
type Transactor interface {
	Do(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Service управляет кредитами участников.
type Service struct {
	tx  Transactor
	now func() time.Time
}

// NewService создаёт сервис журнала.
func NewService(tx Transactor) *Service {
	return &Service{tx: tx, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock подменяет часы (для тестов и воспроизведения).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TopUp пополняет баланс участника на положительную сумму.
func (s *Service) TopUp(ctx context.Context, tenantID, memberID, amount int64, note string, actorID *int64) (*Entry, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidArgument.WithMessage("сумма пополнения должна быть положительной")
	}
	if note == "" {
		note = "Пополнение " + common.FormatCreditsAmount(amount)
	}
	return s.appendOne(ctx, AppendRequest{
		TenantID: tenantID, MemberID: memberID, Delta: amount,
		Kind: KindTopUp, Description: note, ActorID: actorID,
	})
}

// Adjust проводит ручную корректировку со знаком. Уйти в минус нельзя.
func (s *Service) Adjust(ctx context.Context, tenantID, memberID, delta int64, note string, actorID *int64) (*Entry, error) {
	if delta == 0 {
		return nil, common.ErrInvalidArgument.WithMessage("сумма корректировки не может быть нулевой")
	}
	if note == "" {
		note = "Корректировка " + common.FormatCreditsAmount(delta)
	}
	return s.appendOne(ctx, AppendRequest{
		TenantID: tenantID, MemberID: memberID, Delta: delta,
		Kind: KindAdjustment, Description: note, ActorID: actorID,
	})
}

func (s *Service) appendOne(ctx context.Context, req AppendRequest) (*Entry, error) {
	var entry *Entry
	err := s.tx.Do(ctx, func(tx Tx) error {
		req.Clock = s.now
		e, err := Append(ctx, tx, req)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		metrics.ObserveError(string(req.Kind), string(common.KindOf(err)))
		return nil, err
	}

	log.WithFields(log.Fields{
		"tenant_id":     req.TenantID,
		"member_id":     req.MemberID,
		"delta":         req.Delta,
		"kind":          req.Kind,
		"balance_after": entry.BalanceAfter,
		"actor_id":      req.ActorID,
	}).Info("Операция по счёту проведена")
	return entry, nil
}

// Balance возвращает текущий баланс участника.
func (s *Service) Balance(ctx context.Context, tenantID, memberID int64) (int64, error) {
	var balance int64
	err := s.tx.View(ctx, func(tx Tx) error {
		var err error
		balance, err = tx.Balance(ctx, tenantID, memberID)
		return err
	})
	return balance, err
}

// History возвращает последние операции участника, новые сверху.
func (s *Service) History(ctx context.Context, tenantID, memberID int64, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.TenantLedger(ctx, Filter{TenantID: tenantID, MemberID: memberID, Limit: limit})
}

// TenantLedger возвращает записи журнала тенанта по фильтру.
func (s *Service) TenantLedger(ctx context.Context, f Filter) ([]*Entry, error) {
	for _, k := range f.Kinds {
		if !k.Valid() {
			return nil, common.ErrInvalidArgument.WithMessage("неизвестный тип операции " + string(k))
		}
	}
	f.Limit = clampLimit(f.Limit)
	if f.Offset < 0 {
		f.Offset = 0
	}

	var out []*Entry
	err := s.tx.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.List(ctx, f)
		return err
	})
	return out, err
}

// Reconcile сверяет кэш баланса каждого участника с последней записью журнала
// и исправляет расхождения. Каждый участник: отдельная транзакция.
func (s *Service) Reconcile(ctx context.Context) (ReconcileResult, error) {
	const page = 500
	var res ReconcileResult
	var after int64

	for {
		var refs []BalanceRef
		err := s.tx.View(ctx, func(tx Tx) error {
			var err error
			refs, err = tx.MemberBalances(ctx, after, page)
			return err
		})
		if err != nil {
			return res, err
		}
		if len(refs) == 0 {
			break
		}

		for _, ref := range refs {
			after = ref.MemberID
			res.Checked++

			fixed, err := s.reconcileMember(ctx, ref)
			if err != nil {
				res.Failed++
				log.WithError(err).WithFields(log.Fields{
					"tenant_id": ref.TenantID,
					"member_id": ref.MemberID,
				}).Error("Ошибка сверки баланса")
				continue
			}
			if fixed {
				res.Fixed++
			}
		}

		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	log.WithFields(log.Fields{
		"checked": res.Checked,
		"fixed":   res.Fixed,
		"failed":  res.Failed,
	}).Info("Сверка балансов завершена")
	return res, nil
}

func (s *Service) reconcileMember(ctx context.Context, ref BalanceRef) (bool, error) {
	fixed := false
	err := s.tx.Do(ctx, func(tx Tx) error {
		fixed = false
		cached, err := tx.LockBalance(ctx, ref.TenantID, ref.MemberID)
		if err != nil {
			return err
		}
		latest, err := tx.LatestBalance(ctx, ref.TenantID, ref.MemberID)
		if err != nil {
			return err
		}
		if cached == latest {
			return nil
		}

		log.WithFields(log.Fields{
			"tenant_id": ref.TenantID,
			"member_id": ref.MemberID,
			"cached":    cached,
			"ledger":    latest,
		}).Warn("Кэш баланса расходится с журналом, исправляем")
		fixed = true
		return tx.SetBalance(ctx, ref.TenantID, ref.MemberID, latest)
	})
	if err == nil && fixed {
		metrics.LedgerReconciled.Inc()
	}
	return fixed, err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return min(limit, MaxPageSize)
}
