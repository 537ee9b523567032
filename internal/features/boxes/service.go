// Package boxes: service.go отвечает за покупку, открытие и истечение боксов.
//
// Покупка и открытие: каждая одна транзакция. Повтор транзакции после
// конфликта перезапускает всю функцию, поэтому розыгрыш тоже повторяется.
package boxes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/ledger"
	"serotonyl.ru/mystery-box/internal/lottery"
	"serotonyl.ru/mystery-box/internal/metrics"
)

// Tx: операции с боксами внутри одной транзакции.
type Tx interface {
	InsertBox(ctx context.Context, b *Box) error
	LockBox(ctx context.Context, tenantID int64, id uuid.UUID) (*Box, error)
	MarkOpened(ctx context.Context, b *Box) error
	ExpireIfDue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, b *Box) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Inventory(ctx context.Context, tenantID, memberID int64, now time.Time) ([]*Box, error)
	History(ctx context.Context, f Filter) ([]*Box, error)
	MemberBalance(ctx context.Context, tenantID, memberID int64) (int64, error)

	Ledger() ledger.Store
	Catalog() catalog.Reader
}

// Transactor выполняет функцию в транзакции.
type Transactor interface {
	Do(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Options: настройки жизненного цикла боксов.
type Options struct {
	Retention      time.Duration // Срок хранения неоткрытого бокса
	CashAutoCredit bool          // Начислять денежную награду на баланс при открытии
	SweepBatch     int           // Сколько просроченных боксов берём за проход
	SweepWorkers   int           // Сколько боксов истекают параллельно
}

// DefaultOptions: настройки по умолчанию.
func DefaultOptions() Options {
	return Options{
		Retention:    7 * 24 * time.Hour,
		SweepBatch:   500,
		SweepWorkers: 8,
	}
}

// Service управляет боксами.
type Service struct {
	tx   Transactor
	opts Options
	src  lottery.Source
	now  func() time.Time
}

// NewService создаёт сервис боксов.
func NewService(tx Transactor, opts Options) *Service {
	def := DefaultOptions()
	if opts.Retention <= 0 {
		opts.Retention = def.Retention
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = def.SweepBatch
	}
	if opts.SweepWorkers <= 0 {
		opts.SweepWorkers = def.SweepWorkers
	}
	return &Service{
		tx:   tx,
		opts: opts,
		src:  lottery.DefaultSource(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithSource подменяет источник случайных чисел.
func (s *Service) WithSource(src lottery.Source) *Service {
	s.src = src
	return s
}

// WithClock подменяет часы.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Purchase списывает цену тира и выдаёт бокс со случайной редкостью.
func (s *Service) Purchase(ctx context.Context, tenantID, memberID int64, tier int) (*PurchaseResult, error) {
	var res *PurchaseResult
	err := s.tx.Do(ctx, func(tx Tx) error {
		cat := tx.Catalog()

		t, err := cat.Tier(ctx, tenantID, tier)
		if err != nil {
			return err
		}
		if !t.IsActive {
			return common.ErrInvalidTier.With("credit_tier", tier)
		}

		weights, err := cat.TierRarityWeights(ctx, tenantID, tier, true)
		if err != nil {
			return err
		}
		if v := catalog.ValidateTier(weights, true); !v.OK || v.ActiveCount == 0 {
			return misconfigured(v).With("credit_tier", tier)
		}

		entry, err := ledger.Append(ctx, tx.Ledger(), ledger.AppendRequest{
			TenantID:    tenantID,
			MemberID:    memberID,
			Delta:       -t.Price,
			Kind:        ledger.KindBoxPurchase,
			Description: fmt.Sprintf("Покупка бокса за %s", common.FormatBalance(t.Price)),
			Clock:       s.now,
		})
		if err != nil {
			var de *common.Error
			if errors.As(err, &de) && de.Kind == common.KindInsufficientCredit {
				return de.With("price", t.Price)
			}
			return err
		}
		now := entry.CreatedAt

		candidates := make([]lottery.Candidate, 0, len(weights))
		for _, w := range weights {
			candidates = append(candidates, lottery.Candidate{
				ID: w.RarityID, SortKey: int64(w.RaritySort), Weight: int64(w.RealProbability),
			})
		}
		rarityID, err := lottery.Select(s.src, candidates)
		if err != nil {
			return fmt.Errorf("ошибка выбора редкости: %w", err)
		}
		rarity, err := cat.Rarity(ctx, rarityID)
		if err != nil {
			return err
		}

		b := &Box{
			ID:          uuid.New(),
			TenantID:    tenantID,
			MemberID:    memberID,
			CreditTier:  tier,
			CreditSpent: t.Price,
			Status:      StatusPurchased,
			RarityID:    rarityID,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.opts.Retention),
		}
		if err := tx.InsertBox(ctx, b); err != nil {
			return err
		}

		res = &PurchaseResult{
			TransactionID: b.ID,
			CreditTier:    tier,
			CreditSpent:   t.Price,
			CreditsBefore: entry.BalanceAfter + t.Price,
			CreditsAfter:  entry.BalanceAfter,
			Rarity:        rarity,
			ExpiresAt:     b.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		metrics.ObserveError("purchase", string(common.KindOf(err)))
		return nil, err
	}

	metrics.BoxesPurchased.WithLabelValues(strconv.Itoa(tier), string(res.Rarity.Code)).Inc()
	log.WithFields(log.Fields{
		"tenant_id":      tenantID,
		"member_id":      memberID,
		"transaction_id": res.TransactionID,
		"tier":           tier,
		"rarity":         res.Rarity.Code,
		"credits_after":  res.CreditsAfter,
	}).Info("Бокс куплен")
	return res, nil
}

// Open открывает бокс участника и разыгрывает награду внутри его редкости.
// Просроченный бокс переводится в EXPIRED, изменение сохраняется,
// а вызывающий получает ErrBoxExpired.
func (s *Service) Open(ctx context.Context, tenantID, memberID int64, id uuid.UUID) (*OpenResult, error) {
	var (
		res     *OpenResult
		expired bool
	)
	err := s.tx.Do(ctx, func(tx Tx) error {
		expired = false

		b, err := tx.LockBox(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if b.MemberID != memberID {
			return common.ErrBoxNotOwned.With("transaction_id", id.String())
		}
		switch b.Status {
		case StatusOpened:
			return common.ErrBoxAlreadyOpened.With("transaction_id", id.String())
		case StatusExpired:
			return common.ErrBoxExpired.With("transaction_id", id.String())
		}

		now := s.now()
		if now.After(b.ExpiresAt) {
			if _, err := tx.ExpireIfDue(ctx, b.ID, now); err != nil {
				return err
			}
			expired = true
			return nil
		}

		cat := tx.Catalog()
		rarity, err := cat.Rarity(ctx, b.RarityID)
		if err != nil {
			return err
		}
		rewards, err := cat.Rewards(ctx, tenantID, b.RarityID, true)
		if err != nil {
			return err
		}
		if v := catalog.Validate(rewards, true); !v.OK || v.ActiveCount == 0 {
			return misconfigured(v).With("rarity_code", string(rarity.Code))
		}

		candidates := make([]lottery.Candidate, 0, len(rewards))
		for _, rw := range rewards {
			candidates = append(candidates, lottery.Candidate{ID: rw.ID, Weight: int64(rw.RealProbability)})
		}
		rewardID, err := lottery.Select(s.src, candidates)
		if err != nil {
			return fmt.Errorf("ошибка выбора награды: %w", err)
		}
		var reward *catalog.Reward
		for _, rw := range rewards {
			if rw.ID == rewardID {
				reward = rw
				break
			}
		}

		b.Status = StatusOpened
		b.RewardID = &reward.ID
		b.OpenedAt = &now
		if err := tx.MarkOpened(ctx, b); err != nil {
			return err
		}

		var balance int64
		if s.opts.CashAutoCredit && reward.Type == catalog.RewardCash && reward.Amount != nil {
			entry, err := ledger.Append(ctx, tx.Ledger(), ledger.AppendRequest{
				TenantID:    tenantID,
				MemberID:    memberID,
				Delta:       *reward.Amount,
				Kind:        ledger.KindBoxReward,
				Description: "Награда из бокса: " + reward.Label,
				Clock:       s.now,
			})
			if err != nil {
				return err
			}
			balance = entry.BalanceAfter
		} else if balance, err = tx.MemberBalance(ctx, tenantID, memberID); err != nil {
			return err
		}

		res = &OpenResult{
			TransactionID: b.ID,
			Rarity:        rarity,
			Reward:        reward,
			OpenedAt:      now,
			ExpiresAt:     b.ExpiresAt,
			CreditsAfter:  balance,
		}
		return nil
	})
	if err == nil && expired {
		metrics.BoxesExpired.WithLabelValues("open").Inc()
		log.WithFields(log.Fields{
			"tenant_id":      tenantID,
			"member_id":      memberID,
			"transaction_id": id,
		}).Info("Бокс истёк при попытке открытия")
		err = common.ErrBoxExpired.With("transaction_id", id.String())
	}
	if err != nil {
		metrics.ObserveError("open", string(common.KindOf(err)))
		return nil, err
	}

	metrics.BoxesOpened.WithLabelValues(string(res.Rarity.Code), string(res.Reward.Type)).Inc()
	log.WithFields(log.Fields{
		"tenant_id":      tenantID,
		"member_id":      memberID,
		"transaction_id": id,
		"rarity":         res.Rarity.Code,
		"reward":         res.Reward.ID,
		"reward_type":    res.Reward.Type,
	}).Info("Бокс открыт")
	return res, nil
}

// Sweep переводит в EXPIRED купленные боксы с наступившим сроком.
// Каждый бокс истекает в своей транзакции, ошибка одного не мешает остальным.
// Повторный запуск безопасен: обновление защищено условием на статус и срок.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	for {
		now := s.now()

		var ids []uuid.UUID
		err := s.tx.View(ctx, func(tx Tx) error {
			var err error
			ids, err = tx.ListDue(ctx, now, s.opts.SweepBatch)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("ошибка поиска просроченных боксов: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		var expired, failed atomic.Int64
		p := pool.New().WithMaxGoroutines(s.opts.SweepWorkers)
		for _, id := range ids {
			p.Go(func() {
				var changed bool
				err := s.tx.Do(ctx, func(tx Tx) error {
					var err error
					changed, err = tx.ExpireIfDue(ctx, id, now)
					return err
				})
				if err != nil {
					failed.Add(1)
					log.WithError(err).WithField("transaction_id", id).Warn("Не удалось завершить срок бокса")
					return
				}
				if changed {
					expired.Add(1)
				}
			})
		}
		p.Wait()

		res.Scanned += len(ids)
		res.Expired += int(expired.Load())
		res.Failed += int(failed.Load())

		// Неудачные строки остаются в выборке, поэтому после сбоя
		// дочищаем их уже следующим запуском.
		if len(ids) < s.opts.SweepBatch || failed.Load() > 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	if res.Expired > 0 {
		metrics.BoxesExpired.WithLabelValues("sweep").Add(float64(res.Expired))
	}
	if res.Scanned > 0 {
		log.WithFields(log.Fields{
			"scanned": res.Scanned,
			"expired": res.Expired,
			"failed":  res.Failed,
		}).Info("Просроченные боксы обработаны")
	}
	return res, nil
}

// Inventory возвращает неоткрытые боксы участника, новые сверху.
func (s *Service) Inventory(ctx context.Context, tenantID, memberID int64) ([]*Box, error) {
	var out []*Box
	err := s.tx.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Inventory(ctx, tenantID, memberID, s.now())
		return err
	})
	return out, err
}

// TenantHistory возвращает боксы тенанта по фильтру.
func (s *Service) TenantHistory(ctx context.Context, f Filter) ([]*Box, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultPageSize
	case f.Limit > MaxPageSize:
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, common.ErrInvalidArgument.WithMessage(fmt.Sprintf("неизвестный статус %q", st))
		}
	}

	var out []*Box
	err := s.tx.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.History(ctx, f)
		return err
	})
	return out, err
}

// MarkProcessed отмечает, что награда открытого бокса выдана.
// Флаг ставится один раз, статус бокса не меняется.
func (s *Service) MarkProcessed(ctx context.Context, tenantID int64, id uuid.UUID, actorID int64) (*Box, error) {
	var out *Box
	err := s.tx.Do(ctx, func(tx Tx) error {
		b, err := tx.LockBox(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if b.Status != StatusOpened {
			return common.ErrInvalidArgument.
				WithMessage("отметить выдачу можно только у открытого бокса").
				With("status", string(b.Status))
		}
		if b.Processed {
			return common.ErrAlreadyProcessed.With("transaction_id", id.String())
		}

		now := s.now()
		b.Processed = true
		b.ProcessedAt = &now
		b.ProcessedBy = &actorID
		if err := tx.MarkProcessed(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"tenant_id":      tenantID,
		"transaction_id": id,
		"actor_id":       actorID,
	}).Info("Выдача награды отмечена")
	return out, nil
}

func misconfigured(v catalog.Validation) *common.Error {
	return common.ErrCatalogMisconfigured.
		With("real_sum", v.RealSum).
		With("display_sum", v.DisplaySum).
		With("active_count", v.ActiveCount)
}
