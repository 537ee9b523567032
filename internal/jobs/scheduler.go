// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: истечение просроченных боксов
// и ночную сверку кэша балансов с журналом.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/features/boxes"
	"serotonyl.ru/mystery-box/internal/features/ledger"
)

// Sweeper истекает просроченные боксы (реализуется boxes.Service).
type Sweeper interface {
	Sweep(ctx context.Context) (boxes.SweepResult, error)
}

// Reconciler сверяет кэш балансов (реализуется ledger.Service).
type Reconciler interface {
	Reconcile(ctx context.Context) (ledger.ReconcileResult, error)
}

// Schedules: расписания задач в формате cron.
type Schedules struct {
	Sweep     string
	Reconcile string
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron       *cron.Cron
	sweeper    Sweeper
	reconciler Reconciler
	schedules  Schedules
}

// NewScheduler создаёт планировщик. Задачи одного вида не перекрываются:
// если прошлый запуск ещё идёт, следующий пропускается.
func NewScheduler(sweeper Sweeper, reconciler Reconciler, schedules Schedules, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{
		cron:       c,
		sweeper:    sweeper,
		reconciler: reconciler,
		schedules:  schedules,
	}
}

// Start регистрирует задачи и запускает планировщик.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedules.Sweep, func() { s.runSweep(ctx) }); err != nil {
		return fmt.Errorf("некорректное расписание BOX_SWEEP_SCHEDULE %q: %w", s.schedules.Sweep, err)
	}
	if _, err := s.cron.AddFunc(s.schedules.Reconcile, func() { s.runReconcile(ctx) }); err != nil {
		return fmt.Errorf("некорректное расписание LEDGER_RECONCILE_SCHEDULE %q: %w", s.schedules.Reconcile, err)
	}

	s.cron.Start()
	log.WithFields(log.Fields{
		"sweep":     s.schedules.Sweep,
		"reconcile": s.schedules.Reconcile,
	}).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт завершения текущих задач.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info("Планировщик задач остановлен")
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.sweeper.Sweep(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка истечения боксов")
		return
	}
	if res.Failed > 0 {
		log.WithField("failed", res.Failed).Warn("[CRON] Часть боксов не удалось истечь, повторим в следующий запуск")
	}
}

func (s *Scheduler) runReconcile(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	log.Info("[CRON] Сверка балансов")
	if _, err := s.reconciler.Reconcile(ctx); err != nil {
		log.WithError(err).Error("[CRON] Ошибка сверки балансов")
	}
}
