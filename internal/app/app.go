// Package app собирает компоненты приложения: пул БД, транзакции,
// сервисы фич, Telegram-бота, HTTP API и планировщик.
package app

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"serotonyl.ru/mystery-box/internal/bot"
	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/config"
	"serotonyl.ru/mystery-box/internal/db/postgres"
	"serotonyl.ru/mystery-box/internal/features/admin"
	"serotonyl.ru/mystery-box/internal/features/boxes"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/ledger"
	"serotonyl.ru/mystery-box/internal/features/members"
	"serotonyl.ru/mystery-box/internal/httpapi"
	"serotonyl.ru/mystery-box/internal/jobs"
)

// App содержит сервисы приложения. Транспорт (бот, HTTP, cron)
// создаётся отдельно, под конкретную команду.
type App struct {
	Config *config.Config
	DB     *pgxpool.Pool

	Members *members.Service
	Ledger  *ledger.Service
	Catalog *catalog.Service
	Boxes   *boxes.Service
	Auth    *admin.Service
	Gateway *admin.Gateway
}

// New подключается к БД, применяет миграции и создаёт сервисы.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool, migrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Транзакции ===
	tm := postgres.NewTxManager(pool, cfg)
	ledgerUoW := postgres.NewUnitOfWork(tm, func(q postgres.Querier) ledger.Tx { return ledger.NewRepository(q) })
	catalogUoW := postgres.NewUnitOfWork(tm, func(q postgres.Querier) catalog.Tx { return catalog.NewRepository(q) })
	boxesUoW := postgres.NewUnitOfWork(tm, boxes.NewTx)

	// === 3. Сервисы ===
	memberService := members.NewService(members.NewRepository(pool))
	ledgerService := ledger.NewService(ledgerUoW)
	catalogService := catalog.NewService(catalogUoW)
	boxService := boxes.NewService(boxesUoW, boxes.Options{
		Retention:      cfg.BoxRetention,
		CashAutoCredit: cfg.BoxCashAutoCredit,
		SweepBatch:     cfg.BoxSweepBatch,
		SweepWorkers:   cfg.BoxSweepWorkers,
	})
	auth := admin.NewService(admin.NewRepository(pool), cfg.AdminPasswordHash, cfg.AdminSessionTTL)

	return &App{
		Config:  cfg,
		DB:      pool,
		Members: memberService,
		Ledger:  ledgerService,
		Catalog: catalogService,
		Boxes:   boxService,
		Auth:    auth,
		Gateway: admin.NewGateway(catalogService, ledgerService, boxService, memberService),
	}, nil
}

// Close освобождает пул соединений.
func (a *App) Close() {
	a.DB.Close()
}

// NewBot авторизуется в Telegram и собирает бота для тенанта BOT_TENANT_CODE.
// Тенант создаётся, если его ещё нет.
func (a *App) NewBot(ctx context.Context) (*bot.Bot, error) {
	api, err := tgbotapi.NewBotAPI(a.Config.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	api.Debug = a.Config.AppEnv == "development"
	log.Infof("Авторизован как @%s", api.Self.UserName)

	tenant, err := a.Members.EnsureTenant(ctx, a.Config.BotTenantCode, a.Config.BotTenantCode)
	if err != nil {
		return nil, fmt.Errorf("тенант бота %q: %w", a.Config.BotTenantCode, err)
	}

	loc := common.LoadLocation(a.Config.AppTimezone)
	return bot.New(api, a.Config, tenant.ID, a.Members, bot.Handlers{
		Members: members.NewHandler(a.Members, api),
		Boxes:   boxes.NewHandler(a.Boxes, a.Catalog, api, loc),
		Ledger:  ledger.NewHandler(a.Ledger, api, loc),
		Admin:   admin.NewHandler(a.Auth, a.Gateway, a.Members, api),
	}), nil
}

// NewHTTP собирает HTTP API.
func (a *App) NewHTTP() *httpapi.Server {
	return httpapi.New(httpapi.Services{
		Boxes:   a.Boxes,
		Catalog: a.Catalog,
		Ledger:  a.Ledger,
		Members: a.Members,
		Gateway: a.Gateway,
	}, []byte(a.Config.JWTSecret), a.Config.HTTPAddr, a.Config.HTTPShutdown)
}

// NewScheduler собирает планировщик фоновых задач.
func (a *App) NewScheduler() *jobs.Scheduler {
	return jobs.NewScheduler(a.Boxes, a.Ledger, jobs.Schedules{
		Sweep:     a.Config.BoxSweepSchedule,
		Reconcile: a.Config.LedgerReconcileSchedule,
	}, common.LoadLocation(a.Config.AppTimezone))
}

// Serve запускает включённые компоненты и работает до отмены ctx.
// Падение любого компонента останавливает остальные.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Config.ValidateServe(); err != nil {
		return err
	}
	// Бота собираем до запуска остальных: он может не авторизоваться.
	var b *bot.Bot
	if a.Config.FeatureBotEnabled {
		var err error
		if b, err = a.NewBot(ctx); err != nil {
			return err
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	if a.Config.FeatureSchedulerEnabled {
		scheduler := a.NewScheduler()
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		eg.Go(func() error {
			<-ctx.Done()
			scheduler.Stop()
			return nil
		})
	}

	if b != nil {
		eg.Go(func() error { return b.Start(ctx) })
	}

	if a.Config.FeatureHTTPEnabled {
		srv := a.NewHTTP()
		eg.Go(func() error { return srv.Run(ctx) })
	}

	log.Info("=== Сервис готов к работе ===")
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
