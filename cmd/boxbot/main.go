// Package main: точка входа движка боксов.
// serve поднимает бота, HTTP API и планировщик; остальные команды :
// разовые операции обслуживания (миграции, сиды, истечение, сверка).
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"serotonyl.ru/mystery-box/internal/app"
	"serotonyl.ru/mystery-box/internal/config"
	"serotonyl.ru/mystery-box/internal/features/admin"
	"serotonyl.ru/mystery-box/internal/httpapi"
	"serotonyl.ru/mystery-box/internal/seed"
)

func main() {
	setupLogging()

	cliApp := &cli.App{
		Name:  "boxbot",
		Usage: "боксы с сюрпризом: Telegram-бот, HTTP API и фоновые задачи",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "файлы с переменными окружения",
				Value: cli.NewStringSlice(".env"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "запустить бота, HTTP API и планировщик",
				Action: withApp(func(ctx context.Context, a *app.App, _ *cli.Context) error {
					log.Info("=== Сервис запускается ===")
					err := a.Serve(ctx)
					log.Info("=== Сервис остановлен ===")
					return err
				}),
			},
			{
				Name:  "migrate",
				Usage: "применить миграции и выйти",
				Action: withApp(func(context.Context, *app.App, *cli.Context) error {
					log.Info("Миграции применены")
					return nil
				}),
			},
			{
				Name:  "seed",
				Usage: "загрузить каталог тенанта из YAML",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "путь к YAML с каталогом", Required: true},
				},
				Action: withApp(func(ctx context.Context, a *app.App, c *cli.Context) error {
					f, err := seed.Load(c.String("file"))
					if err != nil {
						return err
					}
					res, err := seed.Apply(ctx, a.Members, a.Catalog, f)
					if err != nil {
						return err
					}
					fmt.Printf("тиров: %d, строк редкостей: %d, наград создано: %d, обновлено: %d\n",
						res.Tiers, res.Weights, res.RewardsCreated, res.RewardsUpdated)
					return nil
				}),
			},
			{
				Name:  "sweep",
				Usage: "истечь просроченные боксы один раз",
				Action: withApp(func(ctx context.Context, a *app.App, _ *cli.Context) error {
					res, err := a.Boxes.Sweep(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("просмотрено: %d, истекло: %d, ошибок: %d\n", res.Scanned, res.Expired, res.Failed)
					return nil
				}),
			},
			{
				Name:  "reconcile",
				Usage: "сверить кэш балансов с журналом",
				Action: withApp(func(ctx context.Context, a *app.App, _ *cli.Context) error {
					res, err := a.Ledger.Reconcile(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("проверено: %d, исправлено: %d, ошибок: %d\n", res.Checked, res.Fixed, res.Failed)
					return nil
				}),
			},
			{
				Name:  "issue-token",
				Usage: "выпустить JWT для HTTP API от имени участника",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Usage: "код тенанта", Required: true},
					&cli.Int64Flag{Name: "user-id", Usage: "Telegram user ID участника", Required: true},
				},
				Action: withApp(func(ctx context.Context, a *app.App, c *cli.Context) error {
					if err := a.Config.ValidateJWT(); err != nil {
						return err
					}
					tenant, err := a.Members.TenantByCode(ctx, c.String("tenant"))
					if err != nil {
						return err
					}
					m, err := a.Members.GetByUserID(ctx, tenant.ID, c.Int64("user-id"))
					if err != nil {
						return err
					}
					token, err := httpapi.IssueToken([]byte(a.Config.JWTSecret), m, a.Config.JWTTTL)
					if err != nil {
						return err
					}
					fmt.Println(token)
					return nil
				}),
			},
			{
				Name:      "hash-password",
				Usage:     "получить argon2id-хэш для ADMIN_PASSWORD_HASH",
				ArgsUsage: "[пароль]",
				Action: func(c *cli.Context) error {
					password := c.Args().First()
					if password == "" {
						fmt.Fprint(os.Stderr, "Пароль: ")
						line, err := bufio.NewReader(os.Stdin).ReadString('\n')
						if err != nil && line == "" {
							return fmt.Errorf("не удалось прочитать пароль: %w", err)
						}
						password = strings.TrimRight(line, "\r\n")
					}
					if password == "" {
						return errors.New("пароль не может быть пустым")
					}
					hash, err := admin.HashPassword(password)
					if err != nil {
						return err
					}
					fmt.Println(hash)
					return nil
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.WithError(err).Fatal("Команда завершилась с ошибкой")
	}
}

// withApp загружает конфиг, собирает приложение и отменяет контекст
// по SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, a *app.App, c *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.StringSlice("env-file")...)
		if err != nil {
			return err
		}
		if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
			log.SetLevel(level)
		}

		ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, a, c)
	}
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}
