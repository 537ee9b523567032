// Package bot: Telegram-интерфейс движка боксов: приём апдейтов,
// проверка доступа, разбор команд и маршрутизация к обработчикам фич.
package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/bot/filters"
	"serotonyl.ru/mystery-box/internal/bot/middleware"
	"serotonyl.ru/mystery-box/internal/config"
	"serotonyl.ru/mystery-box/internal/features/admin"
	"serotonyl.ru/mystery-box/internal/features/boxes"
	"serotonyl.ru/mystery-box/internal/features/ledger"
	"serotonyl.ru/mystery-box/internal/features/members"
	"serotonyl.ru/mystery-box/internal/metrics"
)

const helpText = `🎁 Боксы с сюрпризом

!баланс — сколько у вас кредитов
!купить <тир> — купить бокс
!боксы — неоткрытые боксы (с кнопками)
!открыть <id> — открыть бокс
!шансы <тир> — что может выпасть
!история — последние операции`

// Handlers: обработчики фич, к которым бот направляет команды.
type Handlers struct {
	Members *members.Handler
	Boxes   *boxes.Handler
	Ledger  *ledger.Handler
	Admin   *admin.Handler
}

// Bot принимает апдейты Telegram и обслуживает одного тенанта.
type Bot struct {
	api      *tgbotapi.BotAPI
	cfg      *config.Config
	tenantID int64

	members     *members.Service
	handlers    Handlers
	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter
	parser      *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт бота для тенанта tenantID.
func New(api *tgbotapi.BotAPI, cfg *config.Config, tenantID int64, memberService *members.Service, h Handlers) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	return &Bot{
		api:         api,
		cfg:         cfg,
		tenantID:    tenantID,
		members:     memberService,
		handlers:    h,
		chatFilter:  filters.NewChatFilter(cfg.FloodChatID, tenantID, memberService, api),
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		parser:      NewCommandParser(api.Self.UserName),
		inflight:    make(chan struct{}, maxInFlight),
	}
}

// Start читает апдейты (long polling) до отмены ctx и ждёт
// завершения уже запущенных обработчиков.
func (b *Bot) Start(ctx context.Context) error {
	defer b.rateLimiter.Close()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"bot":          b.api.Self.UserName,
		"tenant_id":    b.tenantID,
		"max_inflight": cap(b.inflight),
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается...")
			b.api.StopReceivingUpdates()
			b.drain()
			return nil

		case update, ok := <-updates:
			if !ok {
				b.drain()
				return nil
			}
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// drain ждёт, пока освободятся все слоты обработчиков.
func (b *Bot) drain() {
	for i := 0; i < cap(b.inflight); i++ {
		b.inflight <- struct{}{}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		defer middleware.RecoverFromPanic("callback")
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		defer middleware.RecoverFromPanic("message")
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.Chat == nil || message.From == nil {
		return
	}

	if len(message.NewChatMembers) > 0 {
		if message.Chat.ID == b.cfg.FloodChatID {
			b.handlers.Members.HandleNewChatMembers(ctx, b.tenantID, message.NewChatMembers)
		}
		return
	}
	if message.Text == "" {
		return
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		return
	}
	middleware.LogMessage(message)

	if !b.chatFilter.CheckAccess(ctx, message) {
		metrics.BotUpdates.WithLabelValues("message", "denied").Inc()
		return
	}
	if !b.rateLimiter.Allow(message.From.ID) {
		metrics.BotUpdates.WithLabelValues("message", "rate_limited").Inc()
		log.WithField("user_id", message.From.ID).Debug("rate limited")
		return
	}

	m, err := b.ensureMember(ctx, message.From)
	if err != nil {
		b.sendMessage(message.Chat.ID, "Не удалось загрузить ваш профиль, попробуйте позже")
		return
	}

	metrics.BotUpdates.WithLabelValues("message", "handled").Inc()

	if admin.IsAdminCommand(cmd) {
		if !message.Chat.IsPrivate() {
			b.sendMessage(message.Chat.ID, "🔒 Админ-команды работают только в личных сообщениях")
			return
		}
		b.handlers.Admin.HandleCommand(ctx, message, m, cmd, args)
		return
	}
	b.routeCommand(ctx, message.Chat.ID, m, cmd, args)
}

// routeCommand направляет команду участника к обработчику.
func (b *Bot) routeCommand(ctx context.Context, chatID int64, m *members.Member, cmd string, args []string) {
	log.WithFields(log.Fields{
		"cmd":       cmd,
		"member_id": m.ID,
	}).Debug("routing command")

	switch cmd {
	case "start", "help", "помощь":
		b.sendMessage(chatID, helpText)
	case "баланс", "balance":
		b.handlers.Members.HandleBalance(ctx, chatID, m)
	case "купить", "buy":
		b.handlers.Boxes.HandlePurchase(ctx, chatID, m, args)
	case "боксы", "inventory":
		b.handlers.Boxes.HandleInventory(ctx, chatID, m)
	case "открыть", "open":
		b.handlers.Boxes.HandleOpen(ctx, chatID, m, args)
	case "шансы", "drops":
		b.handlers.Boxes.HandleDrops(ctx, chatID, m, args)
	case "история", "history":
		b.handlers.Ledger.HandleHistory(ctx, chatID, m.TenantID, m.ID)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	middleware.LogCallback(cq)
	if cq.From == nil || cq.Message == nil {
		return
	}
	if !strings.HasPrefix(cq.Data, boxes.CallbackOpen) {
		b.answerCallback(cq.ID, "")
		return
	}

	if !b.chatFilter.Allow(ctx, cq.Message.Chat, cq.From) {
		metrics.BotUpdates.WithLabelValues("callback", "denied").Inc()
		b.answerCallback(cq.ID, "❌ Нет доступа")
		return
	}
	if !b.rateLimiter.Allow(cq.From.ID) {
		metrics.BotUpdates.WithLabelValues("callback", "rate_limited").Inc()
		b.answerCallback(cq.ID, "⏳ Слишком часто, подождите немного")
		return
	}

	m, err := b.ensureMember(ctx, cq.From)
	if err != nil {
		b.answerCallback(cq.ID, "Не удалось загрузить ваш профиль")
		return
	}
	metrics.BotUpdates.WithLabelValues("callback", "handled").Inc()
	b.handlers.Boxes.HandleOpenCallback(ctx, cq, m)
}

// ensureMember регистрирует отправителя в тенанте бота и обновляет имя.
func (b *Bot) ensureMember(ctx context.Context, from *tgbotapi.User) (*members.Member, error) {
	m, err := b.members.EnsureMember(ctx, b.tenantID, members.Profile{
		UserID:    from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
	})
	if err != nil {
		log.WithError(err).WithField("user_id", from.ID).Warn("EnsureMember failed")
		return nil, err
	}
	return m, nil
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		log.WithError(err).Debug("Ошибка ответа на callback")
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}
