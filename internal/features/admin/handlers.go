// Package admin: handlers.go обрабатывает админские команды в личных сообщениях.
// Поток: /login <пароль> → сессия → команды каталога, балансов и выдачи.
package admin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/members"
)

// Sender: часть Telegram API, которой пользуются обработчики.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handler обрабатывает админ-команды.
type Handler struct {
	auth    *Service
	gateway *Gateway
	members *members.Service
	bot     Sender
}

// NewHandler создаёт обработчик админ-панели.
func NewHandler(auth *Service, gateway *Gateway, memberService *members.Service, bot Sender) *Handler {
	return &Handler{auth: auth, gateway: gateway, members: memberService, bot: bot}
}

// IsAdminCommand сообщает, относится ли команда к админ-панели.
func IsAdminCommand(cmd string) bool {
	switch cmd {
	case "login", "logout", "выйти", "пополнить", "списать", "каталог", "награда", "выдано", "роль", "штат":
		return true
	}
	return false
}

// HandleCommand выполняет админ-команду. Вызывается только для личных сообщений.
func (h *Handler) HandleCommand(ctx context.Context, msg *tgbotapi.Message, m *members.Member, cmd string, args []string) {
	chatID := msg.Chat.ID

	if cmd == "login" {
		h.handleLogin(ctx, msg, m, args)
		return
	}
	if err := h.auth.Authorize(ctx, m); err != nil {
		h.reply(chatID, err)
		return
	}

	switch cmd {
	case "logout", "выйти":
		if err := h.auth.Logout(ctx, m); err != nil {
			h.reply(chatID, err)
			return
		}
		h.send(chatID, "👋 Вы вышли из админ-панели")
	case "пополнить":
		h.handleCredit(ctx, chatID, m, args, 1)
	case "списать":
		h.handleCredit(ctx, chatID, m, args, -1)
	case "каталог":
		h.handleOverview(ctx, chatID, m)
	case "награда":
		h.handleReward(ctx, chatID, m, args)
	case "выдано":
		h.handleProcessed(ctx, chatID, m, args)
	case "роль":
		h.handleRole(ctx, chatID, m, args)
	case "штат":
		h.handleStaff(ctx, chatID, m)
	}
}

// handleLogin проверяет пароль. Сообщение с паролем удаляется из чата.
func (h *Handler) handleLogin(ctx context.Context, msg *tgbotapi.Message, m *members.Member, args []string) {
	chatID := msg.Chat.ID
	if _, err := h.bot.Request(tgbotapi.NewDeleteMessage(chatID, msg.MessageID)); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Debug("Не удалось удалить сообщение с паролем")
	}
	if len(args) == 0 {
		h.send(chatID, "Использование: /login <пароль>")
		return
	}

	session, err := h.auth.Login(ctx, m, strings.Join(args, " "))
	if err != nil {
		h.reply(chatID, err)
		return
	}
	h.send(chatID, fmt.Sprintf("✅ Добро пожаловать в админ-панель (%s).\nСессия действует до %s UTC\n\n%s",
		m.Role, session.ExpiresAt.Format("02.01.2006 15:04"), adminHelp))
}

const adminHelp = `Команды:
!пополнить @user N [комментарий]
!списать @user N [комментарий]
!каталог
!награда <id> on|off|real=N|display=N
!выдано <id бокса>
!роль @user ADMIN|CS|MEMBER
!штат
!выйти`

// handleCredit проводит пополнение (sign > 0) или списание (sign < 0).
func (h *Handler) handleCredit(ctx context.Context, chatID int64, actor *members.Member, args []string, sign int64) {
	if len(args) < 2 {
		h.send(chatID, "Использование: !пополнить @user N [комментарий] или !списать @user N [комментарий]")
		return
	}
	target, err := h.members.GetByUsername(ctx, actor.TenantID, args[0])
	if err != nil {
		h.reply(chatID, err)
		return
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		h.send(chatID, "❌ Сумма должна быть положительным целым числом")
		return
	}
	note := common.SanitizeText(strings.Join(args[2:], " "), 200)

	if sign > 0 {
		entry, err := h.gateway.TopUp(ctx, actor, target.ID, amount, note)
		if err != nil {
			h.reply(chatID, err)
			return
		}
		h.send(chatID, fmt.Sprintf("✅ %s пополнен на %s. Баланс: %s",
			target.DisplayName(), common.FormatBalance(amount), common.FormatBalance(entry.BalanceAfter)))
		return
	}

	entry, err := h.gateway.Adjust(ctx, actor, target.ID, -amount, note)
	if err != nil {
		h.reply(chatID, err)
		return
	}
	h.send(chatID, fmt.Sprintf("✅ У %s списано %s. Баланс: %s",
		target.DisplayName(), common.FormatBalance(amount), common.FormatBalance(entry.BalanceAfter)))
}

func (h *Handler) handleOverview(ctx context.Context, chatID int64, actor *members.Member) {
	ov, err := h.gateway.Overview(ctx, actor)
	if err != nil {
		h.reply(chatID, err)
		return
	}
	h.send(chatID, FormatOverview(ov))
}

// FormatOverview собирает текст каталога для админа: тиры, редкости,
// награды с реальной и витринной вероятностью и суммы.
func FormatOverview(ov *catalog.Overview) string {
	var sb strings.Builder
	sb.WriteString("🗂 Каталог\n")
	names := make(map[int64]string, len(ov.Rarities))
	for _, r := range ov.Rarities {
		names[r.Rarity.ID] = r.Rarity.Name
	}

	for _, t := range ov.Tiers {
		state := "вкл"
		if !t.Tier.IsActive {
			state = "выкл"
		}
		fmt.Fprintf(&sb, "\nТир %d: %s, %s %s\n", t.Tier.CreditTier, common.FormatBalance(t.Tier.Price), state, mark(t.Validation))
		for _, w := range t.Weights {
			fmt.Fprintf(&sb, "   %s%s: %d / %d\n", off(w.IsActive), names[w.RarityID], w.RealProbability, w.DisplayProbability)
		}
	}

	for _, r := range ov.Rarities {
		if len(r.Rewards) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n%s %s\n", r.Rarity.Name, mark(r.Validation))
		for _, rw := range r.Rewards {
			label := rw.Label
			if rw.Type == catalog.RewardCash && rw.Amount != nil {
				label += " (" + common.FormatBalance(*rw.Amount) + ")"
			}
			fmt.Fprintf(&sb, "   %s#%d %s: %d / %d\n", off(rw.IsActive), rw.ID, label, rw.RealProbability, rw.DisplayProbability)
		}
	}
	sb.WriteString("\nФормат: реальная / витринная вероятность")
	return sb.String()
}

func mark(v catalog.Validation) string {
	if v.OK {
		return "✅"
	}
	return fmt.Sprintf("⚠️ суммы %d / %d", v.RealSum, v.DisplaySum)
}

func off(active bool) string {
	if active {
		return ""
	}
	return "(выкл) "
}

// handleReward меняет одну награду: !награда 12 off или !награда 12 real=40 display=50.
func (h *Handler) handleReward(ctx context.Context, chatID int64, actor *members.Member, args []string) {
	if len(args) < 2 {
		h.send(chatID, "Использование: !награда <id> on|off|real=N|display=N")
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		h.send(chatID, "❌ Некорректный id награды")
		return
	}
	patch, err := ParseRewardPatch(args[1:])
	if err != nil {
		h.reply(chatID, err)
		return
	}

	v, err := h.gateway.SetRewardState(ctx, actor, id, patch)
	if err != nil {
		h.reply(chatID, err)
		return
	}
	h.send(chatID, fmt.Sprintf("✅ Награда #%d сохранена. Суммы: %d / %d", id, v.RealSum, v.DisplaySum))
}

// ParseRewardPatch разбирает аргументы вида on, off, real=N, display=N.
func ParseRewardPatch(args []string) (catalog.RewardPatch, error) {
	var p catalog.RewardPatch
	bad := func(arg string) error {
		return common.ErrInvalidArgument.WithMessage(fmt.Sprintf("не понимаю %q, ожидается on, off, real=N или display=N", arg))
	}
	for _, arg := range args {
		key, value, hasValue := strings.Cut(strings.ToLower(arg), "=")
		switch {
		case !hasValue && (key == "on" || key == "off"):
			active := key == "on"
			p.IsActive = &active
		case hasValue && (key == "real" || key == "display"):
			n, err := strconv.Atoi(value)
			if err != nil {
				return p, bad(arg)
			}
			if key == "real" {
				p.RealProbability = &n
			} else {
				p.DisplayProbability = &n
			}
		default:
			return p, bad(arg)
		}
	}
	if p.IsActive == nil && p.RealProbability == nil && p.DisplayProbability == nil {
		return p, common.ErrInvalidArgument.WithMessage("нечего менять")
	}
	return p, nil
}

func (h *Handler) handleProcessed(ctx context.Context, chatID int64, actor *members.Member, args []string) {
	if len(args) == 0 {
		h.send(chatID, "Использование: !выдано <id бокса>")
		return
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		h.send(chatID, "❌ Некорректный идентификатор бокса")
		return
	}
	if _, err := h.gateway.MarkProcessed(ctx, actor, id); err != nil {
		h.reply(chatID, err)
		return
	}
	h.send(chatID, "✅ Выдача награды отмечена")
}

func (h *Handler) handleRole(ctx context.Context, chatID int64, actor *members.Member, args []string) {
	if len(args) < 2 {
		h.send(chatID, "Использование: !роль @user ADMIN|CS|MEMBER")
		return
	}
	target, err := h.members.GetByUsername(ctx, actor.TenantID, args[0])
	if err != nil {
		h.reply(chatID, err)
		return
	}
	role := members.Role(strings.ToUpper(args[1]))
	if err := h.gateway.AssignRole(ctx, actor, target.ID, role); err != nil {
		h.reply(chatID, err)
		return
	}
	h.send(chatID, fmt.Sprintf("✅ %s теперь %s", target.DisplayName(), role))
}

func (h *Handler) handleStaff(ctx context.Context, chatID int64, actor *members.Member) {
	staff, err := h.gateway.Staff(ctx, actor)
	if err != nil {
		h.reply(chatID, err)
		return
	}
	var sb strings.Builder
	sb.WriteString("👥 Администрация:")
	for _, s := range staff {
		fmt.Fprintf(&sb, "\n%s — %s", s.DisplayName(), s.Role)
	}
	h.send(chatID, sb.String())
}

// reply отправляет понятное пользователю сообщение об ошибке.
func (h *Handler) reply(chatID int64, err error) {
	if common.KindOf(err) == "" {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка админ-команды")
	}
	h.send(chatID, "❌ "+common.UserMessage(err))
}

func (h *Handler) send(chatID int64, text string) {
	if _, err := h.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}
