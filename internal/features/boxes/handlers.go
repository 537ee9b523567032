// Package boxes: handlers.go обрабатывает команды участников в Telegram.
// !купить <тир>, !боксы (с кнопками открытия), !открыть <id>, !шансы <тир>.
package boxes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/members"
)

// CallbackOpen: префикс данных inline-кнопки открытия бокса.
const CallbackOpen = "open:"

// Sender: часть Telegram API, которой пользуются обработчики.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handler обрабатывает команды боксов.
type Handler struct {
	service *Service
	catalog *catalog.Service
	bot     Sender
	loc     *time.Location
}

// NewHandler создаёт обработчик боксов.
func NewHandler(service *Service, cat *catalog.Service, bot Sender, loc *time.Location) *Handler {
	return &Handler{service: service, catalog: cat, bot: bot, loc: loc}
}

// HandlePurchase покупает бокс выбранного тира.
func (h *Handler) HandlePurchase(ctx context.Context, chatID int64, m *members.Member, args []string) {
	tier, ok := parseTier(args)
	if !ok {
		h.send(chatID, h.tiersHint(ctx, m.TenantID, "Использование: !купить <тир>"))
		return
	}

	res, err := h.service.Purchase(ctx, m.TenantID, m.ID, tier)
	if err != nil {
		h.fail(chatID, m, "purchase", err)
		return
	}

	text := fmt.Sprintf(
		"📦 %s, вы купили бокс за %s!\nРедкость: %s\nОткрыть до: %s\nНа счёте: %s",
		m.DisplayName(),
		common.FormatBalance(res.CreditSpent),
		res.Rarity.Name,
		common.FormatDateTime(res.ExpiresAt, h.loc),
		common.FormatBalance(res.CreditsAfter),
	)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(openButton(res.TransactionID, "🎁 Открыть")),
	)
	h.sendMsg(msg)
}

// HandleInventory показывает неоткрытые боксы участника с кнопками открытия.
func (h *Handler) HandleInventory(ctx context.Context, chatID int64, m *members.Member) {
	list, err := h.service.Inventory(ctx, m.TenantID, m.ID)
	if err != nil {
		h.fail(chatID, m, "inventory", err)
		return
	}
	if len(list) == 0 {
		h.send(chatID, "📭 У вас нет неоткрытых боксов. Купить: !купить <тир>")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📦 У вас %d %s:\n", len(list), common.PluralizeBoxes(len(list)))
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, b := range list {
		name := h.rarityName(ctx, b.RarityID)
		fmt.Fprintf(&sb, "\n%d. %s, тир %d, до %s", i+1, name, b.CreditTier, common.FormatDateTime(b.ExpiresAt, h.loc))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			openButton(b.ID, fmt.Sprintf("🎁 %d. %s", i+1, name)),
		))
	}
	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.sendMsg(msg)
}

// HandleOpen открывает бокс по идентификатору из команды.
func (h *Handler) HandleOpen(ctx context.Context, chatID int64, m *members.Member, args []string) {
	if len(args) == 0 {
		h.send(chatID, "Использование: !открыть <id>. Список боксов: !боксы")
		return
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		h.send(chatID, "❌ Некорректный идентификатор бокса")
		return
	}
	text, err := h.open(ctx, m, id)
	if err != nil {
		h.fail(chatID, m, "open", err)
		return
	}
	h.send(chatID, text)
}

// HandleOpenCallback обрабатывает нажатие inline-кнопки «Открыть».
func (h *Handler) HandleOpenCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, m *members.Member) {
	id, err := uuid.Parse(strings.TrimPrefix(cq.Data, CallbackOpen))
	if err != nil {
		h.answer(cq.ID, "Некорректная кнопка")
		return
	}

	text, err := h.open(ctx, m, id)
	if err != nil {
		if common.KindOf(err) == "" {
			log.WithError(err).WithField("member_id", m.ID).Error("Ошибка открытия бокса")
		}
		h.answer(cq.ID, common.UserMessage(err))
		return
	}
	h.answer(cq.ID, "🎉 Бокс открыт!")
	if cq.Message != nil {
		h.send(cq.Message.Chat.ID, text)
	}
}

func (h *Handler) open(ctx context.Context, m *members.Member, id uuid.UUID) (string, error) {
	res, err := h.service.Open(ctx, m.TenantID, m.ID, id)
	if err != nil {
		return "", err
	}
	prize := res.Reward.Label
	if res.Reward.Type == catalog.RewardCash && res.Reward.Amount != nil {
		prize = fmt.Sprintf("%s (%s)", res.Reward.Label, common.FormatBalance(*res.Reward.Amount))
	}
	return fmt.Sprintf("🎉 %s открывает бокс!\nРедкость: %s\nНаграда: %s\nНа счёте: %s",
		m.DisplayName(), res.Rarity.Name, prize, common.FormatBalance(res.CreditsAfter)), nil
}

// HandleDrops показывает, что может выпасть в боксе тира.
// Шансы витринные, реальные вероятности участникам не показываются.
func (h *Handler) HandleDrops(ctx context.Context, chatID int64, m *members.Member, args []string) {
	tier, ok := parseTier(args)
	if !ok {
		h.send(chatID, h.tiersHint(ctx, m.TenantID, "Использование: !шансы <тир>"))
		return
	}
	drops, err := h.catalog.TierDrops(ctx, m.TenantID, tier)
	if err != nil {
		h.fail(chatID, m, "drops", err)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🎲 Бокс тира %d за %s:\n", drops.CreditTier, common.FormatBalance(drops.Price))
	for _, r := range drops.Rarities {
		fmt.Fprintf(&sb, "\n%s: %d%%", r.Rarity.Name, r.DisplayProbability)
		rewards, err := h.catalog.RarityDrops(ctx, m.TenantID, r.Rarity.ID)
		if err != nil {
			log.WithError(err).WithField("rarity_id", r.Rarity.ID).Warn("Не удалось получить награды редкости")
			continue
		}
		for _, rw := range rewards.Rewards {
			fmt.Fprintf(&sb, "\n   • %s: %d%%", rw.Label, rw.DisplayProbability)
		}
	}
	h.send(chatID, sb.String())
}

func (h *Handler) tiersHint(ctx context.Context, tenantID int64, usage string) string {
	tiers, err := h.catalog.ActiveTiers(ctx, tenantID)
	if err != nil || len(tiers) == 0 {
		return usage
	}
	parts := make([]string, 0, len(tiers))
	for _, t := range tiers {
		parts = append(parts, fmt.Sprintf("%d (%s)", t.CreditTier, common.FormatBalance(t.Price)))
	}
	return usage + "\nДоступные тиры: " + strings.Join(parts, ", ")
}

func (h *Handler) rarityName(ctx context.Context, id int64) string {
	r, err := h.catalog.Rarity(ctx, id)
	if err != nil {
		return "?"
	}
	return r.Name
}

func (h *Handler) fail(chatID int64, m *members.Member, op string, err error) {
	if common.KindOf(err) == "" {
		log.WithError(err).WithFields(log.Fields{
			"op":        op,
			"member_id": m.ID,
		}).Error("Ошибка операции с боксом")
	}
	text := "❌ " + common.UserMessage(err)
	if common.KindOf(err) == common.KindInsufficientCredit {
		if price, ok := common.DetailsOf(err)["price"].(int64); ok {
			text += fmt.Sprintf(" (нужно %s)", common.FormatBalance(price))
		}
	}
	h.send(chatID, text)
}

func openButton(id uuid.UUID, label string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(label, CallbackOpen+id.String())
}

func parseTier(args []string) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	tier, err := strconv.Atoi(args[0])
	if err != nil || tier <= 0 {
		return 0, false
	}
	return tier, true
}

func (h *Handler) answer(callbackID, text string) {
	if _, err := h.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		log.WithError(err).Warn("Ошибка ответа на callback")
	}
}

func (h *Handler) send(chatID int64, text string) {
	h.sendMsg(tgbotapi.NewMessage(chatID, text))
}

func (h *Handler) sendMsg(msg tgbotapi.MessageConfig) {
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", msg.ChatID).Error("Ошибка отправки сообщения")
	}
}
