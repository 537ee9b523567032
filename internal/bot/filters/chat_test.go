package filters_test

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"serotonyl.ru/mystery-box/internal/bot/filters"
	"serotonyl.ru/mystery-box/internal/features/members"
	"serotonyl.ru/mystery-box/internal/testkit"
)

const floodChat = -100500

type fakeAPI struct {
	status string
	err    error
	asked  int
	sent   []tgbotapi.Chattable
}

func (f *fakeAPI) GetChatMember(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	f.asked++
	return tgbotapi.ChatMember{Status: f.status}, f.err
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func setup(t *testing.T, api *fakeAPI) (*filters.ChatFilter, *testkit.Store, int64) {
	t.Helper()
	st := testkit.NewStore()
	tenant := st.AddTenant("acme")
	st.AddMember(tenant.ID, 7, "known", members.RoleMember, 0)
	svc := members.NewService(st.Members())
	return filters.NewChatFilter(floodChat, tenant.ID, svc, api), st, tenant.ID
}

func private(id int64) *tgbotapi.Chat { return &tgbotapi.Chat{ID: id, Type: "private"} }

func TestFloodChatAllowed(t *testing.T) {
	api := &fakeAPI{}
	f, _, _ := setup(t, api)
	chat := &tgbotapi.Chat{ID: floodChat, Type: "supergroup"}
	if !f.Allow(context.Background(), chat, &tgbotapi.User{ID: 99}) {
		t.Error("основной чат должен быть разрешён")
	}
	if api.asked != 0 {
		t.Error("для основного чата Telegram не спрашиваем")
	}
}

func TestOtherGroupDenied(t *testing.T) {
	f, _, _ := setup(t, &fakeAPI{})
	chat := &tgbotapi.Chat{ID: -42, Type: "group"}
	if f.Allow(context.Background(), chat, &tgbotapi.User{ID: 7}) {
		t.Error("чужая группа должна быть запрещена")
	}
}

func TestBotsDenied(t *testing.T) {
	f, _, _ := setup(t, &fakeAPI{})
	chat := &tgbotapi.Chat{ID: floodChat, Type: "supergroup"}
	if f.Allow(context.Background(), chat, &tgbotapi.User{ID: 1, IsBot: true}) {
		t.Error("боты не обслуживаются")
	}
}

func TestPrivateKnownMember(t *testing.T) {
	api := &fakeAPI{}
	f, _, _ := setup(t, api)
	if !f.Allow(context.Background(), private(7), &tgbotapi.User{ID: 7}) {
		t.Error("известный участник должен пройти")
	}
	if api.asked != 0 {
		t.Error("известного участника не проверяем через Telegram")
	}
}

func TestPrivateBackfillsChatMember(t *testing.T) {
	api := &fakeAPI{status: "member"}
	f, st, tenantID := setup(t, api)
	svc := members.NewService(st.Members())

	if !f.Allow(context.Background(), private(8), &tgbotapi.User{ID: 8, UserName: "newbie", FirstName: "Новичок"}) {
		t.Fatal("участник основного чата должен пройти")
	}
	m, err := svc.GetByUserID(context.Background(), tenantID, 8)
	if err != nil {
		t.Fatalf("участник не зарегистрирован: %v", err)
	}
	if m.Username != "newbie" || m.Role != members.RoleMember {
		t.Errorf("участник = %+v", m)
	}
}

func TestPrivateStrangerDenied(t *testing.T) {
	api := &fakeAPI{status: "left"}
	f, _, _ := setup(t, api)
	if f.Allow(context.Background(), private(9), &tgbotapi.User{ID: 9}) {
		t.Fatal("посторонний не должен пройти")
	}
	if len(api.sent) != 1 {
		t.Errorf("ожидался один отказ, отправлено %d", len(api.sent))
	}
}

func TestPrivateTelegramError(t *testing.T) {
	api := &fakeAPI{err: errors.New("timeout")}
	f, _, _ := setup(t, api)
	if f.Allow(context.Background(), private(9), &tgbotapi.User{ID: 9}) {
		t.Error("при ошибке Telegram доступ закрыт")
	}
}
