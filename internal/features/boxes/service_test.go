package boxes_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/boxes"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/ledger"
	"serotonyl.ru/mystery-box/internal/features/members"
	"serotonyl.ru/mystery-box/internal/testkit"
)

// seq отдаёт заданные значения по очереди, последнее повторяется.
type seq struct {
	mu     sync.Mutex
	values []int64
	calls  int
}

func (s *seq) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	v := s.values[0]
	if len(s.values) > 1 {
		s.values = s.values[1:]
	}
	return v % n
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	tier  = 3
	price = 3
	week  = 7 * 24 * time.Hour
)

type fixture struct {
	store   *testkit.Store
	svc     *boxes.Service
	clock   *clock
	member  *members.Member
	cash    *catalog.Reward
	sticker *catalog.Reward
}

// newFixture: баланс участника 5, тир 3 за 3 кредита, редкости {COMMON:70, RARE:30},
// у COMMON награды {CASH 1000: 50, ITEM "Sticker": 50}, у RARE одна награда.
func newFixture(t *testing.T, balance int64, opts boxes.Options, src ...int64) *fixture {
	t.Helper()
	st := testkit.NewStore()
	tenant := st.AddTenant("acme")
	m := st.AddMember(tenant.ID, 1001, "alice", members.RoleMember, balance)
	st.SetTier(tenant.ID, tier, price, true,
		testkit.Weight{Rarity: catalog.RarityCommon, Real: 70, Display: 60},
		testkit.Weight{Rarity: catalog.RarityRare, Real: 30, Display: 40},
	)
	f := &fixture{
		store:   st,
		clock:   &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
		member:  m,
		cash:    st.AddCash(tenant.ID, catalog.RarityCommon, "1000 кредитов", 1000, 50, 50),
		sticker: st.AddItem(tenant.ID, catalog.RarityCommon, "Sticker", 50, 50),
	}
	st.AddItem(tenant.ID, catalog.RarityRare, "Худи", 100, 100)

	f.svc = boxes.NewService(st.Boxes(), opts).WithClock(f.clock.Now)
	if len(src) > 0 {
		f.svc.WithSource(&seq{values: src})
	}
	return f
}

func (f *fixture) purchase(t *testing.T) *boxes.PurchaseResult {
	t.Helper()
	res, err := f.svc.Purchase(context.Background(), f.member.TenantID, f.member.ID, tier)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	return res
}

func TestPurchaseScenario(t *testing.T) {
	// r = 50 попадает в COMMON: обход RARE [0,30), COMMON [30,100)
	f := newFixture(t, 5, boxes.Options{}, 50)
	now := f.clock.Now()

	res := f.purchase(t)
	if res.CreditsBefore != 5 || res.CreditsAfter != 2 || res.CreditSpent != price || res.CreditTier != tier {
		t.Errorf("result = %+v", res)
	}
	if res.Rarity.Code != catalog.RarityCommon {
		t.Errorf("rarity = %s, want COMMON", res.Rarity.Code)
	}
	if !res.ExpiresAt.Equal(now.Add(week)) {
		t.Errorf("expires_at = %v, want %v", res.ExpiresAt, now.Add(week))
	}

	b := f.store.Box(res.TransactionID)
	if b == nil || b.Status != boxes.StatusPurchased || b.RewardID != nil {
		t.Fatalf("box = %+v", b)
	}
	if got := f.store.Member(f.member.ID).CreditBalance; got != 2 {
		t.Errorf("balance = %d, want 2", got)
	}
	entries := f.store.Entries(f.member.ID)
	last := entries[len(entries)-1]
	if last.Kind != ledger.KindBoxPurchase || last.Delta != -price || last.BalanceAfter != 2 {
		t.Errorf("ledger entry = %+v", last)
	}
}

func TestPurchaseRareWithScriptedDraw(t *testing.T) {
	f := newFixture(t, 5, boxes.Options{}, 29)
	if res := f.purchase(t); res.Rarity.Code != catalog.RarityRare {
		t.Errorf("rarity = %s, want RARE", res.Rarity.Code)
	}
}

func TestOpenScenario(t *testing.T) {
	// 50 -> COMMON при покупке, 60 -> Sticker при открытии (CASH [0,50), Sticker [50,100))
	f := newFixture(t, 5, boxes.Options{}, 50, 60)
	ctx := context.Background()
	bought := f.purchase(t)

	f.clock.Add(time.Hour)
	res, err := f.svc.Open(ctx, f.member.TenantID, f.member.ID, bought.TransactionID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.Reward.ID != f.sticker.ID || res.Reward.Type != catalog.RewardItem {
		t.Errorf("reward = %+v, want Sticker", res.Reward)
	}
	if res.CreditsAfter != 2 || !res.OpenedAt.Equal(f.clock.Now()) {
		t.Errorf("result = %+v", res)
	}

	b := f.store.Box(bought.TransactionID)
	if b.Status != boxes.StatusOpened || b.OpenedAt == nil || b.RewardID == nil || *b.RewardID != f.sticker.ID {
		t.Errorf("box = %+v", b)
	}

	_, err = f.svc.Open(ctx, f.member.TenantID, f.member.ID, bought.TransactionID)
	if !errors.Is(err, common.ErrBoxAlreadyOpened) {
		t.Fatalf("второе открытие: err = %v, want BoxAlreadyOpened", err)
	}
}

func TestOpenExpiredBox(t *testing.T) {
	f := newFixture(t, 5, boxes.Options{}, 50)
	ctx := context.Background()
	bought := f.purchase(t)

	f.clock.Add(week + time.Second)
	_, err := f.svc.Open(ctx, f.member.TenantID, f.member.ID, bought.TransactionID)
	if !errors.Is(err, common.ErrBoxExpired) {
		t.Fatalf("err = %v, want BoxExpired", err)
	}
	if b := f.store.Box(bought.TransactionID); b.Status != boxes.StatusExpired || b.RewardID != nil {
		t.Errorf("box = %+v, want EXPIRED without reward", b)
	}

	_, err = f.svc.Open(ctx, f.member.TenantID, f.member.ID, bought.TransactionID)
	if !errors.Is(err, common.ErrBoxExpired) {
		t.Fatalf("повтор: err = %v, want BoxExpired", err)
	}
}

func TestOpenAtExactExpiry(t *testing.T) {
	f := newFixture(t, 5, boxes.Options{}, 50, 10)
	bought := f.purchase(t)

	f.clock.Add(week)
	res, err := f.svc.Open(context.Background(), f.member.TenantID, f.member.ID, bought.TransactionID)
	if err != nil {
		t.Fatalf("Open в момент expires_at: %v", err)
	}
	if res.Reward.ID != f.cash.ID {
		t.Errorf("reward = %d, want cash %d", res.Reward.ID, f.cash.ID)
	}
}

func TestOpenChecksOwnership(t *testing.T) {
	f := newFixture(t, 5, boxes.Options{}, 50)
	ctx := context.Background()
	bought := f.purchase(t)
	bob := f.store.AddMember(f.member.TenantID, 1002, "bob", members.RoleMember, 0)
	other := f.store.AddTenant("other")

	if _, err := f.svc.Open(ctx, f.member.TenantID, bob.ID, bought.TransactionID); !errors.Is(err, common.ErrBoxNotOwned) {
		t.Errorf("чужой бокс: err = %v, want BoxNotOwned", err)
	}
	if _, err := f.svc.Open(ctx, other.ID, f.member.ID, bought.TransactionID); !errors.Is(err, common.ErrBoxNotFound) {
		t.Errorf("другой тенант: err = %v, want BoxNotFound", err)
	}
	if _, err := f.svc.Open(ctx, f.member.TenantID, f.member.ID, uuid.New()); !errors.Is(err, common.ErrBoxNotFound) {
		t.Errorf("нет бокса: err = %v, want BoxNotFound", err)
	}
	if b := f.store.Box(bought.TransactionID); b.Status != boxes.StatusPurchased {
		t.Errorf("status = %s, want PURCHASED", b.Status)
	}
}

func TestOpenCashAutoCredit(t *testing.T) {
	f := newFixture(t, 5, boxes.Options{CashAutoCredit: true}, 50, 10)
	bought := f.purchase(t)

	res, err := f.svc.Open(context.Background(), f.member.TenantID, f.member.ID, bought.TransactionID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.CreditsAfter != 1002 {
		t.Errorf("credits_after = %d, want 1002", res.CreditsAfter)
	}
	entries := f.store.Entries(f.member.ID)
	last := entries[len(entries)-1]
	if last.Kind != ledger.KindBoxReward || last.Delta != 1000 || last.BalanceAfter != 1002 {
		t.Errorf("ledger entry = %+v", last)
	}
	if got := f.store.Member(f.member.ID).CreditBalance; got != 1002 {
		t.Errorf("balance = %d, want 1002", got)
	}
}

func TestPurchaseRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("не хватает кредитов", func(t *testing.T) {
		f := newFixture(t, 2, boxes.Options{})
		_, err := f.svc.Purchase(ctx, f.member.TenantID, f.member.ID, tier)
		if !errors.Is(err, common.ErrInsufficientCredit) {
			t.Fatalf("err = %v, want InsufficientCredit", err)
		}
		if d := common.DetailsOf(err); d["price"] != int64(price) || d["balance"] != int64(2) {
			t.Errorf("details = %v", d)
		}
		if n := f.store.CountBoxes(boxes.StatusPurchased); n != 0 {
			t.Errorf("боксов = %d, want 0", n)
		}
		if got := f.store.Member(f.member.ID).CreditBalance; got != 2 {
			t.Errorf("balance = %d, want 2", got)
		}
	})

	t.Run("нет тира", func(t *testing.T) {
		f := newFixture(t, 5, boxes.Options{})
		_, err := f.svc.Purchase(ctx, f.member.TenantID, f.member.ID, 99)
		if !errors.Is(err, common.ErrInvalidTier) {
			t.Fatalf("err = %v, want InvalidTier", err)
		}
	})

	t.Run("тир выключен", func(t *testing.T) {
		f := newFixture(t, 5, boxes.Options{})
		f.store.SetTier(f.member.TenantID, tier, price, false,
			testkit.Weight{Rarity: catalog.RarityCommon, Real: 100, Display: 100})
		_, err := f.svc.Purchase(ctx, f.member.TenantID, f.member.ID, tier)
		if !errors.Is(err, common.ErrInvalidTier) {
			t.Fatalf("err = %v, want InvalidTier", err)
		}
	})

	t.Run("таблица не 100", func(t *testing.T) {
		f := newFixture(t, 5, boxes.Options{})
		f.store.SetTier(f.member.TenantID, tier, price, true,
			testkit.Weight{Rarity: catalog.RarityCommon, Real: 70, Display: 70})
		_, err := f.svc.Purchase(ctx, f.member.TenantID, f.member.ID, tier)
		if !errors.Is(err, common.ErrCatalogMisconfigured) {
			t.Fatalf("err = %v, want CatalogMisconfigured", err)
		}
		if got := f.store.Member(f.member.ID).CreditBalance; got != 5 {
			t.Errorf("balance = %d, want 5", got)
		}
	})

	t.Run("пустая таблица", func(t *testing.T) {
		f := newFixture(t, 5, boxes.Options{})
		f.store.SetTier(f.member.TenantID, tier, price, true)
		_, err := f.svc.Purchase(ctx, f.member.TenantID, f.member.ID, tier)
		if !errors.Is(err, common.ErrCatalogMisconfigured) {
			t.Fatalf("err = %v, want CatalogMisconfigured", err)
		}
	})
}

func TestOpenMisconfiguredRarity(t *testing.T) {
	f := newFixture(t, 5, boxes.Options{}, 29)
	ctx := context.Background()
	bought := f.purchase(t) // RARE

	// Ломаем таблицу RARE в обход проверки каталога
	f.store.AddItem(f.member.TenantID, catalog.RarityRare, "Кепка", 10, 10)

	_, err := f.svc.Open(ctx, f.member.TenantID, f.member.ID, bought.TransactionID)
	if !errors.Is(err, common.ErrCatalogMisconfigured) {
		t.Fatalf("err = %v, want CatalogMisconfigured", err)
	}
	if b := f.store.Box(bought.TransactionID); b.Status != boxes.StatusPurchased {
		t.Errorf("status = %s, want PURCHASED", b.Status)
	}
}

func TestConcurrentPurchasesNeverOverdraw(t *testing.T) {
	f := newFixture(t, 30, boxes.Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, rejected := 0, 0
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Purchase(ctx, f.member.TenantID, f.member.ID, tier)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, common.ErrInsufficientCredit):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 10 || rejected != 15 {
		t.Errorf("ok = %d, rejected = %d; want 10/15", ok, rejected)
	}
	if got := f.store.Member(f.member.ID).CreditBalance; got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	if n := f.store.CountBoxes(boxes.StatusPurchased); n != 10 {
		t.Errorf("боксов = %d, want 10", n)
	}
}

func TestConcurrentOpenSucceedsOnce(t *testing.T) {
	f := newFixture(t, 5, boxes.Options{})
	ctx := context.Background()
	bought := f.purchase(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, already := 0, 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Open(ctx, f.member.TenantID, f.member.ID, bought.TransactionID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, common.ErrBoxAlreadyOpened):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || already != 9 {
		t.Errorf("ok = %d, already = %d; want 1/9", ok, already)
	}
}

func TestRetryRedrawsAndDebitsOnce(t *testing.T) {
	src := &seq{values: []int64{50}}
	f := newFixture(t, 5, boxes.Options{})
	f.svc.WithSource(src)
	f.store.InjectConflicts(1)

	res := f.purchase(t)
	if src.calls != 2 {
		t.Errorf("розыгрышей = %d, want 2 (повтор перезапускает розыгрыш)", src.calls)
	}
	if res.CreditsAfter != 2 {
		t.Errorf("credits_after = %d, want 2", res.CreditsAfter)
	}
	purchases := 0
	for _, e := range f.store.Entries(f.member.ID) {
		if e.Kind == ledger.KindBoxPurchase {
			purchases++
		}
	}
	if purchases != 1 {
		t.Errorf("списаний = %d, want 1", purchases)
	}
	if n := f.store.CountBoxes(boxes.StatusPurchased); n != 1 {
		t.Errorf("боксов = %d, want 1", n)
	}
}

func TestConflictExhaustionIsTransient(t *testing.T) {
	f := newFixture(t, 5, boxes.Options{})
	f.store.InjectConflicts(10)

	_, err := f.svc.Purchase(context.Background(), f.member.TenantID, f.member.ID, tier)
	if !errors.Is(err, common.ErrTransientConflict) {
		t.Fatalf("err = %v, want TransientConflict", err)
	}
	if got := f.store.Member(f.member.ID).CreditBalance; got != 5 {
		t.Errorf("balance = %d, want 5", got)
	}
}

func TestSweep(t *testing.T) {
	f := newFixture(t, 100, boxes.Options{SweepBatch: 2, SweepWorkers: 3}, 50, 10)
	ctx := context.Background()

	var ids []uuid.UUID
	for range 6 {
		ids = append(ids, f.purchase(t).TransactionID)
	}
	if _, err := f.svc.Open(ctx, f.member.TenantID, f.member.ID, ids[5]); err != nil {
		t.Fatal(err)
	}

	past := f.clock.Now().Add(-time.Minute)
	for _, id := range ids[:5] {
		f.store.SetBoxExpiry(id, past)
	}
	f.store.SetBoxExpiry(ids[5], past) // открытый бокс не трогаем

	res, err := f.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Expired != 5 || res.Failed != 0 || res.Scanned != 5 {
		t.Errorf("result = %+v, want 5 expired", res)
	}
	for _, id := range ids[:5] {
		if b := f.store.Box(id); b.Status != boxes.StatusExpired {
			t.Errorf("box %s status = %s", id, b.Status)
		}
	}
	if b := f.store.Box(ids[5]); b.Status != boxes.StatusOpened {
		t.Errorf("открытый бокс изменился: %s", b.Status)
	}

	res, err = f.svc.Sweep(ctx)
	if err != nil || res.Expired != 0 || res.Scanned != 0 {
		t.Errorf("повторный проход: %+v, %v", res, err)
	}
}

func TestSweepContinuesAfterRowFailure(t *testing.T) {
	f := newFixture(t, 100, boxes.Options{}, 50)
	ctx := context.Background()

	var ids []uuid.UUID
	for range 4 {
		ids = append(ids, f.purchase(t).TransactionID)
	}
	f.clock.Add(week + time.Hour)
	f.store.FailExpire(ids[1], errors.New("connection reset"))

	res, err := f.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Expired != 3 || res.Failed != 1 {
		t.Errorf("result = %+v, want 3 expired / 1 failed", res)
	}
	if b := f.store.Box(ids[1]); b.Status != boxes.StatusPurchased {
		t.Errorf("status = %s, want PURCHASED", b.Status)
	}
}

func TestMarkProcessed(t *testing.T) {
	f := newFixture(t, 5, boxes.Options{}, 50, 10)
	ctx := context.Background()
	bought := f.purchase(t)
	const adminID = 42

	if _, err := f.svc.MarkProcessed(ctx, f.member.TenantID, bought.TransactionID, adminID); !errors.Is(err, common.ErrInvalidArgument) {
		t.Fatalf("неоткрытый бокс: err = %v, want InvalidArgument", err)
	}
	if _, err := f.svc.Open(ctx, f.member.TenantID, f.member.ID, bought.TransactionID); err != nil {
		t.Fatal(err)
	}

	b, err := f.svc.MarkProcessed(ctx, f.member.TenantID, bought.TransactionID, adminID)
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !b.Processed || b.ProcessedBy == nil || *b.ProcessedBy != adminID || b.Status != boxes.StatusOpened {
		t.Errorf("box = %+v", b)
	}

	if _, err := f.svc.MarkProcessed(ctx, f.member.TenantID, bought.TransactionID, adminID); !errors.Is(err, common.ErrAlreadyProcessed) {
		t.Errorf("повтор: err = %v, want AlreadyProcessed", err)
	}
}

func TestInventoryAndHistory(t *testing.T) {
	f := newFixture(t, 100, boxes.Options{}, 50, 10)
	ctx := context.Background()

	var ids []uuid.UUID
	for range 3 {
		ids = append(ids, f.purchase(t).TransactionID)
		f.clock.Add(time.Minute)
	}
	if _, err := f.svc.Open(ctx, f.member.TenantID, f.member.ID, ids[0]); err != nil {
		t.Fatal(err)
	}

	inv, err := f.svc.Inventory(ctx, f.member.TenantID, f.member.ID)
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if len(inv) != 2 || inv[0].ID != ids[2] || inv[1].ID != ids[1] {
		t.Errorf("inventory = %v, want [%s %s]", boxIDs(inv), ids[2], ids[1])
	}

	opened, err := f.svc.TenantHistory(ctx, boxes.Filter{
		TenantID: f.member.TenantID,
		Statuses: []boxes.Status{boxes.StatusOpened},
	})
	if err != nil || len(opened) != 1 || opened[0].ID != ids[0] {
		t.Errorf("history(OPENED) = %v, %v", boxIDs(opened), err)
	}

	if _, err := f.svc.TenantHistory(ctx, boxes.Filter{TenantID: f.member.TenantID, Statuses: []boxes.Status{"LOST"}}); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("неизвестный статус: err = %v", err)
	}
}

func boxIDs(bs []*boxes.Box) []uuid.UUID {
	out := make([]uuid.UUID, len(bs))
	for i, b := range bs {
		out[i] = b.ID
	}
	return out
}

func TestSkewedClocksKeepLedgerInStep(t *testing.T) {
	f := newFixture(t, 10, boxes.Options{}, 50)
	ctx := context.Background()

	// Вторая реплика с отстающими часами покупает позже первой.
	behind := &clock{now: f.clock.Now().Add(-time.Minute)}
	replica := boxes.NewService(f.store.Boxes(), boxes.Options{}).
		WithClock(behind.Now).
		WithSource(&seq{values: []int64{50}})

	f.purchase(t)
	if _, err := replica.Purchase(ctx, f.member.TenantID, f.member.ID, tier); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if got := f.store.Member(f.member.ID).CreditBalance; got != 4 {
		t.Fatalf("balance = %d, want 4", got)
	}

	res, err := ledger.NewService(f.store.Ledger()).Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Fixed != 0 {
		t.Errorf("Reconcile исправил %d балансов, want 0", res.Fixed)
	}
	if got := f.store.Member(f.member.ID).CreditBalance; got != 4 {
		t.Errorf("balance после сверки = %d, want 4", got)
	}

	history, err := ledger.NewService(f.store.Ledger()).History(ctx, f.member.TenantID, f.member.ID, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].BalanceAfter != 4 || history[1].BalanceAfter != 7 {
		t.Errorf("история должна идти в порядке записи, got %+v", history)
	}
}
