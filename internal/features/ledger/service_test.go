package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/ledger"
	"serotonyl.ru/mystery-box/internal/features/members"
	"serotonyl.ru/mystery-box/internal/testkit"
)

// tick: часы, которые сдвигаются на секунду при каждом вызове.
func tick() func() time.Time {
	var mu sync.Mutex
	at := time.Now().UTC()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at = at.Add(time.Second)
		return at
	}
}

func setup(t *testing.T, balance int64) (*testkit.Store, *ledger.Service, *members.Member) {
	t.Helper()
	st := testkit.NewStore()
	tenant := st.AddTenant("acme")
	m := st.AddMember(tenant.ID, 1001, "alice", members.RoleMember, balance)
	return st, ledger.NewService(st.Ledger()).WithClock(tick()), m
}

// checkCache проверяет, что кэш равен balance_after последней записи.
func checkCache(t *testing.T, st *testkit.Store, memberID int64) {
	t.Helper()
	entries := st.Entries(memberID)
	var latest int64
	if len(entries) > 0 {
		latest = entries[len(entries)-1].BalanceAfter
	}
	if got := st.Member(memberID).CreditBalance; got != latest {
		t.Errorf("кэш баланса = %d, последняя запись = %d", got, latest)
	}
}

func TestTopUpAndAdjust(t *testing.T) {
	st, svc, m := setup(t, 0)
	ctx := context.Background()
	admin := int64(77)

	e, err := svc.TopUp(ctx, m.TenantID, m.ID, 500, "", &admin)
	if err != nil {
		t.Fatalf("TopUp: %v", err)
	}
	if e.BalanceAfter != 500 || e.Kind != ledger.KindTopUp || e.CreatedBy == nil || *e.CreatedBy != admin {
		t.Errorf("entry = %+v", e)
	}
	if e.Description == "" {
		t.Error("пустое описание пополнения")
	}

	e, err = svc.Adjust(ctx, m.TenantID, m.ID, -200, "возврат", &admin)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if e.BalanceAfter != 300 || e.Delta != -200 {
		t.Errorf("entry = %+v", e)
	}

	balance, err := svc.Balance(ctx, m.TenantID, m.ID)
	if err != nil || balance != 300 {
		t.Errorf("Balance = %d, %v; want 300", balance, err)
	}
	checkCache(t, st, m.ID)
}

func TestAdjustCannotOverdraw(t *testing.T) {
	st, svc, m := setup(t, 100)

	_, err := svc.Adjust(context.Background(), m.TenantID, m.ID, -101, "", nil)
	if !errors.Is(err, common.ErrInsufficientCredit) {
		t.Fatalf("err = %v, want InsufficientCredit", err)
	}
	d := common.DetailsOf(err)
	if d["balance"] != int64(100) || d["required"] != int64(101) {
		t.Errorf("details = %v", d)
	}
	if got := len(st.Entries(m.ID)); got != 1 {
		t.Errorf("записей = %d, want 1 (только начальный баланс)", got)
	}
	checkCache(t, st, m.ID)
}

func TestRejectsBadAmounts(t *testing.T) {
	_, svc, m := setup(t, 100)
	ctx := context.Background()

	if _, err := svc.TopUp(ctx, m.TenantID, m.ID, 0, "", nil); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("TopUp(0) = %v", err)
	}
	if _, err := svc.TopUp(ctx, m.TenantID, m.ID, -5, "", nil); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("TopUp(-5) = %v", err)
	}
	if _, err := svc.Adjust(ctx, m.TenantID, m.ID, 0, "", nil); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("Adjust(0) = %v", err)
	}
}

func TestOtherTenantMemberNotFound(t *testing.T) {
	st, svc, m := setup(t, 100)
	other := st.AddTenant("other")

	_, err := svc.TopUp(context.Background(), other.ID, m.ID, 10, "", nil)
	if !errors.Is(err, common.ErrMemberNotFound) {
		t.Fatalf("err = %v, want MemberNotFound", err)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	st, svc, m := setup(t, 1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, rejected := 0, 0
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Adjust(ctx, m.TenantID, m.ID, -100, "", nil)
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

	if ok != 10 || rejected != 20 {
		t.Errorf("ok = %d, rejected = %d; want 10/20", ok, rejected)
	}
	if got := st.Member(m.ID).CreditBalance; got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	checkCache(t, st, m.ID)
}

func TestHistoryNewestFirst(t *testing.T) {
	_, svc, m := setup(t, 0)
	ctx := context.Background()

	for _, amount := range []int64{10, 20, 30} {
		if _, err := svc.TopUp(ctx, m.TenantID, m.ID, amount, "", nil); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := svc.History(ctx, m.TenantID, m.ID, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 2 || entries[0].Delta != 30 || entries[1].Delta != 20 {
		t.Errorf("history = %+v", entries)
	}

	all, err := svc.TenantLedger(ctx, ledger.Filter{TenantID: m.TenantID, Kinds: []ledger.Kind{ledger.KindTopUp}})
	if err != nil || len(all) != 3 {
		t.Errorf("TenantLedger = %d записей, %v", len(all), err)
	}

	if _, err := svc.TenantLedger(ctx, ledger.Filter{TenantID: m.TenantID, Kinds: []ledger.Kind{"REFUND"}}); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("неизвестный тип: err = %v", err)
	}
}

func TestReconcileFixesDivergentCache(t *testing.T) {
	st, svc, m := setup(t, 300)
	clean := st.AddMember(m.TenantID, 1002, "bob", members.RoleMember, 50)
	empty := st.AddMember(m.TenantID, 1003, "carol", members.RoleMember, 0)

	st.SetCachedBalance(m.ID, 999)
	st.SetCachedBalance(empty.ID, 5)

	res, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Checked != 3 || res.Fixed != 2 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
	for _, id := range []int64{m.ID, clean.ID, empty.ID} {
		checkCache(t, st, id)
	}

	// Повторная сверка ничего не меняет
	res, err = svc.Reconcile(context.Background())
	if err != nil || res.Fixed != 0 {
		t.Errorf("повторная сверка: %+v, %v", res, err)
	}
}

// orderStore записывает порядок обращений Append к хранилищу и часам.
type orderStore struct {
	calls []string
}

func (s *orderStore) LockBalance(context.Context, int64, int64) (int64, error) {
	s.calls = append(s.calls, "lock")
	return 10, nil
}

func (s *orderStore) SetBalance(context.Context, int64, int64, int64) error {
	s.calls = append(s.calls, "set")
	return nil
}

func (s *orderStore) InsertEntry(context.Context, *ledger.Entry) error {
	s.calls = append(s.calls, "insert")
	return nil
}

func TestAppendStampsEntryUnderLock(t *testing.T) {
	st := &orderStore{}
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	e, err := ledger.Append(context.Background(), st, ledger.AppendRequest{
		TenantID: 1, MemberID: 2, Delta: -3, Kind: ledger.KindBoxPurchase,
		Clock: func() time.Time {
			st.calls = append(st.calls, "clock")
			return at
		},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	want := []string{"lock", "clock", "insert", "set"}
	if len(st.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", st.calls, want)
	}
	for i := range want {
		if st.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", st.calls, want)
		}
	}
	if !e.CreatedAt.Equal(at) || e.BalanceAfter != 7 {
		t.Errorf("entry = %+v", e)
	}
}
