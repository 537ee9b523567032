// Package testkit: хранилище в памяти для тестов сервисов.
// Реализует интерфейсы хранилищ фич поверх одной структуры состояния,
// транзакции эмулируются снимком состояния и откатом при ошибке.
package testkit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"serotonyl.ru/mystery-box/internal/db/postgres"
	"serotonyl.ru/mystery-box/internal/features/admin"
	"serotonyl.ru/mystery-box/internal/features/boxes"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/ledger"
	"serotonyl.ru/mystery-box/internal/features/members"
)

type tierKey struct {
	tenantID int64
	tier     int
}

type weightKey struct {
	tenantID int64
	tier     int
	rarityID int64
}

type state struct {
	nextID   int64
	tenants  map[int64]*members.Tenant
	members  map[int64]*members.Member
	entries  []*ledger.Entry
	rarities map[int64]*catalog.Rarity
	tiers    map[tierKey]*catalog.Tier
	weights  map[weightKey]*catalog.RarityWeight
	rewards  map[int64]*catalog.Reward
	boxes    map[uuid.UUID]*boxes.Box
	sessions []*admin.Session
	attempts []*admin.LoginAttempt
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// clone делает глубокую копию для отката транзакции.
func (s *state) clone() *state {
	return &state{
		nextID:   s.nextID,
		tenants:  cloneMap(s.tenants),
		members:  cloneMap(s.members),
		entries:  cloneSlice(s.entries),
		rarities: cloneMap(s.rarities),
		tiers:    cloneMap(s.tiers),
		weights:  cloneMap(s.weights),
		rewards:  cloneMap(s.rewards),
		boxes:    cloneMap(s.boxes),
		sessions: cloneSlice(s.sessions),
		attempts: cloneSlice(s.attempts),
	}
}

func cloneMap[K comparable, V any](m map[K]*V) map[K]*V {
	out := make(map[K]*V, len(m))
	for k, v := range m {
		c := *v
		out[k] = &c
	}
	return out
}

func cloneSlice[V any](s []*V) []*V {
	out := make([]*V, len(s))
	for i, v := range s {
		c := *v
		out[i] = &c
	}
	return out
}

// Store: общее состояние в памяти.
type Store struct {
	mu        sync.Mutex
	st        *state
	conflicts int
	failures  map[uuid.UUID]error

	// блокировки каталога по тенантам, без отката
	catalogLocks map[int64]int

	// Attempts: сколько раз запускалась функция транзакции (с повторами).
	Attempts int
	// Policy: политика повторов, как у настоящего TxManager.
	Policy postgres.RetryPolicy
}

// NewStore создаёт хранилище с шестью редкостями, как после миграции.
func NewStore() *Store {
	st := &state{
		tenants:  map[int64]*members.Tenant{},
		members:  map[int64]*members.Member{},
		rarities: map[int64]*catalog.Rarity{},
		tiers:    map[tierKey]*catalog.Tier{},
		weights:  map[weightKey]*catalog.RarityWeight{},
		rewards:  map[int64]*catalog.Reward{},
		boxes:    map[uuid.UUID]*boxes.Box{},
	}
	seed := []struct {
		code  catalog.RarityCode
		name  string
		color string
	}{
		{catalog.RaritySpecialLegendary, "Особая легендарная", "red"},
		{catalog.RarityLegendary, "Легендарная", "gold"},
		{catalog.RaritySupreme, "Высшая", "orange"},
		{catalog.RarityEpic, "Эпическая", "purple"},
		{catalog.RarityRare, "Редкая", "blue"},
		{catalog.RarityCommon, "Обычная", "gray"},
	}
	for i, r := range seed {
		id := int64(i + 1)
		st.rarities[id] = &catalog.Rarity{ID: id, Code: r.code, Name: r.name, ColorKey: r.color, SortOrder: i + 1}
	}
	st.nextID = 100
	return &Store{
		st:           st,
		failures:     map[uuid.UUID]error{},
		catalogLocks: map[int64]int{},
		Policy:       postgres.RetryPolicy{MaxRetries: 3},
	}
}

// InjectConflicts заставляет следующие n транзакций на запись
// завершиться ошибкой сериализации после выполнения функции.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// CatalogLocks возвращает, сколько раз бралась блокировка каталога тенанта.
func (s *Store) CatalogLocks(tenantID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalogLocks[tenantID]
}

// FailExpire заставляет истечение бокса id завершаться ошибкой.
func (s *Store) FailExpire(id uuid.UUID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id] = err
}

// Transactor эмулирует UnitOfWork: Do и View под общей блокировкой,
// откат состояния при ошибке, повторы через postgres.Retry.
type Transactor[T any] struct {
	s    *Store
	bind func(s *Store) T
}

// Do выполняет fn атомарно.
func (t *Transactor[T]) Do(ctx context.Context, fn func(tx T) error) error {
	return postgres.Retry(ctx, t.s.Policy, func() error {
		return t.s.run(ctx, true, func() error { return fn(t.bind(t.s)) })
	})
}

// View выполняет fn без записи. Изменения, если были, откатываются.
func (t *Transactor[T]) View(ctx context.Context, fn func(tx T) error) error {
	return postgres.Retry(ctx, t.s.Policy, func() error {
		return t.s.run(ctx, false, func() error { return fn(t.bind(t.s)) })
	})
}

func (s *Store) run(ctx context.Context, write bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.Attempts++
	snap := s.st.clone()
	err := fn()
	if err == nil && write && s.conflicts > 0 {
		s.conflicts--
		err = &pgconn.PgError{Code: postgres.CodeSerializationFailure, Message: "could not serialize access"}
	}
	if err != nil || !write {
		s.st = snap
	}
	return err
}

// Ledger возвращает транзакции журнала.
func (s *Store) Ledger() *Transactor[ledger.Tx] {
	return &Transactor[ledger.Tx]{s: s, bind: func(s *Store) ledger.Tx { return &ledgerTx{s: s} }}
}

// Catalog возвращает транзакции каталога.
func (s *Store) Catalog() *Transactor[catalog.Tx] {
	return &Transactor[catalog.Tx]{s: s, bind: func(s *Store) catalog.Tx { return &catalogTx{s: s} }}
}

// Boxes возвращает транзакции боксов.
func (s *Store) Boxes() *Transactor[boxes.Tx] {
	return &Transactor[boxes.Tx]{s: s, bind: func(s *Store) boxes.Tx { return &boxesTx{s: s} }}
}

// Members возвращает хранилище участников (вне транзакций, как репозиторий на пуле).
func (s *Store) Members() members.Store { return &memberStore{s: s} }

// Sessions возвращает хранилище админ-сессий.
func (s *Store) Sessions() admin.SessionStore { return &sessionStore{s: s} }

// --- Подготовка данных ---

// AddTenant создаёт тенанта.
func (s *Store) AddTenant(code string) *members.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &members.Tenant{ID: s.st.id(), Code: code, Name: code, CreatedAt: time.Now().UTC()}
	s.st.tenants[t.ID] = t
	c := *t
	return &c
}

// AddMember создаёт участника. Положительный баланс проводится
// записью TOPUP, поэтому кэш и журнал согласованы.
func (s *Store) AddMember(tenantID, userID int64, username string, role members.Role, balance int64) *members.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	m := &members.Member{
		ID: s.st.id(), TenantID: tenantID, UserID: userID, Username: username,
		Role: role, CreditBalance: balance, CreatedAt: now, UpdatedAt: now,
	}
	s.st.members[m.ID] = m
	if balance > 0 {
		s.st.entries = append(s.st.entries, &ledger.Entry{
			ID: s.st.id(), TenantID: tenantID, MemberID: m.ID, Delta: balance, BalanceAfter: balance,
			Kind: ledger.KindTopUp, Description: "Начальный баланс", CreatedAt: now,
		})
	}
	c := *m
	return &c
}

// Weight: строка таблицы редкостей тира для SetTier.
type Weight struct {
	Rarity  catalog.RarityCode
	Real    int
	Display int
}

// SetTier создаёт или заменяет тир вместе с таблицей редкостей.
func (s *Store) SetTier(tenantID int64, tier int, price int64, active bool, weights ...Weight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.tiers[tierKey{tenantID, tier}] = &catalog.Tier{TenantID: tenantID, CreditTier: tier, Price: price, IsActive: active}
	for k := range s.st.weights {
		if k.tenantID == tenantID && k.tier == tier {
			delete(s.st.weights, k)
		}
	}
	for _, w := range weights {
		r := s.rarityByCode(w.Rarity)
		s.st.weights[weightKey{tenantID, tier, r.ID}] = &catalog.RarityWeight{
			TenantID: tenantID, CreditTier: tier, RarityID: r.ID, RaritySort: r.SortOrder,
			RealProbability: w.Real, DisplayProbability: w.Display, IsActive: true,
		}
	}
}

// AddCash добавляет активную денежную награду.
func (s *Store) AddCash(tenantID int64, code catalog.RarityCode, label string, amount int64, real, display int) *catalog.Reward {
	return s.addReward(tenantID, code, label, catalog.RewardCash, &amount, real, display)
}

// AddItem добавляет активную награду-предмет.
func (s *Store) AddItem(tenantID int64, code catalog.RarityCode, label string, real, display int) *catalog.Reward {
	return s.addReward(tenantID, code, label, catalog.RewardItem, nil, real, display)
}

func (s *Store) addReward(tenantID int64, code catalog.RarityCode, label string, typ catalog.RewardType, amount *int64, real, display int) *catalog.Reward {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	rw := &catalog.Reward{
		ID: s.st.id(), TenantID: tenantID, RarityID: s.rarityByCode(code).ID, Label: label,
		Type: typ, Amount: amount, IsActive: true,
		RealProbability: real, DisplayProbability: display, CreatedAt: now, UpdatedAt: now,
	}
	s.st.rewards[rw.ID] = rw
	c := *rw
	return &c
}

func (s *Store) rarityByCode(code catalog.RarityCode) *catalog.Rarity {
	for _, r := range s.st.rarities {
		if r.Code == code {
			return r
		}
	}
	panic("testkit: неизвестная редкость " + string(code))
}

// RarityID возвращает ID редкости по коду.
func (s *Store) RarityID(code catalog.RarityCode) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rarityByCode(code).ID
}

// --- Чтение состояния в тестах ---

// Member возвращает копию участника.
func (s *Store) Member(id int64) *members.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.members[id]
	if !ok {
		return nil
	}
	c := *m
	return &c
}

// SetCachedBalance портит кэш баланса в обход журнала (для проверки сверки).
func (s *Store) SetCachedBalance(memberID, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.members[memberID].CreditBalance = balance
}

// Entries возвращает записи журнала участника в порядке добавления.
func (s *Store) Entries(memberID int64) []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Entry
	for _, e := range s.st.entries {
		if e.MemberID == memberID {
			out = append(out, *e)
		}
	}
	return out
}

// Box возвращает копию бокса.
func (s *Store) Box(id uuid.UUID) *boxes.Box {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.boxes[id]
	if !ok {
		return nil
	}
	c := *b
	return &c
}

// SetBoxExpiry сдвигает срок хранения бокса.
func (s *Store) SetBoxExpiry(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.boxes[id].ExpiresAt = at
}

// CountBoxes возвращает число боксов в статусе.
func (s *Store) CountBoxes(status boxes.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.st.boxes {
		if b.Status == status {
			n++
		}
	}
	return n
}

// Reward возвращает копию награды.
func (s *Store) Reward(id int64) *catalog.Reward {
	s.mu.Lock()
	defer s.mu.Unlock()
	rw, ok := s.st.rewards[id]
	if !ok {
		return nil
	}
	c := *rw
	return &c
}

// Rewards возвращает копии всех наград тенанта.
func (s *Store) Rewards(tenantID int64) map[int64]catalog.Reward {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]catalog.Reward{}
	for id, rw := range s.st.rewards {
		if rw.TenantID == tenantID {
			out[id] = *rw
		}
	}
	return out
}

// Weights возвращает копию таблицы редкостей тира по ID редкости.
func (s *Store) Weights(tenantID int64, tier int) map[int64]catalog.RarityWeight {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]catalog.RarityWeight{}
	for k, w := range s.st.weights {
		if k.tenantID == tenantID && k.tier == tier {
			out[k.rarityID] = *w
		}
	}
	return out
}

// Tier возвращает копию тира.
func (s *Store) Tier(tenantID int64, tier int) *catalog.Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tiers[tierKey{tenantID, tier}]
	if !ok {
		return nil
	}
	c := *t
	return &c
}
