package testkit

import (
	"cmp"
	"context"
	"slices"
	"time"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/members"
)

type memberStore struct {
	s *Store
}

func (m *memberStore) EnsureTenant(_ context.Context, code, name string) (*members.Tenant, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, t := range m.s.st.tenants {
		if t.Code == code {
			c := *t
			return &c, nil
		}
	}
	t := &members.Tenant{ID: m.s.st.id(), Code: code, Name: name, CreatedAt: time.Now().UTC()}
	m.s.st.tenants[t.ID] = t
	c := *t
	return &c, nil
}

func (m *memberStore) TenantByCode(_ context.Context, code string) (*members.Tenant, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, t := range m.s.st.tenants {
		if t.Code == code {
			c := *t
			return &c, nil
		}
	}
	return nil, common.ErrInvalidArgument.WithMessage("тенант не найден")
}

func (m *memberStore) Upsert(_ context.Context, tenantID int64, p members.Profile) (*members.Member, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := time.Now().UTC()
	for _, mem := range m.s.st.members {
		if mem.TenantID == tenantID && mem.UserID == p.UserID {
			mem.Username = p.Username
			mem.FirstName = p.FirstName
			mem.UpdatedAt = now
			c := *mem
			return &c, nil
		}
	}
	mem := &members.Member{
		ID: m.s.st.id(), TenantID: tenantID, UserID: p.UserID, Username: p.Username,
		FirstName: p.FirstName, Role: members.RoleMember, CreatedAt: now, UpdatedAt: now,
	}
	m.s.st.members[mem.ID] = mem
	c := *mem
	return &c, nil
}

func (m *memberStore) find(match func(*members.Member) bool) (*members.Member, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, mem := range m.s.st.members {
		if match(mem) {
			c := *mem
			return &c, nil
		}
	}
	return nil, common.ErrMemberNotFound
}

func (m *memberStore) GetByID(_ context.Context, tenantID, id int64) (*members.Member, error) {
	return m.find(func(mem *members.Member) bool { return mem.TenantID == tenantID && mem.ID == id })
}

func (m *memberStore) GetByUserID(_ context.Context, tenantID, userID int64) (*members.Member, error) {
	return m.find(func(mem *members.Member) bool { return mem.TenantID == tenantID && mem.UserID == userID })
}

func (m *memberStore) GetByUsername(_ context.Context, tenantID int64, username string) (*members.Member, error) {
	return m.find(func(mem *members.Member) bool { return mem.TenantID == tenantID && mem.Username == username })
}

func (m *memberStore) UpdateRole(_ context.Context, tenantID, id int64, role members.Role) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	mem, ok := m.s.st.members[id]
	if !ok || mem.TenantID != tenantID {
		return common.ErrMemberNotFound
	}
	mem.Role = role
	return nil
}

func (m *memberStore) ListStaff(_ context.Context, tenantID int64) ([]*members.Member, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*members.Member
	for _, mem := range m.s.st.members {
		if mem.TenantID == tenantID && mem.Role.CanRead() {
			c := *mem
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *members.Member) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}
