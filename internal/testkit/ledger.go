package testkit

import (
	"cmp"
	"context"
	"slices"

	"github.com/jackc/pgx/v5/pgconn"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/ledger"
)

type ledgerTx struct {
	s *Store
}

func (t *ledgerTx) LockBalance(ctx context.Context, tenantID, memberID int64) (int64, error) {
	return t.Balance(ctx, tenantID, memberID)
}

func (t *ledgerTx) Balance(_ context.Context, tenantID, memberID int64) (int64, error) {
	m, ok := t.s.st.members[memberID]
	if !ok || m.TenantID != tenantID {
		return 0, common.ErrMemberNotFound.With("member_id", memberID)
	}
	return m.CreditBalance, nil
}

func (t *ledgerTx) SetBalance(_ context.Context, tenantID, memberID, balance int64) error {
	m, ok := t.s.st.members[memberID]
	if !ok || m.TenantID != tenantID {
		return common.ErrMemberNotFound.With("member_id", memberID)
	}
	// Как CHECK (credit_balance >= 0) в схеме
	if balance < 0 {
		return &pgconn.PgError{Code: "23514", ConstraintName: "members_credit_balance_check"}
	}
	m.CreditBalance = balance
	return nil
}

func (t *ledgerTx) InsertEntry(_ context.Context, e *ledger.Entry) error {
	e.ID = t.s.st.id()
	c := *e
	t.s.st.entries = append(t.s.st.entries, &c)
	return nil
}

func (t *ledgerTx) LatestBalance(_ context.Context, tenantID, memberID int64) (int64, error) {
	var latest *ledger.Entry
	for _, e := range t.s.st.entries {
		if e.TenantID != tenantID || e.MemberID != memberID {
			continue
		}
		if latest == nil || entryCmp(e, latest) > 0 {
			latest = e
		}
	}
	if latest == nil {
		return 0, nil
	}
	return latest.BalanceAfter, nil
}

func (t *ledgerTx) MemberBalances(_ context.Context, afterID int64, limit int) ([]ledger.BalanceRef, error) {
	var out []ledger.BalanceRef
	for _, m := range t.s.st.members {
		if m.ID > afterID {
			out = append(out, ledger.BalanceRef{TenantID: m.TenantID, MemberID: m.ID, Cached: m.CreditBalance})
		}
	}
	slices.SortFunc(out, func(a, b ledger.BalanceRef) int { return cmp.Compare(a.MemberID, b.MemberID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *ledgerTx) List(_ context.Context, f ledger.Filter) ([]*ledger.Entry, error) {
	var out []*ledger.Entry
	for _, e := range t.s.st.entries {
		if e.TenantID != f.TenantID {
			continue
		}
		if f.MemberID != 0 && e.MemberID != f.MemberID {
			continue
		}
		if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && !e.CreatedAt.Before(*f.Until) {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *ledger.Entry) int { return entryCmp(b, a) })
	return page(out, f.Offset, f.Limit), nil
}

func entryCmp(a, b *ledger.Entry) int {
	return cmp.Compare(a.ID, b.ID)
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
