package testkit

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/boxes"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/ledger"
)

type boxesTx struct {
	s *Store
}

func (t *boxesTx) Ledger() ledger.Store    { return &ledgerTx{s: t.s} }
func (t *boxesTx) Catalog() catalog.Reader { return &catalogTx{s: t.s} }

func (t *boxesTx) MemberBalance(ctx context.Context, tenantID, memberID int64) (int64, error) {
	return (&ledgerTx{s: t.s}).Balance(ctx, tenantID, memberID)
}

func (t *boxesTx) InsertBox(_ context.Context, b *boxes.Box) error {
	c := *b
	t.s.st.boxes[b.ID] = &c
	return nil
}

func (t *boxesTx) LockBox(_ context.Context, tenantID int64, id uuid.UUID) (*boxes.Box, error) {
	b, ok := t.s.st.boxes[id]
	if !ok || b.TenantID != tenantID {
		return nil, common.ErrBoxNotFound.With("transaction_id", id.String())
	}
	c := *b
	return &c, nil
}

func (t *boxesTx) MarkOpened(_ context.Context, b *boxes.Box) error {
	cur, ok := t.s.st.boxes[b.ID]
	if !ok || cur.TenantID != b.TenantID || cur.Status != boxes.StatusPurchased {
		return common.ErrBoxAlreadyOpened
	}
	cur.Status = boxes.StatusOpened
	cur.RewardID = b.RewardID
	cur.OpenedAt = b.OpenedAt
	return nil
}

func (t *boxesTx) ExpireIfDue(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	if err, ok := t.s.failures[id]; ok {
		return false, err
	}
	b, ok := t.s.st.boxes[id]
	if !ok || b.Status != boxes.StatusPurchased || b.ExpiresAt.After(now) {
		return false, nil
	}
	b.Status = boxes.StatusExpired
	return true, nil
}

func (t *boxesTx) MarkProcessed(_ context.Context, b *boxes.Box) error {
	cur, ok := t.s.st.boxes[b.ID]
	if !ok || cur.TenantID != b.TenantID || cur.Status != boxes.StatusOpened || cur.Processed {
		return common.ErrAlreadyProcessed
	}
	cur.Processed = true
	cur.ProcessedAt = b.ProcessedAt
	cur.ProcessedBy = b.ProcessedBy
	return nil
}

func (t *boxesTx) ListDue(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var due []*boxes.Box
	for _, b := range t.s.st.boxes {
		if b.Status == boxes.StatusPurchased && !b.ExpiresAt.After(now) {
			due = append(due, b)
		}
	}
	slices.SortFunc(due, func(a, b *boxes.Box) int {
		return cmp.Or(a.ExpiresAt.Compare(b.ExpiresAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	due = page(due, 0, limit)
	out := make([]uuid.UUID, len(due))
	for i, b := range due {
		out[i] = b.ID
	}
	return out, nil
}

func (t *boxesTx) Inventory(_ context.Context, tenantID, memberID int64, now time.Time) ([]*boxes.Box, error) {
	return t.filter(func(b *boxes.Box) bool {
		return b.TenantID == tenantID && b.MemberID == memberID &&
			b.Status == boxes.StatusPurchased && b.ExpiresAt.After(now)
	}, 0, 0), nil
}

func (t *boxesTx) History(_ context.Context, f boxes.Filter) ([]*boxes.Box, error) {
	return t.filter(func(b *boxes.Box) bool {
		switch {
		case b.TenantID != f.TenantID:
			return false
		case f.MemberID != 0 && b.MemberID != f.MemberID:
			return false
		case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, b.Status):
			return false
		case f.CreditTier != 0 && b.CreditTier != f.CreditTier:
			return false
		case f.Processed != nil && b.Processed != *f.Processed:
			return false
		}
		return true
	}, f.Offset, f.Limit), nil
}

func (t *boxesTx) filter(match func(*boxes.Box) bool, offset, limit int) []*boxes.Box {
	var out []*boxes.Box
	for _, b := range t.s.st.boxes {
		if match(b) {
			c := *b
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *boxes.Box) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return page(out, offset, limit)
}
