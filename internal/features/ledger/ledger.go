// Package ledger: ledger.go добавляет записи в журнал внутри транзакции вызывающего.
package ledger

import (
	"context"
	"fmt"
	"time"

	"serotonyl.ru/mystery-box/internal/common"
)

// Store: операции журнала, доступные внутри транзакции.
type Store interface {
	// LockBalance блокирует строку участника (FOR UPDATE) и возвращает кэш баланса.
	LockBalance(ctx context.Context, tenantID, memberID int64) (int64, error)
	// SetBalance пишет кэш баланса участника.
	SetBalance(ctx context.Context, tenantID, memberID, balance int64) error
	// InsertEntry добавляет запись и заполняет её ID.
	InsertEntry(ctx context.Context, e *Entry) error
}

// Append добавляет запись в журнал и обновляет кэш баланса.
// Вызывается только внутри транзакции: строка участника блокируется
// до конца транзакции, поэтому параллельные списания выстраиваются в очередь.
// Если баланс стал бы отрицательным: ErrInsufficientCredit, ничего не пишется.
func Append(ctx context.Context, st Store, req AppendRequest) (*Entry, error) {
	if !req.Kind.Valid() {
		return nil, common.ErrInvalidArgument.WithMessage(fmt.Sprintf("неизвестный тип операции %q", req.Kind))
	}
	if req.Delta == 0 {
		return nil, common.ErrInvalidArgument.WithMessage("сумма операции не может быть нулевой")
	}

	balance, err := st.LockBalance(ctx, req.TenantID, req.MemberID)
	if err != nil {
		return nil, err
	}

	clock := req.Clock
	if clock == nil {
		clock = time.Now
	}
	at := clock()

	next := balance + req.Delta
	if next < 0 {
		return nil, common.ErrInsufficientCredit.
			With("balance", balance).
			With("required", -req.Delta)
	}

	e := &Entry{
		TenantID:     req.TenantID,
		MemberID:     req.MemberID,
		Delta:        req.Delta,
		BalanceAfter: next,
		Kind:         req.Kind,
		Description:  common.SanitizeText(req.Description, MaxDescriptionLen),
		CreatedBy:    req.ActorID,
		CreatedAt:    at,
	}
	if err := st.InsertEntry(ctx, e); err != nil {
		return nil, err
	}
	if err := st.SetBalance(ctx, req.TenantID, req.MemberID, next); err != nil {
		return nil, err
	}
	return e, nil
}
