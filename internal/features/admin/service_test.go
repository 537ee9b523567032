package admin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/admin"
	"serotonyl.ru/mystery-box/internal/features/members"
	"serotonyl.ru/mystery-box/internal/testkit"
)

func newAuth(t *testing.T, password string) (*admin.Service, *testkit.Store, *time.Time) {
	t.Helper()
	hash, err := admin.HashForTest(password)
	if err != nil {
		t.Fatalf("HashForTest: %v", err)
	}
	store := testkit.NewStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := admin.NewService(store.Sessions(), hash, time.Hour).WithClock(func() time.Time { return now })
	return svc, store, &now
}

func TestLoginAndAuthorize(t *testing.T) {
	svc, _, now := newAuth(t, "s3cret")
	ctx := context.Background()
	adm := &members.Member{ID: 1, TenantID: 1, Role: members.RoleAdmin}

	if err := svc.Authorize(ctx, adm); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("до входа: err = %v, want Unauthorized", err)
	}

	s, err := svc.Login(ctx, adm, "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !s.IsActive || s.SessionToken == "" || !s.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("session = %+v", s)
	}
	if err := svc.Authorize(ctx, adm); err != nil {
		t.Errorf("после входа: %v", err)
	}

	*now = now.Add(2 * time.Hour)
	if err := svc.Authorize(ctx, adm); !errors.Is(err, common.ErrUnauthorized) {
		t.Errorf("после истечения сессии: err = %v", err)
	}
}

func TestLogout(t *testing.T) {
	svc, _, _ := newAuth(t, "s3cret")
	ctx := context.Background()
	cs := &members.Member{ID: 2, TenantID: 1, Role: members.RoleCS}

	if _, err := svc.Login(ctx, cs, "s3cret"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Logout(ctx, cs); err != nil {
		t.Fatal(err)
	}
	if err := svc.Authorize(ctx, cs); !errors.Is(err, common.ErrUnauthorized) {
		t.Errorf("после выхода: err = %v", err)
	}
}

func TestLoginRejectsMembers(t *testing.T) {
	svc, store, _ := newAuth(t, "s3cret")
	m := &members.Member{ID: 3, TenantID: 1, Role: members.RoleMember}

	if _, err := svc.Login(context.Background(), m, "s3cret"); !errors.Is(err, common.ErrForbidden) {
		t.Fatalf("err = %v, want Forbidden", err)
	}
	if store.LoginAttempts() != 0 {
		t.Errorf("попытка участника не должна записываться: %d", store.LoginAttempts())
	}
}

func TestLoginThrottle(t *testing.T) {
	svc, store, now := newAuth(t, "s3cret")
	ctx := context.Background()
	adm := &members.Member{ID: 1, TenantID: 1, Role: members.RoleAdmin}

	for i := range admin.MaxFailedAttempts {
		if _, err := svc.Login(ctx, adm, "wrong"); !errors.Is(err, common.ErrWrongPassword) {
			t.Fatalf("попытка %d: err = %v, want WrongPassword", i+1, err)
		}
	}

	// Даже верный пароль не принимается, пока не пройдёт окно
	if _, err := svc.Login(ctx, adm, "s3cret"); !errors.Is(err, common.ErrTooManyAttempts) {
		t.Fatalf("err = %v, want TooManyAttempts", err)
	}
	if got := store.LoginAttempts(); got != admin.MaxFailedAttempts {
		t.Errorf("записано попыток = %d, want %d", got, admin.MaxFailedAttempts)
	}

	*now = now.Add(admin.AttemptWindow + time.Minute)
	if _, err := svc.Login(ctx, adm, "s3cret"); err != nil {
		t.Errorf("после окна: %v", err)
	}
}

func TestLoginDisabledWithoutHash(t *testing.T) {
	svc := admin.NewService(testkit.NewStore().Sessions(), "", time.Hour)
	adm := &members.Member{ID: 1, TenantID: 1, Role: members.RoleAdmin}
	if _, err := svc.Login(context.Background(), adm, "anything"); !errors.Is(err, common.ErrForbidden) {
		t.Errorf("err = %v, want Forbidden", err)
	}
}
