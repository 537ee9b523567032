package testkit

import (
	"context"
	"time"

	"serotonyl.ru/mystery-box/internal/features/admin"
)

type sessionStore struct {
	s *Store
}

func (r *sessionStore) CreateSession(_ context.Context, sess *admin.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess.ID = r.s.st.id()
	c := *sess
	r.s.st.sessions = append(r.s.st.sessions, &c)
	return nil
}

func (r *sessionStore) ActiveSession(_ context.Context, memberID int64, now time.Time) (*admin.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out *admin.Session
	for _, sess := range r.s.st.sessions {
		if sess.MemberID != memberID || !sess.IsActive || !sess.ExpiresAt.After(now) {
			continue
		}
		if out == nil || sess.AuthenticatedAt.After(out.AuthenticatedAt) {
			c := *sess
			out = &c
		}
	}
	return out, nil
}

func (r *sessionStore) DeactivateSessions(_ context.Context, memberID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sess := range r.s.st.sessions {
		if sess.MemberID == memberID {
			sess.IsActive = false
		}
	}
	return nil
}

func (r *sessionStore) TouchSession(_ context.Context, memberID int64, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sess := range r.s.st.sessions {
		if sess.MemberID == memberID && sess.IsActive {
			sess.LastActivity = now
		}
	}
	return nil
}

func (r *sessionStore) LogAttempt(_ context.Context, memberID int64, success bool, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.attempts = append(r.s.st.attempts, &admin.LoginAttempt{
		ID: r.s.st.id(), MemberID: memberID, AttemptTime: at, Success: success,
	})
	return nil
}

func (r *sessionStore) FailedAttempts(_ context.Context, memberID int64, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, a := range r.s.st.attempts {
		if a.MemberID == memberID && !a.Success && !a.AttemptTime.Before(since) {
			n++
		}
	}
	return n, nil
}

// LoginAttempts возвращает число записанных попыток входа.
func (s *Store) LoginAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.attempts)
}
